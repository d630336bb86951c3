package bus

import (
	"encoding/json"
	"io"
)

// MetricsOptions controls Router.MetricsJSON's output.
type MetricsOptions struct {
	UseMnemonics bool
	ResetStats   bool
}

type subscriptionMetrics struct {
	Channel string                     `json:"channel"`
	ID      int64                      `json:"id"`
	Name    string                     `json:"name"`
	Stats   SubscriptionStatsSnapshot  `json:"stats"`
}

type channelMetrics struct {
	Name  string               `json:"name"`
	Stats ChannelStatsSnapshot `json:"stats"`
}

type metricsEnvelope struct {
	Channels      []channelMetrics      `json:"channels"`
	Subscriptions []subscriptionMetrics `json:"subscriptions"`
}

// channelMnemonic and subscriptionMnemonic are the compact-field-name
// counterparts of channelMetrics/subscriptionMetrics, selected when
// MetricsOptions.UseMnemonics is set (§6: "full or mnemonic field names").
type channelMnemonic struct {
	Nm  string  `json:"nm"`
	Pub int64   `json:"pub"`
	Rt  float64 `json:"rt"`
	LBy string  `json:"lby"`
	LAt int64   `json:"lat"`
}

type subscriptionMnemonic struct {
	Ch  string  `json:"ch"`
	ID  int64   `json:"id"`
	Nm  string  `json:"nm"`
	Enq int64   `json:"enq"`
	Deq int64   `json:"deq"`
	Prc int64   `json:"prc"`
	Drp int64   `json:"drp"`
	TO  int64   `json:"to"`
	Cnf int64   `json:"cnf"`
	Rt  float64 `json:"rt"`
	LM  int64   `json:"lm"`
	LP  int64   `json:"lp"`
	SM  int64   `json:"sm"`
	SP  int64   `json:"sp"`
}

type metricsMnemonicEnvelope struct {
	Ch []channelMnemonic      `json:"ch"`
	Su []subscriptionMnemonic `json:"su"`
}

func toChannelMnemonic(name string, s ChannelStatsSnapshot) channelMnemonic {
	return channelMnemonic{Nm: name, Pub: s.Published, Rt: s.PublishRate, LBy: s.LastPublishBy, LAt: s.LastPublishAt}
}

func toSubscriptionMnemonic(channel string, id int64, name string, s SubscriptionStatsSnapshot) subscriptionMnemonic {
	return subscriptionMnemonic{
		Ch: channel, ID: id, Nm: name,
		Enq: s.Enqueued, Deq: s.Dequeued, Prc: s.Processed, Drp: s.Dropped, TO: s.TimedOut, Cnf: s.Conflated,
		Rt: s.DeliverRate,
		LM: int64(s.LatencyMean), LP: int64(s.LatencyPercentile),
		SM: int64(s.ServiceMean), SP: int64(s.ServicePercentile),
	}
}

// MetricsJSON writes an envelope {channels:[...], subscriptions:[...]}
// (or, with UseMnemonics, {ch:[...], su:[...]} using compact field
// names) describing every channel and subscription's counters and
// rates. ResetStats zeroes interval counters atomically after export.
func (r *Router) MetricsJSON(w io.Writer, opts MetricsOptions) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.channels))
	chans := make([]*channel, 0, len(r.channels))
	for name, c := range r.channels {
		names = append(names, name)
		chans = append(chans, c)
	}
	r.mu.RUnlock()

	var env metricsEnvelope
	var mnem metricsMnemonicEnvelope
	for i, c := range chans {
		chStats := c.stats.Snapshot()
		if opts.UseMnemonics {
			mnem.Ch = append(mnem.Ch, toChannelMnemonic(names[i], chStats))
		} else {
			env.Channels = append(env.Channels, channelMetrics{Name: names[i], Stats: chStats})
		}
		for _, s := range c.snapshot() {
			subStats := s.stats.Snapshot()
			if opts.UseMnemonics {
				mnem.Su = append(mnem.Su, toSubscriptionMnemonic(names[i], s.id, s.name, subStats))
			} else {
				env.Subscriptions = append(env.Subscriptions, subscriptionMetrics{
					Channel: names[i], ID: s.id, Name: s.name, Stats: subStats,
				})
			}
		}
	}
	if opts.ResetStats {
		for _, c := range chans {
			c.stats.ResetCounters()
			for _, s := range c.snapshot() {
				s.stats.ResetCounters()
			}
		}
	}

	enc := json.NewEncoder(w)
	if opts.UseMnemonics {
		return enc.Encode(mnem)
	}
	return enc.Encode(env)
}
