package bus

import "github.com/rs/zerolog"

// RouterOptions configures a Router at construction time. The three
// *Enabled fields only seed the Router's initial state: each has a
// corresponding SetXEnabled method on *Router for flipping it at
// runtime (§4.1 "Observability toggles").
type RouterOptions struct {
	Logger                   zerolog.Logger
	SystemPrefix             string // default "$"
	MessageTracingEnabled    bool
	PublishLoggingEnabled    bool
	LifecycleTrackingEnabled bool
	Stats                    StatsOptions
}

func (o RouterOptions) withDefaults() RouterOptions {
	if o.SystemPrefix == "" {
		o.SystemPrefix = SystemPrefix
	}
	if o.Stats.EWMAWindow == 0 {
		o.Stats = DefaultStatsOptions()
	}
	return o
}

// publishParams collects the optional publish(...) arguments from §6.
type publishParams struct {
	key           string
	hasKey        bool
	store         bool
	correlationID int64
	from          string
	tagA          int64
	msgType       MsgType
}

// PublishOption configures one Publish call.
type PublishOption func(*publishParams)

func WithKey(key string) PublishOption {
	return func(p *publishParams) { p.key = key; p.hasKey = true }
}

func WithStore(store bool) PublishOption {
	return func(p *publishParams) { p.store = store }
}

func WithCorrelationID(id int64) PublishOption {
	return func(p *publishParams) { p.correlationID = id }
}

func WithFrom(from string) PublishOption {
	return func(p *publishParams) { p.from = from }
}

func WithTagA(tag int64) PublishOption {
	return func(p *publishParams) { p.tagA = tag }
}

func withMsgType(t MsgType) PublishOption {
	return func(p *publishParams) { p.msgType = t }
}
