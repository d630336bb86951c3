package bus

import (
	"sync"
	"sync/atomic"
	"time"

	hdr "github.com/HdrHistogram/hdrhistogram-go"
)

// StatsOptions configures the reported latency percentile and the EWMA
// window. Defaults match §9: percentile 0.99, EWMA window 100 samples.
type StatsOptions struct {
	Percentile float64
	EWMAWindow int
}

func DefaultStatsOptions() StatsOptions {
	return StatsOptions{Percentile: 0.99, EWMAWindow: 100}
}

// ewma is a simple exponentially weighted moving average over a
// window-derived decay factor, matching the teacher's counter/rate
// shape in metrics.go but computed locally rather than via Prometheus.
type ewma struct {
	mu     sync.Mutex
	alpha  float64
	value  float64
	inited bool
}

func newEWMA(window int) *ewma {
	if window <= 0 {
		window = 100
	}
	return &ewma{alpha: 2.0 / float64(window+1)}
}

func (e *ewma) update(x float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inited {
		e.value = x
		e.inited = true
		return
	}
	e.value = e.alpha*x + (1-e.alpha)*e.value
}

func (e *ewma) rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// latencyTracker wraps an HdrHistogram for the latency/service-time
// mean and percentile of §4.10. The histogram covers every sample since
// creation or the last reset; it is not a moving window and older
// samples are not decayed.
type latencyTracker struct {
	mu         sync.Mutex
	hist       *hdr.Histogram
	percentile float64
}

func newLatencyTracker(percentile float64) *latencyTracker {
	if percentile <= 0 || percentile >= 100 {
		percentile = 99
	} else if percentile < 1 {
		percentile *= 100
	}
	return &latencyTracker{
		hist:       hdr.New(1, 10*int64(time.Minute), 3),
		percentile: percentile,
	}
}

func (l *latencyTracker) record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.hist.RecordValue(int64(d))
}

func (l *latencyTracker) mean() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.hist.Mean())
}

func (l *latencyTracker) percentileValue() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.hist.ValueAtQuantile(l.percentile))
}

func (l *latencyTracker) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hist.Reset()
}

// ChannelStats tracks per-channel totals and publish rate.
type ChannelStats struct {
	Published     int64
	publishRate   *ewma
	lastPublishBy atomic.Value // string
	lastPublishAt atomic.Int64
}

func newChannelStats(opts StatsOptions) *ChannelStats {
	return &ChannelStats{publishRate: newEWMA(opts.EWMAWindow)}
}

func (c *ChannelStats) recordPublish(by string, at int64) {
	atomic.AddInt64(&c.Published, 1)
	c.publishRate.update(1)
	c.lastPublishBy.Store(by)
	c.lastPublishAt.Store(at)
}

func (c *ChannelStats) LastPublishedBy() string {
	if v, ok := c.lastPublishBy.Load().(string); ok {
		return v
	}
	return ""
}

func (c *ChannelStats) LastPublishedAt() int64 { return c.lastPublishAt.Load() }
func (c *ChannelStats) PublishRate() float64   { return c.publishRate.rate() }

// SubscriptionStats tracks per-subscription counters, rates, and latency
// / service-time percentiles, per §4.10.
type SubscriptionStats struct {
	Enqueued  int64
	Dequeued  int64
	Processed int64
	Dropped   int64
	TimedOut  int64
	Conflated int64

	deliverRate *ewma
	latency     *latencyTracker // publish -> dequeue
	serviceTime *latencyTracker // handler start -> end
}

func newSubscriptionStats(opts StatsOptions) *SubscriptionStats {
	return &SubscriptionStats{
		deliverRate: newEWMA(opts.EWMAWindow),
		latency:     newLatencyTracker(opts.Percentile),
		serviceTime: newLatencyTracker(opts.Percentile),
	}
}

func (s *SubscriptionStats) onEnqueue()  { atomic.AddInt64(&s.Enqueued, 1) }
func (s *SubscriptionStats) onDrop()     { atomic.AddInt64(&s.Dropped, 1) }
func (s *SubscriptionStats) onConflate() { atomic.AddInt64(&s.Conflated, 1) }
func (s *SubscriptionStats) onTimeout()  { atomic.AddInt64(&s.TimedOut, 1) }

func (s *SubscriptionStats) onDequeue(latency time.Duration) {
	atomic.AddInt64(&s.Dequeued, 1)
	s.deliverRate.update(1)
	s.latency.record(latency)
}

func (s *SubscriptionStats) onProcessed(serviceTime time.Duration) {
	atomic.AddInt64(&s.Processed, 1)
	s.serviceTime.record(serviceTime)
}

// Snapshot is the JSON-serialisable view of SubscriptionStats used by
// Router.MetricsJSON.
type SubscriptionStatsSnapshot struct {
	Enqueued           int64         `json:"enqueued"`
	Dequeued           int64         `json:"dequeued"`
	Processed          int64         `json:"processed"`
	Dropped            int64         `json:"dropped"`
	TimedOut           int64         `json:"timed_out"`
	Conflated          int64         `json:"conflated"`
	DeliverRate        float64       `json:"deliver_rate"`
	LatencyMean        time.Duration `json:"latency_mean_ns"`
	LatencyPercentile  time.Duration `json:"latency_p_ns"`
	ServiceMean        time.Duration `json:"service_mean_ns"`
	ServicePercentile  time.Duration `json:"service_p_ns"`
}

func (s *SubscriptionStats) Snapshot() SubscriptionStatsSnapshot {
	return SubscriptionStatsSnapshot{
		Enqueued:          atomic.LoadInt64(&s.Enqueued),
		Dequeued:          atomic.LoadInt64(&s.Dequeued),
		Processed:         atomic.LoadInt64(&s.Processed),
		Dropped:           atomic.LoadInt64(&s.Dropped),
		TimedOut:          atomic.LoadInt64(&s.TimedOut),
		Conflated:         atomic.LoadInt64(&s.Conflated),
		DeliverRate:       s.deliverRate.rate(),
		LatencyMean:       s.latency.mean(),
		LatencyPercentile: s.latency.percentileValue(),
		ServiceMean:       s.serviceTime.mean(),
		ServicePercentile: s.serviceTime.percentileValue(),
	}
}

// ResetCounters zeroes interval counters atomically, per the
// reset_stats flag in §4.10's JSON export.
func (s *SubscriptionStats) ResetCounters() {
	atomic.StoreInt64(&s.Enqueued, 0)
	atomic.StoreInt64(&s.Dequeued, 0)
	atomic.StoreInt64(&s.Processed, 0)
	atomic.StoreInt64(&s.Dropped, 0)
	atomic.StoreInt64(&s.TimedOut, 0)
	atomic.StoreInt64(&s.Conflated, 0)
	s.latency.reset()
	s.serviceTime.reset()
}

type ChannelStatsSnapshot struct {
	Published     int64   `json:"published"`
	PublishRate   float64 `json:"publish_rate"`
	LastPublishBy string  `json:"last_published_by"`
	LastPublishAt int64   `json:"last_published_at"`
}

func (c *ChannelStats) Snapshot() ChannelStatsSnapshot {
	return ChannelStatsSnapshot{
		Published:     atomic.LoadInt64(&c.Published),
		PublishRate:   c.publishRate.rate(),
		LastPublishBy: c.LastPublishedBy(),
		LastPublishAt: c.LastPublishedAt(),
	}
}

func (c *ChannelStats) ResetCounters() {
	atomic.StoreInt64(&c.Published, 0)
}
