// Package metrics exposes bus.Router state as Prometheus collectors,
// served over /metrics by cmd/busdemo. Ambient observability; not part
// of the Bus/Recorder library surface itself.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adred-codev/busline/bus"
)

// Collector periodically scrapes a Router's channel/subscription
// counters into Prometheus gauges and vectors, mirroring the teacher's
// metrics.go registration style.
type Collector struct {
	router *bus.Router

	channelPublished   *prometheus.GaugeVec
	subEnqueued        *prometheus.GaugeVec
	subDequeued        *prometheus.GaugeVec
	subDropped         *prometheus.GaugeVec
	subTimedOut        *prometheus.GaugeVec
	subConflated       *prometheus.GaugeVec
	subLatencyP        *prometheus.GaugeVec
	channelCount       prometheus.Gauge

	stop chan struct{}
}

// NewCollector registers all collectors against reg (use
// prometheus.DefaultRegisterer for the global registry).
func NewCollector(router *bus.Router, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		router: router,
		channelPublished: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_channel_published_total",
			Help: "Messages published on a channel.",
		}, []string{"channel"}),
		subEnqueued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_enqueued_total",
			Help: "Messages enqueued to a subscription.",
		}, []string{"channel", "subscription"}),
		subDequeued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_dequeued_total",
			Help: "Messages dequeued by a subscription's consumer loop.",
		}, []string{"channel", "subscription"}),
		subDropped: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_dropped_total",
			Help: "Messages dropped by a subscription's overflow policy.",
		}, []string{"channel", "subscription"}),
		subTimedOut: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_timed_out_total",
			Help: "Handler invocations that exceeded handler_timeout.",
		}, []string{"channel", "subscription"}),
		subConflated: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_conflated_total",
			Help: "Messages folded into the conflation buffer.",
		}, []string{"channel", "subscription"}),
		subLatencyP: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "busline_subscription_latency_p_nanoseconds",
			Help: "Publish-to-dequeue latency at the configured percentile.",
		}, []string{"channel", "subscription"}),
		channelCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "busline_channel_count",
			Help: "Number of non-system channels currently registered.",
		}),
		stop: make(chan struct{}),
	}
}

// Run scrapes router state into the registered collectors every
// interval until Stop is called.
func (c *Collector) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.scrape()
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) scrape() {
	infos := c.router.Channels()
	c.channelCount.Set(float64(len(infos)))
	for _, info := range infos {
		c.channelPublished.WithLabelValues(info.Name).Set(float64(info.Published))
		subs := c.router.ChannelSubscriptions(info.Name)
		for _, s := range subs {
			snap := s.Statistics()
			labels := []string{info.Name, s.Name()}
			c.subEnqueued.WithLabelValues(labels...).Set(float64(snap.Enqueued))
			c.subDequeued.WithLabelValues(labels...).Set(float64(snap.Dequeued))
			c.subDropped.WithLabelValues(labels...).Set(float64(snap.Dropped))
			c.subTimedOut.WithLabelValues(labels...).Set(float64(snap.TimedOut))
			c.subConflated.WithLabelValues(labels...).Set(float64(snap.Conflated))
			c.subLatencyP.WithLabelValues(labels...).Set(float64(snap.LatencyPercentile))
		}
	}
}

// Stop terminates the scrape loop.
func (c *Collector) Stop() { close(c.stop) }

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler { return promhttp.Handler() }
