package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BotMetrics exposes the Prometheus collectors for upvotebot instrumentation.
type BotMetrics struct {
	eventsSeen    prometheus.Counter
	eventsSkipped *prometheus.CounterVec
	awards        *prometheus.CounterVec
	inventory     prometheus.Gauge
	lastBlock     prometheus.Gauge
	dispatch      prometheus.Histogram
}

var (
	botMetricsOnce sync.Once
	botRegistry    *BotMetrics
)

// Bot returns the lazily-initialised metrics registry shared across the
// watcher, engine, and heartbeat loop.
func Bot() *BotMetrics {
	botMetricsOnce.Do(func() {
		botRegistry = &BotMetrics{
			eventsSeen: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "upvotebot",
				Name:      "events_seen_total",
				Help:      "Total upvote events delivered by the subscription.",
			}),
			eventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "upvotebot",
				Name:      "events_skipped_total",
				Help:      "Events dropped before dispatch, segmented by reason.",
			}, []string{"reason"}),
			awards: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "upvotebot",
				Name:      "awards_total",
				Help:      "Award attempts segmented by outcome.",
			}, []string{"outcome"}),
			inventory: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "upvotebot",
				Name:      "inventory",
				Help:      "Queued NFT count from the last dispenser snapshot.",
			}),
			lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "upvotebot",
				Name:      "last_processed_block",
				Help:      "Height of the most recently processed event.",
			}),
			dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "upvotebot",
				Name:      "dispatch_seconds",
				Help:      "Latency of award transaction submission.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			botRegistry.eventsSeen,
			botRegistry.eventsSkipped,
			botRegistry.awards,
			botRegistry.inventory,
			botRegistry.lastBlock,
			botRegistry.dispatch,
		)
	})
	return botRegistry
}

// RecordEventSeen counts a delivered subscription event.
func (m *BotMetrics) RecordEventSeen() {
	if m == nil {
		return
	}
	m.eventsSeen.Inc()
}

// RecordSkip counts a dropped event. Reason is one of duplicate, asset, amount.
func (m *BotMetrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.eventsSkipped.WithLabelValues(reason).Inc()
}

// RecordAward counts an award attempt. Outcome is one of awarded, failed, depleted.
func (m *BotMetrics) RecordAward(outcome string) {
	if m == nil {
		return
	}
	m.awards.WithLabelValues(outcome).Inc()
}

// RecordInventory publishes the queued NFT count from a snapshot refresh.
func (m *BotMetrics) RecordInventory(count int) {
	if m == nil {
		return
	}
	m.inventory.Set(float64(count))
}

// RecordLastBlock publishes the height of the latest processed event.
func (m *BotMetrics) RecordLastBlock(height uint64) {
	if m == nil {
		return
	}
	m.lastBlock.Set(float64(height))
}

// ObserveDispatch records the wall time spent submitting an award transaction.
func (m *BotMetrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatch.Observe(d.Seconds())
}
