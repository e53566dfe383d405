package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics records gateway callbacks received by the relay and the
// outbox publisher's throughput.
type RelayMetrics struct {
	callbacks     *prometheus.CounterVec
	published     *prometheus.CounterVec
	publishFailed *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

// NewRelayMetrics registers the relay metrics on the provided registerer.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Gateway callbacks received, by outcome and hash verification.",
		}, []string{"outcome", "verified"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events published, by event type.",
		}, []string{"event_type"}),
		publishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox publish failures, by event type.",
		}, []string{"event_type"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Duration of one outbox publish batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.callbacks, m.published, m.publishFailed, m.batchDuration)
	return m
}

// IncCallback counts a gateway callback.
func (m *RelayMetrics) IncCallback(outcome string, verified bool) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(outcome), strconv.FormatBool(verified)).Inc()
}

// IncPublished counts a published outbox event.
func (m *RelayMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncPublishFailure counts a failed publish attempt.
func (m *RelayMetrics) IncPublishFailure(eventType string) {
	if m == nil || m.publishFailed == nil {
		return
	}
	m.publishFailed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// ObserveBatch records the duration of one outbox batch.
func (m *RelayMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}
