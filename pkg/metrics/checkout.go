package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records the checkout funnel, coupon rejections and order tracking.
type CheckoutMetrics struct {
	attempts       *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	couponRejects  *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	reconciliation prometheus.Counter
	gatewayWait    prometheus.Histogram
	subscriptions  prometheus.Gauge
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	m := &CheckoutMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_attempts_total",
			Help: "Checkout attempts by final result.",
		}, []string{"result"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_stage_failures_total",
			Help: "Checkout attempts that failed, by the stage they reached.",
		}, []string{"stage"}),
		couponRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coupon_rejections_total",
			Help: "Coupon validations rejected, by reason.",
		}, []string{"reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Interpreted gateway navigation events.",
		}, []string{"outcome"}),
		reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_required_total",
			Help: "Payments that succeeded without a recorded order.",
		}),
		gatewayWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_wait_seconds",
			Help:    "Time spent waiting on the payment surface.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900},
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "order_subscriptions_active",
			Help: "Open live order status subscriptions.",
		}),
	}
	reg.MustRegister(
		m.attempts,
		m.stageFailures,
		m.couponRejects,
		m.outcomes,
		m.reconciliation,
		m.gatewayWait,
		m.subscriptions,
	)
	return m
}

// IncAttempt counts a finished checkout attempt.
func (m *CheckoutMetrics) IncAttempt(result string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncStageFailure counts an attempt that failed at stage.
func (m *CheckoutMetrics) IncStageFailure(stage string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncCouponRejection counts a rejected coupon by reason.
func (m *CheckoutMetrics) IncCouponRejection(reason string) {
	if m == nil || m.couponRejects == nil {
		return
	}
	m.couponRejects.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncOutcome counts an interpreted navigation event.
func (m *CheckoutMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncReconciliation counts a charged-but-unrecorded checkout.
func (m *CheckoutMetrics) IncReconciliation() {
	if m == nil || m.reconciliation == nil {
		return
	}
	m.reconciliation.Inc()
}

// ObserveGatewayWait records how long the payment surface was open.
func (m *CheckoutMetrics) ObserveGatewayWait(d time.Duration) {
	if m == nil || m.gatewayWait == nil {
		return
	}
	m.gatewayWait.Observe(d.Seconds())
}

// SubscriptionOpened and SubscriptionClosed track live order listeners.
func (m *CheckoutMetrics) SubscriptionOpened() {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *CheckoutMetrics) SubscriptionClosed() {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Dec()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
