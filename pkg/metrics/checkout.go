package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records request latency, upstream gateway latency, and the
// payment outcomes worth alerting on.
type CheckoutMetrics struct {
	requestDuration  *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	captures         *prometheus.CounterVec
	softDeclines     *prometheus.CounterVec
	failures         *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of handled HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
	upstreamDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paypal_request_duration_seconds",
		Help:    "Duration of upstream gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_captures_total",
		Help: "Completed payment captures by funding source.",
	}, []string{"funding_source"})
	softDeclines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_soft_declines_total",
		Help: "Soft-declined payment attempts by funding source.",
	}, []string{"funding_source"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Hard checkout failures by error code.",
	}, []string{"code"})
	reg.MustRegister(requestDuration, upstreamDuration, captures, softDeclines, failures)
	return &CheckoutMetrics{
		requestDuration:  requestDuration,
		upstreamDuration: upstreamDuration,
		captures:         captures,
		softDeclines:     softDeclines,
		failures:         failures,
	}
}

// ObserveRequest records one handled HTTP request.
func (m *CheckoutMetrics) ObserveRequest(route, method, status string, duration time.Duration) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.WithLabelValues(normalizeLabel(route), normalizeLabel(method), normalizeLabel(status)).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream gateway call.
func (m *CheckoutMetrics) ObserveUpstream(operation string, duration time.Duration) {
	if m == nil || m.upstreamDuration == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncCapture increments the completed-capture counter.
func (m *CheckoutMetrics) IncCapture(fundingSource string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(fundingSource)).Inc()
}

// IncSoftDecline increments the soft-decline counter.
func (m *CheckoutMetrics) IncSoftDecline(fundingSource string) {
	if m == nil || m.softDeclines == nil {
		return
	}
	m.softDeclines.WithLabelValues(normalizeLabel(fundingSource)).Inc()
}

// IncFailure increments the hard-failure counter for the given error code.
func (m *CheckoutMetrics) IncFailure(code string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(code)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
