package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking wizard.
type BookingMetrics struct {
	transitionsTotal      *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	duplicateSubmitsTotal prometheus.Counter
	gatewayLatency        *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total wizard transition attempts",
		}, []string{"operation", "outcome"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "submissions_total",
			Help:      "Total reservation submission attempts",
		}, []string{"outcome"}),
		duplicateSubmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "duplicate_submits_total",
			Help:      "Submit calls ignored because one was already in flight",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "catalog",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of remote catalog calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.submissionsTotal, m.duplicateSubmitsTotal, m.gatewayLatency)
	return m
}

func (m *BookingMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveDuplicateSubmit() {
	if m == nil {
		return
	}
	m.duplicateSubmitsTotal.Inc()
}

func (m *BookingMetrics) ObserveGatewayLatency(endpoint string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(endpoint).Observe(seconds)
}
