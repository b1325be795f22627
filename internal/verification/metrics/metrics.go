package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the verification subsystem.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FingerprintsComputed prometheus.Counter
	FingerprintsSkipped  prometheus.Counter
	AnchorSubmissions    *prometheus.CounterVec
	Confirmations        *prometheus.CounterVec
	LedgerFailures       *prometheus.CounterVec
	AnchorCallDuration   *prometheus.HistogramVec
	AnchorCircuitState   prometheus.Gauge
	ConfirmCacheLookups  *prometheus.CounterVec
}

// New registers the verification metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FingerprintsComputed: f.NewCounter(prometheus.CounterOpts{
			Name: "aidtrace_fingerprints_computed_total",
			Help: "Total number of record fingerprints computed",
		}),
		FingerprintsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "aidtrace_fingerprints_skipped_total",
			Help: "Total number of writes skipped because the record had no identifiable projection",
		}),
		AnchorSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidtrace_anchor_submissions_total",
			Help: "Total number of anchor submissions by resulting mode",
		}, []string{"mode"}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidtrace_anchor_confirmations_total",
			Help: "Total number of confirmation checks by result",
		}, []string{"result"}),
		LedgerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidtrace_ledger_failures_total",
			Help: "Total number of verification ledger operation failures",
		}, []string{"operation"}),
		AnchorCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aidtrace_anchor_call_duration_seconds",
			Help:    "Latency of live anchor calls",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		AnchorCircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "aidtrace_anchor_circuit_state",
			Help: "Current anchor circuit breaker state (0=closed, 1=open)",
		}),
		ConfirmCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aidtrace_confirmation_cache_lookups_total",
			Help: "Confirmation cache lookups by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncFingerprintComputed() {
	if m == nil {
		return
	}
	m.FingerprintsComputed.Inc()
}

func (m *Metrics) IncFingerprintSkipped() {
	if m == nil {
		return
	}
	m.FingerprintsSkipped.Inc()
}

// IncSubmission counts a submission by mode ("live" or "simulated").
func (m *Metrics) IncSubmission(mode string) {
	if m == nil {
		return
	}
	m.AnchorSubmissions.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncConfirmation(confirmed bool) {
	if m == nil {
		return
	}
	result := "unconfirmed"
	if confirmed {
		result = "confirmed"
	}
	m.Confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncLedgerFailure(operation string) {
	if m == nil {
		return
	}
	m.LedgerFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveAnchorCall(method string, seconds float64) {
	if m == nil {
		return
	}
	m.AnchorCallDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.AnchorCircuitState.Set(1)
		return
	}
	m.AnchorCircuitState.Set(0)
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ConfirmCacheLookups.WithLabelValues(outcome).Inc()
}
