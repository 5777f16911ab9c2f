package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reconciliation result labels.
const (
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// ReconciliationMetrics counts payment outcomes applied to the purchase ledger.
type ReconciliationMetrics struct {
	outcomes *prometheus.CounterVec
	swept    *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_outcomes_total",
		Help: "Purchase outcomes processed by the reconciliation engine.",
	}, []string{"source", "target", "result"})
	swept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_rows_total",
		Help: "Rows expired or deleted by background sweeps.",
	}, []string{"operation"})
	reg.MustRegister(outcomes, swept)
	return &ReconciliationMetrics{outcomes: outcomes, swept: swept}
}

// IncOutcome records one (purchase, target) pair handled from source.
func (m *ReconciliationMetrics) IncOutcome(source, target, result string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(source), normalizeLabel(target), normalizeLabel(result)).Inc()
}

// AddSwept adds n rows removed or expired by a sweep operation.
func (m *ReconciliationMetrics) AddSwept(operation string, n int64) {
	if m == nil || m.swept == nil || n <= 0 {
		return
	}
	m.swept.WithLabelValues(normalizeLabel(operation)).Add(float64(n))
}
