package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the studio counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	GenerationsStarted *prometheus.CounterVec
	GenerationUnits    *prometheus.CounterVec
	LedgerRejections   *prometheus.CounterVec
	TrashPurged        *prometheus.CounterVec
}

// New registers the counters on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GenerationsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "generations_started_total",
			Help:      "Generations accepted after a successful credit reserve.",
		}, []string{"kind"}),
		GenerationUnits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "generation_units_total",
			Help:      "Resolved output units by outcome.",
		}, []string{"kind", "outcome"}),
		LedgerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "ledger_rejections_total",
			Help:      "Reserves and debits rejected for insufficient funds.",
		}, []string{"operation"}),
		TrashPurged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Name:      "trash_purged_total",
			Help:      "Generations and images permanently deleted.",
		}, []string{"source"}),
	}
}

func (m *Metrics) GenerationStarted(kind string) {
	if m == nil {
		return
	}
	m.GenerationsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) UnitResolved(kind, outcome string) {
	if m == nil {
		return
	}
	m.GenerationUnits.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) LedgerRejected(operation string) {
	if m == nil {
		return
	}
	m.LedgerRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) Purged(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TrashPurged.WithLabelValues(source).Add(float64(n))
}
