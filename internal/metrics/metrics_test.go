package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.GenerationStarted("photo")
	m.GenerationStarted("photo")
	m.UnitResolved("video", "failed")
	m.LedgerRejected("reserve")
	m.Purged("sweeper", 3)
	m.Purged("sweeper", 0)

	if got := testutil.ToFloat64(m.GenerationsStarted.WithLabelValues("photo")); got != 2 {
		t.Errorf("generations_started{photo} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.GenerationUnits.WithLabelValues("video", "failed")); got != 1 {
		t.Errorf("generation_units{video,failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LedgerRejections.WithLabelValues("reserve")); got != 1 {
		t.Errorf("ledger_rejections{reserve} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrashPurged.WithLabelValues("sweeper")); got != 3 {
		t.Errorf("trash_purged{sweeper} = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.GenerationStarted("photo")
	m.UnitResolved("photo", "succeeded")
	m.LedgerRejected("debit")
	m.Purged("user", 1)
}
