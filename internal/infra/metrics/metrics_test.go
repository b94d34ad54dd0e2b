package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/usecase"
)

func TestHooks(t *testing.T) {
	t.Run("should count transitions by entered status", func(t *testing.T) {
		before := counterValue(t, imageTransitions.WithLabelValues("done"))
		TransitionListener("b", model.ImageRecord{Status: model.ImageStatusProcessing}, model.ImageRecord{Status: model.ImageStatusDone})
		if got := counterValue(t, imageTransitions.WithLabelValues("done")); got != before+1 {
			t.Errorf("expected %v, got %v", before+1, got)
		}
	})

	t.Run("should add ledger amounts per op", func(t *testing.T) {
		before := counterValue(t, creditsTotal.WithLabelValues("reserve"))
		LedgerHook(usecase.LedgerEntry{Op: usecase.LedgerOpReserve, Amount: 3})
		if got := counterValue(t, creditsTotal.WithLabelValues("reserve")); got != before+3 {
			t.Errorf("expected %v, got %v", before+3, got)
		}
	})

	t.Run("should count sweep outcomes", func(t *testing.T) {
		sweeps := counterValue(t, reverifySweeps)
		SweepObserver(usecase.ReverifyReport{Sweep: []usecase.ImageOutcome{
			{ID: "a", Status: model.ImageStatusDone},
			{ID: "b", Status: model.ImageStatusPersonNotFound},
		}})
		if got := counterValue(t, reverifySweeps); got != sweeps+1 {
			t.Errorf("expected %v sweeps, got %v", sweeps+1, got)
		}
		if counterValue(t, sweepImages.WithLabelValues("person_not_found")) < 1 {
			t.Error("expected person_not_found outcome to be counted")
		}
	})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
