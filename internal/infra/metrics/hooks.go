package metrics

import (
	"ex-remover/internal/domain/model"
	"ex-remover/internal/usecase"
)

// TransitionListener counts every record transition.
func TransitionListener(_ string, _, after model.ImageRecord) {
	IncImageTransition(string(after.Status))
}

// LedgerHook counts credit movements.
func LedgerHook(e usecase.LedgerEntry) {
	AddCredits(string(e.Op), e.Amount)
}

// SweepObserver counts sweeps and their outcomes.
func SweepObserver(r usecase.ReverifyReport) {
	outcomes := make([]string, 0, len(r.Sweep))
	for _, o := range r.Sweep {
		outcomes = append(outcomes, string(o.Status))
	}
	ObserveSweep(outcomes)
}
