package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/usecase"
)

type errorBody struct {
	Error     string `json:"error"`
	Needed    int64  `json:"needed,omitempty"`
	Available int64  `json:"available,omitempty"`
	Shortfall int64  `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain and adapter errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var short *usecase.InsufficientCreditsError
	if errors.As(err, &short) {
		writeJSON(w, http.StatusPaymentRequired, errorBody{
			Error:     err.Error(),
			Needed:    short.Needed,
			Available: short.Available,
			Shortfall: short.Shortfall(),
		})
		return
	}
	var aerr *adapter.Error
	if errors.As(err, &aerr) {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: aerr.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNoActiveBatch), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrEmptyBatch),
		errors.Is(err, domain.ErrUnknownPackage):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNoTarget), errors.Is(err, domain.ErrRunStarted),
		errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrRecordBusy),
		errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrBatchDiscarded),
		errors.Is(err, domain.ErrNothingToExport), errors.Is(err, domain.ErrNoPendingPurchase):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidArgument
	}
	return nil
}
