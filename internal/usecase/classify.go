package usecase

import (
	"errors"
	"strings"

	"ex-remover/internal/domain/ports/adapter"
)

const unexpectedErrorMessage = "An unexpected error occurred."

// IsBillingOrQuota reports whether a provider error means the provider
// refused to do the work because of billing or quota limits. Adapters that
// classify their errors are trusted first; otherwise the message is searched
// for "billing" or "quota".
func IsBillingOrQuota(err error) bool {
	if err == nil {
		return false
	}
	var ae *adapter.Error
	if errors.As(err, &ae) && ae.Kind == adapter.ErrorKindQuota {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "billing") || strings.Contains(msg, "quota")
}

// failureMessage is the text stored on a failed record.
func failureMessage(err error) string {
	if err == nil {
		return unexpectedErrorMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return unexpectedErrorMessage
}
