package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidExecContext  = errors.New("invalid execution context")

	// Batch lifecycle
	ErrNoActiveBatch  = errors.New("no active batch")
	ErrEmptyBatch     = errors.New("batch contains no usable images")
	ErrNoTarget       = errors.New("no person selected for removal")
	ErrRunStarted     = errors.New("batch run has already started")
	ErrBatchDiscarded = errors.New("batch was discarded")

	// Per-image state machine
	ErrNotEligible       = errors.New("image is not eligible for this action")
	ErrRecordBusy        = errors.New("image is being processed by another sequence")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Export and purchases
	ErrNothingToExport   = errors.New("no images have been successfully processed to download")
	ErrNoPendingPurchase = errors.New("no pending purchase")
	ErrUnknownPackage    = errors.New("unknown credit package")
)
