package model

import (
	"fmt"
	"time"

	"ex-remover/internal/domain"
)

// ImageStatus is the pipeline state of a single photo in a batch.
type ImageStatus string

const (
	ImageStatusQueued         ImageStatus = "queued"
	ImageStatusVerifying      ImageStatus = "verifying"
	ImageStatusProcessing     ImageStatus = "processing"
	ImageStatusPersonNotFound ImageStatus = "person_not_found"
	ImageStatusDone           ImageStatus = "done"
	ImageStatusFailed         ImageStatus = "failed"
)

// transitions lists every edge of the per-image state machine, including the
// user-initiated ones (not here, free re-point, paid re-fix, reverify sweep).
var transitions = map[ImageStatus][]ImageStatus{
	ImageStatusQueued:         {ImageStatusVerifying},
	ImageStatusVerifying:      {ImageStatusProcessing, ImageStatusPersonNotFound, ImageStatusFailed},
	ImageStatusProcessing:     {ImageStatusDone, ImageStatusFailed},
	ImageStatusPersonNotFound: {ImageStatusDone, ImageStatusProcessing, ImageStatusVerifying},
	ImageStatusDone:           {ImageStatusProcessing},
	ImageStatusFailed:         {},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to ImageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Image is an immutable picture payload. Data must not be modified after
// construction; records and snapshots share the underlying slice.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Point is a pixel coordinate in the natural resolution of an image.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ImageRecord is the per-image state tracked by a batch.
type ImageRecord struct {
	ID     string
	Status ImageStatus
	Source Image
	Result *Image // set iff Status == done
	Error  string // set iff Status == failed

	// PassThrough marks a done record whose result is the original picture
	// because the user confirmed the subject was never there.
	PassThrough bool
}

// RecordID derives the stable identifier of a source file.
func RecordID(name string, modTime time.Time) string {
	return fmt.Sprintf("%s-%d", name, modTime.UnixMilli())
}

// NewImageRecord builds a queued record for a source image.
func NewImageRecord(id string, src Image) (*ImageRecord, error) {
	if id == "" || len(src.Data) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &ImageRecord{ID: id, Status: ImageStatusQueued, Source: src}, nil
}

// Validate checks the result/error invariant.
func (r ImageRecord) Validate() error {
	if r.Result != nil && r.Error != "" {
		return fmt.Errorf("record %s has both result and error: %w", r.ID, domain.ErrInvalidTransition)
	}
	if (r.Result != nil) != (r.Status == ImageStatusDone) {
		return fmt.Errorf("record %s result does not match status %s: %w", r.ID, r.Status, domain.ErrInvalidTransition)
	}
	if (r.Error != "") != (r.Status == ImageStatusFailed) {
		return fmt.Errorf("record %s error does not match status %s: %w", r.ID, r.Status, domain.ErrInvalidTransition)
	}
	if r.PassThrough && r.Status != ImageStatusDone {
		return fmt.Errorf("record %s is pass-through outside done: %w", r.ID, domain.ErrInvalidTransition)
	}
	return nil
}

// Terminal reports whether no automatic transition leaves the status.
func (s ImageStatus) Terminal() bool {
	return s == ImageStatusDone || s == ImageStatusFailed
}
