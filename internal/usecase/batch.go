package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
)

// Batch is one set of photos being cleaned of the same subject.
type Batch struct {
	ID           string
	Installation string
	Influencer   string
	Warnings     []string
	CreatedAt    time.Time

	Store  *RecordStore
	Target *model.TargetDescriptor

	mu       sync.Mutex
	started  bool
	retired  bool
	credited map[string]bool
}

// NewBatch wraps accepted records into a batch with an empty descriptor.
func NewBatch(installation string, intake IntakeResult, influencer string) (*Batch, error) {
	if len(intake.Records) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	id := uuid.NewString()
	store, err := NewRecordStore(id, intake.Records)
	if err != nil {
		return nil, err
	}
	return &Batch{
		ID:           id,
		Installation: installation,
		Influencer:   NormalizeInfluencerCode(influencer),
		Warnings:     intake.Warnings,
		CreatedAt:    time.Now(),
		Store:        store,
		Target:       model.NewTargetDescriptor(),
		credited:     make(map[string]bool),
	}, nil
}

// Started reports whether the primary run has begun.
func (b *Batch) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// setTarget replaces the description unless the run has begun. It shares
// the run's lock, so a run never starts on a half-written target.
func (b *Batch) setTarget(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return domain.ErrBatchDiscarded
	}
	if b.started {
		return domain.ErrRunStarted
	}
	b.Target.Set(text)
	return nil
}

// InFlight reports whether any record is claimed or still waiting for a
// started run.
func (b *Batch) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlightLocked()
}

func (b *Batch) inFlightLocked() bool {
	for _, r := range b.Store.Snapshot() {
		if b.Store.Busy(r.ID) || (b.started && r.Status == model.ImageStatusQueued) {
			return true
		}
	}
	return false
}

// claim is ClaimIf for actions that start outside a run; it fails once the
// batch is retired.
func (b *Batch) claim(id, seq string, allowed ...model.ImageStatus) (model.ImageRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return model.ImageRecord{}, domain.ErrBatchDiscarded
	}
	return b.Store.ClaimIf(id, seq, allowed...)
}

// retire closes the batch. Unless forced it refuses while work is in flight,
// so reserved credits are always spent on the images they were taken for.
func (b *Batch) retire(force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return nil
	}
	if !force && b.inFlightLocked() {
		return fmt.Errorf("batch %s is still processing: %w", b.ID, domain.ErrRunStarted)
	}
	b.retired = true
	b.Store.Close()
	return nil
}

// ReferenceID is the id of the photo used for identification.
func (b *Batch) ReferenceID() (string, error) {
	ids := b.Store.IDs()
	if len(ids) == 0 {
		return "", domain.ErrEmptyBatch
	}
	return ids[0], nil
}

// firstDone reports whether id reached done for the first time in this batch.
func (b *Batch) firstDone(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.credited[id] {
		return false
	}
	b.credited[id] = true
	return true
}

// Discard releases the batch's records, even if work is in flight.
func (b *Batch) Discard() {
	_ = b.retire(true)
}
