// File: internal/usecase/orchestrator.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/infra/logging"
)

// RunReport summarises a primary run.
type RunReport struct {
	BatchID  string         `json:"batch_id"`
	Seq      string         `json:"seq"`
	Reserved int64          `json:"reserved"`
	Outcomes []ImageOutcome `json:"outcomes"`
}

// Count returns how many images ended in status.
func (r RunReport) Count(status model.ImageStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Refunds returns how many images had their credit given back.
func (r RunReport) Refunds() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Refunded {
			n++
		}
	}
	return n
}

// Orchestrator drives a batch through identification and the primary run.
type Orchestrator struct {
	stages
}

func NewOrchestrator(ai adapter.VisionEditAdapter, ledger *CreditLedger, logger *zerolog.Logger) *Orchestrator {
	l := logger.With().Str("component", "Orchestrator").Logger()
	return &Orchestrator{stages{ai: ai, ledger: ledger, log: &l}}
}

// Identify describes the person at point in the batch's reference photo and
// makes it the batch target.
func (o *Orchestrator) Identify(ctx context.Context, b *Batch, point model.Point) (string, error) {
	id, err := b.ReferenceID()
	if err != nil {
		return "", err
	}
	ref, err := b.Store.Get(id)
	if err != nil {
		return "", err
	}
	if err := b.setTarget(""); err != nil {
		return "", err
	}

	desc, err := o.ai.Identify(ctx, ref.Source.Data, ref.Source.MIMEType, point)
	if err != nil {
		o.log.Warn().Err(err).Str("batch_id", b.ID).Msg("identification failed")
		return "", err
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", adapter.NewError("identify", adapter.ErrorKindMalformed, nil, "API error during identify: empty description")
	}
	if err := b.setTarget(desc); err != nil {
		return "", err
	}
	o.log.Info().Str("batch_id", b.ID).Int("x", point.X).Int("y", point.Y).Msg("subject identified")
	return desc, nil
}

// SetTarget replaces the description before the run starts.
func (o *Orchestrator) SetTarget(b *Batch, text string) error {
	return b.setTarget(text)
}

// PendingRun is a primary run whose credits are reserved and whose images
// are waiting to be driven.
type PendingRun struct {
	o   *Orchestrator
	b   *Batch
	ids []string
	seq string
}

func (p *PendingRun) Seq() string     { return p.seq }
func (p *PendingRun) BatchID() string { return p.b.ID }
func (p *PendingRun) Images() int     { return len(p.ids) }

// Run reserves one credit per queued image, then advances the images one at
// a time in batch order. Provider failures stay on their image; only setup
// failures (no target, not enough credits) are returned, and they leave every
// record queued and the balance untouched.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) (RunReport, error) {
	p, err := o.Start(ctx, b)
	if err != nil {
		return RunReport{BatchID: b.ID}, err
	}
	return p.Execute(ctx)
}

// Start checks the run preconditions and reserves its credits. The images
// are driven later by Execute.
func (o *Orchestrator) Start(ctx context.Context, b *Batch) (*PendingRun, error) {
	if b.Started() {
		return nil, domain.ErrRunStarted
	}
	ids := b.Store.IDsWithStatus(model.ImageStatusQueued)
	if len(ids) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return nil, domain.ErrBatchDiscarded
	}
	if b.started {
		return nil, domain.ErrRunStarted
	}
	if b.Target.Empty() {
		return nil, domain.ErrNoTarget
	}
	if err := o.ledger.Reserve(ctx, int64(len(ids))); err != nil {
		return nil, err
	}
	b.started = true
	return &PendingRun{o: o, b: b, ids: ids, seq: ulid.Make().String()}, nil
}

// Execute drives every reserved image. It runs to completion even if ctx is
// cancelled, since the credits are already taken.
func (p *PendingRun) Execute(ctx context.Context) (RunReport, error) {
	o, b := p.o, p.b
	defer logging.TraceDuration(o.log, "Orchestrator.Run")()
	ctx = context.WithoutCancel(ctx)
	report := RunReport{BatchID: b.ID, Seq: p.seq, Reserved: int64(len(p.ids))}
	l := o.log.With().Str("batch_id", b.ID).Str("seq", report.Seq).Logger()
	l.Info().Int("images", len(p.ids)).Msg("run started")

	for _, id := range p.ids {
		if _, err := b.Store.ClaimIf(id, report.Seq, model.ImageStatusQueued); err != nil {
			if errors.Is(err, domain.ErrBatchDiscarded) {
				l.Warn().Msg("batch discarded during run")
				return report, err
			}
			l.Error().Err(err).Str("image_id", id).Msg("skipping image")
			continue
		}
		out, err := o.drive(ctx, b, id, report.Seq)
		b.Store.Release(id, report.Seq)
		if err != nil {
			if errors.Is(err, domain.ErrBatchDiscarded) {
				l.Warn().Msg("batch discarded during run")
				return report, err
			}
			l.Error().Err(err).Str("image_id", id).Msg("image update rejected")
			continue
		}
		report.Outcomes = append(report.Outcomes, out)
	}

	l.Info().
		Int("done", report.Count(model.ImageStatusDone)).
		Int("not_found", report.Count(model.ImageStatusPersonNotFound)).
		Int("failed", report.Count(model.ImageStatusFailed)).
		Int("refunds", report.Refunds()).
		Msg("run finished")
	return report, nil
}

// ConfirmAbsent accepts that the subject is not in a person_not_found photo:
// the original becomes the result and the image's credit is refunded.
func (o *Orchestrator) ConfirmAbsent(ctx context.Context, b *Batch, id string) (model.ImageRecord, error) {
	seq := ulid.Make().String()
	rec, err := b.claim(id, seq, model.ImageStatusPersonNotFound)
	if err != nil {
		return model.ImageRecord{}, err
	}
	defer b.Store.Release(id, seq)

	src := rec.Source
	_, after, err := b.Store.Apply(Update{ID: id, Seq: seq, Status: model.ImageStatusDone, Result: &src, PassThrough: true})
	if err != nil {
		return model.ImageRecord{}, err
	}
	if err := o.ledger.Refund(ctx, 1); err != nil {
		o.log.Error().Err(err).Str("batch_id", b.ID).Str("image_id", id).Msg("refund not persisted")
	}
	o.log.Info().Str("batch_id", b.ID).Str("image_id", id).Msg("subject confirmed absent")
	return after, nil
}
