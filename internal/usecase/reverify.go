// File: internal/usecase/reverify.go
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

// ReverifyReport describes one re-point or re-fix action and the sweep it triggered.
type ReverifyReport struct {
	BatchID     string         `json:"batch_id"`
	Seq         string         `json:"seq"`
	Paid        bool           `json:"paid"`
	Initiating  ImageOutcome   `json:"initiating"`
	Description string         `json:"description,omitempty"`
	Target      string         `json:"target,omitempty"`
	Sweep       []ImageOutcome `json:"sweep,omitempty"`
}

// Coordinator handles user corrections: pointing at the subject again in one
// photo, then retrying every photo where the subject was not found.
type Coordinator struct {
	stages
	onSweep []func(ReverifyReport)
}

func NewCoordinator(ai adapter.VisionEditAdapter, ledger *CreditLedger, logger *zerolog.Logger) *Coordinator {
	l := logger.With().Str("component", "Coordinator").Logger()
	return &Coordinator{stages: stages{ai: ai, ledger: ledger, log: &l}}
}

// OnSweep registers a hook called after each completed sweep.
func (c *Coordinator) OnSweep(fn func(ReverifyReport)) {
	c.onSweep = append(c.onSweep, fn)
}

// PendingReverify is a correction whose image is claimed, paid for when
// required, and already marked processing.
type PendingReverify struct {
	c      *Coordinator
	b      *Batch
	rec    model.ImageRecord
	point  model.Point
	report ReverifyReport
}

func (p *PendingReverify) Seq() string     { return p.report.Seq }
func (p *PendingReverify) BatchID() string { return p.b.ID }

// Repoint is the free correction for a person_not_found photo.
func (c *Coordinator) Repoint(ctx context.Context, b *Batch, id string, point model.Point) (ReverifyReport, error) {
	p, err := c.Start(ctx, b, id, point, false)
	if err != nil {
		return ReverifyReport{BatchID: b.ID, Paid: false}, err
	}
	return p.Execute(ctx)
}

// Refix is the paid correction for a done photo; it costs one credit.
func (c *Coordinator) Refix(ctx context.Context, b *Batch, id string, point model.Point) (ReverifyReport, error) {
	p, err := c.Start(ctx, b, id, point, true)
	if err != nil {
		return ReverifyReport{BatchID: b.ID, Paid: true}, err
	}
	return p.Execute(ctx)
}

// Start claims the image, reserves the credit of a paid correction and marks
// the image processing. Nothing is charged when it fails.
func (c *Coordinator) Start(ctx context.Context, b *Batch, id string, point model.Point, paid bool) (*PendingReverify, error) {
	report := ReverifyReport{BatchID: b.ID, Seq: ulid.Make().String(), Paid: paid}
	allowed := model.ImageStatusPersonNotFound
	if paid {
		allowed = model.ImageStatusDone
	}

	if _, err := b.claim(id, report.Seq, allowed); err != nil {
		return nil, err
	}
	if paid {
		if err := c.ledger.Reserve(ctx, 1); err != nil {
			b.Store.Release(id, report.Seq)
			return nil, err
		}
	}
	_, rec, err := b.Store.Apply(Update{ID: id, Seq: report.Seq, Status: model.ImageStatusProcessing})
	if err != nil {
		b.Store.Release(id, report.Seq)
		if paid {
			if rerr := c.ledger.Refund(context.WithoutCancel(ctx), 1); rerr != nil {
				c.log.Error().Err(rerr).Str("image_id", id).Msg("refund not persisted")
			}
		}
		return nil, err
	}
	return &PendingReverify{c: c, b: b, rec: rec, point: point, report: report}, nil
}

// Execute identifies the subject on the claimed image, edits it and, when the
// edit succeeds, augments the target and sweeps the person_not_found photos.
func (p *PendingReverify) Execute(ctx context.Context) (ReverifyReport, error) {
	c, b, rec, report := p.c, p.b, p.rec, p.report
	id := rec.ID
	defer logging.TraceDuration(c.log, "Coordinator.Reverify")()
	ctx = context.WithoutCancel(ctx)
	l := c.log.With().Str("batch_id", b.ID).Str("image_id", id).Str("seq", report.Seq).Bool("paid", report.Paid).Logger()

	desc, err := c.ai.Identify(ctx, rec.Source.Data, rec.Source.MIMEType, p.point)
	if err == nil && strings.TrimSpace(desc) == "" {
		err = adapter.NewError("identify", adapter.ErrorKindMalformed, nil, "API error during identify: empty description")
	}
	if err != nil {
		report.Initiating, err = c.fail(ctx, b, id, report.Seq, "identify", err)
		b.Store.Release(id, report.Seq)
		return report, err
	}
	desc = strings.TrimSpace(desc)
	report.Description = desc

	report.Initiating, err = c.edit(ctx, b, rec, report.Seq, desc)
	b.Store.Release(id, report.Seq)
	if err != nil || report.Initiating.Status != model.ImageStatusDone {
		return report, err
	}

	report.Target = b.Target.Augment(desc)
	l.Info().Msg("target augmented")

	report.Sweep, err = c.sweep(ctx, b, report.Seq)
	for _, fn := range c.onSweep {
		fn(report)
	}
	return report, err
}

// sweep re-runs every photo that was person_not_found when it started, in
// batch order, against the current target.
func (c *Coordinator) sweep(ctx context.Context, b *Batch, seq string) ([]ImageOutcome, error) {
	ids := b.Store.IDsWithStatus(model.ImageStatusPersonNotFound)
	l := c.log.With().Str("batch_id", b.ID).Str("seq", seq).Logger()
	l.Info().Int("images", len(ids)).Msg("reverify sweep started")

	var outcomes []ImageOutcome
	for _, id := range ids {
		if _, err := b.Store.ClaimIf(id, seq, model.ImageStatusPersonNotFound); err != nil {
			if errors.Is(err, domain.ErrBatchDiscarded) {
				return outcomes, err
			}
			l.Debug().Err(err).Str("image_id", id).Msg("skipping image")
			continue
		}
		out, err := c.drive(ctx, b, id, seq)
		b.Store.Release(id, seq)
		if err != nil {
			if errors.Is(err, domain.ErrBatchDiscarded) {
				return outcomes, err
			}
			l.Error().Err(err).Str("image_id", id).Msg("image update rejected")
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
