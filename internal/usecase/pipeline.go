package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

// ImageOutcome is where one record ended up after a sequence advanced it.
type ImageOutcome struct {
	ID       string            `json:"id"`
	Status   model.ImageStatus `json:"status"`
	Refunded bool              `json:"refunded,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// stages holds the per-image steps shared by the primary run and the
// reverify coordinator.
type stages struct {
	ai     adapter.VisionEditAdapter
	ledger *CreditLedger
	log    *zerolog.Logger
}

// drive runs verifying -> processing|person_not_found|failed for a record
// already claimed by seq.
func (p *stages) drive(ctx context.Context, b *Batch, id, seq string) (ImageOutcome, error) {
	_, rec, err := b.Store.Apply(Update{ID: id, Seq: seq, Status: model.ImageStatusVerifying})
	if err != nil {
		return ImageOutcome{ID: id}, err
	}
	l := p.log.With().Str("batch_id", b.ID).Str("image_id", id).Str("seq", seq).Logger()

	present, err := p.ai.Verify(ctx, rec.Source.Data, rec.Source.MIMEType, b.Target.String())
	if err != nil {
		return p.fail(ctx, b, id, seq, "verify", err)
	}
	if !present {
		if _, _, err := b.Store.Apply(Update{ID: id, Seq: seq, Status: model.ImageStatusPersonNotFound}); err != nil {
			return ImageOutcome{ID: id}, err
		}
		l.Info().Msg("subject not found")
		return ImageOutcome{ID: id, Status: model.ImageStatusPersonNotFound}, nil
	}

	return p.edit(ctx, b, rec, seq, b.Target.String())
}

// edit moves a claimed record to processing and replaces its result with the
// edited picture.
func (p *stages) edit(ctx context.Context, b *Batch, rec model.ImageRecord, seq, description string) (ImageOutcome, error) {
	if rec.Status != model.ImageStatusProcessing {
		if _, _, err := b.Store.Apply(Update{ID: rec.ID, Seq: seq, Status: model.ImageStatusProcessing}); err != nil {
			return ImageOutcome{ID: rec.ID}, err
		}
	}
	img, err := p.ai.Edit(ctx, rec.Source.Data, rec.Source.MIMEType, description)
	if err != nil {
		return p.fail(ctx, b, rec.ID, seq, "edit", err)
	}
	if len(img.Data) == 0 {
		return p.fail(ctx, b, rec.ID, seq, "edit",
			adapter.NewError("edit", adapter.ErrorKindMalformed, nil, "API error during edit: no image data was returned"))
	}
	if img.Name == "" {
		img.Name = rec.Source.Name
	}
	if img.MIMEType == "" {
		img.MIMEType = rec.Source.MIMEType
	}
	if _, _, err := b.Store.Apply(Update{ID: rec.ID, Seq: seq, Status: model.ImageStatusDone, Result: &img}); err != nil {
		return ImageOutcome{ID: rec.ID}, err
	}
	p.log.Info().Str("batch_id", b.ID).Str("image_id", rec.ID).Str("seq", seq).Msg("image edited")
	return ImageOutcome{ID: rec.ID, Status: model.ImageStatusDone}, nil
}

// fail records a provider failure. Billing and quota refusals give the
// image's credit back; any other failure counts as a spent attempt.
func (p *stages) fail(ctx context.Context, b *Batch, id, seq, op string, cause error) (ImageOutcome, error) {
	msg := failureMessage(cause)
	if _, _, err := b.Store.Apply(Update{ID: id, Seq: seq, Status: model.ImageStatusFailed, Error: msg}); err != nil {
		return ImageOutcome{ID: id}, errors.Join(cause, err)
	}
	out := ImageOutcome{ID: id, Status: model.ImageStatusFailed, Error: msg}
	if IsBillingOrQuota(cause) {
		out.Refunded = true
		if err := p.ledger.Refund(ctx, 1); err != nil {
			p.log.Error().Err(err).Str("batch_id", b.ID).Str("image_id", id).Msg("refund not persisted")
		}
	}
	p.log.Warn().Err(cause).
		Str("batch_id", b.ID).
		Str("image_id", id).
		Str("seq", seq).
		Str("op", op).
		Bool("refunded", out.Refunded).
		Msg("image failed")
	return out, nil
}
