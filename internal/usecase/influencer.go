package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/ports/repository"
)

// InfluencerRatePerPhoto is the payout credited to a referral code for every finished photo.
const InfluencerRatePerPhoto = 0.02

// InfluencerTally is the attribution total of one code.
type InfluencerTally struct {
	Code   string  `json:"code"`
	Photos int64   `json:"photos_processed"`
	Payout float64 `json:"-"`
}

// PayoutString formats the payout with two decimals.
func (t InfluencerTally) PayoutString() string {
	return fmt.Sprintf("%.2f", t.Payout)
}

func NormalizeInfluencerCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func influencerKey(code string) string { return "influencer:" + code + ":photos" }

type InfluencerTracker struct {
	store repository.CounterStore
	log   *zerolog.Logger
}

func NewInfluencerTracker(store repository.CounterStore, logger *zerolog.Logger) *InfluencerTracker {
	l := logger.With().Str("component", "InfluencerTracker").Logger()
	return &InfluencerTracker{store: store, log: &l}
}

// Record credits photos to a code. An empty code is ignored.
func (t *InfluencerTracker) Record(ctx context.Context, code string, photos int64) error {
	code = NormalizeInfluencerCode(code)
	if code == "" || photos <= 0 {
		return nil
	}
	n, err := t.store.Incr(ctx, influencerKey(code), photos)
	if err != nil {
		return fmt.Errorf("track influencer %s: %w", code, err)
	}
	t.log.Debug().Str("code", code).Int64("photos", n).Msg("influencer credited")
	return nil
}

func (t *InfluencerTracker) Tally(ctx context.Context, code string) (InfluencerTally, error) {
	code = NormalizeInfluencerCode(code)
	if code == "" {
		return InfluencerTally{}, domain.ErrInvalidArgument
	}
	n, _, err := t.store.Get(ctx, influencerKey(code))
	if err != nil {
		return InfluencerTally{}, err
	}
	return InfluencerTally{Code: code, Photos: n, Payout: float64(n) * InfluencerRatePerPhoto}, nil
}
