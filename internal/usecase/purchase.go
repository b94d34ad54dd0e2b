package usecase

import (
	"context"
	"fmt"

	"ex-remover/internal/domain"
)

// StartPurchase remembers the credits of a checkout that was handed to the
// payment provider. A later StartPurchase replaces it.
func (c *CreditLedger) StartPurchase(ctx context.Context, credits int64) error {
	if credits <= 0 {
		return domain.ErrInvalidArgument
	}
	c.purchaseMu.Lock()
	defer c.purchaseMu.Unlock()
	if err := c.store.Set(ctx, pendingKey(c.installation), credits); err != nil {
		return fmt.Errorf("store pending purchase: %w", err)
	}
	c.log.Info().Int64("credits", credits).Msg("purchase started")
	return nil
}

// PendingPurchase returns the credits awaiting confirmation, or 0.
func (c *CreditLedger) PendingPurchase(ctx context.Context) (int64, error) {
	v, _, err := c.store.Get(ctx, pendingKey(c.installation))
	return v, err
}

// ConfirmPurchase grants the pending credits once and clears them.
func (c *CreditLedger) ConfirmPurchase(ctx context.Context) (int64, error) {
	c.purchaseMu.Lock()
	defer c.purchaseMu.Unlock()

	credits, found, err := c.store.Get(ctx, pendingKey(c.installation))
	if err != nil {
		return 0, fmt.Errorf("load pending purchase: %w", err)
	}
	if !found || credits <= 0 {
		return 0, domain.ErrNoPendingPurchase
	}
	if err := c.store.Delete(ctx, pendingKey(c.installation)); err != nil {
		return 0, fmt.Errorf("clear pending purchase: %w", err)
	}
	if err := c.Grant(ctx, credits); err != nil {
		return credits, err
	}
	c.log.Info().Int64("credits", credits).Int64("balance", c.Balance()).Msg("purchase confirmed")
	return credits, nil
}
