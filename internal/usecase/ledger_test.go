package usecase_test

import (
	"context"
	"errors"
	"testing"

	"ex-remover/internal/domain"
	"ex-remover/internal/infra/memory"
	"ex-remover/internal/usecase"
)

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant the one-time bonus exactly once", func(t *testing.T) {
		store := memory.NewCounterStore()
		led, err := usecase.OpenLedger(ctx, store, "inst-1", usecase.DefaultCreditPolicy, newTestLogger())
		if err != nil {
			t.Fatalf("OpenLedger: %v", err)
		}
		if got := led.Balance(); got != 6 {
			t.Fatalf("expected 6 credits on first open, got %d", got)
		}

		if err := led.Reserve(ctx, 2); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		again, err := usecase.OpenLedger(ctx, store, "inst-1", usecase.DefaultCreditPolicy, newTestLogger())
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if got := again.Balance(); got != 4 {
			t.Errorf("expected persisted balance 4 without a second bonus, got %d", got)
		}
		flag, _, _ := store.Get(ctx, "credits:inst-1:bonus_applied")
		if flag != 1 {
			t.Errorf("expected bonus flag to be set, got %d", flag)
		}
	})

	t.Run("should fall back to the default for a negative stored balance", func(t *testing.T) {
		store := memory.NewCounterStore()
		_ = store.Set(ctx, "credits:inst-2", -7)
		_ = store.Set(ctx, "credits:inst-2:bonus_applied", 1)

		led, err := usecase.OpenLedger(ctx, store, "inst-2", usecase.DefaultCreditPolicy, newTestLogger())
		if err != nil {
			t.Fatalf("OpenLedger: %v", err)
		}
		if got := led.Balance(); got != 3 {
			t.Errorf("expected default balance 3, got %d", got)
		}
		if v, _, _ := store.Get(ctx, "credits:inst-2"); v != 3 {
			t.Errorf("expected normalised balance to be written back, got %d", v)
		}
	})

	t.Run("should reject a missing installation id", func(t *testing.T) {
		_, err := usecase.OpenLedger(ctx, memory.NewCounterStore(), "", usecase.DefaultCreditPolicy, nil)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestCreditLedger_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a reservation larger than the balance without mutating it", func(t *testing.T) {
		led := openLedger(t, memory.NewCounterStore(), 3)

		err := led.Reserve(ctx, 5)
		if !errors.Is(err, domain.ErrInsufficientCredits) {
			t.Fatalf("expected ErrInsufficientCredits, got %v", err)
		}
		var ice *usecase.InsufficientCreditsError
		if !errors.As(err, &ice) {
			t.Fatalf("expected *InsufficientCreditsError, got %T", err)
		}
		if ice.Shortfall() != 2 {
			t.Errorf("expected shortfall 2, got %d", ice.Shortfall())
		}
		if led.Balance() != 3 {
			t.Errorf("expected balance 3, got %d", led.Balance())
		}
		if len(led.Entries()) != 0 {
			t.Errorf("expected no ledger entries, got %v", led.Entries())
		}
	})

	t.Run("should revert the reservation when it cannot be persisted", func(t *testing.T) {
		store := newFailingStore()
		led := openLedger(t, store, 3)
		store.setFail(true)

		if err := led.Reserve(ctx, 2); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if led.Balance() != 3 {
			t.Errorf("expected balance 3 after failed persist, got %d", led.Balance())
		}
	})

	t.Run("should keep a refund in memory when it cannot be persisted", func(t *testing.T) {
		store := newFailingStore()
		led := openLedger(t, store, 3)
		store.setFail(true)

		if err := led.Refund(ctx, 1); !errors.Is(err, errStoreDown) {
			t.Fatalf("expected store error, got %v", err)
		}
		if led.Balance() != 4 {
			t.Errorf("expected balance 4, got %d", led.Balance())
		}
	})

	t.Run("should notify entry hooks with the resulting balance", func(t *testing.T) {
		led := openLedger(t, memory.NewCounterStore(), 3)
		var seen []usecase.LedgerEntry
		led.OnEntry(func(e usecase.LedgerEntry) { seen = append(seen, e) })

		_ = led.Reserve(ctx, 3)
		_ = led.Refund(ctx, 1)

		if len(seen) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(seen))
		}
		if seen[0].Op != usecase.LedgerOpReserve || seen[0].Balance != 0 {
			t.Errorf("unexpected reserve entry %+v", seen[0])
		}
		if seen[1].Op != usecase.LedgerOpRefund || seen[1].Balance != 1 {
			t.Errorf("unexpected refund entry %+v", seen[1])
		}
	})

	t.Run("should reject negative amounts", func(t *testing.T) {
		led := openLedger(t, memory.NewCounterStore(), 3)
		if err := led.Reserve(ctx, -1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if err := led.Refund(ctx, -1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestCreditLedger_Purchase(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant a pending purchase once", func(t *testing.T) {
		led := openLedger(t, memory.NewCounterStore(), 3)

		if err := led.StartPurchase(ctx, 15); err != nil {
			t.Fatalf("StartPurchase: %v", err)
		}
		got, err := led.ConfirmPurchase(ctx)
		if err != nil {
			t.Fatalf("ConfirmPurchase: %v", err)
		}
		if got != 15 || led.Balance() != 18 {
			t.Errorf("expected 15 granted and balance 18, got %d and %d", got, led.Balance())
		}

		if _, err := led.ConfirmPurchase(ctx); !errors.Is(err, domain.ErrNoPendingPurchase) {
			t.Errorf("expected ErrNoPendingPurchase on second confirm, got %v", err)
		}
		if led.Balance() != 18 {
			t.Errorf("expected balance to stay 18, got %d", led.Balance())
		}
	})

	t.Run("should reject confirming without a purchase", func(t *testing.T) {
		led := openLedger(t, memory.NewCounterStore(), 3)
		if _, err := led.ConfirmPurchase(ctx); !errors.Is(err, domain.ErrNoPendingPurchase) {
			t.Errorf("expected ErrNoPendingPurchase, got %v", err)
		}
	})
}
