package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/usecase"
)

func TestOrchestrator_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should process every image when credits cover the batch", func(t *testing.T) {
		ai := &fakeVision{}
		s := newTestSession(t, 3, ai)
		b, err := s.NewBatch(sourceFiles("a", "b", "c"), "")
		if err != nil {
			t.Fatalf("NewBatch: %v", err)
		}
		if _, err := s.Identify(ctx, model.Point{X: 10, Y: 20}); err != nil {
			t.Fatalf("Identify: %v", err)
		}

		rep, err := s.Run(ctx)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if s.Ledger.Balance() != 0 {
			t.Errorf("expected balance 0, got %d", s.Ledger.Balance())
		}
		assertStatuses(t, b, model.ImageStatusDone, model.ImageStatusDone, model.ImageStatusDone)
		if rep.Reserved != 3 || rep.Count(model.ImageStatusDone) != 3 {
			t.Errorf("unexpected report %+v", rep)
		}

		want := []string{"identify:a", "verify:a", "edit:a", "verify:b", "edit:b", "verify:c", "edit:c"}
		if got := ai.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("expected calls %v, got %v", want, got)
		}
		for _, r := range b.Store.Snapshot() {
			if r.Result == nil || string(r.Result.Data) != "edited:"+tagOf(r.Source.Data) {
				t.Errorf("record %s has unexpected result %+v", r.ID, r.Result)
			}
			if r.Result.Name != r.Source.Name {
				t.Errorf("expected result to keep name %s, got %s", r.Source.Name, r.Result.Name)
			}
		}
	})

	t.Run("should refund only when the user confirms the subject is absent", func(t *testing.T) {
		ai := &fakeVision{
			VerifyFunc: func(tag, _ string) (bool, error) { return tag != "a", nil },
		}
		s := newTestSession(t, 2, ai)
		b, _ := s.NewBatch(sourceFiles("a", "b"), "")
		_ = s.SetTarget("D")

		if _, err := s.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
		assertStatuses(t, b, model.ImageStatusPersonNotFound, model.ImageStatusDone)
		if s.Ledger.Balance() != 0 {
			t.Fatalf("expected no refund on person_not_found entry, got balance %d", s.Ledger.Balance())
		}

		rec, err := s.ConfirmAbsent(ctx, recordIDOf("a", 0))
		if err != nil {
			t.Fatalf("ConfirmAbsent: %v", err)
		}
		if rec.Status != model.ImageStatusDone || !rec.PassThrough {
			t.Errorf("expected pass-through done record, got %+v", rec)
		}
		if rec.Result == nil || string(rec.Result.Data) != string(rec.Source.Data) {
			t.Errorf("expected the original picture as result")
		}
		if s.Ledger.Balance() != 1 {
			t.Errorf("expected balance 1 after not here, got %d", s.Ledger.Balance())
		}

		if _, err := s.ConfirmAbsent(ctx, recordIDOf("a", 0)); !errors.Is(err, domain.ErrNotEligible) {
			t.Errorf("expected ErrNotEligible on second not here, got %v", err)
		}
		if s.Ledger.Balance() != 1 {
			t.Errorf("expected the refund to happen once, got balance %d", s.Ledger.Balance())
		}
	})

	t.Run("should refund a quota failure and keep its message", func(t *testing.T) {
		const msg = "429 RESOURCE_EXHAUSTED: quota exceeded, see https://ai.google.dev/gemini-api/docs/billing"
		ai := &fakeVision{
			VerifyFunc: func(tag, _ string) (bool, error) {
				if tag == "b" {
					return false, errors.New(msg)
				}
				return true, nil
			},
		}
		s := newTestSession(t, 2, ai)
		b, _ := s.NewBatch(sourceFiles("a", "b"), "")
		_ = s.SetTarget("D")

		rep, err := s.Run(ctx)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		assertStatuses(t, b, model.ImageStatusDone, model.ImageStatusFailed)
		if s.Ledger.Balance() != 1 {
			t.Errorf("expected 1 credit refunded, got balance %d", s.Ledger.Balance())
		}
		rec, _ := b.Store.Get(recordIDOf("b", 1))
		if rec.Error != msg {
			t.Errorf("expected error %q, got %q", msg, rec.Error)
		}
		if rec.Result != nil {
			t.Errorf("failed record must not carry a result")
		}
		if rep.Refunds() != 1 {
			t.Errorf("expected 1 refund in report, got %d", rep.Refunds())
		}
	})

	t.Run("should not refund other provider failures", func(t *testing.T) {
		ai := &fakeVision{
			EditFunc: func(tag, _ string) (model.Image, error) {
				return model.Image{}, adapter.NewError("edit", adapter.ErrorKindProvider, nil, "API error during edit: upstream timeout")
			},
		}
		s := newTestSession(t, 1, ai)
		b, _ := s.NewBatch(sourceFiles("a"), "")
		_ = s.SetTarget("D")

		if _, err := s.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
		assertStatuses(t, b, model.ImageStatusFailed)
		if s.Ledger.Balance() != 0 {
			t.Errorf("expected the credit to be spent, got balance %d", s.Ledger.Balance())
		}
	})

	t.Run("should fail an image whose edit returns no picture", func(t *testing.T) {
		ai := &fakeVision{
			EditFunc: func(string, string) (model.Image, error) { return model.Image{}, nil },
		}
		s := newTestSession(t, 1, ai)
		b, _ := s.NewBatch(sourceFiles("a"), "")
		_ = s.SetTarget("D")

		_, _ = s.Run(ctx)
		assertStatuses(t, b, model.ImageStatusFailed)
	})

	t.Run("should reject a batch larger than the balance without touching records", func(t *testing.T) {
		ai := &fakeVision{}
		s := newTestSession(t, 3, ai)
		b, _ := s.NewBatch(sourceFiles("a", "b", "c", "d", "e"), "")
		_ = s.SetTarget("D")

		_, err := s.Run(ctx)
		var ice *usecase.InsufficientCreditsError
		if !errors.As(err, &ice) || ice.Needed != 5 || ice.Available != 3 {
			t.Fatalf("expected InsufficientCreditsError{5,3}, got %v", err)
		}
		if s.Ledger.Balance() != 3 {
			t.Errorf("expected balance 3, got %d", s.Ledger.Balance())
		}
		for _, st := range statuses(b) {
			if st != model.ImageStatusQueued {
				t.Errorf("expected every record queued, got %s", st)
			}
		}
		if len(ai.Calls()) != 0 {
			t.Errorf("expected no provider calls, got %v", ai.Calls())
		}
		if b.Started() {
			t.Errorf("a rejected run must not mark the batch started")
		}

		_ = s.Ledger.Grant(ctx, 2)
		if _, err := s.Run(ctx); err != nil {
			t.Errorf("expected the run to succeed after a top-up, got %v", err)
		}
	})

	t.Run("should require a target description", func(t *testing.T) {
		s := newTestSession(t, 3, &fakeVision{})
		_, _ = s.NewBatch(sourceFiles("a"), "")
		_ = s.SetTarget("   ")

		if _, err := s.Run(ctx); !errors.Is(err, domain.ErrNoTarget) {
			t.Errorf("expected ErrNoTarget, got %v", err)
		}
		if s.Ledger.Balance() != 3 {
			t.Errorf("expected balance untouched, got %d", s.Ledger.Balance())
		}
	})

	t.Run("should reject a second run and identification after start", func(t *testing.T) {
		s := newTestSession(t, 5, &fakeVision{})
		_, _ = s.NewBatch(sourceFiles("a"), "")
		_ = s.SetTarget("D")
		if _, err := s.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}

		if _, err := s.Run(ctx); !errors.Is(err, domain.ErrRunStarted) {
			t.Errorf("expected the second run to be rejected, got %v", err)
		}
		if err := s.SetTarget("other"); !errors.Is(err, domain.ErrRunStarted) {
			t.Errorf("expected ErrRunStarted from SetTarget, got %v", err)
		}
		if _, err := s.Identify(ctx, model.Point{}); !errors.Is(err, domain.ErrRunStarted) {
			t.Errorf("expected ErrRunStarted from Identify, got %v", err)
		}
		if s.Ledger.Balance() != 4 {
			t.Errorf("expected a single reservation, got balance %d", s.Ledger.Balance())
		}
	})

	t.Run("should keep the ledger equal to reservations minus refunds", func(t *testing.T) {
		ai := &fakeVision{
			VerifyFunc: func(tag, _ string) (bool, error) {
				switch tag {
				case "b":
					return false, nil
				case "c":
					return false, errors.New("billing account disabled")
				case "d":
					return false, errors.New("connection reset")
				}
				return true, nil
			},
		}
		s := newTestSession(t, 5, ai)
		b, _ := s.NewBatch(sourceFiles("a", "b", "c", "d", "e"), "")
		_ = s.SetTarget("D")

		if _, err := s.Run(ctx); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if _, err := s.ConfirmAbsent(ctx, recordIDOf("b", 1)); err != nil {
			t.Fatalf("ConfirmAbsent: %v", err)
		}

		assertStatuses(t, b, model.ImageStatusDone, model.ImageStatusDone, model.ImageStatusFailed, model.ImageStatusFailed, model.ImageStatusDone)
		// refunds: "not here" on b plus the billing failure on c
		if got, want := runDeltas(s.Ledger), int64(-5+2); got != want {
			t.Errorf("expected ledger deltas %d, got %d", want, got)
		}
		if s.Ledger.Balance() != 2 {
			t.Errorf("expected balance 2, got %d", s.Ledger.Balance())
		}
	})
}

func TestOrchestrator_Identify(t *testing.T) {
	ctx := context.Background()

	t.Run("should identify on the first photo and set the target", func(t *testing.T) {
		var gotPoint model.Point
		ai := &fakeVision{
			IdentifyFunc: func(tag string, p model.Point) (string, error) {
				gotPoint = p
				return "  woman in a blue dress  ", nil
			},
		}
		s := newTestSession(t, 3, ai)
		b, _ := s.NewBatch(sourceFiles("ref", "other"), "")

		desc, err := s.Identify(ctx, model.Point{X: 42, Y: 7})
		if err != nil {
			t.Fatalf("Identify: %v", err)
		}
		if desc != "woman in a blue dress" || b.Target.String() != desc {
			t.Errorf("unexpected description %q / target %q", desc, b.Target.String())
		}
		if gotPoint != (model.Point{X: 42, Y: 7}) {
			t.Errorf("unexpected point %+v", gotPoint)
		}
		if calls := ai.Calls(); len(calls) != 1 || calls[0] != "identify:ref" {
			t.Errorf("expected identification on the reference photo, got %v", calls)
		}
	})

	t.Run("should clear the target when identification fails", func(t *testing.T) {
		ai := &fakeVision{
			IdentifyFunc: func(string, model.Point) (string, error) { return "", errors.New("boom") },
		}
		s := newTestSession(t, 3, ai)
		b, _ := s.NewBatch(sourceFiles("a"), "")
		_ = s.SetTarget("old")

		if _, err := s.Identify(ctx, model.Point{}); err == nil {
			t.Fatal("expected an error")
		}
		if !b.Target.Empty() {
			t.Errorf("expected empty target, got %q", b.Target.String())
		}
	})

	t.Run("should fail without an active batch", func(t *testing.T) {
		s := newTestSession(t, 3, &fakeVision{})
		if _, err := s.Identify(ctx, model.Point{}); !errors.Is(err, domain.ErrNoActiveBatch) {
			t.Errorf("expected ErrNoActiveBatch, got %v", err)
		}
	})
}

func TestOrchestrator_StartThenExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("should reserve on Start and leave images queued until Execute", func(t *testing.T) {
		ai := &fakeVision{}
		s := newTestSession(t, 5, ai)
		b, err := s.NewBatch(sourceFiles("a", "b"), "")
		if err != nil {
			t.Fatalf("NewBatch: %v", err)
		}
		if err := s.SetTarget("the man"); err != nil {
			t.Fatalf("SetTarget: %v", err)
		}
		p, err := s.StartRun(ctx)
		if err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		if s.Ledger.Balance() != 3 {
			t.Errorf("expected 2 credits reserved, balance %d", s.Ledger.Balance())
		}
		if p.Images() != 2 {
			t.Errorf("expected 2 images, got %d", p.Images())
		}
		for _, rec := range b.Store.Snapshot() {
			if rec.Status != model.ImageStatusQueued {
				t.Errorf("expected %s queued before Execute, got %s", rec.ID, rec.Status)
			}
		}
		if _, err := s.StartRun(ctx); !errors.Is(err, domain.ErrRunStarted) {
			t.Errorf("expected ErrRunStarted for a second start, got %v", err)
		}

		report, err := p.Execute(ctx)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if report.Count(model.ImageStatusDone) != 2 || report.Seq != p.Seq() {
			t.Errorf("unexpected report %+v", report)
		}
	})
}
