package usecase_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/domain/ports/repository"
	"ex-remover/internal/infra/memory"
	"ex-remover/internal/usecase"
)

const pngMagic = "\x89PNG\r\n\x1a\n"

// pngData returns bytes sniffed as image/png that carry tag.
func pngData(tag string) []byte { return []byte(pngMagic + tag) }

func tagOf(data []byte) string { return strings.TrimPrefix(string(data), pngMagic) }

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sourceFiles(tags ...string) []usecase.SourceFile {
	files := make([]usecase.SourceFile, 0, len(tags))
	for i, tag := range tags {
		files = append(files, usecase.SourceFile{
			Name:    tag + ".png",
			ModTime: baseTime.Add(time.Duration(i) * time.Second),
			Data:    pngData(tag),
		})
	}
	return files
}

func recordIDOf(tag string, i int) string {
	return model.RecordID(tag+".png", baseTime.Add(time.Duration(i)*time.Second))
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Vision adapter fake ----

type fakeVision struct {
	mu    sync.Mutex
	calls []string

	IdentifyFunc func(tag string, p model.Point) (string, error)
	VerifyFunc   func(tag, description string) (bool, error)
	EditFunc     func(tag, description string) (model.Image, error)
}

var _ adapter.VisionEditAdapter = (*fakeVision)(nil)

func (f *fakeVision) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeVision) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeVision) Identify(_ context.Context, image []byte, _ string, p model.Point) (string, error) {
	tag := tagOf(image)
	f.record("identify:" + tag)
	if f.IdentifyFunc != nil {
		return f.IdentifyFunc(tag, p)
	}
	return "man with a red scarf", nil
}

func (f *fakeVision) Verify(_ context.Context, image []byte, _ string, description string) (bool, error) {
	tag := tagOf(image)
	f.record("verify:" + tag)
	if f.VerifyFunc != nil {
		return f.VerifyFunc(tag, description)
	}
	return true, nil
}

func (f *fakeVision) Edit(_ context.Context, image []byte, _ string, description string) (model.Image, error) {
	tag := tagOf(image)
	f.record("edit:" + tag)
	if f.EditFunc != nil {
		return f.EditFunc(tag, description)
	}
	return model.Image{MIMEType: "image/png", Data: []byte("edited:" + tag)}, nil
}

// ---- Counter store fakes ----

// failingStore wraps a memory store and fails writes when failSet is true.
type failingStore struct {
	*memory.CounterStore
	mu      sync.Mutex
	failSet bool
}

var _ repository.CounterStore = (*failingStore)(nil)

var errStoreDown = errors.New("store unavailable")

func newFailingStore() *failingStore {
	return &failingStore{CounterStore: memory.NewCounterStore()}
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	s.failSet = v
	s.mu.Unlock()
}

func (s *failingStore) Set(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	fail := s.failSet
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.CounterStore.Set(ctx, key, value)
}

// ---- Helpers ----

func openLedger(t *testing.T, store repository.CounterStore, balance int64) *usecase.CreditLedger {
	t.Helper()
	led, err := usecase.OpenLedger(context.Background(), store, "inst-1", usecase.CreditPolicy{DefaultBalance: balance}, newTestLogger())
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	return led
}

func newTestSession(t *testing.T, balance int64, ai adapter.VisionEditAdapter, opts ...usecase.SessionOption) *usecase.Session {
	t.Helper()
	led := openLedger(t, memory.NewCounterStore(), balance)
	s := usecase.NewSession(led, ai, newTestLogger(), opts...)
	t.Cleanup(s.Close)
	return s
}

// statuses returns the status of every record in batch order.
func statuses(b *usecase.Batch) []model.ImageStatus {
	var out []model.ImageStatus
	for _, r := range b.Store.Snapshot() {
		out = append(out, r.Status)
	}
	return out
}

func assertStatuses(t *testing.T, b *usecase.Batch, want ...model.ImageStatus) {
	t.Helper()
	got := statuses(b)
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d: expected status %s, got %s", i, want[i], got[i])
		}
	}
}

// runDeltas sums reservation and refund entries.
func runDeltas(led *usecase.CreditLedger) int64 {
	var sum int64
	for _, e := range led.Entries() {
		if e.Op == usecase.LedgerOpReserve || e.Op == usecase.LedgerOpRefund {
			sum += e.Delta()
		}
	}
	return sum
}
