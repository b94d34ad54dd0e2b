// File: internal/usecase/session.go
package usecase

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithInfluencerTracker credits each batch's influencer code for finished photos.
func WithInfluencerTracker(t *InfluencerTracker) SessionOption {
	return func(s *Session) { s.tracker = t }
}

// WithTransitionListener observes every record update of every batch.
func WithTransitionListener(fn TransitionListener) SessionOption {
	return func(s *Session) { s.listeners = append(s.listeners, fn) }
}

// WithSweepObserver is called after every reverify sweep.
func WithSweepObserver(fn func(ReverifyReport)) SessionOption {
	return func(s *Session) { s.coord.OnSweep(fn) }
}

// Session is one installation's workspace: its credit ledger and at most one
// active batch. Starting a new batch discards the previous one.
type Session struct {
	Installation string
	Ledger       *CreditLedger

	orch      *Orchestrator
	coord     *Coordinator
	tracker   *InfluencerTracker
	listeners []TransitionListener

	mu    sync.Mutex
	batch *Batch

	log *zerolog.Logger
}

func NewSession(ledger *CreditLedger, ai adapter.VisionEditAdapter, logger *zerolog.Logger, opts ...SessionOption) *Session {
	l := logger.With().Str("component", "Session").Str("installation_id", ledger.Installation()).Logger()
	s := &Session{
		Installation: ledger.Installation(),
		Ledger:       ledger,
		orch:         NewOrchestrator(ai, ledger, logger),
		coord:        NewCoordinator(ai, ledger, logger),
		log:          &l,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewBatch builds a batch from files and makes it the active one. The
// previous batch is discarded; while it still has work in flight the new
// batch is refused with ErrRunStarted.
func (s *Session) NewBatch(files []SourceFile, influencer string) (*Batch, error) {
	intake, err := BuildRecords(files)
	if err != nil {
		return nil, err
	}
	b, err := NewBatch(s.Installation, intake, influencer)
	if err != nil {
		return nil, err
	}
	for _, fn := range s.listeners {
		b.Store.OnTransition(fn)
	}
	if s.tracker != nil && b.Influencer != "" {
		b.Store.OnTransition(s.creditInfluencer(b))
	}

	s.mu.Lock()
	if prev := s.batch; prev != nil {
		if err := prev.retire(false); err != nil {
			s.mu.Unlock()
			b.Discard()
			return nil, err
		}
	}
	s.batch = b
	s.mu.Unlock()
	s.log.Info().Str("batch_id", b.ID).Int("images", len(intake.Records)).Strs("warnings", intake.Warnings).Msg("batch created")
	return b, nil
}

func (s *Session) creditInfluencer(b *Batch) TransitionListener {
	return func(_ string, before, after model.ImageRecord) {
		if after.Status != model.ImageStatusDone || before.Status == model.ImageStatusDone || !b.firstDone(after.ID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracker.Record(ctx, b.Influencer, 1); err != nil {
			s.log.Warn().Err(err).Str("batch_id", b.ID).Msg("influencer credit failed")
		}
	}
}

// Batch returns the active batch.
func (s *Session) Batch() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return nil, domain.ErrNoActiveBatch
	}
	return s.batch, nil
}

// Discard drops the active batch and its images. A batch with work in
// flight is kept and ErrRunStarted returned.
func (s *Session) Discard() error {
	return s.discard(false)
}

// Close releases the active batch, if any, even mid-run.
func (s *Session) Close() {
	_ = s.discard(true)
}

func (s *Session) discard(force bool) error {
	s.mu.Lock()
	b := s.batch
	if b == nil {
		s.mu.Unlock()
		return domain.ErrNoActiveBatch
	}
	if err := b.retire(force); err != nil {
		s.mu.Unlock()
		return err
	}
	s.batch = nil
	s.mu.Unlock()
	s.log.Info().Str("batch_id", b.ID).Bool("forced", force).Msg("batch discarded")
	return nil
}

func (s *Session) Identify(ctx context.Context, point model.Point) (string, error) {
	b, err := s.Batch()
	if err != nil {
		return "", err
	}
	return s.orch.Identify(ctx, b, point)
}

func (s *Session) SetTarget(text string) error {
	b, err := s.Batch()
	if err != nil {
		return err
	}
	return s.orch.SetTarget(b, text)
}

func (s *Session) Run(ctx context.Context) (RunReport, error) {
	b, err := s.Batch()
	if err != nil {
		return RunReport{}, err
	}
	return s.orch.Run(ctx, b)
}

// StartRun reserves the run's credits; the caller drives it with Execute,
// typically on a background worker.
func (s *Session) StartRun(ctx context.Context) (*PendingRun, error) {
	b, err := s.Batch()
	if err != nil {
		return nil, err
	}
	return s.orch.Start(ctx, b)
}

func (s *Session) ConfirmAbsent(ctx context.Context, id string) (model.ImageRecord, error) {
	b, err := s.Batch()
	if err != nil {
		return model.ImageRecord{}, err
	}
	return s.orch.ConfirmAbsent(ctx, b, id)
}

func (s *Session) Repoint(ctx context.Context, id string, point model.Point) (ReverifyReport, error) {
	b, err := s.Batch()
	if err != nil {
		return ReverifyReport{}, err
	}
	return s.coord.Repoint(ctx, b, id, point)
}

func (s *Session) Refix(ctx context.Context, id string, point model.Point) (ReverifyReport, error) {
	b, err := s.Batch()
	if err != nil {
		return ReverifyReport{}, err
	}
	return s.coord.Refix(ctx, b, id, point)
}

// StartReverify claims the image for a correction: a re-point when paid is
// false, a re-fix otherwise.
func (s *Session) StartReverify(ctx context.Context, id string, point model.Point, paid bool) (*PendingReverify, error) {
	b, err := s.Batch()
	if err != nil {
		return nil, err
	}
	return s.coord.Start(ctx, b, id, point, paid)
}

// Export writes the archive of the active batch's results.
func (s *Session) Export(w io.Writer) (int, error) {
	b, err := s.Batch()
	if err != nil {
		return 0, err
	}
	return WriteArchive(w, b.Store.Snapshot())
}
