package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"ex-remover/internal/infra/metrics"
)

var (
	ErrQueueFull  = errors.New("worker queue full")
	ErrPoolClosed = errors.New("worker pool stopped")
)

// Job is one unit of background work. Kind labels metrics and logs
// ("run", "repoint", "refix").
type Job struct {
	Kind    string
	BatchID string
	Run     func(ctx context.Context) error
}

// Pool is a small fixed-size worker pool. Jobs that were accepted always
// run, even after Stop is requested: they hold reserved credits.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Job
	n    int
	log  *zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Job, workers*4), n: workers, log: &l}
}

// Start launches the workers. ctx is handed to every job.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.execute(ctx, id, job)
			}
		}(i)
	}
}

func (p *Pool) execute(ctx context.Context, id int, job Job) {
	l := p.log.With().Int("worker", id).Str("kind", job.Kind).Str("batch_id", job.BatchID).Logger()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncJob(job.Kind, "failed")
			l.Error().Interface("panic", r).Msg("job panicked")
		}
	}()
	if err := job.Run(ctx); err != nil {
		metrics.IncJob(job.Kind, "failed")
		l.Warn().Err(err).Msg("job finished with error")
		return
	}
	metrics.IncJob(job.Kind, "completed")
	l.Debug().Msg("job completed")
}

// Stop refuses new jobs and waits for queued ones to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("submit %s: nil job", job.Kind)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		metrics.IncJob(job.Kind, "dropped")
		return ErrQueueFull
	}
}
