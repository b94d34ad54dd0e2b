package ai

import (
	"context"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.VisionEditAdapter = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.VisionEditAdapter
	sem   chan struct{}
}

// NewLimitedAI bounds the number of provider calls in flight across all sessions.
func NewLimitedAI(inner adapter.VisionEditAdapter, maxConcurrent int) adapter.VisionEditAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAI) Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error) {
	if err := l.acquire(ctx); err != nil {
		return "", err
	}
	defer func() { <-l.sem }()
	return l.inner.Identify(ctx, image, mimeType, point)
}

func (l *limitedAI) Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error) {
	if err := l.acquire(ctx); err != nil {
		return false, err
	}
	defer func() { <-l.sem }()
	return l.inner.Verify(ctx, image, mimeType, description)
}

func (l *limitedAI) Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error) {
	if err := l.acquire(ctx); err != nil {
		return model.Image{}, err
	}
	defer func() { <-l.sem }()
	return l.inner.Edit(ctx, image, mimeType, description)
}
