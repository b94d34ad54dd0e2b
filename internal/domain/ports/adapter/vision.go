package adapter

import (
	"context"

	"ex-remover/internal/domain/model"
)

// VisionEditAdapter is the port to the external vision/edit provider.
// Implementations own their timeouts.
type VisionEditAdapter interface {
	// Identify describes the person nearest to point. The description is never empty on success.
	Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error)

	// Verify reports whether the described person is present. A reply that is
	// neither yes nor no is an error.
	Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error)

	// Edit removes the described person and returns the reconstructed picture.
	Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error)
}

// Provider names, used for metrics labels and config.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNoop   = "noop"
)
