// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

var _ adapter.VisionEditAdapter = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client     *genai.Client
	textModel  string
	imageModel string
	timeout    time.Duration
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK. Text
// calls (identify, verify) use textModel; edits use imageModel.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, textModel, imageModel string, timeout time.Duration) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{
		client:     c,
		textModel:  modelOrDefault(textModel, "gemini-2.5-flash"),
		imageModel: modelOrDefault(imageModel, "gemini-2.5-flash-image"),
		timeout:    timeout,
	}, nil
}

func (g *GeminiAdapter) Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error) {
	resp, err := g.generate(ctx, g.textModel, image, mimeType, identifyPrompt(point), nil)
	if err != nil {
		return "", mapError("identify", err)
	}
	desc := strings.TrimSpace(replyText(resp))
	if desc == "" {
		return "", adapter.NewError("identify", adapter.ErrorKindMalformed, nil, "API error during identification: Gemini did not return a description.")
	}
	return desc, nil
}

func (g *GeminiAdapter) Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error) {
	resp, err := g.generate(ctx, g.textModel, image, mimeType, verifyPrompt(description), nil)
	if err != nil {
		return false, mapError("verify", err)
	}
	return parseVerdict(replyText(resp))
}

func (g *GeminiAdapter) Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error) {
	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}}
	resp, err := g.generate(ctx, g.imageModel, image, mimeType, removalPrompt(description), cfg)
	if err != nil {
		return model.Image{}, mapError("edit", err)
	}
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				mt := p.InlineData.MIMEType
				if mt == "" {
					mt = "image/png"
				}
				return model.Image{MIMEType: mt, Data: p.InlineData.Data}, nil
			}
		}
	}
	return model.Image{}, adapter.NewError("edit", adapter.ErrorKindMalformed, nil, "API error during image editing: Gemini API did not return an edited image.")
}

// --- internal ---

func (g *GeminiAdapter) generate(ctx context.Context, modelName string, image []byte, mimeType, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: image, MIMEType: mimeType}},
			{Text: prompt},
		},
	}}
	return g.client.Models.GenerateContent(ctx, modelName, contents, cfg)
}

// replyText joins the text parts of the first candidate.
func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func modelOrDefault(model, def string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return def
}
