package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.VisionEditAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements adapter.VisionEditAdapter against an
// OpenAI-compatible gateway: Chat Completions with image parts for
// identify/verify and the Images edits endpoint for removal.
type OpenAIAdapter struct {
	apiKey     string
	base       string // e.g., https://api.openai.com/v1
	model      string
	imageModel string
	client     *http.Client
}

func NewOpenAIAdapter(apiKey, baseURL, model, imageModel string, timeout time.Duration) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIAdapter{
		apiKey:     apiKey,
		base:       strings.TrimRight(baseURL, "/"),
		model:      modelOrDefault(model, "gpt-4o-mini"),
		imageModel: modelOrDefault(imageModel, "gpt-image-1"),
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

func (o *OpenAIAdapter) Identify(ctx context.Context, image []byte, mimeType string, point model.Point) (string, error) {
	reply, err := o.ask(ctx, "identify", image, mimeType, identifyPrompt(point))
	if err != nil {
		return "", err
	}
	desc := strings.TrimSpace(reply)
	if desc == "" {
		return "", adapter.NewError("identify", adapter.ErrorKindMalformed, nil, "API error during identification: no description returned")
	}
	return desc, nil
}

func (o *OpenAIAdapter) Verify(ctx context.Context, image []byte, mimeType string, description string) (bool, error) {
	reply, err := o.ask(ctx, "verify", image, mimeType, verifyPrompt(description))
	if err != nil {
		return false, err
	}
	return parseVerdict(reply)
}

func (o *OpenAIAdapter) Edit(ctx context.Context, image []byte, mimeType string, description string) (model.Image, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model", o.imageModel)
	_ = mw.WriteField("prompt", removalPrompt(description))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image`+extFor(mimeType)+`"`)
	h.Set("Content-Type", mimeType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return model.Image{}, mapError("edit", err)
	}
	if _, err := fw.Write(image); err != nil {
		return model.Image{}, mapError("edit", err)
	}
	if err := mw.Close(); err != nil {
		return model.Image{}, mapError("edit", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/images/edits", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	var payload struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := o.do(req, "edit", &payload); err != nil {
		return model.Image{}, err
	}
	for _, d := range payload.Data {
		if d.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return model.Image{}, adapter.NewError("edit", adapter.ErrorKindMalformed, err, "API error during image editing: %v", err)
		}
		return model.Image{MIMEType: "image/png", Data: data}, nil
	}
	return model.Image{}, adapter.NewError("edit", adapter.ErrorKindMalformed, nil, "API error during image editing: no edited image was returned")
}

// --- internal ---

func (o *OpenAIAdapter) ask(ctx context.Context, op string, image []byte, mimeType, prompt string) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{
		Model: o.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatPart{
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}},
				{Type: "text", Text: prompt},
			},
		}},
	}

	b, _ := json.Marshal(reqBody)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := o.do(req, op, &payload); err != nil {
		return "", err
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", nil
}

func (o *OpenAIAdapter) do(req *http.Request, op string, out any) error {
	resp, err := o.client.Do(req)
	if err != nil {
		return mapError(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return mapError(op, fmt.Errorf("openai: %w", &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return adapter.NewError(op, adapter.ErrorKindMalformed, err, "API error during %s: %v", opContext[op], err)
	}
	return nil
}

func extFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ".png"
}
