package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"ex-remover/internal/domain/model"
	"ex-remover/internal/domain/ports/adapter"
	"ex-remover/internal/usecase"
)

func TestParseVerdict(t *testing.T) {
	t.Run("should accept true and false in any case", func(t *testing.T) {
		ok, err := parseVerdict("  TRUE\n")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = parseVerdict("false")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("should fail closed on anything else", func(t *testing.T) {
		_, err := parseVerdict("probably yes")
		var ae *adapter.Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, adapter.ErrorKindMalformed, ae.Kind)
		require.Contains(t, err.Error(), "probably yes")
		require.False(t, usecase.IsBillingOrQuota(err))
	})
}

func TestMapError(t *testing.T) {
	t.Run("should map quota failures to the billing message", func(t *testing.T) {
		err := mapError("verify", errors.New("Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED"))
		var ae *adapter.Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, adapter.ErrorKindQuota, ae.Kind)
		require.Equal(t, billingMessage, err.Error())
		require.True(t, usecase.IsBillingOrQuota(err))
	})

	t.Run("should prefix other failures with the operation", func(t *testing.T) {
		err := mapError("edit", errors.New("connection reset"))
		require.Equal(t, "API error during image editing: connection reset", err.Error())
		require.False(t, usecase.IsBillingOrQuota(err))
	})

	t.Run("should use the structured provider status before the message", func(t *testing.T) {
		err := mapError("verify", genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"})
		require.True(t, usecase.IsBillingOrQuota(err))

		err = mapError("edit", fmt.Errorf("wrapped: %w", &genai.APIError{Code: 500, Message: "internal failure", Status: "INTERNAL"}))
		require.False(t, usecase.IsBillingOrQuota(err))
		require.Contains(t, err.Error(), "API error during image editing")
	})

	t.Run("should not treat a stray 429 in the message as quota", func(t *testing.T) {
		err := mapError("edit", errors.New("upload of 4291 bytes failed, request id 429a"))
		require.False(t, usecase.IsBillingOrQuota(err))
	})

	t.Run("should keep adapter errors as they are", func(t *testing.T) {
		orig := adapter.NewError("identify", adapter.ErrorKindMalformed, nil, "bad")
		require.Same(t, orig, mapError("identify", orig))
	})
}

func TestOpenAIAdapter(t *testing.T) {
	ctx := context.Background()

	newServer := func(t *testing.T, h http.HandlerFunc) *OpenAIAdapter {
		t.Helper()
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		a, err := NewOpenAIAdapter("sk-test", srv.URL, "", "", time.Second)
		require.NoError(t, err)
		return a
	}

	t.Run("should send the image and prompt for verification", func(t *testing.T) {
		a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/chat/completions", r.URL.Path)
			require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			var body struct {
				Model    string        `json:"model"`
				Messages []chatMessage `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "gpt-4o-mini", body.Model)
			require.Len(t, body.Messages, 1)
			parts := body.Messages[0].Content
			require.Len(t, parts, 2)
			require.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("img")), parts[0].ImageURL.URL)
			require.Contains(t, parts[1].Text, `"red scarf"`)
			_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"True"}}]}`)
		})

		ok, err := a.Verify(ctx, []byte("img"), "image/png", "red scarf")
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("should decode the edited image", func(t *testing.T) {
		a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/images/edits", r.URL.Path)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			require.Equal(t, "gpt-image-1", r.FormValue("model"))
			require.Contains(t, r.FormValue("prompt"), "hat")
			f, _, err := r.FormFile("image")
			require.NoError(t, err)
			b, _ := io.ReadAll(f)
			require.Equal(t, "src", string(b))
			_, _ = io.WriteString(w, `{"data":[{"b64_json":"`+base64.StdEncoding.EncodeToString([]byte("out"))+`"}]}`)
		})

		img, err := a.Edit(ctx, []byte("src"), "image/jpeg", "hat")
		require.NoError(t, err)
		require.Equal(t, "out", string(img.Data))
		require.Equal(t, "image/png", img.MIMEType)
	})

	t.Run("should classify a 429 as quota", func(t *testing.T) {
		a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":"rate_limit_exceeded"}}`)
		})

		_, err := a.Identify(ctx, []byte("img"), "image/png", model.Point{X: 1, Y: 2})
		require.Error(t, err)
		require.True(t, usecase.IsBillingOrQuota(err))
	})

	t.Run("should keep other http failures as provider errors", func(t *testing.T) {
		a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `upstream 4290 timeout`)
		})

		_, err := a.Verify(ctx, []byte("img"), "image/png", "hat")
		var ae *adapter.Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, adapter.ErrorKindProvider, ae.Kind)
		require.False(t, usecase.IsBillingOrQuota(err))
	})

	t.Run("should reject an empty identification", func(t *testing.T) {
		a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""}}]}`)
		})
		_, err := a.Identify(ctx, []byte("img"), "image/png", model.Point{})
		require.Error(t, err)
	})
}

func TestGeminiAdapter(t *testing.T) {
	ctx := context.Background()

	newAdapter := func(t *testing.T, h http.HandlerFunc) *GeminiAdapter {
		t.Helper()
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		a, err := NewGeminiAdapter(ctx, "test-key", srv.URL+"/", "", "", time.Second)
		require.NoError(t, err)
		return a
	}

	t.Run("should return the identification text", func(t *testing.T) {
		a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":" Person with an oval face. "}]}}]}`)
		})
		desc, err := a.Identify(ctx, []byte("img"), "image/png", model.Point{X: 3, Y: 4})
		require.NoError(t, err)
		require.Equal(t, "Person with an oval face.", desc)
	})

	t.Run("should return inline image data from edits", func(t *testing.T) {
		a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			require.Contains(t, r.URL.Path, "gemini-2.5-flash-image:generateContent")
			w.Header().Set("Content-Type", "application/json")
			data := base64.StdEncoding.EncodeToString([]byte("edited"))
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"`+data+`"}}]}}]}`)
		})
		img, err := a.Edit(ctx, []byte("img"), "image/png", "D")
		require.NoError(t, err)
		require.Equal(t, "edited", string(img.Data))
		require.Equal(t, "image/png", img.MIMEType)
	})

	t.Run("should fail an edit without image data", func(t *testing.T) {
		a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"sorry"}]}}]}`)
		})
		_, err := a.Edit(ctx, []byte("img"), "image/png", "D")
		var ae *adapter.Error
		require.ErrorAs(t, err, &ae)
		require.Equal(t, adapter.ErrorKindMalformed, ae.Kind)
	})
}

type countingAI struct {
	NoopAIAdapter
	inFlight, peak int32
}

func (c *countingAI) Verify(ctx context.Context, image []byte, mimeType, description string) (bool, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&c.inFlight, -1)
	return true, nil
}

func TestLimitedAI(t *testing.T) {
	t.Run("should bound concurrent calls", func(t *testing.T) {
		inner := &countingAI{}
		l := NewLimitedAI(inner, 2)

		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func() {
				_, _ = l.Verify(context.Background(), nil, "", "")
				done <- struct{}{}
			}()
		}
		for i := 0; i < 8; i++ {
			<-done
		}
		require.LessOrEqual(t, atomic.LoadInt32(&inner.peak), int32(2))
	})

	t.Run("should give up when the context ends while waiting", func(t *testing.T) {
		l := NewLimitedAI(&countingAI{}, 1).(*limitedAI)
		l.sem <- struct{}{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := l.Identify(ctx, nil, "", model.Point{})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNoopAIAdapter(t *testing.T) {
	t.Run("should return the input unchanged", func(t *testing.T) {
		nop := zerolog.Nop()
		a := NewNoopAIAdapter(&nop)
		a.delay = 0
		img, err := a.Edit(context.Background(), []byte("x"), "image/png", "D")
		require.NoError(t, err)
		require.Equal(t, "x", string(img.Data))
		desc, err := a.Identify(context.Background(), nil, "", model.Point{X: 1, Y: 2})
		require.NoError(t, err)
		require.True(t, strings.Contains(desc, "x=1"))
	})
}
