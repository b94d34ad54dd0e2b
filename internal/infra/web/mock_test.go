package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"ex-remover/internal/config"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/infra/memory"
	"ex-remover/internal/infra/worker"
	"ex-remover/internal/usecase"
)

// fakeVision finds the subject unless Absent is set and echoes the input as the edit.
type fakeVision struct {
	mu     sync.Mutex
	Absent bool
}

func (f *fakeVision) Identify(_ context.Context, _ []byte, _ string, p model.Point) (string, error) {
	return "person at " + strconv.Itoa(p.X) + "," + strconv.Itoa(p.Y), nil
}

func (f *fakeVision) Verify(context.Context, []byte, string, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Absent, nil
}

func (f *fakeVision) Edit(_ context.Context, img []byte, mime string, _ string) (model.Image, error) {
	return model.Image{MIMEType: mime, Data: img}, nil
}

type fakeLimiter struct {
	mu   sync.Mutex
	hits map[string]int
	err  error
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hits == nil {
		l.hits = map[string]int{}
	}
	l.hits[key]++
	return l.hits[key] <= limit, nil
}

var errLimiterDown = errors.New("limiter down")

type testEnv struct {
	srv    *httptest.Server
	ai     *fakeVision
	store  *memory.CounterStore
	pool   *worker.Pool
	client *http.Client
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, policy usecase.CreditPolicy, opts ...envOption) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := memory.NewCounterStore()
	ai := &fakeVision{}
	tracker := usecase.NewInfluencerTracker(store, &logger)
	reg := usecase.NewSessionRegistry(store, ai, policy, &logger, usecase.WithInfluencerTracker(tracker))
	pool := worker.NewPool(2, &logger)
	pool.Start(context.Background())

	d := Deps{
		HTTP: config.HTTPConfig{
			HandlerTimeout: 5 * time.Second,
			MaxUploadMB:    8,
			RateWindow:     time.Minute,
		},
		Credits: config.CreditsConfig{Packages: []config.CreditPackage{
			{ID: "small", Credits: 5},
			{ID: "best-value", Credits: 15},
		}},
		Sessions:    reg,
		Influencers: tracker,
		Pool:        pool,
		Auth:        NewAuthManager("test-secret", false, time.Hour),
		Logger:      &logger,
	}
	for _, o := range opts {
		o(&d)
	}
	srv := httptest.NewServer(NewServer(d).Router())
	t.Cleanup(func() {
		srv.Close()
		pool.Stop()
		reg.Close()
	})
	return &testEnv{srv: srv, ai: ai, store: store, pool: pool, client: srv.Client()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, v any) *http.Response {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, token, body, "application/json")
}

func (e *testEnv) login(t *testing.T, installation string) sessionResponse {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/v1/sessions", "", sessionRequest{InstallationID: installation})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out sessionResponse
	decode(t, resp, &out)
	require.NotEmpty(t, out.Token)
	return out
}

// upload posts a batch of generated PNGs named after names.
func (e *testEnv) upload(t *testing.T, token, influencer string, names ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for i, name := range names {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(pngBytes(t, uint8(i)))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("last_modified", strconv.Itoa(1714564800000+i)))
	}
	if influencer != "" {
		require.NoError(t, mw.WriteField("influencer", influencer))
	}
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/v1/batch", token, &buf, mw.FormDataContentType())
}

func (e *testEnv) batch(t *testing.T, token string) batchView {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/v1/batch", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v batchView
	decode(t, resp, &v)
	return v
}

// waitSettled polls the batch until no image is queued or in flight.
func (e *testEnv) waitSettled(t *testing.T, token string) batchView {
	t.Helper()
	var v batchView
	require.Eventually(t, func() bool {
		v = e.batch(t, token)
		for _, img := range v.Images {
			switch img.Status {
			case model.ImageStatusQueued, model.ImageStatusVerifying, model.ImageStatusProcessing:
				return false
			}
		}
		return v.Started
	}, 5*time.Second, 10*time.Millisecond)
	return v
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Gray{Y: shade})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
