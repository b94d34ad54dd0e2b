package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ex-remover/internal/domain"
	"ex-remover/internal/domain/model"
	"ex-remover/internal/infra/logging"
	"ex-remover/internal/infra/metrics"
	"ex-remover/internal/infra/worker"
	"ex-remover/internal/usecase"
)

// session resolves the authenticated installation's session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*usecase.Session, bool) {
	sess, err := s.d.Sessions.Session(r.Context(), installation(r.Context()))
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("open session failed")
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

type sessionRequest struct {
	InstallationID string `json:"installation_id"`
}

type sessionResponse struct {
	Token          string    `json:"token"`
	InstallationID string    `json:"installation_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	Balance        int64     `json:"balance"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := strings.TrimSpace(req.InstallationID)
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := s.d.Sessions.Session(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	tok, exp, err := s.d.Auth.Mint(w, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:          tok,
		InstallationID: id,
		ExpiresAt:      exp,
		Balance:        sess.Ledger.Balance(),
	})
}

type packageView struct {
	ID      string `json:"id"`
	Credits int64  `json:"credits"`
	Price   int64  `json:"price,omitempty"`
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pending, err := sess.Ledger.PendingPurchase(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pkgs := make([]packageView, 0, len(s.d.Credits.Packages))
	for _, p := range s.d.Credits.Packages {
		pkgs = append(pkgs, packageView{ID: p.ID, Credits: p.Credits, Price: p.Price})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  sess.Ledger.Balance(),
		"pending":  pending,
		"packages": pkgs,
	})
}

func (s *Server) startPurchase(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Package string `json:"package"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pkg, found := s.d.Credits.Package(req.Package)
	if !found {
		writeError(w, domain.ErrUnknownPackage)
		return
	}
	if err := sess.Ledger.StartPurchase(r.Context(), pkg.Credits); err != nil {
		writeError(w, err)
		return
	}
	metrics.IncPurchase("started")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"package":  pkg.ID,
		"credits":  pkg.Credits,
		"checkout": pkg.Link,
	})
}

func (s *Server) confirmPurchase(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	granted, err := sess.Ledger.ConfirmPurchase(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.IncPurchase("confirmed")
	writeJSON(w, http.StatusOK, map[string]any{
		"granted": granted,
		"balance": sess.Ledger.Balance(),
	})
}

// createBatch accepts multipart "files" parts. An optional "last_modified"
// value per file (unix milliseconds, in the same order) keeps record ids
// stable across re-uploads.
func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	maxBytes := s.d.HTTP.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid upload: " + err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	mods := r.MultipartForm.Value["last_modified"]
	now := time.Now()
	files := make([]usecase.SourceFile, 0, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, err)
			return
		}
		mod := now
		if i < len(mods) {
			if ms, err := strconv.ParseInt(mods[i], 10, 64); err == nil {
				mod = time.UnixMilli(ms)
			}
		}
		files = append(files, usecase.SourceFile{Name: fh.Filename, ModTime: mod, Data: data})
	}

	b, err := sess.NewBatch(files, r.FormValue("influencer"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBatchView(b, sess.Ledger.Balance()))
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := sess.Batch()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBatchView(b, sess.Ledger.Balance()))
}

func (s *Server) discardBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Discard(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var p model.Point
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	desc, err := sess.Identify(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"description": desc})
}

func (s *Server) setTarget(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.SetTarget(req.Description); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"description": req.Description})
}

// runBatch reserves the credits synchronously, so a shortfall is answered
// with 402, then drives the images on the worker pool.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	run, err := sess.StartRun(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			metrics.IncInsufficientCredits()
		}
		writeError(w, err)
		return
	}
	job := worker.Job{Kind: "run", BatchID: run.BatchID(), Run: func(ctx context.Context) error {
		_, err := run.Execute(ctx)
		return err
	}}
	if !s.submit(r, job) {
		report, err := run.Execute(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": run.BatchID(),
		"seq":      run.Seq(),
		"reserved": run.Images(),
	})
}

// submit queues job, or reports false when the pool cannot take it and the
// caller must run it inline.
func (s *Server) submit(r *http.Request, job worker.Job) bool {
	if s.d.Pool == nil {
		return false
	}
	if err := s.d.Pool.Submit(job); err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Str("kind", job.Kind).Msg("running job inline")
		return false
	}
	return true
}

func (s *Server) confirmAbsent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	rec, err := sess.ConfirmAbsent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newImageView(rec))
}

func (s *Server) reverify(paid bool) http.HandlerFunc {
	kind := "repoint"
	if paid {
		kind = "refix"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		var p model.Point
		if err := decodeJSON(r, &p); err != nil {
			writeError(w, err)
			return
		}
		id := chi.URLParam(r, "id")
		pending, err := sess.StartReverify(r.Context(), id, p, paid)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientCredits) {
				metrics.IncInsufficientCredits()
			}
			writeError(w, err)
			return
		}
		job := worker.Job{Kind: kind, BatchID: pending.BatchID(), Run: func(ctx context.Context) error {
			_, err := pending.Execute(ctx)
			return err
		}}
		if !s.submit(r, job) {
			report, err := pending.Execute(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, report)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"image_id": id,
			"seq":      pending.Seq(),
			"paid":     paid,
		})
	}
}

func (s *Server) imageResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	b, err := sess.Batch()
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := b.Store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Result == nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", rec.Result.MIMEType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Result.Data)
}

func (s *Server) exportBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	n, err := sess.Export(&buf)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", usecase.DefaultArchiveName))
	w.Header().Set("X-Image-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) influencerTally(w http.ResponseWriter, r *http.Request) {
	if s.d.Influencers == nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	t, err := s.d.Influencers.Tally(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":   t.Code,
		"photos": t.Photos,
		"payout": t.PayoutString(),
	})
}
