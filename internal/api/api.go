// Package api exposes the split/merge backend over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/executor"
	"github.com/local/splitmerge/internal/limiter"
	"github.com/local/splitmerge/internal/metrics"
	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/statuscheck"
	"github.com/local/splitmerge/internal/store"
)

type Executor interface {
	Execute(ctx context.Context, req plan.Request) ([]string, error)
}

type ResultReader interface {
	Read(ctx context.Context, id string) (store.Result, []byte, error)
}

type StatusStore interface {
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

type HealthChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Executor Executor
	Results  ResultReader
	Status   StatusStore
	Health   HealthChecker
	Limiter  *limiter.Slots
	// MaxRequestBytes caps the request body; zero means 1 MiB.
	MaxRequestBytes int64
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.MaxRequestBytes <= 0 {
		deps.MaxRequestBytes = 1 << 20
	}
	if deps.Limiter == nil {
		deps.Limiter = limiter.New(4)
	}
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /split_merge/{$}", s.handleSplitMerge)
	mux.HandleFunc("GET /split_merge/{id}/{$}", s.handlePreview)
	mux.HandleFunc("GET /split_merge/jobs/{id}", s.handleJob)
}

func (s *Server) handleSplitMerge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxRequestBytes)
	var req plan.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Metadata == "" {
		req.Metadata = plan.MetadataRedo
	}

	mode := "commit"
	if req.Preview {
		mode = "preview"
	}
	release, ok := s.deps.Limiter.Allow(mode)
	if !ok {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "too many concurrent executions", http.StatusTooManyRequests)
		return
	}
	defer release()

	ids, err := s.deps.Executor.Execute(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			log.Error().Err(err).Str("mode", mode).Msg("split/merge failed")
			http.Error(w, "internal error", code)
			return
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// statusFor maps request and merge errors to 400 and everything else to 500.
func statusFor(err error) int {
	var me *executor.MergeError
	switch {
	case errors.As(err, &me),
		errors.Is(err, plan.ErrEmptyPlan),
		errors.Is(err, plan.ErrEmptyGroup),
		errors.Is(err, plan.ErrInvalidMetadata),
		errors.Is(err, plan.ErrInvalidPart),
		errors.Is(err, plan.ErrInvalidPageRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, data, err := s.deps.Results.Read(r.Context(), id)
	if errors.Is(err, store.ErrResultNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("result_id", id).Msg("failed to read result")
		http.Error(w, "failed to read", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", fileName(res.Title)))
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func fileName(title string) string {
	title = strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`"/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	if title == "" {
		title = "document"
	}
	return title + ".pdf"
}

// handleJob reports a commit job, looked up by job id or by any result id
// the commit returned.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok, err := s.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		http.Error(w, "not configured", http.StatusNotFound)
		return
	}
	sum := s.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
