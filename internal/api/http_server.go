package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/domain"
	"ticketsync/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Importer starts background imports.
type Importer interface {
	StartFull(ctx context.Context) (string, error)
	StartIncremental(ctx context.Context, lookback time.Duration) (string, error)
	Running() bool
}

// Deps are the collaborators of the HTTP API. Mirror may be nil when no spreadsheet is configured.
type Deps struct {
	Importer        Importer
	Progress        domain.ProgressRepository
	Runs            domain.RunRepository
	Mirror          domain.SyncWorker
	Dataset         domain.Dataset
	DefaultLookback time.Duration
}

// HTTPServer exposes the import controls over HTTP.
type HTTPServer struct {
	cfg    *config.APIConfig
	deps   Deps
	runCtx context.Context
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

// NewHTTPServer builds the server. runCtx bounds background imports started by requests.
func NewHTTPServer(runCtx context.Context, cfg *config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, runCtx: runCtx, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/v1/import/full", srv.handleImportFull)
	mux.HandleFunc("/api/v1/import/incremental", srv.handleImportIncremental)
	mux.HandleFunc("/api/v1/import/status", srv.handleImportStatus)
	mux.HandleFunc("/api/v1/import/runs", srv.handleImportRuns)
	mux.HandleFunc("/api/v1/sync/sheet", srv.handleSyncSheet)
	mux.HandleFunc("/api/v1/exports/canonical", srv.handleExportCanonical)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.IncHTTP(r.URL.Path)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
