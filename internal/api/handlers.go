package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/ingest"
	"ticketsync/internal/models"
)

const maxRunsLimit = 100

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.deps.Importer.Running()})
}

func (s *HTTPServer) handleImportFull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	runID, err := s.deps.Importer.StartFull(s.runCtx)
	s.writeStarted(w, runID, models.KindFull, err)
}

func (s *HTTPServer) handleImportIncremental(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	lookback := s.deps.DefaultLookback
	if raw := strings.TrimSpace(r.URL.Query().Get("lookback")); raw != "" {
		d, err := config.ParseLookback(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lookback = d
	}
	if lookback <= 0 {
		lookback = models.DefaultLookback
	}

	runID, err := s.deps.Importer.StartIncremental(s.runCtx, lookback)
	s.writeStarted(w, runID, models.KindIncremental, err)
}

func (s *HTTPServer) writeStarted(w http.ResponseWriter, runID, kind string, err error) {
	switch {
	case errors.Is(err, ingest.ErrImportRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Str("kind", kind).Msg("failed to start import")
		writeError(w, http.StatusInternalServerError, "failed to start import")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "kind": kind, "status": "accepted"})
	}
}

func (s *HTTPServer) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	p, err := s.deps.Progress.Get(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read progress")
		writeError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     p.State,
		"count":      p.Count,
		"message":    p.Message,
		"error":      p.Error,
		"updated_at": p.UpdatedAt,
		"running":    s.deps.Importer.Running(),
	})
}

func (s *HTTPServer) handleImportRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is not configured")
		return
	}

	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.deps.Runs.ListImportRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list import runs")
		writeError(w, http.StatusInternalServerError, "failed to list import runs")
		return
	}
	if runs == nil {
		runs = []*models.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleSyncSheet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet mirror is not configured")
		return
	}

	if err := s.deps.Mirror.EnqueueMirror(r.Context(), ""); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue sheet mirror")
		writeError(w, http.StatusInternalServerError, "failed to enqueue sheet mirror")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *HTTPServer) handleExportCanonical(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := s.deps.Dataset.Path()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "canonical dataset has not been written yet")
			return
		}
		s.logger.Error().Err(err).Str("path", path).Msg("failed to open canonical dataset")
		writeError(w, http.StatusInternalServerError, "failed to open canonical dataset")
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), modTime, f)
}
