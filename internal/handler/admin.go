package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/report"
)

func sessionID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session ID %q", chi.URLParam(r, "sessionID"))
	}
	return id, nil
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.deps.Store.ListSessionSummaries(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []model.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleGetReport returns the plain-text report of a session.
func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := report.Build(r.Context(), h.deps.Store, id)
	if errors.Is(err, report.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		slog.Error("failed to build report", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, report.RenderDocument(r.Context(), rep, h.config.Location))
}

// handleDispatchReport sends the report of a session to both channels again.
func (h *Handler) handleDispatchReport(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Reporter.Dispatch(r.Context(), id); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, report.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		slog.Error("report dispatch failed", "session_id", id, "error", err)
		writeError(w, status, err)
		return
	}
	slog.Info("report dispatched via admin", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]int64{"session_id": id})
}

// handleSweep runs the eligibility sweep now, or for ?date=YYYY-MM-DD.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if d := r.URL.Query().Get("date"); d != "" {
		t, err := time.ParseInLocation(model.DateLayout, d, h.config.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date %q", d))
			return
		}
		now = t
	}
	res, err := h.deps.Sweeper.Sweep(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleImportRoster(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Importer.ImportRoster(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleImportQuestions(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	res, err := h.deps.Importer.ImportQuestions(r.Context(), force)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
