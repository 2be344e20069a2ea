// Package handler serves the Telegram webhook, health checks and the admin
// JSON API.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/interntest/internal/assessment"
	"github.com/pavelanni/interntest/internal/importer"
	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/report"
	"github.com/pavelanni/interntest/internal/telegram"
)

// SecretHeader carries the webhook secret set with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update)
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (assessment.SweepResult, error)
}

type Importer interface {
	ImportRoster(ctx context.Context) (importer.RosterResult, error)
	ImportQuestions(ctx context.Context, force bool) (importer.QuestionsResult, error)
}

// Store is the read access the admin API needs.
type Store interface {
	report.Source
	ListSessionSummaries(ctx context.Context) ([]model.SessionSummary, error)
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Bot      UpdateHandler
	Sweeper  Sweeper
	Importer Importer
	Store    Store
	Reporter assessment.Reporter
}

type Config struct {
	WebhookSecret string
	// AdminPasswordHash is a bcrypt hash. Admin routes are disabled when empty.
	AdminPasswordHash []byte
	Location          *time.Location
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	config Config
	now    func() time.Time
	wg     sync.WaitGroup
}

func New(deps Deps, cfg Config) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Handler{deps: deps, config: cfg, now: time.Now}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/telegram/webhook", h.handleWebhook)

	if len(h.config.AdminPasswordHash) == 0 {
		slog.Warn("admin password not set, admin API disabled")
		return
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}/report", h.handleGetReport)
		r.Post("/sessions/{sessionID}/report", h.handleDispatchReport)
		r.Post("/sweep", h.handleSweep)
		r.Post("/import/roster", h.handleImportRoster)
		r.Post("/import/questions", h.handleImportQuestions)
	})
}

// Wait blocks until updates accepted by the webhook are handled.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := h.config.WebhookSecret; secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var upd telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
		http.Error(w, "invalid update: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Telegram retries slow webhooks, so acknowledge before handling.
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.deps.Bot.HandleUpdate(ctx, upd)
	}()
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
