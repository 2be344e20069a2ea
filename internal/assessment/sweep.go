package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/interntest/internal/model"
)

// SweepResult counts what a sweep did.
type SweepResult struct {
	RunID      string `json:"run_id"`
	Day        string `json:"day"`
	Candidates int    `json:"candidates"`
	Started    int    `json:"started"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// Sweep starts a session for every registered intern whose eligibility day
// is the calendar day of now. A failure for one intern never stops the rest.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	res := SweepResult{
		RunID: uuid.NewString(),
		Day:   now.In(e.cfg.Location).Format(model.DateLayout),
	}
	log := slog.With("run_id", res.RunID, "day", res.Day)

	candidates, err := e.store.CandidatesForDay(ctx, res.Day)
	if err != nil {
		return res, fmt.Errorf("list candidates: %w", err)
	}
	res.Candidates = len(candidates)
	log.Info("sweep started", "candidates", len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		e.sweepOne(ctx, log, c, &res)
	}
	log.Info("sweep finished", "started", res.Started, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (e *Engine) sweepOne(ctx context.Context, log *slog.Logger, c model.Candidate, res *SweepResult) {
	log = log.With("intern_id", c.Intern.ID)
	defer func() {
		if r := recover(); r != nil {
			res.Failed++
			log.Error("sweep panicked for intern", "panic", r)
		}
	}()

	if c.User == nil {
		res.Skipped++
		log.Info("intern not registered, skipping", "name", c.Intern.FullName)
		return
	}
	log = log.With("telegram_id", c.User.TelegramID)

	_, err := e.StartSession(ctx, c.User.TelegramID)
	switch {
	case err == nil:
		res.Started++
	case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrAlreadyActive):
		res.Skipped++
		log.Info("intern not eligible, skipping", "reason", err)
	case errors.Is(err, ErrInsufficientQuestions):
		res.Failed++
		log.Error("cannot start test", "error", err)
		e.status(ctx, c.User.TelegramID, NoticeInsufficientQuestions)
	default:
		res.Failed++
		log.Error("failed to start test", "error", err)
		e.status(ctx, c.User.TelegramID, NoticeStartFailed)
	}
}
