// Package importer loads the intern roster and the question bank from their
// external sources into the store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/store"
)

// ErrEmptyBank is returned when a question source yields no usable questions.
// The existing bank is kept.
var ErrEmptyBank = errors.New("question source has no valid questions")

type RosterSource interface {
	FetchRoster(ctx context.Context) ([]model.InternImport, error)
}

type QuestionSource interface {
	FetchQuestions(ctx context.Context) (*model.QuestionBank, error)
}

// Store is the persistence the importer writes to.
type Store interface {
	UpsertInterns(ctx context.Context, interns []model.InternImport) (int, error)
	ReplaceQuestionBank(ctx context.Context, bank []model.QuestionImport) (int, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)
}

type RosterResult struct {
	RunID    string `json:"run_id"`
	Upserted int    `json:"upserted"`
	Skipped  int    `json:"skipped"`
}

type QuestionsResult struct {
	RunID     string `json:"run_id"`
	Revision  string `json:"revision"`
	Imported  int    `json:"imported"`
	Skipped   int    `json:"skipped"`
	NoCorrect int    `json:"no_correct"`
	Unchanged bool   `json:"unchanged"`
}

type Importer struct {
	store     Store
	roster    RosterSource
	questions QuestionSource
	validate  *validator.Validate
	now       func() time.Time
}

// New returns an importer. Either source may be nil when not configured.
func New(st Store, roster RosterSource, questions QuestionSource) *Importer {
	return &Importer{
		store:     st,
		roster:    roster,
		questions: questions,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
	}
}

// HasRoster reports whether a roster source is configured.
func (im *Importer) HasRoster() bool { return im.roster != nil }

// HasQuestions reports whether a question source is configured.
func (im *Importer) HasQuestions() bool { return im.questions != nil }

// ImportRoster upserts every valid roster row. Invalid rows are skipped.
func (im *Importer) ImportRoster(ctx context.Context) (RosterResult, error) {
	res := RosterResult{RunID: uuid.NewString()}
	log := slog.With("run_id", res.RunID, "import", "roster")
	if im.roster == nil {
		return res, errors.New("roster source not configured")
	}

	rows, err := im.roster.FetchRoster(ctx)
	if err != nil {
		log.Error("failed to fetch roster", "error", err)
		return res, fmt.Errorf("fetch roster: %w", err)
	}
	valid := make([]model.InternImport, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for _, row := range rows {
		if err := im.validate.StructCtx(ctx, row); err != nil {
			log.Warn("skipping invalid roster row", "name", row.FullName, "error", err)
			res.Skipped++
			continue
		}
		key := store.PINKey(row.PIN)
		if i, dup := seen[key]; dup {
			log.Warn("duplicate pin in roster, keeping last row", "pin", row.PIN, "name", row.FullName)
			valid[i] = row
			res.Skipped++
			continue
		}
		seen[key] = len(valid)
		valid = append(valid, row)
	}

	n, err := im.store.UpsertInterns(ctx, valid)
	if err != nil {
		return res, fmt.Errorf("upsert roster: %w", err)
	}
	res.Upserted = n
	if err := im.store.SetMetadata(ctx, store.MetaRosterImported, im.now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn("failed to record roster import time", "error", err)
	}
	log.Info("roster imported", "upserted", res.Upserted, "skipped", res.Skipped)
	return res, nil
}

// ImportQuestions replaces the question bank with the source's content.
// Every recorded answer is deleted with the old bank. Unless force is set,
// nothing happens when the source revision matches the last import.
func (im *Importer) ImportQuestions(ctx context.Context, force bool) (QuestionsResult, error) {
	res := QuestionsResult{RunID: uuid.NewString()}
	log := slog.With("run_id", res.RunID, "import", "questions")
	if im.questions == nil {
		return res, errors.New("question source not configured")
	}

	bank, err := im.questions.FetchQuestions(ctx)
	if err != nil {
		log.Error("failed to fetch questions", "error", err)
		return res, fmt.Errorf("fetch questions: %w", err)
	}
	res.Revision = bank.Revision

	if !force && bank.Revision != "" {
		last, err := im.store.GetMetadata(ctx, store.MetaQuestionsRevision)
		if err != nil {
			return res, fmt.Errorf("read question revision: %w", err)
		}
		if last == bank.Revision {
			res.Unchanged = true
			log.Info("question bank unchanged", "revision", bank.Revision)
			return res, nil
		}
	}

	valid := make([]model.QuestionImport, 0, len(bank.Questions))
	for _, q := range bank.Questions {
		if err := im.validate.StructCtx(ctx, q); err != nil {
			log.Warn("skipping invalid question", "question", q.Text, "error", err)
			res.Skipped++
			continue
		}
		if !hasCorrect(q) {
			log.Warn("question has no correct option", "question", q.Text)
			res.NoCorrect++
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return res, ErrEmptyBank
	}

	n, err := im.store.ReplaceQuestionBank(ctx, valid)
	if err != nil {
		return res, fmt.Errorf("replace question bank: %w", err)
	}
	res.Imported = n

	if err := im.store.SetMetadata(ctx, store.MetaQuestionsRevision, bank.Revision); err != nil {
		log.Warn("failed to record question revision", "error", err)
	}
	if err := im.store.SetMetadata(ctx, store.MetaQuestionsImported, im.now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn("failed to record question import time", "error", err)
	}
	log.Info("question bank imported", "imported", res.Imported, "skipped", res.Skipped,
		"no_correct", res.NoCorrect, "revision", res.Revision)
	return res, nil
}

func hasCorrect(q model.QuestionImport) bool {
	for _, o := range q.Options {
		if o.IsCorrect {
			return true
		}
	}
	return false
}
