package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/interntest/internal/model"
)

// ExportAllSessions builds export-ready intern results from all sessions.
func (s *Store) ExportAllSessions(ctx context.Context) (*model.ResultsExport, error) {
	summaries, err := s.ListSessionSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	revision, err := s.GetMetadata(ctx, MetaQuestionsRevision)
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}

	export := &model.ResultsExport{ExportedAt: time.Now().UTC(), Revision: revision}
	for _, sum := range summaries {
		_, intern, err := s.SessionParticipant(ctx, sum.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get participant of session %d: %w", sum.SessionID, err)
		}
		details, err := s.AnswerDetails(ctx, sum.SessionID)
		if err != nil {
			return nil, fmt.Errorf("get answers of session %d: %w", sum.SessionID, err)
		}

		var pin string
		if intern != nil {
			pin = intern.PIN
		}
		answers := make([]model.AnswerResult, 0, len(details))
		for _, d := range details {
			answers = append(answers, model.AnswerResult{
				Question:      d.QuestionText,
				Selected:      d.SelectedText,
				Correct:       d.IsCorrect,
				CorrectOption: d.CorrectOption,
			})
		}

		export.Results = append(export.Results, model.InternResult{
			SessionID:  sum.SessionID,
			FullName:   sum.FullName,
			PIN:        pin,
			TelegramID: sum.TelegramID,
			Completed:  sum.Completed,
			StartedAt:  sum.StartedAt,
			FinishedAt: sum.FinishedAt,
			Score:      sum.Score,
			MaxScore:   sum.MaxScore,
			Answers:    answers,
		})
	}
	return export, nil
}
