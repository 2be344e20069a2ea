package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/interntest/internal/model"
)

// LoadProgress returns the persisted in-flight state for a chat identity.
// Returns nil and no error when none is stored.
func (s *Store) LoadProgress(ctx context.Context, telegramID int64) (*model.Progress, error) {
	var p model.Progress
	var ids string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT session_id, question_ids, current_index FROM test_progress WHERE telegram_id = ?`),
		telegramID,
	).Scan(&p.SessionID, &ids, &p.Index)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &p.QuestionIDs); err != nil {
		return nil, fmt.Errorf("decode question ids: %w", err)
	}
	return &p, nil
}

// SaveProgress upserts the in-flight state for a chat identity.
func (s *Store) SaveProgress(ctx context.Context, telegramID int64, p model.Progress) error {
	ids, err := json.Marshal(p.QuestionIDs)
	if err != nil {
		return fmt.Errorf("encode question ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO test_progress (telegram_id, session_id, question_ids, current_index, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (telegram_id) DO UPDATE SET
			session_id = excluded.session_id,
			question_ids = excluded.question_ids,
			current_index = excluded.current_index,
			updated_at = excluded.updated_at`),
		telegramID, p.SessionID, string(ids), p.Index, time.Now().UTC(),
	)
	return err
}

// DeleteProgress removes the in-flight state for a chat identity.
func (s *Store) DeleteProgress(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM test_progress WHERE telegram_id = ?`), telegramID)
	return err
}
