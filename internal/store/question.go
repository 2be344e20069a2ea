package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/interntest/internal/model"
)

// ReplaceQuestionBank deletes every answer, option and question and inserts
// the given bank, all in one transaction. Answers recorded by active sessions
// are lost; sessions themselves are kept.
func (s *Store) ReplaceQuestionBank(ctx context.Context, bank []model.QuestionImport) (int, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"user_answers", "answer_options", "questions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		insertQ := s.rebind(`INSERT INTO questions (text, image_path) VALUES (?, ?) RETURNING id`)
		insertO := s.rebind(`INSERT INTO answer_options (question_id, text, is_correct) VALUES (?, ?, ?)`)
		for _, q := range bank {
			var qid int64
			if err := tx.QueryRowContext(ctx, insertQ, q.Text, q.ImagePath).Scan(&qid); err != nil {
				return fmt.Errorf("insert question: %w", err)
			}
			for _, o := range q.Options {
				if _, err := tx.ExecContext(ctx, insertO, qid, o.Text, o.IsCorrect); err != nil {
					return fmt.Errorf("insert option for question %d: %w", qid, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to replace question bank", "count", len(bank), "error", err)
		return 0, err
	}
	slog.Info("replaced question bank", "count", len(bank))
	return len(bank), nil
}

// QuestionIDs returns the IDs of all questions in the bank.
func (s *Store) QuestionIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// GetQuestion returns a question with its options in insertion order.
// Returns nil and no error if the question does not exist.
func (s *Store) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, text, image_path FROM questions WHERE id = ?`), id,
	).Scan(&q.ID, &q.Text, &q.ImagePath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, question_id, text, is_correct FROM answer_options WHERE question_id = ? ORDER BY id`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var o model.AnswerOption
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return nil, err
		}
		q.Options = append(q.Options, o)
	}
	return &q, rows.Err()
}
