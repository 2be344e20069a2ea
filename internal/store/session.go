package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/interntest/internal/model"
)

// AnswerRecord is the outcome of RecordAnswer.
type AnswerRecord struct {
	Duplicate    bool
	Correct      bool
	SelectedText string
	Score        int
}

const sessionColumns = `id, user_id, start_time, end_time, score, max_score, is_completed`

func scanSession(row interface{ Scan(...any) error }) (*model.TestSession, error) {
	var sess model.TestSession
	var end sql.NullTime
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartTime, &end, &sess.Score, &sess.MaxScore, &sess.IsCompleted); err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		sess.EndTime = &t
	}
	return &sess, nil
}

// CreateSession starts the single test session of a user.
func (s *Store) CreateSession(ctx context.Context, userID int64, maxScore int, start time.Time) (*model.TestSession, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO test_sessions (user_id, start_time, score, max_score, is_completed)
		 VALUES (?, ?, 0, ?, ?) RETURNING id`),
		userID, start, maxScore, false,
	).Scan(&id)
	if err = mapConstraint(err); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrSessionExists
		}
		slog.Error("failed to create session", "user_id", userID, "error", err)
		return nil, err
	}
	slog.Info("created session", "session_id", id, "user_id", userID, "max_score", maxScore)
	return &model.TestSession{ID: id, UserID: userID, StartTime: start, MaxScore: maxScore}, nil
}

// GetSession returns a session by ID, or nil if it does not exist.
func (s *Store) GetSession(ctx context.Context, id int64) (*model.TestSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+sessionColumns+` FROM test_sessions WHERE id = ?`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// DeleteSession removes a session and its answers.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM user_answers WHERE session_id = ?`), id); err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM test_sessions WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// SessionForUser returns the session of a user, or nil if none was started.
func (s *Store) SessionForUser(ctx context.Context, userID int64) (*model.TestSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+sessionColumns+` FROM test_sessions WHERE user_id = ?`), userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// CountAnswers returns the number of answers recorded for a session.
func (s *Store) CountAnswers(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM user_answers WHERE session_id = ?`), sessionID).Scan(&n)
	return n, err
}

// RecordAnswer stores the answer and increments the score when it is
// correct. The session row is locked first so concurrent calls for the same
// session are serialized; a second answer for the same question is reported
// as Duplicate without changes.
func (s *Store) RecordAnswer(ctx context.Context, sessionID, questionID, optionID int64) (AnswerRecord, error) {
	var rec AnswerRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE test_sessions SET score = score WHERE id = ? AND is_completed = ?`), sessionID, false)
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrSessionClosed
		}

		err = tx.QueryRowContext(ctx,
			s.rebind(`SELECT is_correct, text FROM answer_options WHERE id = ? AND question_id = ?`),
			optionID, questionID,
		).Scan(&rec.Correct, &rec.SelectedText)
		if err == sql.ErrNoRows {
			return ErrOptionMismatch
		}
		if err != nil {
			return fmt.Errorf("get option: %w", err)
		}

		var existing int
		if err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COUNT(*) FROM user_answers WHERE session_id = ? AND question_id = ?`),
			sessionID, questionID,
		).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			rec.Duplicate = true
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO user_answers (session_id, question_id, selected_option_id, is_correct, answered_at)
			 VALUES (?, ?, ?, ?, ?)`),
			sessionID, questionID, optionID, rec.Correct, time.Now().UTC(),
		); err != nil {
			return mapConstraint(fmt.Errorf("insert answer: %w", err))
		}
		if rec.Correct {
			if _, err := tx.ExecContext(ctx,
				s.rebind(`UPDATE test_sessions SET score = score + 1 WHERE id = ?`), sessionID); err != nil {
				return fmt.Errorf("increment score: %w", err)
			}
		}
		return tx.QueryRowContext(ctx,
			s.rebind(`SELECT score FROM test_sessions WHERE id = ?`), sessionID).Scan(&rec.Score)
	})
	if errors.Is(err, ErrConflict) {
		return AnswerRecord{Duplicate: true}, nil
	}
	if err != nil {
		if !errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrOptionMismatch) {
			slog.Error("failed to record answer", "session_id", sessionID, "question_id", questionID, "error", err)
		}
		return AnswerRecord{}, err
	}
	return rec, nil
}

// FinalizeSession marks an active session completed. It reports whether this
// call performed the transition; finalizing a completed session is a no-op.
func (s *Store) FinalizeSession(ctx context.Context, sessionID int64, end time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE test_sessions SET is_completed = ?, end_time = ? WHERE id = ? AND is_completed = ?`),
		true, end, sessionID, false)
	if err != nil {
		slog.Error("failed to finalize session", "session_id", sessionID, "error", err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		slog.Info("finalized session", "session_id", sessionID)
	}
	return n > 0, nil
}

// AnswerDetails returns the answers of a session in answer order. The correct
// option text is looked up at call time.
func (s *Store) AnswerDetails(ctx context.Context, sessionID int64) ([]model.AnswerDetail, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT q.id, q.text, o.text, ua.is_correct,
			COALESCE((SELECT c.text FROM answer_options c
				WHERE c.question_id = q.id AND c.is_correct = ?
				ORDER BY c.id LIMIT 1), '')
		 FROM user_answers ua
		 JOIN questions q ON q.id = ua.question_id
		 JOIN answer_options o ON o.id = ua.selected_option_id
		 WHERE ua.session_id = ?
		 ORDER BY ua.answered_at, ua.id`), true, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []model.AnswerDetail
	for rows.Next() {
		var d model.AnswerDetail
		if err := rows.Scan(&d.QuestionID, &d.QuestionText, &d.SelectedText, &d.IsCorrect, &d.CorrectOption); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// SessionParticipant returns the user and roster record owning a session.
func (s *Store) SessionParticipant(ctx context.Context, sessionID int64) (*model.User, *model.Intern, error) {
	var u model.User
	var in model.Intern
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT u.id, u.telegram_id, u.username, u.intern_id, u.created_at,
			i.id, i.pin, i.full_name, i.eligibility_day
		 FROM test_sessions ts
		 JOIN users u ON u.id = ts.user_id
		 JOIN interns i ON i.id = u.intern_id
		 WHERE ts.id = ?`), sessionID,
	).Scan(&u.ID, &u.TelegramID, &u.Username, &u.InternID, &u.CreatedAt,
		&in.ID, &in.PIN, &in.FullName, &in.EligibilityDay)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &u, &in, nil
}

// ListSessionSummaries returns every session with its participant, newest first.
func (s *Store) ListSessionSummaries(ctx context.Context) ([]model.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts.id, i.full_name, u.telegram_id, ts.is_completed, ts.score, ts.max_score,
			(SELECT COUNT(*) FROM user_answers ua WHERE ua.session_id = ts.id),
			ts.start_time, ts.end_time
		 FROM test_sessions ts
		 JOIN users u ON u.id = ts.user_id
		 JOIN interns i ON i.id = u.intern_id
		 ORDER BY ts.start_time DESC, ts.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SessionSummary
	for rows.Next() {
		var ss model.SessionSummary
		var end sql.NullTime
		if err := rows.Scan(&ss.SessionID, &ss.FullName, &ss.TelegramID, &ss.Completed, &ss.Score, &ss.MaxScore,
			&ss.Answered, &ss.StartedAt, &end); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			ss.FinishedAt = &t
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}
