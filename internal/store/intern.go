package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pavelanni/interntest/internal/model"
)

// UpsertInterns inserts or updates roster records keyed by case-folded PIN.
// User links are left untouched. Returns the number of rows written.
func (s *Store) UpsertInterns(ctx context.Context, interns []model.InternImport) (int, error) {
	n := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := s.rebind(`INSERT INTO interns (pin, pin_key, full_name, eligibility_day)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (pin_key) DO UPDATE SET
				pin = excluded.pin,
				full_name = excluded.full_name,
				eligibility_day = excluded.eligibility_day`)
		for _, in := range interns {
			_, err := tx.ExecContext(ctx, query,
				in.PIN, PINKey(in.PIN), in.FullName, in.EligibilityDay.Format(model.DateLayout))
			if err != nil {
				return fmt.Errorf("upsert intern %q: %w", in.FullName, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to upsert interns", "count", len(interns), "error", err)
		return 0, err
	}
	return n, nil
}

// GetInternByPIN returns the roster record for a PIN, matching case-insensitively.
func (s *Store) GetInternByPIN(ctx context.Context, pin string) (*model.Intern, error) {
	return s.getIntern(ctx, s.db, `WHERE pin_key = ?`, PINKey(pin))
}

// GetIntern returns a roster record by ID.
func (s *Store) GetIntern(ctx context.Context, id int64) (*model.Intern, error) {
	return s.getIntern(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) getIntern(ctx context.Context, q querier, where string, arg any) (*model.Intern, error) {
	var in model.Intern
	err := q.QueryRowContext(ctx,
		s.rebind(`SELECT id, pin, full_name, eligibility_day FROM interns `+where), arg,
	).Scan(&in.ID, &in.PIN, &in.FullName, &in.EligibilityDay)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CandidatesForDay returns roster records whose eligibility day equals day,
// each with its linked user when one exists. Ordered by roster ID.
func (s *Store) CandidatesForDay(ctx context.Context, day string) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT i.id, i.pin, i.full_name, i.eligibility_day,
			u.id, u.telegram_id, u.username, u.created_at
		 FROM interns i
		 LEFT JOIN users u ON u.intern_id = i.id
		 WHERE i.eligibility_day = ?
		 ORDER BY i.id`), day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var uid, tgID sql.NullInt64
		var username sql.NullString
		var created sql.NullTime
		if err := rows.Scan(&c.Intern.ID, &c.Intern.PIN, &c.Intern.FullName, &c.Intern.EligibilityDay,
			&uid, &tgID, &username, &created); err != nil {
			return nil, err
		}
		if uid.Valid {
			c.User = &model.User{
				ID:         uid.Int64,
				TelegramID: tgID.Int64,
				Username:   username.String,
				InternID:   c.Intern.ID,
				CreatedAt:  created.Time,
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InternCount returns the number of roster records.
func (s *Store) InternCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interns`).Scan(&count)
	return count, err
}
