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

// RegisterUser links a chat identity to the roster record matching pin.
// The checks and the insert run in one transaction.
func (s *Store) RegisterUser(ctx context.Context, telegramID int64, username, pin string) (*model.Intern, error) {
	var intern *model.Intern
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.getUser(ctx, tx, `WHERE telegram_id = ?`, telegramID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyRegistered
		}
		intern, err = s.getIntern(ctx, tx, `WHERE pin_key = ?`, PINKey(pin))
		if err != nil {
			return err
		}
		if intern == nil {
			return ErrPINNotFound
		}
		var linked int
		if err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COUNT(*) FROM users WHERE intern_id = ?`), intern.ID,
		).Scan(&linked); err != nil {
			return err
		}
		if linked > 0 {
			return ErrPINTaken
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO users (telegram_id, username, intern_id, created_at) VALUES (?, ?, ?, ?)`),
			telegramID, username, intern.ID, time.Now().UTC(),
		)
		return mapConstraint(err)
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyRegistered) && !errors.Is(err, ErrPINNotFound) && !errors.Is(err, ErrPINTaken) {
			slog.Error("failed to register user", "telegram_id", telegramID, "error", err)
		}
		return nil, err
	}
	slog.Info("registered user", "telegram_id", telegramID, "intern_id", intern.ID)
	return intern, nil
}

// GetUserByTelegramID returns the user linked to a chat identity.
func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.getUser(ctx, s.db, `WHERE telegram_id = ?`, telegramID)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, s.db, `WHERE id = ?`, id)
}

func (s *Store) getUser(ctx context.Context, q querier, where string, arg any) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx,
		s.rebind(`SELECT id, telegram_id, username, intern_id, created_at FROM users `+where), arg,
	).Scan(&u.ID, &u.TelegramID, &u.Username, &u.InternID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// UserCount returns the total number of registered users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
