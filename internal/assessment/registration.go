package assessment

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/interntest/internal/model"
	"github.com/pavelanni/interntest/internal/store"
)

// RegistrationStore is the persistence used by Registrar.
type RegistrationStore interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	GetIntern(ctx context.Context, id int64) (*model.Intern, error)
	RegisterUser(ctx context.Context, telegramID int64, username, pin string) (*model.Intern, error)
}

// Registrar links chat identities to roster records by PIN.
type Registrar struct {
	store RegistrationStore
}

func NewRegistrar(s RegistrationStore) *Registrar {
	return &Registrar{store: s}
}

// Greeting returns the full name of a registered identity.
func (r *Registrar) Greeting(ctx context.Context, telegramID int64) (string, error) {
	u, err := r.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return "", ErrNotRegistered
	}
	in, err := r.store.GetIntern(ctx, u.InternID)
	if err != nil {
		return "", fmt.Errorf("get intern: %w", err)
	}
	if in == nil {
		return "", fmt.Errorf("intern %d of user %d missing", u.InternID, u.ID)
	}
	return in.FullName, nil
}

// Register links the identity to the roster record with the given PIN and
// returns the intern's full name.
func (r *Registrar) Register(ctx context.Context, telegramID int64, username, pin string) (string, error) {
	in, err := r.store.RegisterUser(ctx, telegramID, username, pin)
	switch {
	case err == nil:
		return in.FullName, nil
	case errors.Is(err, store.ErrAlreadyRegistered):
		return "", ErrAlreadyRegistered
	case errors.Is(err, store.ErrPINNotFound):
		return "", ErrPINNotFound
	case errors.Is(err, store.ErrPINTaken):
		return "", ErrPINTaken
	case errors.Is(err, store.ErrConflict):
		return "", fmt.Errorf("%w: %v", ErrIntegrityViolation, err)
	}
	return "", fmt.Errorf("register: %w", err)
}
