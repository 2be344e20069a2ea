package assessment

import (
	"context"
	"slices"
	"sync"

	"github.com/pavelanni/interntest/internal/model"
)

// ProgressCache holds the in-flight state of active sessions keyed by chat identity.
// Get returns nil and no error when nothing is stored.
type ProgressCache interface {
	Get(ctx context.Context, telegramID int64) (*model.Progress, error)
	Set(ctx context.Context, telegramID int64, p model.Progress) error
	Delete(ctx context.Context, telegramID int64) error
}

// MemoryProgress is a process-local ProgressCache. Its contents are lost on restart.
type MemoryProgress struct {
	mu     sync.RWMutex
	states map[int64]model.Progress
}

func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{states: make(map[int64]model.Progress)}
}

// Get returns a copy of the stored state.
func (m *MemoryProgress) Get(_ context.Context, telegramID int64) (*model.Progress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.states[telegramID]
	if !ok {
		return nil, nil
	}
	p.QuestionIDs = slices.Clone(p.QuestionIDs)
	return &p, nil
}

func (m *MemoryProgress) Set(_ context.Context, telegramID int64, p model.Progress) error {
	p.QuestionIDs = slices.Clone(p.QuestionIDs)
	m.mu.Lock()
	m.states[telegramID] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryProgress) Delete(_ context.Context, telegramID int64) error {
	m.mu.Lock()
	delete(m.states, telegramID)
	m.mu.Unlock()
	return nil
}

// ProgressStore is the persistence needed by StoreProgress.
type ProgressStore interface {
	LoadProgress(ctx context.Context, telegramID int64) (*model.Progress, error)
	SaveProgress(ctx context.Context, telegramID int64, p model.Progress) error
	DeleteProgress(ctx context.Context, telegramID int64) error
}

// StoreProgress is a durable ProgressCache backed by the database.
type StoreProgress struct {
	store ProgressStore
}

func NewStoreProgress(s ProgressStore) *StoreProgress {
	return &StoreProgress{store: s}
}

func (p *StoreProgress) Get(ctx context.Context, telegramID int64) (*model.Progress, error) {
	return p.store.LoadProgress(ctx, telegramID)
}

func (p *StoreProgress) Set(ctx context.Context, telegramID int64, pr model.Progress) error {
	return p.store.SaveProgress(ctx, telegramID, pr)
}

func (p *StoreProgress) Delete(ctx context.Context, telegramID int64) error {
	return p.store.DeleteProgress(ctx, telegramID)
}
