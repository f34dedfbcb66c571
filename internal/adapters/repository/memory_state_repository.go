package repository

import (
	"context"
	"sync"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

var _ domain.StateRepository = (*InMemoryStateRepository)(nil)

type InMemoryStateRepository struct {
	store domain.Ledger
	saves int

	mu sync.RWMutex
}

func NewInMemoryStateRepository(seed domain.Ledger) *InMemoryStateRepository {
	store := domain.Ledger{}
	store.Merge(seed)
	return &InMemoryStateRepository{store: store}
}

func (r *InMemoryStateRepository) Load(ctx context.Context) (domain.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.store.Clone(), nil
}

func (r *InMemoryStateRepository) Save(ctx context.Context, ledger domain.Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.Merge(ledger)
	r.saves++
	return nil
}

func (r *InMemoryStateRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.saves
}
