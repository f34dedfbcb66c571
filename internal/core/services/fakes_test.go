package services_test

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

// fakeAPI serves a fixed task list per token and records every completion.
type fakeAPI struct {
	mu          sync.Mutex
	profiles    map[string]string
	tasks       map[string][]domain.Task
	failProfile map[string]error
	failTasks   map[string]error
	failTaskID  map[string]error
	completed   map[string][]string
	proxies     map[string]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		profiles:    make(map[string]string),
		tasks:       make(map[string][]domain.Task),
		failProfile: make(map[string]error),
		failTasks:   make(map[string]error),
		failTaskID:  make(map[string]error),
		completed:   make(map[string][]string),
		proxies:     make(map[string]string),
	}
}

func (f *fakeAPI) FetchProfile(ctx context.Context, token, proxy string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxies[token] = proxy
	if err := f.failProfile[token]; err != nil {
		return nil, err
	}
	email, ok := f.profiles[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &domain.Profile{Email: email, Nickname: "nick"}, nil
}

func (f *fakeAPI) FetchTasks(ctx context.Context, token, proxy string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTasks[token]; err != nil {
		return nil, err
	}
	return f.tasks[token], nil
}

func (f *fakeAPI) CompleteTask(ctx context.Context, id, token, proxy string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failTaskID[id]; err != nil {
		return nil, err
	}
	f.completed[token] = append(f.completed[token], id)
	return &domain.Task{ID: domain.TaskID(id), Status: "completed"}, nil
}

func (f *fakeAPI) completedBy(token string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed[token]...)
}

func (f *fakeAPI) proxyFor(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proxies[token]
}

type MockStateRepo struct {
	mock.Mock
}

func (m *MockStateRepo) Load(ctx context.Context) (domain.Ledger, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Ledger), args.Error(1)
}

func (m *MockStateRepo) Save(ctx context.Context, ledger domain.Ledger) error {
	return m.Called(ctx, ledger).Error(0)
}

// memRepo keeps the last saved ledger and counts saves.
type memRepo struct {
	mu     sync.Mutex
	saved  domain.Ledger
	saves  int
	seeded domain.Ledger
}

func (r *memRepo) Load(ctx context.Context) (domain.Ledger, error) {
	if r.seeded == nil {
		return domain.Ledger{}, nil
	}
	return r.seeded.Clone(), nil
}

func (r *memRepo) Save(ctx context.Context, ledger domain.Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = ledger.Clone()
	r.saves++
	return nil
}

type memStats struct {
	mu     sync.Mutex
	writes []*domain.RunStats
}

func (w *memStats) WriteStats(ctx context.Context, stats *domain.RunStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, stats)
	return nil
}

type staticSettings domain.RunSettings

func (s staticSettings) RunSettings() domain.RunSettings {
	return domain.RunSettings(s)
}
