package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/walme-bot/internal/core/delay"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
	"github.com/comitanigiacomo/walme-bot/internal/core/services"
	"github.com/comitanigiacomo/walme-bot/internal/testutil"
)

type runnerFixture struct {
	api     *fakeAPI
	repo    *memRepo
	writer  *memStats
	sleeper *testutil.Sleeper
	runner  *services.BatchRunner
}

func newRunnerFixture(t *testing.T, tokens []string, proxies []string, settings domain.RunSettings) *runnerFixture {
	t.Helper()

	f := &runnerFixture{
		api:     newFakeAPI(),
		repo:    &memRepo{},
		writer:  &memStats{},
		sleeper: &testutil.Sleeper{},
	}

	provider := &delay.Provider{Sleeper: f.sleeper, Rand: func() float64 { return 0 }}
	proc := services.NewAccountProcessor(f.api, provider, zerolog.Nop())

	creds := make([]domain.Credential, 0, len(tokens))
	for _, tok := range tokens {
		creds = append(creds, cred(tok))
	}

	f.runner = services.NewBatchRunner(services.BatchRunnerDeps{
		Accounts:    proc,
		Repo:        f.repo,
		StatsWriter: f.writer,
		Settings:    staticSettings(settings),
		Delays:      provider,
		Logger:      zerolog.Nop(),
		Credentials: creds,
		Proxies:     proxies,
	})
	return f
}

func TestAssignProxy(t *testing.T) {
	pool := []string{"p0:1", "p1:1"}

	for i := 0; i < 5; i++ {
		assert.Equal(t, pool[i%2], services.AssignProxy(i, pool, true))
	}
	assert.Empty(t, services.AssignProxy(3, pool, false))
	assert.Empty(t, services.AssignProxy(3, nil, true))
}

func TestBatches(t *testing.T) {
	creds := []domain.Credential{cred("a"), cred("b"), cred("c"), cred("d"), cred("e")}

	batches := services.Batches(creds, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "e", batches[2][0].Token)

	assert.Len(t, services.Batches(creds, 0), 5)
	assert.Empty(t, services.Batches(nil, 3))
}

func TestBatchRunner_RunPass(t *testing.T) {
	ctx := context.Background()

	t.Run("Proxy round robin inside a batch", func(t *testing.T) {
		tokens := []string{"t0", "t1", "t2", "t3", "t4"}
		settings := testSettings
		settings.MaxConcurrency = 5
		f := newRunnerFixture(t, tokens, []string{"proxy-a:80", "proxy-b:80"}, settings)
		for i, tok := range tokens {
			f.api.profiles[tok] = fmt.Sprintf("u%d@walme.io", i)
		}

		_, err := f.runner.RunPass(ctx)
		require.NoError(t, err)

		for i, tok := range tokens {
			want := []string{"proxy-a:80", "proxy-b:80"}[i%2]
			assert.Equal(t, want, f.api.proxyFor(tok), "account %d", i)
		}
	})

	t.Run("Proxies disabled", func(t *testing.T) {
		settings := testSettings
		settings.UseProxies = false
		f := newRunnerFixture(t, []string{"t0"}, []string{"proxy-a:80"}, settings)
		f.api.profiles["t0"] = "u@walme.io"

		_, err := f.runner.RunPass(ctx)
		require.NoError(t, err)
		assert.Empty(t, f.api.proxyFor("t0"))
	})

	t.Run("Pool swapped between passes", func(t *testing.T) {
		settings := testSettings
		settings.MaxConcurrency = 2
		f := newRunnerFixture(t, []string{"t0", "t1"}, nil, settings)
		f.api.profiles["t0"] = "u0@walme.io"
		f.api.profiles["t1"] = "u1@walme.io"

		_, err := f.runner.RunPass(ctx)
		require.NoError(t, err)
		assert.Empty(t, f.api.proxyFor("t0"), "Empty pool means direct connections")

		f.runner.SetProxies([]string{"proxy-c:80"})
		_, err = f.runner.RunPass(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{"proxy-c:80"}, f.runner.Proxies())
		assert.Equal(t, "proxy-c:80", f.api.proxyFor("t0"))
		assert.Equal(t, "proxy-c:80", f.api.proxyFor("t1"))
	})

	t.Run("Same account from two tokens merges disjoint tasks", func(t *testing.T) {
		f := newRunnerFixture(t, []string{"t1", "t2"}, nil, testSettings)
		f.api.profiles["t1"] = "same@walme.io"
		f.api.profiles["t2"] = "same@walme.io"
		f.api.tasks["t1"] = []domain.Task{{ID: "1", Status: "new"}}
		f.api.tasks["t2"] = []domain.Task{{ID: "2", Status: "new"}}

		_, err := f.runner.RunPass(ctx)
		require.NoError(t, err)

		assert.Equal(t, map[string]bool{"1": true, "2": true}, f.runner.Ledger()["same@walme.io"].Tasks)
		assert.Equal(t, map[string]bool{"1": true, "2": true}, f.repo.saved["same@walme.io"].Tasks)
	})

	t.Run("One failing account does not affect its batch mates", func(t *testing.T) {
		f := newRunnerFixture(t, []string{"good", "bad"}, nil, testSettings)
		f.api.profiles["good"] = "good@walme.io"
		f.api.failProfile["bad"] = domain.ErrRetriesExhausted
		f.api.tasks["good"] = []domain.Task{{ID: "9", Status: "new"}}

		summary, err := f.runner.RunPass(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.FailedAccounts)
		assert.Equal(t, 1, summary.TasksCompleted)
		assert.Equal(t, 1, summary.CheckInsRecorded)
		assert.True(t, f.runner.Ledger()["good@walme.io"].HasTask("9"))
		assert.NotContains(t, f.runner.Ledger(), "")
	})

	t.Run("Persists after every batch and sleeps only between batches", func(t *testing.T) {
		tokens := []string{"a", "b", "c", "d", "e"}
		settings := testSettings
		settings.MaxConcurrency = 2
		f := newRunnerFixture(t, tokens, nil, settings)
		for _, tok := range tokens {
			f.api.profiles[tok] = tok + "@walme.io"
		}

		summary, err := f.runner.RunPass(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3, summary.Batches)
		assert.Equal(t, 3, f.repo.saves)
		require.Len(t, f.writer.writes, 3)
		assert.Equal(t, 5, f.writer.writes[2].TotalAccounts)
		assert.Equal(t, 5, f.writer.writes[2].TotalDailyCheckins)

		between := 0
		for _, d := range f.sleeper.Sleeps() {
			if d == 2*time.Second {
				between++
			}
		}
		assert.Equal(t, 2, between, "accounts delay min is 2s with Rand fixed at 0")
	})

	t.Run("Cancelled pass still flushes computed state", func(t *testing.T) {
		f := newRunnerFixture(t, []string{"a"}, nil, testSettings)
		f.api.profiles["a"] = "a@walme.io"
		f.api.tasks["a"] = []domain.Task{{ID: "1", Status: "new"}, {ID: "2", Status: "new"}}

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		summary, err := f.runner.RunPass(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, summary.Interrupted)
		assert.Equal(t, 0, f.repo.saves, "No batch started, nothing to flush")
	})
}

func TestBatchRunner_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("Seeds the ledger from the store", func(t *testing.T) {
		repo := new(MockStateRepo)
		seed := domain.Ledger{"old@walme.io": {Tasks: map[string]bool{"7": true}}}
		repo.On("Load", ctx).Return(seed, nil)

		runner := services.NewBatchRunner(services.BatchRunnerDeps{Repo: repo, Settings: staticSettings(testSettings), Logger: zerolog.Nop()})
		runner.Load(ctx)

		assert.True(t, runner.Ledger()["old@walme.io"].HasTask("7"))
		repo.AssertExpectations(t)
	})

	t.Run("Store error starts empty", func(t *testing.T) {
		repo := new(MockStateRepo)
		repo.On("Load", ctx).Return(nil, errors.New("corrupt json"))

		runner := services.NewBatchRunner(services.BatchRunnerDeps{Repo: repo, Settings: staticSettings(testSettings), Logger: zerolog.Nop()})
		runner.Load(ctx)

		assert.Empty(t, runner.Ledger())
	})

	t.Run("Save errors are logged, not fatal", func(t *testing.T) {
		repo := new(MockStateRepo)
		repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		api := newFakeAPI()
		api.profiles["a"] = "a@walme.io"
		provider := &delay.Provider{Sleeper: &testutil.Sleeper{}, Rand: func() float64 { return 0 }}

		runner := services.NewBatchRunner(services.BatchRunnerDeps{
			Accounts:    services.NewAccountProcessor(api, provider, zerolog.Nop()),
			Repo:        repo,
			Settings:    staticSettings(testSettings),
			Delays:      provider,
			Logger:      zerolog.Nop(),
			Credentials: []domain.Credential{cred("a")},
		})

		summary, err := runner.RunPass(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Stats.TotalAccounts)
		repo.AssertNumberOfCalls(t, "Save", 1)
	})
}
