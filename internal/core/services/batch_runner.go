package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/comitanigiacomo/walme-bot/internal/core/delay"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
	"github.com/comitanigiacomo/walme-bot/internal/logging"
)

// SettingsSource yields the settings in force for the next pass.
type SettingsSource interface {
	RunSettings() domain.RunSettings
}

// AccountRunner processes a single account.
type AccountRunner interface {
	Process(ctx context.Context, cred domain.Credential, proxy string, snapshot domain.Ledger, settings domain.RunSettings) AccountResult
}

type BatchRunner struct {
	accounts AccountRunner
	repo     domain.StateRepository
	writer   domain.StatsWriter
	stats    *StatsService
	settings SettingsSource
	delays   *delay.Provider
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	ledger      domain.Ledger
	credentials []domain.Credential
	proxies     []string
}

type BatchRunnerDeps struct {
	Accounts    AccountRunner
	Repo        domain.StateRepository
	StatsWriter domain.StatsWriter
	Stats       *StatsService
	Settings    SettingsSource
	Delays      *delay.Provider
	Logger      zerolog.Logger
	Credentials []domain.Credential
	Proxies     []string
}

func NewBatchRunner(deps BatchRunnerDeps) *BatchRunner {
	stats := deps.Stats
	if stats == nil {
		stats = NewStatsService()
	}
	delays := deps.Delays
	if delays == nil {
		delays = delay.NewProvider()
	}
	return &BatchRunner{
		accounts:    deps.Accounts,
		repo:        deps.Repo,
		writer:      deps.StatsWriter,
		stats:       stats,
		settings:    deps.Settings,
		delays:      delays,
		logger:      deps.Logger,
		now:         time.Now,
		ledger:      domain.Ledger{},
		credentials: deps.Credentials,
		proxies:     deps.Proxies,
	}
}

// Load reads the persisted ledger. A failing store starts from an empty state.
func (r *BatchRunner) Load(ctx context.Context) {
	ledger, err := r.repo.Load(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to load completed tasks. Starting with empty state.")
		ledger = domain.Ledger{}
	}

	r.mu.Lock()
	r.ledger = ledger
	r.mu.Unlock()

	r.logger.Info().Int("accounts", len(ledger)).Msg("State loaded")
}

// Ledger returns a copy of the in-memory state.
func (r *BatchRunner) Ledger() domain.Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Clone()
}

// SetProxies replaces the pool used from the next batch on.
func (r *BatchRunner) SetProxies(pool []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies = append([]string(nil), pool...)
}

func (r *BatchRunner) Proxies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.proxies...)
}

// AssignProxy picks pool[i mod len(pool)], or no proxy when disabled or empty.
func AssignProxy(i int, pool []string, enabled bool) string {
	if !enabled || len(pool) == 0 {
		return ""
	}
	return pool[i%len(pool)]
}

// Batches splits creds into consecutive groups of size.
func Batches(creds []domain.Credential, size int) [][]domain.Credential {
	if size < 1 {
		size = 1
	}
	var out [][]domain.Credential
	for start := 0; start < len(creds); start += size {
		end := start + size
		if end > len(creds) {
			end = len(creds)
		}
		out = append(out, creds[start:end])
	}
	return out
}

// RunPass processes every account once. Cancellation stops before the next
// batch; state computed so far is always flushed.
func (r *BatchRunner) RunPass(ctx context.Context) (*domain.PassSummary, error) {
	settings := r.settings.RunSettings()
	runID := uuid.NewString()
	log := r.logger.With().Str("run_id", runID).Logger()

	summary := &domain.PassSummary{
		RunID:     runID,
		StartedAt: r.now(),
		Accounts:  len(r.credentials),
	}

	batches := Batches(r.credentials, settings.BatchSize(len(r.credentials)))
	summary.Batches = len(batches)
	log.Info().Time("started_at", summary.StartedAt).Int("accounts", summary.Accounts).Msg("Starting new run")

	var runErr error
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		log.Info().Msgf("Processing batch %d/%d (%d accounts)", n+1, len(batches), len(batch))
		results := r.runBatch(ctx, batch, settings, log)
		r.absorb(results, summary, log)
		r.persist(context.WithoutCancel(ctx), runID, summary, log)

		if ctx.Err() != nil {
			runErr = ctx.Err()
			break
		}

		if n < len(batches)-1 {
			wait, err := r.delays.Random(ctx, settings.DelayBetweenAccounts)
			if err != nil {
				runErr = err
				break
			}
			log.Debug().Dur("waited", wait).Msg("Waited before next batch")
		}
	}

	summary.FinishedAt = r.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	summary.Interrupted = runErr != nil

	if summary.Stats == nil {
		summary.Stats = r.stats.Generate(r.Ledger(), runID, summary.FinishedAt)
	}

	if runErr != nil {
		log.Warn().Err(runErr).Msg("Run interrupted, state flushed")
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return summary, runErr
		}
	}

	log.Info().
		Dur("duration", summary.Duration).
		Int("accounts", summary.Accounts).
		Int("failed", summary.FailedAccounts).
		Int("tasks_completed", summary.Stats.TotalTasksCompleted).
		Int("daily_checkins", summary.Stats.TotalDailyCheckins).
		Msg("Run completed")
	return summary, runErr
}

func (r *BatchRunner) runBatch(ctx context.Context, batch []domain.Credential, settings domain.RunSettings, log zerolog.Logger) []AccountResult {
	snapshot := r.Ledger()
	pool := r.Proxies()
	results := make([]AccountResult, len(batch))

	var g errgroup.Group
	for i, cred := range batch {
		proxy := AssignProxy(i, pool, settings.UseProxies)
		if proxy != "" {
			log.Info().Msgf("Account %d: Using proxy: %s", i+1, logging.MaskProxy(proxy))
		}

		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					results[i] = AccountResult{Fingerprint: cred.Fingerprint, State: domain.Ledger{}, Err: fmt.Errorf("account processing panicked: %v", p)}
				}
			}()
			results[i] = r.accounts.Process(ctx, cred, proxy, snapshot, settings)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// absorb merges batch results into the ledger; it runs after every goroutine of the batch returned.
func (r *BatchRunner) absorb(results []AccountResult, summary *domain.PassSummary, log zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range results {
		if res.CheckIn.Recorded {
			summary.CheckInsRecorded++
		}
		summary.TasksCompleted += res.TasksCompleted

		if res.Failed() {
			summary.FailedAccounts++
			log.Error().Err(res.Err).Str("token", res.Fingerprint).Str("email", res.Email).Msg("Account failed, keeping partial progress")
		}
		r.ledger.Merge(res.State)
	}
}

func (r *BatchRunner) persist(ctx context.Context, runID string, summary *domain.PassSummary, log zerolog.Logger) {
	ledger := r.Ledger()

	if err := r.repo.Save(ctx, ledger); err != nil {
		log.Error().Err(err).Msg("Failed to save completed tasks")
	}

	summary.Stats = r.stats.Generate(ledger, runID, r.now())
	if r.writer == nil {
		return
	}
	if err := r.writer.WriteStats(ctx, summary.Stats); err != nil {
		log.Error().Err(err).Msg("Failed to save statistics")
		return
	}
	log.Debug().Msg("Statistics saved")
}
