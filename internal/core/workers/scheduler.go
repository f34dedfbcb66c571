package workers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateWaiting State = "waiting"
	StateStopped State = "stopped"

	progressBarWidth = 50
)

// PassRunner executes one sweep over every account.
type PassRunner interface {
	RunPass(ctx context.Context) (*domain.PassSummary, error)
}

// Scheduler alternates between running a pass and waiting for the next one.
type Scheduler struct {
	runner   PassRunner
	interval func() time.Duration
	logger   zerolog.Logger
	progress io.Writer
	tick     time.Duration
	now      func() time.Time

	trigger chan struct{}
	state   atomic.Value
	passes  atomic.Int64
}

type SchedulerOption func(*Scheduler)

// WithProgress sets where the countdown line is drawn. nil disables it.
func WithProgress(w io.Writer) SchedulerOption {
	return func(s *Scheduler) { s.progress = w }
}

// WithTick sets the countdown refresh period.
func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

func NewScheduler(runner PassRunner, interval func() time.Duration, logger zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		tick:     time.Second,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	s.state.Store(StateIdle)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}

// TriggerNow cuts the current wait short. It never blocks; extra triggers are dropped.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		s.logger.Debug().Msg("Run already requested, dropping trigger")
		return false
	}
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.state.Store(StateStopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := s.now()
		if err := s.RunOnce(ctx); err != nil && ctx.Err() != nil {
			s.logger.Info().Msg("Scheduler stopping after interrupted run")
			return nil
		}

		next := start.Add(s.interval())
		s.logger.Info().Time("next_run", next).Msg("Next run scheduled")

		if !s.wait(ctx, start, next) {
			s.logger.Info().Msg("Countdown interrupted, shutting down")
			return nil
		}
	}
}

// RunOnce executes a single pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.state.Store(StateRunning)
	summary, err := s.runner.RunPass(ctx)
	s.passes.Add(1)
	if err != nil {
		s.logger.Error().Err(err).Msg("Run failed")
		return err
	}
	if summary != nil {
		s.logger.Info().
			Str("run_id", summary.RunID).
			Dur("duration", summary.Duration).
			Int("failed_accounts", summary.FailedAccounts).
			Msg("Run finished")
	}
	return nil
}

// wait blocks until next, a trigger, or cancellation. It reports false on cancellation.
func (s *Scheduler) wait(ctx context.Context, start, next time.Time) bool {
	s.state.Store(StateWaiting)

	remaining := next.Sub(s.now())
	if remaining <= 0 {
		return ctx.Err() == nil
	}

	deadline := time.NewTimer(remaining)
	defer deadline.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	total := next.Sub(start)
	s.draw(total, remaining)

	for {
		select {
		case <-ctx.Done():
			s.endLine()
			return false
		case <-s.trigger:
			s.endLine()
			s.logger.Info().Msg("Manual trigger received. Starting next run...")
			return true
		case <-deadline.C:
			s.endLine()
			s.logger.Info().Msg("Countdown complete. Starting next run...")
			return true
		case <-ticker.C:
			s.draw(total, next.Sub(s.now()))
		}
	}
}

func (s *Scheduler) draw(total, remaining time.Duration) {
	if s.progress == nil {
		return
	}
	fmt.Fprintf(s.progress, "\r%s", Countdown(total, remaining))
}

func (s *Scheduler) endLine() {
	if s.progress == nil {
		return
	}
	fmt.Fprintln(s.progress)
}

// Countdown renders "Next run in 01h 02m 03s [====------] 40.0%".
func Countdown(total, remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}

	progress := 100.0
	if total > 0 {
		progress = float64(total-remaining) / float64(total) * 100
	}

	secs := int(remaining.Round(time.Second).Seconds())
	h, m, sec := secs/3600, (secs%3600)/60, secs%60

	filled := int(float64(progressBarWidth) * progress / 100)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", progressBarWidth-filled)

	return fmt.Sprintf("Next run in %02dh %02dm %02ds [%s] %.1f%%", h, m, sec, bar, progress)
}
