package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/core/delay"
	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

// WaitlistAPI is the subset of the remote API the bot drives.
type WaitlistAPI interface {
	FetchProfile(ctx context.Context, token, proxy string) (*domain.Profile, error)
	FetchTasks(ctx context.Context, token, proxy string) ([]domain.Task, error)
	CompleteTask(ctx context.Context, id, token, proxy string) (*domain.Task, error)
}

// AccountResult is the outcome of one account. State holds the progress made
// before any failure and is always safe to merge.
type AccountResult struct {
	Fingerprint    string
	Email          string
	State          domain.Ledger
	CheckIn        domain.CheckInResult
	TasksCompleted int
	Err            error
}

func (r AccountResult) Failed() bool {
	return r.Err != nil
}

type AccountProcessor struct {
	api    WaitlistAPI
	delays *delay.Provider
	logger zerolog.Logger
	now    func() time.Time
}

func NewAccountProcessor(api WaitlistAPI, delays *delay.Provider, logger zerolog.Logger) *AccountProcessor {
	return &AccountProcessor{
		api:    api,
		delays: delays,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for the check-in date.
func (p *AccountProcessor) WithClock(now func() time.Time) *AccountProcessor {
	p.now = now
	return p
}

// Process runs one account end to end. snapshot is read only; the account's
// entry is cloned before any mutation.
func (p *AccountProcessor) Process(ctx context.Context, cred domain.Credential, proxy string, snapshot domain.Ledger, settings domain.RunSettings) AccountResult {
	res := AccountResult{Fingerprint: cred.Fingerprint, State: domain.Ledger{}}
	log := p.logger.With().Str("token", cred.Fingerprint).Logger()

	log.Info().Msg("Fetching user profile...")
	profile, err := p.api.FetchProfile(ctx, cred.Token, proxy)
	if err != nil {
		res.Err = fmt.Errorf("fetch profile: %w", err)
		log.Error().Err(res.Err).Msg("Account processing failed")
		return res
	}

	email := profile.Email
	res.Email = email
	log = log.With().Str("email", email).Logger()

	st := domain.NewAccountState()
	if prev, ok := snapshot[email]; ok && prev != nil {
		st = prev.Clone()
	}
	res.State[email] = st

	res.CheckIn = p.dailyCheckIn(log, st)

	log.Info().Msg("Fetching tasks...")
	tasks, err := p.api.FetchTasks(ctx, cred.Token, proxy)
	if err != nil {
		res.Err = fmt.Errorf("fetch tasks: %w", err)
		log.Error().Err(res.Err).Msg("Account processing failed")
		return res
	}

	pending := domain.PendingTasks(tasks, st)
	log.Info().Int("fetched", len(tasks)).Int("pending", len(pending)).Msg("Found new pending tasks")

	for _, task := range pending {
		log.Info().Str("task_id", task.ID.String()).Str("title", task.DisplayTitle()).Msg("Processing task")

		if task.IsContainer() {
			for _, child := range domain.PendingTasks(task.Child, st) {
				if err := p.complete(ctx, cred, proxy, child.ID.String(), st); err != nil {
					res.Err = err
					break
				}
				res.TasksCompleted++
				if err := p.pause(ctx, settings.DelayBetweenTasks); err != nil {
					res.Err = err
					break
				}
			}
		} else {
			if err := p.complete(ctx, cred, proxy, task.ID.String(), st); err != nil {
				res.Err = err
			} else {
				res.TasksCompleted++
			}
		}

		if res.Err == nil {
			res.Err = p.pause(ctx, settings.DelayBetweenTasks)
		}
		if res.Err != nil {
			log.Error().Err(res.Err).Msg("Account processing failed")
			return res
		}
	}

	log.Info().
		Int("tasks_completed", len(st.Tasks)).
		Int("daily_checkins", len(st.CheckInDays)).
		Msg("Account summary")
	return res
}

func (p *AccountProcessor) dailyCheckIn(log zerolog.Logger, st *domain.AccountState) domain.CheckInResult {
	today := p.now().Format(domain.DayLayout)
	res := st.CheckIn(today)

	if !res.Recorded {
		log.Info().Str("day", today).Msg("Already checked in today")
		return res
	}

	log.Info().Msgf("Day %d/%d - 7-Day Challenge: Boost Your XP - Check-in successful!", res.DayCount, domain.ChallengeDays)
	if res.ChallengeComplete {
		log.Info().Msg("7-Day Challenge completed! XP Boost earned!")
	}
	return res
}

func (p *AccountProcessor) complete(ctx context.Context, cred domain.Credential, proxy, id string, st *domain.AccountState) error {
	if _, err := p.api.CompleteTask(ctx, id, cred.Token, proxy); err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	st.MarkTask(id)
	return nil
}

func (p *AccountProcessor) pause(ctx context.Context, r domain.DelayRange) error {
	if _, err := p.delays.Random(ctx, r); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}
