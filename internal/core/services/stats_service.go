package services

import (
	"sync"
	"time"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

// StatsService projects the ledger into run statistics and keeps the latest snapshot.
type StatsService struct {
	mu     sync.RWMutex
	latest *domain.RunStats
}

func NewStatsService() *StatsService {
	return &StatsService{}
}

func (s *StatsService) Generate(ledger domain.Ledger, runID string, now time.Time) *domain.RunStats {
	stats := &domain.RunStats{
		RunID:          runID,
		GeneratedAt:    now.UTC(),
		TotalAccounts:  len(ledger),
		AccountDetails: make([]domain.AccountStat, 0, len(ledger)),
	}

	for _, email := range ledger.Emails() {
		st := ledger[email]
		if st == nil {
			st = domain.NewAccountState()
		}

		current, longest := st.Streaks(now)
		detail := domain.AccountStat{
			Email:              email,
			TasksCompleted:     len(st.Tasks),
			DailyCheckins:      len(st.CheckInDays),
			ChallengeCompleted: st.ChallengeCompleted(),
			CurrentStreak:      current,
			LongestStreak:      longest,
		}

		stats.TotalTasksCompleted += detail.TasksCompleted
		stats.TotalDailyCheckins += detail.DailyCheckins
		if detail.ChallengeCompleted {
			stats.AccountsWith7DayChallenge++
		}
		stats.AccountDetails = append(stats.AccountDetails, detail)
	}

	s.mu.Lock()
	s.latest = stats
	s.mu.Unlock()

	return stats
}

func (s *StatsService) Latest() (*domain.RunStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, domain.ErrStatsNotReady
	}
	return s.latest, nil
}

func (s *StatsService) Account(email string) (*domain.AccountStat, error) {
	stats, err := s.Latest()
	if err != nil {
		return nil, err
	}
	for i := range stats.AccountDetails {
		if stats.AccountDetails[i].Email == email {
			d := stats.AccountDetails[i]
			return &d, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}
