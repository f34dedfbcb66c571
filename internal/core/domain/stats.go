package domain

import "time"

type RunStats struct {
	RunID                     string        `json:"run_id,omitempty"`
	GeneratedAt               time.Time     `json:"generated_at"`
	TotalAccounts             int           `json:"total_accounts"`
	TotalTasksCompleted       int           `json:"total_tasks_completed"`
	TotalDailyCheckins        int           `json:"total_daily_checkins"`
	AccountsWith7DayChallenge int           `json:"accounts_with_7day_challenge"`
	AccountDetails            []AccountStat `json:"account_details"`
}

type AccountStat struct {
	Email              string `json:"email"`
	TasksCompleted     int    `json:"tasks_completed"`
	DailyCheckins      int    `json:"daily_checkins"`
	ChallengeCompleted bool   `json:"challenge_completed"`
	CurrentStreak      int    `json:"current_streak"`
	LongestStreak      int    `json:"longest_streak"`
}

// PassSummary describes one sweep over every account.
type PassSummary struct {
	RunID            string        `json:"run_id"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Batches          int           `json:"batches"`
	Accounts         int           `json:"accounts"`
	FailedAccounts   int           `json:"failed_accounts"`
	TasksCompleted   int           `json:"tasks_completed"`
	CheckInsRecorded int           `json:"checkins_recorded"`
	Interrupted      bool          `json:"interrupted"`
	Stats            *RunStats     `json:"-"`
	Duration         time.Duration `json:"-"`
}
