package domain

import (
	"sort"
	"time"
)

const (
	DayLayout = "2006-01-02"

	// ChallengeDays is the number of distinct check-in days that completes the weekly challenge.
	ChallengeDays = 7
)

type AccountState struct {
	CheckInDays map[string]bool `json:"checkInDays"`
	Tasks       map[string]bool `json:"tasks"`
}

func NewAccountState() *AccountState {
	return &AccountState{
		CheckInDays: make(map[string]bool),
		Tasks:       make(map[string]bool),
	}
}

type CheckInResult struct {
	Day               string
	DayCount          int
	Recorded          bool
	ChallengeComplete bool
}

// CheckIn records day once. ChallengeComplete is set only on the call that
// brings the set to exactly ChallengeDays entries.
func (a *AccountState) CheckIn(day string) CheckInResult {
	a.normalize()

	if a.CheckInDays[day] {
		return CheckInResult{Day: day, DayCount: len(a.CheckInDays)}
	}

	a.CheckInDays[day] = true
	count := len(a.CheckInDays)

	return CheckInResult{
		Day:               day,
		DayCount:          count,
		Recorded:          true,
		ChallengeComplete: count == ChallengeDays,
	}
}

func (a *AccountState) HasTask(id string) bool {
	return a.Tasks[id]
}

func (a *AccountState) MarkTask(id string) {
	a.normalize()
	a.Tasks[id] = true
}

func (a *AccountState) ChallengeCompleted() bool {
	return len(a.CheckInDays) >= ChallengeDays
}

func (a *AccountState) Clone() *AccountState {
	c := NewAccountState()
	for d := range a.CheckInDays {
		c.CheckInDays[d] = true
	}
	for id := range a.Tasks {
		c.Tasks[id] = true
	}
	return c
}

// Union adds every day and task of other to a.
func (a *AccountState) Union(other *AccountState) {
	a.normalize()
	if other == nil {
		return
	}
	for d := range other.CheckInDays {
		a.CheckInDays[d] = true
	}
	for id := range other.Tasks {
		a.Tasks[id] = true
	}
}

// Streaks returns the current and longest runs of consecutive check-in days.
// The current streak stays alive while the latest day is today or yesterday.
func (a *AccountState) Streaks(now time.Time) (int, int) {
	var dates []time.Time
	for d := range a.CheckInDays {
		t, err := time.Parse(DayLayout, d)
		if err != nil {
			continue
		}
		dates = append(dates, t)
	}

	if len(dates) == 0 {
		return 0, 0
	}

	sort.Slice(dates, func(i, j int) bool {
		return dates[i].After(dates[j])
	})

	today, _ := time.Parse(DayLayout, now.Format(DayLayout))

	current := 0
	if today.Sub(dates[0]).Hours()/24 <= 1 {
		current = 1
		for i := 0; i < len(dates)-1; i++ {
			if dates[i].Sub(dates[i+1]).Hours() == 24 {
				current++
			} else {
				break
			}
		}
	}

	longest := 0
	run := 1
	for i := 0; i < len(dates)-1; i++ {
		if dates[i].Sub(dates[i+1]).Hours() == 24 {
			run++
		} else {
			if run > longest {
				longest = run
			}
			run = 1
		}
	}
	if run > longest {
		longest = run
	}

	return current, longest
}

func (a *AccountState) normalize() {
	if a.CheckInDays == nil {
		a.CheckInDays = make(map[string]bool)
	}
	if a.Tasks == nil {
		a.Tasks = make(map[string]bool)
	}
}

// Ledger maps an account email to its persisted progress.
type Ledger map[string]*AccountState

// Ensure returns the entry for email, creating an empty one when absent.
func (l Ledger) Ensure(email string) *AccountState {
	st, ok := l[email]
	if !ok || st == nil {
		st = NewAccountState()
		l[email] = st
	}
	st.normalize()
	return st
}

func (l Ledger) Clone() Ledger {
	c := make(Ledger, len(l))
	for email, st := range l {
		if st == nil {
			c[email] = NewAccountState()
			continue
		}
		c[email] = st.Clone()
	}
	return c
}

// Merge unions other into l. Entries are never replaced wholesale.
func (l Ledger) Merge(other Ledger) {
	for email, st := range other {
		l.Ensure(email).Union(st)
	}
}

func (l Ledger) Emails() []string {
	emails := make([]string, 0, len(l))
	for email := range l {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}
