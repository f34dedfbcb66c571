package domain

import "time"

// DelayRange is a uniform random range expressed in seconds.
type DelayRange struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// Pick maps r01 in [0,1) onto the range.
func (r DelayRange) Pick(r01 float64) time.Duration {
	lo, hi := r.Min, r.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = 0
	}
	secs := lo + (hi-lo)*r01
	return time.Duration(secs * float64(time.Second))
}

// RunSettings are the knobs the batch runner and account processor read on every pass.
type RunSettings struct {
	UseProxies           bool
	MaxConcurrency       int
	RetryAttempts        int
	DelayBetweenAccounts DelayRange
	DelayBetweenTasks    DelayRange
	RunInterval          time.Duration
}

// BatchSize is max(1, min(MaxConcurrency, accounts)).
func (s RunSettings) BatchSize(accounts int) int {
	size := s.MaxConcurrency
	if accounts < size {
		size = accounts
	}
	if size < 1 {
		size = 1
	}
	return size
}
