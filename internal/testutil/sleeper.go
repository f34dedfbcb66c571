// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// Sleeper records requested sleeps and returns immediately.
type Sleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Sleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func (s *Sleeper) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeps)
}
