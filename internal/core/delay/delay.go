// Package delay models every cooperative wait of the bot so tests can replace real time.
package delay

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

// Sleeper waits for d or until ctx is done, whichever comes first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type ContextSleeper struct{}

func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Provider draws randomized delays from configured ranges and sleeps them.
type Provider struct {
	Sleeper Sleeper
	Rand    func() float64
}

func NewProvider() *Provider {
	return &Provider{Sleeper: ContextSleeper{}, Rand: rand.Float64}
}

func (p *Provider) Pick(r domain.DelayRange) time.Duration {
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return r.Pick(rnd())
}

// Random sleeps a uniform draw from r and returns the slept duration.
func (p *Provider) Random(ctx context.Context, r domain.DelayRange) (time.Duration, error) {
	d := p.Pick(r)
	return d, p.Sleep(ctx, d)
}

func (p *Provider) Sleep(ctx context.Context, d time.Duration) error {
	s := p.Sleeper
	if s == nil {
		s = ContextSleeper{}
	}
	return s.Sleep(ctx, d)
}
