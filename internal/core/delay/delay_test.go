package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

func TestContextSleeper(t *testing.T) {
	t.Run("Returns early when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		start := time.Now()
		err := ContextSleeper{}.Sleep(ctx, time.Hour)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Sleeps the requested duration", func(t *testing.T) {
		start := time.Now()
		assert.NoError(t, ContextSleeper{}.Sleep(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
}

type recordSleeper struct{ got []time.Duration }

func (r *recordSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.got = append(r.got, d)
	return nil
}

func TestProvider_Random(t *testing.T) {
	rec := &recordSleeper{}
	p := &Provider{Sleeper: rec, Rand: func() float64 { return 0.25 }}

	d, err := p.Random(context.Background(), domain.DelayRange{Min: 1, Max: 5})
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.got)
}
