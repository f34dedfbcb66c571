package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/core/domain"
)

const (
	ledgerCacheKey = "walme:ledger"
	ledgerCacheTTL = 30 * time.Minute
)

var _ domain.StateRepository = (*CachedStateRepository)(nil)

// CachedStateRepository serves Load from Redis and drops the cached copy on every Save.
type CachedStateRepository struct {
	next   domain.StateRepository
	cache  *redis.Client
	logger zerolog.Logger
}

func NewCachedStateRepository(next domain.StateRepository, cache *redis.Client, logger zerolog.Logger) *CachedStateRepository {
	return &CachedStateRepository{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

func (r *CachedStateRepository) invalidate(ctx context.Context) {
	if err := r.cache.Del(ctx, ledgerCacheKey).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to invalidate cached ledger")
	}
}

func (r *CachedStateRepository) Load(ctx context.Context) (domain.Ledger, error) {
	val, err := r.cache.Get(ctx, ledgerCacheKey).Result()
	if err == nil {
		var ledger domain.Ledger
		if err := json.Unmarshal([]byte(val), &ledger); err == nil {
			return ledger, nil
		}

		r.logger.Warn().Msg("Corrupted cached ledger, cleaning up key")
		r.cache.Del(ctx, ledgerCacheKey)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Msg("Redis read error")
	}

	ledger, err := r.next.Load(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ledger); err == nil {
		if setErr := r.cache.Set(ctx, ledgerCacheKey, data, ledgerCacheTTL).Err(); setErr != nil {
			r.logger.Warn().Err(setErr).Msg("Redis set error")
		}
	}

	return ledger, nil
}

func (r *CachedStateRepository) Save(ctx context.Context, ledger domain.Ledger) error {
	if err := r.next.Save(ctx, ledger); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}
