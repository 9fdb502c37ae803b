package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fitpass/internal/domain"
	"fitpass/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverIntentStore uses primary until it errors, then serves from fallback
// and retries primary again once per recovery interval.
type FailoverIntentStore struct {
	primary  domain.IntentStore
	fallback domain.IntentStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverIntentStore(primary, fallback domain.IntentStore, logger *zerolog.Logger) *FailoverIntentStore {
	return &FailoverIntentStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverIntentStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary intent store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// shouldRetryPrimary reports whether a downed primary is due for another attempt.
func (r *FailoverIntentStore) shouldRetryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverIntentStore) usePrimary() bool {
	return !r.isDown.Load() || r.shouldRetryPrimary()
}

func (r *FailoverIntentStore) SaveIntent(ctx context.Context, intent *models.OrderIntent, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SaveIntent(ctx, intent, ttl)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveIntent(ctx, intent, ttl)
}

func (r *FailoverIntentStore) GetIntent(ctx context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	if r.usePrimary() {
		intent, err := r.primary.GetIntent(ctx, gatewayOrderID)
		if err == nil {
			r.isDown.Store(false)
			if intent != nil {
				return intent, nil
			}
			// The intent may have been written to the fallback during an outage.
			return r.fallback.GetIntent(ctx, gatewayOrderID)
		}
		r.markDown(err)
	}
	return r.fallback.GetIntent(ctx, gatewayOrderID)
}

func (r *FailoverIntentStore) DeleteIntent(ctx context.Context, gatewayOrderID string) error {
	_ = r.fallback.DeleteIntent(ctx, gatewayOrderID)
	if r.usePrimary() {
		err := r.primary.DeleteIntent(ctx, gatewayOrderID)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverIntentStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
