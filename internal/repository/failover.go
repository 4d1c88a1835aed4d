package repository

import (
	"context"
	"sync/atomic"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/models"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long the failover waits before probing the primary again.
const recoveryInterval = time.Minute

type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

// observe records the primary's outcome and reports whether it succeeded.
func (r *FailoverStateRepository) observe(err error) bool {
	if err == nil {
		if r.isDown.Swap(false) {
			r.logger.Info().Msg("Primary state repository recovered")
		}
		return true
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
	return false
}

func (r *FailoverStateRepository) GetCheckoutSession(ctx context.Context, orderID string) (*models.CheckoutSession, error) {
	if r.usePrimary() {
		session, err := r.primary.GetCheckoutSession(ctx, orderID)
		if r.observe(err) {
			return session, nil
		}
	}
	return r.fallback.GetCheckoutSession(ctx, orderID)
}

func (r *FailoverStateRepository) SetCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	if r.usePrimary() {
		if r.observe(r.primary.SetCheckoutSession(ctx, session)) {
			return nil
		}
	}
	return r.fallback.SetCheckoutSession(ctx, session)
}

func (r *FailoverStateRepository) ClearCheckoutSession(ctx context.Context, orderID string) error {
	if r.usePrimary() {
		if r.observe(r.primary.ClearCheckoutSession(ctx, orderID)) {
			return nil
		}
	}
	return r.fallback.ClearCheckoutSession(ctx, orderID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if r.observe(err) {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}

func (r *FailoverStateRepository) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLock(ctx, key, owner, ttl)
		if r.observe(err) {
			return ok, nil
		}
	}
	return r.fallback.AcquireLock(ctx, key, owner, ttl)
}

// ReleaseLock releases on both stores: the lock may have been taken before a failover.
func (r *FailoverStateRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	_ = r.fallback.ReleaseLock(ctx, key, owner)
	if r.usePrimary() {
		if err := r.primary.ReleaseLock(ctx, key, owner); err != nil {
			r.observe(err)
		}
	}
	return nil
}
