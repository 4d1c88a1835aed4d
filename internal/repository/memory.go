package repository

import (
	"context"
	"sync"
	"time"

	"stayledger/internal/models"
)

// MemoryStateRepository is the single-node fallback used while Redis is down.
type MemoryStateRepository struct {
	sessions   sync.Map
	rateLimits sync.Map
	ttl        time.Duration

	mu    sync.Mutex
	locks map[string]lockEntry
}

type lockEntry struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl:   ttl,
		locks: make(map[string]lockEntry),
	}
}

func (r *MemoryStateRepository) GetCheckoutSession(ctx context.Context, orderID string) (*models.CheckoutSession, error) {
	val, ok := r.sessions.Load(orderID)
	if !ok {
		return nil, nil
	}
	session := val.(*models.CheckoutSession)
	if time.Now().After(session.ExpiresAt) {
		r.sessions.Delete(orderID)
		return nil, nil
	}
	return session, nil
}

func (r *MemoryStateRepository) SetCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = time.Now().UTC().Add(r.ttl)
	}
	r.sessions.Store(session.OrderID, session)
	return nil
}

func (r *MemoryStateRepository) ClearCheckoutSession(ctx context.Context, orderID string) error {
	r.sessions.Delete(orderID)
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, _ := r.rateLimits.LoadOrStore(userID, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}

func (r *MemoryStateRepository) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if cur, ok := r.locks[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	r.locks[key] = lockEntry{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (r *MemoryStateRepository) ReleaseLock(ctx context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.locks[key]; ok && cur.owner == owner {
		delete(r.locks, key)
	}
	return nil
}
