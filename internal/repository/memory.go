package repository

import (
	"context"
	"sync"
	"time"

	"fitpass/internal/models"
)

// MemoryIntentStore is the in-process fallback used when Redis is unavailable.
type MemoryIntentStore struct {
	mu         sync.Mutex
	intents    map[string]memoryIntent
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

type memoryIntent struct {
	intent    models.OrderIntent
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryIntentStore() *MemoryIntentStore {
	return &MemoryIntentStore{
		intents:    make(map[string]memoryIntent),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryIntentStore) SaveIntent(_ context.Context, intent *models.OrderIntent, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[intent.GatewayOrderID] = memoryIntent{intent: *intent, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryIntentStore) GetIntent(_ context.Context, gatewayOrderID string) (*models.OrderIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.intents[gatewayOrderID]
	if !ok {
		return nil, nil
	}
	if r.now().After(entry.expiresAt) {
		delete(r.intents, gatewayOrderID)
		return nil, nil
	}
	intent := entry.intent
	return &intent, nil
}

func (r *MemoryIntentStore) DeleteIntent(_ context.Context, gatewayOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.intents, gatewayOrderID)
	return nil
}

func (r *MemoryIntentStore) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
