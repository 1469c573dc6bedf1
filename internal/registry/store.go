package registry

import (
	"context"
	"sync"
	"time"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
)

// Store is the pending transfer registry. Implementations must make Put and
// TakeMatching on the same key mutually exclusive, and TakeMatching must
// remove the intent it returns.
type Store interface {
	// Put stores intent under key, replacing any intent already pending there
	Put(ctx context.Context, key string, intent types.TransferIntent) error
	// TakeMatching atomically removes and returns the intent under key
	TakeMatching(ctx context.Context, key string) (types.TransferIntent, bool, error)
	// Sweep evicts intents that expired before now and returns how many were dropped
	Sweep(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of pending intents
	Count(ctx context.Context) (int, error)
}

type entry struct {
	intent    types.TransferIntent
	expiresAt time.Time // zero means never
}

// MemoryStore is a single-process Store backed by a mutex-guarded map
type MemoryStore struct {
	items map[string]entry
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
}

// NewMemoryStore creates an in-memory registry. A ttl of zero disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores an intent, last write wins
func (s *MemoryStore) Put(_ context.Context, key string, intent types.TransferIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{intent: intent}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.items[key] = e
	return nil
}

// TakeMatching removes and returns the intent for key. Expired intents are
// dropped and reported as not found.
func (s *MemoryStore) TakeMatching(_ context.Context, key string) (types.TransferIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return types.TransferIntent{}, false, nil
	}
	delete(s.items, key)

	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		return types.TransferIntent{}, false, nil
	}
	return e.intent, true, nil
}

// Sweep evicts expired intents
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.items {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of stored intents, including any not yet swept
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}
