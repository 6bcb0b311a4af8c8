package gate

import (
	"context"
	"sync"
)

// ClaimStore hands out single-acquire execution slots. For any id, Claim
// returns true exactly once across all callers and all time; claims are never
// released.
type ClaimStore interface {
	Claim(ctx context.Context, id string) (bool, error)
}

// MemoryClaimStore is the in-process ClaimStore.
type MemoryClaimStore struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// NewMemoryClaimStore creates an empty claim store.
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{claimed: make(map[string]bool)}
}

func (s *MemoryClaimStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[id] {
		return false, nil
	}
	s.claimed[id] = true
	return true, nil
}

// pendingStore holds submitted actions keyed by pending id.
type pendingStore struct {
	mu      sync.RWMutex
	entries map[string]*pendingAction
}

func newPendingStore() *pendingStore {
	return &pendingStore{entries: make(map[string]*pendingAction)}
}

func (s *pendingStore) put(id string, entry *pendingAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry
}

func (s *pendingStore) get(id string) (*pendingAction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}
