package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// errUnchanged aborts an Update without persisting or failing the caller.
var errUnchanged = errors.New("request unchanged")

// RequestStore persists approval requests. Update serializes mutations per
// request id: the memory store holds a per-entry lock, the SQL store runs a
// version compare-and-swap. Mutations to different requests proceed in
// parallel.
type RequestStore interface {
	// Insert stores a new request. The request id must be unused.
	Insert(ctx context.Context, req *contracts.ApprovalRequest) error

	// Get returns a copy of the request, or ErrNotFound.
	Get(ctx context.Context, requestID string) (*contracts.ApprovalRequest, error)

	// Update applies mutate to the current state of the request and persists
	// the result with an incremented version. If mutate returns an error,
	// nothing is persisted and the error is returned unchanged.
	Update(ctx context.Context, requestID string, mutate func(*contracts.ApprovalRequest) error) (*contracts.ApprovalRequest, error)

	// ListByStatus returns copies of all requests with the given status,
	// ordered by creation time.
	ListByStatus(ctx context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error)
}

// MemoryRequestStore is the in-memory RequestStore. Each request carries its
// own mutex so decision submission serializes per request while distinct
// requests never contend.
type MemoryRequestStore struct {
	mu      sync.RWMutex
	entries map[string]*requestEntry
}

type requestEntry struct {
	mu  sync.Mutex
	req *contracts.ApprovalRequest
}

// NewMemoryRequestStore creates an empty store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{entries: make(map[string]*requestEntry)}
}

func (s *MemoryRequestStore) Insert(_ context.Context, req *contracts.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[req.RequestID]; exists {
		return fmt.Errorf("request %s already exists", req.RequestID)
	}
	s.entries[req.RequestID] = &requestEntry{req: req.Clone()}
	return nil
}

func (s *MemoryRequestStore) Get(_ context.Context, requestID string) (*contracts.ApprovalRequest, error) {
	entry, err := s.entry(requestID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.req.Clone(), nil
}

func (s *MemoryRequestStore) Update(_ context.Context, requestID string, mutate func(*contracts.ApprovalRequest) error) (*contracts.ApprovalRequest, error) {
	entry, err := s.entry(requestID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.req.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version++
	entry.req = next
	return next.Clone(), nil
}

func (s *MemoryRequestStore) ListByStatus(_ context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error) {
	s.mu.RLock()
	entries := make([]*requestEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*contracts.ApprovalRequest
	for _, e := range entries {
		e.mu.Lock()
		if e.req.Status == status {
			out = append(out, e.req.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryRequestStore) entry(requestID string) (*requestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return entry, nil
}
