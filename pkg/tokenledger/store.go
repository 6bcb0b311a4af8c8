package tokenledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// TokenStore persists the provenance DAG. Insert is atomic: the parent
// existence check and the write happen under one lock or transaction, so a
// token can never be minted against a parent that is not already committed.
type TokenStore interface {
	// Insert stores a new token and assigns its Sequence. Returns
	// ErrDanglingParent if any referenced parent is unknown.
	Insert(ctx context.Context, token *contracts.AuditToken) error

	// Get returns a copy of the token, or ErrNotFound.
	Get(ctx context.Context, tokenID string) (*contracts.AuditToken, error)

	// Ancestors returns every transitive parent of tokenID, ordered by
	// Sequence. The token itself is not included.
	Ancestors(ctx context.Context, tokenID string) ([]*contracts.AuditToken, error)

	// Children returns all tokens that list tokenID as a parent, ordered by
	// Sequence.
	Children(ctx context.Context, tokenID string) ([]*contracts.AuditToken, error)
}

// MemoryTokenStore is the in-memory TokenStore.
type MemoryTokenStore struct {
	mu       sync.RWMutex
	tokens   map[string]*contracts.AuditToken
	children map[string][]string
	nextSeq  uint64
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens:   make(map[string]*contracts.AuditToken),
		children: make(map[string][]string),
	}
}

func (s *MemoryTokenStore) Insert(_ context.Context, token *contracts.AuditToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.TokenID]; exists {
		return fmt.Errorf("token %s already exists", token.TokenID)
	}
	for _, parent := range token.ParentTokenIDs {
		if _, ok := s.tokens[parent]; !ok {
			return fmt.Errorf("token %s parent %s: %w", token.TokenID, parent, ErrDanglingParent)
		}
	}

	s.nextSeq++
	token.Sequence = s.nextSeq
	s.tokens[token.TokenID] = token.Clone()
	for _, parent := range token.ParentTokenIDs {
		s.children[parent] = append(s.children[parent], token.TokenID)
	}
	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, tokenID string) (*contracts.AuditToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	return token.Clone(), nil
}

func (s *MemoryTokenStore) Ancestors(_ context.Context, tokenID string) ([]*contracts.AuditToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}

	visited := make(map[string]bool)
	var out []*contracts.AuditToken
	frontier := append([]string(nil), start.ParentTokenIDs...)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		token := s.tokens[id]
		out = append(out, token.Clone())
		frontier = append(frontier, token.ParentTokenIDs...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryTokenStore) Children(_ context.Context, tokenID string) ([]*contracts.AuditToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tokens[tokenID]; !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrNotFound)
	}
	out := make([]*contracts.AuditToken, 0, len(s.children[tokenID]))
	for _, id := range s.children[tokenID] {
		out = append(out, s.tokens[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
