package attest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/canonical"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// Entry is one committed ledger transaction. Entries are hash-chained: each
// entry's hash covers its payload and the previous entry's hash.
type Entry struct {
	Sequence     uint64                   `json:"sequence"`
	RequestID    string                   `json:"request_id"`
	FromStatus   contracts.ApprovalStatus `json:"from_status,omitempty"`
	ToStatus     contracts.ApprovalStatus `json:"to_status"`
	ContentHash  string                   `json:"content_hash"`
	MetadataHash string                   `json:"metadata_hash"`
	PrevHash     string                   `json:"prev_hash"`
	TxRef        string                   `json:"tx_ref"`
	Timestamp    time.Time                `json:"timestamp"`
}

// Handler receives transition events as they commit.
type Handler func(ev contracts.TransitionEvent)

// MemoryLedger is an in-process, append-only, hash-chained attestation ledger.
// It backs single-node deployments and tests; production nodes point the same
// Client interface at the HTTP ledger service.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	byKey    map[string]uint64
	headHash string
	handlers []Handler
	clock    func() time.Time
}

// NewMemoryLedger creates an empty ledger with a "genesis" head.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byKey:    make(map[string]uint64),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// AddHandler subscribes to committed transitions. Handlers run synchronously
// after commit, outside the ledger lock, in subscription order.
func (l *MemoryLedger) AddHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// RecordTransition appends one transition. Re-recording a committed
// (request_id, to_status) pair returns the original transaction reference
// without appending.
func (l *MemoryLedger) RecordTransition(_ context.Context, rec contracts.AttestationRecord) (string, error) {
	l.mu.Lock()

	if seq, dup := l.byKey[rec.DedupKey()]; dup {
		txRef := l.entries[seq-1].TxRef
		l.mu.Unlock()
		return txRef, nil
	}

	entry := Entry{
		Sequence:     uint64(len(l.entries)) + 1,
		RequestID:    rec.RequestID,
		FromStatus:   rec.FromStatus,
		ToStatus:     rec.ToStatus,
		ContentHash:  rec.ContentHash,
		MetadataHash: rec.MetadataHash,
		PrevHash:     l.headHash,
		Timestamp:    rec.Timestamp,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock()
	}
	txRef, err := entryHash(entry)
	if err != nil {
		l.mu.Unlock()
		return "", fmt.Errorf("hash ledger entry: %w", err)
	}
	entry.TxRef = txRef

	l.entries = append(l.entries, entry)
	l.byKey[rec.DedupKey()] = entry.Sequence
	l.headHash = txRef
	handlers := append([]Handler(nil), l.handlers...)
	l.mu.Unlock()

	ev := contracts.TransitionEvent{
		RequestID:  entry.RequestID,
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		TxRef:      entry.TxRef,
		Timestamp:  entry.Timestamp,
	}
	for _, h := range handlers {
		h(ev)
	}
	return txRef, nil
}

// QueryTransition returns the committed transition for (requestID, toStatus).
func (l *MemoryLedger) QueryTransition(_ context.Context, requestID string, toStatus contracts.ApprovalStatus) (*contracts.TransitionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := contracts.AttestationRecord{RequestID: requestID, ToStatus: toStatus}.DedupKey()
	seq, ok := l.byKey[key]
	if !ok {
		return nil, fmt.Errorf("request %s to %s: %w", requestID, toStatus, ErrNotFound)
	}
	e := l.entries[seq-1]
	return &contracts.TransitionEvent{
		RequestID:  e.RequestID,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		TxRef:      e.TxRef,
		Timestamp:  e.Timestamp,
	}, nil
}

// History returns all transitions recorded for a request, in commit order.
func (l *MemoryLedger) History(requestID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// Head returns the current head hash.
func (l *MemoryLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of committed entries.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify walks the chain and recomputes every entry hash. It returns false
// with a description at the first inconsistency.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.TxRef {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.TxRef
	}
	return true, "chain verified"
}

// entryHash computes the chained transaction reference. TxRef itself is
// excluded from the hashed material.
func entryHash(e Entry) (string, error) {
	e.TxRef = ""
	return canonical.Hash(e)
}
