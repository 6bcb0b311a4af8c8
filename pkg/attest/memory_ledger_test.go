package attest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

func transitionRecord(requestID string, from, to contracts.ApprovalStatus) contracts.AttestationRecord {
	return contracts.AttestationRecord{
		RequestID:    requestID,
		FromStatus:   from,
		ToStatus:     to,
		ContentHash:  "sha256:aa",
		MetadataHash: "sha256:bb",
		Timestamp:    time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLedgerRecord(t *testing.T) {
	l := NewMemoryLedger()
	txRef, err := l.RecordTransition(context.Background(), transitionRecord("req-1", "", contracts.ApprovalPending))
	if err != nil {
		t.Fatal(err)
	}
	if txRef == "" {
		t.Fatal("expected a tx_ref")
	}
	if l.Length() != 1 {
		t.Fatalf("expected length 1, got %d", l.Length())
	}
	if l.Head() != txRef {
		t.Fatal("head should be the last tx_ref")
	}
}

func TestMemoryLedgerHead(t *testing.T) {
	l := NewMemoryLedger()
	if l.Head() != "genesis" {
		t.Fatal("expected genesis head")
	}
	l.RecordTransition(context.Background(), transitionRecord("req-1", "", contracts.ApprovalPending))
	if l.Head() == "genesis" {
		t.Fatal("head should change after a record")
	}
}

func TestMemoryLedgerDedup(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	rec := transitionRecord("req-1", contracts.ApprovalPending, contracts.ApprovalApproved)

	first, err := l.RecordTransition(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.RecordTransition(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("duplicate record must return the original tx_ref: %s != %s", first, second)
	}
	if l.Length() != 1 {
		t.Fatalf("duplicate must not append, length %d", l.Length())
	}
}

func TestMemoryLedgerQueryTransition(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))
	txRef, _ := l.RecordTransition(ctx, transitionRecord("req-1", contracts.ApprovalPending, contracts.ApprovalApproved))

	ev, err := l.QueryTransition(ctx, "req-1", contracts.ApprovalApproved)
	if err != nil {
		t.Fatal(err)
	}
	if ev.TxRef != txRef {
		t.Fatalf("expected tx_ref %s, got %s", txRef, ev.TxRef)
	}
	if ev.FromStatus != contracts.ApprovalPending {
		t.Fatalf("expected from PENDING, got %s", ev.FromStatus)
	}

	_, err = l.QueryTransition(ctx, "req-1", contracts.ApprovalRejected)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedgerChainIntegrity(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))
	l.RecordTransition(ctx, transitionRecord("req-1", contracts.ApprovalPending, contracts.ApprovalApproved))
	l.RecordTransition(ctx, transitionRecord("req-2", "", contracts.ApprovalPending))

	ok, reason := l.Verify()
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}
}

func TestMemoryLedgerVerifyDetectsTamper(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))
	l.RecordTransition(ctx, transitionRecord("req-2", "", contracts.ApprovalPending))

	l.entries[0].ContentHash = "sha256:tampered"

	ok, _ := l.Verify()
	if ok {
		t.Fatal("expected verification to fail after tamper")
	}
}

func TestMemoryLedgerHandlers(t *testing.T) {
	l := NewMemoryLedger()
	var (
		mu     sync.Mutex
		events []contracts.TransitionEvent
	)
	l.AddHandler(func(ev contracts.TransitionEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx := context.Background()
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))
	// A deduplicated record must not fire handlers again.
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].RequestID != "req-1" || events[0].ToStatus != contracts.ApprovalPending {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestMemoryLedgerHistory(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	l.RecordTransition(ctx, transitionRecord("req-1", "", contracts.ApprovalPending))
	l.RecordTransition(ctx, transitionRecord("req-2", "", contracts.ApprovalPending))
	l.RecordTransition(ctx, transitionRecord("req-1", contracts.ApprovalPending, contracts.ApprovalExpired))

	hist := l.History("req-1")
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[1].ToStatus != contracts.ApprovalExpired {
		t.Fatalf("expected EXPIRED last, got %s", hist[1].ToStatus)
	}
}
