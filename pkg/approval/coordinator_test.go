package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/crypto"
	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/policy"
)

type recorderStub struct {
	mu         sync.Mutex
	records    []contracts.AttestationRecord
	pendingIDs map[string]bool
}

func newRecorderStub() *recorderStub {
	return &recorderStub{pendingIDs: make(map[string]bool)}
}

func (r *recorderStub) RecordTransition(rec contracts.AttestationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorderStub) Pending(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingIDs[requestID]
}

func (r *recorderStub) count(to contracts.ApprovalStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.ToStatus == to {
			n++
		}
	}
	return n
}

type fixture struct {
	coord    *Coordinator
	store    *MemoryRequestStore
	recorder *recorderStub
	signers  map[string]*crypto.Ed25519Signer
	base     time.Time
	elapsed  time.Duration
}

func newFixture(t *testing.T, approvers ...string) *fixture {
	t.Helper()

	dir := crypto.NewMemoryDirectory()
	signers := make(map[string]*crypto.Ed25519Signer, len(approvers))
	for _, a := range approvers {
		s, err := crypto.NewEd25519Signer(a)
		if err != nil {
			t.Fatal(err)
		}
		dir.AddKey(a, s.PublicKey())
		signers[a] = s
	}
	router := crypto.NewSchemeRouter()
	router.Register(crypto.SchemeEd25519, crypto.NewEd25519Verifier(dir))

	f := &fixture{
		store:    NewMemoryRequestStore(),
		recorder: newRecorderStub(),
		signers:  signers,
		base:     time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
	f.coord = NewCoordinator(f.store, policy.Default(), router, f.recorder).
		WithClock(func() time.Time { return f.base.Add(f.elapsed) })
	return f
}

func (f *fixture) create(t *testing.T, action contracts.ActionType, approvers ...string) *contracts.ApprovalRequest {
	t.Helper()
	req, err := f.coord.CreateRequest(context.Background(), CreateParams{
		ActionType:        action,
		AssetID:           "asset-001",
		Content:           map[string]any{"body": "release notes draft"},
		Metadata:          map[string]any{"origin": "squadron-02"},
		RequiredApprovers: approvers,
	})
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func (f *fixture) submit(t *testing.T, requestID, approver string, verdict contracts.DecisionVerdict) (*contracts.ApprovalRequest, error) {
	t.Helper()
	signer, ok := f.signers[approver]
	if !ok {
		t.Fatalf("no signer for %s", approver)
	}
	ts := f.base.Add(f.elapsed)
	sig, err := signer.SignDecision(requestID, verdict, ts)
	if err != nil {
		t.Fatal(err)
	}
	return f.coord.SubmitDecision(context.Background(), requestID, SubmitParams{
		ApproverID: approver,
		Verdict:    verdict,
		Signature:  sig,
		Timestamp:  ts,
	})
}

func TestCreateRequestDerivesPolicy(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")

	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")
	if req.MinApprovals != 2 {
		t.Fatalf("expected min_approvals 2, got %d", req.MinApprovals)
	}
	if req.Status != contracts.ApprovalPending {
		t.Fatalf("expected PENDING, got %s", req.Status)
	}
	if want := f.base.Add(7 * 24 * time.Hour); !req.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, req.ExpiresAt)
	}
	if !strings.HasPrefix(req.ContentHash, "sha256:") || !strings.HasPrefix(req.MetadataHash, "sha256:") {
		t.Fatalf("hashes not content-addressed: %s / %s", req.ContentHash, req.MetadataHash)
	}
	if req.ContentHash == req.MetadataHash {
		t.Fatal("content and metadata must hash independently")
	}
	if f.recorder.count(contracts.ApprovalPending) != 1 {
		t.Fatal("creation transition not attested")
	}

	secret := f.create(t, contracts.ActionSecretAccess, "alpha", "beta", "gamma")
	if secret.MinApprovals != 3 {
		t.Fatalf("secret access must be unanimous, got min_approvals %d", secret.MinApprovals)
	}
	if want := f.base.Add(4 * time.Hour); !secret.ExpiresAt.Equal(want) {
		t.Fatalf("expected 4h expiry, got %v", secret.ExpiresAt)
	}
}

func TestCreateRequestEmptyApprovers(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateRequest(context.Background(), CreateParams{
		ActionType: contracts.ActionCommunication,
	})
	if !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestCreateRequestUnknownAction(t *testing.T) {
	f := newFixture(t, "alpha")
	_, err := f.coord.CreateRequest(context.Background(), CreateParams{
		ActionType:        contracts.ActionType("TIME_TRAVEL"),
		RequiredApprovers: []string{"alpha"},
	})
	if !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestCreateRequestDedupesApprovers(t *testing.T) {
	f := newFixture(t, "alpha", "beta")
	req := f.create(t, contracts.ActionCommunication, "alpha", "alpha", "beta")
	if len(req.RequiredApprovers) != 2 {
		t.Fatalf("expected 2 unique approvers, got %v", req.RequiredApprovers)
	}
	if req.MinApprovals != 1 {
		t.Fatalf("majority of 2 is 1, got %d", req.MinApprovals)
	}
}

func TestMajorityApproval(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	after, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != contracts.ApprovalPending {
		t.Fatalf("one of two approvals should stay PENDING, got %s", after.Status)
	}

	after, err = f.submit(t, req.RequestID, "beta", contracts.VerdictApprove)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != contracts.ApprovalApproved {
		t.Fatalf("expected APPROVED at threshold, got %s", after.Status)
	}
	if f.recorder.count(contracts.ApprovalApproved) != 1 {
		t.Fatal("approval transition not attested exactly once")
	}

	_, err = f.submit(t, req.RequestID, "gamma", contracts.VerdictApprove)
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized after terminal, got %v", err)
	}
}

func TestRejectionWhenMajorityUnreachable(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	after, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictReject)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != contracts.ApprovalPending {
		t.Fatalf("single rejection of three should stay PENDING, got %s", after.Status)
	}

	after, err = f.submit(t, req.RequestID, "beta", contracts.VerdictReject)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != contracts.ApprovalRejected {
		t.Fatalf("two rejections make approval unreachable, got %s", after.Status)
	}
	if f.recorder.count(contracts.ApprovalRejected) != 1 {
		t.Fatal("rejection transition not attested")
	}
}

func TestUnanimousSingleVeto(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionSecretAccess, "alpha", "beta", "gamma")

	after, err := f.submit(t, req.RequestID, "beta", contracts.VerdictReject)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != contracts.ApprovalRejected {
		t.Fatalf("any rejection kills a unanimous request, got %s", after.Status)
	}
}

func TestUnauthorizedApprover(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	intruder, err := crypto.NewEd25519Signer("intruder")
	if err != nil {
		t.Fatal(err)
	}
	ts := f.base
	sig, _ := intruder.SignDecision(req.RequestID, contracts.VerdictApprove, ts)
	_, err = f.coord.SubmitDecision(context.Background(), req.RequestID, SubmitParams{
		ApproverID: "intruder",
		Verdict:    contracts.VerdictApprove,
		Signature:  sig,
		Timestamp:  ts,
	})
	if !errors.Is(err, ErrUnauthorizedApprover) {
		t.Fatalf("expected ErrUnauthorizedApprover, got %v", err)
	}
}

func TestDuplicateApproverRejected(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	if _, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove); err != nil {
		t.Fatal(err)
	}
	_, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictReject)
	if !errors.Is(err, ErrDuplicateApprover) {
		t.Fatalf("expected ErrDuplicateApprover, got %v", err)
	}

	view, err := f.coord.GetStatus(context.Background(), req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Request.Decisions) != 1 {
		t.Fatalf("duplicate must not append, got %d decisions", len(view.Request.Decisions))
	}
	if view.Request.Decisions[0].Verdict != contracts.VerdictApprove {
		t.Fatal("original decision must stand unchanged")
	}
}

func TestInvalidSignature(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	ts := f.base
	// Beta's key signing a decision claimed by alpha.
	sig, _ := f.signers["beta"].SignDecision(req.RequestID, contracts.VerdictApprove, ts)
	_, err := f.coord.SubmitDecision(context.Background(), req.RequestID, SubmitParams{
		ApproverID: "alpha",
		Verdict:    contracts.VerdictApprove,
		Signature:  sig,
		Timestamp:  ts,
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	view, _ := f.coord.GetStatus(context.Background(), req.RequestID)
	if len(view.Request.Decisions) != 0 {
		t.Fatal("rejected decision must not be recorded")
	}
}

func TestSignatureBindsVerdict(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	ts := f.base
	sig, _ := f.signers["alpha"].SignDecision(req.RequestID, contracts.VerdictApprove, ts)
	// Same signature presented with a flipped verdict.
	_, err := f.coord.SubmitDecision(context.Background(), req.RequestID, SubmitParams{
		ApproverID: "alpha",
		Verdict:    contracts.VerdictReject,
		Signature:  sig,
		Timestamp:  ts,
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for verdict swap, got %v", err)
	}
}

func TestLazyExpiryAtSubmit(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	f.elapsed = 7*24*time.Hour + time.Minute

	_, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove)
	if !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("expected ErrRequestExpired, got %v", err)
	}

	stored, err := f.store.Get(context.Background(), req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != contracts.ApprovalExpired {
		t.Fatalf("expiry must persist, got %s", stored.Status)
	}
	if len(stored.Decisions) != 0 {
		t.Fatal("expiry must not record the late decision")
	}
	if f.recorder.count(contracts.ApprovalExpired) != 1 {
		t.Fatal("expiry transition not attested")
	}
}

func TestLazyExpiryAtRead(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	if _, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove); err != nil {
		t.Fatal(err)
	}

	f.elapsed = 8 * 24 * time.Hour

	view, err := f.coord.GetStatus(context.Background(), req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Request.Status != contracts.ApprovalExpired {
		t.Fatalf("expected EXPIRED on read, got %s", view.Request.Status)
	}
	if len(view.Request.Decisions) != 1 {
		t.Fatal("expiry must preserve recorded decisions")
	}

	// A second read must not attest the transition again.
	if _, err := f.coord.GetStatus(context.Background(), req.RequestID); err != nil {
		t.Fatal(err)
	}
	if f.recorder.count(contracts.ApprovalExpired) != 1 {
		t.Fatalf("expected exactly one EXPIRED attestation, got %d", f.recorder.count(contracts.ApprovalExpired))
	}
}

func TestExactDeadlineExpires(t *testing.T) {
	f := newFixture(t, "alpha")
	req := f.create(t, contracts.ActionCommunication, "alpha")

	f.elapsed = 7 * 24 * time.Hour // now == expiresAt

	_, err := f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove)
	if !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("deadline is inclusive, got %v", err)
	}
}

func TestTerminalStatusImmutable(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	f.submit(t, req.RequestID, "alpha", contracts.VerdictApprove)
	f.submit(t, req.RequestID, "beta", contracts.VerdictApprove)

	// Even far past the deadline an APPROVED request never becomes EXPIRED.
	f.elapsed = 30 * 24 * time.Hour
	view, err := f.coord.GetStatus(context.Background(), req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Request.Status != contracts.ApprovalApproved {
		t.Fatalf("terminal status must not drift, got %s", view.Request.Status)
	}
}

func TestAttestationPendingFlag(t *testing.T) {
	f := newFixture(t, "alpha")
	req := f.create(t, contracts.ActionCommunication, "alpha")

	f.recorder.mu.Lock()
	f.recorder.pendingIDs[req.RequestID] = true
	f.recorder.mu.Unlock()

	view, err := f.coord.GetStatus(context.Background(), req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if !view.AttestationPending {
		t.Fatal("expected attestation_pending to surface")
	}
}

func TestGetStatusNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.GetStatus(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPendingAppliesExpiry(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")

	stale := f.create(t, contracts.ActionSecretAccess, "alpha", "beta", "gamma") // 4h TTL
	f.elapsed = time.Hour
	live := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma") // 7d TTL
	done := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")
	f.submit(t, done.RequestID, "alpha", contracts.VerdictApprove)
	f.submit(t, done.RequestID, "beta", contracts.VerdictApprove)

	f.elapsed = 6 * time.Hour // stale is past its 4h deadline

	pending, err := f.coord.ListPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RequestID != live.RequestID {
		t.Fatalf("expected only the live request, got %d entries", len(pending))
	}

	staleView, _ := f.coord.GetStatus(context.Background(), stale.RequestID)
	if staleView.Request.Status != contracts.ApprovalExpired {
		t.Fatalf("stale request should be EXPIRED, got %s", staleView.Request.Status)
	}
}

func TestConcurrentDecisionsFinalizeOnce(t *testing.T) {
	f := newFixture(t, "alpha", "beta", "gamma")
	req := f.create(t, contracts.ActionCommunication, "alpha", "beta", "gamma")

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for _, approver := range []string{"alpha", "beta", "gamma"} {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			ts := f.base
			sig, err := f.signers[a].SignDecision(req.RequestID, contracts.VerdictApprove, ts)
			if err != nil {
				results <- err
				return
			}
			_, err = f.coord.SubmitDecision(context.Background(), req.RequestID, SubmitParams{
				ApproverID: a,
				Verdict:    contracts.VerdictApprove,
				Signature:  sig,
				Timestamp:  ts,
			})
			results <- err
		}(approver)
	}
	wg.Wait()
	close(results)

	var ok, finalized int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyFinalized):
			finalized++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 2 || finalized != 1 {
		t.Fatalf("expected 2 accepted and 1 late, got %d/%d", ok, finalized)
	}

	view, _ := f.coord.GetStatus(context.Background(), req.RequestID)
	if view.Request.Status != contracts.ApprovalApproved {
		t.Fatalf("expected APPROVED, got %s", view.Request.Status)
	}
	if f.recorder.count(contracts.ApprovalApproved) != 1 {
		t.Fatal("terminal transition must be attested exactly once")
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		approvals, rejections, total, min int
		want                              contracts.ApprovalStatus
	}{
		{0, 0, 3, 2, contracts.ApprovalPending},
		{1, 0, 3, 2, contracts.ApprovalPending},
		{2, 0, 3, 2, contracts.ApprovalApproved},
		{2, 1, 3, 2, contracts.ApprovalApproved},
		{0, 1, 3, 2, contracts.ApprovalPending},
		{0, 2, 3, 2, contracts.ApprovalRejected},
		{1, 2, 3, 2, contracts.ApprovalRejected},
		{0, 1, 3, 3, contracts.ApprovalRejected}, // unanimous: one veto suffices
		{4, 0, 5, 3, contracts.ApprovalApproved},
		{0, 3, 5, 3, contracts.ApprovalRejected},
		{0, 2, 5, 3, contracts.ApprovalPending},
	}
	for _, tc := range cases {
		got := DeriveStatus(tc.approvals, tc.rejections, tc.total, tc.min)
		if got != tc.want {
			t.Fatalf("DeriveStatus(%d,%d,%d,%d) = %s, want %s",
				tc.approvals, tc.rejections, tc.total, tc.min, got, tc.want)
		}
	}
}
