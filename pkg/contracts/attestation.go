package contracts

import "time"

// AttestationRecord is one lifecycle transition of an approval request, in the
// exact shape recorded on the attestation ledger. FromStatus is empty on
// creation ("" -> PENDING).
type AttestationRecord struct {
	RequestID    string         `json:"request_id"`
	FromStatus   ApprovalStatus `json:"from_status,omitempty"`
	ToStatus     ApprovalStatus `json:"to_status"`
	ContentHash  string         `json:"content_hash"`
	MetadataHash string         `json:"metadata_hash"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DedupKey identifies a transition for at-least-once delivery: retries of the
// same request/to-status pair must collapse into a single ledger transaction.
func (r AttestationRecord) DedupKey() string {
	return r.RequestID + "|" + string(r.ToStatus)
}

// TransitionEvent is delivered to subscribers when a transition lands on the
// ledger, including transitions detected externally.
type TransitionEvent struct {
	RequestID  string         `json:"request_id"`
	FromStatus ApprovalStatus `json:"from_status,omitempty"`
	ToStatus   ApprovalStatus `json:"to_status"`
	TxRef      string         `json:"tx_ref"`
	Timestamp  time.Time      `json:"timestamp"`
}
