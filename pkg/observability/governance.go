package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// S2DO semantic convention attributes.
var (
	// Approval request attributes
	AttrRequestID     = attribute.Key("s2do.request.id")
	AttrActionType    = attribute.Key("s2do.request.action_type")
	AttrRequestStatus = attribute.Key("s2do.request.status")

	// Decision attributes
	AttrApproverID = attribute.Key("s2do.decision.approver_id")
	AttrVerdict    = attribute.Key("s2do.decision.verdict")

	// Audit token attributes
	AttrTokenID   = attribute.Key("s2do.token.id")
	AttrTokenType = attribute.Key("s2do.token.type")

	// Attestation attributes
	AttrAttestToStatus = attribute.Key("s2do.attest.to_status")
	AttrAttestTxRef    = attribute.Key("s2do.attest.tx_ref")

	// Gate attributes
	AttrPendingID = attribute.Key("s2do.gate.pending_id")
	AttrChannel   = attribute.Key("s2do.gate.channel")
)

// RequestOperation creates attributes for approval request operations.
func RequestOperation(requestID, actionType, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrActionType.String(actionType),
		AttrRequestStatus.String(status),
	}
}

// DecisionOperation creates attributes for decision submissions.
func DecisionOperation(requestID, approverID, verdict string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrApproverID.String(approverID),
		AttrVerdict.String(verdict),
	}
}

// TokenOperation creates attributes for token ledger operations.
func TokenOperation(tokenID, tokenType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTokenID.String(tokenID),
		AttrTokenType.String(tokenType),
	}
}

// AttestOperation creates attributes for ledger attestations.
func AttestOperation(requestID, toStatus, txRef string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrAttestToStatus.String(toStatus),
		AttrAttestTxRef.String(txRef),
	}
}

// GateOperation creates attributes for communication gate operations.
func GateOperation(pendingID, requestID, channel string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPendingID.String(pendingID),
		AttrRequestID.String(requestID),
		AttrChannel.String(channel),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
