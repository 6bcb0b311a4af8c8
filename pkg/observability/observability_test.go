package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "s2do-governance", config.ServiceName)
	require.Equal(t, "1.0.0", config.ServiceVersion)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Should not fail even when disabled
	tracer := p.Tracer()
	require.NotNil(t, tracer)

	meter := p.Meter()
	require.NotNil(t, meter)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := RequestOperation("req-1", "COMMUNICATION", "PENDING")

	newCtx, finish := p.TrackOperation(ctx, "approval.create", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(1 * time.Millisecond)

	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "approval.decide")

	finish(errors.New("test error"))
	// Should not panic
}

func TestRecordMetrics(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()

	// These should not panic when provider is disabled
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{
		Enabled: false,
	}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Shutdown(ctx)
	require.NoError(t, err)
}

// Governance-specific helpers

func TestRequestOperation(t *testing.T) {
	attrs := RequestOperation("req-123", "SECRET_ACCESS", "APPROVED")
	require.Len(t, attrs, 3)
	require.Equal(t, "s2do.request.id", string(attrs[0].Key))
	require.Equal(t, "req-123", attrs[0].Value.AsString())
	require.Equal(t, "APPROVED", attrs[2].Value.AsString())
}

func TestDecisionOperation(t *testing.T) {
	attrs := DecisionOperation("req-123", "dr-match", "APPROVE")
	require.Len(t, attrs, 3)
	require.Equal(t, "s2do.decision.approver_id", string(attrs[1].Key))
	require.Equal(t, "dr-match", attrs[1].Value.AsString())
}

func TestTokenOperation(t *testing.T) {
	attrs := TokenOperation("tok-9", "COMMUNICATION_APPROVAL")
	require.Len(t, attrs, 2)
	require.Equal(t, "s2do.token.type", string(attrs[1].Key))
	require.Equal(t, "COMMUNICATION_APPROVAL", attrs[1].Value.AsString())
}

func TestAttestOperation(t *testing.T) {
	attrs := AttestOperation("req-123", "APPROVED", "tx-77")
	require.Len(t, attrs, 3)
	require.Equal(t, "s2do.attest.tx_ref", string(attrs[2].Key))
	require.Equal(t, "tx-77", attrs[2].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	require.NotNil(t, span) // Returns a no-op span if none
}

func TestAddSpanEvent(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	ctx := context.Background()
	// Should not panic
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
