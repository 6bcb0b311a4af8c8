package attest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

const (
	defaultQueueLimit    = 4096
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMax      = 30 * time.Second
	defaultRecordTimeout = 10 * time.Second
)

// Recorder is the outbox between the coordinator and the attestation ledger.
// RecordTransition enqueues and returns immediately; a single worker delivers
// queued transitions in order, retrying transient failures with exponential
// backoff. A request's transitions therefore reach the ledger in the order
// they happened.
type Recorder struct {
	client Client
	logger *slog.Logger

	mu        sync.Mutex
	queue     []queuedRecord
	queued    map[string]bool
	byRequest map[string]int
	dropped   uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	started bool

	retryBase     time.Duration
	retryMax      time.Duration
	queueLimit    int
	recordTimeout time.Duration
}

type queuedRecord struct {
	rec      contracts.AttestationRecord
	attempts int
}

// NewRecorder builds a recorder over a ledger client. Call Start to begin
// delivery and Close to stop it.
func NewRecorder(client Client) *Recorder {
	return &Recorder{
		client:        client,
		logger:        slog.Default().With("component", "attest"),
		queued:        make(map[string]bool),
		byRequest:     make(map[string]int),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		retryBase:     defaultRetryBase,
		retryMax:      defaultRetryMax,
		queueLimit:    defaultQueueLimit,
		recordTimeout: defaultRecordTimeout,
	}
}

// WithRetryInterval overrides the backoff window. Configure before Start.
func (r *Recorder) WithRetryInterval(base, max time.Duration) *Recorder {
	r.retryBase = base
	r.retryMax = max
	return r
}

// WithQueueLimit overrides the outbox capacity. Configure before Start.
func (r *Recorder) WithQueueLimit(n int) *Recorder {
	r.queueLimit = n
	return r
}

// WithLogger overrides the logger. Configure before Start.
func (r *Recorder) WithLogger(l *slog.Logger) *Recorder {
	r.logger = l.With("component", "attest")
	return r
}

// Start launches the delivery worker.
func (r *Recorder) Start() *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return r
	}
	r.started = true
	go r.run()
	return r
}

// Close stops the worker. Undelivered transitions stay queued in memory and
// are lost with the process; production deployments drain with Flush first.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stop:
		r.mu.Unlock()
		return
	default:
	}
	close(r.stop)
	r.mu.Unlock()
	<-r.done
}

// RecordTransition enqueues a transition for delivery. It never blocks. A
// transition already queued for the same (request_id, to_status) is collapsed
// into the existing entry. When the outbox is full the record is dropped and
// counted; dropped records are invisible to Pending, so operators alert on
// the Dropped counter.
func (r *Recorder) RecordTransition(rec contracts.AttestationRecord) {
	key := rec.DedupKey()

	r.mu.Lock()
	if r.queued[key] {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= r.queueLimit {
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.logger.Error("outbox full, attestation dropped",
			"request_id", rec.RequestID, "to_status", rec.ToStatus, "dropped_total", dropped)
		return
	}
	r.queue = append(r.queue, queuedRecord{rec: rec})
	r.queued[key] = true
	r.byRequest[rec.RequestID]++
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether the request still has undelivered transitions.
func (r *Recorder) Pending(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRequest[requestID] > 0
}

// QueueDepth returns the number of undelivered transitions.
func (r *Recorder) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped returns how many transitions were discarded because the outbox was
// full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Flush blocks until the outbox drains or ctx expires.
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.QueueDepth() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		head, ok := r.head()
		if !ok {
			select {
			case <-r.wake:
				continue
			case <-r.stop:
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		txRef, err := r.client.RecordTransition(ctx, head.rec)
		cancel()

		switch {
		case err == nil:
			r.pop(head.rec)
			r.logger.Info("transition attested",
				"request_id", head.rec.RequestID, "to_status", head.rec.ToStatus, "tx_ref", txRef)
		case errors.Is(err, ErrLedgerUnavailable):
			attempts := r.bumpHead()
			delay := r.retryDelay(attempts)
			r.logger.Warn("ledger unavailable, retrying",
				"request_id", head.rec.RequestID, "to_status", head.rec.ToStatus,
				"attempt", attempts, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-r.stop:
				return
			}
		default:
			// Permanent rejection. Holding it would block every later
			// transition behind an undeliverable record.
			r.pop(head.rec)
			r.logger.Error("attestation rejected by ledger, dropping",
				"request_id", head.rec.RequestID, "to_status", head.rec.ToStatus, "error", err)
		}
	}
}

func (r *Recorder) head() (queuedRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return queuedRecord{}, false
	}
	return r.queue[0], true
}

func (r *Recorder) pop(rec contracts.AttestationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return
	}
	r.queue = r.queue[1:]
	delete(r.queued, rec.DedupKey())
	if n := r.byRequest[rec.RequestID]; n <= 1 {
		delete(r.byRequest, rec.RequestID)
	} else {
		r.byRequest[rec.RequestID] = n - 1
	}
}

func (r *Recorder) bumpHead() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return 0
	}
	r.queue[0].attempts++
	return r.queue[0].attempts
}

func (r *Recorder) retryDelay(attempts int) time.Duration {
	if attempts > 16 {
		attempts = 16
	}
	delay := r.retryBase << uint(attempts-1)
	if delay > r.retryMax || delay <= 0 {
		delay = r.retryMax
	}
	return delay
}
