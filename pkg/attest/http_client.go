package attest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AI-Publishing-International-LLP-UK/s2do-governance/pkg/contracts"
)

// HTTPClient is a Client backed by a remote attestation ledger service.
// Requests retry with exponential backoff and jitter; a circuit breaker trips
// after consecutive failures so an unreachable ledger fails fast. Transient
// failures surface as ErrLedgerUnavailable.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	breaker    *circuitBreaker
	sleep      func(time.Duration)
}

// NewHTTPClient builds a client for the ledger service at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		breaker:    newCircuitBreaker(5, 10*time.Second),
		sleep:      time.Sleep,
	}
}

// WithHTTPClient overrides the underlying http.Client.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	c.httpClient = hc
	return c
}

// WithMaxRetries overrides the per-call retry budget.
func (c *HTTPClient) WithMaxRetries(n int) *HTTPClient {
	c.maxRetries = n
	return c
}

type recordResponse struct {
	TxRef string `json:"tx_ref"`
}

// RecordTransition posts the transition to the ledger service.
func (c *HTTPClient) RecordTransition(ctx context.Context, rec contracts.AttestationRecord) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode attestation record: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/transitions", body)
	if err != nil {
		return "", err
	}
	var out recordResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode ledger response: %w", err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("ledger response missing tx_ref: %w", ErrLedgerUnavailable)
	}
	return out.TxRef, nil
}

// QueryTransition fetches the committed transition for (requestID, toStatus).
func (c *HTTPClient) QueryTransition(ctx context.Context, requestID string, toStatus contracts.ApprovalStatus) (*contracts.TransitionEvent, error) {
	u := fmt.Sprintf("%s/v1/transitions/%s/%s",
		c.baseURL, url.PathEscape(requestID), url.PathEscape(string(toStatus)))
	raw, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var ev contracts.TransitionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode transition event: %w", err)
	}
	return &ev, nil
}

// do runs one HTTP call with the retry loop and breaker. 5xx responses and
// transport errors are retried; 404 maps to ErrNotFound; other 4xx responses
// are permanent.
func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("circuit open for %s: %w", c.baseURL, ErrLedgerUnavailable)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(backoffDelay(attempt - 1))
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("build ledger request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				c.breaker.failure()
				return nil, fmt.Errorf("ledger request: %w: %w", ctx.Err(), ErrLedgerUnavailable)
			}
			lastErr = err
			continue
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			c.breaker.success()
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrNotFound)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("ledger returned %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			c.breaker.success()
			return nil, fmt.Errorf("ledger rejected request: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		case readErr != nil:
			lastErr = readErr
			continue
		default:
			c.breaker.success()
			return raw, nil
		}
	}

	c.breaker.failure()
	return nil, fmt.Errorf("ledger unreachable after %d attempts: %v: %w", c.maxRetries+1, lastErr, ErrLedgerUnavailable)
}

// backoffDelay returns base * 2^attempt plus up to 50ms of jitter.
func backoffDelay(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}
	return backoff + jitter
}
