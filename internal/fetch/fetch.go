// Package fetch wraps a single provider call with bounded retry. The
// provider throttles aggressively, so the defaults lean patient: many
// attempts, long backoff cap.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/harvest"
)

// maxBodyBytes caps how much of a response is read. Search and detail
// payloads run a few hundred KB; anything beyond this is not a payload we
// can use.
const maxBodyBytes = 16 << 20

// RequestFunc builds a fresh request for one attempt. Requests are rebuilt
// rather than reused so retries never share a consumed body.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// ExhaustedError reports that every attempt failed. Last carries the final
// attempt's error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetch exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Fetcher retries provider calls under a RetryPolicy.
type Fetcher struct {
	client  harvest.Doer
	policy  RetryPolicy
	logger  *zap.Logger
	onRetry func(attempt int, err error)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithOnRetry registers a hook invoked before each backoff sleep, typically
// to bump a metrics counter.
func WithOnRetry(hook func(attempt int, err error)) Option {
	return func(f *Fetcher) { f.onRetry = hook }
}

// New builds a Fetcher. A nil policy gets the default exponential policy.
func New(client harvest.Doer, policy RetryPolicy, logger *zap.Logger, opts ...Option) *Fetcher {
	if policy == nil {
		policy = NewExponentialRetryPolicy(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{client: client, policy: policy, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs newReq until one attempt yields a 2xx response, the policy
// gives up, or ctx is done. On success it returns the full body. On
// exhaustion it returns an ExhaustedError wrapping the last failure.
func (f *Fetcher) Fetch(ctx context.Context, newReq RequestFunc) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := f.attempt(ctx, newReq)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !f.policy.ShouldRetry(err, attempt) {
			return nil, &ExhaustedError{Attempts: attempt + 1, Last: lastErr}
		}
		backoff := f.policy.Backoff(attempt)
		f.logger.Warn("fetch attempt failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if f.onRetry != nil {
			f.onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return nil, &ExhaustedError{Attempts: attempt + 1, Last: ctx.Err()}
		case <-time.After(backoff):
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, newReq RequestFunc) ([]byte, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return body, nil
}
