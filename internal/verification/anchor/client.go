// Package anchor submits record fingerprints to an external append-only ledger
// and checks their presence, degrading to simulated references whenever the
// live ledger cannot be used.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aidtrace/internal/verification/metrics"
	"aidtrace/pkg/platform/circuit"
)

// Backend is the live ledger contract: storeHash, verifyHash and
// getHashTimestamp.
type Backend interface {
	StoreHash(ctx context.Context, hash string) (string, error)
	VerifyHash(ctx context.Context, hash string) (bool, error)
	HashTimestamp(ctx context.Context, hash string) (time.Time, error)
}

// Mode tells how a reference was produced.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Outcome is the result of Submit. Cause is set when a live attempt failed and
// the reference was simulated instead.
type Outcome struct {
	Mode      Mode
	Reference string
	Cause     error
}

func (o Outcome) Simulated() bool { return o.Mode == ModeSimulated }

const (
	defaultCallTimeout      = 5 * time.Second
	defaultBatchConcurrency = 8
)

// Client is safe for concurrent use. Its configuration is fixed at construction.
type Client struct {
	backend          Backend
	breaker          *circuit.Breaker
	callTimeout      time.Duration
	batchConcurrency int
	logger           *slog.Logger
	metrics          *metrics.Metrics
	nonce            func() string
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithCallTimeout bounds every live call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithBatchConcurrency limits parallel lookups in BatchConfirm.
func WithBatchConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchConcurrency = n
		}
	}
}

// WithNonceSource overrides the simulated reference nonce, for tests.
func WithNonceSource(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.nonce = fn
		}
	}
}

// New creates a Client. A nil backend puts the client permanently in
// simulated mode.
func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:          backend,
		breaker:          circuit.New("anchor"),
		callTimeout:      defaultCallTimeout,
		batchConcurrency: defaultBatchConcurrency,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		nonce:            randomNonce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Live reports whether a live backend is configured.
func (c *Client) Live() bool {
	return c.backend != nil
}

// Submit records hash on the anchor. It never fails: any live problem yields a
// simulated reference for this call only.
func (c *Client) Submit(ctx context.Context, hash string) Outcome {
	if c.backend == nil {
		return c.simulate(hash, nil)
	}
	if !c.breaker.Allow() {
		return c.simulate(hash, ErrCircuitOpen)
	}

	ref, err := timedCall(ctx, c, "storeHash", func(ctx context.Context) (string, error) {
		return c.backend.StoreHash(ctx, hash)
	})
	if err == nil && ref == "" {
		err = NewProviderError(ErrorBadData, "storeHash", "empty transaction reference", nil)
	}
	if err != nil {
		c.recordFailure(ctx, "storeHash", err)
		return c.simulate(hash, err)
	}

	c.recordSuccess(ctx)
	c.metrics.IncSubmission(string(ModeLive))
	return Outcome{Mode: ModeLive, Reference: ref}
}

func (c *Client) simulate(hash string, cause error) Outcome {
	c.metrics.IncSubmission(string(ModeSimulated))
	return Outcome{
		Mode:      ModeSimulated,
		Reference: SimulatedReference(hash, c.nonce()),
		Cause:     cause,
	}
}

// Confirm reports whether hash is present on the anchor. Simulated references
// confirm unconditionally; any live error reads as false.
func (c *Client) Confirm(ctx context.Context, hash, reference string) bool {
	if reference == "" {
		return false
	}
	if IsSimulatedReference(reference) {
		return true
	}
	if hash == "" || c.backend == nil {
		return false
	}
	return c.verify(ctx, hash)
}

func (c *Client) verify(ctx context.Context, hash string) bool {
	if !c.breaker.Allow() {
		c.metrics.IncConfirmation(false)
		return false
	}
	ok, err := timedCall(ctx, c, "verifyHash", func(ctx context.Context) (bool, error) {
		return c.backend.VerifyHash(ctx, hash)
	})
	if err != nil {
		c.recordFailure(ctx, "verifyHash", err)
		c.metrics.IncConfirmation(false)
		return false
	}
	c.recordSuccess(ctx)
	c.metrics.IncConfirmation(ok)
	return ok
}

// BatchConfirm checks each distinct hash independently and in parallel. A
// failed lookup reads as false without affecting the others. Without a live
// backend every hash reads as confirmed.
func (c *Client) BatchConfirm(ctx context.Context, hashes []string) map[string]bool {
	results := make(map[string]bool, len(hashes))
	if c.backend == nil {
		for _, h := range hashes {
			results[h] = true
		}
		return results
	}

	distinct := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if _, seen := results[h]; seen {
			continue
		}
		results[h] = false
		distinct = append(distinct, h)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)
	for _, h := range distinct {
		g.Go(func() error {
			if h == "" {
				return nil
			}
			ok := c.verify(gctx, h)
			mu.Lock()
			results[h] = ok
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are already recorded as false.
	_ = g.Wait()
	return results
}

// HashTimestamp returns when hash was anchored. It returns ErrUnavailable
// without a live backend or while the circuit is open.
func (c *Client) HashTimestamp(ctx context.Context, hash string) (time.Time, error) {
	if c.backend == nil || !c.breaker.Allow() {
		return time.Time{}, ErrUnavailable
	}
	ts, err := timedCall(ctx, c, "getHashTimestamp", func(ctx context.Context) (time.Time, error) {
		return c.backend.HashTimestamp(ctx, hash)
	})
	if err != nil {
		if errors.Is(err, ErrNotAnchored) || GetCategory(err) == ErrorNotFound {
			c.recordSuccess(ctx)
			return time.Time{}, ErrNotAnchored
		}
		c.recordFailure(ctx, "getHashTimestamp", err)
		return time.Time{}, err
	}
	c.recordSuccess(ctx)
	return ts, nil
}

func (c *Client) recordFailure(ctx context.Context, method string, err error) {
	_, change := c.breaker.RecordFailure()
	c.logger.WarnContext(ctx, "anchor call failed",
		"method", method,
		"category", string(GetCategory(err)),
		"retryable", IsRetryable(err),
		"error", err,
	)
	if change.Opened {
		c.metrics.SetCircuitOpen(true)
		c.logger.WarnContext(ctx, "anchor circuit opened, using simulated references",
			"breaker", c.breaker.Name(),
		)
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	_, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.metrics.SetCircuitOpen(false)
		c.logger.InfoContext(ctx, "anchor circuit closed", "breaker", c.breaker.Name())
	}
}

// timedCall runs fn with the client's call timeout. It returns when the
// deadline passes even if fn ignores its context. A panic in fn is returned
// as an internal provider error.
func timedCall[T any](ctx context.Context, c *Client, method string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: NewProviderError(ErrorInternal, method, "backend panic", fmt.Errorf("%v", p))}
			}
		}()
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		c.metrics.ObserveAnchorCall(method, time.Since(start).Seconds())
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, NewProviderError(ErrorTimeout, method, "call timed out", r.err)
		}
		return r.v, r.err
	case <-ctx.Done():
		c.metrics.ObserveAnchorCall(method, time.Since(start).Seconds())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, NewProviderError(ErrorTimeout, method, "call timed out", ctx.Err())
		}
		return zero, NewProviderError(ErrorInternal, method, "call cancelled", ctx.Err())
	}
}
