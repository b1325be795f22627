// Package refresher periodically re-checks unconfirmed ledger records
// against the anchor.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pending is the coordinator operation driven on each tick.
type Pending interface {
	RefreshPending(ctx context.Context, limit int) (int, error)
}

const defaultRunTimeout = time.Minute

// Refresher runs RefreshPending on a cron schedule. Overlapping runs are
// skipped.
type Refresher struct {
	target     Pending
	schedule   string
	batch      int
	runTimeout time.Duration
	logger     *slog.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRunTimeout bounds a single refresh pass.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.runTimeout = d
		}
	}
}

// New validates the schedule and returns a Refresher that has not been started.
func New(target Pending, schedule string, batch int, opts ...Option) (*Refresher, error) {
	if target == nil {
		return nil, errors.New("refresher: target is required")
	}
	if batch <= 0 {
		return nil, fmt.Errorf("refresher: batch size must be positive, got %d", batch)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("refresher: invalid schedule %q: %w", schedule, err)
	}
	r := &Refresher{
		target:     target,
		schedule:   schedule,
		batch:      batch,
		runTimeout: defaultRunTimeout,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run schedules refresh passes until ctx is cancelled, then waits for an
// in-flight pass to finish.
func (r *Refresher) Run(ctx context.Context) error {
	log := cronLogger{logger: r.logger}
	c := cron.New(cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	if _, err := c.AddFunc(r.schedule, func() { _, _ = r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("refresher: schedule: %w", err)
	}

	r.logger.InfoContext(ctx, "pending refresh scheduled",
		"schedule", r.schedule,
		"batch", r.batch,
	)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("pending refresh stopped")
	return nil
}

// RunOnce performs a single refresh pass.
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	ctx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	start := time.Now()
	n, err := r.target.RefreshPending(ctx, r.batch)
	if err != nil {
		r.logger.ErrorContext(ctx, "pending refresh failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return n, err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "pending records confirmed",
			"confirmed", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
