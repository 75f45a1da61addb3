package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/drawcheck/internal/metrics"
)

// Guarded wraps a backend with a per-call timeout, retries on IsRetryable errors,
// latency stats and metrics.
type Guarded struct {
	Inner      Judge
	Timeout    time.Duration
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Stats      *CallStats
	Log        *slog.Logger
}

func NewGuarded(inner Judge, timeout time.Duration, maxRetries int, backoff func(int) time.Duration, log *slog.Logger) *Guarded {
	if log == nil {
		log = slog.Default()
	}
	return &Guarded{
		Inner:      inner,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		Backoff:    backoff,
		Stats:      NewCallStats(time.Hour),
		Log:        log,
	}
}

func (g *Guarded) Model() string { return g.Inner.Model() }

func (g *Guarded) Judge(ctx context.Context, req Request) (*Verdict, error) {
	var v *Verdict
	err := g.do(ctx, "judge", func(ctx context.Context) error {
		var err error
		v, err = g.Inner.Judge(ctx, req)
		return err
	})
	return v, err
}

func (g *Guarded) Compare(ctx context.Context, before, after Image) (*Comparison, error) {
	var c *Comparison
	err := g.do(ctx, "compare", func(ctx context.Context) error {
		var err error
		c, err = g.Inner.Compare(ctx, before, after)
		return err
	})
	return c, err
}

func (g *Guarded) do(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if attempt > 0 && g.Backoff != nil {
			wait := g.Backoff(attempt - 1)
			g.Log.Warn("retrying judge call", "op", op, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		callCtx := ctx
		cancel := func() {}
		if g.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		}
		start := time.Now()
		lastErr = call(callCtx)
		if lastErr != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			lastErr = fmt.Errorf("%w: %s after %v", ErrTimeout, op, g.Timeout)
		}
		cancel()
		elapsed := time.Since(start)
		metrics.JudgeLatency.WithLabelValues(op).Observe(elapsed.Seconds())

		if lastErr == nil {
			g.Stats.Record(elapsed.Milliseconds())
			return nil
		}
		if !IsRetryable(lastErr) {
			break
		}
	}
	g.Stats.RecordError(0)
	metrics.JudgeErrors.WithLabelValues(op).Inc()
	return lastErr
}
