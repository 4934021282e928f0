package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"klineflow/internal/metrics"
	"klineflow/logger"
)

// Budget gates outgoing requests so a process-wide request ceiling is never
// exceeded. Acquire blocks until one request may be issued.
type Budget interface {
	Acquire(ctx context.Context) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stats is a point-in-time view of a FixedWindowBudget.
type Stats struct {
	Limit       int
	WindowCount int
	TotalIssued int64
	Throttles   int64
}

// FixedWindowBudget counts issued requests and, once limit requests have been
// issued, sleeps for the cool-down and resets the count before admitting the
// next one. The lock is held across check, sleep and reset so concurrent
// callers cannot overshoot the limit.
type FixedWindowBudget struct {
	mu        sync.Mutex
	limit     int
	coolDown  time.Duration
	count     int
	total     int64
	throttles int64
	sleep     Sleeper
	log       *logger.Log
}

// FixedWindowOption configures a FixedWindowBudget.
type FixedWindowOption func(*FixedWindowBudget)

// WithSleeper replaces the cool-down sleep, mainly for tests.
func WithSleeper(s Sleeper) FixedWindowOption {
	return func(b *FixedWindowBudget) {
		if s != nil {
			b.sleep = s
		}
	}
}

func WithLogger(log *logger.Log) FixedWindowOption {
	return func(b *FixedWindowBudget) {
		if log != nil {
			b.log = log
		}
	}
}

// NewFixedWindowBudget returns a budget admitting limit requests per window.
func NewFixedWindowBudget(limit int, coolDown time.Duration, opts ...FixedWindowOption) (*FixedWindowBudget, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("budget limit must be greater than 0")
	}
	if coolDown < 0 {
		return nil, fmt.Errorf("budget cool down must not be negative")
	}
	b := &FixedWindowBudget{
		limit:    limit,
		coolDown: coolDown,
		sleep:    Sleep,
		log:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Acquire reserves one request slot, sleeping for the cool-down first when
// the window is already full.
func (b *FixedWindowBudget) Acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if b.count >= b.limit {
		b.throttles++
		fields := logger.Fields{
			"window_count": b.count,
			"limit":        b.limit,
			"cool_down":    b.coolDown.String(),
		}
		b.log.WithComponent("request_budget").WithFields(fields).Warn("request budget exhausted, cooling down")
		logger.IncrementThrottle()
		metrics.EmitMetric(b.log, "request_budget", "throttle_events", int64(1), "counter", logger.Fields{})

		if err := b.sleep(ctx, b.coolDown); err != nil {
			return err
		}
		b.count = 0
	}

	b.count++
	b.total++
	return nil
}

// Stats returns the current counters.
func (b *FixedWindowBudget) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Limit:       b.limit,
		WindowCount: b.count,
		TotalIssued: b.total,
		Throttles:   b.throttles,
	}
}

// TokenBucketBudget spreads limit requests evenly over window, allowing a
// burst of up to burst requests. Waiting callers do not block each other
// beyond their own reservation.
type TokenBucketBudget struct {
	limiter *xrate.Limiter
	limit   int
	window  time.Duration
}

// NewTokenBucketBudget returns a token bucket admitting limit requests per window.
func NewTokenBucketBudget(limit int, window time.Duration, burst int) (*TokenBucketBudget, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("budget limit must be greater than 0")
	}
	if window <= 0 {
		return nil, fmt.Errorf("budget window must be greater than 0")
	}
	if burst <= 0 {
		burst = 1
	}
	if burst > limit {
		burst = limit
	}
	perSecond := float64(limit) / window.Seconds()
	return &TokenBucketBudget{
		limiter: xrate.NewLimiter(xrate.Limit(perSecond), burst),
		limit:   limit,
		window:  window,
	}, nil
}

func (b *TokenBucketBudget) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Rate returns the sustained requests per second.
func (b *TokenBucketBudget) Rate() float64 {
	return float64(b.limiter.Limit())
}

func (b *TokenBucketBudget) Burst() int {
	return b.limiter.Burst()
}
