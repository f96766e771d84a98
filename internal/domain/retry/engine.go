package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config tunes the backoff loop.
type Config struct {
	BaseWait   time.Duration
	MaxWait    time.Duration
	Deadline   time.Duration // overall loop deadline; default 7 days
	NowFunc    func() time.Time
	SleepFunc  func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the coordinator-path defaults: 7-day deadline,
// 500ms base backoff doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		BaseWait: 500 * time.Millisecond,
		MaxWait:  30 * time.Second,
		Deadline: 7 * 24 * time.Hour,
	}
}

func (c Config) now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}

func (c Config) sleep(ctx context.Context, d time.Duration) error {
	if c.SleepFunc != nil {
		return c.SleepFunc(ctx, d)
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

// Attempt is the signature of the operation RetryEngine drives.
type Attempt func(ctx context.Context) (any, error)

// Engine runs an Attempt under the Classify verdict rules, sleeping
// cooperatively between attempts and honoring ctx cancellation.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// ThinkingFunc receives the user-visible status line for each retry
// wait ("Rate limit (attempt N): ...; next attempt at HH:MM:SS").
type ThinkingFunc func(message string)

// Run executes fn, retrying per the classified verdict until success,
// a Fatal verdict, the overall deadline elapses, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, fn Attempt, onThinking ThinkingFunc) (any, error) {
	start := e.cfg.now()
	deadline := e.cfg.Deadline
	if deadline <= 0 {
		deadline = DefaultConfig().Deadline
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		now := e.cfg.now()
		if now.Sub(start) > deadline {
			return nil, &DeadlineExceededError{Attempts: attempt, Cause: err}
		}

		verdict := Classify(err, now)
		switch verdict.Kind {
		case KindFatal:
			e.logger.Warn("retry engine: fatal verdict", zap.String("reason", verdict.Reason), zap.Error(err))
			return nil, verdict.Err

		case KindAborted:
			return nil, &AbortedError{Cause: err}

		case KindRateLimited:
			wait := verdict.WaitUntil.Sub(now)
			if wait < 0 {
				wait = 0
			}
			e.notify(onThinking, attempt, verdict.Reason, wait, now.Sub(start), verdict.WaitUntil)
			if serr := e.cfg.sleep(ctx, wait); serr != nil {
				return nil, &AbortedError{Cause: serr}
			}

		case KindRetryAfterBackoff:
			wait := e.backoff(attempt)
			e.notify(onThinking, attempt, verdict.Reason, wait, now.Sub(start), now.Add(wait))
			if serr := e.cfg.sleep(ctx, wait); serr != nil {
				return nil, &AbortedError{Cause: serr}
			}
		}
	}
}

// backoff computes exponential backoff capped at MaxWait, with equal
// jitter: half the capped delay plus a random share of the other half.
func (e *Engine) backoff(attempt int) time.Duration {
	base := e.cfg.BaseWait
	if base <= 0 {
		base = DefaultConfig().BaseWait
	}
	max := e.cfg.MaxWait
	if max <= 0 {
		max = DefaultConfig().MaxWait
	}
	raw := float64(base) * math.Pow(2, float64(attempt-1))
	if raw > float64(max) {
		raw = float64(max)
	}
	jittered := time.Duration(raw) / 2
	jittered += time.Duration(rand.Int63n(int64(time.Duration(raw)/2 + 1)))
	return jittered
}

func (e *Engine) notify(onThinking ThinkingFunc, attempt int, reason string, wait, elapsed time.Duration, nextAt time.Time) {
	if onThinking == nil {
		return
	}
	onThinking(formatThinking(attempt, reason, wait, elapsed, nextAt))
}
