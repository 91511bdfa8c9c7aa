// Package resilience provides the retry executor and circuit breakers used
// for every remote write.
package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config controls retry behavior for a remote operation.
type Config struct {
	// MaxRetries is the number of retry attempts after the first try.
	// Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	// Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	// Default: 5s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff multiplier.
	// Default: 2
	Multiplier float64

	// RetryableErrors are substrings matched case-insensitively against the
	// error message; an error matching none of them is not retried.
	RetryableErrors []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		RetryableErrors: []string{
			"network",
			"timeout",
			"connection reset",
			"connection refused",
			"temporarily unavailable",
			"http2",
			"tls",
			"eof",
		},
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	if c.RetryableErrors == nil {
		c.RetryableErrors = d.RetryableErrors
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outcome reports how a retried operation ended.
type Outcome struct {
	Err      error // nil on success
	Attempts int
	Elapsed  time.Duration
}

// Success reports whether the operation eventually succeeded.
func (o Outcome) Success() bool { return o.Err == nil }

// Do runs fn, retrying transient failures with exponential backoff and
// uniform jitter in [0.75, 1.25]. A non-retryable error stops immediately.
// Context cancellation aborts any pending backoff wait.
func Do(ctx context.Context, name string, fn func(context.Context) error, cfg Config) Outcome {
	cfg.ApplyDefaults()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return Outcome{Attempts: attempt + 1, Elapsed: time.Since(start)}
		}
		lastErr = err

		if !retryable(err, cfg.RetryableErrors) {
			cfg.Logger.Warn("operation failed with non-retryable error",
				"operation", name, "attempt", attempt+1, "error", err)
			return Outcome{Err: err, Attempts: attempt + 1, Elapsed: time.Since(start)}
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoff(cfg, attempt)
		cfg.Logger.Warn("operation failed, retrying",
			"operation", name, "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return Outcome{Err: ctx.Err(), Attempts: attempt + 1, Elapsed: time.Since(start)}
		case <-time.After(delay):
		}
	}

	cfg.Logger.Error("operation failed, retries exhausted",
		"operation", name, "attempts", cfg.MaxRetries+1, "error", lastErr)
	return Outcome{Err: lastErr, Attempts: cfg.MaxRetries + 1, Elapsed: time.Since(start)}
}

// Retryable wraps fn so every call is retried under cfg. The wrapped function
// returns the last error if all attempts fail.
func Retryable(name string, fn func(context.Context) error, cfg Config) func(context.Context) error {
	return func(ctx context.Context) error {
		return Do(ctx, name, fn, cfg).Err
	}
}

func retryable(err error, keywords []string) bool {
	msg := strings.ToLower(err.Error())
	for _, kw := range keywords {
		if strings.Contains(msg, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(d * jitter)
}
