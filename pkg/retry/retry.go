// Package retry runs an operation again with exponential backoff when it
// fails. The analytics Redis sink uses it for stream appends.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrMaxRetriesExceeded is joined with the last error once attempts run out.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction (0-1).
	Jitter float64

	// RetryIf reports whether err is worth another attempt. Nil retries
	// everything except Permanent errors.
	RetryIf func(error) bool

	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig suits short network writes: three retries within about a
// second.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Do calls fn until it succeeds, the error is not retryable, attempts run
// out, or ctx ends. The context error is returned as is.
func Do(ctx context.Context, cfg *Config, fn func(ctx context.Context) error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.retryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := Backoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return errors.Join(ErrMaxRetriesExceeded, lastErr)
}

func (c *Config) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	return true
}

// Backoff returns the delay after the given zero-based attempt.
func Backoff(attempt int, cfg *Config) time.Duration {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		j := delay * cfg.Jitter
		delay = delay - j + rand.Float64()*2*j
	}
	return time.Duration(delay)
}

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
