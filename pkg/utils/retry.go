package utils

import (
	"context"
	"math"
	"time"
)

// Calls fn up to attempts times, sleeping between calls.
// Only errors accepted by retryable are retried; the last error is returned.
func Retry(attempts int, sleep time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}
		time.Sleep(sleep)
	}
	return err
}

// Calls fn at a fixed interval until it succeeds or ctx is done.
func RetryForever(ctx context.Context, interval time.Duration, fn func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exponential backoff parameters. Zero values use defaults.
type Backoff struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Returns the delay before the given attempt, starting at 1.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if b.Initial > 0 {
		initial = b.Initial
	}
	if b.Max > 0 {
		maxBackoff = b.Max
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}
