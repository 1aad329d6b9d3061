package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestRetryOnlyRetryable(t *testing.T) {
	calls := 0
	err := Retry(5, time.Millisecond, func(err error) bool { return errors.Is(err, errTransient) }, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	fatal := errors.New("fatal")
	err = Retry(5, time.Millisecond, func(err error) bool { return errors.Is(err, errTransient) }, func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(3, time.Millisecond, func(error) bool { return true }, func() error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryForever(t *testing.T) {
	calls := 0
	err := RetryForever(context.Background(), time.Millisecond, func() error {
		calls++
		if calls < 4 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 4, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetryForever(ctx, time.Millisecond, func() error { return errTransient })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	b := Backoff{}
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(10))

	b = Backoff{Initial: time.Second, Max: 3 * time.Second}
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 3*time.Second, b.Delay(3))
}
