package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 3}, func() error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 2}, func() error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, calls)
}

func TestRetryDeclinedByOperator(t *testing.T) {
	calls, asked := 0, 0
	err := Retry(RetryConfig{
		MaxRetries: 2,
		Confirm: func(attempt int, err error) bool {
			asked++
			assert.Equal(t, 1, attempt)
			return false
		},
	}, func() error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, asked)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(RetryConfig{MaxRetries: 5}, func() error {
		calls++
		return Permanent(errBoom)
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetryNeverAsksAfterFinalAttempt(t *testing.T) {
	asked := 0
	err := Retry(RetryConfig{
		MaxRetries: 2,
		Confirm:    func(int, error) bool { asked++; return true },
	}, func() error { return errBoom })
	require.Error(t, err)
	assert.Equal(t, 1, asked)
}
