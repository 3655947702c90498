// pkg/retry/retry.go - bounded retries, optionally gated by the operator.

package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64

	// Confirm, when set, is asked before every retry. Returning false
	// stops immediately with the last error.
	Confirm func(attempt int, err error) bool
}

// Retry runs action until it succeeds or the attempts are exhausted. The
// returned error wraps the last failure.
func Retry(config RetryConfig, action func() error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	interval := config.InitialInterval

	var lastErr error
	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		lastErr = action()
		if lastErr == nil {
			return nil
		}

		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("Non-retryable error encountered: %s", lastErr.Error()),
				map[string]interface{}{
					"attempt":       attempt,
					"non_retryable": true,
				})
			return permanent.Unwrap()
		}

		if attempt == config.MaxRetries {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("Attempt %d/%d failed: %s. No more retries.", attempt, config.MaxRetries, lastErr),
				map[string]interface{}{
					"attempt":       attempt,
					"max_attempts":  config.MaxRetries,
					"final_failure": true,
				})
			break
		}

		logging.LogStructured(logging.LevelWarn,
			fmt.Sprintf("Attempt %d/%d failed: %s", attempt, config.MaxRetries, lastErr),
			map[string]interface{}{
				"attempt":      attempt,
				"max_attempts": config.MaxRetries,
				"retry_delay":  interval.String(),
			})

		if config.Confirm != nil && !config.Confirm(attempt, lastErr) {
			return fmt.Errorf("retry declined after %d attempt(s): %w", attempt, lastErr)
		}

		if interval > 0 {
			time.Sleep(interval)
			if config.Multiplier > 0 {
				interval = time.Duration(float64(interval) * config.Multiplier)
			}
		}
	}

	return fmt.Errorf("action failed after %d attempts: %w", config.MaxRetries, lastErr)
}
