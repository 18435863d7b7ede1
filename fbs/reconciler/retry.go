package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bibsdb/bibselv/fbs"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 250 * time.Millisecond
	defaultJitterFactor = 0.3

	// ReplayRetriesMetric counts retried replay attempts. Labels: action,
	// attempt_number.
	ReplayRetriesMetric = "fbs_replay_retries_total"

	// ReplayRetryDelayMetric records the backoff delay before each retry.
	ReplayRetryDelayMetric = "fbs_replay_retry_delay"

	// ReplayMaxRetriesReachedMetric counts replays that exhausted all
	// attempts. Labels: action.
	ReplayMaxRetriesReachedMetric = "fbs_replay_max_retries_reached_total"

	labelRetryAction   = "action"
	labelAttemptNumber = "attempt_number"
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")

	// ErrNilMetricsCollector is returned when a nil metrics collector is provided to WithRetryMetrics.
	ErrNilMetricsCollector = errors.New("metrics collector must not be nil")
)

// RetryableFunc represents a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// retryConfig holds configuration for exponential backoff retry logic.
type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector fbs.MetricsCollector
	action           string
}

// RetryOption configures retry behavior using the functional options pattern.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the maximum number of replay attempts.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts

		return nil
	}
}

// WithBaseDelay sets the base delay for exponential backoff.
// Actual delays: baseDelay, baseDelay*2, baseDelay*4, baseDelay*8, etc.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay

		return nil
	}
}

// WithJitterFactor sets the jitter factor to prevent thundering herd
// problems. Valid range: 0.0 (no jitter) to 1.0 (100% jitter).
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor

		return nil
	}
}

// WithRetryMetrics sets the metrics collector for retry instrumentation.
// The action labels the metrics ("checkout"/"checkin").
func WithRetryMetrics(collector fbs.MetricsCollector, action string) RetryOption {
	return func(config *retryConfig) error {
		if collector == nil {
			return ErrNilMetricsCollector
		}

		config.metricsCollector = collector
		config.action = action

		return nil
	}
}

// RetryWithExponentialBackoff executes the provided function with
// exponential backoff, retrying only while the back end stays unreachable.
//
// Only errors matching fbs.ErrBackendUnavailable are retried; a business
// rejection of a replay is permanent and fails fast. Context timeouts also
// fail fast - retrying during overload would only pile on.
func RetryWithExponentialBackoff(
	ctx context.Context,
	fn RetryableFunc,
	options ...RetryOption,
) error {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}

	var lastErr error

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff: baseDelay * 2^(attempt-1)
			delay := config.baseDelay * time.Duration(1<<(attempt-1))

			// Add jitter to prevent thundering herd
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec //math/rand is sufficient for jitter
			backoffDelay := delay + time.Duration(jitter)

			recordRetryDelayMetric(config, attempt, backoffDelay)

			select {
			case <-time.After(backoffDelay):
				// Continue with retry
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !isRetryableError(lastErr) {
			return lastErr // Permanent failure
		}

		recordRetryAttemptMetric(config, attempt)
	}

	recordMaxRetriesReachedMetric(config)

	return lastErr // Max attempts reached
}

// isRetryableError determines if an error should be retried. Only back end
// unavailability is transient from the replay's point of view.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return errors.Is(err, fbs.ErrBackendUnavailable)
}

func recordRetryDelayMetric(config *retryConfig, attempt int, backoffDelay time.Duration) {
	if config.metricsCollector != nil {
		config.metricsCollector.RecordDuration(ReplayRetryDelayMetric, backoffDelay, map[string]string{
			labelRetryAction:   config.action,
			labelAttemptNumber: fmt.Sprintf("%d", attempt),
		})
	}
}

func recordRetryAttemptMetric(config *retryConfig, attempt int) {
	if attempt < config.maxAttempts-1 && config.metricsCollector != nil {
		config.metricsCollector.IncrementCounter(ReplayRetriesMetric, map[string]string{
			labelRetryAction:   config.action,
			labelAttemptNumber: fmt.Sprintf("%d", attempt+1),
		})
	}
}

func recordMaxRetriesReachedMetric(config *retryConfig) {
	if config.metricsCollector != nil {
		config.metricsCollector.IncrementCounter(ReplayMaxRetriesReachedMetric, map[string]string{
			labelRetryAction: config.action,
		})
	}
}
