package reconciler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/fbs/reconciler"
)

func Test_Retry_Success_FirstAttempt(t *testing.T) {
	attempts := 0

	err := reconciler.RetryWithExponentialBackoff(context.Background(),
		func(context.Context) error {
			attempts++
			return nil
		},
	)

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func Test_Retry_RetriesWhileBackendUnavailable(t *testing.T) {
	// arrange - unavailable twice, then fine
	attempts := 0
	fn := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Join(fbs.ErrBackendUnavailable, errors.New("connection refused"))
		}
		return nil
	}

	// act
	err := reconciler.RetryWithExponentialBackoff(context.Background(), fn,
		reconciler.WithMaxAttempts(5),
		reconciler.WithBaseDelay(0),
		reconciler.WithJitterFactor(0),
	)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func Test_Retry_PermanentFailure_FailsFast(t *testing.T) {
	attempts := 0

	err := reconciler.RetryWithExponentialBackoff(context.Background(),
		func(context.Context) error {
			attempts++
			return fbs.ErrInvalidCredentials
		},
		reconciler.WithMaxAttempts(5),
		reconciler.WithBaseDelay(0),
	)

	assert.ErrorIs(t, err, fbs.ErrInvalidCredentials)
	assert.Equal(t, 1, attempts)
}

func Test_Retry_MaxAttemptsReached_ReturnsLastError(t *testing.T) {
	attempts := 0
	unavailable := errors.Join(fbs.ErrBackendUnavailable, errors.New("connection refused"))

	err := reconciler.RetryWithExponentialBackoff(context.Background(),
		func(context.Context) error {
			attempts++
			return unavailable
		},
		reconciler.WithMaxAttempts(3),
		reconciler.WithBaseDelay(0),
		reconciler.WithJitterFactor(0),
	)

	assert.ErrorIs(t, err, fbs.ErrBackendUnavailable)
	assert.Equal(t, 3, attempts)
}

func Test_Retry_CanceledContext_StopsRetrying(t *testing.T) {
	// arrange
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func(context.Context) error {
		attempts++
		cancel()
		return errors.Join(fbs.ErrBackendUnavailable, errors.New("connection refused"))
	}

	// act
	err := reconciler.RetryWithExponentialBackoff(ctx, fn,
		reconciler.WithMaxAttempts(5),
	)

	// assert - the backoff wait observes the canceled context
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func Test_Retry_Error_InvalidOptions(t *testing.T) {
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t,
		reconciler.RetryWithExponentialBackoff(context.Background(), noop, reconciler.WithMaxAttempts(0)),
		reconciler.ErrInvalidMaxAttempts)
	assert.ErrorIs(t,
		reconciler.RetryWithExponentialBackoff(context.Background(), noop, reconciler.WithBaseDelay(-1)),
		reconciler.ErrNegativeBaseDelay)
	assert.ErrorIs(t,
		reconciler.RetryWithExponentialBackoff(context.Background(), noop, reconciler.WithJitterFactor(1.5)),
		reconciler.ErrInvalidJitterFactor)
	assert.ErrorIs(t,
		reconciler.RetryWithExponentialBackoff(context.Background(), noop, reconciler.WithRetryMetrics(nil, "checkout")),
		reconciler.ErrNilMetricsCollector)
}
