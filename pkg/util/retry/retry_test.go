package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/privchat-go/pkg/util/merr"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("store not ready")
		}
		return nil
	}, Attempts(5), Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReachesMaxAttempts(t *testing.T) {
	calls := 0
	errDown := errors.New("down")
	err := Do(context.Background(), func() error {
		calls++
		return errDown
	}, Attempts(3), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, calls)
}

func TestDoUnrecoverable(t *testing.T) {
	calls := 0
	errBadDSN := errors.New("bad dsn")
	err := Do(context.Background(), func() error {
		calls++
		return Unrecoverable(errBadDSN)
	}, Attempts(5), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, errBadDSN)
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, 1, calls)
}

func TestDoRetryErrPredicate(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return merr.WrapErrMessageNotFound("m")
	}, Attempts(5), Sleep(time.Millisecond), RetryErr(merr.IsRetryableErr))
	assert.ErrorIs(t, err, merr.ErrMessageNotFound)
	assert.Equal(t, 1, calls)
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errBusy := errors.New("busy")
	err := Do(ctx, func() error { return errBusy }, Attempts(0), Sleep(10*time.Millisecond), MaxSleepTime(20*time.Millisecond))
	assert.ErrorIs(t, err, errBusy)
}
