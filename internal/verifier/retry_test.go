package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 6, DefaultRetryPolicy().Attempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: 0}.Attempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: -3}.Attempts())
}

func TestRetryPolicy_StopsWhenDone(t *testing.T) {
	clock := &instantClock{}
	p := RetryPolicy{InitialDelay: time.Second, MaxRetries: 5, Interval: 500 * time.Millisecond}

	calls := 0
	err := p.Run(context.Background(), clock, func(attempt int) (bool, error) {
		calls++
		return attempt == 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond}, clock.waits)
}

func TestRetryPolicy_ReturnsLastError(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	errs := []error{errors.New("first"), errors.New("second"), errors.New("third")}

	err := p.Run(context.Background(), &instantClock{}, func(attempt int) (bool, error) {
		return false, errs[attempt]
	})
	assert.EqualError(t, err, "third")
}

func TestRetryPolicy_TerminalError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := DefaultRetryPolicy().Run(context.Background(), &instantClock{}, func(int) (bool, error) {
		calls++
		return true, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DefaultRetryPolicy().Run(ctx, realClock{}, func(int) (bool, error) {
		t.Fatal("should not be called")
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
