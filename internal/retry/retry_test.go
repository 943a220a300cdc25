package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errFlaky = errors.New("flaky")

func TestDefaultPolicyDelays(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 4, p.Attempts())
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
	}, p.Delays())
}

func TestDo_RetriesUntilExhausted(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}

	calls := 0
	var waits []time.Duration
	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, errFlaky
	},
		WithLogger(zaptest.NewLogger(t), "test"),
		WithNotify(func(_ int, _ error, next time.Duration) { waits = append(waits, next) }),
	)

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxRetries: 3, Multiplier: 2}

	calls := 0
	got, err := Do(context.Background(), p, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxRetries: 3, Multiplier: 2}
	fatal := errors.New("bad request")

	calls := 0
	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, Permanent(fatal)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, fatal, err)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, Multiplier: 2}

	calls := 0
	_, err := Do(ctx, p, func() (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyZeroRetries(t *testing.T) {
	p := Policy{}
	calls := 0
	_, err := Do(context.Background(), p, func() (int, error) {
		calls++
		return 0, errFlaky
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, p.Delays())
}
