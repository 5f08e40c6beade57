package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(attempts int, s *recordedSleeps) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Backoff:     Exponential,
		Sleep:       s.sleep,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var sleeps recordedSleeps
	var calls int
	res := Do(context.Background(), testPolicy(4, &sleeps), func(ctx context.Context) (string, error) {
		calls++
		if calls < 4 {
			return "", Transient(errors.New("503"))
		}
		return "artifact", nil
	})

	require.True(t, res.OK())
	assert.Equal(t, "artifact", res.Value)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sleeps.delays)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	var sleeps recordedSleeps
	var calls int
	cause := Transient(errors.New("connection reset"))
	res := Do(context.Background(), testPolicy(3, &sleeps), func(ctx context.Context) (int, error) {
		calls++
		return 0, cause
	})

	require.False(t, res.OK())
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, cause)
	assert.Contains(t, res.Err.Error(), "failed after 3 attempt(s)")
	assert.Len(t, sleeps.delays, 2)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var sleeps recordedSleeps
	var calls int
	res := Do(context.Background(), testPolicy(5, &sleeps), func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("prompt too long"))
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, IsPermanent(res.Err))
	assert.Empty(t, sleeps.delays)
}

func TestDoRecoversPanics(t *testing.T) {
	var sleeps recordedSleeps
	var calls int
	res := Do(context.Background(), testPolicy(3, &sleeps), func(ctx context.Context) (int, error) {
		calls++
		panic("nil map")
	})

	assert.Equal(t, 1, calls)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panic: nil map")
	assert.True(t, IsPermanent(res.Err))
}

func TestDoHonoursRetryAfter(t *testing.T) {
	var sleeps recordedSleeps
	var calls int
	res := Do(context.Background(), testPolicy(3, &sleeps), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, FromStatus(http.StatusTooManyRequests, "slow down", 700*time.Millisecond)
		}
		if calls == 2 {
			return 0, WithRetryAfter(errors.New("busy"), time.Hour)
		}
		return 1, nil
	})

	require.True(t, res.OK())
	assert.Equal(t, []time.Duration{700 * time.Millisecond, time.Second}, sleeps.delays)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return nil
		},
	}
	res := Do(ctx, policy, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, Transient(errors.New("flaky"))
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPolicyDelay(t *testing.T) {
	linear := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Backoff: Linear}
	assert.Equal(t, time.Second, linear.Delay(1))
	assert.Equal(t, 3*time.Second, linear.Delay(3))
	assert.Equal(t, 5*time.Second, linear.Delay(9))

	exp := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Backoff: Exponential}
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 8*time.Second, exp.Delay(4))
	assert.Equal(t, 10*time.Second, exp.Delay(5))
	assert.Equal(t, 10*time.Second, exp.Delay(40))

	assert.Zero(t, Policy{}.Delay(3))
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"429", FromStatus(http.StatusTooManyRequests, "", 0), true},
		{"425", FromStatus(http.StatusTooEarly, "", 0), true},
		{"408", FromStatus(http.StatusRequestTimeout, "", 0), true},
		{"502", FromStatus(http.StatusBadGateway, "", 0), true},
		{"400", FromStatus(http.StatusBadRequest, "bad prompt", 0), false},
		{"402 quota", FromStatus(http.StatusPaymentRequired, "", 0), false},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"poll timeout", ErrPollTimeout, true},
		{"cancelled", fmt.Errorf("do: %w", context.Canceled), false},
		{"unclassified", errors.New("mystery"), true},
		{"outer permanent wins", Permanent(Transient(errors.New("x"))), false},
		{"outer transient wins", Transient(Permanent(errors.New("x"))), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err))
		})
	}

	assert.False(t, IsTransient(nil))
	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))

	var statusErr *StatusError
	require.ErrorAs(t, FromStatus(http.StatusPaymentRequired, "", 0), &statusErr)
	assert.Contains(t, statusErr.Error(), "quota exhausted")
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := ParseRetryAfter("3")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = ParseRetryAfter("-1")
	assert.False(t, ok)
	_, ok = ParseRetryAfter("")
	assert.False(t, ok)

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d, ok = ParseRetryAfter(future)
	require.True(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), d.Seconds(), 2)
}
