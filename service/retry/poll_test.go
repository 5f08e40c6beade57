package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollReturnsWhenDone(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := Poller{Interval: time.Millisecond, Timeout: time.Second, Jitter: 0.5, Log: log}

	var checks int
	url, err := Poll(context.Background(), p, func(ctx context.Context) (string, bool, error) {
		checks++
		switch checks {
		case 1:
			return "", false, nil
		case 2:
			return "", false, Transient(errors.New("worker restarting"))
		default:
			return "http://worker/out.mp4", true, nil
		}
	})

	require.NoError(t, err)
	assert.Equal(t, "http://worker/out.mp4", url)
	assert.Equal(t, 3, checks)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "poll check failed, continuing", hook.LastEntry().Message)
}

func TestPollStopsOnPermanentError(t *testing.T) {
	p := Poller{Interval: time.Millisecond, Timeout: time.Second}
	_, err := Poll(context.Background(), p, func(ctx context.Context) (int, bool, error) {
		return 0, false, Permanent(errors.New("job failed: nsfw filter"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestPollTimesOutAsTransient(t *testing.T) {
	p := Poller{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}
	_, err := Poll(context.Background(), p, func(ctx context.Context) (int, bool, error) {
		return 0, false, nil
	})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.True(t, IsTransient(err))
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Poller{Interval: time.Millisecond, Timeout: time.Minute}

	var checks int
	_, err := Poll(ctx, p, func(ctx context.Context) (int, bool, error) {
		checks++
		if checks == 2 {
			cancel()
		}
		return 0, false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
	assert.Equal(t, 2, checks)
}
