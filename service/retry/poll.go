package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller queries a remote job at Interval, stretched by up to Jitter (a
// fraction of Interval), until it finishes or Timeout passes.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	Jitter   float64
	Log      logrus.FieldLogger
}

// Poll calls check until it reports done. Transient check errors are logged
// and polling continues; any other error stops it. Running out of time
// returns ErrPollTimeout. Cancelling ctx stops polling but leaves the remote
// job alone.
func Poll[T any](ctx context.Context, p Poller, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T

	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	timeout := time.NewTimer(p.Timeout)
	defer timeout.Stop()

	for polls := 1; ; polls++ {
		wait := time.NewTimer(p.next(interval))
		select {
		case <-ctx.Done():
			wait.Stop()
			return zero, fmt.Errorf("polling cancelled: %w", ctx.Err())
		case <-timeout.C:
			wait.Stop()
			return zero, ErrPollTimeout
		case <-wait.C:
		}

		value, done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("polling cancelled: %w", ctx.Err())
			}
			if !IsTransient(err) {
				return zero, err
			}
			if p.Log != nil {
				p.Log.WithField("poll", polls).WithError(err).Warn("poll check failed, continuing")
			}
			continue
		}
		if done {
			return value, nil
		}
	}
}

func (p Poller) next(interval time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Float64()*p.Jitter*float64(interval))
}
