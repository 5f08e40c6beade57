package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	runs     []string
	segments []SegmentPayload
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, storyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, storyID)
	return f.err
}

func (f *fakeRunner) GenerateSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, SegmentPayload{StoryID: storyID, SegmentID: segmentID, AttemptID: attemptID})
	return f.err
}

func TestProcessorHandlers(t *testing.T) {
	runner := &fakeRunner{}
	p := &Processor{runner: runner, log: logger.Discard()}
	ctx := context.Background()

	err := p.HandleStoryRun(ctx, asynq.NewTask(TypeStoryRun, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = p.HandleSegmentRegenerate(ctx, asynq.NewTask(TypeSegmentRegenerate, []byte(`{"story_id":"s"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	require.NoError(t, p.HandleStoryRun(ctx, asynq.NewTask(TypeStoryRun, []byte(`{"story_id":"s1"}`))))
	require.NoError(t, p.HandleSegmentRegenerate(ctx, asynq.NewTask(TypeSegmentRegenerate,
		[]byte(`{"story_id":"s1","segment_id":2,"attempt_id":"a"}`))))
	assert.Equal(t, []string{"s1"}, runner.runs)
	assert.Equal(t, []SegmentPayload{{StoryID: "s1", SegmentID: 2, AttemptID: "a"}}, runner.segments)

	runner.err = models.ErrStoryNotFound
	assert.NoError(t, p.HandleStoryRun(ctx, asynq.NewTask(TypeStoryRun, []byte(`{"story_id":"gone"}`))))

	runner.err = errors.New("database is locked")
	assert.Error(t, p.HandleStoryRun(ctx, asynq.NewTask(TypeStoryRun, []byte(`{"story_id":"s2"}`))))
}

func TestInlineDispatcher(t *testing.T) {
	d := NewInlineDispatcher(context.Background(), logger.Discard())
	assert.ErrorIs(t, d.DispatchRun(context.Background(), "s"), errNoRunner)

	runner := &fakeRunner{}
	d.Bind(runner)
	require.NoError(t, d.DispatchRun(context.Background(), "s1"))
	require.NoError(t, d.DispatchSegment(context.Background(), "s1", 3, "a"))
	d.Wait()
	assert.Equal(t, []string{"s1"}, runner.runs)
	assert.Len(t, runner.segments, 1)
}

func TestStoryLocksSerialise(t *testing.T) {
	locks := newStoryLocks()
	unlock := locks.lock("s")

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		locks.lock("s")()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(20 * time.Millisecond):
	}
	locks.lock("other")()
	unlock()
	<-acquired

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

func TestRegistry(t *testing.T) {
	r := newRegistry()
	ctx, release, ok := r.acquire(context.Background(), "s", 1)
	require.True(t, ok)
	_, _, again := r.acquire(context.Background(), "s", 1)
	assert.False(t, again)
	assert.True(t, r.active("s", 1))

	assert.Equal(t, 1, r.cancelStory("s"))
	assert.Error(t, ctx.Err())
	assert.False(t, r.active("s", 1))

	_, release2, ok := r.acquire(context.Background(), "s", 1)
	require.True(t, ok)
	release()
	assert.True(t, r.active("s", 1), "a stale release leaves the newer entry alone")
	release2()
	assert.False(t, r.active("s", 1))
}
