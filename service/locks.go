package service

import (
	"context"
	"sync"
)

// storyLocks serialises read-modify-write of one story record.
type storyLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newStoryLocks() *storyLocks {
	return &storyLocks{locks: make(map[string]*refLock)}
}

// lock blocks until the story is free and returns the unlock function.
func (l *storyLocks) lock(storyID string) func() {
	l.mu.Lock()
	rl, ok := l.locks[storyID]
	if !ok {
		rl = &refLock{}
		l.locks[storyID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		if rl.refs--; rl.refs == 0 {
			delete(l.locks, storyID)
		}
		l.mu.Unlock()
	}
}

// workKey names one unit of in-process work: a story run (segment -1) or
// one segment attempt.
type workKey struct {
	storyID   string
	segmentID int
}

const runSegment = -1

// registry tracks in-process work so Delete can stop polls and the main loop
// can leave segments with a live regenerate alone.
type registry struct {
	mu   sync.Mutex
	work map[workKey]*entry
}

type entry struct {
	cancel context.CancelFunc
}

func newRegistry() *registry {
	return &registry{work: make(map[workKey]*entry)}
}

// acquire derives a cancellable context for the work. ok is false when the
// same work is already running in this process.
func (r *registry) acquire(ctx context.Context, storyID string, segmentID int) (context.Context, func(), bool) {
	key := workKey{storyID, segmentID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.work[key]; busy {
		return ctx, func() {}, false
	}
	workCtx, cancel := context.WithCancel(ctx)
	e := &entry{cancel: cancel}
	r.work[key] = e
	release := func() {
		r.mu.Lock()
		if r.work[key] == e {
			delete(r.work, key)
		}
		r.mu.Unlock()
		cancel()
	}
	return workCtx, release, true
}

func (r *registry) active(storyID string, segmentID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.work[workKey{storyID, segmentID}]
	return ok
}

// cancelStory stops every run and poll of the story. The remote jobs keep
// running; their late results are dropped by the attempt check.
func (r *registry) cancelStory(storyID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, e := range r.work {
		if key.storyID == storyID {
			e.cancel()
			delete(r.work, key)
			n++
		}
	}
	return n
}
