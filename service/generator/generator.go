// Package generator holds the uniform contract every media back-end meets and
// the back-ends themselves.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

type State string

const (
	StateCompleted State = "completed"
	StatePending   State = "pending"
)

// Artifact is generated media, either inline bytes or a URL to download.
type Artifact struct {
	Kind        models.ArtifactKind
	Data        []byte
	URL         string
	ContentType string
}

// Operation is the handle of a remote job that has not finished yet.
type Operation struct {
	ID   string
	Kind models.ArtifactKind
}

// Result is a tagged variant: Artifact is set when State is completed,
// Operation when it is pending.
type Result struct {
	State     State
	Artifact  *Artifact
	Operation *Operation
}

func Completed(a Artifact) Result {
	return Result{State: StateCompleted, Artifact: &a}
}

func Pending(op Operation) Result {
	return Result{State: StatePending, Operation: &op}
}

// Reference is an optional consistency asset. URL is filled when the media
// store can hand out links; Data when the bytes were loaded locally.
type Reference struct {
	Locator     string
	URL         string
	Data        []byte
	ContentType string
}

// Usable reports whether a back-end has anything to send.
func (r *Reference) Usable() bool {
	return r != nil && (r.URL != "" || len(r.Data) > 0)
}

type Request struct {
	StoryID         string `validate:"required"`
	SegmentID       int    `validate:"gte=0"`
	Prompt          string
	DurationSeconds int
	Style           string
	Reference       *Reference
}

type Generator interface {
	Kind() models.ArtifactKind
	Generate(ctx context.Context, req Request) (Result, error)
}

// Check is one observation of a pending operation.
type Check struct {
	Done     bool
	Artifact *Artifact
}

// OperationChecker is implemented by back-ends that answer with pending operations.
type OperationChecker interface {
	Check(ctx context.Context, op Operation) (Check, error)
}

var ErrNoChecker = errors.New("generator returned a pending operation but cannot check it")

// Await polls op to completion through the generator's checker.
func Await(ctx context.Context, g Generator, op Operation, poller retry.Poller) (Artifact, error) {
	return AwaitWhile(ctx, g, op, poller, nil)
}

// AwaitWhile is Await with a liveness check run before every poll. A
// permanent error from alive stops polling; a transient one skips the poll.
func AwaitWhile(ctx context.Context, g Generator, op Operation, poller retry.Poller, alive func(ctx context.Context) error) (Artifact, error) {
	checker, ok := g.(OperationChecker)
	if !ok {
		return Artifact{}, retry.Permanent(fmt.Errorf("%s: %w", g.Kind(), ErrNoChecker))
	}
	return retry.Poll(ctx, poller, func(ctx context.Context) (Artifact, bool, error) {
		if alive != nil {
			if err := alive(ctx); err != nil {
				return Artifact{}, false, err
			}
		}
		c, err := checker.Check(ctx, op)
		if err != nil {
			return Artifact{}, false, err
		}
		if !c.Done {
			return Artifact{}, false, nil
		}
		if c.Artifact == nil {
			return Artifact{}, false, retry.Permanent(fmt.Errorf("operation %s finished without an artifact", op.ID))
		}
		return *c.Artifact, true, nil
	})
}
