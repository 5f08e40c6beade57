package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/generator"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
)

var ErrArtifactNotFound = errors.New("artifact not generated")

// Create records an uploaded story and dispatches its run. A failed dispatch
// is logged only: the story stays uploaded and RecoverInterrupted picks it up.
func (o *Orchestrator) Create(ctx context.Context, title, text string) (*models.Story, error) {
	story := models.NewStory(uuid.NewString(), title, text)
	if err := o.store.Create(ctx, story); err != nil {
		return nil, err
	}
	log := o.storyLog(story.ID)
	log.WithField(logger.FieldEventType, "story_created").Info("story uploaded")
	if err := o.dispatcher.DispatchRun(ctx, story.ID); err != nil {
		log.WithError(err).Error("dispatching story run failed")
	}
	return story, nil
}

func (o *Orchestrator) Get(ctx context.Context, storyID string) (*models.Story, error) {
	return o.store.Load(ctx, storyID)
}

func (o *Orchestrator) List(ctx context.Context) ([]models.Story, error) {
	return o.store.List(ctx)
}

// Status is a pure read of the persisted record.
func (o *Orchestrator) Status(ctx context.Context, storyID string) (models.StatusView, error) {
	story, err := o.store.Load(ctx, storyID)
	if err != nil {
		return models.StatusView{}, err
	}
	return story.Status(), nil
}

// Regenerate starts a fresh attempt for one segment, optionally with a new
// prompt. Only completed or failed segments can be regenerated.
func (o *Orchestrator) Regenerate(ctx context.Context, storyID string, segmentID int, newPrompt string) error {
	newPrompt = strings.TrimSpace(newPrompt)
	if newPrompt != "" {
		req := generator.Request{StoryID: storyID, SegmentID: segmentID, Prompt: newPrompt}
		if err := generator.Validate(models.KindImage, req, o.opts.Limits); err != nil {
			return err
		}
	}

	attemptID := uuid.NewString()
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil {
			return fmt.Errorf("%w: %d", ErrSegmentNotFound, segmentID)
		}
		switch seg.Status {
		case models.SegmentGenerating:
			return ErrSegmentBusy
		case models.SegmentPending:
			return ErrSegmentNotReady
		}
		if newPrompt != "" {
			seg.GenerationPrompt = newPrompt
		}
		seg.Begin(attemptID)
		return nil
	})
	if err != nil {
		return err
	}

	log := o.storyLog(storyID).WithFields(logrus.Fields{
		logger.FieldSegmentID: segmentID,
		logger.FieldAttempt:   attemptID,
	})
	if err := o.dispatcher.DispatchSegment(ctx, storyID, segmentID, attemptID); err != nil {
		derr := fmt.Errorf("dispatch regenerate: %w", err)
		if serr := o.settle(ctx, storyID, segmentID, attemptID, derr); serr != nil {
			log.WithError(serr).Error("recording dispatch failure failed")
		}
		return derr
	}
	log.WithField(logger.FieldEventType, "segment_regenerate").Info("segment regenerate dispatched")
	return nil
}

// GenerateSegment is the background half of Regenerate.
func (o *Orchestrator) GenerateSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error {
	segCtx, release, ok := o.work.acquire(ctx, storyID, segmentID)
	if !ok {
		o.storyLog(storyID).WithField(logger.FieldSegmentID, segmentID).Info("segment already generating in this process")
		return nil
	}
	defer release()

	err := o.generateSegment(segCtx, storyID, segmentID, attemptID)
	if err != nil && segCtx.Err() != nil && ctx.Err() == nil {
		return nil
	}
	return err
}

// Resume puts a failed story back into the stage it failed in and runs it again.
func (o *Orchestrator) Resume(ctx context.Context, storyID string) error {
	story, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		if s.Stage != models.StageFailed {
			return ErrStoryNotFailed
		}
		stage := s.FailedStage
		if !stage.Valid() || stage.Terminal() {
			stage = models.StageUploaded
		}
		s.FailedStage = ""
		s.TerminalError = ""
		s.Advance(stage, "Resuming at "+strings.ReplaceAll(string(stage), "_", " "))
		return nil
	})
	if err != nil {
		return err
	}
	o.storyLog(storyID).WithField(logger.FieldStage, story.Stage).Info("story resumed")
	return o.dispatcher.DispatchRun(ctx, storyID)
}

// Delete stops local work on the story, removes its record and then its
// media. Remote jobs are not cancelled; whatever they produce is discarded.
func (o *Orchestrator) Delete(ctx context.Context, storyID string) error {
	cancelled := o.work.cancelStory(storyID)

	unlock := o.locks.lock(storyID)
	err := o.store.Delete(ctx, storyID)
	unlock()
	if err != nil {
		return err
	}
	if err := o.media.Delete(ctx, storyID); err != nil {
		return fmt.Errorf("delete media of %s: %w", storyID, err)
	}
	o.storyLog(storyID).WithFields(logrus.Fields{
		logger.FieldEventType: "story_deleted",
		"cancelled_work":      cancelled,
	}).Info("story deleted")
	return nil
}

// RecoverInterrupted re-dispatches work a previous process left unfinished:
// every non-terminal story, and segments of terminal stories that were
// regenerating. It returns the number of dispatches.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	stories, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stories {
		story := &stories[i]
		log := o.storyLog(story.ID)
		if !story.Stage.Terminal() {
			if err := o.dispatcher.DispatchRun(ctx, story.ID); err != nil {
				return n, fmt.Errorf("recover %s: %w", story.ID, err)
			}
			log.WithField(logger.FieldStage, story.Stage).Info("interrupted story re-dispatched")
			n++
			continue
		}
		for _, seg := range story.Segments {
			if seg.Status != models.SegmentGenerating || o.work.active(story.ID, seg.ID) {
				continue
			}
			attemptID, err := o.restartSegment(ctx, story.ID, seg.ID)
			if err != nil {
				return n, fmt.Errorf("recover %s segment %d: %w", story.ID, seg.ID, err)
			}
			if attemptID == "" {
				continue
			}
			if err := o.dispatcher.DispatchSegment(ctx, story.ID, seg.ID, attemptID); err != nil {
				return n, fmt.Errorf("recover %s segment %d: %w", story.ID, seg.ID, err)
			}
			log.WithField(logger.FieldSegmentID, seg.ID).Info("interrupted segment re-dispatched")
			n++
		}
	}
	return n, nil
}

func (o *Orchestrator) restartSegment(ctx context.Context, storyID string, segmentID int) (string, error) {
	var attemptID string
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil || seg.Status != models.SegmentGenerating {
			return errSkipSave
		}
		attemptID = uuid.NewString()
		seg.Begin(attemptID)
		return nil
	})
	return attemptID, err
}

// OpenArtifact resolves (story, segment, kind) to a stored object. Kind
// reference ignores the segment.
func (o *Orchestrator) OpenArtifact(ctx context.Context, storyID string, segmentID int, kind models.ArtifactKind) (media.Object, error) {
	story, err := o.store.Load(ctx, storyID)
	if err != nil {
		return nil, err
	}
	var locator string
	if kind == models.KindReference {
		locator = story.ReferenceLocator
	} else {
		seg := story.Segment(segmentID)
		if seg == nil {
			return nil, fmt.Errorf("%w: %d", ErrSegmentNotFound, segmentID)
		}
		locator = seg.Artifact(kind)
	}
	if locator == "" {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, kind)
	}
	return o.media.Open(ctx, locator)
}
