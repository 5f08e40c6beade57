package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/generator"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

// generateMedia walks the segments in ascending id order, one at a time.
// A failing segment is recorded and the walk goes on.
func (o *Orchestrator) generateMedia(ctx context.Context, story *models.Story) (*models.Story, error) {
	ids := make([]int, 0, len(story.Segments))
	for _, seg := range story.Segments {
		ids = append(ids, seg.ID)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attemptID, err := o.claim(ctx, story.ID, id)
		if err != nil {
			return nil, err
		}
		if attemptID == "" {
			continue
		}
		if err := o.generateSegment(ctx, story.ID, id, attemptID); err != nil {
			return nil, err
		}
	}

	return o.mutate(ctx, story.ID, func(s *models.Story) error {
		if s.Stage != models.StageGeneratingMedia {
			return errStageMoved
		}
		done, total := s.SegmentCounts()
		failed := 0
		for _, seg := range s.Segments {
			if seg.Status == models.SegmentFailed {
				failed++
			}
		}
		s.Advance(models.StageCompleted, fmt.Sprintf("Completed: %d of %d scenes generated", done-failed, total))
		return nil
	})
}

// claim starts a new attempt on a segment the main loop still owes work.
// It returns "" for segments that are done or busy with a live regenerate.
func (o *Orchestrator) claim(ctx context.Context, storyID string, segmentID int) (string, error) {
	var attemptID string
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil {
			return errSkipSave
		}
		switch seg.Status {
		case models.SegmentCompleted, models.SegmentFailed:
			return errSkipSave
		case models.SegmentGenerating:
			if o.work.active(storyID, segmentID) {
				return errSkipSave
			}
			o.storyLog(storyID).WithField(logger.FieldSegmentID, segmentID).
				Warn("segment was left generating by an interrupted attempt, starting over")
		}
		attemptID = uuid.NewString()
		seg.Begin(attemptID)
		s.CurrentStep = fmt.Sprintf("Generating scene %d of %d", segmentID, len(s.Segments))
		return nil
	})
	if err != nil {
		return "", err
	}
	return attemptID, nil
}

// generateSegment produces every configured artifact kind for one attempt
// and settles the segment. Generation failures end up on the segment; the
// returned error is reserved for the store and the context.
func (o *Orchestrator) generateSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error {
	log := o.storyLog(storyID).WithFields(logrus.Fields{
		logger.FieldSegmentID: segmentID,
		logger.FieldAttempt:   attemptID,
	})

	story, err := o.store.Load(ctx, storyID)
	if err != nil {
		return err
	}
	seg := story.Segment(segmentID)
	if seg == nil || seg.AttemptID != attemptID {
		log.Info("attempt superseded before it started")
		return nil
	}
	ref := o.reference(ctx, story)

	var failures []error
	for _, kind := range o.opts.Kinds {
		klog := log.WithField(logger.FieldKind, kind)
		art, err := o.generateKind(ctx, kind, o.request(story, seg, kind, ref), attemptID)
		if err == nil {
			err = o.attach(ctx, storyID, segmentID, attemptID, art)
		}
		switch {
		case err == nil:
			klog.Info("artifact stored")
		case errors.Is(err, errStaleAttempt):
			klog.Info("attempt superseded, discarding result")
			return nil
		case errors.Is(err, models.ErrStoryNotFound):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errAttach):
			return err
		default:
			klog.WithError(err).Warn("artifact generation failed")
			failures = append(failures, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return o.settle(ctx, storyID, segmentID, attemptID, errors.Join(failures...))
}

var errAttach = errors.New("store artifact")

func (o *Orchestrator) generateKind(ctx context.Context, kind models.ArtifactKind, req generator.Request, attemptID string) (generator.Artifact, error) {
	gen, ok := o.generators[kind]
	if !ok {
		return generator.Artifact{}, retry.Permanent(fmt.Errorf("no %s generator configured", kind))
	}
	if err := generator.Validate(kind, req, o.opts.Limits); err != nil {
		return generator.Artifact{}, err
	}
	hooks := pendingHooks{
		record: func(op generator.Operation) error {
			return o.recordOperation(ctx, req.StoryID, req.SegmentID, attemptID, op)
		},
		alive: o.attemptAlive(req.StoryID, req.SegmentID, attemptID),
	}
	res := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) (generator.Artifact, error) {
		return o.produce(ctx, gen, req, hooks)
	})
	if !res.OK() {
		return res.Value, res.Err
	}
	res.Value.Kind = kind
	return res.Value, nil
}

// recordOperation notes the remote job handle on the segment. It doubles as
// an early check that the attempt is still current.
func (o *Orchestrator) recordOperation(ctx context.Context, storyID string, segmentID int, attemptID string, op generator.Operation) error {
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil || seg.AttemptID != attemptID || seg.Status != models.SegmentGenerating {
			return errStaleAttempt
		}
		seg.OperationID = op.ID
		return nil
	})
	if errors.Is(err, errStaleAttempt) || errors.Is(err, models.ErrStoryNotFound) {
		return retry.Permanent(err)
	}
	if err != nil {
		o.storyLog(storyID).WithError(err).Warn("recording operation handle failed")
	}
	return nil
}

// attemptAlive checks the stored segment before each poll, so a delete or a
// newer attempt made by any process ends the wait.
func (o *Orchestrator) attemptAlive(storyID string, segmentID int, attemptID string) func(context.Context) error {
	return func(ctx context.Context) error {
		story, err := o.store.Load(ctx, storyID)
		if errors.Is(err, models.ErrStoryNotFound) {
			return retry.Permanent(err)
		}
		if err != nil {
			return retry.Transient(err)
		}
		seg := story.Segment(segmentID)
		if seg == nil || seg.AttemptID != attemptID || seg.Status != models.SegmentGenerating {
			return retry.Permanent(errStaleAttempt)
		}
		return nil
	}
}

// attach writes the artifact and links it to the segment, unless a newer
// attempt or a delete got there first.
func (o *Orchestrator) attach(ctx context.Context, storyID string, segmentID int, attemptID string, art generator.Artifact) error {
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil || seg.AttemptID != attemptID || seg.Status != models.SegmentGenerating {
			return errStaleAttempt
		}
		loc, err := o.media.Write(ctx, storyID, segmentID, art.Kind, art.ContentType, art.Data)
		if err != nil {
			return fmt.Errorf("%w %s: %w", errAttach, art.Kind, err)
		}
		seg.SetArtifact(art.Kind, loc)
		return nil
	})
	return err
}

func (o *Orchestrator) settle(ctx context.Context, storyID string, segmentID int, attemptID string, failure error) error {
	log := o.storyLog(storyID).WithField(logger.FieldSegmentID, segmentID)
	_, err := o.mutate(ctx, storyID, func(s *models.Story) error {
		seg := s.Segment(segmentID)
		if seg == nil || seg.AttemptID != attemptID || seg.Status != models.SegmentGenerating {
			return errStaleAttempt
		}
		if failure != nil {
			seg.Fail(failure)
		} else {
			seg.Complete()
		}
		done, total := s.SegmentCounts()
		s.CurrentStep = fmt.Sprintf("Generated %d of %d scenes", done, total)
		return nil
	})
	switch {
	case errors.Is(err, errStaleAttempt):
		log.Info("attempt superseded, leaving segment as is")
		return nil
	case err != nil:
		return err
	case failure != nil:
		log.WithError(failure).Warn("segment failed")
	default:
		log.Info("segment completed")
	}
	return nil
}

func (o *Orchestrator) request(story *models.Story, seg *models.Segment, kind models.ArtifactKind, ref *generator.Reference) generator.Request {
	req := generator.Request{
		StoryID:         story.ID,
		SegmentID:       seg.ID,
		DurationSeconds: seg.TargetDurationSeconds,
	}
	switch kind {
	case models.KindAudio:
		req.Prompt = firstNonEmpty(seg.NarrationText, seg.Caption, seg.SceneDescription)
	default:
		req.Prompt = firstNonEmpty(seg.GenerationPrompt, seg.SceneDescription)
		req.Style = story.Style.Summary()
		req.Reference = ref
	}
	return req
}

// reference describes the story's reference asset for generators. A store
// that cannot share links yields a reference without URL, which generators
// drop.
func (o *Orchestrator) reference(ctx context.Context, story *models.Story) *generator.Reference {
	if story.ReferenceLocator == "" {
		return nil
	}
	ref := &generator.Reference{
		Locator:     story.ReferenceLocator,
		ContentType: media.ContentTypeFor(story.ReferenceLocator),
	}
	if p, ok := o.media.(media.Presigner); ok {
		link, err := p.PresignedURL(ctx, story.ReferenceLocator, o.opts.ReferenceLinkTTL)
		if err != nil {
			o.storyLog(story.ID).WithError(err).Warn("sharing reference asset failed")
			return ref
		}
		ref.URL = link
	}
	return ref
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
