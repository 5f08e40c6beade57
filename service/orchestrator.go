package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service/generator"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
	"github.com/wlu03/story-to-scene-magic-08/service/retry"
)

// Options switch pipeline features and tune the shared retry and poll
// behaviour. They are fixed when the Orchestrator is built.
type Options struct {
	ReferenceAsset bool
	// Kinds are generated for each segment in this order.
	Kinds            []models.ArtifactKind
	Limits           generator.Limits
	Retry            retry.Policy
	Poll             retry.Poller
	ReferenceLinkTTL time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	var kinds []models.ArtifactKind
	if cfg.Pipeline.GenerateImage {
		kinds = append(kinds, models.KindImage)
	}
	if cfg.Pipeline.GenerateAudio {
		kinds = append(kinds, models.KindAudio)
	}
	if cfg.Pipeline.GenerateVideo {
		kinds = append(kinds, models.KindVideo)
	}
	return Options{
		ReferenceAsset: cfg.Pipeline.ReferenceAsset,
		Kinds:          kinds,
		Limits: generator.Limits{
			MaxPromptLength:    cfg.Pipeline.MaxPromptLength,
			MaxDurationSeconds: cfg.Pipeline.MaxDurationSeconds,
		},
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
			MaxDelay:    cfg.Retry.MaxDelay(),
			Backoff:     retry.Backoff(cfg.Retry.Backoff),
		},
		Poll: retry.Poller{
			Interval: cfg.Poll.Interval(),
			Timeout:  cfg.Poll.Timeout(),
			Jitter:   0.2,
		},
		ReferenceLinkTTL: 24 * time.Hour,
	}
}

type StyleSource interface {
	Extract(ctx context.Context, text string) (*models.StyleDescriptor, error)
}

type SegmentSource interface {
	Segment(ctx context.Context, storyID, text string, style *models.StyleDescriptor) ([]models.Segment, error)
}

type Deps struct {
	Store      models.StoryStore
	Media      media.Store
	Extractor  StyleSource
	Segmenter  SegmentSource
	Generators []generator.Generator
	Dispatcher Dispatcher
	// HTTPClient downloads artifacts that back-ends return as URLs.
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

// Orchestrator drives stories through the pipeline stages. It is the only
// writer of story records and the only place that decides whether a failure
// is local to a segment or fatal to the story.
type Orchestrator struct {
	store      models.StoryStore
	media      media.Store
	extractor  StyleSource
	segmenter  SegmentSource
	generators map[models.ArtifactKind]generator.Generator
	dispatcher Dispatcher
	http       *http.Client
	opts       Options
	locks      *storyLocks
	work       *registry
	log        logrus.FieldLogger
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}
	log = logger.Module(log, "orchestrator")
	if opts.Retry.Log == nil {
		opts.Retry.Log = log
	}
	if opts.Poll.Log == nil {
		opts.Poll.Log = log
	}
	if opts.ReferenceLinkTTL <= 0 {
		opts.ReferenceLinkTTL = 24 * time.Hour
	}
	gens := make(map[models.ArtifactKind]generator.Generator, len(deps.Generators))
	for _, g := range deps.Generators {
		gens[g.Kind()] = g
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Orchestrator{
		store:      deps.Store,
		media:      deps.Media,
		extractor:  deps.Extractor,
		segmenter:  deps.Segmenter,
		generators: gens,
		dispatcher: deps.Dispatcher,
		http:       client,
		opts:       opts,
		locks:      newStoryLocks(),
		work:       newRegistry(),
		log:        log,
	}
}

func (o *Orchestrator) storyLog(storyID string) logrus.FieldLogger {
	return o.log.WithField(logger.FieldStoryID, storyID)
}

// fatalError marks a stage failure that ends the story.
type fatalError struct {
	stage models.Stage
	err   error
}

func (e *fatalError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *fatalError) Unwrap() error { return e.err }

var errStageMoved = errors.New("story left the expected stage")

// mutate loads the story under its lock, applies fn and saves the result.
// fn returning errSkipSave leaves the record untouched.
func (o *Orchestrator) mutate(ctx context.Context, storyID string, fn func(*models.Story) error) (*models.Story, error) {
	unlock := o.locks.lock(storyID)
	defer unlock()

	story, err := o.store.Load(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := fn(story); err != nil {
		if errors.Is(err, errSkipSave) {
			return story, nil
		}
		return nil, err
	}
	if err := o.store.Save(ctx, story); err != nil {
		return nil, err
	}
	return story, nil
}

// Run moves the story from its persisted stage to a terminal one. Terminal
// stories are left untouched. Stage failures are recorded on the story and
// Run returns nil; an error means the store or the context gave out and the
// run may be dispatched again.
func (o *Orchestrator) Run(ctx context.Context, storyID string) error {
	log := o.storyLog(storyID)
	story, err := o.store.Load(ctx, storyID)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if story.Stage.Terminal() {
		log.WithField(logger.FieldStage, story.Stage).Debug("story is terminal, nothing to run")
		return nil
	}

	runCtx, release, ok := o.work.acquire(ctx, storyID, runSegment)
	if !ok {
		log.Info("story run already in progress")
		return nil
	}
	defer release()

	log.WithField(logger.FieldStage, story.Stage).Info("story run started")
	for !story.Stage.Terminal() {
		next, err := o.step(runCtx, story)
		if err != nil {
			return o.stopRun(ctx, runCtx, storyID, err)
		}
		if next.Stage != story.Stage {
			log.WithFields(logrus.Fields{
				logger.FieldStage:     next.Stage,
				logger.FieldEventType: "stage_transition",
				"progress_percent":    next.ProgressPercent,
			}).Info("stage entered")
		}
		story = next
	}
	return nil
}

func (o *Orchestrator) stopRun(ctx, runCtx context.Context, storyID string, err error) error {
	log := o.storyLog(storyID)
	var fatal *fatalError
	switch {
	case errors.Is(err, models.ErrStoryNotFound):
		log.Info("story deleted, run stopped")
		return nil
	case errors.Is(err, errStageMoved):
		log.Info("story stage changed elsewhere, run stopped")
		return nil
	case runCtx.Err() != nil && ctx.Err() == nil:
		log.Info("story run cancelled")
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("run %s interrupted: %w", storyID, ctx.Err())
	case errors.As(err, &fatal):
		_, serr := o.mutate(ctx, storyID, func(s *models.Story) error {
			s.Fail(fatal)
			return nil
		})
		if errors.Is(serr, models.ErrStoryNotFound) {
			return nil
		}
		if serr != nil {
			return fmt.Errorf("record failure of %s: %w", storyID, serr)
		}
		log.WithField(logger.FieldStage, fatal.stage).WithError(fatal.err).Error("story failed")
		return nil
	default:
		return fmt.Errorf("run %s: %w", storyID, err)
	}
}

func (o *Orchestrator) step(ctx context.Context, story *models.Story) (*models.Story, error) {
	switch story.Stage {
	case models.StageUploaded:
		return o.mutate(ctx, story.ID, func(s *models.Story) error {
			if s.Stage != models.StageUploaded {
				return errStageMoved
			}
			s.Advance(models.StageExtractingStyle, "Extracting characters and visual style")
			return nil
		})
	case models.StageExtractingStyle:
		return o.extractStyle(ctx, story)
	case models.StageGeneratingReferenceAsset:
		return o.generateReference(ctx, story)
	case models.StageGeneratingSegments:
		return o.segmentStory(ctx, story)
	case models.StageGeneratingMedia:
		return o.generateMedia(ctx, story)
	}
	return nil, &fatalError{stage: story.Stage, err: fmt.Errorf("unknown stage %q", story.Stage)}
}

func (o *Orchestrator) extractStyle(ctx context.Context, story *models.Story) (*models.Story, error) {
	style := story.Style
	if style == nil {
		res := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) (*models.StyleDescriptor, error) {
			return o.extractor.Extract(ctx, story.SourceText)
		})
		if !res.OK() {
			return nil, &fatalError{stage: models.StageExtractingStyle, err: res.Err}
		}
		style = res.Value
	}

	next, step := models.StageGeneratingSegments, "Splitting the story into scenes"
	if o.opts.ReferenceAsset {
		next, step = models.StageGeneratingReferenceAsset, "Generating the reference asset"
	}
	return o.mutate(ctx, story.ID, func(s *models.Story) error {
		if s.Stage != models.StageExtractingStyle {
			return errStageMoved
		}
		if s.Style == nil {
			s.Style = style
		}
		s.Advance(next, step)
		return nil
	})
}

// generateReference never fails the story; without a reference the segments
// are generated from their prompts alone.
func (o *Orchestrator) generateReference(ctx context.Context, story *models.Story) (*models.Story, error) {
	log := o.storyLog(story.ID).WithField(logger.FieldKind, models.KindReference)

	var art generator.Artifact
	var genErr error
	if story.ReferenceLocator == "" {
		art, genErr = o.produceReference(ctx, story)
		if genErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(genErr).Warn("reference asset failed, continuing without it")
		}
	}

	return o.mutate(ctx, story.ID, func(s *models.Story) error {
		if s.Stage != models.StageGeneratingReferenceAsset {
			return errStageMoved
		}
		if s.ReferenceLocator == "" && genErr == nil && len(art.Data) > 0 {
			loc, err := o.media.Write(ctx, s.ID, models.ReferenceSegmentID, models.KindReference, art.ContentType, art.Data)
			if err != nil {
				log.WithError(err).Warn("storing reference asset failed, continuing without it")
			} else {
				s.ReferenceLocator = loc
			}
		}
		s.Advance(models.StageGeneratingSegments, "Splitting the story into scenes")
		return nil
	})
}

func (o *Orchestrator) produceReference(ctx context.Context, story *models.Story) (generator.Artifact, error) {
	gen, ok := o.generators[models.KindImage]
	if !ok {
		return generator.Artifact{}, errors.New("no image generator configured")
	}
	req := generator.Request{
		StoryID:   story.ID,
		SegmentID: models.ReferenceSegmentID,
		Prompt:    referencePrompt(story.Style),
		Style:     story.Style.Summary(),
	}
	if err := generator.Validate(models.KindImage, req, o.opts.Limits); err != nil {
		return generator.Artifact{}, err
	}
	res := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) (generator.Artifact, error) {
		return o.produce(ctx, gen, req, pendingHooks{alive: o.stageAlive(story.ID, models.StageGeneratingReferenceAsset)})
	})
	return res.Value, res.Err
}

// stageAlive reports whether the story still exists and sits in stage. It
// reads the store, so it also sees deletes made by other processes.
func (o *Orchestrator) stageAlive(storyID string, stage models.Stage) func(context.Context) error {
	return func(ctx context.Context) error {
		story, err := o.store.Load(ctx, storyID)
		switch {
		case errors.Is(err, models.ErrStoryNotFound):
			return retry.Permanent(err)
		case err != nil:
			return retry.Transient(err)
		case story.Stage != stage:
			return retry.Permanent(errStageMoved)
		}
		return nil
	}
}

func (o *Orchestrator) segmentStory(ctx context.Context, story *models.Story) (*models.Story, error) {
	segments := story.Segments
	if len(segments) == 0 {
		res := retry.Do(ctx, o.opts.Retry, func(ctx context.Context) ([]models.Segment, error) {
			return o.segmenter.Segment(ctx, story.ID, story.SourceText, story.Style)
		})
		if !res.OK() {
			return nil, &fatalError{stage: models.StageGeneratingSegments, err: res.Err}
		}
		segments = res.Value
	}

	return o.mutate(ctx, story.ID, func(s *models.Story) error {
		if s.Stage != models.StageGeneratingSegments {
			return errStageMoved
		}
		if len(s.Segments) == 0 {
			s.Segments = segments
		}
		s.Advance(models.StageGeneratingMedia, fmt.Sprintf("Generating media for %d scenes", len(s.Segments)))
		return nil
	})
}

// pendingHooks tie a pending remote operation to the work that started it.
type pendingHooks struct {
	// record sees the operation handle before polling starts.
	record func(generator.Operation) error
	// alive runs before every poll; a permanent error abandons the operation.
	alive func(context.Context) error
}

// produce runs one generation call to the point where the artifact bytes are
// in hand, polling pending operations.
func (o *Orchestrator) produce(ctx context.Context, gen generator.Generator, req generator.Request, hooks pendingHooks) (generator.Artifact, error) {
	res, err := gen.Generate(ctx, req)
	if err != nil {
		return generator.Artifact{}, err
	}

	var art generator.Artifact
	switch res.State {
	case generator.StateCompleted:
		if res.Artifact == nil {
			return art, retry.Permanent(fmt.Errorf("%s generator completed without an artifact", gen.Kind()))
		}
		art = *res.Artifact
	case generator.StatePending:
		if res.Operation == nil {
			return art, retry.Permanent(fmt.Errorf("%s generator is pending without an operation", gen.Kind()))
		}
		if hooks.record != nil {
			if err := hooks.record(*res.Operation); err != nil {
				return art, err
			}
		}
		poller := o.opts.Poll
		poller.Log = o.opts.Poll.Log.WithFields(logrus.Fields{
			logger.FieldStoryID:   req.StoryID,
			logger.FieldSegmentID: req.SegmentID,
			"operation_id":        res.Operation.ID,
		})
		art, err = generator.AwaitWhile(ctx, gen, *res.Operation, poller, hooks.alive)
		if err != nil {
			return art, err
		}
	default:
		return art, retry.Permanent(fmt.Errorf("%s generator returned unknown state %q", gen.Kind(), res.State))
	}
	if art.Kind == "" {
		art.Kind = gen.Kind()
	}
	return generator.Fetch(ctx, o.http, art)
}
