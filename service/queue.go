package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/config"
)

const (
	TypeStoryRun          = "story:run"
	TypeSegmentRegenerate = "segment:regenerate"

	taskRetention = 24 * time.Hour
)

type RunPayload struct {
	StoryID string `json:"story_id"`
}

type SegmentPayload struct {
	StoryID   string `json:"story_id"`
	SegmentID int    `json:"segment_id"`
	AttemptID string `json:"attempt_id"`
}

// Dispatcher starts background work for a story.
type Dispatcher interface {
	DispatchRun(ctx context.Context, storyID string) error
	DispatchSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error
}

// Runner executes dispatched work; the Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, storyID string) error
	GenerateSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error
}

// AsynqDispatcher enqueues work on Redis for a Processor to pick up.
type AsynqDispatcher struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewAsynqDispatcher(redis config.RedisConfig, queue config.QueueConfig, log logrus.FieldLogger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:   asynq.NewClient(redisOpt(redis)),
		maxRetry: queue.MaxRetry,
		timeout:  queue.TaskTimeout(),
		log:      log.WithField("module", "queue"),
	}
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (d *AsynqDispatcher) DispatchRun(ctx context.Context, storyID string) error {
	return d.enqueue(ctx, TypeStoryRun, RunPayload{StoryID: storyID}, storyID)
}

func (d *AsynqDispatcher) DispatchSegment(ctx context.Context, storyID string, segmentID int, attemptID string) error {
	return d.enqueue(ctx, TypeSegmentRegenerate, SegmentPayload{
		StoryID:   storyID,
		SegmentID: segmentID,
		AttemptID: attemptID,
	}, storyID)
}

func (d *AsynqDispatcher) enqueue(ctx context.Context, taskType string, payload interface{}, storyID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, body,
		asynq.MaxRetry(d.maxRetry),
		asynq.Timeout(d.timeout),
		asynq.Retention(taskRetention),
	)
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	d.log.WithFields(logrus.Fields{
		"story_id": storyID,
		"type":     taskType,
		"task_id":  info.ID,
	}).Info("task enqueued")
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// InlineDispatcher runs work on goroutines of this process. Work outlives the
// request that dispatched it and ends with the base context.
type InlineDispatcher struct {
	base   context.Context
	runner Runner
	wg     sync.WaitGroup
	log    logrus.FieldLogger
}

func NewInlineDispatcher(base context.Context, log logrus.FieldLogger) *InlineDispatcher {
	return &InlineDispatcher{base: base, log: log.WithField("module", "inline_dispatcher")}
}

// Bind sets the runner; it must be called before the first dispatch.
func (d *InlineDispatcher) Bind(r Runner) {
	d.runner = r
}

var errNoRunner = errors.New("dispatcher has no runner bound")

func (d *InlineDispatcher) DispatchRun(_ context.Context, storyID string) error {
	if d.runner == nil {
		return errNoRunner
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(d.base, storyID); err != nil {
			d.log.WithField("story_id", storyID).WithError(err).Error("story run failed")
		}
	}()
	return nil
}

func (d *InlineDispatcher) DispatchSegment(_ context.Context, storyID string, segmentID int, attemptID string) error {
	if d.runner == nil {
		return errNoRunner
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.GenerateSegment(d.base, storyID, segmentID, attemptID); err != nil {
			d.log.WithFields(logrus.Fields{"story_id": storyID, "segment_id": segmentID}).
				WithError(err).Error("segment regenerate failed")
		}
	}()
	return nil
}

// Wait blocks until all dispatched work has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
