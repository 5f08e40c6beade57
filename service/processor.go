package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/models"
)

// Processor consumes queued story work and hands it to the runner.
type Processor struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	runner      Runner
	concurrency int
	log         logrus.FieldLogger
}

func NewProcessor(redis config.RedisConfig, queue config.QueueConfig, runner Runner, log logrus.FieldLogger) *Processor {
	plog := log.WithField("module", "processor")
	p := &Processor{runner: runner, concurrency: queue.Concurrency, log: plog}
	p.server = asynq.NewServer(redisOpt(redis), asynq.Config{
		Concurrency: queue.Concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		Logger: plog,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			plog.WithField("type", task.Type()).WithError(err).Warn("task failed")
		}),
	})
	p.mux = asynq.NewServeMux()
	p.mux.HandleFunc(TypeStoryRun, p.HandleStoryRun)
	p.mux.HandleFunc(TypeSegmentRegenerate, p.HandleSegmentRegenerate)
	return p
}

// Start begins consuming in the background.
func (p *Processor) Start() error {
	p.log.WithField("concurrency", p.concurrency).Info("starting task processor")
	if err := p.server.Start(p.mux); err != nil {
		return fmt.Errorf("start task processor: %w", err)
	}
	return nil
}

func (p *Processor) Shutdown() {
	p.server.Shutdown()
}

func (p *Processor) HandleStoryRun(ctx context.Context, t *asynq.Task) error {
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.StoryID == "" {
		return fmt.Errorf("bad %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p.finish(payload.StoryID, p.runner.Run(ctx, payload.StoryID))
}

func (p *Processor) HandleSegmentRegenerate(ctx context.Context, t *asynq.Task) error {
	var payload SegmentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.StoryID == "" || payload.AttemptID == "" {
		return fmt.Errorf("bad %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p.finish(payload.StoryID, p.runner.GenerateSegment(ctx, payload.StoryID, payload.SegmentID, payload.AttemptID))
}

// finish drops work for deleted stories; other errors go back to asynq for a retry.
func (p *Processor) finish(storyID string, err error) error {
	if errors.Is(err, models.ErrStoryNotFound) {
		p.log.WithField("story_id", storyID).Info("story no longer exists, dropping task")
		return nil
	}
	return err
}
