package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/logger"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service"
	"github.com/wlu03/story-to-scene-magic-08/service/generator"
	"github.com/wlu03/story-to-scene-magic-08/service/llm"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
)

type appMode int

const (
	// modeServe runs the API and, unless disabled, consumes queued work.
	modeServe appMode = iota
	// modeWorker only consumes queued work.
	modeWorker
	// modeCLI answers one command and exits.
	modeCLI
)

// app is the wired object graph shared by every command.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	db        *gorm.DB
	store     *models.GormStore
	orch      *service.Orchestrator
	inline    *service.InlineDispatcher
	queue     *service.AsynqDispatcher
	processor *service.Processor
}

func newApp(ctx context.Context, cfg *config.Config, mode appMode) (*app, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	a.db, err = models.OpenDB(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.store = models.NewGormStore(a.db)
	log.WithFields(logrus.Fields{"driver": cfg.Database.Driver}).Info("database ready")

	store, err := newMediaStore(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: 10 * time.Minute}
	text := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout(),
	})

	var dispatcher service.Dispatcher
	switch cfg.Queue.Mode {
	case "asynq":
		a.queue = service.NewAsynqDispatcher(cfg.Redis, cfg.Queue, log)
		dispatcher = a.queue
	default:
		a.inline = service.NewInlineDispatcher(ctx, log)
		dispatcher = a.inline
	}

	a.orch = service.NewOrchestrator(service.Deps{
		Store:     a.store,
		Media:     store,
		Extractor: service.NewStyleExtractor(text),
		Segmenter: service.NewSegmenter(text, service.SegmenterConfig{
			MinSegments:        cfg.Pipeline.MinSegments,
			MaxSegments:        cfg.Pipeline.MaxSegments,
			WordsPerSegment:    cfg.Pipeline.WordsPerSegment,
			DurationSeconds:    cfg.Pipeline.SegmentDurationSeconds,
			MaxDurationSeconds: cfg.Pipeline.MaxDurationSeconds,
		}, log),
		Generators: newGenerators(cfg, log),
		Dispatcher: dispatcher,
		HTTPClient: httpClient,
		Log:        log,
	}, service.OptionsFromConfig(cfg))

	if a.inline != nil {
		a.inline.Bind(a.orch)
	}
	if a.queue != nil && mode != modeCLI {
		a.processor = service.NewProcessor(cfg.Redis, cfg.Queue, a.orch, log)
	}
	return a, nil
}

func newMediaStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (media.Store, error) {
	if cfg.Media.Backend == "minio" {
		return media.NewMinioStore(ctx, cfg.MinIO, log)
	}
	return media.NewFileStore(cfg.Media.Root)
}

func newGenerators(cfg *config.Config, log logrus.FieldLogger) []generator.Generator {
	client := &http.Client{Timeout: 30 * time.Second}
	worker := func(kind models.ArtifactKind) generator.Generator {
		return generator.NewWorkerGenerator(kind, cfg.Worker.Addr,
			generator.WithWorkerHTTPClient(client),
			generator.WithImageSize(cfg.Image.Width, cfg.Image.Height),
			generator.WithWorkerLogger(log))
	}

	var image generator.Generator
	if cfg.Image.Backend == "direct" {
		image = generator.NewDirectGenerator(cfg.Image.URL, cfg.Image.Width, cfg.Image.Height,
			&http.Client{Timeout: 5 * time.Minute}, log)
	} else {
		image = worker(models.KindImage)
	}
	return []generator.Generator{image, worker(models.KindAudio), worker(models.KindVideo)}
}

// startProcessor consumes queued work when the queue is Redis backed.
func (a *app) startProcessor() error {
	if a.processor == nil {
		return nil
	}
	return a.processor.Start()
}

// recoverInterrupted re-dispatches work a previous process left unfinished.
func (a *app) recoverInterrupted(ctx context.Context) {
	n, err := a.orch.RecoverInterrupted(ctx)
	if err != nil {
		a.log.WithError(err).Error("recovering interrupted stories failed")
		return
	}
	if n > 0 {
		a.log.WithField("dispatched", n).Info("interrupted work re-dispatched")
	}
}

func (a *app) Close() {
	if a.processor != nil {
		a.processor.Shutdown()
	}
	if a.inline != nil {
		a.inline.Wait()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.log.WithError(err).Warn("closing queue client")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

func describeMode(cfg *config.Config) string {
	return fmt.Sprintf("queue=%s media=%s image=%s", cfg.Queue.Mode, cfg.Media.Backend, cfg.Image.Backend)
}
