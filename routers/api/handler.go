package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/config"
	"github.com/wlu03/story-to-scene-magic-08/models"
	"github.com/wlu03/story-to-scene-magic-08/service"
	"github.com/wlu03/story-to-scene-magic-08/service/generator"
	"github.com/wlu03/story-to-scene-magic-08/service/media"
)

// StoryService is what the routes need from the orchestrator.
type StoryService interface {
	Create(ctx context.Context, title, text string) (*models.Story, error)
	Get(ctx context.Context, storyID string) (*models.Story, error)
	List(ctx context.Context) ([]models.Story, error)
	Status(ctx context.Context, storyID string) (models.StatusView, error)
	Resume(ctx context.Context, storyID string) error
	Delete(ctx context.Context, storyID string) error
	Regenerate(ctx context.Context, storyID string, segmentID int, prompt string) error
	OpenArtifact(ctx context.Context, storyID string, segmentID int, kind models.ArtifactKind) (media.Object, error)
}

type Handler struct {
	stories StoryService
	upload  config.UploadConfig
	// ProgressInterval is how often the websocket re-reads the story.
	ProgressInterval time.Duration
	log              logrus.FieldLogger
}

func NewHandler(stories StoryService, upload config.UploadConfig, log logrus.FieldLogger) *Handler {
	return &Handler{
		stories:          stories,
		upload:           upload,
		ProgressInterval: time.Second,
		log:              log.WithField("module", "api"),
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail maps domain errors onto status codes.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, service.ErrSegmentNotFound),
		errors.Is(err, service.ErrArtifactNotFound),
		errors.Is(err, media.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrSegmentBusy),
		errors.Is(err, service.ErrSegmentNotReady),
		errors.Is(err, service.ErrStoryNotFailed):
		status = http.StatusConflict
	case errors.Is(err, generator.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
