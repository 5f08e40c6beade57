package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

type createStoryRequest struct {
	Title string `json:"title" binding:"max=255"`
	Text  string `json:"text" binding:"required"`
}

// CreateStory: POST /v1/api/stories
func (h *Handler) CreateStory(c *gin.Context) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	text := models.NormalizeText(req.Text)
	if n := utf8.RuneCountInString(text); n < h.upload.MinChars || n > h.upload.MaxChars {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("story text must be between %d and %d characters, got %d", h.upload.MinChars, h.upload.MaxChars, n),
		})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled story"
	}

	story, err := h.stories.Create(c.Request.Context(), title, text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"story_id": story.ID,
		"status":   story.Status(),
	})
}

type storySummary struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Stage           models.Stage `json:"stage"`
	ProgressPercent int          `json:"progressPercent"`
	Segments        int          `json:"segments"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// ListStories: GET /v1/api/stories, newest first.
func (h *Handler) ListStories(c *gin.Context) {
	stories, err := h.stories.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]storySummary, 0, len(stories))
	for _, s := range stories {
		out = append(out, storySummary{
			ID:              s.ID,
			Title:           s.Title,
			Stage:           s.Stage,
			ProgressPercent: models.Progress(s.Stage, s.FailedStage, s.Segments),
			Segments:        len(s.Segments),
			CreatedAt:       s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stories": out, "total": len(out)})
}

func (h *Handler) GetStory(c *gin.Context) {
	story, err := h.stories.Get(c.Request.Context(), c.Param("story_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": story})
}

// GetStoryStatus only reads; it never starts pipeline work.
func (h *Handler) GetStoryStatus(c *gin.Context) {
	status, err := h.stories.Status(c.Request.Context(), c.Param("story_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) ResumeStory(c *gin.Context) {
	storyID := c.Param("story_id")
	if err := h.stories.Resume(c.Request.Context(), storyID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"story_id": storyID, "message": "story resumed"})
}

func (h *Handler) DeleteStory(c *gin.Context) {
	storyID := c.Param("story_id")
	if err := h.stories.Delete(c.Request.Context(), storyID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"story_id": storyID, "message": "story deleted"})
}
