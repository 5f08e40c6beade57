package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wlu03/story-to-scene-magic-08/models"
)

type regenerateRequest struct {
	Prompt string `json:"prompt"`
}

// RegenerateSegment: POST /v1/api/stories/:story_id/segments/:segment_id/regenerate
func (h *Handler) RegenerateSegment(c *gin.Context) {
	segmentID, ok := segmentParam(c)
	if !ok {
		return
	}
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	storyID := c.Param("story_id")
	if err := h.stories.Regenerate(c.Request.Context(), storyID, segmentID, req.Prompt); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"story_id":   storyID,
		"segment_id": segmentID,
		"message":    "segment regeneration started",
	})
}

// GetSegmentMedia streams an artifact. Range requests get 206 with
// Content-Range, everything else the whole object.
func (h *Handler) GetSegmentMedia(c *gin.Context) {
	segmentID, ok := segmentParam(c)
	if !ok {
		return
	}
	kind := models.ArtifactKind(c.Param("kind"))
	if !kind.Valid() || kind == models.KindReference {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown media kind %q", kind)})
		return
	}
	h.serveArtifact(c, segmentID, kind)
}

func (h *Handler) GetReference(c *gin.Context) {
	h.serveArtifact(c, models.ReferenceSegmentID, models.KindReference)
}

func (h *Handler) serveArtifact(c *gin.Context, segmentID int, kind models.ArtifactKind) {
	obj, err := h.stories.OpenArtifact(c.Request.Context(), c.Param("story_id"), segmentID, kind)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer obj.Close()

	c.Header("Content-Type", obj.ContentType())
	c.Header("Cache-Control", "no-cache")
	http.ServeContent(c.Writer, c.Request, fmt.Sprintf("%s-%d", kind, segmentID), obj.ModTime(), obj)
}

func segmentParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("segment_id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "segment_id must be a positive integer"})
		return 0, false
	}
	return id, true
}
