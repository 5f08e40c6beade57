package routers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/wlu03/story-to-scene-magic-08/routers/api"
)

func InitRouter(h *api.Handler, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", h.Health)
	v1 := r.Group("/v1/api")
	{
		v1.POST("/stories", h.CreateStory)
		v1.GET("/stories", h.ListStories)
		v1.GET("/stories/:story_id", h.GetStory)
		v1.GET("/stories/:story_id/status", h.GetStoryStatus)
		v1.POST("/stories/:story_id/resume", h.ResumeStory)
		v1.DELETE("/stories/:story_id", h.DeleteStory)
		v1.GET("/stories/:story_id/reference", h.GetReference)
		v1.POST("/stories/:story_id/segments/:segment_id/regenerate", h.RegenerateSegment)
		v1.GET("/stories/:story_id/segments/:segment_id/media/:kind", h.GetSegmentMedia)
	}
	r.GET("/stories/:story_id/wss", h.StoryProgressWebSocket)
	return r
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	log = log.WithField("module", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request served")
			return
		}
		entry.Debug("request served")
	}
}
