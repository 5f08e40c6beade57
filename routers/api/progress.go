package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// StoryProgressWebSocket pushes the status view whenever it changes. The
// store is the only source; the connection closes once the story is terminal.
func (h *Handler) StoryProgressWebSocket(c *gin.Context) {
	storyID := c.Param("story_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	prev, err := h.stories.Status(ctx, storyID)
	if err != nil {
		conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if err := write(conn, prev); err != nil {
		return
	}

	// reading keeps control frames flowing and tells us when the client leaves
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.ProgressInterval)
	defer ticker.Stop()
	for !prev.Stage.Terminal() {
		select {
		case <-gone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := h.stories.Status(ctx, storyID)
		if err != nil {
			conn.WriteJSON(gin.H{"error": err.Error()})
			return
		}
		if cur.Changed(prev) {
			if err := write(conn, cur); err != nil {
				return
			}
		}
		prev = cur
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "story finished"),
		time.Now().Add(writeWait))
}

func write(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
