package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"trainops/internal/stream"
	"trainops/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, production should use stricter checks
	},
}

// StreamHandler serves live training progress over SSE and WebSocket
type StreamHandler struct {
	dispatcher *stream.Dispatcher
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(dispatcher *stream.Dispatcher) *StreamHandler {
	return &StreamHandler{dispatcher: dispatcher}
}

// Progress streams job events as server-sent events
// GET /api/training/progress-stream?jobId=xxx
func (h *StreamHandler) Progress(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.dispatcher.Subscribe(c.Request.Context(), jobID)
	for ev := range sub.C {
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.ErrorCtx(c.Request.Context(), "failed to encode stream event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			// Client went away; the subscriber context ends the goroutine.
			return
		}
		flusher.Flush()
	}
}

// ProgressWS streams the same job events over a WebSocket
// GET /api/training/progress-ws?jobId=xxx
func (h *StreamHandler) ProgressWS(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	ctx := c.Request.Context()
	sub := h.dispatcher.Subscribe(ctx, jobID)

	// Drain client frames so close frames are processed.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range sub.C {
		if err := ws.WriteJSON(ev); err != nil {
			return
		}
	}
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
}
