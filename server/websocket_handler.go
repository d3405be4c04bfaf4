package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"llmloadtest/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are governed by the CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobWebSocketHandler pushes the same events as the SSE stream over a
// websocket, one JSON WebSocketMessage per frame.
func (h *Handlers) JobWebSocketHandler(c *gin.Context) {
	jobID := c.Param("jobId")
	logCtx := &logger.LogContext{JobID: jobID, Operation: "websocket"}

	updates := h.Jobs.RegisterListener(jobID)
	defer h.Jobs.UnregisterListener(jobID, updates)

	job, exists := h.Jobs.GetJob(jobID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.AppLogger.ErrorWithContext(logCtx, "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// The read loop only exists to process control frames and notice closes.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(ev JobEvent) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(MessageForEvent(ev))
	}
	finish := func() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}

	if err := write(eventForJob(job)); err != nil {
		return
	}
	if job.Terminal() {
		finish()
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.AppLogger.DebugWithContext(logCtx, "WebSocket client disconnected")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				logger.AppLogger.WarnWithContext(logCtx, "WebSocket write failed: %v", err)
				return
			}
			if ev.Job.Terminal() {
				finish()
				return
			}
		}
	}
}
