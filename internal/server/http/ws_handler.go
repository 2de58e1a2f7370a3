package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"oape/internal/logging"
	"oape/internal/observability"
	"oape/internal/server/app"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler streams job events over WebSocket: the same event sequence as the
// SSE stream, one JSON JobEvent per text message.
type WSHandler struct {
	orch     *app.Orchestrator
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewWSHandler creates the handler.
func NewWSHandler(orch *app.Orchestrator, metrics *observability.Metrics) *WSHandler {
	return &WSHandler{
		orch:    orch,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// CORS policy is enforced by the router middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.NewComponentLogger("ws"),
	}
}

// HandleStream upgrades the connection and streams replay + live events. The
// connection closes after the terminal event.
func (h *WSHandler) HandleStream(c *gin.Context) {
	jobID := c.Param("job_id")

	replay, events, cancel, err := h.orch.Subscribe(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed for job %s: %v", jobID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
		defer h.metrics.StreamClients.Dec()
	}
	h.logger.Info("websocket client connected to job %s (replay=%d)", jobID, len(replay))

	// Drain client frames so pong handling and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, event := range replay {
		if err := h.writeEvent(conn, event); err != nil {
			return
		}
		if event.Terminal() {
			h.writeClose(conn)
			return
		}
	}

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-events:
			if !open {
				h.writeClose(conn)
				return
			}
			if err := h.writeEvent(conn, event); err != nil {
				return
			}
			if event.Terminal() {
				h.writeClose(conn)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-c.Request.Context().Done():
			h.logger.Info("websocket client disconnected from job %s", jobID)
			return
		}
	}
}

func (h *WSHandler) writeEvent(conn *websocket.Conn, event any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}

func (h *WSHandler) writeClose(conn *websocket.Conn) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), deadline)
}
