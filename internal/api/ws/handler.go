// Package ws is the browsing-engine adapter boundary. The frontend's
// embedded engine holds one WebSocket to /stream and forwards every
// navigation intent, new-window intent, and location change; the reply
// frame carries the policy decision the engine must act on before
// letting the underlying navigation or window creation proceed.
package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claudedesk/backend/internal/domain/policy"
	"github.com/claudedesk/backend/internal/domain/popup"
	"github.com/claudedesk/backend/internal/infrastructure/logging"
	"github.com/claudedesk/backend/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback; the engine is a local peer.
		return true
	},
}

// engineMessage is a frame from the engine.
type engineMessage struct {
	Type          string `json:"type"`
	Seq           uint64 `json:"seq,omitempty"`
	ContextID     string `json:"context_id,omitempty"`
	OpenerID      string `json:"opener_id,omitempty"`
	URL           string `json:"url,omitempty"`
	UserInitiated bool   `json:"user_initiated,omitempty"`
	MainFrame     bool   `json:"main_frame,omitempty"`
}

// Handler manages the engine adapter connection.
type Handler struct {
	engine  *policy.Engine
	popups  *popup.Manager
	bridge  *Bridge
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new engine adapter handler.
func NewHandler(engine *policy.Engine, popups *popup.Manager, bridge *Bridge, logger *logging.Logger) *Handler {
	return &Handler{
		engine: engine,
		popups: popups,
		bridge: bridge,
		logger: logger,
	}
}

// WithMetrics adds metrics tracking to the handler
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleConnection upgrades the engine connection and serves it until
// it drops. Frames are handled sequentially on this goroutine, so
// policy decisions for one engine are serialized the way the event
// loop on the engine side expects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(conn)
	defer client.close()

	h.bridge.attach(client)
	defer h.bridge.detach(client)

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	client.send(gin.H{"type": "system", "message": "connected to claudedesk policy core"})

	for {
		var msg engineMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Engine stream read error", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessages.WithLabelValues(msg.Type).Inc()
		}

		switch msg.Type {
		case "navigation_intent":
			h.handleNavigationIntent(client, msg)
		case "new_window_intent":
			h.handleNewWindowIntent(client, msg)
		case "location_changed":
			h.engine.NoteLocation(msg.ContextID, msg.URL)
		case "window_closed":
			h.popups.NotifyClosed(msg.ContextID)
			h.engine.Forget(msg.ContextID)
		case "ping":
			client.send(gin.H{"type": "pong", "seq": msg.Seq})
		default:
			client.send(gin.H{"type": "error", "seq": msg.Seq, "error": "unknown message type"})
		}
	}
}

func (h *Handler) handleNavigationIntent(client *client, msg engineMessage) {
	decision := h.engine.DecideNavigation(policy.NavigationIntent{
		ContextID:     msg.ContextID,
		TargetURL:     msg.URL,
		UserInitiated: msg.UserInitiated,
		MainFrame:     msg.MainFrame,
	})

	reply := gin.H{
		"type":       "decision",
		"seq":        msg.Seq,
		"context_id": msg.ContextID,
		"action":     decision.Action,
		"category":   decision.Category,
		"cancel":     decision.Cancel,
	}
	if decision.Action == policy.ActionOpenExternal {
		// The engine forwards this URL to the system browser.
		reply["url"] = msg.URL
	}
	client.send(reply)
}

func (h *Handler) handleNewWindowIntent(client *client, msg engineMessage) {
	ctx, err := h.engine.DecideNewWindow(msg.OpenerID)
	if err != nil {
		client.send(gin.H{
			"type":     "window",
			"seq":      msg.Seq,
			"accepted": false,
			"error":    err.Error(),
		})
		return
	}
	client.send(gin.H{
		"type":       "window",
		"seq":        msg.Seq,
		"accepted":   true,
		"context_id": ctx.ID,
		"opener_id":  ctx.OpenerID,
	})
}
