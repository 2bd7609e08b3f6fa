package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/landhub-tz/backend/internal/middleware"
	"github.com/landhub-tz/backend/internal/realtime"
)

// WSHandler upgrades HTTP requests to realtime websocket sessions.
type WSHandler struct {
	registry *realtime.Registry
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler instance. Origin checking is
// delegated to the CORS layer in front of the upgrade.
func NewWSHandler(registry *realtime.Registry) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connect handles GET /ws.
// Anonymous connections are accepted; an identity only enables directed
// messages.
func (h *WSHandler) Connect(c *gin.Context) {
	log := middleware.GetLogger(c)

	var userKey string
	if userID, ok := middleware.GetUserID(c); ok {
		userKey = userID.String()
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		if log != nil {
			log.Warn("Websocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	conn := h.registry.Serve(ws, userKey)
	conn.Run()
}
