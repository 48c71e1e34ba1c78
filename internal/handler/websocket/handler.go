package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collab-board/internal/hub"
)

// Handler upgrades HTTP requests on the single collaboration endpoint.
// Board scoping happens in the join message, not the URL, so one
// endpoint serves every board.
type Handler struct {
	upgrader websocket.Upgrader
	router   *hub.Router
}

func NewHandler(router *hub.Router) *Handler {
	if router == nil {
		panic("router cannot be nil for websocket Handler")
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// TODO: restrict origins once the frontend host is pinned down.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router: router,
	}
}

// Serve handles GET /ws. After the upgrade the connection belongs to
// its read/write pumps; this handler returns immediately.
func (h *Handler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sessionID := uuid.New().String()
	wc := newConn(ws, sessionID)
	sess := hub.NewSession(sessionID, wc)

	logrus.WithField("session_id", sessionID).Debug("websocket connection established")
	go wc.writePump()
	go wc.readPump(sess, h.router)
}
