package websocket

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collab-board/internal/hub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send transport pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Edit payloads are small deltas;
	// anything bigger is a misbehaving client.
	maxMessageSize = 32 * 1024

	// Outbound buffer per connection. A peer that falls this far
	// behind gets its frames dropped rather than stalling the room.
	sendBufferSize = 256
)

var errSendBufferFull = errors.New("websocket: send buffer full")

// conn adapts a gorilla connection to domain.Connection: writes go
// through a buffered channel drained by a single write pump, reads are
// pumped into the router. The teacher pattern keeps exactly one reader
// and one writer goroutine per socket.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	log  *logrus.Entry
}

func newConn(ws *websocket.Conn, sessionID string) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		log:  logrus.WithField("session_id", sessionID),
	}
}

// Send queues data for the write pump. Never blocks; when the buffer
// is full the frame is dropped and the caller decides what to log.
func (c *conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *conn) Close() error {
	return c.ws.Close()
}

// readPump delivers inbound frames to the router in arrival order and
// runs the disconnect path once the socket dies, however it dies.
func (c *conn) readPump(sess *hub.Session, router *hub.Router) {
	defer router.Disconnect(sess)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		router.HandleFrame(sess, data)
	}
}

// writePump drains the send buffer and keeps the transport alive with
// periodic pings. Exits on the first failed write; readPump notices
// the dead socket and handles cleanup.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
