package websocket_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsHandler "collab-board/internal/handler/websocket"
	"collab-board/internal/hub"
	"collab-board/internal/protocol"
)

func startServer(t *testing.T) (*hub.Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := hub.NewRegistry()
	router := hub.NewRouter(registry)
	handler := wsHandler.NewHandler(router)

	engine := gin.New()
	engine.GET("/ws", handler.Serve)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return registry, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *gorilla.Conn, typ string, boardID uint, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	data, err := json.Marshal(protocol.Message{Type: typ, BoardID: boardID, Payload: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, data))
}

func readFrame(t *testing.T, conn *gorilla.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func presenceOf(t *testing.T, msg protocol.Message) protocol.PresencePayload {
	t.Helper()
	require.Equal(t, protocol.TypePresence, msg.Type)
	var p protocol.PresencePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return p
}

func TestCollaboration_JoinAndPresence(t *testing.T) {
	registry, url := startServer(t)

	alice := dial(t, url)
	sendFrame(t, alice, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "alice", Name: "Alice"})

	reply := presenceOf(t, readFrame(t, alice))
	assert.NotEmpty(t, reply.YourColor)
	require.Len(t, reply.Collaborators, 1)

	bob := dial(t, url)
	sendFrame(t, bob, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "bob", Name: "Bob"})

	bobReply := presenceOf(t, readFrame(t, bob))
	assert.NotEmpty(t, bobReply.YourColor)
	assert.NotEqual(t, reply.YourColor, bobReply.YourColor)
	assert.Len(t, bobReply.Collaborators, 2)

	update := presenceOf(t, readFrame(t, alice))
	assert.Empty(t, update.YourColor)
	assert.Len(t, update.Collaborators, 2)

	rooms, collaborators := registry.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 2, collaborators)
}

func TestCollaboration_CursorRelay(t *testing.T) {
	_, url := startServer(t)

	alice := dial(t, url)
	sendFrame(t, alice, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "alice", Name: "Alice"})
	readFrame(t, alice)

	bob := dial(t, url)
	sendFrame(t, bob, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "bob", Name: "Bob"})
	readFrame(t, bob)
	readFrame(t, alice) // roster update for bob's join

	sendFrame(t, alice, protocol.TypeCursorMove, 0, map[string]any{
		"cursor": map[string]float64{"x": 10, "y": 20},
	})

	msg := readFrame(t, bob)
	require.Equal(t, protocol.TypeCursorMove, msg.Type)
	var p protocol.CursorBroadcast
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "alice", p.UserID)
	require.NotNil(t, p.Cursor)
	assert.Equal(t, float64(10), p.Cursor.X)
	assert.Equal(t, float64(20), p.Cursor.Y)
}

func TestCollaboration_AbruptCloseCleansUp(t *testing.T) {
	registry, url := startServer(t)

	alice := dial(t, url)
	sendFrame(t, alice, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "alice", Name: "Alice"})
	readFrame(t, alice)

	bob := dial(t, url)
	sendFrame(t, bob, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "bob", Name: "Bob"})
	readFrame(t, bob)
	readFrame(t, alice)

	// Scenario C: no leave frame, the socket just dies.
	require.NoError(t, bob.Close())

	update := presenceOf(t, readFrame(t, alice))
	require.Len(t, update.Collaborators, 1)
	assert.Equal(t, "alice", update.Collaborators[0].ID)

	assert.Eventually(t, func() bool {
		_, collaborators := registry.Stats()
		return collaborators == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCollaboration_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	_, url := startServer(t)

	alice := dial(t, url)
	sendFrame(t, alice, protocol.TypeJoin, 42, protocol.JoinPayload{UserID: "alice", Name: "Alice"})
	readFrame(t, alice)

	require.NoError(t, alice.WriteMessage(gorilla.TextMessage, []byte(`{not json`)))

	// The connection still answers pings afterwards.
	sendFrame(t, alice, protocol.TypePing, 0, nil)
	msg := readFrame(t, alice)
	assert.Equal(t, protocol.TypePong, msg.Type)
}

func TestCollaboration_PingBeforeJoin(t *testing.T) {
	_, url := startServer(t)

	conn := dial(t, url)
	sendFrame(t, conn, protocol.TypePing, 0, nil)
	msg := readFrame(t, conn)
	assert.Equal(t, protocol.TypePong, msg.Type)
}
