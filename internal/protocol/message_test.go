package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-board/internal/domain"
	"collab-board/internal/protocol"
)

func TestDecode_ValidFrame(t *testing.T) {
	msg, err := protocol.Decode([]byte(`{"type":"join","boardId":42,"payload":{"userId":"alice","name":"Alice"}}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeJoin, msg.Type)
	assert.Equal(t, uint(42), msg.BoardID)

	var p protocol.JoinPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "Alice", p.Name)
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := protocol.Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDecode_MissingType(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"boardId":1}`))
	assert.ErrorIs(t, err, protocol.ErrMissingType)
}

func TestPresence_YourColorOnlyWhenSet(t *testing.T) {
	collabs := []domain.Collaborator{{ID: "alice", Name: "Alice", Color: "#F87171"}}

	withColor, err := protocol.Presence(collabs, "#F87171")
	require.NoError(t, err)
	assert.Contains(t, string(withColor), "yourColor")

	without, err := protocol.Presence(collabs, "")
	require.NoError(t, err)
	assert.NotContains(t, string(without), "yourColor")
}

func TestCursor_CarriesSenderAndColor(t *testing.T) {
	data, err := protocol.Cursor("alice", &domain.Cursor{X: 10, Y: 20}, "#F87171")
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeCursorMove, msg.Type)

	var p protocol.CursorBroadcast
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, "alice", p.UserID)
	require.NotNil(t, p.Cursor)
	assert.Equal(t, float64(10), p.Cursor.X)
	assert.Equal(t, float64(20), p.Cursor.Y)
	assert.Equal(t, "#F87171", p.Color)
}

func TestRelay_InjectsByUserID(t *testing.T) {
	payload := json.RawMessage(`{"assetId":"a1","changes":{"x":5}}`)
	data, err := protocol.Relay(protocol.TypeAssetUpdate, payload, "alice")
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAssetUpdate, msg.Type)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &fields))
	assert.JSONEq(t, `"alice"`, string(fields["byUserId"]))
	assert.JSONEq(t, `"a1"`, string(fields["assetId"]))
	assert.JSONEq(t, `{"x":5}`, string(fields["changes"]))
}

func TestRelay_EmptyPayload(t *testing.T) {
	data, err := protocol.Relay(protocol.TypeAssetDelete, nil, "bob")
	require.NoError(t, err)

	msg, err := protocol.Decode(data)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &fields))
	assert.JSONEq(t, `"bob"`, string(fields["byUserId"]))
}

func TestRelay_NonObjectPayload(t *testing.T) {
	_, err := protocol.Relay(protocol.TypeAssetCreate, json.RawMessage(`[1,2]`), "bob")
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestPong(t *testing.T) {
	msg, err := protocol.Decode(protocol.Pong())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, msg.Type)
}
