package protocol

import (
	"encoding/json"
	"errors"

	"collab-board/internal/domain"
)

// Inbound message types.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeCursorMove  = "cursor_move"
	TypeAssetUpdate = "asset_update"
	TypeAssetCreate = "asset_create"
	TypeAssetDelete = "asset_delete"
	TypePing        = "ping"
)

// Outbound message types (cursor_move and the asset types are relayed
// under their inbound names).
const (
	TypePresence = "presence"
	TypePong     = "pong"
)

var (
	ErrMalformed   = errors.New("protocol: malformed frame")
	ErrMissingType = errors.New("protocol: frame has no type")
)

// Message is the wire envelope. Every frame in either direction is one
// JSON object with a type discriminator, an optional board id (only
// meaningful on join) and a type-specific payload.
type Message struct {
	Type    string          `json:"type"`
	BoardID uint            `json:"boardId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a single inbound frame. A frame that is not valid JSON
// or carries no type is rejected; the caller logs and drops it without
// touching the connection.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, ErrMalformed
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// JoinPayload carries the caller's already-resolved identity. The core
// does not verify it.
type JoinPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type CursorPayload struct {
	Cursor *domain.Cursor `json:"cursor"`
}

// PresencePayload is the full roster for a room. YourColor is set only
// on the direct reply to a joining connection.
type PresencePayload struct {
	Collaborators []domain.Collaborator `json:"collaborators"`
	YourColor     string                `json:"yourColor,omitempty"`
}

// CursorBroadcast annotates a relayed cursor with the sender's
// identity and assigned color so receivers can paint it directly.
type CursorBroadcast struct {
	UserID string         `json:"userId"`
	Cursor *domain.Cursor `json:"cursor"`
	Color  string         `json:"color"`
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Payload: raw})
}

// Presence builds a presence frame.
func Presence(collaborators []domain.Collaborator, yourColor string) ([]byte, error) {
	return encode(TypePresence, PresencePayload{Collaborators: collaborators, YourColor: yourColor})
}

// Cursor builds a cursor_move relay frame.
func Cursor(userID string, cursor *domain.Cursor, color string) ([]byte, error) {
	return encode(TypeCursorMove, CursorBroadcast{UserID: userID, Cursor: cursor, Color: color})
}

// Pong builds the keepalive reply.
func Pong() []byte {
	data, _ := json.Marshal(Message{Type: TypePong})
	return data
}

// Relay rebuilds an edit frame for fan-out, injecting the sender id as
// byUserId so receivers applying optimistic local updates can ignore
// their own echoes. The payload is otherwise opaque to the server, but
// the injection requires it to be a JSON object (or empty); an array
// or scalar payload returns ErrMalformed and the frame is not relayed.
func Relay(typ string, payload json.RawMessage, byUserID string) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, ErrMalformed
		}
	}
	id, err := json.Marshal(byUserID)
	if err != nil {
		return nil, err
	}
	fields["byUserId"] = id
	return encode(typ, fields)
}
