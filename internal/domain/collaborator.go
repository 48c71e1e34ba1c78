package domain

// Cursor is a pointer position relative to the editor viewport.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Collaborator is the ephemeral identity of one joined connection.
// It lives only in process memory; nothing here survives a reconnect.
type Collaborator struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Avatar string  `json:"avatar,omitempty"`
	Color  string  `json:"color"`
	Cursor *Cursor `json:"cursor"`
}

// Connection abstracts the transport so the hub and router can be
// exercised in tests without a real socket. Send must never block;
// a full or dead peer returns an error and the caller skips it.
type Connection interface {
	Send(data []byte) error
	Close() error
}
