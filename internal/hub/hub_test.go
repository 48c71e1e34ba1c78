package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"collab-board/internal/protocol"
)

// fakeConn records everything sent to it, standing in for a websocket
// connection in registry, router and liveness tests.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sent() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Message, 0, len(f.frames))
	for _, data := range f.frames {
		if msg, err := protocol.Decode(data); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// lastOfType returns the most recent message of the given type, if any.
func (f *fakeConn) lastOfType(typ string) (protocol.Message, bool) {
	msgs := f.sent()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == typ {
			return msgs[i], true
		}
	}
	return protocol.Message{}, false
}

func (f *fakeConn) countOfType(typ string) int {
	n := 0
	for _, m := range f.sent() {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func mustFrame(typ string, boardID uint, payload any) []byte {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			panic(err)
		}
	}
	data, err := json.Marshal(protocol.Message{Type: typ, BoardID: boardID, Payload: raw})
	if err != nil {
		panic(err)
	}
	return data
}

func joinFrame(boardID uint, userID, name string) []byte {
	return mustFrame(protocol.TypeJoin, boardID, protocol.JoinPayload{UserID: userID, Name: name})
}
