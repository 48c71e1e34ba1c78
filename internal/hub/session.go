package hub

import (
	"sync"

	"collab-board/internal/domain"
)

type sessionState int

const (
	stateUnjoined sessionState = iota
	stateJoined
	stateClosed
)

// Session is the per-connection state machine the router drives:
// unjoined until a join frame arrives, joined while a room membership
// exists, closed terminally once the connection is torn down. It holds
// the transport behind domain.Connection so the router can be tested
// against fake connections.
type Session struct {
	id   string
	conn domain.Connection

	mu      sync.Mutex
	state   sessionState
	boardID uint
	userID  string
}

// NewSession wraps a freshly accepted connection. id is the opaque
// per-connection session id, distinct from the collaborator id that
// arrives later in the join payload.
func NewSession(id string, conn domain.Connection) *Session {
	return &Session{id: id, conn: conn, state: stateUnjoined}
}

func (s *Session) ID() string { return s.id }

// snapshot returns the state fields consistently.
func (s *Session) snapshot() (sessionState, uint, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.boardID, s.userID
}

// join transitions unjoined -> joined, recording the room membership.
func (s *Session) join(boardID uint, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateJoined
	s.boardID = boardID
	s.userID = userID
}

// close transitions to the terminal state. It reports the previous
// state and membership exactly once; later calls see closed and do
// nothing, which is what makes the cleanup path idempotent.
func (s *Session) close() (wasJoined bool, boardID uint, userID string, first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return false, 0, "", false
	}
	wasJoined = s.state == stateJoined
	s.state = stateClosed
	return wasJoined, s.boardID, s.userID, true
}
