package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collab-board/internal/domain"
)

// member ties a collaborator to its connection inside one room.
// lastSeen is maintained for the liveness sweep only and is never
// sent to peers.
type member struct {
	conn     domain.Connection
	collab   *domain.Collaborator
	lastSeen time.Time
}

type room struct {
	boardID uint
	members map[string]*member
}

// Registry is the in-memory mapping from board id to the set of
// connected collaborators. It is the only shared mutable state in the
// relay; every mutation is serialized through mu because joins, leaves
// and the sweep run on independent goroutines.
type Registry struct {
	mu    sync.RWMutex
	rooms map[uint]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[uint]*room)}
}

// AddMember inserts the collaborator into the board's room, creating
// the room if this is the first join. Rejoining with an id already
// present replaces the prior entry. The color is assigned under the
// same lock from the room size at the moment of join, so concurrent
// joiners cannot observe the same size.
func (r *Registry) AddMember(boardID uint, collab *domain.Collaborator, conn domain.Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[boardID]
	if !ok {
		rm = &room{boardID: boardID, members: make(map[string]*member)}
		r.rooms[boardID] = rm
		logrus.WithField("board_id", boardID).Info("room created")
	}
	delete(rm.members, collab.ID)
	collab.Color = colorAt(len(rm.members))
	rm.members[collab.ID] = &member{
		conn:     conn,
		collab:   collab,
		lastSeen: time.Now(),
	}
	return collab.Color
}

// RemoveMember drops the entry and deletes the room the instant it
// becomes empty. Removal is keyed by connection identity, not just
// collaborator id: if the entry now belongs to a newer connection
// (same-id rejoin raced the old socket's teardown), the stale
// connection's cleanup must not evict the replacement, so the call is
// a no-op. It reports whether anything was removed and how many
// members remain, so callers only rebroadcast presence when both the
// removal happened and someone is left to hear about it.
func (r *Registry) RemoveMember(boardID uint, collabID string, conn domain.Connection) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[boardID]
	if !ok {
		return false, 0
	}
	m, ok := rm.members[collabID]
	if !ok || m.conn != conn {
		return false, len(rm.members)
	}
	delete(rm.members, collabID)
	if len(rm.members) == 0 {
		delete(r.rooms, boardID)
		logrus.WithField("board_id", boardID).Info("room empty, removed")
		return true, 0
	}
	return true, len(rm.members)
}

// Members returns the presence snapshot for a room: a copy of every
// collaborator, safe to serialize outside the lock.
func (r *Registry) Members(boardID uint) []domain.Collaborator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[boardID]
	if !ok {
		return nil
	}
	out := make([]domain.Collaborator, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, *m.collab)
	}
	return out
}

// Touch refreshes a member's lastSeen. Called on every inbound frame
// from that member, not just cursor traffic.
func (r *Registry) Touch(boardID uint, collabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[boardID]; ok {
		if m, ok := rm.members[collabID]; ok {
			m.lastSeen = time.Now()
		}
	}
}

// UpdateCursor patches a member's last-known cursor and returns the
// member's assigned color for the relay annotation.
func (r *Registry) UpdateCursor(boardID uint, collabID string, cursor *domain.Cursor) (color string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, roomOK := r.rooms[boardID]
	if !roomOK {
		return "", false
	}
	m, memberOK := rm.members[collabID]
	if !memberOK {
		return "", false
	}
	m.collab.Cursor = cursor
	return m.collab.Color, true
}

// Broadcast delivers data to every member of the room except
// excludeID. Recipients are collected under the read lock and written
// outside it; a connection that fails to accept the write is skipped
// so one dead peer never stalls the rest of the fan-out.
func (r *Registry) Broadcast(boardID uint, data []byte, excludeID string) {
	r.mu.RLock()
	rm, ok := r.rooms[boardID]
	var conns []domain.Connection
	if ok {
		conns = make([]domain.Connection, 0, len(rm.members))
		for id, m := range rm.members {
			if id == excludeID {
				continue
			}
			conns = append(conns, m.conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			logrus.WithError(err).WithField("board_id", boardID).
				Warn("dropping broadcast to unreachable member")
		}
	}
}

// eviction identifies a member the sweep judged dead.
type eviction struct {
	boardID uint
	id      string
	conn    domain.Connection
}

// stale collects every member whose lastSeen is older than cutoff.
// Collection happens under the read lock; the actual eviction runs
// outside it through the router's normal cleanup path, so a member
// leaving mid-sweep is simply not found again.
func (r *Registry) stale(cutoff time.Time) []eviction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []eviction
	for boardID, rm := range r.rooms {
		for id, m := range rm.members {
			if m.lastSeen.Before(cutoff) {
				out = append(out, eviction{boardID: boardID, id: id, conn: m.conn})
			}
		}
	}
	return out
}

// setLastSeen backdates a member's lastSeen. Test hook for the sweep.
func (r *Registry) setLastSeen(boardID uint, collabID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[boardID]; ok {
		if m, ok := rm.members[collabID]; ok {
			m.lastSeen = t
		}
	}
}

// Stats reports room and collaborator counts for the stats endpoint.
func (r *Registry) Stats() (rooms, collaborators int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		collaborators += len(rm.members)
	}
	return rooms, collaborators
}
