package hub

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"collab-board/internal/domain"
	"collab-board/internal/protocol"
)

// Router dispatches inbound frames against the per-connection state
// machine and relays edit events to the rest of the room. Frames from
// one connection are handled strictly in arrival order by that
// connection's read goroutine, which is what preserves per-sender
// causal order; no ordering is promised across senders.
type Router struct {
	registry *Registry
	log      *logrus.Entry
}

func NewRouter(registry *Registry) *Router {
	return &Router{
		registry: registry,
		log:      logrus.WithField("component", "router"),
	}
}

// HandleFrame processes one raw inbound frame. Malformed frames and
// messages that make no sense in the session's current state are
// logged and dropped without disturbing the connection.
func (r *Router) HandleFrame(s *Session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		r.log.WithError(err).WithField("session_id", s.ID()).Warn("dropping malformed frame")
		return
	}

	state, boardID, userID := s.snapshot()
	if state == stateClosed {
		return
	}
	if state == stateJoined {
		r.registry.Touch(boardID, userID)
	}

	// ping is answered in any live state; keepalive has no room context.
	if msg.Type == protocol.TypePing {
		if err := s.conn.Send(protocol.Pong()); err != nil {
			r.log.WithError(err).WithField("session_id", s.ID()).Debug("pong not delivered")
		}
		return
	}

	switch state {
	case stateUnjoined:
		if msg.Type == protocol.TypeJoin {
			r.handleJoin(s, msg)
		} else {
			r.log.WithFields(logrus.Fields{
				"session_id": s.ID(),
				"type":       msg.Type,
			}).Debug("ignoring frame before join")
		}
	case stateJoined:
		switch msg.Type {
		case protocol.TypeLeave:
			r.Disconnect(s)
		case protocol.TypeCursorMove:
			r.handleCursor(boardID, userID, msg.Payload)
		case protocol.TypeAssetUpdate, protocol.TypeAssetCreate, protocol.TypeAssetDelete:
			r.handleRelay(boardID, userID, msg.Type, msg.Payload)
		case protocol.TypeJoin:
			r.log.WithField("session_id", s.ID()).Debug("ignoring join on joined session")
		default:
			r.log.WithFields(logrus.Fields{
				"session_id": s.ID(),
				"type":       msg.Type,
			}).Debug("ignoring unknown frame type")
		}
	}
}

func (r *Router) handleJoin(s *Session, msg protocol.Message) {
	var p protocol.JoinPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.UserID == "" {
		r.log.WithField("session_id", s.ID()).Warn("dropping join with unusable payload")
		return
	}

	collab := &domain.Collaborator{ID: p.UserID, Name: p.Name, Avatar: p.Avatar}
	color := r.registry.AddMember(msg.BoardID, collab, s.conn)
	s.join(msg.BoardID, p.UserID)

	logCtx := r.log.WithFields(logrus.Fields{
		"board_id": msg.BoardID,
		"user_id":  p.UserID,
		"color":    color,
	})
	logCtx.Info("collaborator joined")

	// Direct reply carries the joiner's assigned color; the broadcast
	// to everyone already in the room does not.
	reply, err := presenceFrame(r.registry, msg.BoardID, color)
	if err != nil {
		logCtx.WithError(err).Error("failed to build presence reply")
		return
	}
	if err := s.conn.Send(reply); err != nil {
		logCtx.WithError(err).Warn("presence reply not delivered")
	}

	update, err := presenceFrame(r.registry, msg.BoardID, "")
	if err != nil {
		logCtx.WithError(err).Error("failed to build presence update")
		return
	}
	r.registry.Broadcast(msg.BoardID, update, p.UserID)
}

func (r *Router) handleCursor(boardID uint, userID string, payload json.RawMessage) {
	var p protocol.CursorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.log.WithField("user_id", userID).Warn("dropping malformed cursor payload")
		return
	}
	color, ok := r.registry.UpdateCursor(boardID, userID, p.Cursor)
	if !ok {
		return
	}
	data, err := protocol.Cursor(userID, p.Cursor, color)
	if err != nil {
		r.log.WithError(err).Error("failed to encode cursor relay")
		return
	}
	r.registry.Broadcast(boardID, data, userID)
}

func (r *Router) handleRelay(boardID uint, userID, typ string, payload json.RawMessage) {
	data, err := protocol.Relay(typ, payload, userID)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"type":    typ,
		}).Warn("dropping unrelayable edit frame")
		return
	}
	r.registry.Broadcast(boardID, data, userID)
}

// Disconnect runs the single cleanup path shared by explicit leave,
// socket close, socket error and liveness eviction: close the state
// machine, close the transport, remove the membership and tell the
// remaining room members. Safe to call more than once per session.
func (r *Router) Disconnect(s *Session) {
	wasJoined, boardID, userID, first := s.close()
	if !first {
		return
	}
	if err := s.conn.Close(); err != nil {
		r.log.WithError(err).WithField("session_id", s.ID()).Debug("connection close")
	}
	if wasJoined {
		r.removeAndNotify(boardID, userID, s.conn)
	}
}

// Evict is the sweep's entry point: the session object is not at hand,
// only the membership. Closing the connection makes the read pump exit
// and call Disconnect, which finds the membership already gone and
// does nothing further, so the presence update is sent exactly once.
func (r *Router) Evict(boardID uint, userID string, conn domain.Connection) {
	r.log.WithFields(logrus.Fields{
		"board_id": boardID,
		"user_id":  userID,
	}).Info("evicting stale collaborator")
	if err := conn.Close(); err != nil {
		r.log.WithError(err).Debug("stale connection close")
	}
	r.removeAndNotify(boardID, userID, conn)
}

// removeAndNotify passes the connection through so the registry can
// refuse to remove an entry that a same-id rejoin has already replaced.
func (r *Router) removeAndNotify(boardID uint, userID string, conn domain.Connection) {
	removed, remaining := r.registry.RemoveMember(boardID, userID, conn)
	if !removed || remaining == 0 {
		return
	}
	update, err := presenceFrame(r.registry, boardID, "")
	if err != nil {
		r.log.WithError(err).Error("failed to build presence update after leave")
		return
	}
	r.registry.Broadcast(boardID, update, "")
}
