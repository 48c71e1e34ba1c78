// Package client is the peer-side counterpart of the collaboration
// relay: one Session per board view, with automatic reconnection,
// keepalive and a small subscription surface for the UI layer.
package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collab-board/internal/domain"
	"collab-board/internal/protocol"
)

// Status is the observable connection state, meant to drive a UI
// connected/reconnecting indicator.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// DefaultKeepaliveInterval is strictly shorter than the server's
	// stale threshold so a healthy idle client is never evicted.
	DefaultKeepaliveInterval = 25 * time.Second
	// DefaultReconnectDelay is the fixed wait before a reconnect
	// attempt. Retries are unbounded while the session stays active.
	DefaultReconnectDelay = 3 * time.Second
)

var ErrNotConnected = errors.New("client: not connected")

// Identity is the already-resolved user identity announced at join.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

type Config struct {
	// URL of the collaboration endpoint, e.g. ws://host:8080/ws.
	URL      string
	BoardID  uint
	Identity Identity

	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration

	// OnStatusChange fires on every observable state transition.
	OnStatusChange func(Status)
	// OnPresence fires whenever the roster is replaced by a presence
	// snapshot.
	OnPresence func([]domain.Collaborator)
}

// Listener receives every relayed message the session does not handle
// internally, i.e. the asset edit events.
type Listener func(protocol.Message)

// Session owns one logical connection to the relay. All methods are
// safe for concurrent use. A generation counter invalidates reconnect
// timers and read loops left over from a superseded connection, so a
// rapid board switch never resurrects a torn-down session.
type Session struct {
	cfg Config
	log *logrus.Entry

	mu             sync.Mutex
	writeMu        sync.Mutex
	status         Status
	active         bool
	gen            int
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	collaborators  map[string]domain.Collaborator
	color          string
	listeners      map[int]Listener
	nextListener   int
}

func New(cfg Config) *Session {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Session{
		cfg:           cfg,
		log:           logrus.WithFields(logrus.Fields{"component": "client", "board_id": cfg.BoardID}),
		collaborators: make(map[string]domain.Collaborator),
		listeners:     make(map[int]Listener),
	}
}

// Connect starts the session. It returns immediately; the dial and any
// retries run in the background and surface through OnStatusChange.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.dial(gen)
}

// Close tears the session down intentionally: sends leave, cancels the
// keepalive and any pending reconnect, and closes the socket. No
// reconnect will ever be scheduled afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = false
	s.gen++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	changed := s.status != StatusDisconnected
	s.status = StatusDisconnected
	s.mu.Unlock()

	if conn != nil {
		if data, err := json.Marshal(protocol.Message{Type: protocol.TypeLeave}); err == nil {
			s.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, data)
			s.writeMu.Unlock()
		}
		_ = conn.Close()
	}
	if changed {
		s.notifyStatus(StatusDisconnected)
	}
}

// Status returns the current connection state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Color returns the server-assigned color for this collaborator, empty
// until the first presence reply arrives.
func (s *Session) Color() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Collaborators returns a copy of the current roster.
func (s *Session) Collaborators() []domain.Collaborator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Collaborator, 0, len(s.collaborators))
	for _, c := range s.collaborators {
		out = append(out, c)
	}
	return out
}

// Subscribe registers a listener for relayed messages and returns its
// removal function. Subscribers are independent; removing one never
// affects the others.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SendCursor reports the local pointer position.
func (s *Session) SendCursor(cursor *domain.Cursor) error {
	return s.send(protocol.TypeCursorMove, protocol.CursorPayload{Cursor: cursor})
}

// SendAsset relays an edit event. typ must be one of the asset_*
// message types; payload is opaque to the relay.
func (s *Session) SendAsset(typ string, payload any) error {
	return s.send(typ, payload)
}

func (s *Session) send(typ string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(protocol.Message{Type: typ, Payload: raw})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) dial(gen int) {
	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.status = StatusConnecting
	s.mu.Unlock()
	s.notifyStatus(StatusConnecting)

	conn, _, err := websocket.DefaultDialer.Dial(s.cfg.URL, nil)
	if err != nil {
		s.log.WithError(err).Warn("dial failed")
		s.scheduleReconnect(gen)
		return
	}

	s.mu.Lock()
	if !s.active || gen != s.gen {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.status = StatusConnected
	s.mu.Unlock()
	s.notifyStatus(StatusConnected)

	if err := s.sendJoin(conn); err != nil {
		s.log.WithError(err).Warn("join send failed")
		_ = conn.Close()
		// The read loop below will not start; recover via retry.
		s.handleDisconnect(conn, gen)
		return
	}

	go s.keepalive(conn, gen)
	go s.readLoop(conn, gen)
}

func (s *Session) sendJoin(conn *websocket.Conn) error {
	raw, err := json.Marshal(protocol.JoinPayload{
		UserID: s.cfg.Identity.UserID,
		Name:   s.cfg.Identity.Name,
		Avatar: s.cfg.Identity.Avatar,
	})
	if err != nil {
		return err
	}
	data, err := json.Marshal(protocol.Message{
		Type:    protocol.TypeJoin,
		BoardID: s.cfg.BoardID,
		Payload: raw,
	})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) keepalive(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(protocol.Message{Type: protocol.TypePing})
	for range ticker.C {
		s.mu.Lock()
		stale := gen != s.gen || s.conn != conn
		s.mu.Unlock()
		if stale {
			return
		}
		s.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, ping)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleMessage(data)
	}
	s.handleDisconnect(conn, gen)
}

func (s *Session) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.WithError(err).Debug("dropping malformed frame from server")
		return
	}

	switch msg.Type {
	case protocol.TypePong:
		// Keepalive ack, nothing to surface.
	case protocol.TypePresence:
		var p protocol.PresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.mu.Lock()
		s.collaborators = make(map[string]domain.Collaborator, len(p.Collaborators))
		for _, c := range p.Collaborators {
			s.collaborators[c.ID] = c
		}
		if p.YourColor != "" {
			s.color = p.YourColor
		}
		onPresence := s.cfg.OnPresence
		s.mu.Unlock()
		if onPresence != nil {
			onPresence(s.Collaborators())
		}
	case protocol.TypeCursorMove:
		var p protocol.CursorBroadcast
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.mu.Lock()
		if c, ok := s.collaborators[p.UserID]; ok {
			c.Cursor = p.Cursor
			s.collaborators[p.UserID] = c
		}
		s.mu.Unlock()
	default:
		s.mu.Lock()
		listeners := make([]Listener, 0, len(s.listeners))
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
		s.mu.Unlock()
		for _, l := range listeners {
			l(msg)
		}
	}
}

// handleDisconnect runs when a connection dies underneath us. If the
// session is still meant to be active, exactly one reconnect attempt
// is scheduled after the fixed delay.
func (s *Session) handleDisconnect(conn *websocket.Conn, gen int) {
	s.mu.Lock()
	if gen != s.gen || s.conn != conn {
		// A newer connection or an intentional teardown already owns
		// the state; this loop belonged to the old one.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.status = StatusDisconnected
	s.mu.Unlock()
	_ = conn.Close()
	s.notifyStatus(StatusDisconnected)

	s.scheduleReconnect(gen)
}

func (s *Session) scheduleReconnect(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || gen != s.gen {
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.log.WithField("delay", s.cfg.ReconnectDelay).Info("scheduling reconnect")
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.dial(gen)
	})
}

func (s *Session) notifyStatus(status Status) {
	if s.cfg.OnStatusChange != nil {
		s.cfg.OnStatusChange(status)
	}
}
