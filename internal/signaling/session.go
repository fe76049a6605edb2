package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the session lifecycle: UNJOINED moves to JOINED on joinRoom,
// and any state moves to TERMINATED on disconnect or kick.
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "UNJOINED"
	case StateJoined:
		return "JOINED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// wsConn is the subset of *websocket.Conn a Session needs; narrowed so
// tests can substitute a fake connection.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Session is one connection's handle, its peerId (= connection id), and
// its current room membership. Only in StateJoined does the Dispatcher
// forward transport/produce/consume requests.
type Session struct {
	id   registry.PeerID
	conn wsConn
	send chan []byte

	mu     sync.RWMutex
	state  State
	roomID registry.RoomID
}

func newSession(id registry.PeerID, conn wsConn) *Session {
	return &Session{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, 256),
		state: StateUnjoined,
	}
}

// ID returns this session's peer id.
func (s *Session) ID() registry.PeerID { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) RoomID() registry.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) setJoined(roomID registry.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateJoined
	s.roomID = roomID
}

func (s *Session) setTerminated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
}

// sendFrame marshals and non-blockingly enqueues one outbound frame. A
// full send buffer indicates a stalled/dead peer; the frame is dropped
// rather than blocking the Room serializer that produced it.
func (s *Session) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		logging.Error(nil, "failed to marshal outbound frame", zap.String("peer_id", string(s.id)), zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		logging.Warn(nil, "session send buffer full, dropping frame", zap.String("peer_id", string(s.id)), zap.String("event", f.Event))
	}
}

// sendEvent wraps payload (already a value, or a json.RawMessage for
// pass-through from the bus) into an event frame with no ack.
func (s *Session) sendEvent(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(nil, "failed to marshal event payload", zap.String("peer_id", string(s.id)), zap.String("event", event), zap.Error(err))
		return
	}
	s.sendFrame(Frame{Event: event, Data: data})
}

func (s *Session) sendReply(ack string, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(nil, "failed to marshal reply payload", zap.String("peer_id", string(s.id)), zap.String("event", event), zap.Error(err))
		return
	}
	s.sendFrame(Frame{Event: event, Data: data, Ack: ack})
}

func (s *Session) sendError(ack string, event string, message string) {
	s.sendReply(ack, event, errorOut{Error: message})
}

// writePump drains the send buffer to the socket and drives ping frames.
func (s *Session) writePump(pingTick time.Duration) {
	ticker := time.NewTicker(pingTick)
	defer ticker.Stop()
	defer s.conn.Close()

	const writeWait = 10 * time.Second

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
