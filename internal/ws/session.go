// Package ws adapts a gorilla/websocket connection to the chat.Session
// interface: one read pump feeding decoded commands into the room, one
// write pump owning the socket.
package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/chat"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/metrics"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound buffer per session. Sends beyond this are dropped rather
	// than blocking the room.
	sendBuffer = 64
)

// Session is one connected client.
type Session struct {
	id     string
	conn   *websocket.Conn
	room   *chat.Room
	logger zerolog.Logger

	send      chan protocol.ServerMessage
	closeOnce sync.Once
	done      chan struct{}

	joined bool // set by the read pump only
}

// NewSession wraps an upgraded connection. Serve must be called to start
// the pumps.
func NewSession(conn *websocket.Conn, room *chat.Room, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		room:   room,
		logger: logger.With().Str("session", id).Logger(),
		send:   make(chan protocol.ServerMessage, sendBuffer),
		done:   make(chan struct{}),
	}
}

// ID implements chat.Session.
func (s *Session) ID() string { return s.id }

// Send implements chat.Session. Never blocks: when the client cannot keep
// up its frames are dropped and the connection will eventually miss state
// it can recover by reconnecting.
func (s *Session) Send(msg protocol.ServerMessage) {
	select {
	case s.send <- msg:
	case <-s.done:
	default:
		metrics.DroppedSends.Inc()
	}
}

// Close implements chat.Session. Idempotent; unblocks both pumps.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// Nudge the peer before tearing the socket down.
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
}

// Serve runs the write pump in a goroutine and the read pump on the calling
// goroutine. It returns when the connection is gone; the participant has
// been removed from the room by then.
func (s *Session) Serve() {
	go s.writePump()
	s.readPump()
}

func (s *Session) readPump() {
	defer func() {
		s.room.Disconnect(s.id)
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			s.Send(protocol.Error(err.Error()))
			continue
		}
		s.dispatch(msg)
	}
}

// dispatch routes one validated client frame to the room. Everything except
// join requires a registered participant.
func (s *Session) dispatch(msg *protocol.ClientMessage) {
	if msg.Type == protocol.ClientJoin {
		if s.joined {
			s.Send(protocol.Error("already joined"))
			return
		}
		s.joined = s.room.Join(s, msg.Name)
		return
	}

	if !s.joined {
		s.Send(protocol.Error("join first"))
		return
	}

	switch msg.Type {
	case protocol.ClientSubmitPrompt:
		s.room.SubmitPrompt(s.id, msg.Text)
	case protocol.ClientVotePrompt:
		s.room.VotePrompt(s.id, msg.PromptID)
	case protocol.ClientProposeClear:
		s.room.ProposeClear(s.id)
	case protocol.ClientClearVote:
		s.room.CastClearVote(s.id, msg.Choice)
	case protocol.ClientPing:
		s.room.Touch(s.id)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
