package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ai"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/chat"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/protocol"
)

func startServer(t *testing.T) (*chat.Room, *httptest.Server) {
	t.Helper()
	cfg := chat.DefaultConfig()
	cfg.RoundTick = 0
	cfg.StaleSweepInterval = 0
	room := chat.NewRoom(cfg, zerolog.Nop(), ai.EchoGateway{})
	t.Cleanup(room.Close)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewSession(conn, room, zerolog.Nop()).Serve()
	}))
	t.Cleanup(srv.Close)
	return room, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the wanted type arrives, returning the
// types seen along the way.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) []string {
	t.Helper()
	var seen []string
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg protocol.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q, saw %v", wantType, seen)
		seen = append(seen, msg.Type)
		if msg.Type == wantType {
			return seen
		}
	}
}

func TestSession_JoinHandshake(t *testing.T) {
	_, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "alice"}))

	seen := readUntil(t, conn, protocol.ServerParticipants)
	assert.Contains(t, seen, protocol.ServerJoinAccepted)
	assert.Contains(t, seen, protocol.ServerHistory)
	assert.Contains(t, seen, protocol.ServerPrompts)
}

func TestSession_CommandsBeforeJoinRejected(t *testing.T) {
	_, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "submit_prompt", "text": "hi"}))

	seen := readUntil(t, conn, protocol.ServerError)
	assert.Equal(t, []string{protocol.ServerError}, seen)
}

func TestSession_MalformedFrameGetsError(t *testing.T) {
	_, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))
	readUntil(t, conn, protocol.ServerError)
}

func TestSession_DisconnectRemovesParticipant(t *testing.T) {
	room, srv := startServer(t)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "name": "bob"}))
	readUntil(t, conn, protocol.ServerParticipants)

	conn.Close()

	// The read pump notices and removes the participant, freeing the name.
	require.Eventually(t, func() bool {
		probe := newProbeSession()
		if !room.Join(probe, "bob") {
			return false
		}
		room.Disconnect(probe.ID())
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

// probeSession is a minimal chat.Session for poking the room directly.
type probeSession struct {
	id string
}

func newProbeSession() *probeSession {
	return &probeSession{id: uuid.NewString()}
}

func (p *probeSession) ID() string                    { return p.id }
func (p *probeSession) Send(_ protocol.ServerMessage) {}
func (p *probeSession) Close()                        {}
