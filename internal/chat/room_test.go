package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ai"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/models"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/protocol"
)

// fakeSession records everything the room sends it.
type fakeSession struct {
	id string

	mu     sync.Mutex
	msgs   []protocol.ServerMessage
	closed bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(msg protocol.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// received returns the types of all messages seen so far.
func (s *fakeSession) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		types[i] = m.Type
	}
	return types
}

func (s *fakeSession) countType(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (s *fakeSession) lastOfType(msgType string) (protocol.ServerMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Type == msgType {
			return s.msgs[i], true
		}
	}
	return protocol.ServerMessage{}, false
}

// stubGateway returns a fixed reply or error and records invocations.
type stubGateway struct {
	mu     sync.Mutex
	reply  *ai.Reply
	err    error
	calls  int
	prompt string
	recent []ai.Turn
}

func (g *stubGateway) GenerateReply(_ context.Context, prompt string, recent []ai.Turn) (*ai.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompt = prompt
	g.recent = recent
	if g.err != nil {
		return nil, g.err
	}
	if g.reply != nil {
		return g.reply, nil
	}
	return &ai.Reply{Text: "reply to: " + prompt, TokenCost: 7}, nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// testConfig disables every background timer so tests drive transitions
// explicitly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.VotingWindow = time.Hour
	cfg.RoundTick = 0
	cfg.StaleSweepInterval = 0
	cfg.StaleAfter = time.Hour
	cfg.IdleTimeout = time.Hour
	cfg.ClearVoteWindow = time.Hour
	return cfg
}

func newTestRoom(gw ai.Gateway) *Room {
	if gw == nil {
		gw = &stubGateway{}
	}
	return NewRoom(testConfig(), zerolog.Nop(), gw)
}

// join registers n participants named u1..un and returns their sessions.
func join(t *testing.T, r *Room, n int) []*fakeSession {
	t.Helper()
	sessions := make([]*fakeSession, n)
	for i := range sessions {
		s := newFakeSession(fmt.Sprintf("conn-%d", i+1))
		require.True(t, r.Join(s, fmt.Sprintf("u%d", i+1)))
		sessions[i] = s
	}
	return sessions
}

func poolLen(r *Room) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.len()
}

func roundActive(r *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round != nil
}

func clearActive(r *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clear != nil
}

func historyBodies(r *Room) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	bodies := make([]string, 0, r.history.len())
	for _, e := range r.history.all() {
		bodies = append(bodies, e.Body)
	}
	return bodies
}

func poolView(r *Room) []models.Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.views()
}

// submit adds a prompt for the given session and returns its id.
func submit(t *testing.T, r *Room, s *fakeSession, text string) string {
	t.Helper()
	before := poolLen(r)
	r.SubmitPrompt(s.id, text)
	view := poolView(r)
	require.Len(t, view, before+1, "prompt was not accepted")
	return view[len(view)-1].ID
}

func TestJoin_RejectsInvalidNames(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()

	tests := []struct {
		name    string
		rawName string
	}{
		{"too short", "a"},
		{"too long", "abcdefghijklmnopqrstu"},
		{"bad charset", "user!@#"},
		{"empty", ""},
		{"only spaces", "    "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFakeSession("conn-" + tt.name)
			assert.False(t, r.Join(s, tt.rawName))
			msg, ok := s.lastOfType(protocol.ServerJoinRejected)
			require.True(t, ok)
			rej := msg.Data.(protocol.Rejection)
			assert.Equal(t, protocol.CodeInvalidName, rej.Code)
		})
	}
}

func TestJoin_RejectsDuplicateNameCaseInsensitive(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()

	require.True(t, r.Join(newFakeSession("a"), "Alice Smith"))

	s := newFakeSession("b")
	assert.False(t, r.Join(s, "alice smith"))
	msg, ok := s.lastOfType(protocol.ServerJoinRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNameTaken, msg.Data.(protocol.Rejection).Code)

	// The name frees up once its owner leaves.
	r.Disconnect("a")
	assert.True(t, r.Join(newFakeSession("c"), "ALICE SMITH"))
}

func TestJoin_SnapshotIncludesHistoryPromptsAndRound(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()

	sessions := join(t, r, 2)
	submit(t, r, sessions[0], "what is the meaning of life?")

	late := newFakeSession("late")
	require.True(t, r.Join(late, "latecomer"))

	got := late.received()
	assert.Contains(t, got, protocol.ServerJoinAccepted)
	assert.Contains(t, got, protocol.ServerHistory)
	assert.Contains(t, got, protocol.ServerPrompts)
	assert.Contains(t, got, protocol.ServerRoundStarted)

	msg, _ := late.lastOfType(protocol.ServerPrompts)
	assert.Len(t, msg.Data.([]models.Prompt), 1)
}

func TestSubmitPrompt_OneLivePromptPerParticipant(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 2)

	submit(t, r, sessions[0], "first prompt")
	r.SubmitPrompt(sessions[0].id, "second prompt")

	assert.Equal(t, 1, poolLen(r))
	msg, ok := sessions[0].lastOfType(protocol.ServerPromptRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeSlotTaken, msg.Data.(protocol.Rejection).Code)
}

func TestSubmitPrompt_RejectsNormalizedDuplicates(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 2)

	submit(t, r, sessions[0], "Tell me a   joke")
	r.SubmitPrompt(sessions[1].id, "  tell me a JOKE ")

	assert.Equal(t, 1, poolLen(r))
	msg, ok := sessions[1].lastOfType(protocol.ServerPromptRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeDuplicatePrompt, msg.Data.(protocol.Rejection).Code)
}

func TestSubmitPrompt_RejectsEmptyAfterTrim(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 1)

	r.SubmitPrompt(sessions[0].id, "   \t  ")
	assert.Equal(t, 0, poolLen(r))
	assert.False(t, roundActive(r))

	msg, ok := sessions[0].lastOfType(protocol.ServerPromptRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeEmptyPrompt, msg.Data.(protocol.Rejection).Code)
}

func TestSubmitPrompt_TruncatesOversizedText(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 1)

	long := make([]byte, 0, 600)
	for i := 0; i < 600; i++ {
		long = append(long, 'x')
	}
	submit(t, r, sessions[0], string(long))

	view := poolView(r)
	assert.Len(t, view[0].Text, 500)
}

func TestSubmitPrompt_PoolCapEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.PromptPoolCap = 3
	r := NewRoom(cfg, zerolog.Nop(), &stubGateway{})
	defer r.Close()

	sessions := join(t, r, 4)
	first := submit(t, r, sessions[0], "prompt one")
	submit(t, r, sessions[1], "prompt two")
	submit(t, r, sessions[2], "prompt three")
	r.SubmitPrompt(sessions[3].id, "prompt four")

	assert.Equal(t, 3, poolLen(r))
	assert.Equal(t, "prompt four", poolView(r)[2].Text)
	r.mu.Lock()
	assert.Nil(t, r.pool.byID(first))
	r.mu.Unlock()
}

func TestSubmitPrompt_FirstPromptStartsRound(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 2)

	assert.False(t, roundActive(r))
	submit(t, r, sessions[0], "start the round")
	assert.True(t, roundActive(r))

	msg, ok := sessions[1].lastOfType(protocol.ServerRoundStarted)
	require.True(t, ok)
	state := msg.Data.(protocol.RoundState)
	assert.Equal(t, 1, state.RequiredVotes) // ceil(2/2)
	assert.Greater(t, state.EndsAt, time.Now().UnixMilli())

	// A second prompt joins the existing round instead of starting another.
	submit(t, r, sessions[1], "another prompt")
	assert.Equal(t, 1, sessions[1].countType(protocol.ServerRoundStarted))
}

func TestVotePrompt_SelfVoteRejected(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 3)
	id := submit(t, r, sessions[0], "my own prompt")

	r.VotePrompt(sessions[0].id, id)

	msg, ok := sessions[0].lastOfType(protocol.ServerVoteRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeSelfVote, msg.Data.(protocol.Rejection).Code)
	assert.Equal(t, 0, poolView(r)[0].Votes)
}

func TestVotePrompt_RepeatVoteIsNoOp(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 4) // quorum 2, one vote cannot resolve
	id := submit(t, r, sessions[0], "vote for me")

	r.VotePrompt(sessions[1].id, id)
	require.Equal(t, 1, poolView(r)[0].Votes)

	r.VotePrompt(sessions[1].id, id)
	assert.Equal(t, 1, poolView(r)[0].Votes)

	msg, ok := sessions[1].lastOfType(protocol.ServerVoteRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeAlreadyVoted, msg.Data.(protocol.Rejection).Code)
}

func TestVotePrompt_UnknownPromptRejected(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()
	sessions := join(t, r, 2)
	submit(t, r, sessions[0], "real prompt")

	r.VotePrompt(sessions[1].id, "no-such-id")
	msg, ok := sessions[1].lastOfType(protocol.ServerVoteRejected)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeNotFound, msg.Data.(protocol.Rejection).Code)
}

func TestQuorum_ResolvesBeforeTimer(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 3) // quorum = ceil(3/2) = 2
	id := submit(t, r, sessions[0], "quorum prompt")

	r.VotePrompt(sessions[1].id, id)
	assert.True(t, roundActive(r), "one vote of two must not resolve")

	r.VotePrompt(sessions[2].id, id)

	// Resolution is synchronous: round gone, pool cleared, before any timer.
	assert.False(t, roundActive(r))
	assert.Equal(t, 0, poolLen(r))

	require.Eventually(t, func() bool { return gw.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "quorum prompt", gw.prompt)

	require.Eventually(t, func() bool {
		for _, b := range historyBodies(r) {
			if b == "reply to: quorum prompt" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRoundExpiry_TieBreaksEarliestSubmission(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 6) // quorum 3, two votes stay below it
	first := submit(t, r, sessions[0], "first submitted")
	second := submit(t, r, sessions[1], "second submitted")
	submit(t, r, sessions[2], "zero votes")

	r.VotePrompt(sessions[3].id, first)
	r.VotePrompt(sessions[4].id, first)
	r.VotePrompt(sessions[3].id, second)
	r.VotePrompt(sessions[4].id, second)
	require.True(t, roundActive(r))

	r.mu.Lock()
	gen := r.roundGen
	r.mu.Unlock()
	r.roundExpired(gen)

	assert.False(t, roundActive(r))
	require.Eventually(t, func() bool { return gw.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "first submitted", gw.prompt)
}

func TestRoundExpiry_NoVotesClearsPoolWithoutWinner(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 3)
	submit(t, r, sessions[0], "nobody votes for this")

	r.mu.Lock()
	gen := r.roundGen
	r.mu.Unlock()
	r.roundExpired(gen)

	assert.False(t, roundActive(r))
	assert.Equal(t, 0, poolLen(r))
	assert.Equal(t, 0, gw.callCount())

	msg, ok := sessions[1].lastOfType(protocol.ServerRoundEnded)
	require.True(t, ok)
	assert.Equal(t, protocol.RoundNoVotes, msg.Data.(protocol.RoundEnd).Reason)
	assert.Contains(t, historyBodies(r), "Voting ended with no votes; no prompt was selected.")
}

func TestRoundExpiry_StaleTimerGenerationIgnored(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 2)
	id := submit(t, r, sessions[0], "resolved early")
	r.mu.Lock()
	staleGen := r.roundGen
	r.mu.Unlock()

	r.VotePrompt(sessions[1].id, id) // quorum 1 of 2 voters... ceil(2/2)=1, resolves
	require.False(t, roundActive(r))

	// A late firing from the already-cancelled timer must be a no-op.
	r.roundExpired(staleGen)
	require.Eventually(t, func() bool { return gw.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, gw.callCount())
}

func TestGatewayFailure_StillEndsRoundAndClearsPool(t *testing.T) {
	gw := &stubGateway{err: errors.New("backend down")}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 2)
	id := submit(t, r, sessions[0], "doomed prompt")
	r.VotePrompt(sessions[1].id, id)

	assert.False(t, roundActive(r))
	assert.Equal(t, 0, poolLen(r))

	require.Eventually(t, func() bool {
		for _, b := range historyBodies(r) {
			if b == "The assistant could not answer the selected prompt." {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Composing indicator switched on and back off.
	require.Eventually(t, func() bool {
		msg, ok := sessions[0].lastOfType(protocol.ServerComposing)
		return ok && !msg.Data.(protocol.ComposingState).Active
	}, time.Second, 5*time.Millisecond)
}

func TestReply_CarriesTokenCostAndContext(t *testing.T) {
	gw := &stubGateway{reply: &ai.Reply{Text: "42", TokenCost: 99}}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 2)
	id := submit(t, r, sessions[0], "what is six times seven?")
	r.VotePrompt(sessions[1].id, id)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, e := range r.history.all() {
			if e.Kind == models.EventAI {
				return e.Body == "42" && e.TokenCost == 99
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Context excludes the prompt itself and all system events.
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for _, turn := range gw.recent {
		assert.NotEqual(t, "what is six times seven?", turn.Content)
	}
}

func TestSweep_ForceResolvesStalePromptMidRound(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 0 // everything is instantly stale
	gw := &stubGateway{}
	r := NewRoom(cfg, zerolog.Nop(), gw)
	defer r.Close()

	sessions := join(t, r, 6) // quorum 3
	id := submit(t, r, sessions[0], "stuck prompt")
	r.VotePrompt(sessions[1].id, id)
	require.True(t, roundActive(r), "one vote of three must not resolve")

	r.sweepStale()

	assert.False(t, roundActive(r))
	require.Eventually(t, func() bool { return gw.callCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "stuck prompt", gw.prompt)
}

func TestSweep_IgnoresVotelessPrompts(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 0
	gw := &stubGateway{}
	r := NewRoom(cfg, zerolog.Nop(), gw)
	defer r.Close()

	sessions := join(t, r, 3)
	submit(t, r, sessions[0], "nobody voted")

	r.sweepStale()

	assert.True(t, roundActive(r))
	assert.Equal(t, 1, poolLen(r))
	assert.Equal(t, 0, gw.callCount())
}

func TestDisconnect_ReleasesPromptSlotAndVotes(t *testing.T) {
	r := newTestRoom(nil)
	defer r.Close()

	sessions := join(t, r, 4)
	mine := submit(t, r, sessions[0], "leaving soon")
	other := submit(t, r, sessions[1], "staying")
	r.VotePrompt(sessions[0].id, other)
	require.Equal(t, 1, poolView(r)[1].Votes)

	r.Disconnect(sessions[0].id)

	view := poolView(r)
	require.Len(t, view, 1)
	assert.NotEqual(t, mine, view[0].ID)
	assert.Equal(t, 0, view[0].Votes, "departing voter's vote must be stripped")
}

func TestDisconnect_ShrinkingQuorumCanResolveRound(t *testing.T) {
	gw := &stubGateway{}
	r := newTestRoom(gw)
	defer r.Close()

	sessions := join(t, r, 5) // quorum 3
	id := submit(t, r, sessions[0], "borderline")
	r.VotePrompt(sessions[1].id, id)
	r.VotePrompt(sessions[2].id, id)
	require.True(t, roundActive(r), "2 of 3 required must not resolve")

	// Drop to 4 connected: quorum becomes 2, already met.
	r.Disconnect(sessions[4].id)

	assert.False(t, roundActive(r))
	require.Eventually(t, func() bool { return gw.callCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestIdleTimeout_EvictsWithDistinctReason(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	r := NewRoom(cfg, zerolog.Nop(), &stubGateway{})
	defer r.Close()

	s := newFakeSession("sleepy")
	require.True(t, r.Join(s, "sleepyhead"))

	require.Eventually(t, s.isClosed, time.Second, 5*time.Millisecond)
	msg, ok := s.lastOfType(protocol.ServerDisconnecting)
	require.True(t, ok)
	assert.Equal(t, protocol.DisconnectIdle, msg.Data.(protocol.DisconnectNotice).Reason)

	r.mu.Lock()
	count := r.registry.count()
	r.mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestTouch_ResetsIdleTimer(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 60 * time.Millisecond
	r := NewRoom(cfg, zerolog.Nop(), &stubGateway{})
	defer r.Close()

	s := newFakeSession("active")
	require.True(t, r.Join(s, "busy bee"))

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		r.Touch(s.id)
	}
	assert.False(t, s.isClosed(), "touched participant must not be evicted")
}
