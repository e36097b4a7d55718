// Package chat implements the session-coordination core: the session
// registry, the bounded conversation log, the prompt pool & voting engine
// and the clear-chat consensus engine, all driving a shared AI assistant.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ai"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/metrics"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/models"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/protocol"
)

// Session is one connected transport endpoint. Send must never block; slow
// consumers are the transport's problem, not the room's.
type Session interface {
	ID() string
	Send(msg protocol.ServerMessage)
	Close()
}

// Config holds the room tunables. Zero values are not usable; start from
// DefaultConfig.
type Config struct {
	HistoryCap         int
	PromptPoolCap      int
	PromptMaxLen       int
	VotingWindow       time.Duration
	RoundTick          time.Duration // 0 disables countdown ticks
	StaleSweepInterval time.Duration // 0 disables the stale-prompt sweep
	StaleAfter         time.Duration
	IdleTimeout        time.Duration
	ClearVoteWindow    time.Duration
	ContextTurns       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCap:         150,
		PromptPoolCap:      20,
		PromptMaxLen:       500,
		VotingWindow:       60 * time.Second,
		RoundTick:          5 * time.Second,
		StaleSweepInterval: 2 * time.Minute,
		StaleAfter:         5 * time.Minute,
		IdleTimeout:        5 * time.Minute,
		ClearVoteWindow:    60 * time.Second,
		ContextTurns:       8,
	}
}

// Room owns all shared chat state. One mutex serializes every mutation, so
// each command and its broadcasts form one atomic step and all observers see
// a consistent total order of events. The only suspension point is the AI
// gateway call, which runs outside the lock; its winning prompt is consumed
// before the call starts, so completion only applies the reply.
type Room struct {
	cfg     Config
	logger  zerolog.Logger
	gateway ai.Gateway

	mu       sync.Mutex
	registry *registry
	history  *history
	pool     *promptPool

	round    *votingRound
	roundGen uint64 // bumped whenever the round singleton changes

	clear    *clearVote
	clearGen uint64

	composing int // in-flight AI generations

	sweepTicker *time.Ticker
	sweepDone   chan struct{}
	closed      bool
}

// NewRoom creates a room with the given configuration and AI gateway.
func NewRoom(cfg Config, logger zerolog.Logger, gateway ai.Gateway) *Room {
	return &Room{
		cfg:      cfg,
		logger:   logger,
		gateway:  gateway,
		registry: newRegistry(),
		history:  newHistory(cfg.HistoryCap),
		pool:     newPromptPool(cfg.PromptPoolCap),
	}
}

// Start launches the stale-prompt sweep. No-op when the sweep is disabled.
func (r *Room) Start() {
	if r.cfg.StaleSweepInterval <= 0 {
		return
	}
	r.sweepTicker = time.NewTicker(r.cfg.StaleSweepInterval)
	r.sweepDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-r.sweepDone:
				return
			case <-r.sweepTicker.C:
				r.sweepStale()
			}
		}
	}()
}

// Close tears the room down: stops the sweep, cancels all timers and closes
// every session. Safe to call once at shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.sweepTicker != nil {
		r.sweepTicker.Stop()
		close(r.sweepDone)
	}
	if r.round != nil {
		r.round.timer.Stop()
		r.round = nil
		r.roundGen++
	}
	if r.clear != nil {
		r.clear.timer.Stop()
		r.clear = nil
		r.clearGen++
	}
	r.registry.each(func(p *participant) {
		p.idleTimer.Stop()
		p.session.Close()
	})
}

// broadcast fans a message out to every connected session. Called with the
// lock held, after the mutation it reflects has been applied.
func (r *Room) broadcast(msg protocol.ServerMessage) {
	r.registry.each(func(p *participant) {
		p.session.Send(msg)
	})
}

func (r *Room) appendAndBroadcast(e models.Event) {
	r.history.append(e)
	r.broadcast(protocol.Message(e))
}

// Join registers a session under the given display name. Returns false when
// the join was rejected; the reason has already been sent to the session.
func (r *Room) Join(sess Session, rawName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	name, ok := validateName(rawName)
	if !ok {
		metrics.JoinsTotal.WithLabelValues("rejected").Inc()
		sess.Send(protocol.JoinRejected(protocol.CodeInvalidName,
			"name must be 2-20 characters: letters, digits, underscore, hyphen, space"))
		return false
	}
	if r.registry.nameTaken(name) {
		metrics.JoinsTotal.WithLabelValues("rejected").Inc()
		sess.Send(protocol.JoinRejected(protocol.CodeNameTaken, "that name is already in use"))
		return false
	}

	now := time.Now()
	p := &participant{
		id:           sess.ID(),
		name:         name,
		joinedAt:     now,
		lastActivity: now,
		session:      sess,
	}
	p.idleTimer = time.AfterFunc(r.cfg.IdleTimeout, func() { r.idleTimeout(p.id) })
	r.registry.add(p)

	count := r.registry.count()
	metrics.JoinsTotal.WithLabelValues("accepted").Inc()
	metrics.ConnectedParticipants.Set(float64(count))

	// Full snapshot for the joiner before anyone hears about them.
	sess.Send(protocol.JoinAccepted())
	sess.Send(protocol.History(r.history.all()))
	sess.Send(protocol.Prompts(r.pool.views()))
	if r.round != nil {
		sess.Send(protocol.RoundStarted(r.round.endsAt.UnixMilli(), requiredVotes(count)))
	}
	if r.clear != nil {
		sess.Send(protocol.ClearProposed(r.clear.proposerName, count))
		yes, no := r.clear.tallies()
		sess.Send(protocol.ClearTally(yes, no, count))
	}

	r.appendAndBroadcast(newEvent(models.EventSystem, "", name+" joined the room"))
	r.broadcast(protocol.Participants(count))
	if r.clear != nil {
		// The eligible-voter denominator just grew.
		yes, no := r.clear.tallies()
		r.broadcast(protocol.ClearTally(yes, no, count))
	}

	r.logger.Info().Str("participant", name).Int("connected", count).Msg("participant joined")
	return true
}

// Touch resets the idle timer. Called on every meaningful client action and
// on explicit activity pings.
func (r *Room) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.registry.get(sessionID); p != nil {
		r.touchLocked(p)
	}
}

func (r *Room) touchLocked(p *participant) {
	p.lastActivity = time.Now()
	p.idleTimer.Reset(r.cfg.IdleTimeout)
}

// idleTimeout fires when a participant went quiet for the whole idle window.
// The timer may race a concurrent Touch, so the deadline is re-checked under
// the lock before evicting.
func (r *Room) idleTimeout(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	if idle := time.Since(p.lastActivity); idle < r.cfg.IdleTimeout {
		p.idleTimer.Reset(r.cfg.IdleTimeout - idle)
		return
	}

	metrics.IdleDisconnects.Inc()
	r.logger.Info().Str("participant", p.name).Msg("participant evicted for inactivity")
	p.session.Send(protocol.Disconnecting(protocol.DisconnectIdle))
	p.session.Close()
	r.removeLocked(p, p.name+" was disconnected for inactivity")
}

// Disconnect removes a participant after their transport went away,
// cascading cleanup into the prompt pool and any active clear vote.
func (r *Room) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	r.removeLocked(p, p.name+" left the room")
}

func (r *Room) removeLocked(p *participant, notice string) {
	p.idleTimer.Stop()
	r.registry.remove(p.id)
	count := r.registry.count()
	metrics.ConnectedParticipants.Set(float64(count))

	// Strip their votes and release their prompt slot.
	r.pool.stripVoter(p.id)
	released := r.pool.removeSubmitter(p.id)
	if released != nil || r.pool.len() > 0 {
		r.broadcast(protocol.Prompts(r.pool.views()))
	}

	r.appendAndBroadcast(newEvent(models.EventSystem, "", notice))
	r.broadcast(protocol.Participants(count))

	// A shrinking denominator can push a prompt over quorum or a clear vote
	// over its threshold.
	if r.clear != nil {
		r.clear.strip(p.id)
		if outcome, done := r.clear.outcome(count); done {
			if outcome == protocol.ClearApproved {
				r.executeClearLocked()
			} else {
				r.resolveClearLocked(outcome)
			}
		} else {
			yes, no := r.clear.tallies()
			r.broadcast(protocol.ClearTally(yes, no, count))
		}
	}
	r.checkQuorumLocked()

	r.logger.Info().Str("participant", p.name).Int("connected", count).Msg("participant removed")
}

// SubmitPrompt adds a candidate prompt, starting a voting round if none is
// active.
func (r *Room) SubmitPrompt(sessionID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	r.touchLocked(p)

	text = truncateRunes(text, r.cfg.PromptMaxLen)
	if text == "" {
		metrics.PromptsSubmitted.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.PromptRejected(protocol.CodeEmptyPrompt, "prompt is empty"))
		return
	}
	if r.pool.bySubmitter(p.id) != nil {
		metrics.PromptsSubmitted.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.PromptRejected(protocol.CodeSlotTaken,
			"you already have a prompt in the pool"))
		return
	}
	normalized := normalizePromptText(text)
	if r.pool.hasNormalized(normalized) {
		metrics.PromptsSubmitted.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.PromptRejected(protocol.CodeDuplicatePrompt,
			"an identical prompt is already in the pool"))
		return
	}

	pr := &prompt{
		id:            uuid.NewString(),
		text:          text,
		normalized:    normalized,
		submitterID:   p.id,
		submitterName: p.name,
		voters:        make(map[string]struct{}),
		submittedAt:   time.Now(),
	}
	if evicted := r.pool.add(pr); evicted != nil {
		r.logger.Debug().Str("prompt", evicted.id).Msg("oldest prompt evicted at pool cap")
	}
	metrics.PromptsSubmitted.WithLabelValues("accepted").Inc()

	if r.round == nil {
		r.startRoundLocked()
	}
	r.broadcast(protocol.PromptAdded(pr.view()))
	r.broadcast(protocol.Prompts(r.pool.views()))
}

func (r *Room) startRoundLocked() {
	r.roundGen++
	gen := r.roundGen
	now := time.Now()
	round := &votingRound{startedAt: now, endsAt: now.Add(r.cfg.VotingWindow)}
	round.timer = time.AfterFunc(r.cfg.VotingWindow, func() { r.roundExpired(gen) })
	r.round = round

	need := requiredVotes(r.registry.count())
	r.broadcast(protocol.RoundStarted(round.endsAt.UnixMilli(), need))
	if r.cfg.RoundTick > 0 {
		go r.tickRound(gen)
	}
	r.logger.Info().Time("ends_at", round.endsAt).Int("required_votes", need).Msg("voting round started")
}

// tickRound broadcasts the countdown for one round and exits as soon as
// that round is superseded.
func (r *Room) tickRound(gen uint64) {
	ticker := time.NewTicker(r.cfg.RoundTick)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.Lock()
		if r.closed || r.round == nil || r.roundGen != gen {
			r.mu.Unlock()
			return
		}
		remaining := int(time.Until(r.round.endsAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		r.broadcast(protocol.RoundTick(remaining, requiredVotes(r.registry.count())))
		r.mu.Unlock()
	}
}

// VotePrompt records a vote and resolves the round early once quorum is
// reached.
func (r *Room) VotePrompt(sessionID, promptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	r.touchLocked(p)

	pr := r.pool.byID(promptID)
	if pr == nil {
		metrics.VotesCast.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.VoteRejected(protocol.CodeNotFound, "prompt not found"))
		return
	}
	if pr.submitterID == p.id {
		metrics.VotesCast.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.VoteRejected(protocol.CodeSelfVote, "you cannot vote for your own prompt"))
		return
	}
	if _, voted := pr.voters[p.id]; voted {
		metrics.VotesCast.WithLabelValues("rejected").Inc()
		p.session.Send(protocol.VoteRejected(protocol.CodeAlreadyVoted, "you already voted for this prompt"))
		return
	}

	pr.voters[p.id] = struct{}{}
	metrics.VotesCast.WithLabelValues("accepted").Inc()
	r.broadcast(protocol.Prompts(r.pool.views()))
	r.checkQuorumLocked()
}

// checkQuorumLocked resolves the round early when the leading prompt holds
// enough votes for the current participant count.
func (r *Room) checkQuorumLocked() {
	if r.round == nil || r.pool.len() == 0 {
		return
	}
	leader := r.pool.leader()
	if leader == nil || len(leader.voters) == 0 {
		return
	}
	if len(leader.voters) >= requiredVotes(r.registry.count()) {
		r.resolveLocked(leader, "quorum")
	}
}

// roundExpired is the countdown timer callback. The generation guard drops
// firings that lost the race against an early resolution.
func (r *Room) roundExpired(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.round == nil || r.roundGen != gen {
		return
	}

	winner := r.pool.leader()
	if winner == nil || len(winner.voters) == 0 {
		// No winner is synthesized from a voteless pool.
		metrics.RoundsResolved.WithLabelValues("no_votes").Inc()
		r.endRoundLocked(protocol.RoundNoVotes)
		r.appendAndBroadcast(newEvent(models.EventSystem, "",
			"Voting ended with no votes; no prompt was selected."))
		r.logger.Info().Msg("voting round ended with no votes")
		return
	}
	r.resolveLocked(winner, "timer")
}

// endRoundLocked cancels the round timer, nulls the singleton and clears the
// pool in one step, then tells everyone.
func (r *Room) endRoundLocked(reason string) {
	if r.round != nil {
		r.round.timer.Stop()
		r.round = nil
	}
	r.roundGen++
	r.pool.clear()
	r.broadcast(protocol.Prompts(r.pool.views()))
	r.broadcast(protocol.RoundEnded(reason))
}

// resolveLocked consumes the winning prompt and hands it to the AI gateway.
// The round singleton and pool are cleared up front, so prompts submitted
// while the reply is pending start a fresh round instead of blocking.
func (r *Room) resolveLocked(winner *prompt, cause string) {
	metrics.RoundsResolved.WithLabelValues(cause).Inc()
	votes := len(winner.voters)
	r.endRoundLocked(protocol.RoundSelected)

	r.appendAndBroadcast(newEvent(models.EventSystem, "",
		fmt.Sprintf("Prompt by %s selected with %d vote(s).", winner.submitterName, votes)))

	// Context must not include the prompt itself; the gateway appends it.
	recent := r.history.recentTurns(r.cfg.ContextTurns)
	r.appendAndBroadcast(newEvent(models.EventUser, winner.submitterName, winner.text))

	r.composing++
	r.broadcast(protocol.Composing(true))
	r.logger.Info().
		Str("cause", cause).
		Str("submitter", winner.submitterName).
		Int("votes", votes).
		Msg("prompt selected")

	go r.generateReply(winner.text, recent)
}

// generateReply runs the gateway call off the lock and applies the result
// once it returns. A failed generation still clears the composing state;
// nothing can stay stuck awaiting a reply.
func (r *Room) generateReply(promptText string, recent []ai.Turn) {
	start := time.Now()
	reply, err := r.gateway.GenerateReply(context.Background(), promptText, recent)
	metrics.AIRequestDuration.Observe(time.Since(start).Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.composing--
	if r.composing == 0 {
		r.broadcast(protocol.Composing(false))
	}

	if err != nil {
		metrics.AIFailures.Inc()
		r.logger.Warn().Err(err).Msg("ai reply failed")
		r.appendAndBroadcast(newEvent(models.EventSystem, "",
			"The assistant could not answer the selected prompt."))
		return
	}

	ev := newEvent(models.EventAI, "assistant", reply.Text)
	ev.TokenCost = reply.TokenCost
	r.appendAndBroadcast(ev)
}

// sweepStale force-resolves the highest-voted prompt that aged past the
// staleness threshold without reaching quorum. This is a starvation guard:
// it may override a live countdown.
func (r *Room) sweepStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	stale := r.pool.staleLeader(time.Now().Add(-r.cfg.StaleAfter))
	if stale == nil {
		return
	}
	r.logger.Info().Str("prompt", stale.id).Msg("stale prompt force-resolved")
	r.resolveLocked(stale, "sweep")
}

// ProposeClear opens a clear-chat vote.
func (r *Room) ProposeClear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	r.touchLocked(p)

	if r.clear != nil {
		p.session.Send(protocol.ClearRejected(protocol.CodeVotePending, "a clear vote is already in progress"))
		return
	}
	count := r.registry.count()
	if count < 2 {
		p.session.Send(protocol.ClearRejected(protocol.CodeTooFewPresent,
			"clearing the chat needs at least 2 participants"))
		return
	}

	r.clearGen++
	gen := r.clearGen
	cv := newClearVote(p)
	cv.timer = time.AfterFunc(r.cfg.ClearVoteWindow, func() { r.clearExpired(gen) })
	r.clear = cv

	r.broadcast(protocol.ClearProposed(p.name, count))
	r.logger.Info().Str("proposer", p.name).Int("eligible", count).Msg("clear vote proposed")
}

// CastClearVote records a yes/no vote. Re-voting moves the participant
// between sets; both thresholds are re-evaluated immediately.
func (r *Room) CastClearVote(sessionID, choice string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := r.registry.get(sessionID)
	if p == nil {
		return
	}
	r.touchLocked(p)

	if r.clear == nil {
		p.session.Send(protocol.ClearRejected(protocol.CodeNoSession, "no clear vote is in progress"))
		return
	}

	r.clear.cast(p.id, choice)
	count := r.registry.count()
	yes, no := r.clear.tallies()
	r.broadcast(protocol.ClearTally(yes, no, count))

	if outcome, done := r.clear.outcome(count); done {
		if outcome == protocol.ClearApproved {
			r.executeClearLocked()
		} else {
			r.resolveClearLocked(outcome)
		}
	}
}

// clearExpired resolves a clear vote that reached its timeout undecided.
func (r *Room) clearExpired(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.clear == nil || r.clearGen != gen {
		return
	}
	r.resolveClearLocked(protocol.ClearTimedOut)
}

// executeClearLocked wipes the conversation log and the prompt pool
// together, then ends the vote session as approved.
func (r *Room) executeClearLocked() {
	r.history.clear()
	if r.round != nil || r.pool.len() > 0 {
		r.endRoundLocked(protocol.RoundCleared)
	}

	r.broadcast(protocol.ChatCleared())
	r.appendAndBroadcast(newEvent(models.EventSystem, "", "Chat cleared by community vote."))
	r.resolveClearLocked(protocol.ClearApproved)
	r.logger.Info().Msg("chat cleared by community vote")
}

// resolveClearLocked cancels the clear-vote timer and nulls the singleton in
// the same step, then announces the outcome.
func (r *Room) resolveClearLocked(outcome string) {
	if r.clear == nil {
		return
	}
	r.clear.timer.Stop()
	r.clear = nil
	r.clearGen++
	metrics.ClearVotesResolved.WithLabelValues(outcome).Inc()
	r.broadcast(protocol.ClearResolved(outcome))
	r.logger.Info().Str("outcome", outcome).Msg("clear vote resolved")
}

// truncateRunes trims the text and caps it at max runes.
func truncateRunes(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > max {
		text = strings.TrimSpace(string(runes[:max]))
	}
	return text
}
