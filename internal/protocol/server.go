package protocol

import "github.com/Reddit-Lies/multi-user-ai-chat/internal/models"

// Server message types.
const (
	ServerJoinAccepted   = "join_accepted"
	ServerJoinRejected   = "join_rejected"
	ServerHistory        = "history"
	ServerPrompts        = "prompts"
	ServerMessageEvent   = "message"
	ServerPromptAdded    = "prompt_added"
	ServerPromptRejected = "prompt_rejected"
	ServerVoteRejected   = "vote_rejected"
	ServerRoundStarted   = "round_started"
	ServerRoundTick      = "round_tick"
	ServerRoundEnded     = "round_ended"
	ServerComposing      = "composing"
	ServerClearProposed  = "clear_proposed"
	ServerClearTally     = "clear_tally"
	ServerClearResolved  = "clear_resolved"
	ServerClearRejected  = "clear_rejected"
	ServerChatCleared    = "chat_cleared"
	ServerParticipants   = "participants"
	ServerDisconnecting  = "disconnecting"
	ServerError          = "error"
)

// Rejection codes carried by prompt_rejected, vote_rejected and
// clear_rejected payloads. Clients key button state off these.
const (
	CodeInvalidName     = "invalid_name"
	CodeNameTaken       = "name_taken"
	CodeEmptyPrompt     = "empty_prompt"
	CodeDuplicatePrompt = "duplicate_prompt"
	CodeSlotTaken       = "prompt_slot_taken"
	CodeNotFound        = "not_found"
	CodeSelfVote        = "self_vote"
	CodeAlreadyVoted    = "already_voted"
	CodeNoSession       = "no_session"
	CodeVotePending     = "vote_pending"
	CodeTooFewPresent   = "too_few_participants"
)

// Round end reasons.
const (
	RoundSelected = "selected"
	RoundNoVotes  = "no_votes"
	RoundCleared  = "cleared"
)

// Clear vote outcomes.
const (
	ClearApproved  = "approved"
	ClearRejectedO = "rejected"
	ClearTimedOut  = "timed_out"
	ClearCancelled = "cancelled"
)

// Disconnect reasons.
const (
	DisconnectIdle = "idle"
)

// ServerMessage is the envelope for every server-to-client frame.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Rejection is the payload for the *_rejected message families.
type Rejection struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// RoundState describes an active voting round.
type RoundState struct {
	EndsAt        int64 `json:"ends_at"` // Unix ms
	RequiredVotes int   `json:"required_votes"`
}

// RoundTickState is the periodic countdown payload.
type RoundTickState struct {
	Remaining     int `json:"remaining"` // seconds
	RequiredVotes int `json:"required_votes"`
}

// RoundEnd reports why a round finished.
type RoundEnd struct {
	Reason string `json:"reason"`
}

// ComposingState signals whether the assistant is generating a reply.
type ComposingState struct {
	Active bool `json:"active"`
}

// ClearProposal announces a new clear-chat vote.
type ClearProposal struct {
	Proposer string `json:"proposer"`
	Eligible int    `json:"eligible"`
}

// ClearTallies carries the running clear-chat vote counts.
type ClearTallies struct {
	Yes      int `json:"yes"`
	No       int `json:"no"`
	Eligible int `json:"eligible"`
}

// ClearOutcome reports how a clear-chat vote resolved.
type ClearOutcome struct {
	Outcome string `json:"outcome"`
}

// ParticipantCount is broadcast whenever membership changes.
type ParticipantCount struct {
	Count int `json:"count"`
}

// DisconnectNotice tells a client why the server is closing its session.
type DisconnectNotice struct {
	Reason string `json:"reason"`
}

func JoinAccepted() ServerMessage {
	return ServerMessage{Type: ServerJoinAccepted}
}

func JoinRejected(code, reason string) ServerMessage {
	return ServerMessage{Type: ServerJoinRejected, Data: Rejection{Code: code, Reason: reason}}
}

func History(events []models.Event) ServerMessage {
	return ServerMessage{Type: ServerHistory, Data: events}
}

func Prompts(prompts []models.Prompt) ServerMessage {
	return ServerMessage{Type: ServerPrompts, Data: prompts}
}

func Message(event models.Event) ServerMessage {
	return ServerMessage{Type: ServerMessageEvent, Data: event}
}

func PromptAdded(prompt models.Prompt) ServerMessage {
	return ServerMessage{Type: ServerPromptAdded, Data: prompt}
}

func PromptRejected(code, reason string) ServerMessage {
	return ServerMessage{Type: ServerPromptRejected, Data: Rejection{Code: code, Reason: reason}}
}

func VoteRejected(code, reason string) ServerMessage {
	return ServerMessage{Type: ServerVoteRejected, Data: Rejection{Code: code, Reason: reason}}
}

func RoundStarted(endsAt int64, requiredVotes int) ServerMessage {
	return ServerMessage{Type: ServerRoundStarted, Data: RoundState{EndsAt: endsAt, RequiredVotes: requiredVotes}}
}

func RoundTick(remaining, requiredVotes int) ServerMessage {
	return ServerMessage{Type: ServerRoundTick, Data: RoundTickState{Remaining: remaining, RequiredVotes: requiredVotes}}
}

func RoundEnded(reason string) ServerMessage {
	return ServerMessage{Type: ServerRoundEnded, Data: RoundEnd{Reason: reason}}
}

func Composing(active bool) ServerMessage {
	return ServerMessage{Type: ServerComposing, Data: ComposingState{Active: active}}
}

func ClearProposed(proposer string, eligible int) ServerMessage {
	return ServerMessage{Type: ServerClearProposed, Data: ClearProposal{Proposer: proposer, Eligible: eligible}}
}

func ClearTally(yes, no, eligible int) ServerMessage {
	return ServerMessage{Type: ServerClearTally, Data: ClearTallies{Yes: yes, No: no, Eligible: eligible}}
}

func ClearResolved(outcome string) ServerMessage {
	return ServerMessage{Type: ServerClearResolved, Data: ClearOutcome{Outcome: outcome}}
}

func ClearRejected(code, reason string) ServerMessage {
	return ServerMessage{Type: ServerClearRejected, Data: Rejection{Code: code, Reason: reason}}
}

func ChatCleared() ServerMessage {
	return ServerMessage{Type: ServerChatCleared}
}

func Participants(count int) ServerMessage {
	return ServerMessage{Type: ServerParticipants, Data: ParticipantCount{Count: count}}
}

func Disconnecting(reason string) ServerMessage {
	return ServerMessage{Type: ServerDisconnecting, Data: DisconnectNotice{Reason: reason}}
}

func Error(reason string) ServerMessage {
	return ServerMessage{Type: ServerError, Data: Rejection{Code: "bad_request", Reason: reason}}
}
