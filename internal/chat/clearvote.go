package chat

import (
	"time"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/protocol"
)

// Clear-chat thresholds, evaluated as percentages of the *currently*
// connected participant count. The denominator shifts as people join or
// leave mid-vote.
const (
	clearApprovePercent = 70
	clearRejectPercent  = 40
)

// clearVote is the singleton clear-chat consensus session. A participant's
// vote is mutually exclusive: voting again moves them between sets.
type clearVote struct {
	proposerID   string
	proposerName string
	yes          map[string]struct{}
	no           map[string]struct{}
	startedAt    time.Time
	timer        *time.Timer
}

func newClearVote(proposer *participant) *clearVote {
	return &clearVote{
		proposerID:   proposer.id,
		proposerName: proposer.name,
		yes:          make(map[string]struct{}),
		no:           make(map[string]struct{}),
		startedAt:    time.Now(),
	}
}

// cast records a vote, overwriting any prior choice by the same participant.
func (cv *clearVote) cast(participantID, choice string) {
	delete(cv.yes, participantID)
	delete(cv.no, participantID)
	if choice == protocol.ChoiceYes {
		cv.yes[participantID] = struct{}{}
	} else {
		cv.no[participantID] = struct{}{}
	}
}

// strip removes a departing participant's vote from both sets.
func (cv *clearVote) strip(participantID string) {
	delete(cv.yes, participantID)
	delete(cv.no, participantID)
}

func (cv *clearVote) tallies() (yes, no int) {
	return len(cv.yes), len(cv.no)
}

// outcome evaluates the thresholds against the current connected count.
// Returns ("", false) while the vote is still undecided. Approval is
// checked first so a simultaneous crossing favors the yes side.
func (cv *clearVote) outcome(connected int) (string, bool) {
	if connected == 0 {
		return protocol.ClearCancelled, true
	}
	yes, no := cv.tallies()
	if yes*100 >= clearApprovePercent*connected {
		return protocol.ClearApproved, true
	}
	if no*100 >= clearRejectPercent*connected || yes+no >= connected {
		return protocol.ClearRejectedO, true
	}
	return "", false
}
