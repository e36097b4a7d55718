package chat

import (
	"strings"
	"time"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/models"
)

// Prompt selection quorum: a prompt resolves early once it holds votes from
// at least half the connected participants, rounded up. The fraction is a
// product policy knob, not a derived invariant; earlier iterations of this
// protocol used 60% and a flat floor of 2.
const (
	quorumNumerator   = 1
	quorumDenominator = 2
)

// requiredVotes computes the early-resolution quorum for the given number
// of connected participants: ceil(connected * 1/2).
func requiredVotes(connected int) int {
	if connected < 1 {
		return 1
	}
	return (connected*quorumNumerator + quorumDenominator - 1) / quorumDenominator
}

// normalizePromptText lowercases and collapses whitespace so near-identical
// submissions are treated as duplicates.
func normalizePromptText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// prompt is a live candidate in the pool. Its voter set is owned by the
// voting engine; nothing outside this package mutates it.
type prompt struct {
	id            string
	text          string
	normalized    string
	submitterID   string
	submitterName string
	voters        map[string]struct{}
	submittedAt   time.Time
}

func (p *prompt) view() models.Prompt {
	return models.Prompt{
		ID:            p.id,
		Text:          p.text,
		SubmitterID:   p.submitterID,
		SubmitterName: p.submitterName,
		Votes:         len(p.voters),
		SubmittedAt:   p.submittedAt.UnixMilli(),
	}
}

// promptPool holds live prompts in submission order. Capped; the oldest
// prompt is evicted when a new submission would exceed the cap.
type promptPool struct {
	cap     int
	prompts []*prompt
}

func newPromptPool(cap int) *promptPool {
	return &promptPool{cap: cap}
}

// add appends a prompt, evicting and returning the oldest one if the pool
// would exceed its cap.
func (pool *promptPool) add(p *prompt) *prompt {
	var evicted *prompt
	if len(pool.prompts) >= pool.cap {
		evicted = pool.prompts[0]
		pool.prompts = append(pool.prompts[:0:0], pool.prompts[1:]...)
	}
	pool.prompts = append(pool.prompts, p)
	return evicted
}

func (pool *promptPool) byID(id string) *prompt {
	for _, p := range pool.prompts {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (pool *promptPool) bySubmitter(participantID string) *prompt {
	for _, p := range pool.prompts {
		if p.submitterID == participantID {
			return p
		}
	}
	return nil
}

func (pool *promptPool) hasNormalized(normalized string) bool {
	for _, p := range pool.prompts {
		if p.normalized == normalized {
			return true
		}
	}
	return false
}

// removeSubmitter releases a participant's prompt slot, returning the
// removed prompt if one existed.
func (pool *promptPool) removeSubmitter(participantID string) *prompt {
	for i, p := range pool.prompts {
		if p.submitterID == participantID {
			pool.prompts = append(pool.prompts[:i:i], pool.prompts[i+1:]...)
			return p
		}
	}
	return nil
}

// stripVoter removes a participant's votes from every live prompt.
func (pool *promptPool) stripVoter(participantID string) {
	for _, p := range pool.prompts {
		delete(p.voters, participantID)
	}
}

// leader returns the prompt with the most votes. Ties break toward the
// earliest submission (stable insertion order). Nil when the pool is empty.
func (pool *promptPool) leader() *prompt {
	var best *prompt
	for _, p := range pool.prompts {
		if best == nil || len(p.voters) > len(best.voters) {
			best = p
		}
	}
	return best
}

// staleLeader returns the highest-voted prompt submitted before cutoff that
// has at least one vote, earliest submission winning ties. Nil when no
// prompt qualifies.
func (pool *promptPool) staleLeader(cutoff time.Time) *prompt {
	var best *prompt
	for _, p := range pool.prompts {
		if len(p.voters) == 0 || !p.submittedAt.Before(cutoff) {
			continue
		}
		if best == nil || len(p.voters) > len(best.voters) {
			best = p
		}
	}
	return best
}

func (pool *promptPool) views() []models.Prompt {
	out := make([]models.Prompt, len(pool.prompts))
	for i, p := range pool.prompts {
		out[i] = p.view()
	}
	return out
}

func (pool *promptPool) clear() {
	pool.prompts = nil
}

func (pool *promptPool) len() int {
	return len(pool.prompts)
}

// votingRound is the singleton timed voting cycle. At most one exists at a
// time; the Room owns its lifecycle and cancels its timer on every
// resolution path.
type votingRound struct {
	startedAt time.Time
	endsAt    time.Time
	timer     *time.Timer
}
