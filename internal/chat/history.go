package chat

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ai"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/models"
)

// history is the bounded conversation log. Append-only; once the cap is
// exceeded the oldest events are dropped (FIFO, not LRU).
type history struct {
	cap    int
	events []models.Event
}

func newHistory(cap int) *history {
	return &history{cap: cap}
}

func newEvent(kind models.EventKind, author, body string) models.Event {
	return models.Event{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Author:    author,
		Body:      body,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (h *history) append(e models.Event) {
	h.events = append(h.events, e)
	if excess := len(h.events) - h.cap; excess > 0 {
		h.events = append(h.events[:0:0], h.events[excess:]...)
	}
}

// all returns a copy of the full ordered sequence. Used only for the
// join-time snapshot; never paginated.
func (h *history) all() []models.Event {
	out := make([]models.Event, len(h.events))
	copy(out, h.events)
	return out
}

func (h *history) clear() {
	h.events = nil
}

func (h *history) len() int {
	return len(h.events)
}

// recentTurns returns the last n non-system events as completion context,
// oldest first.
func (h *history) recentTurns(n int) []ai.Turn {
	turns := make([]ai.Turn, 0, n)
	for i := len(h.events) - 1; i >= 0 && len(turns) < n; i-- {
		var role string
		switch h.events[i].Kind {
		case models.EventUser:
			role = "user"
		case models.EventAI:
			role = "assistant"
		default:
			continue
		}
		turns = append(turns, ai.Turn{Role: role, Content: h.events[i].Body})
	}
	// Collected newest-first; flip to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
