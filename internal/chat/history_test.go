package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/models"
)

func TestHistory_NeverExceedsCapAndEvictsOldest(t *testing.T) {
	h := newHistory(5)
	for i := 0; i < 8; i++ {
		h.append(newEvent(models.EventUser, "u", fmt.Sprintf("msg-%d", i)))
	}

	events := h.all()
	require.Len(t, events, 5)
	// Strictly the oldest end was dropped; the remainder keeps FIFO order.
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+3), e.Body)
	}
}

func TestHistory_ClearEmptiesAtomically(t *testing.T) {
	h := newHistory(10)
	h.append(newEvent(models.EventUser, "u", "one"))
	h.append(newEvent(models.EventAI, "assistant", "two"))
	require.Equal(t, 2, h.len())

	h.clear()
	assert.Equal(t, 0, h.len())
	assert.Empty(t, h.all())
}

func TestHistory_AllReturnsCopy(t *testing.T) {
	h := newHistory(10)
	h.append(newEvent(models.EventUser, "u", "original"))

	snapshot := h.all()
	snapshot[0].Body = "mutated"
	assert.Equal(t, "original", h.all()[0].Body)
}

func TestHistory_RecentTurnsSkipsSystemEvents(t *testing.T) {
	h := newHistory(50)
	h.append(newEvent(models.EventSystem, "", "somebody joined"))
	h.append(newEvent(models.EventUser, "alice", "question one"))
	h.append(newEvent(models.EventAI, "assistant", "answer one"))
	h.append(newEvent(models.EventSystem, "", "somebody left"))
	h.append(newEvent(models.EventUser, "bob", "question two"))

	turns := h.recentTurns(8)
	require.Len(t, turns, 3)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "question one", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "question two", turns[2].Content)
}

func TestHistory_RecentTurnsBounded(t *testing.T) {
	h := newHistory(50)
	for i := 0; i < 20; i++ {
		h.append(newEvent(models.EventUser, "u", fmt.Sprintf("q%d", i)))
	}

	turns := h.recentTurns(8)
	require.Len(t, turns, 8)
	assert.Equal(t, "q12", turns[0].Content)
	assert.Equal(t, "q19", turns[7].Content)
}

func TestNewEvent_IDsAreUniqueAndSortable(t *testing.T) {
	a := newEvent(models.EventUser, "u", "first")
	b := newEvent(models.EventUser, "u", "second")
	assert.NotEqual(t, a.ID, b.ID)
	assert.LessOrEqual(t, a.ID, b.ID)
}
