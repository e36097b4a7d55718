package models

// EventKind identifies who produced a conversation event.
type EventKind string

const (
	EventUser   EventKind = "user"
	EventAI     EventKind = "ai"
	EventSystem EventKind = "system"
)

// Event represents a single entry in the conversation log.
type Event struct {
	ID        string    `json:"id"` // ULID
	Kind      EventKind `json:"kind"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	TokenCost int       `json:"token_cost,omitempty"`
	Timestamp int64     `json:"ts"` // Unix ms
}
