// Package ai abstracts the completion backend used to answer
// community-selected prompts.
package ai

import (
	"context"
	"errors"
)

// Turn is one entry of recent conversation context passed to the backend.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Reply is a generated assistant response.
type Reply struct {
	Text      string
	TokenCost int
}

// ErrUnavailable is returned when the backend could not produce a reply
// (timeout, transport error, bad status). Callers treat it as a recoverable
// external failure, never as fatal.
var ErrUnavailable = errors.New("ai backend unavailable")

// Gateway generates a reply for a selected prompt given recent context.
// Implementations must bound their own latency and must never panic;
// all failures surface as errors.
type Gateway interface {
	GenerateReply(ctx context.Context, prompt string, recent []Turn) (*Reply, error)
}
