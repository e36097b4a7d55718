// Package protocol defines the closed set of messages exchanged over a
// chat WebSocket. Client frames are validated here, at the boundary,
// before they reach the coordination core.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client message types.
const (
	ClientJoin         = "join"
	ClientSubmitPrompt = "submit_prompt"
	ClientVotePrompt   = "vote_prompt"
	ClientProposeClear = "propose_clear"
	ClientClearVote    = "clear_vote"
	ClientPing         = "ping"
)

// Clear vote choices.
const (
	ChoiceYes = "yes"
	ChoiceNo  = "no"
)

// ClientMessage is a decoded client frame. Only the fields relevant to
// Type are populated.
type ClientMessage struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`      // join
	Text     string `json:"text,omitempty"`      // submit_prompt
	PromptID string `json:"prompt_id,omitempty"` // vote_prompt
	Choice   string `json:"choice,omitempty"`    // clear_vote
}

// DecodeClient parses and validates a client frame. Unknown types and
// missing required fields are rejected here so the core only ever sees
// well-formed commands.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch msg.Type {
	case ClientJoin:
		if msg.Name == "" {
			return nil, fmt.Errorf("join requires name")
		}
	case ClientSubmitPrompt:
		if msg.Text == "" {
			return nil, fmt.Errorf("submit_prompt requires text")
		}
	case ClientVotePrompt:
		if msg.PromptID == "" {
			return nil, fmt.Errorf("vote_prompt requires prompt_id")
		}
	case ClientClearVote:
		if msg.Choice != ChoiceYes && msg.Choice != ChoiceNo {
			return nil, fmt.Errorf("clear_vote choice must be yes or no")
		}
	case ClientProposeClear, ClientPing:
		// No payload.
	case "":
		return nil, fmt.Errorf("missing message type")
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return &msg, nil
}
