package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// systemPrompt frames replies for a shared room rather than a 1:1 chat.
const systemPrompt = "You are the shared assistant of a public chat room. " +
	"The prompt you receive was selected by a community vote, so answer for " +
	"the whole room, not for one person. Be concise."

// OpenAIGateway talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, vLLM, Ollama, llama.cpp, ...).
type OpenAIGateway struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOpenAIGateway creates a gateway for the given endpoint. timeout bounds
// each generation request end to end.
func NewOpenAIGateway(baseURL, apiKey, model string, timeout time.Duration, logger zerolog.Logger) *OpenAIGateway {
	return &OpenAIGateway{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateReply implements Gateway.
func (g *OpenAIGateway) GenerateReply(ctx context.Context, prompt string, recent []Turn) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := make([]chatMessage, 0, len(recent)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, turn := range recent {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: g.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("completion request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// Bound the response read; completion payloads are small.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn().Int("status", resp.StatusCode).Msg("completion endpoint returned error")
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	g.logger.Debug().
		Dur("elapsed", time.Since(start)).
		Int("tokens", parsed.Usage.TotalTokens).
		Msg("completion generated")

	return &Reply{Text: text, TokenCost: parsed.Usage.TotalTokens}, nil
}
