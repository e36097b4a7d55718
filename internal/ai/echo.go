package ai

import "context"

// EchoGateway is the development fallback used when no API key is
// configured. It parrots the prompt back so the full voting flow can be
// exercised without a backend.
type EchoGateway struct{}

// GenerateReply implements Gateway.
func (EchoGateway) GenerateReply(_ context.Context, prompt string, _ []Turn) (*Reply, error) {
	return &Reply{Text: "(echo) " + prompt}, nil
}
