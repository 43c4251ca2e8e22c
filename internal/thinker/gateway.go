package thinker

import (
	"context"
	"time"

	"clawflow/internal/gateway"

	"github.com/google/uuid"
)

// Gateway drives the think step through a gateway chat session. Each Gateway
// instance keeps its own session key so that one run's reasoning stays in one
// conversation at the gateway.
type Gateway struct {
	client     *gateway.Client
	sessionKey string
	timeout    time.Duration
}

// NewGateway creates a gateway-backed thinker on a fresh session.
func NewGateway(client *gateway.Client) *Gateway {
	return &Gateway{
		client:     client,
		sessionKey: "clawflow-think-" + uuid.NewString()[:8],
		timeout:    gateway.DefaultChatTimeout,
	}
}

// Think sends the orchestration prompt as a chat and returns the final text.
func (g *Gateway) Think(ctx context.Context, prompt string) (string, error) {
	return g.client.Chat(ctx, prompt, gateway.ChatOptions{
		SessionKey: g.sessionKey,
		Timeout:    g.timeout,
	})
}
