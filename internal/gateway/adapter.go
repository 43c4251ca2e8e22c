package gateway

import (
	"context"
	"fmt"
	"time"

	"clawflow/internal/agent"

	"github.com/google/uuid"
)

// Adapter exposes one gateway-hosted agent as an agent.Adapter. Tasks run as
// chats on a per-adapter session; the agent's role prompt is prepended to
// every task.
type Adapter struct {
	client       *Client
	agentID      string
	name         string
	description  string
	capabilities []string
	rolePrompt   string
	sessionKey   string
	chatTimeout  time.Duration
}

// NewAdapter wraps a gateway agent as an executor. info normally comes from
// ListAgents so that the SOUL.md description, capabilities, and role prompt
// carry over.
func NewAdapter(client *Client, info AgentInfo) *Adapter {
	a := &Adapter{
		client:      client,
		agentID:     info.ID,
		name:        info.Name,
		sessionKey:  fmt.Sprintf("clawflow-%s-%s", info.ID, uuid.NewString()[:8]),
		chatTimeout: DefaultChatTimeout,
	}
	if info.Soul != nil {
		a.description = info.Soul.Description
		a.capabilities = info.Soul.Capabilities
		a.rolePrompt = info.Soul.RolePrompt
	}
	return a
}

func (a *Adapter) Name() string           { return a.name }
func (a *Adapter) Type() string           { return "gateway" }
func (a *Adapter) Description() string    { return a.description }
func (a *Adapter) Capabilities() []string { return a.capabilities }

// Execute runs the task as a gateway chat. Gateway failures become error
// results so that one unreachable agent never aborts its step.
func (a *Adapter) Execute(ctx context.Context, task string) (agent.TaskResult, error) {
	start := time.Now()

	prompt := task
	if a.rolePrompt != "" {
		prompt = a.rolePrompt + "\n\n" + task
	}

	text, err := a.client.Chat(ctx, prompt, ChatOptions{
		SessionKey: a.sessionKey,
		AgentID:    a.agentID,
		Timeout:    a.chatTimeout,
	})

	meta := map[string]any{
		"durationMs": time.Since(start).Milliseconds(),
		"gateway":    a.client.Name(),
		"sessionKey": a.sessionKey,
	}
	if err != nil {
		return agent.TaskResult{Status: agent.ResultError, Output: err.Error(), Metadata: meta}, nil
	}
	return agent.TaskResult{Status: agent.ResultOK, Output: text, Metadata: meta}, nil
}

// HealthCheck probes the gateway connection behind the adapter.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if !a.client.Connected() {
		return &Error{Message: "gateway not connected"}
	}
	return a.client.HealthCheck(ctx)
}
