package gateway

import (
	"context"
	"encoding/json"
	"time"

	"clawflow/internal/logging"
)

// AgentInfo describes one agent hosted on a gateway, enriched with its
// SOUL.md when available.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Soul *Soul  `json:"-"`
}

// ListAgents discovers the agents hosted on the gateway. SOUL.md retrieval is
// best-effort per agent; a failed fetch degrades that agent to id and name
// only. A failed agents.list surfaces to the caller.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	payload, err := c.Call(ctx, "agents.list", nil, DefaultCallTimeout)
	if err != nil {
		return nil, err
	}

	agents, err := normalizeAgentList(payload)
	if err != nil {
		return nil, err
	}

	for i := range agents {
		soul, err := c.fetchSoul(ctx, agents[i].ID)
		if err != nil {
			logging.Debug("agent SOUL.md unavailable",
				"gateway", c.cfg.Name,
				"agent", agents[i].ID,
				"error", err)
			continue
		}
		agents[i].Soul = soul
	}
	return agents, nil
}

// normalizeAgentList accepts both a bare array and an {agents:[...]} wrapper,
// and both string entries and {id,name} objects.
func normalizeAgentList(payload json.RawMessage) ([]AgentInfo, error) {
	var wrapper struct {
		Agents json.RawMessage `json:"agents"`
	}
	raw := payload
	if err := json.Unmarshal(payload, &wrapper); err == nil && wrapper.Agents != nil {
		raw = wrapper.Agents
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &Error{Message: "agents.list response not understood"}
	}

	out := make([]AgentInfo, 0, len(entries))
	for _, e := range entries {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			out = append(out, AgentInfo{ID: s, Name: s})
			continue
		}
		var obj struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(e, &obj); err != nil || obj.ID == "" {
			continue
		}
		if obj.Name == "" {
			obj.Name = obj.ID
		}
		out = append(out, AgentInfo{ID: obj.ID, Name: obj.Name})
	}
	return out, nil
}

// fetchSoul retrieves and parses one agent's SOUL.md.
func (c *Client) fetchSoul(ctx context.Context, agentID string) (*Soul, error) {
	payload, err := c.Call(ctx, "agents.files.get", map[string]any{
		"agentId": agentID,
		"name":    "SOUL.md",
	}, DefaultCallTimeout)
	if err != nil {
		return nil, err
	}

	var file struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(payload, &file); err != nil || file.Content == "" {
		// Some gateways return the file body directly as a JSON string.
		var direct string
		if err := json.Unmarshal(payload, &direct); err != nil || direct == "" {
			return nil, &Error{Message: "SOUL.md response carried no content"}
		}
		file.Content = direct
	}

	soul := ParseSoul(file.Content)
	return &soul, nil
}

// ListModels calls models.list and returns the raw payload for the dashboard.
func (c *Client) ListModels(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "models.list", nil, DefaultCallTimeout)
}

// ListSessions calls sessions.list and returns the raw payload.
func (c *Client) ListSessions(ctx context.Context) (json.RawMessage, error) {
	return c.Call(ctx, "sessions.list", nil, DefaultCallTimeout)
}

// HealthCheck calls the gateway health method.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Call(ctx, "health", nil, 10*time.Second)
	return err
}
