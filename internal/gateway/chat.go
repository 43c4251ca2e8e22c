package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clawflow/internal/logging"

	"github.com/google/uuid"
)

// ChatOptions configure one chat invocation.
type ChatOptions struct {
	// SessionKey groups related chats at the gateway. Required.
	SessionKey string

	// AgentID is accepted for symmetry with the dashboard surface but is not
	// transmitted; gateways route by session key.
	AgentID string

	// Timeout bounds the wait for the final event (default 120s).
	Timeout time.Duration
}

// chatEventPayload is the shape of inbound `chat` events.
type chatEventPayload struct {
	RunID   string          `json:"runId"`
	State   string          `json:"state"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// Chat sends a message through chat.send and waits for the asynchronous
// stream keyed by the returned runId to reach its final state. Any number of
// chats may be in flight concurrently; correlation is solely by runId.
func (c *Client) Chat(ctx context.Context, message string, opts ChatOptions) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultChatTimeout
	}

	payload, err := c.Call(ctx, "chat.send", map[string]any{
		"message":        message,
		"sessionKey":     opts.SessionKey,
		"idempotencyKey": uuid.NewString(),
		"deliver":        false,
	}, DefaultCallTimeout)
	if err != nil {
		return "", err
	}

	var sent struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(payload, &sent); err != nil || sent.RunID == "" {
		return "", &Error{Message: "chat.send response carried no runId"}
	}

	pch := &pendingChat{ch: make(chan chatResult, 1)}
	pch.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		_, ok := c.pendingChats[sent.RunID]
		if ok {
			delete(c.pendingChats, sent.RunID)
		}
		c.mu.Unlock()
		if ok {
			pch.ch <- chatResult{err: &Error{Message: fmt.Sprintf("chat timed out after %s", timeout)}}
		}
	})

	c.mu.Lock()
	c.pendingChats[sent.RunID] = pch
	c.mu.Unlock()

	select {
	case res := <-pch.ch:
		pch.timer.Stop()
		return res.text, res.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingChats, sent.RunID)
		c.mu.Unlock()
		pch.timer.Stop()
		return "", ctx.Err()
	}
}

// dispatchChatEvent routes an inbound chat event to the pending chat with the
// matching runId. Streaming progress states are ignored; final and error are
// terminal.
func (c *Client) dispatchChatEvent(raw json.RawMessage) {
	var p chatEventPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RunID == "" {
		return
	}

	switch p.State {
	case "final":
	case "error":
	default:
		return
	}

	c.mu.Lock()
	pch, ok := c.pendingChats[p.RunID]
	if ok {
		delete(c.pendingChats, p.RunID)
	}
	c.mu.Unlock()
	if !ok {
		logging.Debug("chat event for unknown run", "gateway", c.cfg.Name, "runId", p.RunID)
		return
	}
	pch.timer.Stop()

	if p.State == "error" {
		e := &Error{Message: "chat failed"}
		if p.Error != nil {
			e = &Error{Code: p.Error.Code, Message: p.Error.Message}
		}
		pch.ch <- chatResult{err: e}
		return
	}

	pch.ch <- chatResult{text: finalText(p.Message)}
}

// finalText concatenates message.content[*].text, falling back to the raw
// JSON of the message when the shape is unexpected.
func finalText(message json.RawMessage) string {
	var m struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(message, &m); err == nil && len(m.Content) > 0 {
		out := ""
		for _, part := range m.Content {
			out += part.Text
		}
		if out != "" {
			return out
		}
	}
	return string(message)
}
