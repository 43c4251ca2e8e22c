package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discoveryGateway(t *testing.T, souls map[string]string) *fakeGateway {
	return newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, params json.RawMessage) {
		switch method {
		case "agents.list":
			gw.send(conn, map[string]any{
				"type": "res", "id": id, "ok": true,
				"payload": map[string]any{"agents": []map[string]any{
					{"id": "atlas", "name": "Atlas"},
					{"id": "forge", "name": "Forge"},
				}},
			})
		case "agents.files.get":
			var p struct {
				AgentID string `json:"agentId"`
				Name    string `json:"name"`
			}
			json.Unmarshal(params, &p)
			if p.Name != "SOUL.md" {
				t.Errorf("unexpected file requested: %s", p.Name)
			}
			content, ok := souls[p.AgentID]
			if !ok {
				gw.send(conn, map[string]any{
					"type": "res", "id": id, "ok": false,
					"error": map[string]any{"code": "E_NOT_FOUND", "message": "no such file"},
				})
				return
			}
			gw.send(conn, map[string]any{
				"type": "res", "id": id, "ok": true,
				"payload": map[string]any{"content": content},
			})
		}
	})
}

func TestListAgentsWithSouls(t *testing.T) {
	gw := discoveryGateway(t, map[string]string{
		"atlas": "# Atlas\n\nDigs through sources.\n\n## What You're Good At\n\n- research\n",
	})
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("discovery failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}

	atlas := agents[0]
	if atlas.ID != "atlas" || atlas.Name != "Atlas" {
		t.Errorf("unexpected agent: %+v", atlas)
	}
	if atlas.Soul == nil || atlas.Soul.Description != "Digs through sources." {
		t.Errorf("soul not parsed: %+v", atlas.Soul)
	}

	// forge has no SOUL.md: degrades to id and name only.
	forge := agents[1]
	if forge.Soul != nil {
		t.Errorf("missing soul should degrade, got %+v", forge.Soul)
	}
}

func TestGatewayAdapterUsesSoul(t *testing.T) {
	soul := "# Atlas\n\nDigs.\n\n## What You're Good At\n\n- web research\n"
	var gotMessage, gotSession string
	gw := newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, params json.RawMessage) {
		if method != "chat.send" {
			return
		}
		var p struct {
			Message    string `json:"message"`
			SessionKey string `json:"sessionKey"`
		}
		json.Unmarshal(params, &p)
		gotMessage, gotSession = p.Message, p.SessionKey
		gw.send(conn, map[string]any{"type": "res", "id": id, "ok": true, "payload": map[string]any{"runId": "r"}})
		gw.send(conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{
				"runId": "r", "state": "final",
				"message": map[string]any{"content": []map[string]any{{"type": "text", "text": "done"}}},
			},
		})
	})

	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	parsed := ParseSoul(soul)
	adapter := NewAdapter(c, AgentInfo{ID: "atlas", Name: "Atlas", Soul: &parsed})

	if adapter.Name() != "Atlas" || adapter.Type() != "gateway" {
		t.Errorf("adapter identity wrong: %s/%s", adapter.Name(), adapter.Type())
	}
	if caps := adapter.Capabilities(); len(caps) != 1 || caps[0] != "web-research" {
		t.Errorf("capabilities not carried: %v", caps)
	}

	adapter.chatTimeout = 2 * time.Second
	result, err := adapter.Execute(context.Background(), "find it")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Output != "done" {
		t.Errorf("unexpected output: %q", result.Output)
	}
	if gotMessage != soul+"\n\nfind it" {
		t.Errorf("role prompt not prepended: %q", gotMessage)
	}
	if gotSession == "" {
		t.Error("session key missing")
	}
}
