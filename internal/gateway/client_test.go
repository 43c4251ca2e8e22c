package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// fakeGateway runs a websocket server speaking the gateway protocol.
type fakeGateway struct {
	t         *testing.T
	srv       *httptest.Server
	challenge string // non-empty: send connect.challenge (protocol v2)

	mu          sync.Mutex
	conn        *websocket.Conn
	connectReqs []map[string]any

	// handle is invoked for every non-connect request frame.
	handle func(gw *fakeGateway, conn *websocket.Conn, id, method string, params json.RawMessage)
}

func newFakeGateway(t *testing.T, challenge string,
	handle func(gw *fakeGateway, conn *websocket.Conn, id, method string, params json.RawMessage)) *fakeGateway {
	gw := &fakeGateway{t: t, challenge: challenge, handle: handle}
	gw.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "connect.sid", Value: "s-abc"})
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.mu.Lock()
		gw.conn = conn
		gw.mu.Unlock()
		gw.pump(conn)
	}))
	t.Cleanup(gw.srv.Close)
	return gw
}

func (gw *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(gw.srv.URL, "http")
}

func (gw *fakeGateway) send(conn *websocket.Conn, v any) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		gw.t.Logf("fake gateway write failed: %v", err)
	}
}

func (gw *fakeGateway) pump(conn *websocket.Conn) {
	if gw.challenge != "" {
		gw.send(conn, map[string]any{
			"type":    "event",
			"event":   "connect.challenge",
			"payload": map[string]any{"nonce": gw.challenge},
		})
	}

	for {
		var req struct {
			Type   string          `json:"type"`
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method == "connect" {
			var params map[string]any
			json.Unmarshal(req.Params, &params)
			gw.mu.Lock()
			gw.connectReqs = append(gw.connectReqs, params)
			gw.mu.Unlock()
			gw.send(conn, map[string]any{
				"type": "res", "id": req.ID, "ok": true,
				"payload": map[string]any{
					"server":  map[string]any{"version": "9.9-test"},
					"methods": []string{"chat.send", "agents.list"},
				},
			})
			continue
		}
		if gw.handle != nil {
			gw.handle(gw, conn, req.ID, req.Method, req.Params)
		}
	}
}

func testIdentity(t *testing.T) *DeviceIdentity {
	t.Helper()
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	return id
}

func TestConnectV1(t *testing.T) {
	gw := newFakeGateway(t, "", nil)
	c := NewClient(Config{Name: "g", URL: gw.url(), Token: "tok"}, testIdentity(t))
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !c.Connected() {
		t.Fatal("client not marked connected")
	}
	hello := c.Hello()
	if hello == nil || hello.Server.Version != "9.9-test" {
		t.Errorf("hello payload not retained: %+v", hello)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.connectReqs) != 1 {
		t.Fatalf("expected 1 connect request, got %d", len(gw.connectReqs))
	}
	device := gw.connectReqs[0]["device"].(map[string]any)
	if device["nonce"] != "" {
		t.Errorf("v1 connect must carry an empty nonce, got %v", device["nonce"])
	}
}

func TestConnectV2SignatureVerifies(t *testing.T) {
	const nonce = "nonce-123"
	gw := newFakeGateway(t, nonce, nil)
	identity := testIdentity(t)
	c := NewClient(Config{Name: "g", URL: gw.url(), Token: "secret-token"}, identity)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	gw.mu.Lock()
	device := gw.connectReqs[0]["device"].(map[string]any)
	gw.mu.Unlock()

	if device["id"] != identity.DeviceID {
		t.Errorf("device id mismatch: %v", device["id"])
	}

	pub, err := base64.RawURLEncoding.DecodeString(device["publicKey"].(string))
	if err != nil {
		t.Fatalf("public key not base64url: %v", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(device["signature"].(string))
	if err != nil {
		t.Fatalf("signature not base64url: %v", err)
	}
	signedAt := int64(device["signedAt"].(float64))

	payload := strings.Join([]string{
		"v2",
		identity.DeviceID,
		ClientID,
		ClientMode,
		"operator",
		strings.Join(defaultScopes, ","),
		strconv.FormatInt(signedAt, 10),
		"secret-token",
		nonce,
	}, "|")

	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(payload), sig) {
		t.Error("handshake signature does not verify")
	}
	if device["nonce"] != nonce {
		t.Errorf("nonce not echoed: %v", device["nonce"])
	}
}

func TestConnectCoalesces(t *testing.T) {
	gw := newFakeGateway(t, "", nil)
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("connect %d failed: %v", i, err)
		}
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.connectReqs) != 1 {
		t.Errorf("concurrent connects must coalesce, got %d handshakes", len(gw.connectReqs))
	}
}

func TestCallErrorFrame(t *testing.T) {
	gw := newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, _ json.RawMessage) {
		gw.send(conn, map[string]any{
			"type": "res", "id": id, "ok": false,
			"error": map[string]any{"code": "E_DENIED", "message": "not allowed"},
		})
	})
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.Call(context.Background(), "sessions.list", nil, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "E_DENIED: not allowed" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCallTimeoutRemovesPending(t *testing.T) {
	gw := newFakeGateway(t, "", func(*fakeGateway, *websocket.Conn, string, string, json.RawMessage) {
		// Never answer.
	})
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.Call(context.Background(), "health", nil, 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout, got %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) != 0 {
		t.Errorf("pending entry leaked after timeout: %d", len(c.pending))
	}
}

// chatGateway answers chat.send with sequential run ids and lets the test
// finish runs out of order.
func chatGateway(t *testing.T) (*fakeGateway, func(runID, text string)) {
	var counter int
	var mu sync.Mutex
	sessions := map[string]string{} // runID -> sessionKey

	gw := newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, params json.RawMessage) {
		if method != "chat.send" {
			gw.send(conn, map[string]any{"type": "res", "id": id, "ok": true})
			return
		}
		var p struct {
			SessionKey     string `json:"sessionKey"`
			IdempotencyKey string `json:"idempotencyKey"`
			Deliver        bool   `json:"deliver"`
		}
		json.Unmarshal(params, &p)
		if p.IdempotencyKey == "" {
			t.Error("chat.send missing idempotencyKey")
		}
		if p.Deliver {
			t.Error("chat.send must set deliver=false")
		}
		mu.Lock()
		counter++
		runID := fmt.Sprintf("run-%d", counter)
		sessions[runID] = p.SessionKey
		mu.Unlock()
		gw.send(conn, map[string]any{"type": "res", "id": id, "ok": true, "payload": map[string]any{"runId": runID}})
	})

	finish := func(runID, text string) {
		gw.mu.Lock()
		conn := gw.conn
		gw.mu.Unlock()
		// Streaming progress first; it must be ignored.
		gw.send(conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{"runId": runID, "state": "delta"},
		})
		gw.send(conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{
				"runId": runID,
				"state": "final",
				"message": map[string]any{
					"content": []map[string]any{{"type": "text", "text": text}},
				},
			},
		})
	}
	return gw, finish
}

func TestConcurrentChatsCorrelateByRunID(t *testing.T) {
	gw, finish := chatGateway(t)
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	type out struct {
		text string
		err  error
	}
	results := make([]chan out, 2)
	for i := range results {
		results[i] = make(chan out, 1)
		session := fmt.Sprintf("session-%d", i+1)
		go func(ch chan out) {
			text, err := c.Chat(context.Background(), "hello", ChatOptions{SessionKey: session, Timeout: 2 * time.Second})
			ch <- out{text, err}
		}(results[i])
	}

	// Wait for both runs to register, then resolve them in reverse order.
	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		n := len(c.pendingChats)
		c.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("chats never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	finish("run-2", "answer two")
	finish("run-1", "answer one")

	first := <-results[0]
	second := <-results[1]
	if first.err != nil || second.err != nil {
		t.Fatalf("chat errors: %v %v", first.err, second.err)
	}
	got := map[string]bool{first.text: true, second.text: true}
	if !got["answer one"] || !got["answer two"] {
		t.Errorf("cross-resolved chats: %q, %q", first.text, second.text)
	}
}

func TestChatErrorEvent(t *testing.T) {
	gw := newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, _ json.RawMessage) {
		gw.send(conn, map[string]any{"type": "res", "id": id, "ok": true, "payload": map[string]any{"runId": "r1"}})
		gw.send(conn, map[string]any{
			"type": "event", "event": "chat",
			"payload": map[string]any{
				"runId": "r1", "state": "error",
				"error": map[string]any{"code": "E_MODEL", "message": "model fell over"},
			},
		})
	})
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.Chat(context.Background(), "hi", ChatOptions{SessionKey: "s", Timeout: time.Second})
	if err == nil || !strings.Contains(err.Error(), "model fell over") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCloseRejectsAllPending(t *testing.T) {
	gw := newFakeGateway(t, "", func(gw *fakeGateway, conn *websocket.Conn, id, method string, _ json.RawMessage) {
		if method == "chat.send" {
			gw.send(conn, map[string]any{"type": "res", "id": id, "ok": true, "payload": map[string]any{"runId": "r1"}})
		}
		// health: never answered
	})
	c := NewClient(Config{Name: "g", URL: gw.url()}, testIdentity(t))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	callErr := make(chan error, 1)
	chatErr := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "health", nil, 10*time.Second)
		callErr <- err
	}()
	go func() {
		_, err := c.Chat(context.Background(), "hi", ChatOptions{SessionKey: "s", Timeout: 10 * time.Second})
		chatErr <- err
	}()

	deadline := time.Now().Add(time.Second)
	for {
		c.mu.Lock()
		ok := len(c.pending) >= 1 && len(c.pendingChats) >= 1
		c.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pending entries never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	gw.mu.Lock()
	gw.conn.Close()
	gw.mu.Unlock()

	for name, ch := range map[string]chan error{"call": callErr, "chat": chatErr} {
		select {
		case err := <-ch:
			if err == nil || !strings.Contains(err.Error(), "Connection closed (code=") {
				t.Errorf("%s: unexpected rejection: %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s not rejected on close", name)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) != 0 || len(c.pendingChats) != 0 {
		t.Error("pending tables not emptied on close")
	}
}
