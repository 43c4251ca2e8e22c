package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"clawflow/internal/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client identification presented during the handshake.
const (
	ClientID   = "openclaw-control-ui"
	ClientMode = "webchat"
	clientRole = "operator"
)

// Default timeouts.
const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultChatTimeout    = 120 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	challengeWait         = 800 * time.Millisecond
)

var defaultScopes = []string{"operator.read", "operator.write"}

// Config identifies one gateway. Each Config pairs with exactly one Client.
type Config struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	URL   string `yaml:"url" json:"url" validate:"required,startswith=ws"`
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

// pendingCall is an in-flight request awaiting its response frame.
type pendingCall struct {
	ch    chan callResult
	timer *time.Timer
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// pendingChat is an in-flight chat awaiting its final event, keyed by runId.
type pendingChat struct {
	ch    chan chatResult
	timer *time.Timer
}

type chatResult struct {
	text string
	err  error
}

// connectAttempt coalesces concurrent Connect calls onto one handshake.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client is a long-lived connection to one gateway. It owns its socket
// exclusively; all writes go through send.
type Client struct {
	cfg      Config
	identity *DeviceIdentity

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	inFlight     *connectAttempt
	hello        *HelloPayload
	pending      map[string]*pendingCall
	pendingChats map[string]*pendingChat
	challengeCh  chan string

	writeMu sync.Mutex
}

// NewClient creates a client for the given gateway backed by the device
// identity. The connection is established lazily by Connect.
func NewClient(cfg Config, identity *DeviceIdentity) *Client {
	return &Client{
		cfg:          cfg,
		identity:     identity,
		pending:      make(map[string]*pendingCall),
		pendingChats: make(map[string]*pendingChat),
	}
}

// Name returns the configured gateway name.
func (c *Client) Name() string { return c.cfg.Name }

// URL returns the configured gateway URL.
func (c *Client) URL() string { return c.cfg.URL }

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Hello returns the hello payload from the connect response, if connected.
func (c *Client) Hello() *HelloPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// Connect performs the login + signed WebSocket handshake. Concurrent calls
// coalesce onto a single attempt; an established connection returns
// immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.inFlight != nil {
		attempt := c.inFlight
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	c.inFlight = attempt
	c.mu.Unlock()

	err := c.connect(ctx)

	c.mu.Lock()
	c.inFlight = nil
	c.mu.Unlock()

	attempt.err = err
	close(attempt.done)
	return err
}

func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	origin := httpOrigin(c.cfg.URL)

	// Session login is best-effort: some gateways skip cookie auth entirely.
	cookie := c.login(ctx, origin)

	header := http.Header{}
	header.Set("Origin", origin)
	if cookie != "" {
		header.Set("Cookie", cookie)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return &Error{Message: fmt.Sprintf("failed to dial %s: %v", c.cfg.URL, err)}
	}

	challengeCh := make(chan string, 1)
	c.mu.Lock()
	c.conn = conn
	c.challengeCh = challengeCh
	c.mu.Unlock()

	go c.readLoop(conn)

	// Protocol v2 gateways push a challenge nonce right after the socket
	// opens; older gateways send nothing and we fall back to v1.
	nonce := ""
	version := "v1"
	select {
	case n := <-challengeCh:
		nonce = n
		version = "v2"
	case <-time.After(challengeWait):
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	signedAt := time.Now().UnixMilli()
	signature := c.identity.Sign(signaturePayload(version, c.identity.DeviceID, c.cfg.Token, nonce, signedAt))

	params := map[string]any{
		"minProtocol": Protocol,
		"maxProtocol": Protocol,
		"client": map[string]any{
			"id":   ClientID,
			"mode": ClientMode,
		},
		"role":   clientRole,
		"scopes": defaultScopes,
		"caps":   []string{},
		"auth": map[string]any{
			"token": c.cfg.Token,
		},
		"device": map[string]any{
			"id":        c.identity.DeviceID,
			"publicKey": c.identity.PublicKeyBase64URL(),
			"signature": base64.RawURLEncoding.EncodeToString(signature),
			"signedAt":  signedAt,
			"nonce":     nonce,
		},
	}

	payload, err := c.callWithContext(ctx, "connect", params, DefaultConnectTimeout)
	if err != nil {
		conn.Close()
		return err
	}

	var hello HelloPayload
	if err := json.Unmarshal(payload, &hello); err != nil {
		logging.Warn("gateway hello payload not understood", "gateway", c.cfg.Name, "error", err)
	}

	c.mu.Lock()
	c.hello = &hello
	c.connected = true
	c.mu.Unlock()

	logging.Info("gateway connected",
		"gateway", c.cfg.Name,
		"protocol", version,
		"server", hello.Server.Version)
	return nil
}

// login POSTs the bearer token to the gateway's HTTP login endpoint and
// returns the session cookie, or "" when login is unavailable.
func (c *Client) login(ctx context.Context, origin string) string {
	form := url.Values{}
	form.Set("token", c.cfg.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		origin+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Debug("gateway login skipped", "gateway", c.cfg.Name, "error", err)
		return ""
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	for _, sc := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(sc, "connect.sid=") {
			if i := strings.Index(sc, ";"); i > 0 {
				return sc[:i]
			}
			return sc
		}
	}
	return ""
}

// signaturePayload joins the handshake fields in the fixed wire order.
func signaturePayload(version, deviceID, token, nonce string, signedAt int64) []byte {
	fields := []string{
		version,
		deviceID,
		ClientID,
		ClientMode,
		clientRole,
		strings.Join(defaultScopes, ","),
		strconv.FormatInt(signedAt, 10),
		token,
	}
	if version == "v2" {
		fields = append(fields, nonce)
	}
	return []byte(strings.Join(fields, "|"))
}

// httpOrigin rewrites a ws[s] URL to its http[s] origin.
func httpOrigin(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

// Call sends a request frame and waits for the matching response.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return c.callWithContext(ctx, method, params, timeout)
}

func (c *Client) callWithContext(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()

	pc := &pendingCall{ch: make(chan callResult, 1)}
	pc.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		_, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			pc.ch <- callResult{err: &Error{Message: fmt.Sprintf("request %s timed out after %s", method, timeout)}}
		}
	})

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		pc.timer.Stop()
		return nil, &Error{Message: "not connected"}
	}
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.send(Request{Type: frameRequest, ID: id, Method: method, Params: params}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		pc.timer.Stop()
		return nil, err
	}

	select {
	case res := <-pc.ch:
		pc.timer.Stop()
		return res.payload, res.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		pc.timer.Stop()
		return nil, ctx.Err()
	}
}

// send serializes a frame onto the socket under the write lock.
func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &Error{Message: "not connected"}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return &Error{Message: fmt.Sprintf("write failed: %v", err)}
	}
	return nil
}

// readLoop drains the socket, dispatching responses and events until the
// connection drops, then rejects every pending entry.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			c.handleClose(conn, code)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Debug("gateway sent unparseable frame", "gateway", c.cfg.Name, "error", err)
			continue
		}

		switch f.Type {
		case frameResponse:
			c.dispatchResponse(&f)
		case frameEvent:
			c.dispatchEvent(&f)
		}
	}
}

func (c *Client) dispatchResponse(f *frame) {
	c.mu.Lock()
	pc, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	pc.timer.Stop()

	if f.OK {
		pc.ch <- callResult{payload: f.Payload}
		return
	}
	e := &Error{Message: "request failed"}
	if f.Error != nil {
		e = &Error{Code: f.Error.Code, Message: f.Error.Message}
	}
	pc.ch <- callResult{err: e}
}

func (c *Client) dispatchEvent(f *frame) {
	switch f.Event {
	case "connect.challenge":
		var p struct {
			Nonce string `json:"nonce"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Nonce == "" {
			return
		}
		c.mu.Lock()
		ch := c.challengeCh
		c.challengeCh = nil
		c.mu.Unlock()
		if ch != nil {
			ch <- p.Nonce
		}
	case "chat":
		c.dispatchChatEvent(f.Payload)
	default:
		logging.Debug("gateway event ignored", "gateway", c.cfg.Name, "event", f.Event)
	}
}

// handleClose tears down connection state and rejects every pending call and
// chat exactly once.
func (c *Client) handleClose(conn *websocket.Conn, code int) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection superseded this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.hello = nil
	pending := c.pending
	chats := c.pendingChats
	c.pending = make(map[string]*pendingCall)
	c.pendingChats = make(map[string]*pendingChat)
	c.mu.Unlock()

	conn.Close()

	err := errClosed(code)
	for _, pc := range pending {
		pc.timer.Stop()
		pc.ch <- callResult{err: err}
	}
	for _, pch := range chats {
		pch.timer.Stop()
		pch.ch <- chatResult{err: err}
	}

	logging.Warn("gateway disconnected",
		"gateway", c.cfg.Name,
		"code", code,
		"rejected_calls", len(pending),
		"rejected_chats", len(chats))
}

// Close shuts the connection down. Pending entries are rejected by the read
// loop's close handling.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}
