package gateway

import "encoding/json"

// Protocol is the gateway wire protocol version spoken by this client.
const Protocol = 3

// Frame types on the wire.
const (
	frameRequest  = "req"
	frameResponse = "res"
	frameEvent    = "event"
)

// Request is a client→gateway call frame.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is a gateway→client reply frame correlated by id.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// Event is an unsolicited gateway→client frame.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// ErrorShape is the error object carried by failed responses.
type ErrorShape struct {
	Code         string          `json:"code"`
	Message      string          `json:"message"`
	Details      json.RawMessage `json:"details,omitempty"`
	Retryable    bool            `json:"retryable,omitempty"`
	RetryAfterMs int64           `json:"retryAfterMs,omitempty"`
}

// frame is the envelope used to sniff the type of an inbound message.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// HelloPayload is the payload of a successful connect response.
type HelloPayload struct {
	Server struct {
		Version string `json:"version,omitempty"`
		Name    string `json:"name,omitempty"`
	} `json:"server,omitempty"`
	Methods []string        `json:"methods,omitempty"`
	Events  []string        `json:"events,omitempty"`
	Policy  json.RawMessage `json:"policy,omitempty"`
}
