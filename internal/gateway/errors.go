package gateway

import "fmt"

// Error is a protocol-level gateway failure: an error frame, a closed
// connection, or a per-request timeout.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// errClosed builds the error every pending entry is rejected with when the
// socket closes.
func errClosed(code int) error {
	return &Error{Message: fmt.Sprintf("Connection closed (code=%d)", code)}
}
