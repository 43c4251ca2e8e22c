package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clawflow/internal/logging"
)

// ErrNoGateways is raised when a pick is attempted on an empty registry.
var ErrNoGateways = errors.New("No gateways configured")

// Registry is a named pool of gateway clients with retrying connect and
// ordered fallback selection: the preferred gateway first, then the rest in
// insertion order.
type Registry struct {
	clients []*Client
	byName  map[string]*Client
	mu      sync.RWMutex

	connectAttempts int
	connectBackoff  time.Duration
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:          make(map[string]*Client),
		connectAttempts: 3,
		connectBackoff:  2 * time.Second,
	}
}

// Add registers a client under its configured name. A duplicate name is
// rejected.
func (r *Registry) Add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("gateway name must not be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("gateway %q is already registered", name)
	}
	r.byName[name] = c
	r.clients = append(r.clients, c)
	return nil
}

// Get returns the client registered under name, or nil.
func (r *Registry) Get(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Names returns the registered gateway names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.clients))
	for i, c := range r.clients {
		out[i] = c.Name()
	}
	return out
}

// Len returns the number of registered gateways.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Pick returns a connected client. When preferred names a registered gateway
// it is tried first; otherwise candidates are tried in insertion order. Each
// candidate gets up to three connect attempts with backoff between them. When
// every candidate fails the last connect error is returned as-is.
func (r *Registry) Pick(ctx context.Context, preferred string) (*Client, error) {
	r.mu.RLock()
	candidates := make([]*Client, 0, len(r.clients))
	if preferred != "" {
		if c, ok := r.byName[preferred]; ok {
			candidates = append(candidates, c)
		}
	}
	for _, c := range r.clients {
		if preferred != "" && c.Name() == preferred {
			continue
		}
		candidates = append(candidates, c)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, ErrNoGateways
	}

	var lastErr error
	for _, c := range candidates {
		if c.Connected() {
			return c, nil
		}
		for attempt := 1; attempt <= r.connectAttempts; attempt++ {
			err := c.Connect(ctx)
			if err == nil {
				return c, nil
			}
			lastErr = err
			logging.Warn("gateway connect failed",
				"gateway", c.Name(),
				"attempt", attempt,
				"error", err)
			if attempt < r.connectAttempts {
				select {
				case <-time.After(r.connectBackoff):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, lastErr
}

// CloseAll closes every registered client.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.Close()
	}
}
