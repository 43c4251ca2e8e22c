package config

import (
	"time"

	"clawflow/internal/gateway"

	"github.com/go-playground/validator/v10"
)

// Config is the main application configuration. Everything that used to be
// ambient (identity path, task cache, per-agent limiters) is carried here and
// passed at construction.
type Config struct {
	Gateways     []gateway.Config   `yaml:"gateways" validate:"dive"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Thinker      ThinkerConfig      `yaml:"thinker"`
	Dashboard    DashboardConfig    `yaml:"dashboard"`
	Identity     IdentityConfig     `yaml:"identity"`
	Store        StoreConfig        `yaml:"store"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Cache        CacheConfig        `yaml:"cache"`
	Logging      LoggingConfig      `yaml:"logging"`
	Agents       []AgentConfig      `yaml:"agents" validate:"dive"`
}

// OrchestratorConfig bounds the adaptive loop.
type OrchestratorConfig struct {
	MaxSteps         int `yaml:"max_steps" validate:"min=0"`
	MaxConcurrency   int `yaml:"max_concurrency" validate:"min=0"`
	OutputTruncation int `yaml:"output_truncation" validate:"min=0"`
}

// ThinkerConfig selects the directive-emitting backend.
type ThinkerConfig struct {
	// Backend: gateway, gemini, or ollama (default: gateway).
	Backend string `yaml:"backend" validate:"omitempty,oneof=gateway gemini ollama"`

	Model         string `yaml:"model,omitempty"`
	GeminiKey     string `yaml:"gemini_key,omitempty"`
	OllamaBaseURL string `yaml:"ollama_base_url,omitempty"`
}

// DashboardConfig configures the HTTP surface.
type DashboardConfig struct {
	Port    int `yaml:"port" validate:"min=0,max=65535"`
	MaxRuns int `yaml:"max_runs" validate:"min=0"`
}

// IdentityConfig locates the persistent device identity.
type IdentityConfig struct {
	Path string `yaml:"path,omitempty"`
}

// StoreConfig locates the run store.
type StoreConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// RateLimitConfig throttles task dispatch.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxRequests  int  `yaml:"max_requests"`
	WindowMs     int  `yaml:"window_ms"`
	QueueExcess  bool `yaml:"queue_excess"`
	MaxQueueSize int  `yaml:"max_queue_size"`
}

// Window returns the configured window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// CacheConfig controls task-result reuse.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
	TTLMs      int  `yaml:"ttl_ms"`
}

// TTL returns the configured TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// LoggingConfig controls the slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	ToFile bool   `yaml:"to_file"`
}

// AgentConfig declares a static HTTP executor agent, in addition to whatever
// the gateways host.
type AgentConfig struct {
	Name         string   `yaml:"name" validate:"required"`
	Endpoint     string   `yaml:"endpoint" validate:"required,url"`
	Description  string   `yaml:"description,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxSteps:         10,
			MaxConcurrency:   8,
			OutputTruncation: 3000,
		},
		Thinker: ThinkerConfig{
			Backend: "gateway",
		},
		Dashboard: DashboardConfig{
			Port:    8787,
			MaxRuns: 50,
		},
		RateLimit: RateLimitConfig{
			Enabled:      false,
			MaxRequests:  10,
			WindowMs:     1000,
			QueueExcess:  true,
			MaxQueueSize: 100,
		},
		Cache: CacheConfig{
			Enabled:    false,
			MaxEntries: 1000,
			TTLMs:      300_000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration shape.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
