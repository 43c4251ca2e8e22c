package config

import (
	"fmt"
	"os"
	"path/filepath"

	"clawflow/internal/gateway"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from the given path (or the default location when
// empty) and applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "clawflow", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "clawflow", "config.yaml")
}

// ConfigDir returns the directory holding the config file, identity, run
// store, and logs.
func ConfigDir() string {
	path := DefaultPath()
	if path == "" {
		return "."
	}
	return filepath.Dir(path)
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Token values usually come from the environment.
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if url := os.Getenv("CLAWFLOW_GATEWAY_URL"); url != "" {
		token := os.Getenv("CLAWFLOW_GATEWAY_TOKEN")
		cfg.Gateways = append(cfg.Gateways, gateway.Config{
			Name:  "env",
			URL:   url,
			Token: token,
		})
	}
	if level := os.Getenv("CLAWFLOW_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Thinker.GeminiKey == "" {
		cfg.Thinker.GeminiKey = key
	}
}
