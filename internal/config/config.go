package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.sahasi/config.toml.
type Config struct {
	DefaultSession string             `toml:"default_session"`
	API            APIConfig          `toml:"api"`
	Connectivity   ConnectivityConfig `toml:"connectivity"`
}

// APIConfig configures the remote backend endpoints. The chat service
// runs separately from the main user API, so it has its own base URL.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	ChatBaseURL    string `toml:"chat_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ConnectivityConfig configures the reachability probe.
type ConnectivityConfig struct {
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
}

// Default returns the built-in configuration used when no config file
// exists yet.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8000",
			ChatBaseURL:    "http://127.0.0.1:8001/api",
			TimeoutSeconds: 5,
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalSeconds: 10,
		},
	}
}

// Load reads config from the given path. Returns an error if the file
// is missing; callers that want defaults use LoadOrDefault.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults (plus
// environment overrides) when the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
		cfg.applyEnv()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// RequestTimeout returns the per-call timeout for remote requests.
func (c *Config) RequestTimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	if c.Connectivity.ProbeIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Connectivity.ProbeIntervalSeconds) * time.Second
}

// applyEnv overlays SAHASI_* environment variables. A .env file is
// loaded into the environment by the cmd entrypoints before this runs.
func (c *Config) applyEnv() {
	if v := os.Getenv("SAHASI_API_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("SAHASI_CHAT_BASE_URL"); v != "" {
		c.API.ChatBaseURL = v
	}
	if v := os.Getenv("SAHASI_API_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.API.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("SAHASI_PROBE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connectivity.ProbeIntervalSeconds = n
		}
	}
	if v := os.Getenv("SAHASI_DEFAULT_SESSION"); v != "" {
		c.DefaultSession = v
	}
}
