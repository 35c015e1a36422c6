// Package config handles configuration loading and validation for coach.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Drafts    DraftsConfig    `yaml:"drafts"`
	Chat      ChatConfig      `yaml:"chat"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	TUI       TUIConfig       `yaml:"tui"`
	DataDir   string          `yaml:"-"` // set by caller, not from config file
}

// ServerConfig locates the coach backend and the long-lived credential
// used to obtain websocket tickets.
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`      // long-lived access token; prefer COACH_TOKEN
	TokenFile      string        `yaml:"token_file"` // read token from file when Token is empty
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TransportConfig tunes the realtime connection.
type TransportConfig struct {
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	DeadAfterMultiple    int           `yaml:"dead_after_multiple"` // read deadline = keepalive * multiple
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"` // 0 = uncapped
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

// DraftsConfig tunes draft persistence.
type DraftsConfig struct {
	IdleSaveDelay time.Duration `yaml:"idle_save_delay"`
	Journal       *bool         `yaml:"journal"` // nil = enabled
}

// ChatConfig holds chat behavior options.
type ChatConfig struct {
	Provider      string        `yaml:"provider"` // optional LLM provider hint sent with each message
	ToolBusyDelay time.Duration `yaml:"tool_busy_delay"`
}

// CacheConfig controls the local document-list cache.
type CacheConfig struct {
	DocumentListTTL time.Duration `yaml:"document_list_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig configures the local SQLite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// TUIConfig holds terminal UI options.
type TUIConfig struct {
	Theme string `yaml:"theme"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			KeepaliveInterval:    30 * time.Second,
			DeadAfterMultiple:    3,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectAttempts: 5,
			HandshakeTimeout:     10 * time.Second,
		},
		Drafts: DraftsConfig{
			IdleSaveDelay: 60 * time.Second,
		},
		Chat: ChatConfig{
			ToolBusyDelay: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			DocumentListTTL: 5 * time.Minute,
			SweepInterval:   5 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 4,
			MaxIdleConns: 2,
			BusyTimeout:  5000,
		},
		TUI: TUIConfig{
			Theme: "tokyo-night",
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = d.Server.BaseURL
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if c.Transport.KeepaliveInterval == 0 {
		c.Transport.KeepaliveInterval = d.Transport.KeepaliveInterval
	}
	if c.Transport.DeadAfterMultiple == 0 {
		c.Transport.DeadAfterMultiple = d.Transport.DeadAfterMultiple
	}
	if c.Transport.ReconnectBaseDelay == 0 {
		c.Transport.ReconnectBaseDelay = d.Transport.ReconnectBaseDelay
	}
	if c.Transport.MaxReconnectAttempts == 0 {
		c.Transport.MaxReconnectAttempts = d.Transport.MaxReconnectAttempts
	}
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = d.Transport.HandshakeTimeout
	}
	if c.Drafts.IdleSaveDelay == 0 {
		c.Drafts.IdleSaveDelay = d.Drafts.IdleSaveDelay
	}
	if c.Chat.ToolBusyDelay == 0 {
		c.Chat.ToolBusyDelay = d.Chat.ToolBusyDelay
	}
	if c.Cache.DocumentListTTL == 0 {
		c.Cache.DocumentListTTL = d.Cache.DocumentListTTL
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = d.Cache.SweepInterval
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = d.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = d.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = d.Database.BusyTimeout
	}
	if c.TUI.Theme == "" {
		c.TUI.Theme = d.TUI.Theme
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Transport.KeepaliveInterval < time.Second {
		return fmt.Errorf("transport.keepalive_interval must be at least 1s")
	}

	if c.Transport.DeadAfterMultiple < 2 {
		return fmt.Errorf("transport.dead_after_multiple must be at least 2")
	}

	if c.Transport.MaxReconnectAttempts < 1 {
		return fmt.Errorf("transport.max_reconnect_attempts must be at least 1")
	}

	if c.Transport.ReconnectMaxDelay != 0 && c.Transport.ReconnectMaxDelay < c.Transport.ReconnectBaseDelay {
		return fmt.Errorf("transport.reconnect_max_delay must not be below reconnect_base_delay")
	}

	if c.Drafts.IdleSaveDelay <= 0 {
		return fmt.Errorf("drafts.idle_save_delay must be positive")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns cannot exceed max_open_conns")
	}

	return nil
}

// JournalEnabled reports whether unsaved drafts are journaled locally.
func (c *Config) JournalEnabled() bool {
	return c.Drafts.Journal == nil || *c.Drafts.Journal
}

// ResolveToken returns the long-lived access token from the config or token file.
func (c *Config) ResolveToken() (string, error) {
	if c.Server.Token != "" {
		return c.Server.Token, nil
	}
	if c.Server.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Server.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return string(trimNewline(data)), nil
}

// LogFile returns the default log file path inside the data directory.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "coach.log")
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
