package collab

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPalette is the cursor/roster color palette, assigned in first-seen order.
var DefaultPalette = []string{
	"#4aed88",
	"#ff4757",
	"#1e90ff",
	"#ffa502",
	"#a55eea",
	"#2ed573",
	"#ff6b81",
	"#eccc68",
}

// Config controls how the SDK connects and how the room behaves.
type Config struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"` // sent as a bearer token on dial
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	// ReconnectDelay is the wait before each reconnect attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnectDelay switches to capped exponential backoff when > ReconnectDelay.
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	// LeaveGrace is how long Close waits after queueing LEAVE before closing the socket.
	LeaveGrace time.Duration `yaml:"leave_grace"`

	NoticeDedupWindow time.Duration `yaml:"notice_dedup_window"`
	TypingTimeout     time.Duration `yaml:"typing_timeout"`
	ChatHistoryLimit  int           `yaml:"chat_history_limit"` // 0 keeps everything
	Palette           []string      `yaml:"palette"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8080/ws",
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectDelay:    3 * time.Second,
		LeaveGrace:        200 * time.Millisecond,
		NoticeDedupWindow: 4 * time.Second,
		TypingTimeout:     1500 * time.Millisecond,
		Palette:           append([]string(nil), DefaultPalette...),
	}
}

// Validate checks that the config can drive a room.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if c.ReconnectDelay <= 0 {
		return NewError(ErrorInvalidConfig, "reconnect delay must be positive")
	}
	if c.MaxReconnectDelay < 0 || c.LeaveGrace < 0 || c.ChatHistoryLimit < 0 {
		return NewError(ErrorInvalidConfig, "negative limit")
	}
	if len(c.Palette) == 0 {
		return NewError(ErrorInvalidConfig, "empty palette")
	}
	return nil
}

// LoadConfig reads defaults, then the YAML file at path if it exists, then
// COLLAB_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, WrapError(ErrorInvalidConfig, "parse "+path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return cfg, WrapError(ErrorInvalidConfig, "read "+path, err)
		}
	}

	if v := os.Getenv("COLLAB_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("COLLAB_TOKEN"); v != "" {
		cfg.Token = v
	}
	envDuration("COLLAB_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout)
	envDuration("COLLAB_RECONNECT_DELAY", &cfg.ReconnectDelay)
	envDuration("COLLAB_MAX_RECONNECT_DELAY", &cfg.MaxReconnectDelay)
	envDuration("COLLAB_LEAVE_GRACE", &cfg.LeaveGrace)
	envDuration("COLLAB_TYPING_TIMEOUT", &cfg.TypingTimeout)
	if v := os.Getenv("COLLAB_CHAT_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatHistoryLimit = n
		}
	}

	return cfg, cfg.Validate()
}

func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
