package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	kpnc "github.com/slush-dev/kpnc"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the session directory.
const FileName = "config.yaml"

// Store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config represents the agent configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Hub       HubConfig       `yaml:"hub"`
	Receivers ReceiversConfig `yaml:"receivers"`
	Actions   ActionsConfig   `yaml:"actions"`
	Logger    LoggerConfig    `yaml:"logger"`
}

// ServerConfig describes the remote KPNC server
type ServerConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"KPNC_SERVER_URL"`
	HTTPTimeout time.Duration `yaml:"http_timeout" envconfig:"KPNC_HTTP_TIMEOUT"`
}

// StoreConfig selects where preferences are kept
type StoreConfig struct {
	Backend string      `yaml:"backend" envconfig:"KPNC_STORE_BACKEND"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"KPNC_REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"KPNC_REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"KPNC_REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"KPNC_REDIS_PREFIX"`
}

// HubConfig represents the agent hub listener
type HubConfig struct {
	Listen      string        `yaml:"listen" envconfig:"KPNC_HUB_LISTEN"`
	MessageWait time.Duration `yaml:"message_wait" envconfig:"KPNC_HUB_MESSAGE_WAIT"`
}

// ReceiversConfig controls receiver discovery and delivery
type ReceiversConfig struct {
	// Dir defaults to <session-dir>/receivers when empty.
	Dir             string        `yaml:"dir" envconfig:"KPNC_RECEIVERS_DIR"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" envconfig:"KPNC_DELIVERY_TIMEOUT"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"KPNC_CONNECT_TIMEOUT"`
}

// ActionsConfig controls external action handling
type ActionsConfig struct {
	Timeout time.Duration `yaml:"timeout" envconfig:"KPNC_ACTION_TIMEOUT"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level  string `yaml:"level" envconfig:"KPNC_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"KPNC_LOG_FORMAT"` // text or json
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:     kpnc.DefaultBaseURL,
			HTTPTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: kpnc.DefaultRedisPrefix,
			},
		},
		Hub: HubConfig{
			Listen:      "127.0.0.1:7821",
			MessageWait: 60 * time.Second,
		},
		Receivers: ReceiversConfig{
			DeliveryTimeout: kpnc.DefaultDeliveryTimeout,
			ConnectTimeout:  5 * time.Second,
		},
		Actions: ActionsConfig{
			Timeout: kpnc.DefaultActionTimeout,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file configuration, and both
// over Default. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadSession loads explicitPath when set, otherwise <sessionDir>/config.yaml
// if it exists.
func LoadSession(sessionDir, explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	path := filepath.Join(sessionDir, FileName)
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	return Load(path)
}

// loadFromFile loads configuration from YAML file
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base url is required")
	}
	if c.Server.HTTPTimeout <= 0 {
		return fmt.Errorf("invalid http timeout: %s", c.Server.HTTPTimeout)
	}

	switch c.Store.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when store backend is redis")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Hub.Listen == "" {
		return fmt.Errorf("hub listen address is required")
	}
	if c.Receivers.DeliveryTimeout <= 0 {
		return fmt.Errorf("invalid delivery timeout: %s", c.Receivers.DeliveryTimeout)
	}
	if c.Actions.Timeout <= 0 {
		return fmt.Errorf("invalid action timeout: %s", c.Actions.Timeout)
	}
	if _, err := parseLevel(c.Logger.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Logger.Format); f != "text" && f != "json" {
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}
	return nil
}

// ReceiversDir returns the registry directory, defaulting under sessionDir.
func (c *Config) ReceiversDir(sessionDir string) string {
	if c.Receivers.Dir != "" {
		return c.Receivers.Dir
	}
	return filepath.Join(sessionDir, "receivers")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger builds a logger writing to w. Verbose forces debug level.
func (c LoggerConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
