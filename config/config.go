package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	singleConfig *Config
	loadErr      error
	once         sync.Once
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebSocketConfig holds WebSocket-specific configuration
type WebSocketConfig struct {
	Path              string        `yaml:"path"`
	ResponseMessage   string        `yaml:"response_message"`
	CheckOrigin       bool          `yaml:"check_origin"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	EnableCompression bool          `yaml:"enable_compression"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	WriteWait         time.Duration `yaml:"write_wait"`
	PongWait          time.Duration `yaml:"pong_wait"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	RateLimit         int           `yaml:"rate_limit"`
	RateWindow        time.Duration `yaml:"rate_window"`
}

// NATSConfig controls the optional session event sink.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    2 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:             "/websocket-server",
			ResponseMessage:  "The response",
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			MaxMessageSize:   64 * 1024,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			PingInterval:     54 * time.Second,
			RateLimit:        60,
			RateWindow:       time.Minute,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Timeout:       10 * time.Second,
			SubjectPrefix: "websocket.session",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Load loads configuration once per process from the environment and the
// YAML file at configFile, or CONFIG_FILE when configFile is empty.
func Load(configFile string) (*Config, error) {
	once.Do(func() {
		singleConfig, loadErr = Parse(WithConfigFile(os.Getenv, configFile))
	})
	return singleConfig, loadErr
}

// WithConfigFile returns a lookup that reports path for CONFIG_FILE and
// defers to getenv for everything else. An empty path changes nothing.
func WithConfigFile(getenv func(string) string, path string) func(string) string {
	if path == "" {
		return getenv
	}
	return func(key string) string {
		if key == "CONFIG_FILE" {
			return path
		}
		return getenv(key)
	}
}

// Parse builds a configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and environment overrides, in that order. A set but
// unparsable variable is an error.
func Parse(getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if path := getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	e := &env{getenv: getenv}
	cfg.Server.Port = e.str("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = e.str("SERVER_HOST", cfg.Server.Host)
	cfg.Server.ReadTimeout = e.duration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = e.duration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = e.duration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.WebSocket.Path = e.str("WS_PATH", cfg.WebSocket.Path)
	cfg.WebSocket.ResponseMessage = e.str("WS_RESPONSE_MESSAGE", cfg.WebSocket.ResponseMessage)
	cfg.WebSocket.CheckOrigin = e.boolean("WS_CHECK_ORIGIN", cfg.WebSocket.CheckOrigin)
	cfg.WebSocket.ReadBufferSize = e.integer("WS_READ_BUFFER_SIZE", cfg.WebSocket.ReadBufferSize)
	cfg.WebSocket.WriteBufferSize = e.integer("WS_WRITE_BUFFER_SIZE", cfg.WebSocket.WriteBufferSize)
	cfg.WebSocket.HandshakeTimeout = e.duration("WS_HANDSHAKE_TIMEOUT", cfg.WebSocket.HandshakeTimeout)
	cfg.WebSocket.EnableCompression = e.boolean("WS_ENABLE_COMPRESSION", cfg.WebSocket.EnableCompression)
	cfg.WebSocket.MaxMessageSize = int64(e.integer("WS_MAX_MESSAGE_SIZE", int(cfg.WebSocket.MaxMessageSize)))
	cfg.WebSocket.WriteWait = e.duration("WS_WRITE_WAIT", cfg.WebSocket.WriteWait)
	cfg.WebSocket.PongWait = e.duration("WS_PONG_WAIT", cfg.WebSocket.PongWait)
	cfg.WebSocket.PingInterval = e.duration("WS_PING_INTERVAL", cfg.WebSocket.PingInterval)
	cfg.WebSocket.RateLimit = e.integer("WS_RATE_LIMIT", cfg.WebSocket.RateLimit)
	cfg.WebSocket.RateWindow = e.duration("WS_RATE_WINDOW", cfg.WebSocket.RateWindow)

	cfg.NATS.Enabled = e.boolean("NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = e.str("NATS_URL", cfg.NATS.URL)
	cfg.NATS.Timeout = e.duration("NATS_TIMEOUT", cfg.NATS.Timeout)
	cfg.NATS.SubjectPrefix = e.str("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.Metrics.Enabled = e.boolean("METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = e.str("METRICS_PATH", cfg.Metrics.Path)

	cfg.Log.Level = e.str("LOG_LEVEL", cfg.Log.Level)

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// Validate reports the first setting the server cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return errors.New("server port must not be empty")
	case !strings.HasPrefix(c.WebSocket.Path, "/"):
		return errors.Errorf("websocket path %q must start with /", c.WebSocket.Path)
	case reservedPath(c.WebSocket.Path) || (c.Metrics.Enabled && c.WebSocket.Path == c.Metrics.Path):
		return errors.Errorf("websocket path %q collides with another endpoint", c.WebSocket.Path)
	case c.WebSocket.ReadBufferSize <= 0 || c.WebSocket.WriteBufferSize <= 0:
		return errors.New("websocket buffer sizes must be positive")
	case c.WebSocket.MaxMessageSize <= 0:
		return errors.New("websocket max message size must be positive")
	case c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait:
		return errors.Errorf("ping interval %s must be positive and shorter than pong wait %s",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	case c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/"):
		return errors.Errorf("metrics path %q must start with /", c.Metrics.Path)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func reservedPath(path string) bool {
	switch path {
	case "/", "/health", "/info":
		return true
	}
	return false
}

// LogLevel parses Log.Level into a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, errors.Wrapf(err, "invalid log level %q", c.Log.Level)
	}
	return level, nil
}

// env reads typed environment values and keeps the first parse error.
type env struct {
	getenv func(string) string
	err    error
}

func (e *env) str(key, defaultValue string) string {
	if value := e.getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *env) integer(key string, defaultValue int) int {
	value := e.getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(err, key, value)
		return defaultValue
	}
	return parsed
}

func (e *env) boolean(key string, defaultValue bool) bool {
	value := e.getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(err, key, value)
		return defaultValue
	}
	return parsed
}

func (e *env) duration(key string, defaultValue time.Duration) time.Duration {
	value := e.getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(err, key, value)
		return defaultValue
	}
	return parsed
}

func (e *env) fail(err error, key, value string) {
	if e.err == nil {
		e.err = errors.Wrapf(err, "invalid %s %q", key, value)
	}
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return ":" + c.Server.Port
}

// GetWebSocketURL returns the WebSocket URL for the given endpoint
func (c *Config) GetWebSocketURL(endpoint string) string {
	return "ws://" + c.Server.Host + ":" + c.Server.Port + endpoint
}

// GetHTTPURL returns the HTTP URL for the given endpoint
func (c *Config) GetHTTPURL(endpoint string) string {
	return "http://" + c.Server.Host + ":" + c.Server.Port + endpoint
}
