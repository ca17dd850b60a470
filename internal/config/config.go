package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the optional YAML configuration file
const DefaultFile = "./roverlive.yaml"

// Config holds application configuration
type Config struct {
	Server  ServerConfig
	Stream  StreamConfig
	Latency LatencyConfig
	Device  DeviceConfig
	Push    PushConfig
	Logger  LoggerConfig
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Listen       string // Address to listen on (e.g., ":4680" or "0.0.0.0:4680")
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StreamConfig contains stream session settings
type StreamConfig struct {
	BaseURL          string        // media server base, e.g. http://media:8080
	RetryDelay       time.Duration // delay before reloading an unpublished stream
	ManifestInterval time.Duration // manifest poll period of the HTTP player
	RequestTimeout   time.Duration
}

// LatencyConfig contains buffer trimming settings
type LatencyConfig struct {
	Tick    time.Duration
	Ceiling time.Duration
}

// DeviceConfig contains device command settings
type DeviceConfig struct {
	APIBaseURL     string // backend REST base, e.g. http://backend:8000/api
	SoftTimeout    time.Duration
	HardTimeout    time.Duration
	RequestTimeout time.Duration
}

// PushConfig selects the asynchronous confirmation channel
type PushConfig struct {
	Transport    string // "websocket", "mqtt" or "none"
	WebSocketURL string
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	RetryDelay   time.Duration
	MaxRetry     time.Duration
}

// LoggerConfig contains logging settings
type LoggerConfig struct {
	Level  string
	Format string // "text" or "json"
}

// yamlConfig represents the structure of roverlive.yaml
type yamlConfig struct {
	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
	Stream struct {
		BaseURL    string `yaml:"base_url"`
		RetryDelay string `yaml:"retry_delay"`
	} `yaml:"stream"`
	Latency struct {
		Tick string `yaml:"tick"`
	} `yaml:"latency"`
	Device struct {
		APIBaseURL  string `yaml:"api_base_url"`
		SoftTimeout string `yaml:"soft_timeout"`
		HardTimeout string `yaml:"hard_timeout"`
	} `yaml:"device"`
	Push struct {
		Transport    string `yaml:"transport"`
		WebSocketURL string `yaml:"websocket_url"`
		MQTTBroker   string `yaml:"mqtt_broker"`
		MQTTTopic    string `yaml:"mqtt_topic"`
	} `yaml:"push"`
}

// Load returns configuration with defaults, .env, roverlive.yaml and
// environment overrides applied in that order
func Load() *Config {
	_ = godotenv.Load()
	return LoadFrom(DefaultFile)
}

// LoadFrom is Load without the .env step, reading YAML from path
func LoadFrom(path string) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Listen:       ":4680",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // SSE responses stay open
		},
		Stream: StreamConfig{
			BaseURL:          "http://localhost:8080",
			RetryDelay:       5 * time.Second,
			ManifestInterval: time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Latency: LatencyConfig{
			Tick:    500 * time.Millisecond,
			Ceiling: 30 * time.Second,
		},
		Device: DeviceConfig{
			APIBaseURL:     "http://localhost:8000/api",
			SoftTimeout:    15 * time.Second,
			HardTimeout:    30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		Push: PushConfig{
			Transport:    "websocket",
			WebSocketURL: "ws://localhost:8000/ws",
			MQTTTopic:    "rovers/+/events",
			MQTTClientID: "roverlive",
			RetryDelay:   time.Second,
			MaxRetry:     30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  getEnv("ROVERLIVE_LOG_LEVEL", "info"),
			Format: getEnv("ROVERLIVE_LOG_FORMAT", "json"),
		},
	}

	configSource := "default"
	if err := loadYAML(path, cfg); err == nil {
		configSource = path
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "WARN: ignoring %s: %v\n", path, err)
	}

	applyEnv(cfg)

	if err := validateListen(cfg.Server.Listen); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid listen address '%s': %v\n", cfg.Server.Listen, err)
		fmt.Fprintf(os.Stderr, "Using default: :4680\n")
		cfg.Server.Listen = ":4680"
		configSource = "default (validation failed)"
	}
	if err := validateTimeouts(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v, using 15s/30s\n", err)
		cfg.Device.SoftTimeout = 15 * time.Second
		cfg.Device.HardTimeout = 30 * time.Second
	}

	fmt.Printf("INFO: API listen address '%s' loaded from %s\n", cfg.Server.Listen, configSource)

	return cfg
}

// loadYAML attempts to load configuration from path
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	setString(&cfg.Server.Listen, yc.API.Listen)
	setString(&cfg.Stream.BaseURL, yc.Stream.BaseURL)
	setDuration(&cfg.Stream.RetryDelay, yc.Stream.RetryDelay)
	setDuration(&cfg.Latency.Tick, yc.Latency.Tick)
	setString(&cfg.Device.APIBaseURL, yc.Device.APIBaseURL)
	setDuration(&cfg.Device.SoftTimeout, yc.Device.SoftTimeout)
	setDuration(&cfg.Device.HardTimeout, yc.Device.HardTimeout)
	setString(&cfg.Push.Transport, yc.Push.Transport)
	setString(&cfg.Push.WebSocketURL, yc.Push.WebSocketURL)
	setString(&cfg.Push.MQTTBroker, yc.Push.MQTTBroker)
	setString(&cfg.Push.MQTTTopic, yc.Push.MQTTTopic)

	return nil
}

// applyEnv lets ROVERLIVE_* variables override everything
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Listen, os.Getenv("ROVERLIVE_API_LISTEN"))
	setString(&cfg.Stream.BaseURL, os.Getenv("ROVERLIVE_STREAM_BASE_URL"))
	setDuration(&cfg.Stream.RetryDelay, os.Getenv("ROVERLIVE_STREAM_RETRY_DELAY"))
	setDuration(&cfg.Latency.Tick, os.Getenv("ROVERLIVE_LATENCY_TICK"))
	setString(&cfg.Device.APIBaseURL, os.Getenv("ROVERLIVE_DEVICE_API_URL"))
	setString(&cfg.Push.Transport, os.Getenv("ROVERLIVE_PUSH_TRANSPORT"))
	setString(&cfg.Push.WebSocketURL, os.Getenv("ROVERLIVE_PUSH_WS_URL"))
	setString(&cfg.Push.MQTTBroker, os.Getenv("ROVERLIVE_PUSH_MQTT_BROKER"))
	setString(&cfg.Push.MQTTTopic, os.Getenv("ROVERLIVE_PUSH_MQTT_TOPIC"))

	// The tick is only meaningful between 500ms and 1s
	if cfg.Latency.Tick < 500*time.Millisecond {
		cfg.Latency.Tick = 500 * time.Millisecond
	}
	if cfg.Latency.Tick > time.Second {
		cfg.Latency.Tick = time.Second
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}

// validateListen validates the listen address format and port range
func validateListen(listen string) error {
	if listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	parts := strings.Split(listen, ":")
	if len(parts) < 2 {
		return fmt.Errorf("invalid format, expected ':port' or 'host:port', got '%s'", listen)
	}

	portStr := parts[len(parts)-1]
	if portStr == "" {
		return fmt.Errorf("port cannot be empty")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of valid range (1-65535)", port)
	}

	return nil
}

// validateTimeouts keeps the soft command timeout ahead of the hard one
func validateTimeouts(cfg *Config) error {
	if cfg.Device.SoftTimeout >= cfg.Device.HardTimeout {
		return fmt.Errorf("soft timeout %s must be shorter than hard timeout %s",
			cfg.Device.SoftTimeout, cfg.Device.HardTimeout)
	}
	return nil
}

// SetupLogger configures the global logger
func (c *Config) SetupLogger() *slog.Logger {
	var level slog.Level
	switch c.Logger.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if c.Logger.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
