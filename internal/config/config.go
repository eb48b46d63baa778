package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix of every environment override, e.g. AIGEM2_SERVER_PORT.
const EnvPrefix = "AIGEM2"

// legacyAPIURLEnv is the historical override for the licensing server address.
const legacyAPIURLEnv = "AIGEM2_API_URL"

// Config represents the complete application configuration
type Config struct {
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// LicenseConfig controls activation, heartbeat and local storage of the license.
type LicenseConfig struct {
	APIBaseURL        string   `yaml:"api_base_url" envconfig:"API_BASE_URL"`
	ActivationTimeout Duration `yaml:"activation_timeout" envconfig:"ACTIVATION_TIMEOUT"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout" envconfig:"HEARTBEAT_TIMEOUT"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	GracePeriodDays   int      `yaml:"grace_period_days" envconfig:"GRACE_PERIOD_DAYS"`
	// StorageFile overrides the per-platform activation record location.
	StorageFile         string   `yaml:"storage_file" envconfig:"STORAGE_FILE"`
	FingerprintCacheTTL Duration `yaml:"fingerprint_cache_ttl" envconfig:"FINGERPRINT_CACHE_TTL"`
	ActivationBurst     int      `yaml:"activation_burst" envconfig:"ACTIVATION_BURST"`
	ActivationRefill    Duration `yaml:"activation_refill" envconfig:"ACTIVATION_REFILL"`
}

// ServerConfig contains local HTTP server configuration
type ServerConfig struct {
	Host            string   `yaml:"host" envconfig:"HOST"`
	Port            int      `yaml:"port" envconfig:"PORT"`
	ReadTimeout     Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int      `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int      `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		License: LicenseConfig{
			APIBaseURL:          DefaultAPIBaseURL,
			ActivationTimeout:   Duration{DefaultActivationTimeout},
			HeartbeatTimeout:    Duration{DefaultHeartbeatTimeout},
			HeartbeatInterval:   Duration{DefaultHeartbeatInterval},
			GracePeriodDays:     DefaultGracePeriodDays,
			FingerprintCacheTTL: Duration{time.Hour},
			ActivationBurst:     5,
			ActivationRefill:    Duration{3 * time.Minute},
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			Environment:    "production",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      Duration{30 * time.Second},
			PongWait:        Duration{60 * time.Second},
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in that order of precedence.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	return LoadFrom(paths.ConfigFile)
}

// LoadFrom is Load with an explicit config file. A missing file is not an error.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if v := os.Getenv(legacyAPIURLEnv); v != "" {
		cfg.License.APIBaseURL = v
	}
	cfg.License.APIBaseURL = strings.TrimRight(cfg.License.APIBaseURL, "/")

	if cfg.Logging.FilePath == "" {
		if paths, err := GetPaths(); err == nil {
			cfg.Logging.FilePath = paths.LogFile()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.License.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid license api base url: %q", c.License.APIBaseURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported license api scheme: %s", u.Scheme)
	}

	if c.License.ActivationTimeout.Duration <= 0 {
		return fmt.Errorf("license activation timeout must be positive")
	}
	if c.License.HeartbeatTimeout.Duration <= 0 {
		return fmt.Errorf("license heartbeat timeout must be positive")
	}
	if c.License.HeartbeatInterval.Duration < time.Minute {
		return fmt.Errorf("license heartbeat interval must be at least one minute")
	}
	if c.License.GracePeriodDays < 0 {
		return fmt.Errorf("invalid grace period: %d days", c.License.GracePeriodDays)
	}
	if c.License.ActivationBurst < 1 {
		return fmt.Errorf("activation burst must be at least 1")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout.Duration <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}
	if c.Server.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Logging.Format != "json" {
		return fmt.Errorf("logging format must be 'json', got: %s", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %s", c.Logging.Output)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]")
	}

	return nil
}

// Address returns the listen address of the local server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
