package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nkkko/idled/internal/api/validation"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Seats     []string        `yaml:"seats"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Registry  RegistryConfig  `yaml:"registry"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Journal   JournalConfig   `yaml:"journal"`
	Input     InputConfig     `yaml:"input"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     int      `yaml:"read_timeout"`
	WriteTimeout    int      `yaml:"write_timeout"`
	IdleTimeout     int      `yaml:"idle_timeout"`
	RequestTimeout  int      `yaml:"request_timeout"`
	ShutdownTimeout int      `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// TrackerConfig contains idle tracker settings
type TrackerConfig struct {
	CommandBuffer int `yaml:"command_buffer"`
}

// RegistryConfig contains notification registry settings
type RegistryConfig struct {
	TombstoneCapacity       int `yaml:"tombstone_capacity"`
	MaxInhibitorsPerSession int `yaml:"max_inhibitors_per_session"`
}

// NotifierConfig contains session stream settings
type NotifierConfig struct {
	HeartbeatIntervalMs int   `yaml:"heartbeat_interval_ms"`
	ReadTimeoutMs       int   `yaml:"read_timeout_ms"`
	WriteTimeoutMs      int   `yaml:"write_timeout_ms"`
	MaxMessageSize      int64 `yaml:"max_message_size"`
	MaxSessions         int   `yaml:"max_sessions"`
}

// JournalConfig contains transition journal settings
type JournalConfig struct {
	Type           string `yaml:"type"`
	DataDir        string `yaml:"data_dir"`
	BatchSize      int    `yaml:"batch_size"`
	SyncIntervalMs int    `yaml:"sync_interval_ms"`
	SyncWrites     bool   `yaml:"sync_writes"`
	RetentionHours int    `yaml:"retention_hours"`
	MemoryCapacity int    `yaml:"memory_capacity"`
	ListLimit      int    `yaml:"list_limit"`
	MaxListLimit   int    `yaml:"max_list_limit"`
}

// InputConfig contains activity input settings
type InputConfig struct {
	FIFOPath      string `yaml:"fifo_path"`
	DefaultSeat   string `yaml:"default_seat"`
	Reopen        bool   `yaml:"reopen"`
	ReopenDelayMs int    `yaml:"reopen_delay_ms"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	NoColor       bool              `yaml:"no_color"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Overrides holds command line values; empty fields are ignored
type Overrides struct {
	Addr     string
	DataDir  string
	LogLevel string
	FIFOPath string
	Seats    []string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:7411",
			ReadTimeout:     5,
			WriteTimeout:    10,
			IdleTimeout:     120,
			RequestTimeout:  10,
			ShutdownTimeout: 10,
		},
		Seats: []string{"seat0"},
		Tracker: TrackerConfig{
			CommandBuffer: 64,
		},
		Registry: RegistryConfig{
			TombstoneCapacity:       4096,
			MaxInhibitorsPerSession: 64,
		},
		Notifier: NotifierConfig{
			HeartbeatIntervalMs: 5000,
			ReadTimeoutMs:       30000,
			WriteTimeoutMs:      10000,
			MaxMessageSize:      4096,
			MaxSessions:         10000,
		},
		Journal: JournalConfig{
			Type:           "memory",
			DataDir:        "./data",
			BatchSize:      64,
			SyncIntervalMs: 50,
			RetentionHours: 24 * 7,
			MemoryCapacity: 1024,
			ListLimit:      100,
			MaxListLimit:   1000,
		},
		Input: InputConfig{
			DefaultSeat:   "seat0",
			Reopen:        true,
			ReopenDelayMs: 100,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			GlobalFields: map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "idled",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags,
// in increasing order of priority
func LoadConfig(configFile string, overrides Overrides) (*Config, error) {
	config := DefaultConfig()
	if configFile != "" {
		var err error
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(config)

	if overrides.Addr != "" {
		config.Server.Addr = overrides.Addr
	}
	if overrides.DataDir != "" {
		config.Journal.DataDir = overrides.DataDir
	}
	if overrides.LogLevel != "" {
		config.Logging.Level = overrides.LogLevel
	}
	if overrides.FIFOPath != "" {
		config.Input.FIFOPath = overrides.FIFOPath
	}
	if len(overrides.Seats) > 0 {
		config.Seats = overrides.Seats
	}

	if config.Journal.Type == "badger" {
		abs, err := filepath.Abs(config.Journal.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Journal.DataDir = abs
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Seats) == 0 {
		return fmt.Errorf("at least one seat must be configured")
	}
	for _, seat := range c.Seats {
		if strings.TrimSpace(seat) == "" {
			return fmt.Errorf("seat names must not be empty")
		}
		if err := validation.SeatName(seat); err != nil {
			return fmt.Errorf("seat %q: %w", seat, err)
		}
	}
	switch c.Journal.Type {
	case "badger", "memory":
	default:
		return fmt.Errorf("journal.type must be badger or memory, got %q", c.Journal.Type)
	}
	if c.Journal.Type == "badger" && c.Journal.DataDir == "" {
		return fmt.Errorf("journal.data_dir is required for the badger journal")
	}
	if c.Notifier.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("notifier.heartbeat_interval_ms must be positive")
	}
	if c.Notifier.ReadTimeoutMs <= c.Notifier.HeartbeatIntervalMs {
		return fmt.Errorf("notifier.read_timeout_ms must exceed the heartbeat interval")
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be within [0, 1]")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("IDLED_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if seats := os.Getenv("IDLED_SEATS"); seats != "" {
		config.Seats = splitList(seats)
	}

	if typ := os.Getenv("IDLED_JOURNAL_TYPE"); typ != "" {
		config.Journal.Type = typ
	}
	if dataDir := os.Getenv("IDLED_DATA_DIR"); dataDir != "" {
		config.Journal.DataDir = dataDir
	}
	if retention := os.Getenv("IDLED_JOURNAL_RETENTION_HOURS"); retention != "" {
		if val, err := strconv.Atoi(retention); err == nil {
			config.Journal.RetentionHours = val
		}
	}

	if heartbeat := os.Getenv("IDLED_NOTIFIER_HEARTBEAT_INTERVAL_MS"); heartbeat != "" {
		if val, err := strconv.Atoi(heartbeat); err == nil {
			config.Notifier.HeartbeatIntervalMs = val
		}
	}
	if maxSessions := os.Getenv("IDLED_NOTIFIER_MAX_SESSIONS"); maxSessions != "" {
		if val, err := strconv.Atoi(maxSessions); err == nil {
			config.Notifier.MaxSessions = val
		}
	}

	if fifo := os.Getenv("IDLED_INPUT_FIFO"); fifo != "" {
		config.Input.FIFOPath = fifo
	}

	if level := os.Getenv("IDLED_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("IDLED_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if enabled := os.Getenv("IDLED_TELEMETRY_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Telemetry.Enabled = val
		}
	}
	if endpoint := os.Getenv("IDLED_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}

	if enabled := os.Getenv("IDLED_METRICS_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Metrics.Enabled = val
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
