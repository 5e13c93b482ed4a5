package config

import (
	"time"

	"github.com/nkkko/idled/internal/api"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/inhibit"
	"github.com/nkkko/idled/internal/journal"
	"github.com/nkkko/idled/internal/logging"
	"github.com/nkkko/idled/internal/notifier"
	"github.com/nkkko/idled/internal/registry"
	"github.com/nkkko/idled/internal/source"
	"github.com/nkkko/idled/internal/telemetry"
	"github.com/nkkko/idled/internal/tracker"
)

// SeatIDs returns the configured seats
func (c *Config) SeatIDs() []domain.SeatID {
	seats := make([]domain.SeatID, 0, len(c.Seats))
	for _, s := range c.Seats {
		seats = append(seats, domain.SeatID(s))
	}
	return seats
}

// ToAPIConfig converts to API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:                   c.Server.Addr,
		ReadTimeout:            time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:           time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:            time.Duration(c.Server.IdleTimeout) * time.Second,
		RequestTimeout:         time.Duration(c.Server.RequestTimeout) * time.Second,
		AllowedOrigins:         c.Server.AllowedOrigins,
		EnableMetrics:          c.Metrics.Enabled,
		DefaultTransitionLimit: c.Journal.ListLimit,
		MaxTransitionLimit:     c.Journal.MaxListLimit,
	}
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// ToTrackerConfig converts to tracker config
func (c *Config) ToTrackerConfig() tracker.Config {
	return tracker.Config{
		CommandBuffer: c.Tracker.CommandBuffer,
		Registry: registry.Config{
			TombstoneCapacity: c.Registry.TombstoneCapacity,
		},
		Inhibit: inhibit.Config{
			MaxPerOwner: c.Registry.MaxInhibitorsPerSession,
		},
	}
}

// ToNotifierConfig converts to notifier config
func (c *Config) ToNotifierConfig() notifier.Config {
	return notifier.Config{
		HeartbeatInterval: time.Duration(c.Notifier.HeartbeatIntervalMs) * time.Millisecond,
		ReadTimeout:       time.Duration(c.Notifier.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(c.Notifier.WriteTimeoutMs) * time.Millisecond,
		MaxMessageSize:    c.Notifier.MaxMessageSize,
		MaxSessions:       c.Notifier.MaxSessions,
	}
}

// ToJournalConfig converts to journal config
func (c *Config) ToJournalConfig() journal.Config {
	return journal.Config{
		Type:           journal.Type(c.Journal.Type),
		DataDir:        c.Journal.DataDir,
		BatchSize:      c.Journal.BatchSize,
		SyncInterval:   time.Duration(c.Journal.SyncIntervalMs) * time.Millisecond,
		SyncWrites:     c.Journal.SyncWrites,
		Retention:      time.Duration(c.Journal.RetentionHours) * time.Hour,
		MemoryCapacity: c.Journal.MemoryCapacity,
		ListLimit:      c.Journal.ListLimit,
	}
}

// ToLinesConfig converts to the FIFO input config. ok is false when no
// input path is configured.
func (c *Config) ToLinesConfig() (config source.LinesConfig, ok bool) {
	if c.Input.FIFOPath == "" {
		return source.LinesConfig{}, false
	}
	return source.LinesConfig{
		Path:        c.Input.FIFOPath,
		DefaultSeat: domain.SeatID(c.Input.DefaultSeat),
		Reopen:      c.Input.Reopen,
		ReopenDelay: time.Duration(c.Input.ReopenDelayMs) * time.Millisecond,
	}, true
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	config := logging.DefaultConfig()
	config.Level = logging.LogLevel(c.Logging.Level)
	config.Format = logging.LogFormat(c.Logging.Format)
	config.IncludeCaller = c.Logging.IncludeCaller
	config.NoColor = c.Logging.NoColor
	for k, v := range c.Logging.GlobalFields {
		config.GlobalFields[k] = v
	}
	return config
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	config := telemetry.DefaultConfig()
	config.Enabled = c.Telemetry.Enabled
	config.Endpoint = c.Telemetry.Endpoint
	config.Insecure = c.Telemetry.Insecure
	config.SamplingRatio = c.Telemetry.SamplingRatio
	if c.Telemetry.ServiceName != "" {
		config.ServiceName = c.Telemetry.ServiceName
	}
	for k, v := range c.Telemetry.Attributes {
		config.Attributes[k] = v
	}
	return config
}
