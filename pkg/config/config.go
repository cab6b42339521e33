// Package config provides configuration loading from environment variables
// for the colsync replication applier.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all applier configuration loaded from environment variables.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string (required).
	DatabaseURL string

	// Database optionally overrides the database name in DatabaseURL.
	Database string

	// Slot is the replication slot to consume (default: "colsync_slot").
	Slot string

	// Publication is the publication to request (default: "colsync_pub").
	Publication string

	// PollInterval is the latch wait timeout between empty poll iterations
	// (default: 1s, max: 5s).
	PollInterval time.Duration

	// RestartDelay is the delay before respawning the applier after a crash
	// (default: 5s).
	RestartDelay time.Duration

	// StatusPort is the HTTP status endpoint port (default: 3000, 0 disables).
	StatusPort int

	// LogLevel is the logrus level name (default: "info").
	LogLevel string
}

// Default values for configuration.
const (
	DefaultSlot           = "colsync_slot"
	DefaultPublication    = "colsync_pub"
	DefaultPollIntervalMs = 1000
	MaxPollIntervalMs     = 5000
	DefaultRestartDelayS  = 5
	DefaultStatusPort     = 3000
	DefaultLogLevel       = "info"
)

// Environment variable names.
const (
	EnvDatabaseURL    = "DATABASE_URL"
	EnvDatabase       = "COLSYNC_DATABASE"
	EnvSlot           = "COLSYNC_SLOT"
	EnvPublication    = "COLSYNC_PUBLICATION"
	EnvPollIntervalMs = "COLSYNC_POLL_INTERVAL_MS"
	EnvRestartDelayS  = "COLSYNC_RESTART_DELAY_S"
	EnvStatusPort     = "COLSYNC_STATUS_PORT"
	EnvLogLevel       = "COLSYNC_LOG_LEVEL"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s: %s", e.Field, e.Message)
}

// Load reads configuration from environment variables with sensible defaults.
// It returns an error if validation fails.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  os.Getenv(EnvDatabaseURL),
		Database:     os.Getenv(EnvDatabase),
		Slot:         DefaultSlot,
		Publication:  DefaultPublication,
		PollInterval: time.Duration(DefaultPollIntervalMs) * time.Millisecond,
		RestartDelay: time.Duration(DefaultRestartDelayS) * time.Second,
		StatusPort:   DefaultStatusPort,
		LogLevel:     DefaultLogLevel,
	}

	if val := os.Getenv(EnvSlot); val != "" {
		cfg.Slot = val
	}

	if val := os.Getenv(EnvPublication); val != "" {
		cfg.Publication = val
	}

	if val := os.Getenv(EnvPollIntervalMs); val != "" {
		ms, err := strconv.Atoi(val)
		if err != nil {
			return nil, &ValidationError{Field: EnvPollIntervalMs, Message: "must be a valid integer"}
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if val := os.Getenv(EnvRestartDelayS); val != "" {
		s, err := strconv.Atoi(val)
		if err != nil {
			return nil, &ValidationError{Field: EnvRestartDelayS, Message: "must be a valid integer"}
		}
		cfg.RestartDelay = time.Duration(s) * time.Second
	}

	if val := os.Getenv(EnvStatusPort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return nil, &ValidationError{Field: EnvStatusPort, Message: "must be a valid integer"}
		}
		cfg.StatusPort = port
	}

	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.LogLevel = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
// It returns all validation errors encountered, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, &ValidationError{Field: EnvDatabaseURL, Message: "is required"})
	}

	if c.Slot == "" {
		errs = append(errs, &ValidationError{Field: EnvSlot, Message: "must not be empty"})
	}

	if c.Publication == "" {
		errs = append(errs, &ValidationError{Field: EnvPublication, Message: "must not be empty"})
	}

	if c.PollInterval <= 0 {
		errs = append(errs, &ValidationError{Field: EnvPollIntervalMs, Message: "must be positive"})
	}

	if c.PollInterval > time.Duration(MaxPollIntervalMs)*time.Millisecond {
		errs = append(errs, &ValidationError{Field: EnvPollIntervalMs, Message: fmt.Sprintf("must be at most %d", MaxPollIntervalMs)})
	}

	if c.RestartDelay < 0 {
		errs = append(errs, &ValidationError{Field: EnvRestartDelayS, Message: "must be non-negative"})
	}

	if c.StatusPort < 0 || c.StatusPort > 65535 {
		errs = append(errs, &ValidationError{Field: EnvStatusPort, Message: "must be between 0 and 65535"})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// PollIntervalMs returns the poll interval in milliseconds as an integer.
func (c *Config) PollIntervalMs() int {
	return int(c.PollInterval.Milliseconds())
}
