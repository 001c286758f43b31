package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoFab configuration.
//
// This structure captures all configurable aspects of the control plane
// including:
//   - Logging configuration
//   - Server-wide settings (shutdown, engine poll cadence)
//   - State store selection and configuration (store-specific)
//   - The declarative target definition (transports, subsystems, listeners)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOFAB_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// Each state store backend defines its own configuration shape. The
// State section contains type-specific subsections (e.g. state.badger,
// state.s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// State specifies the state store type and type-specific configuration
	State StateConfig `mapstructure:"state"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Target is the declarative definition of the target to bring up
	Target TargetConfig `mapstructure:"target" validate:"required"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// PollInterval is the cadence of the engine completion poll loop
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on the global metrics registry
	Enabled bool `mapstructure:"enabled"`

	// Port for the metrics HTTP server (default 9090)
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// StateConfig specifies state store configuration.
//
// The Type field determines which backend is used. Only the corresponding
// type-specific configuration section is consulted.
type StateConfig struct {
	// Type specifies which state store backend to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory badger s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// TargetConfig is the declarative definition of a target.
type TargetConfig struct {
	// Name identifies the target
	Name string `mapstructure:"name" validate:"required"`

	// EnableDiscovery creates the well-known discovery subsystem
	EnableDiscovery bool `mapstructure:"enable_discovery"`

	// Transports lists the fabric transports to attach, in order
	Transports []TransportConfig `mapstructure:"transports" validate:"dive"`

	// Subsystems lists the subsystems to create, in order
	Subsystems []SubsystemConfig `mapstructure:"subsystems" validate:"dive"`

	// Listeners lists the fabric addresses to accept connections on
	Listeners []ListenerConfig `mapstructure:"listeners" validate:"dive"`
}

// TransportConfig defines a single fabric transport.
type TransportConfig struct {
	// Type is the fabric transport type
	// Valid values: tcp, rdma
	Type string `mapstructure:"type" validate:"required,oneof=tcp rdma"`

	// MaxQueueDepth bounds outstanding commands per queue pair (0 = engine default)
	MaxQueueDepth uint16 `mapstructure:"max_queue_depth"`

	// MaxIOSize bounds a single I/O request in bytes (0 = engine default)
	MaxIOSize uint32 `mapstructure:"max_io_size"`

	// IOUnitSize is the I/O unit the transport splits requests into (0 = engine default)
	IOUnitSize uint32 `mapstructure:"io_unit_size"`
}

// SubsystemConfig defines a single subsystem.
type SubsystemConfig struct {
	// NQN is the subsystem's qualified name (must start with "nqn.")
	NQN string `mapstructure:"nqn" validate:"required,startswith=nqn."`

	// NumNamespaces is the namespace capacity to reserve
	NumNamespaces uint32 `mapstructure:"num_namespaces"`

	// AllowAnyHost opens the subsystem to any host
	AllowAnyHost bool `mapstructure:"allow_any_host"`
}

// ListenerConfig defines a fabric address the target listens on.
type ListenerConfig struct {
	// Trtype is the fabric transport type the listener uses
	Trtype string `mapstructure:"trtype" validate:"required,oneof=tcp rdma"`

	// Adrfam is the address family
	// Valid values: ipv4, ipv6
	Adrfam string `mapstructure:"adrfam" validate:"omitempty,oneof=ipv4 ipv6"`

	// Traddr is the transport address (host)
	Traddr string `mapstructure:"traddr" validate:"required"`

	// Trsvcid is the transport service identifier (port)
	Trsvcid string `mapstructure:"trsvcid" validate:"required"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOFAB_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTOFAB_ prefix and underscores.
	// Example: DITTOFAB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOFAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable, defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittofab")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittofab")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
