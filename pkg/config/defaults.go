package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStateDefaults(&cfg.State)
	applyTargetDefaults(&cfg.Target)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
}

// applyStateDefaults sets state store defaults.
func applyStateDefaults(cfg *StateConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	// Initialize maps if nil
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/var/lib/dittofab/state"
	}
}

// applyTargetDefaults sets target defaults.
func applyTargetDefaults(cfg *TargetConfig) {
	if cfg.Name == "" {
		cfg.Name = "dittofab"
	}

	for i := range cfg.Transports {
		tr := &cfg.Transports[i]
		tr.Type = strings.ToLower(tr.Type)
		// Zero sizes are left alone: the engine substitutes its own defaults.
	}

	for i := range cfg.Subsystems {
		ss := &cfg.Subsystems[i]
		if ss.NumNamespaces == 0 {
			ss.NumNamespaces = 32
		}
	}

	for i := range cfg.Listeners {
		ln := &cfg.Listeners[i]
		ln.Trtype = strings.ToLower(ln.Trtype)
		if ln.Adrfam == "" {
			ln.Adrfam = "ipv4"
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Server:  ServerConfig{},
		State: StateConfig{
			Badger: make(map[string]any),
			S3:     make(map[string]any),
		},
		Target: TargetConfig{
			EnableDiscovery: true,
			Transports: []TransportConfig{
				{Type: "tcp"},
			},
			Listeners: []ListenerConfig{
				{Trtype: "tcp", Traddr: "127.0.0.1", Trsvcid: "4420"},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
