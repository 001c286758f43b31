package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a default configuration file to the standard location.
//
// The generated file contains the full default configuration serialized as
// YAML, ready to be edited. If a config file already exists it is left
// untouched unless force is true.
//
// Parameters:
//   - force: Overwrite an existing config file
//
// Returns:
//   - string: Path of the written config file
//   - error: Creation or serialization error
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()

	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(defaultConfigDocument())
	if err != nil {
		return "", fmt.Errorf("failed to serialize default config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// ConfigExists reports whether a config file is present at the default path.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// defaultConfigDocument builds the YAML document for InitConfig.
//
// Plain nested maps keep the output keys aligned with the mapstructure tags
// without needing yaml tags on the config structs.
func defaultConfigDocument() map[string]any {
	cfg := GetDefaultConfig()

	transports := make([]map[string]any, 0, len(cfg.Target.Transports))
	for _, tr := range cfg.Target.Transports {
		transports = append(transports, map[string]any{
			"type": tr.Type,
		})
	}

	listeners := make([]map[string]any, 0, len(cfg.Target.Listeners))
	for _, ln := range cfg.Target.Listeners {
		listeners = append(listeners, map[string]any{
			"trtype":  ln.Trtype,
			"adrfam":  ln.Adrfam,
			"traddr":  ln.Traddr,
			"trsvcid": ln.Trsvcid,
		})
	}

	return map[string]any{
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"output": cfg.Logging.Output,
		},
		"server": map[string]any{
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
			"poll_interval":    cfg.Server.PollInterval.String(),
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
		},
		"state": map[string]any{
			"type":   cfg.State.Type,
			"badger": cfg.State.Badger,
		},
		"target": map[string]any{
			"name":             cfg.Target.Name,
			"enable_discovery": cfg.Target.EnableDiscovery,
			"transports":       transports,
			"listeners":        listeners,
		},
	}
}
