package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	// Redirect the config directory into a temp dir
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	// Verify config file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}

	if configPath != filepath.Join(tmpDir, "dittofab", "config.yaml") {
		t.Errorf("Unexpected config path: %s", configPath)
	}

	// Verify the generated file is valid YAML
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	for _, section := range []string{"logging", "server", "state", "target"} {
		if _, ok := doc[section]; !ok {
			t.Errorf("Generated config is missing section %q", section)
		}
	}

	// Verify the generated file round-trips through Load
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}
	if cfg.Target.Name != "dittofab" {
		t.Errorf("Expected default target name in generated config, got %q", cfg.Target.Name)
	}
}

func TestInitConfig_ExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	// Second init without force must refuse to overwrite
	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config file already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}

	// With force it succeeds
	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}
}

func TestConfigExists(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if ConfigExists() {
		t.Error("Expected ConfigExists to be false before init")
	}

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	if !ConfigExists() {
		t.Error("Expected ConfigExists to be true after init")
	}
}
