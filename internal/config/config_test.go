package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "watchover.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected default threshold 0.5, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Errorf("Expected default debounce window 5s, got %v", cfg.DebounceWindow)
	}
	if cfg.AlertLogCapacity != 10 {
		t.Errorf("Expected default log capacity 10, got %d", cfg.AlertLogCapacity)
	}
	if cfg.AlertTopic != "watchover/alerts" {
		t.Errorf("Unexpected default topic %s", cfg.AlertTopic)
	}
	if cfg.BrokerURL() != "tcp://localhost:1883" {
		t.Errorf("Unexpected broker url %s", cfg.BrokerURL())
	}
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("CAMERA_URL", "http://10.0.0.5/capture")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("DEBOUNCE_WINDOW", "12s")
	t.Setenv("ALERT_CLASSES", "person, dog ,,car")
	t.Setenv("START_ARMED", "true")
	t.Setenv("BROKER_PORT", "8883")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.CameraURL != "http://10.0.0.5/capture" {
		t.Errorf("Camera URL not overridden: %s", cfg.CameraURL)
	}
	if cfg.ConfidenceThreshold != 0.75 {
		t.Errorf("Expected threshold 0.75, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.DebounceWindow != 12*time.Second {
		t.Errorf("Expected window 12s, got %v", cfg.DebounceWindow)
	}
	if strings.Join(cfg.AlertClasses, "|") != "person|dog|car" {
		t.Errorf("Unexpected classes: %v", cfg.AlertClasses)
	}
	if !cfg.StartArmed {
		t.Error("Expected StartArmed to be true")
	}
	if cfg.BrokerPort != 8883 {
		t.Errorf("Expected broker port 8883, got %d", cfg.BrokerPort)
	}
}

func TestLoadFile_InvalidEnvIsConfigError(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "PORT", "eighty"},
		{"bad duration", "CYCLE_INTERVAL", "fast"},
		{"bad float", "CONFIDENCE_THRESHOLD", "high"},
		{"bad bool", "AUTO_START", "maybe"},
		{"out of range threshold", "CONFIDENCE_THRESHOLD", "1.5"},
		{"zero capacity", "ALERT_LOG_CAPACITY", "0"},
		{"bad qos", "MQTT_QOS", "3"},
		{"bad camera url", "CAMERA_URL", "not a url"},
		{"frame limit past 256MB", "CAMERA_MAX_FRAME_BYTES", "9223372036854775807"},
		{"unknown backend", "DETECTOR_BACKEND", "tensorflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadFile("")
			if err == nil {
				t.Fatalf("Expected error for %s=%s", tt.key, tt.value)
			}

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %T: %v", err, err)
			}
			if len(cfgErr.Problems) == 0 {
				t.Error("Expected at least one problem")
			}
		})
	}
}

func TestValidate_ReportsYamlKeys(t *testing.T) {
	cfg := Default()
	cfg.ConfidenceThreshold = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "confidence_threshold") {
		t.Errorf("Expected yaml key in error, got: %v", err)
	}
}

func TestValidate_RemoteBackendNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.DetectorBackend = "remote"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected error for remote backend without url")
	}

	cfg.DetectorURL = "http://inference.local/detect"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
}

func TestLoadFile_YamlThenEnv(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), `
camera_url: http://cam.local/capture
confidence_threshold: 0.6
debounce_window: 2s
alert_classes: [person, cat]
broker_host: broker.local
cycle_interval: 250ms
`)
	t.Setenv("BROKER_HOST", "10.1.1.1")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.CameraURL != "http://cam.local/capture" {
		t.Errorf("Camera URL not read from file: %s", cfg.CameraURL)
	}
	if cfg.DebounceWindow != 2*time.Second || cfg.CycleInterval != 250*time.Millisecond {
		t.Errorf("Durations not read from file: %v %v", cfg.DebounceWindow, cfg.CycleInterval)
	}
	if len(cfg.AlertClasses) != 2 {
		t.Errorf("Expected 2 classes, got %v", cfg.AlertClasses)
	}
	if cfg.BrokerHost != "10.1.1.1" {
		t.Errorf("Environment should win over file, got %s", cfg.BrokerHost)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile not recorded: %s", cfg.ConfigFile)
	}
	// untouched keys keep defaults
	if cfg.AlertLogCapacity != 10 {
		t.Errorf("Expected default capacity, got %d", cfg.AlertLogCapacity)
	}
}

func TestLoad_DotEnvRanksBetweenYamlAndEnvironment(t *testing.T) {
	for _, key := range []string{"BROKER_HOST", "BROKER_PORT"} {
		if _, ok := os.LookupEnv(key); ok {
			t.Skipf("%s is set in the test environment", key)
		}
	}

	dir := t.TempDir()
	path := writeConfigFile(t, dir, `
camera_url: http://cam.local/capture
broker_host: from-yaml.local
broker_port: 1000
cycle_interval: 250ms
`)
	dotenv := "BROKER_HOST=from-dotenv.local\nBROKER_PORT=2000\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(wd)
		// godotenv writes straight into the process environment
		os.Unsetenv("BROKER_HOST")
		os.Unsetenv("BROKER_PORT")
	})

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BROKER_PORT", "3000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BrokerHost != "from-dotenv.local" {
		t.Errorf(".env should win over the YAML file, got %s", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 3000 {
		t.Errorf("Environment should win over .env, got %d", cfg.BrokerPort)
	}
	if cfg.CycleInterval != 250*time.Millisecond {
		t.Errorf("YAML should still apply to keys .env leaves alone, got %v", cfg.CycleInterval)
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected wrapped not-exist error, got %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "confidence_threshold: 0.5\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	if err := Watch(ctx, path, func(c *Config) { changes <- c }, func(err error) { errs <- err }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeConfigFile(t, dir, "confidence_threshold: 0.8\n")

	select {
	case cfg := <-changes:
		if cfg.ConfidenceThreshold != 0.8 {
			t.Errorf("Expected reloaded threshold 0.8, got %v", cfg.ConfidenceThreshold)
		}
	case err := <-errs:
		t.Fatalf("Unexpected watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatch_InvalidFileKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "confidence_threshold: 0.5\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	if err := Watch(ctx, path, func(c *Config) { changes <- c }, func(err error) { errs <- err }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeConfigFile(t, dir, "confidence_threshold: 7\n")

	select {
	case err := <-errs:
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected *ConfigError, got %v", err)
		}
	case <-changes:
		t.Fatal("Invalid config must not be applied")
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload error")
	}
}

func TestWatch_RequiresPath(t *testing.T) {
	if err := Watch(context.Background(), "", func(*Config) {}, func(error) {}); err == nil {
		t.Error("Expected error without a file")
	}
}
