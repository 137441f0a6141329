package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig should not return nil")
	}

	if config.Database.Path == "" {
		t.Error("Default database path should not be empty")
	}

	if config.HTTP.Port <= 0 {
		t.Error("Default HTTP port should be positive")
	}

	if config.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("Default heartbeat interval = %v, want 30s", config.Gateway.HeartbeatInterval)
	}

	if config.Gateway.MissedBeatLimit != 2 {
		t.Errorf("Default missed beat limit = %d, want 2", config.Gateway.MissedBeatLimit)
	}

	if config.Gateway.MaxFileSize != 10*1024*1024 {
		t.Errorf("Default max file size = %d, want 10MB", config.Gateway.MaxFileSize)
	}

	if config.AMQP.Enabled {
		t.Error("AMQP mirror should be disabled by default")
	}

	if config.Escalation.SweepSchedule == "" {
		t.Error("Default sweep schedule should not be empty")
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Valid config should pass validation: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative port", func(c *Config) { c.HTTP.Port = -1 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero heartbeat interval", func(c *Config) { c.Gateway.HeartbeatInterval = 0 }},
		{"zero missed beat limit", func(c *Config) { c.Gateway.MissedBeatLimit = 0 }},
		{"zero max file size", func(c *Config) { c.Gateway.MaxFileSize = 0 }},
		{"no allowed formats", func(c *Config) { c.Gateway.AllowedFileFormats = nil }},
		{"amqp enabled without url", func(c *Config) { c.AMQP.Enabled = true; c.AMQP.URL = "" }},
		{"empty sweep schedule", func(c *Config) { c.Escalation.SweepSchedule = "" }},
		{"zero stale age", func(c *Config) { c.Escalation.StaleAge = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)
			if err := config.Validate(); err == nil {
				t.Errorf("Expected validation failure for %s", tc.name)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LIVEDESK_HTTP_PORT", "9090")
	t.Setenv("LIVEDESK_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("LIVEDESK_GATEWAY_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("LIVEDESK_GATEWAY_FILE_FORMATS", "pdf, PNG ,txt")
	t.Setenv("LIVEDESK_AUTH_SECRET", "env-secret")
	t.Setenv("LIVEDESK_AUTH_USERS_FILE", "/etc/livedesk/users.yaml")
	t.Setenv("LIVEDESK_AMQP_ENABLED", "true")
	t.Setenv("LIVEDESK_ESCALATION_STALE_AGE", "48h")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", config.Database.Path)
	}
	if config.Gateway.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected 10s heartbeat interval, got %v", config.Gateway.HeartbeatInterval)
	}
	want := []string{"pdf", "png", "txt"}
	if len(config.Gateway.AllowedFileFormats) != len(want) {
		t.Fatalf("Expected %d formats, got %v", len(want), config.Gateway.AllowedFileFormats)
	}
	for i, format := range want {
		if config.Gateway.AllowedFileFormats[i] != format {
			t.Errorf("Format[%d] = %q, want %q", i, config.Gateway.AllowedFileFormats[i], format)
		}
	}
	if config.Auth.Secret != "env-secret" || config.Auth.UsersFile != "/etc/livedesk/users.yaml" {
		t.Errorf("Auth config not loaded from env: %+v", config.Auth)
	}
	if !config.AMQP.Enabled {
		t.Error("Expected AMQP enabled from env")
	}
	if config.Escalation.StaleAge != 48*time.Hour {
		t.Errorf("Expected 48h stale age, got %v", config.Escalation.StaleAge)
	}
}

// TECHNICAL VALIDATION TEST: JSON configuration file parsing
func TestConfig_LoadFromFileJSON(t *testing.T) {
	configContent := `{
		"database": {
			"path": "/tmp/testfile.db",
			"timeout": "30s"
		},
		"http": {
			"port": 8081,
			"read_timeout": "10s",
			"write_timeout": "10s"
		},
		"auth": {
			"secret": "file-secret",
			"users_file": "/tmp/users.yaml"
		}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(configContent), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.Database.Path != "/tmp/testfile.db" {
		t.Errorf("Expected database path /tmp/testfile.db, got %s", config.Database.Path)
	}
	if config.HTTP.Port != 8081 {
		t.Errorf("Expected HTTP port 8081, got %d", config.HTTP.Port)
	}
	if config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Expected 10s read timeout, got %v", config.HTTP.ReadTimeout)
	}
	if config.Auth.Secret != "file-secret" || config.Auth.UsersFile != "/tmp/users.yaml" {
		t.Errorf("Auth config not loaded from file: %+v", config.Auth)
	}
	// Unspecified sections keep their defaults
	if config.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("Unspecified gateway section should keep defaults, got %v", config.Gateway.HeartbeatInterval)
	}
}

// TECHNICAL VALIDATION TEST: YAML configuration file parsing
func TestConfig_LoadFromFileYAML(t *testing.T) {
	configContent := `
database:
  path: /tmp/from-yaml.db
gateway:
  heartbeat_interval: 15s
  missed_beat_limit: 3
amqp:
  enabled: true
  url: amqp://broker:5672/
  exchange: livedesk.test
escalation:
  sweep_schedule: "*/2 * * * *"
  stale_age: 12h
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configContent), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.Database.Path != "/tmp/from-yaml.db" {
		t.Errorf("Expected database path /tmp/from-yaml.db, got %s", config.Database.Path)
	}
	if config.Gateway.HeartbeatInterval != 15*time.Second {
		t.Errorf("Expected 15s heartbeat interval, got %v", config.Gateway.HeartbeatInterval)
	}
	if config.Gateway.MissedBeatLimit != 3 {
		t.Errorf("Expected missed beat limit 3, got %d", config.Gateway.MissedBeatLimit)
	}
	if !config.AMQP.Enabled || config.AMQP.Exchange != "livedesk.test" {
		t.Errorf("AMQP config not loaded: %+v", config.AMQP)
	}
	if config.Escalation.SweepSchedule != "*/2 * * * *" {
		t.Errorf("Expected custom sweep schedule, got %q", config.Escalation.SweepSchedule)
	}
	if config.Escalation.StaleAge != 12*time.Hour {
		t.Errorf("Expected 12h stale age, got %v", config.Escalation.StaleAge)
	}
}

func TestConfig_LoadFromFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 99999}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("Out-of-range port should fail validation")
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Missing file should return an error")
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration precedence: file > environment > defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("LIVEDESK_HTTP_PORT", "9090")

	// Without a file the environment wins
	config := LoadConfigWithPrecedence("")
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected env port 9090, got %d", config.HTTP.Port)
	}

	// With a file the file wins
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 7070}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	config = LoadConfigWithPrecedence(path)
	if config.HTTP.Port != 7070 {
		t.Errorf("Expected file port 7070, got %d", config.HTTP.Port)
	}

	// A broken file falls back to environment
	broken := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(broken, []byte(`not json`), 0o600); err != nil {
		t.Fatal(err)
	}
	config = LoadConfigWithPrecedence(broken)
	if config.HTTP.Port != 9090 {
		t.Errorf("Expected fallback to env port 9090, got %d", config.HTTP.Port)
	}
}
