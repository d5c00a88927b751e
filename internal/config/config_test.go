package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/retry"
)

func TestValidate_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"queue size", Config{Bus: BusConfig{QueueSize: -1}}, ErrInvalidQueueSize},
		{"history size", Config{Bus: BusConfig{HistorySize: -1}}, ErrInvalidHistorySize},
		{"poll interval", Config{Bus: BusConfig{PollInterval: -time.Second}}, ErrInvalidPollInterval},
		{"feedback queue", Config{Orchestrator: OrchestratorConfig{FeedbackQueueSize: -1}}, ErrInvalidFeedbackQueue},
		{"action log", Config{Orchestrator: OrchestratorConfig{ActionLogSize: -5}}, ErrInvalidActionLogSize},
		{"max attempts", Config{Retry: RetryConfig{MaxAttempts: -1}}, ErrInvalidMaxAttempts},
		{"retry interval", Config{Retry: RetryConfig{Interval: -time.Minute}}, ErrInvalidRetryInterval},
		{"log level", Config{Logging: LoggingConfig{Level: "verbose"}}, ErrInvalidLogLevel},
		{"log format", Config{Logging: LoggingConfig{Format: "xml"}}, ErrInvalidLogFormat},
		{"retention", Config{Logging: LoggingConfig{RetentionDays: -1}}, ErrInvalidRetention},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(&tc.cfg); err != tc.want {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate_InvalidSchedule(t *testing.T) {
	cfg := &Config{Health: HealthConfig{Schedule: "every minute"}}

	err := Validate(cfg)
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("Validate() = %v, want ErrInvalidSchedule", err)
	}
	if !strings.Contains(err.Error(), "health.schedule") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestValidate_InvalidRoute(t *testing.T) {
	cfg := &Config{Navigation: NavigationConfig{
		Destinations: map[string]Route{"3号诊室": {Distance: -4}},
	}}

	err := Validate(cfg)
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("Validate() = %v, want ErrInvalidRoute", err)
	}
	if !strings.Contains(err.Error(), "3号诊室") {
		t.Errorf("error should name the destination, got: %v", err)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Retry:   RetryConfig{Schedule: "*/5 * * * *", MaxAttempts: 5},
		Health:  HealthConfig{Schedule: "@every 30s"},
		Logging: LoggingConfig{Level: "debug", Format: "text"},
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := Validate(&Config{}); err != nil {
		t.Errorf("zero config should be valid, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}
	for _, tc := range tests {
		if got := expandPath(tc.input); got != tc.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestLoadFromPaths_Defaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadFromPaths(tmpDir, filepath.Join(tmpDir, "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if cfg.Bus.QueueSize != bus.DefaultQueueSize {
		t.Errorf("Bus.QueueSize = %d, want %d", cfg.Bus.QueueSize, bus.DefaultQueueSize)
	}
	if cfg.Bus.PollInterval != bus.DefaultPollInterval {
		t.Errorf("Bus.PollInterval = %v, want %v", cfg.Bus.PollInterval, bus.DefaultPollInterval)
	}
	if cfg.Retry.MaxAttempts != retry.DefaultMaxAttempts || cfg.Retry.Interval != retry.DefaultInterval {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.Schedule != DefaultRetrySchedule {
		t.Errorf("Retry.Schedule = %q, want %q", cfg.Retry.Schedule, DefaultRetrySchedule)
	}
	if cfg.Health.Schedule != DefaultHealthSchedule {
		t.Errorf("Health.Schedule = %q, want %q", cfg.Health.Schedule, DefaultHealthSchedule)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if strings.HasPrefix(cfg.DB.Path, "~") {
		t.Errorf("DB.Path not expanded: %q", cfg.DB.Path)
	}
	if cfg.DB.BusyTimeout != 5*time.Second {
		t.Errorf("DB.BusyTimeout = %v, want 5s", cfg.DB.BusyTimeout)
	}
	toilet, ok := cfg.Navigation.Facilities["toilet"]
	if !ok || toilet.Distance != 20 {
		t.Errorf("default toilet route = %+v, %v", toilet, ok)
	}
}

func TestLoadFromPaths_WithYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ProjectConfigName)

	configContent := `
bus:
  queue_size: 50
  poll_interval: 250ms
orchestrator:
  vision_interval: 2s
retry:
  schedule: "@every 30s"
logging:
  level: debug
navigation:
  destinations:
    挂号:
      distance: 15
      direction: 右侧
      nodes: [lobby, registration]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPaths(tmpDir, filepath.Join(tmpDir, "nonexistent", "global.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if cfg.Bus.QueueSize != 50 {
		t.Errorf("Bus.QueueSize = %d, want 50", cfg.Bus.QueueSize)
	}
	if cfg.Bus.PollInterval != 250*time.Millisecond {
		t.Errorf("Bus.PollInterval = %v, want 250ms", cfg.Bus.PollInterval)
	}
	if cfg.Orchestrator.VisionInterval != 2*time.Second {
		t.Errorf("Orchestrator.VisionInterval = %v, want 2s", cfg.Orchestrator.VisionInterval)
	}
	if cfg.Retry.Schedule != "@every 30s" {
		t.Errorf("Retry.Schedule = %q", cfg.Retry.Schedule)
	}
	if cfg.Bus.HistorySize != bus.DefaultHistorySize {
		t.Errorf("Bus.HistorySize = %d, want default", cfg.Bus.HistorySize)
	}
	route, ok := cfg.Navigation.Destinations["挂号"]
	if !ok || route.Distance != 15 || route.Direction != "右侧" || len(route.Nodes) != 2 {
		t.Errorf("destination route = %+v, %v", route, ok)
	}
}

func TestLoadFromPaths_MergeConfigs(t *testing.T) {
	tmpDir := t.TempDir()

	globalDir := filepath.Join(tmpDir, "global")
	if err := os.MkdirAll(globalDir, 0755); err != nil {
		t.Fatal(err)
	}
	globalConfig := filepath.Join(globalDir, "config.yaml")
	globalContent := `
bus:
  queue_size: 200
logging:
  level: info
  format: text
`
	if err := os.WriteFile(globalConfig, []byte(globalContent), 0644); err != nil {
		t.Fatal(err)
	}

	projectDir := filepath.Join(tmpDir, "project")
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}
	projectContent := `
bus:
  queue_size: 20
logging:
  level: debug
`
	if err := os.WriteFile(filepath.Join(projectDir, ProjectConfigName), []byte(projectContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPaths(projectDir, globalConfig)
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if cfg.Bus.QueueSize != 20 {
		t.Errorf("Bus.QueueSize = %d, want 20 (project override)", cfg.Bus.QueueSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug (project override)", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text (from global)", cfg.Logging.Format)
	}
}

func TestLoadFromPaths_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("LUNA_BUS_QUEUE_SIZE", "7")
	t.Setenv("LUNA_RETRY_INTERVAL", "90s")

	cfg, err := LoadFromPaths(tmpDir, "")
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}
	if cfg.Bus.QueueSize != 7 {
		t.Errorf("Bus.QueueSize = %d, want 7 (env override)", cfg.Bus.QueueSize)
	}
	if cfg.Retry.Interval != 90*time.Second {
		t.Errorf("Retry.Interval = %v, want 90s (env override)", cfg.Retry.Interval)
	}
}

func TestLoadFromPaths_InvalidValue(t *testing.T) {
	tmpDir := t.TempDir()
	content := "health:\n  schedule: \"not a cron\"\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ProjectConfigName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPaths(tmpDir, ""); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("LoadFromPaths() = %v, want ErrInvalidSchedule", err)
	}
}

func TestLoadFrom(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "custom.yaml")
	if err := os.WriteFile(path, []byte("db:\n  path: /tmp/luna-test.db\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}
	if cfg.DBPath() != "/tmp/luna-test.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}

	if _, err := LoadFrom(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestSettingsConversions(t *testing.T) {
	cfg, err := LoadFromPaths(t.TempDir(), "")
	if err != nil {
		t.Fatalf("LoadFromPaths error: %v", err)
	}

	if got := cfg.BusSettings(); got.QueueSize != bus.DefaultQueueSize || got.HistorySize != bus.DefaultHistorySize {
		t.Errorf("BusSettings() = %+v", got)
	}
	if got := cfg.OrchestratorSettings(); got.Feedback != nil || got.ActionLogSize != cfg.Orchestrator.ActionLogSize {
		t.Errorf("OrchestratorSettings() = %+v", got)
	}
	if got := cfg.RetrySettings(); got.MaxAttempts != retry.DefaultMaxAttempts {
		t.Errorf("RetrySettings() = %+v", got)
	}
	if got := cfg.LoggingSettings(); got.Level != DefaultLogLevel || got.RetentionDays != DefaultRetentionDays {
		t.Errorf("LoggingSettings() = %+v", got)
	}
}
