// Package config handles loading and validating luna configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/db"
	"github.com/lunabadge/luna/internal/logging"
	"github.com/lunabadge/luna/internal/orchestrator"
	"github.com/lunabadge/luna/internal/retry"
	"github.com/lunabadge/luna/internal/scheduler"
)

// Config holds all luna configuration.
type Config struct {
	Bus          BusConfig          `mapstructure:"bus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Health       HealthConfig       `mapstructure:"health"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	DB           DBConfig           `mapstructure:"db"`
	Intent       IntentConfig       `mapstructure:"intent"`
	Navigation   NavigationConfig   `mapstructure:"navigation"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	HistorySize  int           `mapstructure:"history_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// OrchestratorConfig configures the orchestrator.
type OrchestratorConfig struct {
	FeedbackQueueSize int           `mapstructure:"feedback_queue_size"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	VisionInterval    time.Duration `mapstructure:"vision_interval"`
	ActionLogSize     int           `mapstructure:"action_log_size"`
}

// RetryConfig configures the retry queue and how often it is drained.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
	Schedule    string        `mapstructure:"schedule"` // cron spec; empty disables
}

// HealthConfig configures periodic module health snapshots.
type HealthConfig struct {
	Schedule string `mapstructure:"schedule"` // cron spec; empty disables
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`  // debug, info, warn, error
	Path          string `mapstructure:"path"`   // log directory
	Format        string `mapstructure:"format"` // json, text
	RetentionDays int    `mapstructure:"retention_days"`
}

// DBConfig configures the SQLite database.
type DBConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// IntentConfig configures the keyword classifier.
type IntentConfig struct {
	VocabularyFile string `mapstructure:"vocabulary_file"` // YAML keyword tables; empty uses built-ins
}

// NavigationConfig is the route table of the static navigator. Keys are
// facility names ("toilet", "elevator") and destination names. Viper
// lowercases keys, so destinations are matched case-insensitively.
type NavigationConfig struct {
	Facilities   map[string]Route `mapstructure:"facilities"`
	Destinations map[string]Route `mapstructure:"destinations"`
}

// Route is a precomputed route.
type Route struct {
	Distance  float64  `mapstructure:"distance"`
	Direction string   `mapstructure:"direction"`
	Nodes     []string `mapstructure:"nodes"`
}

// Default values.
const (
	DefaultRetrySchedule  = "@every 10s"
	DefaultHealthSchedule = "@every 1m"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRetentionDays  = 7
	DefaultLogPath        = "~/.local/share/luna/logs"
	DefaultDBPath         = "~/.local/share/luna/luna.db"

	ProjectConfigName = "luna.yaml"
	envPrefix         = "LUNA"
)

// Validation errors.
var (
	ErrInvalidQueueSize     = errors.New("bus.queue_size must not be negative")
	ErrInvalidHistorySize   = errors.New("bus.history_size must not be negative")
	ErrInvalidPollInterval  = errors.New("bus.poll_interval must not be negative")
	ErrInvalidFeedbackQueue = errors.New("orchestrator.feedback_queue_size must not be negative")
	ErrInvalidActionLogSize = errors.New("orchestrator.action_log_size must not be negative")
	ErrInvalidMaxAttempts   = errors.New("retry.max_attempts must not be negative")
	ErrInvalidRetryInterval = errors.New("retry.interval must not be negative")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrInvalidLogLevel      = errors.New("logging.level must be debug, info, warn, or error")
	ErrInvalidLogFormat     = errors.New("logging.format must be json or text")
	ErrInvalidRetention     = errors.New("logging.retention_days must not be negative")
	ErrInvalidRoute         = errors.New("invalid route")
)

// Load reads the global config, then ./luna.yaml, then LUNA_* environment
// variables, each overriding the previous.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return LoadFromPaths(cwd, GlobalConfigPath())
}

// LoadFrom reads a single config file plus environment overrides.
func LoadFrom(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(expandPath(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// LoadFromPaths merges globalPath and projectDir/luna.yaml over the
// defaults. Missing files are skipped.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := newViper()

	if err := mergeFile(v, globalPath); err != nil {
		return nil, err
	}
	if projectDir != "" {
		if err := mergeFile(v, filepath.Join(projectDir, ProjectConfigName)); err != nil {
			return nil, err
		}
	}
	return decode(v)
}

// GlobalConfigPath returns the per-user config file location.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "luna", "config.yaml")
	}
	return filepath.Join(home, ".config", "luna", "config.yaml")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func mergeFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	path = expandPath(path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Path = expandPath(cfg.Logging.Path)
	cfg.DB.Path = expandPath(cfg.DB.Path)
	cfg.Intent.VocabularyFile = expandPath(cfg.Intent.VocabularyFile)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.queue_size", bus.DefaultQueueSize)
	v.SetDefault("bus.history_size", bus.DefaultHistorySize)
	v.SetDefault("bus.poll_interval", bus.DefaultPollInterval)
	v.SetDefault("bus.stop_timeout", bus.DefaultStopTimeout)

	v.SetDefault("orchestrator.feedback_queue_size", orchestrator.DefaultFeedbackQueueSize)
	v.SetDefault("orchestrator.stop_timeout", orchestrator.DefaultStopTimeout)
	v.SetDefault("orchestrator.vision_interval", orchestrator.DefaultVisionInterval)
	v.SetDefault("orchestrator.action_log_size", orchestrator.DefaultActionLogSize)

	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.interval", retry.DefaultInterval)
	v.SetDefault("retry.schedule", DefaultRetrySchedule)
	v.SetDefault("health.schedule", DefaultHealthSchedule)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.path", DefaultLogPath)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.retention_days", DefaultRetentionDays)

	v.SetDefault("db.path", DefaultDBPath)
	v.SetDefault("db.busy_timeout", db.DefaultBusyTimeout)
	v.SetDefault("intent.vocabulary_file", "")

	v.SetDefault("navigation.facilities", map[string]any{
		"toilet":   map[string]any{"distance": 20, "direction": "左侧", "nodes": []string{"entrance", "corridor", "toilet"}},
		"elevator": map[string]any{"distance": 30, "direction": "左侧", "nodes": []string{"entrance", "lobby", "elevator"}},
	})
	v.SetDefault("navigation.destinations", map[string]any{})
}

// Validate checks cfg. Zero values are allowed and mean "use the default".
func Validate(cfg *Config) error {
	if cfg.Bus.QueueSize < 0 {
		return ErrInvalidQueueSize
	}
	if cfg.Bus.HistorySize < 0 {
		return ErrInvalidHistorySize
	}
	if cfg.Bus.PollInterval < 0 {
		return ErrInvalidPollInterval
	}
	if cfg.Orchestrator.FeedbackQueueSize < 0 {
		return ErrInvalidFeedbackQueue
	}
	if cfg.Orchestrator.ActionLogSize < 0 {
		return ErrInvalidActionLogSize
	}
	if cfg.Retry.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	if cfg.Retry.Interval < 0 {
		return ErrInvalidRetryInterval
	}
	if err := validateSchedule("retry.schedule", cfg.Retry.Schedule); err != nil {
		return err
	}
	if err := validateSchedule("health.schedule", cfg.Health.Schedule); err != nil {
		return err
	}

	if cfg.Logging.Level != "" {
		if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
			return ErrInvalidLogLevel
		}
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}
	if cfg.Logging.RetentionDays < 0 {
		return ErrInvalidRetention
	}

	for name, r := range cfg.Navigation.Facilities {
		if r.Distance < 0 {
			return fmt.Errorf("%w: navigation.facilities.%s has negative distance %v", ErrInvalidRoute, name, r.Distance)
		}
	}
	for name, r := range cfg.Navigation.Destinations {
		if r.Distance < 0 {
			return fmt.Errorf("%w: navigation.destinations.%s has negative distance %v", ErrInvalidRoute, name, r.Distance)
		}
	}
	return nil
}

func validateSchedule(field, spec string) error {
	if spec == "" {
		return nil
	}
	if err := scheduler.Validate(spec); err != nil {
		return fmt.Errorf("%w: %s %q", ErrInvalidSchedule, field, spec)
	}
	return nil
}

// BusSettings converts to the bus package's configuration.
func (c *Config) BusSettings() bus.Config {
	return bus.Config{
		QueueSize:    c.Bus.QueueSize,
		HistorySize:  c.Bus.HistorySize,
		PollInterval: c.Bus.PollInterval,
	}
}

// OrchestratorSettings converts to the orchestrator's configuration. The
// feedback table is left nil so the orchestrator uses its vocabulary.
func (c *Config) OrchestratorSettings() orchestrator.Config {
	return orchestrator.Config{
		FeedbackQueueSize: c.Orchestrator.FeedbackQueueSize,
		StopTimeout:       c.Orchestrator.StopTimeout,
		VisionInterval:    c.Orchestrator.VisionInterval,
		ActionLogSize:     c.Orchestrator.ActionLogSize,
	}
}

// RetrySettings converts to the retry queue's configuration.
func (c *Config) RetrySettings() retry.Config {
	return retry.Config{MaxAttempts: c.Retry.MaxAttempts, Interval: c.Retry.Interval}
}

// LoggingSettings converts to the logging package's configuration.
func (c *Config) LoggingSettings() logging.Config {
	return logging.Config{
		Level:         c.Logging.Level,
		Path:          c.Logging.Path,
		Format:        c.Logging.Format,
		RetentionDays: c.Logging.RetentionDays,
	}
}

// DBPath returns the configured database path, or the default.
func (c *Config) DBPath() string {
	if c.DB.Path == "" {
		return db.DefaultPath()
	}
	return c.DB.Path
}

func expandPath(path string) string {
	return logging.ExpandPath(path)
}
