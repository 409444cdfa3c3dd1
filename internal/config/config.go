package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Retry     RetryConfig     `yaml:"retry"`
	Assistant AssistantConfig `yaml:"assistant"`
	Transport TransportConfig `yaml:"transport"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Guard     GuardConfig     `yaml:"guard"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig controls the unit-of-work retry policy for transient failures.
type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// AssistantConfig contains text generation settings.
type AssistantConfig struct {
	APIKey      string   `yaml:"-"` // env-only, never in YAML
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	Timeout     Duration `yaml:"timeout"`
}

// TransportConfig contains chat transport settings.
// An empty token selects the log-only sender.
type TransportConfig struct {
	Token       string   `yaml:"-"` // env-only, never in YAML
	PollTimeout Duration `yaml:"poll_timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// SchedulerConfig contains trigger timing for every background job.
type SchedulerConfig struct {
	Timezone          string   `yaml:"timezone"`
	DailySummaryHour  int      `yaml:"daily_summary_hour"`
	WeeklyFinanceCron string   `yaml:"weekly_finance_cron"`
	PaymentsCron      string   `yaml:"payments_cron"`
	EffectivenessCron string   `yaml:"effectiveness_cron"`
	UpcomingInterval  Duration `yaml:"upcoming_interval"`
	UpcomingWindow    Duration `yaml:"upcoming_window"`
	WorkloadWindow    Duration `yaml:"workload_window"`
	OverdueInterval   Duration `yaml:"overdue_interval"`
	OverdueFloor      Duration `yaml:"overdue_floor"`
	ReminderHorizon   Duration `yaml:"reminder_horizon"`
	ReconcileDelay    Duration `yaml:"reconcile_delay"`
	AnalysisInterval  Duration `yaml:"analysis_interval"`
}

// GuardConfig contains delivery guard settings.
// An empty RedisURL selects the in-process guard.
type GuardConfig struct {
	RedisURL string   `yaml:"-"` // env-only, may carry credentials
	TTL      Duration `yaml:"ttl"`
}

// ArchiveConfig contains S3-compatible report archive settings.
// An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
	UseSSL    *bool  `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Location resolves the scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// A .env file (NUDGE_ENV_FILE, default ".env") is read first; variables
// already present in the process environment win over it.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("NUDGE_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := newDefaults()

	configPath := getEnv("NUDGE_CONFIG_PATH", "config/nudge.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/nudge.db",
		},
		Retry: RetryConfig{
			Attempts: 3,
			Backoff:  Duration(1 * time.Second),
		},
		Assistant: AssistantConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			Timeout:     Duration(30 * time.Second),
		},
		Transport: TransportConfig{
			PollTimeout: Duration(30 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Timezone:          "UTC",
			DailySummaryHour:  9,
			WeeklyFinanceCron: "0 10 * * 1",
			PaymentsCron:      "0 8 * * 1",
			EffectivenessCron: "0 3 * * *",
			UpcomingInterval:  Duration(10 * time.Minute),
			UpcomingWindow:    Duration(15 * time.Minute),
			WorkloadWindow:    Duration(2 * time.Hour),
			OverdueInterval:   Duration(30 * time.Minute),
			OverdueFloor:      Duration(4 * time.Hour),
			ReminderHorizon:   Duration(24 * time.Hour),
			ReconcileDelay:    Duration(1 * time.Minute),
			AnalysisInterval:  Duration(7 * 24 * time.Hour),
		},
		Guard: GuardConfig{
			TTL: Duration(10 * time.Minute),
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: &useSSL,
			Prefix: "reports",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	setInt("NUDGE_PORT", &cfg.Server.Port)
	setDuration("NUDGE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("NUDGE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("NUDGE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("NUDGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	setInt("NUDGE_RETRY_ATTEMPTS", &cfg.Retry.Attempts)
	setDuration("NUDGE_RETRY_BACKOFF", &cfg.Retry.Backoff)

	// Assistant (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Assistant.APIKey = v
	}
	if v := os.Getenv("NUDGE_ASSISTANT_MODEL"); v != "" {
		cfg.Assistant.Model = v
	}
	if v := os.Getenv("NUDGE_ASSISTANT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Assistant.Temperature = f
		}
	}

	// Transport
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Transport.Token = v
	}

	// Auth
	if v := os.Getenv("NUDGE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Scheduler
	if v := os.Getenv("NUDGE_TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}
	setInt("NUDGE_DAILY_SUMMARY_HOUR", &cfg.Scheduler.DailySummaryHour)
	if v := os.Getenv("NUDGE_WEEKLY_FINANCE_CRON"); v != "" {
		cfg.Scheduler.WeeklyFinanceCron = v
	}
	if v := os.Getenv("NUDGE_PAYMENTS_CRON"); v != "" {
		cfg.Scheduler.PaymentsCron = v
	}
	if v := os.Getenv("NUDGE_EFFECTIVENESS_CRON"); v != "" {
		cfg.Scheduler.EffectivenessCron = v
	}
	setDuration("NUDGE_UPCOMING_INTERVAL", &cfg.Scheduler.UpcomingInterval)
	setDuration("NUDGE_UPCOMING_WINDOW", &cfg.Scheduler.UpcomingWindow)
	setDuration("NUDGE_WORKLOAD_WINDOW", &cfg.Scheduler.WorkloadWindow)
	setDuration("NUDGE_OVERDUE_INTERVAL", &cfg.Scheduler.OverdueInterval)
	setDuration("NUDGE_OVERDUE_FLOOR", &cfg.Scheduler.OverdueFloor)
	setDuration("NUDGE_REMINDER_HORIZON", &cfg.Scheduler.ReminderHorizon)
	setDuration("NUDGE_RECONCILE_DELAY", &cfg.Scheduler.ReconcileDelay)

	// Guard
	if v := os.Getenv("NUDGE_REDIS_URL"); v != "" {
		cfg.Guard.RedisURL = v
	}
	setDuration("NUDGE_GUARD_TTL", &cfg.Guard.TTL)

	// Archive
	if v := os.Getenv("NUDGE_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("NUDGE_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("NUDGE_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("NUDGE_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("NUDGE_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("NUDGE_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Archive.UseSSL = &useSSL
	}

	// Log
	if v := os.Getenv("NUDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NUDGE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (NUDGE_DEV_MODE=true), secret validation is skipped.
func (c *Config) validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scheduler.DailySummaryHour < 0 || c.Scheduler.DailySummaryHour > 23 {
		return fmt.Errorf("scheduler.daily_summary_hour must be 0-23, got %d", c.Scheduler.DailySummaryHour)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}

	if os.Getenv("NUDGE_DEV_MODE") == "true" {
		return nil
	}

	if c.Assistant.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Transport.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("NUDGE_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
