package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration for the scheduler binary.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Settings  SettingsConfig  `yaml:"settings" json:"settings"`
	Webhook   WebhookConfig   `yaml:"webhook" json:"webhook"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Path    string `yaml:"path" json:"path"`
	WALMode bool   `yaml:"wal_mode" json:"wal_mode"`
}

// SchedulerConfig configures the scheduler tick and rollup cron jobs.
type SchedulerConfig struct {
	Port               int    `yaml:"port" json:"port"`
	TickLeaseSeconds   int    `yaml:"tick_lease_seconds" json:"tick_lease_seconds"`
	RollupLeaseSeconds int    `yaml:"rollup_lease_seconds" json:"rollup_lease_seconds"`
	ProbeConcurrency   int    `yaml:"probe_concurrency" json:"probe_concurrency"`
	TickCronExpr       string `yaml:"tick_cron_expr" json:"tick_cron_expr"`
	RollupCronExpr     string `yaml:"rollup_cron_expr" json:"rollup_cron_expr"`
}

// SettingsConfig holds the defaults seeded into the Settings singleton row
// the first time the store initializes; admin tooling may subsequently
// mutate the row out from under this.
type SettingsConfig struct {
	SiteTitle                 string `yaml:"site_title" json:"site_title"`
	SiteTimezone              string `yaml:"site_timezone" json:"site_timezone"`
	RetentionCheckResultsDays int    `yaml:"retention_check_results_days" json:"retention_check_results_days"`
	FailuresToDownFromUp      int    `yaml:"state_failures_to_down_from_up" json:"state_failures_to_down_from_up"`
	SuccessesToUpFromDown     int    `yaml:"state_successes_to_up_from_down" json:"state_successes_to_up_from_down"`
	UptimeRatingLevel         int    `yaml:"uptime_rating_level" json:"uptime_rating_level"`
}

// WebhookConfig configures outbound webhook delivery defaults.
type WebhookConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms" json:"default_timeout_ms"`
	MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
}

var globalConfig *Config

// Load loads configuration from ./configs/<env>.yaml and applies
// environment variable overrides, the same two-step shape the teacher
// repo uses for every binary in its tree.
func Load() (*Config, error) {
	environment := os.Getenv("UPTIME_CORE_ENV")
	if environment == "" {
		environment = "development"
	}

	configPath := fmt.Sprintf("./configs/%s.yaml", environment)

	cfg := defaults()

	if fileExists(configPath) {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	overrideWithEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration instance.
func Get() *Config {
	if globalConfig == nil {
		panic("configuration not loaded, call Load() first")
	}
	return globalConfig
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:    "./data/uptime-core.db",
			WALMode: true,
		},
		Scheduler: SchedulerConfig{
			Port:               8085,
			TickLeaseSeconds:   55,
			RollupLeaseSeconds: 600,
			ProbeConcurrency:   5,
			TickCronExpr:       "* * * * *",
			RollupCronExpr:     "0 0 * * *",
		},
		Settings: SettingsConfig{
			SiteTitle:                 "Status",
			SiteTimezone:              "UTC",
			RetentionCheckResultsDays: 90,
			FailuresToDownFromUp:      1,
			SuccessesToUpFromDown:     1,
			UptimeRatingLevel:         3,
		},
		Webhook: WebhookConfig{
			DefaultTimeoutMS: 10_000,
			MaxAttempts:      3,
		},
	}
}

func overrideWithEnv(cfg *Config) {
	if val := os.Getenv("UPTIME_CORE_DB_PATH"); val != "" {
		cfg.Database.Path = val
	}
	if val := os.Getenv("UPTIME_CORE_DB_WAL"); val != "" {
		cfg.Database.WALMode = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("UPTIME_CORE_SCHEDULER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Scheduler.Port = port
		}
	}
	if val := os.Getenv("UPTIME_CORE_PROBE_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scheduler.ProbeConcurrency = n
		}
	}
	if val := os.Getenv("UPTIME_CORE_TICK_LEASE_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Scheduler.TickLeaseSeconds = n
		}
	}
	if val := os.Getenv("UPTIME_CORE_RETENTION_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Settings.RetentionCheckResultsDays = n
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path cannot be empty")
	}
	if cfg.Scheduler.Port <= 0 || cfg.Scheduler.Port > 65535 {
		return fmt.Errorf("invalid scheduler.port: %d", cfg.Scheduler.Port)
	}
	if cfg.Scheduler.TickLeaseSeconds <= 0 || cfg.Scheduler.TickLeaseSeconds >= 60 {
		return fmt.Errorf("scheduler.tick_lease_seconds must be in (0, 60): %d", cfg.Scheduler.TickLeaseSeconds)
	}
	if cfg.Scheduler.ProbeConcurrency <= 0 {
		return fmt.Errorf("scheduler.probe_concurrency must be positive: %d", cfg.Scheduler.ProbeConcurrency)
	}
	if cfg.Settings.RetentionCheckResultsDays < 1 || cfg.Settings.RetentionCheckResultsDays > 365 {
		return fmt.Errorf("settings.retention_check_results_days out of range: %d", cfg.Settings.RetentionCheckResultsDays)
	}
	if cfg.Settings.FailuresToDownFromUp < 1 || cfg.Settings.FailuresToDownFromUp > 10 {
		return fmt.Errorf("settings.state_failures_to_down_from_up out of range: %d", cfg.Settings.FailuresToDownFromUp)
	}
	if cfg.Settings.SuccessesToUpFromDown < 1 || cfg.Settings.SuccessesToUpFromDown > 10 {
		return fmt.Errorf("settings.state_successes_to_up_from_down out of range: %d", cfg.Settings.SuccessesToUpFromDown)
	}
	if cfg.Settings.UptimeRatingLevel < 1 || cfg.Settings.UptimeRatingLevel > 5 {
		return fmt.Errorf("settings.uptime_rating_level out of range: %d", cfg.Settings.UptimeRatingLevel)
	}
	return nil
}

// ResolveSecret looks up a signing secret by its secret_ref name. Secret
// values are never persisted; they only ever live in the environment.
func ResolveSecret(secretRef string) (string, bool) {
	if secretRef == "" {
		return "", false
	}
	val := os.Getenv(secretRef)
	return val, val != ""
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
