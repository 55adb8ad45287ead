package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	TelegramToken     string        `yaml:"telegram_token"`
	GroupID           int64         `yaml:"group_id"`
	StoreBackend      string        `yaml:"store_backend"`
	MessageStorePath  string        `yaml:"message_store_path"`
	URLStorePath      string        `yaml:"url_store_path"`
	DBPath            string        `yaml:"db_path"`
	SaveInterval      time.Duration `yaml:"save_interval"`
	DigestTime        string        `yaml:"digest_time"`
	Timezone          string        `yaml:"timezone"`
	DigestWindow      time.Duration `yaml:"digest_window"`
	DigestLimit       int           `yaml:"digest_limit"`
	BackfillWindow    time.Duration `yaml:"backfill_window"`
	BackfillDelay     time.Duration `yaml:"backfill_delay"`
	HistoryExportPath string        `yaml:"history_export_path"`
	Classifier        string        `yaml:"classifier"`
	FetchTimeoutSecs  int           `yaml:"fetch_timeout_secs"`
	ListenOnStartup   bool          `yaml:"listen_on_startup"`
	LogLevel          string        `yaml:"log_level"`
}

// digestTimeRegex validates HH:MM format with proper ranges.
var digestTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("URL_BOT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

// Location returns the configured timezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func applyDefaults(cfg *Config) {
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendJSON
	}
	if cfg.MessageStorePath == "" {
		cfg.MessageStorePath = "./message_storage.json"
	}
	if cfg.URLStorePath == "" {
		cfg.URLStorePath = "./url_storage.json"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./url-bot.db"
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = 5 * time.Minute
	}
	if cfg.DigestTime == "" {
		cfg.DigestTime = "09:00"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.DigestWindow == 0 {
		cfg.DigestWindow = 24 * time.Hour
	}
	if cfg.DigestLimit == 0 {
		cfg.DigestLimit = 10
	}
	if cfg.BackfillWindow == 0 {
		cfg.BackfillWindow = 14 * 24 * time.Hour
	}
	if cfg.BackfillDelay == 0 {
		cfg.BackfillDelay = 500 * time.Millisecond
	}
	if cfg.Classifier == "" {
		cfg.Classifier = "stub"
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(cfg *Config) error {
	if token := os.Getenv("URL_BOT_TOKEN"); token != "" {
		cfg.TelegramToken = token
	}
	if dbPath := os.Getenv("URL_BOT_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if group := os.Getenv("URL_BOT_GROUP_ID"); group != "" {
		id, err := strconv.ParseInt(group, 10, 64)
		if err != nil {
			return fmt.Errorf("parse URL_BOT_GROUP_ID: %w", err)
		}
		cfg.GroupID = id
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if cfg.GroupID == 0 {
		return fmt.Errorf("group_id is required")
	}
	if cfg.StoreBackend != BackendJSON && cfg.StoreBackend != BackendSQLite {
		return fmt.Errorf("store_backend must be %q or %q, got %q", BackendJSON, BackendSQLite, cfg.StoreBackend)
	}
	if cfg.SaveInterval < time.Second {
		return fmt.Errorf("save_interval must be at least 1s, got %s", cfg.SaveInterval)
	}
	if !digestTimeRegex.MatchString(cfg.DigestTime) {
		return fmt.Errorf("digest_time must be in HH:MM format (00:00-23:59), got %q", cfg.DigestTime)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.DigestWindow < 0 {
		return fmt.Errorf("digest_window must be positive, got %s", cfg.DigestWindow)
	}
	if cfg.DigestLimit < 0 || cfg.DigestLimit > 100 {
		return fmt.Errorf("digest_limit must be between 1 and 100, got %d", cfg.DigestLimit)
	}
	if cfg.BackfillWindow < 0 {
		return fmt.Errorf("backfill_window must be positive, got %s", cfg.BackfillWindow)
	}
	if cfg.BackfillDelay < 0 {
		return fmt.Errorf("backfill_delay must not be negative, got %s", cfg.BackfillDelay)
	}
	if cfg.Classifier != "stub" && cfg.Classifier != "readability" {
		return fmt.Errorf("classifier must be \"stub\" or \"readability\", got %q", cfg.Classifier)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}
