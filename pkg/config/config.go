package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all billingd configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Panel    PanelConfig    `yaml:"panel"`
	Telegram TelegramConfig `yaml:"telegram"`
	Billing  BillingConfig  `yaml:"billing"`
	Ops      OpsConfig      `yaml:"ops"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds optional Redis settings for the iteration lease. An
// empty URL disables the lease (single-instance deployment).
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PanelConfig holds the provisioning panel API settings.
type PanelConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelegramConfig holds the notification bot settings. An empty token
// disables notifications.
type TelegramConfig struct {
	Token   string        `yaml:"token"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BillingConfig holds the billing loop settings.
type BillingConfig struct {
	Enabled           bool          `yaml:"enabled"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	ChargeCycle       time.Duration `yaml:"charge_cycle"`
	SideEffectTimeout time.Duration `yaml:"side_effect_timeout"`
}

// OpsConfig holds the operational HTTP server settings (health, metrics).
type OpsConfig struct {
	Port            string        `yaml:"port"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load builds the configuration from environment variables, applying the
// YAML file named by BILLING_CONFIG_FILE (or the path argument, when
// non-empty) first so env vars win over file values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL:      "postgres://localhost/billing?sslmode=disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Panel: PanelConfig{
			Timeout: 10 * time.Second,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		Billing: BillingConfig{
			Enabled:           true,
			CheckInterval:     30 * time.Minute,
			ChargeCycle:       24 * time.Hour,
			SideEffectTimeout: 10 * time.Second,
		},
		Ops: OpsConfig{
			Port:            "9090",
			MetricsEnabled:  true,
			ShutdownTimeout: 30 * time.Second,
		},
		LogLevel: "info",
	}

	if path == "" {
		path = os.Getenv("BILLING_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Database.URL = getEnv("BILLING_DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = getEnvInt("BILLING_DATABASE_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = getEnvInt("BILLING_DATABASE_MIN_CONNS", cfg.Database.MinConns)

	cfg.Redis.URL = getEnv("BILLING_REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("BILLING_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("BILLING_REDIS_DB", cfg.Redis.DB)

	cfg.Panel.BaseURL = getEnv("BILLING_PANEL_URL", cfg.Panel.BaseURL)
	cfg.Panel.Token = getEnv("BILLING_PANEL_TOKEN", cfg.Panel.Token)
	cfg.Panel.Timeout = getEnvDuration("BILLING_PANEL_TIMEOUT", cfg.Panel.Timeout)

	cfg.Telegram.Token = getEnv("BILLING_TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.BaseURL = getEnv("BILLING_TELEGRAM_BASE_URL", cfg.Telegram.BaseURL)
	cfg.Telegram.Timeout = getEnvDuration("BILLING_TELEGRAM_TIMEOUT", cfg.Telegram.Timeout)

	cfg.Billing.Enabled = getEnvBool("BILLING_ENABLED", cfg.Billing.Enabled)
	cfg.Billing.CheckInterval = getEnvDuration("BILLING_CHECK_INTERVAL", cfg.Billing.CheckInterval)
	cfg.Billing.ChargeCycle = getEnvDuration("BILLING_CHARGE_CYCLE", cfg.Billing.ChargeCycle)
	cfg.Billing.SideEffectTimeout = getEnvDuration("BILLING_SIDE_EFFECT_TIMEOUT", cfg.Billing.SideEffectTimeout)

	cfg.Ops.Port = getEnv("BILLING_OPS_PORT", cfg.Ops.Port)
	cfg.Ops.MetricsEnabled = getEnvBool("BILLING_METRICS_ENABLED", cfg.Ops.MetricsEnabled)
	cfg.Ops.ShutdownTimeout = getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", cfg.Ops.ShutdownTimeout)

	cfg.LogLevel = getEnv("BILLING_LOG_LEVEL", cfg.LogLevel)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Billing.CheckInterval < time.Minute {
		return fmt.Errorf("check interval must be at least 1 minute, got %s", c.Billing.CheckInterval)
	}
	if c.Billing.ChargeCycle < time.Hour {
		return fmt.Errorf("charge cycle must be at least 1 hour, got %s", c.Billing.ChargeCycle)
	}
	if c.Ops.Port == "" {
		return fmt.Errorf("ops port is required")
	}
	if c.Panel.BaseURL != "" && !strings.HasPrefix(c.Panel.BaseURL, "http") {
		return fmt.Errorf("panel base URL must be an http(s) URL, got %q", c.Panel.BaseURL)
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
