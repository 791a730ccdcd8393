package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

type Config struct {
	Server struct {
		Port     int    `yaml:"port"`
		APIKey   string `yaml:"api_key"`
		APIExtra string `yaml:"api_extra"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	// Backend selects who owns bikes and bookings: the local sqlite store or
	// a remote velosta API.
	Backend struct {
		Mode            string  `yaml:"mode"`
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		APIExtra        string  `yaml:"api_extra"`
		CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
	} `yaml:"backend"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		DefaultCountryCode string `yaml:"default_country_code"`
		SubscriberDigits   int    `yaml:"subscriber_digits"`
		CurrencyCode       string `yaml:"currency_code"`
		CurrencySymbol     string `yaml:"currency_symbol"`
		MaxAdjustAttempts  int    `yaml:"max_adjust_attempts"`
		FleetPath          string `yaml:"fleet_path"`
		FleetReloadSeconds int    `yaml:"fleet_reload_seconds"`
	} `yaml:"booking"`

	Reminders struct {
		Enabled        bool   `yaml:"enabled"`
		Schedule       string `yaml:"schedule"`
		DueWithinHours int    `yaml:"due_within_hours"`
		Timezone       string `yaml:"timezone"`
		PerSecond      int    `yaml:"per_second"`
	} `yaml:"reminders"`

	Telegram struct {
		BotToken string  `yaml:"bot_token"`
		Debug    bool    `yaml:"debug"`
		ChatIDs  []int64 `yaml:"chat_ids"`
	} `yaml:"telegram"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Backend.Mode == BackendLocal {
		if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/velosta.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backend.Mode == "" {
		c.Backend.Mode = BackendLocal
	}
	c.Backend.Mode = strings.ToLower(c.Backend.Mode)
	if c.Booking.DefaultCountryCode == "" {
		c.Booking.DefaultCountryCode = "+91"
	}
	if c.Booking.SubscriberDigits == 0 {
		c.Booking.SubscriberDigits = 10
	}
	if c.Booking.CurrencyCode == "" {
		c.Booking.CurrencyCode = "INR"
	}
	if c.Booking.CurrencySymbol == "" {
		c.Booking.CurrencySymbol = "₹"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Backend.Mode {
	case BackendLocal:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required in local mode")
		}
	case BackendRemote:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend base_url is required in remote mode")
		}
	default:
		return fmt.Errorf("unknown backend mode %q", c.Backend.Mode)
	}

	if !strings.HasPrefix(c.Booking.DefaultCountryCode, "+") {
		return fmt.Errorf("booking default_country_code must start with +: %q", c.Booking.DefaultCountryCode)
	}
	if c.Booking.SubscriberDigits < 6 || c.Booking.SubscriberDigits > 12 {
		return fmt.Errorf("invalid booking subscriber_digits: %d", c.Booking.SubscriberDigits)
	}

	if c.Reminders.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot_token is required when reminders are enabled")
		}
		if len(c.Telegram.ChatIDs) == 0 {
			return fmt.Errorf("telegram chat_ids are required when reminders are enabled")
		}
		if _, err := c.RemindersLocation(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

func (c *Config) BackendCacheTTL() time.Duration {
	if c.Backend.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Backend.CacheTTLSeconds) * time.Second
}

func (c *Config) FleetReloadInterval() time.Duration {
	if c.Booking.FleetReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Booking.FleetReloadSeconds) * time.Second
}

func (c *Config) RemindersSchedule() string {
	if c.Reminders.Schedule == "" {
		return "0 9 * * *"
	}
	return c.Reminders.Schedule
}

func (c *Config) RemindersDueWithin() time.Duration {
	if c.Reminders.DueWithinHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Reminders.DueWithinHours) * time.Hour
}

func (c *Config) RemindersLocation() (*time.Location, error) {
	if c.Reminders.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Reminders.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reminders timezone %q: %w", c.Reminders.Timezone, err)
	}
	return loc, nil
}
