// Package config loads service settings from an optional YAML file, a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/live"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/store"
)

// Config is the full service configuration
type Config struct {
	Port          string `yaml:"port" validate:"required,numeric"`
	PublicBaseURL string `yaml:"public_base_url" validate:"omitempty,url"`

	DBDriver    string        `yaml:"db_driver" validate:"oneof=sqlite3 pgx gtfs"`
	DBPath      string        `yaml:"db_path" validate:"required"`
	LoadTimeout time.Duration `yaml:"load_timeout" validate:"gt=0"`

	APIKey      string        `yaml:"api_key"`
	FeedURL     string        `yaml:"feed_url" validate:"omitempty,url"`
	FeedAgency  string        `yaml:"feed_agency" validate:"required"`
	FeedTimeout time.Duration `yaml:"feed_timeout" validate:"gt=0"`

	LiveTTL      time.Duration `yaml:"live_ttl" validate:"gt=0"`
	LiveCooldown time.Duration `yaml:"live_cooldown" validate:"gt=0"`
	// LivePoll refreshes the live cache in the background; zero disables it
	LivePoll time.Duration `yaml:"live_poll" validate:"gte=0"`

	TZName   string         `yaml:"tz_name" validate:"required"`
	Location *time.Location `yaml:"-" validate:"-"`

	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFile  string `yaml:"log_file"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	NATSURL        string `yaml:"nats_url" validate:"omitempty,url"`
	NATSSubject    string `yaml:"nats_subject"`
}

// Default returns the settings used when nothing overrides them
func Default() Config {
	return Config{
		Port:         "8080",
		DBDriver:     store.DriverSQLite,
		DBPath:       "schedules.db",
		LoadTimeout:  time.Minute,
		FeedURL:      feed.DefaultURL,
		FeedAgency:   "CT",
		FeedTimeout:  10 * time.Second,
		LiveTTL:      live.DefaultTTL,
		LiveCooldown: live.DefaultCooldown,
		TZName:       "America/Los_Angeles",
		LogLevel:     "info",
		NATSSubject:  "trains.live",
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the environment.
// Later sources win.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"PORT":            &c.Port,
		"PUBLIC_BASE_URL": &c.PublicBaseURL,
		"DB_DRIVER":       &c.DBDriver,
		"DB_PATH":         &c.DBPath,
		"API_KEY":         &c.APIKey,
		"FEED_URL":        &c.FeedURL,
		"FEED_AGENCY":     &c.FeedAgency,
		"TZ_NAME":         &c.TZName,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FILE":        &c.LogFile,
		"NATS_URL":        &c.NATSURL,
		"NATS_SUBJECT":    &c.NATSSubject,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"LOAD_TIMEOUT":  &c.LoadTimeout,
		"FEED_TIMEOUT":  &c.FeedTimeout,
		"LIVE_TTL":      &c.LiveTTL,
		"LIVE_COOLDOWN": &c.LiveCooldown,
		"LIVE_POLL":     &c.LivePoll,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", key, v)
		}
		*dst = d
	}

	if v := strings.TrimSpace(getenv("METRICS_ENABLED")); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			c.MetricsEnabled = true
		default:
			c.MetricsEnabled = false
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds
func parseDuration(v string) (time.Duration, error) {
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func (c *Config) finish() error {
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	loc, err := time.LoadLocation(c.TZName)
	if err != nil {
		return fmt.Errorf("invalid TZ_NAME: %w", err)
	}
	c.Location = loc
	return nil
}

// Source is where the schedule is loaded from
func (c *Config) Source() store.SourceConfig {
	return store.SourceConfig{
		Driver:   c.DBDriver,
		Path:     c.DBPath,
		RetryFor: c.LoadTimeout,
	}
}

// Feed is how the upstream live feed is reached
func (c *Config) Feed() feed.Config {
	return feed.Config{
		URL:     c.FeedURL,
		APIKey:  c.APIKey,
		Agency:  c.FeedAgency,
		Timeout: c.FeedTimeout,
	}
}

func (c *Config) Logging() logger.Config {
	return logger.Config{
		Level:   c.LogLevel,
		Console: true,
		File:    c.LogFile,
	}
}

// LiveEnabled reports whether an API key was configured
func (c *Config) LiveEnabled() bool {
	return c.APIKey != ""
}
