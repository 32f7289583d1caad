package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from an
// optional YAML file, then environment overrides, then defaults.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | text
	} `yaml:"log"`

	Store struct {
		Driver           string        `yaml:"driver"` // sqlite | postgres
		SQLitePath       string        `yaml:"sqlite_path"`
		DatabaseURL      string        `yaml:"database_url"`
		Timeout          time.Duration `yaml:"timeout"`
		BreakerFailures  int           `yaml:"breaker_failures"`
		BreakerResetTime time.Duration `yaml:"breaker_reset_time"`
	} `yaml:"store"`

	Redis struct {
		Enabled         bool          `yaml:"enabled"`
		Addr            string        `yaml:"addr"`
		Password        string        `yaml:"password"`
		DB              int           `yaml:"db"`
		Stream          string        `yaml:"stream"`
		Group           string        `yaml:"group"`
		Consumer        string        `yaml:"consumer"`
		BatchSize       int64         `yaml:"batch_size"`
		LatestTTL       time.Duration `yaml:"latest_ttl"`
		ReclaimInterval time.Duration `yaml:"reclaim_interval"`
		ReclaimMinIdle  time.Duration `yaml:"reclaim_min_idle"`
	} `yaml:"redis"`

	Engine struct {
		Workers int `yaml:"workers"`
	} `yaml:"engine"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Backfill struct {
		Cron    string   `yaml:"cron"` // six fields, seconds first; empty disables
		Days    int      `yaml:"days"`
		Symbols []string `yaml:"symbols"` // empty = every symbol in the store
		Workers int      `yaml:"workers"`
	} `yaml:"backfill"`

	Notify struct {
		Timeout  time.Duration `yaml:"timeout"`
		Log      bool          `yaml:"log"`
		Telegram struct {
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
		WebhookURL string `yaml:"webhook_url"`
		Email      struct {
			Host     string   `yaml:"host"`
			Port     int      `yaml:"port"`
			Username string   `yaml:"username"`
			Password string   `yaml:"password"`
			From     string   `yaml:"from"`
			To       []string `yaml:"to"`
		} `yaml:"email"`
		WebSocket bool `yaml:"websocket"`
	} `yaml:"notify"`
}

var dotenvOnce sync.Once

// LoadDotenvOnce loads .env (or $ENV_FILE) into the process environment.
// Variables already set win unless DOTENV_OVERLOAD=1. NO_DOTENV=1 skips it.
func LoadDotenvOnce() {
	dotenvOnce.Do(func() {
		if os.Getenv("NO_DOTENV") == "1" {
			return
		}
		path := getEnv("ENV_FILE", ".env")
		if _, err := os.Stat(path); err != nil {
			return
		}
		var err error
		if os.Getenv("DOTENV_OVERLOAD") == "1" {
			err = godotenv.Overload(path)
		} else {
			err = godotenv.Load(path)
		}
		if err != nil {
			log.Printf("[config] dotenv %s: %v", path, err)
		}
	})
}

// Load reads config from a YAML file (a missing file is fine), then
// applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.Stream, "REDIS_STREAM")
	setString(&c.Redis.Group, "REDIS_GROUP")
	setString(&c.Redis.Consumer, "REDIS_CONSUMER")

	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Backfill.Cron, "BACKFILL_CRON")
	if v := os.Getenv("BACKFILL_SYMBOLS"); v != "" {
		c.Backfill.Symbols = splitList(v)
	}

	setString(&c.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Notify.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Notify.WebhookURL, "WEBHOOK_URL")
	setString(&c.Notify.Email.Host, "SMTP_HOST")
	setString(&c.Notify.Email.Username, "SMTP_USERNAME")
	setString(&c.Notify.Email.Password, "SMTP_PASSWORD")
	setString(&c.Notify.Email.From, "SMTP_FROM")
	if v := os.Getenv("SMTP_TO"); v != "" {
		c.Notify.Email.To = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &c.Redis.DB},
		{"ENGINE_WORKERS", &c.Engine.Workers},
		{"BACKFILL_DAYS", &c.Backfill.Days},
		{"STORE_BREAKER_FAILURES", &c.Store.BreakerFailures},
		{"SMTP_PORT", &c.Notify.Email.Port},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"STORE_TIMEOUT", &c.Store.Timeout},
		{"STORE_BREAKER_RESET", &c.Store.BreakerResetTime},
		{"NOTIFY_TIMEOUT", &c.Notify.Timeout},
	}
	for _, e := range durations {
		if v := os.Getenv(e.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = d
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"REDIS_ENABLED", &c.Redis.Enabled},
		{"NOTIFY_LOG", &c.Notify.Log},
		{"NOTIFY_WEBSOCKET", &c.Notify.WebSocket},
	}
	for _, e := range bools {
		if v := os.Getenv(e.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = b
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/prices.db"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 5 * time.Second
	}
	if c.Store.BreakerFailures == 0 {
		c.Store.BreakerFailures = 5
	}
	if c.Store.BreakerResetTime == 0 {
		c.Store.BreakerResetTime = 10 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "feed:price_bars"
	}
	if c.Redis.Group == "" {
		c.Redis.Group = "signalengine"
	}
	if c.Redis.Consumer == "" {
		host, _ := os.Hostname()
		c.Redis.Consumer = host
		if host == "" {
			c.Redis.Consumer = "worker-1"
		}
	}
	if c.Redis.BatchSize == 0 {
		c.Redis.BatchSize = 100
	}
	if c.Redis.LatestTTL == 0 {
		c.Redis.LatestTTL = 24 * time.Hour
	}
	if c.Redis.ReclaimInterval == 0 {
		c.Redis.ReclaimInterval = 30 * time.Second
	}
	if c.Redis.ReclaimMinIdle == 0 {
		c.Redis.ReclaimMinIdle = time.Minute
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 8
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Backfill.Days == 0 {
		c.Backfill.Days = 5
	}
	if c.Backfill.Workers == 0 {
		c.Backfill.Workers = 4
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be positive")
	}
	if c.Backfill.Days < 1 {
		return fmt.Errorf("backfill.days must be at least 1")
	}
	if c.Backfill.Workers < 1 {
		return fmt.Errorf("backfill.workers must be positive")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}
	if (c.Notify.Telegram.BotToken == "") != (c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram needs both bot_token and chat_id")
	}
	if c.Notify.Email.Host != "" && (c.Notify.Email.From == "" || len(c.Notify.Email.To) == 0) {
		return fmt.Errorf("notify.email needs from and to when host is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
