// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	SessionSecret  string        `yaml:"session_secret"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	SessionIdle    time.Duration `yaml:"session_idle"` // in-memory sessions unused this long are closed
	RateLimit      int           `yaml:"rate_limit"`   // expensive calls per window per installation, 0 = off
	RateWindow     time.Duration `yaml:"rate_window"`
}

type AIConfig struct {
	Provider        string        `yaml:"provider"` // gemini | openai | noop
	GeminiKey       string        `yaml:"gemini_key"`
	GeminiURL       string        `yaml:"gemini_url"`
	TextModel       string        `yaml:"text_model"`
	ImageModel      string        `yaml:"image_model"`
	OpenAIKey       string        `yaml:"openai_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIModel     string        `yaml:"openai_model"`
	OpenAIImage     string        `yaml:"openai_image_model"`
	Timeout         time.Duration `yaml:"timeout"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent provider calls
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory | sqlite | redis | postgres
	StateDir string         `yaml:"state_dir"`
	SQLite   string         `yaml:"sqlite_path"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

type CreditPackage struct {
	ID      string `yaml:"id"`
	Credits int64  `yaml:"credits"`
	Price   int64  `yaml:"price"`
	Link    string `yaml:"link"`
}

type CreditsConfig struct {
	DefaultBalance int64           `yaml:"default_balance"`
	OneTimeBonus   int64           `yaml:"one_time_bonus"`
	Packages       []CreditPackage `yaml:"packages"`
}

type WorkersConfig struct {
	Size int `yaml:"size"`
}

type Config struct {
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	AI      AIConfig      `yaml:"ai"`
	Storage StorageConfig `yaml:"storage"`
	Credits CreditsConfig `yaml:"credits"`
	Workers WorkersConfig `yaml:"workers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies .env/environment overrides
// and defaults, and validates the result. In dev mode a missing file is fine.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg, dev)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := firstEnv("GEMINI_API_KEY", "API_KEY"); v != "" {
		cfg.AI.GeminiKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.OpenAIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.Redis.URL = v
	}
	if v := os.Getenv("EXREMOVER_SESSION_SECRET"); v != "" {
		cfg.HTTP.SessionSecret = v
	}
}

func applyDefaults(cfg *Config, dev bool) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.HandlerTimeout <= 0 {
		cfg.HTTP.HandlerTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		cfg.HTTP.MaxUploadMB = 64
	}
	if cfg.HTTP.SessionTTL <= 0 {
		cfg.HTTP.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.HTTP.SessionIdle <= 0 {
		cfg.HTTP.SessionIdle = 2 * time.Hour
	}
	if cfg.HTTP.RateWindow <= 0 {
		cfg.HTTP.RateWindow = time.Minute
	}
	if cfg.HTTP.SessionSecret == "" && dev {
		cfg.HTTP.SessionSecret = "dev-session-secret-change-me"
	}

	if cfg.AI.Provider == "" {
		switch {
		case cfg.AI.GeminiKey != "":
			cfg.AI.Provider = "gemini"
		case cfg.AI.OpenAIKey != "":
			cfg.AI.Provider = "openai"
		case dev:
			cfg.AI.Provider = "noop"
		}
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.TextModel == "" {
		cfg.AI.TextModel = "gemini-2.5-flash"
	}
	if cfg.AI.ImageModel == "" {
		cfg.AI.ImageModel = "gemini-2.5-flash-image"
	}
	if cfg.AI.OpenAIBaseURL == "" {
		cfg.AI.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.AI.OpenAIModel == "" {
		cfg.AI.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.AI.OpenAIImage == "" {
		cfg.AI.OpenAIImage = "gpt-image-1"
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 2 * time.Minute
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 4
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
		if dev {
			cfg.Storage.Backend = "memory"
		}
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = ".exremover"
	}
	if cfg.Storage.SQLite == "" {
		cfg.Storage.SQLite = cfg.Storage.StateDir + "/credits.db"
	}
	if cfg.Storage.Database.MaxConns <= 0 {
		cfg.Storage.Database.MaxConns = 10
	}

	if cfg.Credits.DefaultBalance <= 0 {
		cfg.Credits.DefaultBalance = 3
	}
	// 0 means unset; a negative value disables the bonus.
	switch {
	case cfg.Credits.OneTimeBonus == 0:
		cfg.Credits.OneTimeBonus = 3
	case cfg.Credits.OneTimeBonus < 0:
		cfg.Credits.OneTimeBonus = 0
	}
	if len(cfg.Credits.Packages) == 0 {
		cfg.Credits.Packages = []CreditPackage{
			{ID: "small", Credits: 5, Price: 5},
			{ID: "best-value", Credits: 15, Price: 10},
		}
	}

	if cfg.Workers.Size <= 0 {
		cfg.Workers.Size = 4
	}
}

// Validate performs minimal consistency checks.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.New("ai.gemini_key (or GEMINI_API_KEY) is required for the gemini provider")
		}
	case "openai":
		if c.AI.OpenAIKey == "" {
			return errors.New("ai.openai_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	case "noop":
	case "":
		return errors.New("no AI provider configured: set ai.gemini_key or ai.openai_key")
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Storage.Redis.URL == "" {
			return errors.New("storage.redis.url is required for the redis backend")
		}
	case "postgres":
		if c.Storage.Database.URL == "" {
			return errors.New("storage.database.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	for _, p := range c.Credits.Packages {
		if p.ID == "" || p.Credits <= 0 {
			return fmt.Errorf("credits.packages: invalid package %+v", p)
		}
	}
	return nil
}

// Package looks up a credit package by id.
func (c CreditsConfig) Package(id string) (CreditPackage, bool) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
