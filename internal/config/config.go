package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	// RateLimit bounds mutating calls per caller per window.
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrchestratorConfig tunes the tick/claim machinery. One retry
// discipline applies at item and chunk level: an expiring lease plus a
// bounded attempt counter.
type OrchestratorConfig struct {
	ClaimTTL         time.Duration `yaml:"claim_ttl"`
	ItemTimeout      time.Duration `yaml:"item_timeout"`
	MaxItemsPerTick  int           `yaml:"max_items_per_tick"`
	MaxAttempts      int           `yaml:"max_attempts"`
	ChunkTokenBudget int           `yaml:"chunk_token_budget"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	Workers          int           `yaml:"workers"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

type GenerationConfig struct {
	OpenAIKey    string `yaml:"openai_key"`
	GeminiKey    string `yaml:"gemini_key"`
	GeminiURL    string `yaml:"gemini_url"`
	DefaultModel string `yaml:"default_model"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Generation   GenerationConfig   `yaml:"generation"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimit <= 0 {
		cfg.Server.RateLimit = 60
	}
	if cfg.Server.RateLimitWindow <= 0 {
		cfg.Server.RateLimitWindow = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Orchestrator.ClaimTTL <= 0 {
		cfg.Orchestrator.ClaimTTL = 30 * time.Second
	}
	if cfg.Orchestrator.ItemTimeout <= 0 {
		cfg.Orchestrator.ItemTimeout = 2 * time.Minute
	}
	if cfg.Orchestrator.MaxItemsPerTick <= 0 {
		cfg.Orchestrator.MaxItemsPerTick = 3
	}
	if cfg.Orchestrator.MaxAttempts <= 0 {
		cfg.Orchestrator.MaxAttempts = 3
	}
	if cfg.Orchestrator.ChunkTokenBudget <= 0 {
		cfg.Orchestrator.ChunkTokenBudget = 2048
	}
	if cfg.Orchestrator.SweepInterval <= 0 {
		cfg.Orchestrator.SweepInterval = time.Minute
	}
	if cfg.Orchestrator.Workers <= 0 {
		cfg.Orchestrator.Workers = 4
	}
	if cfg.Orchestrator.BackoffBase <= 0 {
		cfg.Orchestrator.BackoffBase = 2 * time.Second
	}
	if cfg.Orchestrator.BackoffMax <= 0 {
		cfg.Orchestrator.BackoffMax = 30 * time.Second
	}
	if cfg.Orchestrator.RetryDelay <= 0 {
		cfg.Orchestrator.RetryDelay = 5 * time.Second
	}
	if cfg.Generation.DefaultModel == "" {
		cfg.Generation.DefaultModel = "gpt-4o-mini"
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Server.APIKey == "" && !dev {
		return nil, errors.New("server.api_key is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
