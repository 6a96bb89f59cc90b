package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the chant CLI.
type Config struct {
	LogPath     string       `toml:"log_path"`
	LogLevel    string       `toml:"log_level"`
	PagePath    string       `toml:"page_path"`
	CatalogPath string       `toml:"catalog_path"`
	Route       string       `toml:"route"`
	ListenAddr  string       `toml:"listen_addr"`
	LLM         LLMConfig    `toml:"llm"`
	Cache       CacheConfig  `toml:"cache"`
	Engine      EngineConfig `toml:"engine"`
}

type LLMConfig struct {
	Backend    string `toml:"backend"`
	Model      string `toml:"model"`
	OllamaHost string `toml:"ollama_host"`
	APIKey     string `toml:"-"`
}

type CacheConfig struct {
	Backend     string `toml:"backend"`
	SQLitePath  string `toml:"sqlite_path"`
	RedisURL    string `toml:"redis_url"`
	DatabaseURL string `toml:"database_url"`
}

type EngineConfig struct {
	StepDelayMs            int  `toml:"step_delay_ms"`
	ReadyTimeoutMs         int  `toml:"ready_timeout_ms"`
	InformationalTimeoutMs int  `toml:"informational_timeout_ms"`
	QueueSize              int  `toml:"queue_size"`
	SkipFieldsFilledLater  bool `toml:"skip_fields_filled_later"`
}

func (e EngineConfig) StepDelay() time.Duration {
	return time.Duration(e.StepDelayMs) * time.Millisecond
}

func (e EngineConfig) ReadyTimeout() time.Duration {
	return time.Duration(e.ReadyTimeoutMs) * time.Millisecond
}

func (e EngineConfig) InformationalTimeout() time.Duration {
	return time.Duration(e.InformationalTimeoutMs) * time.Millisecond
}

func Default() *Config {
	return &Config{
		LogPath:     "chant.log",
		LogLevel:    "info",
		PagePath:    "page.html",
		CatalogPath: "actions.json",
		Route:       "/",
		ListenAddr:  "127.0.0.1:4680",
		LLM: LLMConfig{
			Backend: "gemini",
		},
		Cache: CacheConfig{
			Backend:     "sqlite",
			SQLitePath:  ".chant/cache.db",
			RedisURL:    "redis://localhost:6379/0",
			DatabaseURL: "postgres://localhost:5432/chant?sslmode=disable",
		},
		Engine: EngineConfig{
			StepDelayMs:            500,
			ReadyTimeoutMs:         2000,
			InformationalTimeoutMs: 5000,
			QueueSize:              1,
		},
	}
}

// Load applies, in order: defaults, the optional TOML file at path, then
// CHANT_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogPath = getEnv("CHANT_LOG_PATH", cfg.LogPath)
	cfg.LogLevel = getEnv("CHANT_LOG_LEVEL", cfg.LogLevel)
	cfg.PagePath = getEnv("CHANT_PAGE", cfg.PagePath)
	cfg.CatalogPath = getEnv("CHANT_CATALOG", cfg.CatalogPath)
	cfg.Route = getEnv("CHANT_ROUTE", cfg.Route)
	cfg.ListenAddr = getEnv("CHANT_LISTEN_ADDR", cfg.ListenAddr)

	cfg.LLM.Backend = getEnv("CHANT_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = getEnv("CHANT_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.OllamaHost = getEnv("OLLAMA_HOST", cfg.LLM.OllamaHost)
	cfg.LLM.APIKey = getEnv("GEMINI_API_KEY", cfg.LLM.APIKey)

	cfg.Cache.Backend = getEnv("CHANT_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.SQLitePath = getEnv("CHANT_CACHE_SQLITE_PATH", cfg.Cache.SQLitePath)
	cfg.Cache.RedisURL = getEnv("CHANT_REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.DatabaseURL = getEnv("CHANT_DATABASE_URL", cfg.Cache.DatabaseURL)

	cfg.Engine.StepDelayMs = getEnvInt("CHANT_STEP_DELAY_MS", cfg.Engine.StepDelayMs)
	cfg.Engine.ReadyTimeoutMs = getEnvInt("CHANT_READY_TIMEOUT_MS", cfg.Engine.ReadyTimeoutMs)
	cfg.Engine.InformationalTimeoutMs = getEnvInt("CHANT_INFO_TIMEOUT_MS", cfg.Engine.InformationalTimeoutMs)
	cfg.Engine.QueueSize = getEnvInt("CHANT_QUEUE_SIZE", cfg.Engine.QueueSize)
}

func normalize(cfg *Config) {
	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Route == "" {
		cfg.Route = "/"
	}
	if cfg.Engine.StepDelayMs < 0 {
		cfg.Engine.StepDelayMs = 0
	}
	if cfg.Engine.ReadyTimeoutMs <= 0 {
		cfg.Engine.ReadyTimeoutMs = 2000
	}
	if cfg.Engine.InformationalTimeoutMs <= 0 {
		cfg.Engine.InformationalTimeoutMs = 5000
	}
	if cfg.Engine.QueueSize < 1 {
		cfg.Engine.QueueSize = 1
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
