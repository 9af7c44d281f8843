package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the answering service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	// JWTSecret is only used to read a client identity out of bearer tokens
	// for rate limiting. Authentication itself lives elsewhere.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// OpenAIConfig contains credentials and model selection for both the
// embedding and the generation provider.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (o OpenAIConfig) Validate() error {
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("openai.api_key required")
	}
	return nil
}

// StorageConfig contains Postgres and Redis connection settings. Redis is
// optional: when host is empty the cache layer runs memory-only.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from URL or host/port parts.
// Callers validate first; an unconfigured DSN is caught there.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port, or "" when redis is not configured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// RetrievalConfig tunes the retrieval side of the pipeline.
type RetrievalConfig struct {
	// FastEmbeddings switches the whole process to the reduced
	// dimensionality. The corpus must be embedded with the same mode;
	// mixing dimensionalities within one index is invalid.
	FastEmbeddings      bool    `mapstructure:"fast_embeddings"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxSources          int     `mapstructure:"max_sources"`
	CacheTTLSeconds     int     `mapstructure:"cache_ttl_seconds"`
}

// RateLimitConfig carries the two rate-limit policies.
type RateLimitConfig struct {
	WindowMs    int64 `mapstructure:"window_ms"`
	MaxRequests int   `mapstructure:"max_requests"`
	// Answer endpoints are more expensive and get a stricter budget.
	AnswerMaxRequests int `mapstructure:"answer_max_requests"`
}

// BackfillConfig controls the embedding backfill worker.
type BackfillConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	CronSpec  string `mapstructure:"cron_spec"`
	BatchSize int    `mapstructure:"batch_size"`
}

// LoadConfig loads config from a file plus ANSWERD_* environment variables.
// A missing config file is fine; env and defaults still apply.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("openai.temperature", 0.3)
	viper.SetDefault("openai.max_tokens", 1000)
	viper.SetDefault("openai.timeout", 30*time.Second)
	viper.SetDefault("retrieval.similarity_threshold", 0.3)
	viper.SetDefault("retrieval.max_sources", 5)
	viper.SetDefault("retrieval.cache_ttl_seconds", 3600)
	viper.SetDefault("rate_limit.window_ms", 60000)
	viper.SetDefault("rate_limit.max_requests", 10)
	viper.SetDefault("rate_limit.answer_max_requests", 5)
	viper.SetDefault("backfill.cron_spec", "*/15 * * * *")
	viper.SetDefault("backfill.batch_size", 32)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ANSWERD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
