package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/highlights-mcp/internal/lexical"
	"github.com/dshills/highlights-mcp/internal/llm"
)

// EnvPrefix prefixes every environment override, e.g. HIGHLIGHTS_SEARCH_LIMIT
const EnvPrefix = "HIGHLIGHTS"

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Vector and lexical index configuration
	Index IndexConfig `mapstructure:"index"`

	// Embedding provider configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Completion provider used for query expansion
	Completion CompletionConfig `mapstructure:"completion"`

	Search  SearchConfig  `mapstructure:"search"`
	Pairing PairingConfig `mapstructure:"pairing"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite file
}

// IndexConfig holds index configuration
type IndexConfig struct {
	Path      string `mapstructure:"path"`       // Flat vector index file
	PgDSN     string `mapstructure:"pg_dsn"`     // Enables the pgvector index when set
	Lexical   string `mapstructure:"lexical"`    // substring, fts5 or bleve
	Workers   int    `mapstructure:"workers"`    // Concurrent embedding calls during reindex
	CacheSize int    `mapstructure:"cache_size"` // In-memory embedding cache entries
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // jina, openai, local; empty detects from env
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// CompletionConfig holds configuration for the completion model
type CompletionConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// SearchConfig holds retriever defaults
type SearchConfig struct {
	HybridAlpha    float64 `mapstructure:"hybrid_alpha"`
	BookWeight     float64 `mapstructure:"book_weight"`
	UseExpansion   bool    `mapstructure:"use_expansion"`
	Limit          int     `mapstructure:"limit"`
	CacheSize      int     `mapstructure:"cache_size"`
	CacheTTL       int     `mapstructure:"cache_ttl"` // in seconds
	ExpansionCache int     `mapstructure:"expansion_cache"`
}

// PairingConfig holds pair selection configuration
type PairingConfig struct {
	Seed         uint64 `mapstructure:"seed"` // 0 seeds from the clock
	HistoryLimit int    `mapstructure:"history_limit"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// RateLimitConfig limits embedding provider calls
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // 0 disables limiting
	Burst             int     `mapstructure:"burst"`
}

// New returns a viper instance with defaults and HIGHLIGHTS_* environment
// bindings. Callers may bind flags and read a config file before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys keep their conventional names as fallbacks
	_ = v.BindEnv("embedding.api_key", EnvPrefix+"_EMBEDDING_API_KEY", "JINA_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("completion.api_key", EnvPrefix+"_COMPLETION_API_KEY", "OPENAI_API_KEY")
	return v
}

// ReadFile reads path, or $HOME/.highlights.yaml / ./.highlights.yaml when
// path is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(".highlights")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.path", filepath.Join(dataDir, "highlights.db"))

	v.SetDefault("index.path", filepath.Join(dataDir, "vectors.hlvi"))
	v.SetDefault("index.pg_dsn", "")
	v.SetDefault("index.lexical", lexical.BackendFTS)
	v.SetDefault("index.workers", 4)
	v.SetDefault("index.cache_size", 10000)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")

	v.SetDefault("completion.enabled", true)
	v.SetDefault("completion.model", llm.DefaultCompletionModel)
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.temperature", llm.DefaultTemperature)
	v.SetDefault("completion.max_tokens", llm.DefaultMaxTokens)

	v.SetDefault("search.hybrid_alpha", 0.7)
	v.SetDefault("search.book_weight", 0.3)
	v.SetDefault("search.use_expansion", true)
	v.SetDefault("search.limit", 30)
	v.SetDefault("search.cache_size", 1000)
	v.SetDefault("search.cache_ttl", 3600)
	v.SetDefault("search.expansion_cache", 500)

	v.SetDefault("pairing.seed", 0)
	v.SetDefault("pairing.history_limit", 20)

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.interval", 60)
	v.SetDefault("circuit_breaker.timeout", 30)
	v.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 5)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".highlights"
	}
	return filepath.Join(home, ".highlights")
}

// Validate rejects values the components cannot work with
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Index.Path == "" && c.Index.PgDSN == "" {
		return fmt.Errorf("index.path or index.pg_dsn is required")
	}
	switch c.Index.Lexical {
	case lexical.BackendSubstring, lexical.BackendFTS, lexical.BackendBleve:
	default:
		return fmt.Errorf("index.lexical: unknown backend %q", c.Index.Lexical)
	}
	if c.Search.HybridAlpha < 0 || c.Search.HybridAlpha > 1 {
		return fmt.Errorf("search.hybrid_alpha must be between 0 and 1")
	}
	if c.Search.BookWeight < 0 || c.Search.BookWeight > 1 {
		return fmt.Errorf("search.book_weight must be between 0 and 1")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Breaker converts the circuit breaker section
func (c CircuitBreakerConfig) Breaker() llm.BreakerConfig {
	return llm.BreakerConfig{
		Enabled:          c.Enabled,
		MaxRequests:      c.MaxRequests,
		Interval:         time.Duration(c.Interval) * time.Second,
		Timeout:          time.Duration(c.Timeout) * time.Second,
		ReadyToTripRatio: c.ReadyToTripRatio,
	}
}

// ParseLevel maps a level name to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level: unknown level %q", level)
	}
}
