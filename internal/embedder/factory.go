package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/highlights-mcp/internal/llm"
)

// Environment variables consulted when no explicit key is configured
const (
	EnvProvider     = "HIGHLIGHTS_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int

	// RateLimit is the sustained provider calls per second; 0 disables limiting
	RateLimit float64
	RateBurst int

	Retry   llm.RetryConfig
	Breaker llm.BreakerConfig
	Logger  *slog.Logger
}

// New creates an embedder with explicit configuration. The provider is
// wrapped with caching, rate limiting, circuit breaking and retries.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	var (
		base Embedder
		err  error
	)
	switch provider {
	case ProviderJina:
		base, err = NewJinaProvider(cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		base, err = NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderLocal:
		base = NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = llm.DefaultRetryConfig()
	}

	return NewResilient(base, ResilientOptions{
		Cache:     NewCache(cfg.CacheSize),
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Retry:     retry,
		Breaker:   llm.NewBreaker("embedder-"+provider, cfg.Breaker, cfg.Logger),
		Logger:    cfg.Logger,
	}), nil
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
