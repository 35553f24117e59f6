package embedder

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dshills/highlights-mcp/internal/llm"
)

// ResilientOptions configures the wrappers applied around a provider
type ResilientOptions struct {
	Cache     *Cache // Optional text-hash cache
	RateLimit float64
	RateBurst int
	Retry     llm.RetryConfig
	Breaker   *gobreaker.CircuitBreaker // Optional
	Logger    *slog.Logger
}

// Resilient decorates an Embedder with a text-hash cache, a rate limiter, a
// circuit breaker and bounded retries on transient provider errors.
type Resilient struct {
	next    Embedder
	cache   *Cache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   llm.RetryConfig
	logger  *slog.Logger
}

// NewResilient wraps next
func NewResilient(next Embedder, opts ResilientOptions) *Resilient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("retrying embedding call", "provider", next.Provider(), "attempt", attempt, "delay", delay, "error", err)
		}
	}

	return &Resilient{
		next:    next,
		cache:   opts.Cache,
		limiter: limiter,
		breaker: opts.Breaker,
		retry:   retry,
		logger:  logger,
	}
}

// Embed implements Embedder
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	hash := ComputeHash(text)
	if r.cache != nil {
		if v, ok := r.cache.Get(hash); ok {
			return v, nil
		}
	}

	vector, err := llm.Retry(ctx, r.retry, r.call(text))
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(hash, vector)
	}
	return vector, nil
}

func (r *Resilient) call(text string) func(ctx context.Context) ([]float32, error) {
	return func(ctx context.Context) ([]float32, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if r.breaker == nil {
			return r.next.Embed(ctx, text)
		}
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.next.Embed(ctx, text)
		})
		if err != nil {
			return nil, llm.Classify(err)
		}
		return out.([]float32), nil
	}
}

func (r *Resilient) Dimension() int {
	return r.next.Dimension()
}

func (r *Resilient) Provider() string {
	return r.next.Provider()
}

func (r *Resilient) Model() string {
	return r.next.Model()
}

func (r *Resilient) Close() error {
	return r.next.Close()
}
