package expander

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dshills/highlights-mcp/internal/llm"
)

// Cache defaults
const (
	DefaultCacheSize = 512
	DefaultCacheTTL  = 30 * time.Minute
)

// Expansion holds the alternative phrasings of a query. Either field may be
// empty.
type Expansion struct {
	Synonyms      string `json:"synonyms"`
	Reformulation string `json:"reformulation"`
}

// IsEmpty reports whether the expansion carries no variant
func (e Expansion) IsEmpty() bool {
	return strings.TrimSpace(e.Synonyms) == "" && strings.TrimSpace(e.Reformulation) == ""
}

// Options configures an Expander
type Options struct {
	Retry     llm.RetryConfig
	CacheSize int           // 0 uses DefaultCacheSize, negative disables the cache
	CacheTTL  time.Duration // 0 uses DefaultCacheTTL
	Logger    *slog.Logger
}

// Expander asks a completion provider for synonyms and a reformulation of a
// search query. Expansion is best effort: every failure yields an empty
// Expansion.
type Expander struct {
	completer llm.Completer
	retry     llm.RetryConfig
	cache     *expirable.LRU[string, Expansion]
	logger    *slog.Logger
}

// New creates an Expander over completer
func New(completer llm.Completer, opts Options) *Expander {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = llm.DefaultRetryConfig()
	}
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("query expansion failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}
	}

	var cache *expirable.LRU[string, Expansion]
	if opts.CacheSize >= 0 {
		size := opts.CacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		ttl := opts.CacheTTL
		if ttl == 0 {
			ttl = DefaultCacheTTL
		}
		cache = expirable.NewLRU[string, Expansion](size, nil, ttl)
	}

	return &Expander{
		completer: completer,
		retry:     retry,
		cache:     cache,
		logger:    logger,
	}
}

// Expand returns variants of query. A blank query makes no provider call.
func (e *Expander) Expand(ctx context.Context, query string) Expansion {
	query = strings.TrimSpace(query)
	if query == "" || e.completer == nil {
		return Expansion{}
	}

	key := strings.ToLower(query)
	if e.cache != nil {
		if exp, ok := e.cache.Get(key); ok {
			return exp
		}
	}

	text, err := llm.Retry(ctx, e.retry, func(ctx context.Context) (string, error) {
		return e.completer.Complete(ctx, buildPrompt(query))
	})
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "query expansion unavailable", "error", err)
		return Expansion{}
	}

	exp := Parse(text)
	if exp.IsEmpty() {
		e.logger.Debug("query expansion returned nothing usable", "response", text)
		return exp
	}
	if e.cache != nil {
		e.cache.Add(key, exp)
	}
	return exp
}

func buildPrompt(query string) string {
	var b strings.Builder
	b.WriteString("You help search a personal library of book highlights.\n")
	b.WriteString("For the search query below, return a JSON object with two string fields:\n")
	b.WriteString(`  "synonyms": a space-separated list of synonyms and closely related terms` + "\n")
	b.WriteString(`  "reformulation": the same information need phrased differently` + "\n")
	b.WriteString("Return only the JSON object.\n\n")
	b.WriteString("Query: ")
	b.WriteString(query)
	return b.String()
}
