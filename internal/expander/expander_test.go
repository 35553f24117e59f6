package expander

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/highlights-mcp/internal/llm"
)

// mockCompleter implements llm.Completer for testing
type mockCompleter struct {
	completeFunc func(ctx context.Context, prompt string) (string, error)
	calls        int
	prompts      []string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.completeFunc(ctx, prompt)
}

func recordingRetry(waits *[]time.Duration) llm.RetryConfig {
	cfg := llm.DefaultRetryConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return cfg
}

func rateLimited() error {
	return &llm.ProviderError{Kind: llm.ErrRateLimited, StatusCode: 429, Err: errors.New("slow down")}
}

func TestExpandSuccess(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"synonyms": "stoicism virtue", "reformulation": "how to live a good life"}`, nil
	}}
	e := New(m, Options{})

	exp := e.Expand(context.Background(), "ethics")
	assert.Equal(t, "stoicism virtue", exp.Synonyms)
	assert.Equal(t, "how to live a good life", exp.Reformulation)
	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], "Query: ethics")

	// Memoized, case-insensitively
	again := e.Expand(context.Background(), "  Ethics ")
	assert.Equal(t, exp, again)
	assert.Equal(t, 1, m.calls)
}

func TestExpandRateLimitedExhaustsRetries(t *testing.T) {
	var waits []time.Duration
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", rateLimited()
	}}
	e := New(m, Options{Retry: recordingRetry(&waits)})

	exp := e.Expand(context.Background(), "memory")
	assert.True(t, exp.IsEmpty())
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, waits)

	// Failures are not memoized
	e.Expand(context.Background(), "memory")
	assert.Equal(t, 6, m.calls)
}

func TestExpandRecoversAfterTransientError(t *testing.T) {
	var waits []time.Duration
	m := &mockCompleter{}
	m.completeFunc = func(ctx context.Context, prompt string) (string, error) {
		if m.calls == 1 {
			return "", &llm.ProviderError{Kind: llm.ErrConnection, Err: errors.New("reset")}
		}
		return `{"synonyms": "recall", "reformulation": ""}`, nil
	}
	e := New(m, Options{Retry: recordingRetry(&waits)})

	exp := e.Expand(context.Background(), "memory")
	assert.Equal(t, "recall", exp.Synonyms)
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, []time.Duration{time.Second}, waits)
}

func TestExpandDoesNotRetryPermanentErrors(t *testing.T) {
	var waits []time.Duration
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("invalid api key")
	}}
	e := New(m, Options{Retry: recordingRetry(&waits)})

	assert.True(t, e.Expand(context.Background(), "memory").IsEmpty())
	assert.Equal(t, 1, m.calls)
	assert.Empty(t, waits)
}

func TestExpandBlankQuery(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("provider must not be called")
		return "", nil
	}}
	e := New(m, Options{})
	assert.True(t, e.Expand(context.Background(), "   ").IsEmpty())
	assert.Equal(t, 0, m.calls)

	var nilExpander = New(nil, Options{})
	assert.True(t, nilExpander.Expand(context.Background(), "query").IsEmpty())
}

func TestExpandCacheDisabled(t *testing.T) {
	m := &mockCompleter{completeFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"synonyms": "a", "reformulation": "b"}`, nil
	}}
	e := New(m, Options{CacheSize: -1})
	e.Expand(context.Background(), "q")
	e.Expand(context.Background(), "q")
	assert.Equal(t, 2, m.calls)
}
