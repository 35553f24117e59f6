package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "fts5", cfg.Index.Lexical)
	assert.Equal(t, 0.7, cfg.Search.HybridAlpha)
	assert.Equal(t, 0.3, cfg.Search.BookWeight)
	assert.True(t, cfg.Search.UseExpansion)
	assert.Equal(t, 30, cfg.Search.Limit)
	assert.Equal(t, 20, cfg.Pairing.HistoryLimit)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.True(t, cfg.CircuitBreaker.Enabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HIGHLIGHTS_SEARCH_HYBRID_ALPHA", "0.25")
	t.Setenv("HIGHLIGHTS_INDEX_LEXICAL", "bleve")
	t.Setenv("HIGHLIGHTS_DATABASE_PATH", "/tmp/h.db")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.Search.HybridAlpha)
	assert.Equal(t, "bleve", cfg.Index.Lexical)
	assert.Equal(t, "/tmp/h.db", cfg.Database.Path)
	assert.Equal(t, "sk-test", cfg.Completion.APIKey)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "highlights.yaml")
	content := `
log:
  level: debug
search:
  limit: 12
  book_weight: 0
pairing:
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 12, cfg.Search.Limit)
	assert.Equal(t, 0.0, cfg.Search.BookWeight)
	assert.Equal(t, uint64(7), cfg.Pairing.Seed)

	assert.Error(t, ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no database", func(c *Config) { c.Database.Path = "" }},
		{"no index", func(c *Config) { c.Index.Path = ""; c.Index.PgDSN = "" }},
		{"bad lexical", func(c *Config) { c.Index.Lexical = "grep" }},
		{"alpha out of range", func(c *Config) { c.Search.HybridAlpha = 2 }},
		{"negative book weight", func(c *Config) { c.Search.BookWeight = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(New())
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBreaker(t *testing.T) {
	b := CircuitBreakerConfig{Enabled: true, MaxRequests: 2, Interval: 10, Timeout: 5, ReadyToTripRatio: 0.5}.Breaker()
	assert.Equal(t, 10*time.Second, b.Interval)
	assert.Equal(t, 5*time.Second, b.Timeout)
	assert.Equal(t, uint32(2), b.MaxRequests)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"shown"`)

	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}
