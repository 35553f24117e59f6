package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/highlights-mcp/internal/embedder"
	"github.com/dshills/highlights-mcp/internal/vectorindex"
)

var embedCmd = &cobra.Command{
	Use:   "embed <text>...",
	Short: "Embed text with the configured provider",
	Long: `Embed text with the configured provider and print the provider, model
and dimension. With two or more arguments the cosine distance between the
first two embeddings is printed as well. Useful to check API keys before a
reindex.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		RateLimit: cfg.RateLimit.RequestsPerSecond,
		RateBurst: cfg.RateLimit.Burst,
		Breaker:   cfg.CircuitBreaker.Breaker(),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	type embedding struct {
		Text      string    `json:"text"`
		Dimension int       `json:"dimension"`
		Head      []float32 `json:"head"`
		Millis    int64     `json:"duration_ms"`
	}
	out := struct {
		Model      string      `json:"model"`
		Dimension  int         `json:"dimension"`
		Embeddings []embedding `json:"embeddings"`
		Distance   *float64    `json:"distance,omitempty"`
	}{
		Model:     embedder.ModelID(emb),
		Dimension: emb.Dimension(),
	}

	vectors := make([][]float32, 0, len(args))
	for _, text := range args {
		start := time.Now()
		vec, err := emb.Embed(cmd.Context(), text)
		if err != nil {
			return fmt.Errorf("failed to embed %q: %w", truncate(text, 40), err)
		}
		vectors = append(vectors, vec)
		out.Embeddings = append(out.Embeddings, embedding{
			Text:      truncate(text, 80),
			Dimension: len(vec),
			Head:      vec[:min(len(vec), 5)],
			Millis:    time.Since(start).Milliseconds(),
		})
	}
	if len(vectors) >= 2 {
		d := vectorindex.Distance(vectors[0], vectors[1])
		out.Distance = &d
	}
	return printJSON(out)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
