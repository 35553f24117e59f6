package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/highlights-mcp/internal/engine"
	"github.com/dshills/highlights-mcp/internal/pairing"
	"github.com/dshills/highlights-mcp/internal/storage"
)

var searchCmd = &cobra.Command{
	Use:   "search <keywords>...",
	Short: "Search highlights",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pick two highlights from different books",
	Args:  cobra.NoArgs,
	RunE:  runPair,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed new highlights and rebuild the indices",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import highlights from a JSON-lines file (- reads stdin)",
	Long: `Import highlights from a JSON-lines file. Each line is an object with
book_title, book_author and content, plus optional id, book_id and location.
Highlights whose content changed lose their embedding and are re-embedded by
the reindex that follows the import.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus counts and index health",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("highlights %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, pairCmd, reindexCmd, importCmd, statusCmd, versionCmd)

	searchCmd.Flags().Float64("alpha", 0, "weight of semantic similarity (default from config)")
	searchCmd.Flags().Float64("book-weight", 0, "book popularity boost (default from config)")
	searchCmd.Flags().Int("limit", 0, "maximum number of results (default from config)")
	searchCmd.Flags().Bool("no-expand", false, "disable query expansion")

	pairCmd.Flags().Bool("force", false, "select a new pair instead of the latest one")
	pairCmd.Flags().Uint64("seed", 0, "random seed for a reproducible selection")

	importCmd.Flags().Bool("reindex", true, "reindex after importing")
}

func runSearch(cmd *cobra.Command, args []string) error {
	params := engine.SearchParams{Keywords: args}
	flags := cmd.Flags()
	if flags.Changed("alpha") {
		alpha, _ := flags.GetFloat64("alpha")
		params.HybridAlpha = &alpha
	}
	if flags.Changed("book-weight") {
		bw, _ := flags.GetFloat64("book-weight")
		params.BookWeight = &bw
	}
	if flags.Changed("limit") {
		limit, _ := flags.GetInt("limit")
		params.Limit = &limit
	}
	if noExpand, _ := flags.GetBool("no-expand"); noExpand {
		off := false
		params.UseExpanded = &off
	}

	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	result, err := eng.Search(cmd.Context(), params)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runPair(cmd *cobra.Command, args []string) error {
	req := pairing.Request{}
	req.ForceRegenerate, _ = cmd.Flags().GetBool("force")
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		req.Seed = &seed
		req.ForceRegenerate = true
	}

	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	pair, err := eng.SelectPair(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printJSON(pair)
}

func runReindex(cmd *cobra.Command, args []string) error {
	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stats, err := eng.Reindex(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stats, err := eng.Import(cmd.Context(), r)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"books":      stats.Books,
		"highlights": stats.Highlights,
		"skipped":    stats.Skipped,
		"changed":    len(stats.Changed),
	}
	if reindex, _ := cmd.Flags().GetBool("reindex"); reindex {
		istats, err := eng.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		out["reindex"] = istats
	}
	return printJSON(out)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, _, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	status, err := eng.Status(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(status)
}
