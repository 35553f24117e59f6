package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/highlights-mcp/internal/config"
	"github.com/dshills/highlights-mcp/internal/engine"
)

var (
	cfgFile string
	v       = config.New()

	rootCmd = &cobra.Command{
		Use:   "highlights",
		Short: "Search and connect reading highlights",
		Long: `highlights indexes personal reading highlights for hybrid semantic and
keyword search, and picks pairs of highlights from different books that make
an interesting connection.

Run "highlights serve" to expose the library to MCP clients over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.highlights.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("index", "", "vector index file path")

	// Bind flags to viper
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("index.path", rootCmd.PersistentFlags().Lookup("index"))
}

// loadConfig reads the config file and returns the decoded configuration
// with a stderr logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.ReadFile(v, cfgFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}

	// stdout is reserved for the MCP protocol and command output
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return cfg, logger, nil
}

// openEngine loads the configuration and opens the engine
func openEngine(ctx context.Context) (*engine.Engine, *slog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Open(ctx, cfg, logger, engine.Options{})
	if err != nil {
		return nil, nil, err
	}
	return eng, logger, nil
}

// printJSON writes out to stdout as indented JSON
func printJSON(out interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
