package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/config"
	"github.com/jward/taintflow/internal/observability"
)

var (
	flagConfig string
	flagDB     string
	flagFormat string
	flagDebug  bool
)

// cfg is the resolved configuration, set by the root PersistentPreRunE.
var cfg *config.Config

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	err := rootCmd.Execute()
	observability.Sync()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "taintflow",
	Short:         "Interprocedural taint analysis over an indexed fact store",
	Long:          "Taintflow follows attacker-controlled values from sources to sinks across functions and files, using the facts a multi-language indexer wrote to SQLite or PostgreSQL.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return loadConfig(cmd)
	},
	// No Run: prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./taintflow.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite fact store path (default: "+config.DefaultStorePath+")")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "include verbose diagnostics and debug logging")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(factsCmd)
	rootCmd.AddCommand(resolveCmd)
}

// loadConfig resolves defaults < taintflow.yaml < TAINTFLOW_* < flags and
// initializes the global logger.
func loadConfig(cmd *cobra.Command) error {
	_, v, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	bindFlag(v, config.StorePathKey, cmd, "db")
	bindFlag(v, config.DebugKey, cmd, "debug")
	bindFlag(v, config.CatalogKey, cmd, "catalog")
	bindFlag(v, config.MaxDepthKey, cmd, "max-depth")
	bindFlag(v, config.WorkersKey, cmd, "workers")
	bindFlag(v, config.MaxNodesKey, cmd, "max-nodes")
	bindFlag(v, config.TimeoutKey, cmd, "timeout")
	bindFlag(v, config.DriverKey, cmd, "driver")
	bindFlag(v, config.DSNKey, cmd, "dsn")

	cfg, err = config.Decode(v)
	if err != nil {
		return err
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}
	if cfg.Store.Driver == config.DriverSQLite {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg.Store.Path = resolveStorePath(findRepoRoot(cwd), cfg.Store.Path)
	}
	observability.InitializeLogger(cfg.Log, "taintflow")
	observability.GetLogger().Debug("config loaded",
		zap.String("store", cfg.Store.Driver),
		zap.String("catalog", cfg.Catalog),
		zap.Int("max_depth", cfg.Analysis.MaxDepth))
	return nil
}

// bindFlag lets an explicitly set flag override key. Unset flags leave the
// config value alone.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return
	}
	v.Set(key, f.Value.String())
}

// findRepoRoot walks up from startDir looking for a .git directory and
// returns the first ancestor that has one, or startDir if none is found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveStorePath anchors a relative fact store path at the repository root.
func resolveStorePath(repoRoot, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json or text)", format)
	}
}
