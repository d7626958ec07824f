package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/taintflow"
	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/config"
	"github.com/jward/taintflow/internal/observability"
	"github.com/jward/taintflow/internal/pgstore"
	"github.com/jward/taintflow/internal/runtime"
	"github.com/jward/taintflow/internal/store"
)

var (
	flagCatalog    string
	flagMaxDepth   int
	flagWorkers    int
	flagMaxNodes   int
	flagTimeout    string
	flagNoCFG      bool
	flagDriver     string
	flagDSN        string
	flagCategories string
	flagSeverities string
	flagSort       string
	flagOrder      string
	flagLimit      int
	flagOffset     int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Find unsanitized source-to-sink flows",
	Long:  "Loads the fact store and catalog, runs the taint engine and prints the paths found.",
	Args:  cobra.NoArgs,
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&flagCatalog, "catalog", "", "catalog file, YAML/JSON or .risor script (default: built-in)")
	f.IntVar(&flagMaxDepth, "max-depth", config.DefaultMaxDepth, "maximum function frames per path")
	f.IntVar(&flagWorkers, "workers", 0, "parallel seeds (default: number of CPUs)")
	f.IntVar(&flagMaxNodes, "max-nodes", 0, "worklist items per seed before giving up (0: unlimited)")
	f.StringVar(&flagTimeout, "timeout", "0s", "wall-clock budget for the run (0s: none)")
	f.BoolVar(&flagNoCFG, "no-cfg", false, "order sanitizers by line only, ignoring control flow")
	f.StringVar(&flagDriver, "driver", config.DriverSQLite, "fact store driver: sqlite|postgres")
	f.StringVar(&flagDSN, "dsn", "", "PostgreSQL connection string (postgres driver)")
	f.StringVar(&flagCategories, "category", "", "comma-separated sink categories to report")
	f.StringVar(&flagSeverities, "severity", "", "comma-separated severities to report")
	f.StringVar(&flagSort, "sort", "", "sort by: severity|file|hops|category (default: report order)")
	f.StringVar(&flagOrder, "order", "asc", "sort order: asc|desc")
	f.IntVar(&flagLimit, "limit", 500, "maximum paths to print")
	f.IntVar(&flagOffset, "offset", 0, "skip this many paths")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := observability.GetLogger()

	reader, closeReader, err := openReader(ctx, cfg.Store, log)
	if err != nil {
		return outputError(cmd, "analyze", err)
	}
	defer closeReader()

	cat, err := loadCatalog(ctx, cfg.Catalog, reader, log)
	if err != nil {
		return outputError(cmd, "analyze", err)
	}

	opts := []taintflow.Option{
		taintflow.WithMaxDepth(cfg.Analysis.MaxDepth),
		taintflow.WithWorkers(cfg.Analysis.Workers),
		taintflow.WithBudget(cfg.Analysis.Timeout, cfg.Analysis.MaxNodes),
		taintflow.WithCFG(cfg.Analysis.UseCFG && !flagNoCFG),
		taintflow.WithDiagnostics(cfg.Debug),
		taintflow.WithLogger(log),
	}
	engine, err := taintflow.New(reader, cat, opts...)
	if err != nil {
		return outputError(cmd, "analyze", err)
	}

	report, runErr := engine.Run(ctx)
	if report == nil {
		return outputError(cmd, "analyze", runErr)
	}
	if runErr != nil {
		log.Warn("analysis interrupted; report is partial", zap.Error(runErr))
	}

	page := report.Query(taintflow.PathFilter{
		Categories: splitList(flagCategories),
		Severities: splitList(flagSeverities),
	}, taintflow.Sort{
		Field: taintflow.SortField(flagSort),
		Order: taintflow.SortOrder(flagOrder),
	}, taintflow.Pagination{Offset: flagOffset, Limit: flagLimit})

	out := cmd.OutOrStdout()
	if flagFormat == "text" {
		formatReportText(out, report, page)
	} else if err := writeJSON(out, CLIResult{Command: "analyze", Results: newCLIReport(report, page)}); err != nil {
		return err
	}
	return runErr
}

// openReader opens the configured fact store. The returned func releases it.
func openReader(ctx context.Context, sc config.StoreConfig, log *zap.Logger) (taintflow.FactReader, func(), error) {
	switch sc.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, sc.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		r, err := pgstore.New(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return r, pool.Close, nil
	default:
		if _, err := os.Stat(sc.Path); err != nil {
			return nil, nil, fmt.Errorf("fact store %s: %w", sc.Path, err)
		}
		s, err := store.NewStore(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

// loadCatalog loads path as a YAML/JSON document or a Risor script, or the
// built-in catalog when path is empty. Scripts can query reader's symbols
// when it supports lookups.
func loadCatalog(ctx context.Context, path string, reader taintflow.FactReader, log *zap.Logger) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	if !runtime.IsScript(path) {
		return catalog.LoadFile(path)
	}

	opts := []runtime.RuntimeOption{runtime.WithLogger(log.Named("catalog"))}
	if lookup, ok := reader.(runtime.SymbolLookup); ok {
		opts = append(opts, runtime.WithSymbols(lookup))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return runtime.NewRuntime(filepath.Dir(abs), opts...).BuildCatalog(ctx, abs)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// outputError reports err in the selected format and marks it handled.
func outputError(cmd *cobra.Command, command string, err error) error {
	if err == nil {
		return nil
	}
	if flagFormat == "json" {
		if werr := writeJSON(cmd.OutOrStdout(), CLIResult{Command: command, Error: err.Error()}); werr != nil {
			return errors.Join(err, werr)
		}
		errorHandled = true
	}
	return err
}
