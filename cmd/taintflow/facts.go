package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/config"
	"github.com/jward/taintflow/internal/observability"
	"github.com/jward/taintflow/internal/store"
)

var flagReplace bool

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Manage the SQLite fact store",
}

var factsImportCmd = &cobra.Command{
	Use:   "import <fixture.yaml>",
	Short: "Load a YAML fact fixture into the fact store",
	Long:  "Creates the fact store schema if needed and writes the fixture's symbols, call edges, assignments, returns and CFGs in one transaction.",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactsImport,
}

func init() {
	factsImportCmd.Flags().BoolVar(&flagReplace, "replace", false, "delete existing facts for the fixture's files first")
	factsCmd.AddCommand(factsImportCmd)
}

func runFactsImport(cmd *cobra.Command, args []string) error {
	if cfg.Store.Driver != config.DriverSQLite {
		return outputError(cmd, "facts import", fmt.Errorf("facts import needs the %s driver", config.DriverSQLite))
	}
	log := observability.GetLogger()

	f, err := os.Open(args[0])
	if err != nil {
		return outputError(cmd, "facts import", err)
	}
	defer f.Close()
	fx, err := store.DecodeFixture(f)
	if err != nil {
		return outputError(cmd, "facts import", fmt.Errorf("%s: %w", args[0], err))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return outputError(cmd, "facts import", err)
	}
	s, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return outputError(cmd, "facts import", err)
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return outputError(cmd, "facts import", err)
	}

	if flagReplace {
		for _, file := range fx.Files() {
			if err := s.DeleteFileData(file); err != nil {
				return outputError(cmd, "facts import", err)
			}
		}
	}

	n, err := s.ImportFixture(fx)
	if err != nil {
		return outputError(cmd, "facts import", err)
	}
	log.Info("facts imported", zap.String("fixture", args[0]), zap.String("store", cfg.Store.Path), zap.Int("rows", n))

	res := CLIImport{Fixture: args[0], Store: cfg.Store.Path, Rows: n}
	if flagFormat == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s) into %s\n", n, res.Store)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), CLIResult{Command: "facts import", Results: res})
}
