package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/observability"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect source/sink/sanitizer catalogs",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a YAML/JSON catalog or .risor script",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogValidate,
}

var catalogShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print a catalog as YAML (default: built-in catalog)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalogShow,
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	c, err := loadCatalog(cmd.Context(), args[0], nil, observability.GetLogger())
	if err != nil {
		return outputError(cmd, "catalog validate", err)
	}
	res := CLICatalog{
		Path:       args[0],
		Sources:    len(c.Sources()),
		Sinks:      len(c.Sinks()),
		Sanitizers: len(c.Sanitizers()),
	}
	if flagFormat == "text" {
		formatCatalogText(cmd.OutOrStdout(), res)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), CLIResult{Command: "catalog validate", Results: res})
}

// runCatalogShow prints the compiled catalog, which is how a .risor script's
// output can be frozen into a static document.
func runCatalogShow(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	var c *catalog.Catalog
	var err error
	if path == "" {
		c = catalog.Default()
	} else if c, err = loadCatalog(cmd.Context(), path, nil, observability.GetLogger()); err != nil {
		return outputError(cmd, "catalog show", err)
	}

	doc := c.Document()
	if flagFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResult{Command: "catalog show", Results: doc})
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
