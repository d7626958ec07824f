package main

import (
	"github.com/spf13/cobra"

	"github.com/jward/taintflow"
	"github.com/jward/taintflow/internal/observability"
)

var (
	flagCallerFile string
	flagCalleeFile string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <callee>",
	Short: "Show which symbol a call target resolves to",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&flagCallerFile, "caller-file", "", "file containing the call, used to break ties")
	resolveCmd.Flags().StringVar(&flagCalleeFile, "callee-file", "", "indexer's callee file hint")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reader, closeReader, err := openReader(ctx, cfg.Store, observability.GetLogger())
	if err != nil {
		return outputError(cmd, "resolve", err)
	}
	defer closeReader()

	facts, err := taintflow.LoadFacts(ctx, reader)
	if err != nil {
		return outputError(cmd, "resolve", err)
	}

	res := CLIResolution{Callee: args[0]}
	r, ok := taintflow.NewResolver(facts).ResolveCall(&taintflow.CallArg{
		File:           flagCallerFile,
		CalleeFunction: args[0],
		CalleeFile:     flagCalleeFile,
	})
	if ok {
		res.Resolved = true
		res.Name = r.Symbol.Name
		res.QualifiedName = r.Symbol.QualifiedName
		res.Kind = r.Symbol.Kind
		res.File = r.Symbol.File
		res.Line = r.Symbol.Line
		res.Via = r.Via
		res.Candidates = r.Candidates
	}

	if flagFormat == "text" {
		formatResolutionText(cmd.OutOrStdout(), res)
		return nil
	}
	return writeJSON(cmd.OutOrStdout(), CLIResult{Command: "resolve", Results: res})
}
