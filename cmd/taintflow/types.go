package main

import (
	"github.com/jward/taintflow"
)

// CLIResult is the top-level JSON envelope for every command.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIReport is the analyze payload: one page of paths plus run metadata.
type CLIReport struct {
	RunID       string                 `json:"run_id"`
	FactsDigest string                 `json:"facts_digest"`
	Truncated   bool                   `json:"truncated"`
	TotalPaths  int                    `json:"total_paths"`
	Paths       []taintflow.TaintPath  `json:"paths"`
	Summary     CLISummary             `json:"summary"`
	Stats       taintflow.Stats        `json:"stats"`
	Diagnostics []taintflow.Diagnostic `json:"diagnostics,omitempty"`
}

// CLISummary counts every path in the report, not just the printed page.
type CLISummary struct {
	BySeverity map[string]int `json:"by_severity"`
	ByCategory map[string]int `json:"by_category"`
}

func newCLIReport(r *taintflow.Report, page taintflow.PagedResult[taintflow.TaintPath]) CLIReport {
	sum := r.Summary()
	paths := page.Items
	if paths == nil {
		paths = []taintflow.TaintPath{}
	}
	return CLIReport{
		RunID:       r.RunID,
		FactsDigest: r.FactsDigest,
		Truncated:   r.Truncated,
		TotalPaths:  page.TotalCount,
		Paths:       paths,
		Summary:     CLISummary{BySeverity: sum.BySeverity, ByCategory: sum.ByCategory},
		Stats:       r.Stats,
		Diagnostics: r.Diagnostics,
	}
}

// CLIResolution is the resolve payload.
type CLIResolution struct {
	Callee        string `json:"callee"`
	Resolved      bool   `json:"resolved"`
	Name          string `json:"name,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	Kind          string `json:"kind,omitempty"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
	Via           string `json:"via,omitempty"`
	Candidates    int    `json:"candidates"`
}

// CLICatalog is the catalog validate/show payload.
type CLICatalog struct {
	Path       string `json:"path"`
	Sources    int    `json:"sources"`
	Sinks      int    `json:"sinks"`
	Sanitizers int    `json:"sanitizers"`
}

// CLIImport is the facts import payload.
type CLIImport struct {
	Fixture string `json:"fixture"`
	Store   string `json:"store"`
	Rows    int    `json:"rows"`
}
