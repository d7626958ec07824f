package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gookit/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"github.com/jward/taintflow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// writeJSON writes v as indented JSON followed by a newline.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// severityStyle colors severities in text output. gookit/color drops the
// escapes when stdout is not a terminal.
var severityStyle = map[string]color.Color{
	taintflow.SeverityCritical: color.FgRed,
	taintflow.SeverityHigh:     color.FgYellow,
	taintflow.SeverityMedium:   color.FgCyan,
}

func colorSeverity(sev string) string {
	if c, ok := severityStyle[sev]; ok {
		return c.Render(sev)
	}
	return sev
}

// formatReportText renders one page of paths as a table, followed by the
// provenance of each path and the run summary.
func formatReportText(w io.Writer, r *taintflow.Report, page taintflow.PagedResult[taintflow.TaintPath]) {
	if len(page.Items) == 0 {
		fmt.Fprintln(w, "No taint paths found.")
	} else {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"#", "Severity", "Category", "Source", "Sink", "Hops"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetAutoWrapText(false)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		for i, p := range page.Items {
			table.Append([]string{
				strconv.Itoa(i + 1),
				colorSeverity(p.Severity),
				p.Category,
				fmt.Sprintf("%s:%d %s", p.Source.File, p.Source.Line, p.Source.Name),
				fmt.Sprintf("%s:%d %s", p.Sink.File, p.Sink.Line, p.Sink.Name),
				strconv.Itoa(p.HopCount),
			})
		}
		table.Render()

		for i, p := range page.Items {
			fmt.Fprintln(w)
			formatPathText(w, i+1, &p)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Showing %d of %d path(s)", len(page.Items), page.TotalCount)
	if r.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
	sum := r.Summary()
	if len(sum.BySeverity) > 0 {
		fmt.Fprintf(w, "By severity: %s\n", joinCounts(sum.BySeverity))
		fmt.Fprintf(w, "By category: %s\n", joinCounts(sum.ByCategory))
	}
	fmt.Fprintf(w, "Seeds: %d  Items: %d  Duration: %s\n", r.Stats.Seeds, r.Stats.Items, r.Stats.Duration)

	if len(r.Diagnostics) > 0 {
		fmt.Fprintf(w, "\nDiagnostics (%d):\n", len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			fmt.Fprintf(w, "  [%s] %s\n", d.Kind, d.Message)
		}
	}
}

// formatPathText prints a path's steps one per line.
func formatPathText(w io.Writer, n int, p *taintflow.TaintPath) {
	fmt.Fprintf(w, "Path %d: %s (%s", n, p.VulnerabilityType, p.Category)
	if p.CWE != "" {
		fmt.Fprintf(w, ", %s", p.CWE)
	}
	fmt.Fprintln(w, ")")
	for _, s := range p.Steps {
		loc := fmt.Sprintf("%s:%d", s.File, s.Line)
		detail := s.Expr
		if detail == "" {
			detail = s.Var
		}
		fmt.Fprintf(w, "  %-22s %-28s %s  %s\n", s.Kind, loc, s.Function, detail)
	}
}

func joinCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

// formatResolutionText prints a resolve result on one line.
func formatResolutionText(w io.Writer, r CLIResolution) {
	if !r.Resolved {
		fmt.Fprintf(w, "%s: no callable symbol\n", r.Callee)
		return
	}
	name := r.Name
	if r.QualifiedName != "" {
		name = r.QualifiedName
	}
	fmt.Fprintf(w, "%s -> %s (%s) %s:%d via %s, %d candidate(s)\n",
		r.Callee, name, r.Kind, r.File, r.Line, r.Via, r.Candidates)
}

// formatCatalogText prints entry counts for a catalog.
func formatCatalogText(w io.Writer, c CLICatalog) {
	fmt.Fprintf(w, "%s: %d source(s), %d sink(s), %d sanitizer(s)\n", c.Path, c.Sources, c.Sinks, c.Sanitizers)
}
