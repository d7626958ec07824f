package taintflow

import (
	"fmt"
	"sort"
	"strings"
)

// Severities, from most to least severe.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

var severityRank = map[string]int{SeverityCritical: 0, SeverityHigh: 1, SeverityMedium: 2}

type classification struct {
	vulnType string
	severity string
	cwe      string
}

var categories = map[string]classification{
	"sql":     {"SQL Injection", SeverityCritical, "CWE-89"},
	"command": {"Command Injection", SeverityCritical, "CWE-78"},
	"xss":     {"Cross-Site Scripting (XSS)", SeverityHigh, "CWE-79"},
	"path":    {"Path Traversal", SeverityHigh, "CWE-22"},
	"ldap":    {"LDAP Injection", SeverityHigh, "CWE-90"},
	"nosql":   {"NoSQL Injection", SeverityHigh, "CWE-943"},
}

var dataExposure = classification{"Data Exposure", SeverityMedium, "CWE-200"}

// Classify returns the vulnerability type, severity and default CWE for a
// sink category.
func Classify(category string) (vulnType, severity, cwe string) {
	c, ok := categories[category]
	if !ok {
		c = dataExposure
	}
	return c.vulnType, c.severity, c.cwe
}

// Signature identifies a path by its endpoints and step sequence.
func (p *TaintPath) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d>%s:%d", p.Source.File, p.Source.Line, p.Sink.File, p.Sink.Line)
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "|%s@%s#%s:%d=%s", s.Kind, s.File, s.Function, s.Line, s.Var)
	}
	return b.String()
}

// Assemble deduplicates paths, labels each with its vulnerability type,
// severity and CWE, and sorts them by severity, then location.
func Assemble(paths []TaintPath) []TaintPath {
	type keyed struct {
		sig  string
		path TaintPath
	}
	seen := make(map[string]bool, len(paths))
	out := make([]keyed, 0, len(paths))
	for _, p := range paths {
		sig := p.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		vulnType, severity, cwe := Classify(p.Category)
		p.VulnerabilityType = vulnType
		p.Severity = severity
		if p.CWE == "" {
			p.CWE = cwe
		}
		out = append(out, keyed{sig, p})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].path, out[j].path
		if ra, rb := severityRank[a.Severity], severityRank[b.Severity]; ra != rb {
			return ra < rb
		}
		if a.Source.File != b.Source.File {
			return a.Source.File < b.Source.File
		}
		if a.Source.Line != b.Source.Line {
			return a.Source.Line < b.Source.Line
		}
		if a.Sink.File != b.Sink.File {
			return a.Sink.File < b.Sink.File
		}
		if a.Sink.Line != b.Sink.Line {
			return a.Sink.Line < b.Sink.Line
		}
		if a.HopCount != b.HopCount {
			return a.HopCount < b.HopCount
		}
		return out[i].sig < out[j].sig
	})

	result := make([]TaintPath, len(out))
	for i, k := range out {
		result[i] = k.path
	}
	return result
}
