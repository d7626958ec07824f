package taintflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		category, vulnType, severity, cwe string
	}{
		{"sql", "SQL Injection", SeverityCritical, "CWE-89"},
		{"command", "Command Injection", SeverityCritical, "CWE-78"},
		{"xss", "Cross-Site Scripting (XSS)", SeverityHigh, "CWE-79"},
		{"path", "Path Traversal", SeverityHigh, "CWE-22"},
		{"ldap", "LDAP Injection", SeverityHigh, "CWE-90"},
		{"nosql", "NoSQL Injection", SeverityHigh, "CWE-943"},
		{"log", "Data Exposure", SeverityMedium, "CWE-200"},
		{"", "Data Exposure", SeverityMedium, "CWE-200"},
	}
	for _, tt := range tests {
		vulnType, severity, cwe := Classify(tt.category)
		assert.Equal(t, tt.vulnType, vulnType, tt.category)
		assert.Equal(t, tt.severity, severity, tt.category)
		assert.Equal(t, tt.cwe, cwe, tt.category)
	}
}

func mkPath(category string, srcLine, sinkLine int, steps ...Step) TaintPath {
	return TaintPath{
		Source:   Endpoint{File: "a.js", Function: "f", Line: srcLine},
		Sink:     Endpoint{File: "a.js", Function: "f", Line: sinkLine},
		Steps:    steps,
		HopCount: 1,
		Category: category,
	}
}

func TestAssemble_Deduplicates(t *testing.T) {
	t.Parallel()
	src := Step{Kind: StepSource, File: "a.js", Function: "f", Line: 1, Var: "x"}
	sink := Step{Kind: StepSink, File: "a.js", Function: "f", Line: 5, Var: "x"}
	cond := Step{Kind: StepCondition, File: "a.js", Function: "f", Line: 3}

	out := Assemble([]TaintPath{
		mkPath("sql", 1, 5, src, sink),
		mkPath("sql", 1, 5, src, sink),
		mkPath("sql", 1, 5, src, cond, sink),
	})
	assert.Len(t, out, 2, "a different step sequence is a different path")
}

func TestAssemble_LabelsAndKeepsExplicitCWE(t *testing.T) {
	t.Parallel()
	p := mkPath("sql", 1, 2)
	p.CWE = "CWE-564"
	out := Assemble([]TaintPath{p, mkPath("xss", 1, 3)})

	require.Len(t, out, 2)
	assert.Equal(t, "CWE-564", out[0].CWE)
	assert.Equal(t, "SQL Injection", out[0].VulnerabilityType)
	assert.Equal(t, "CWE-79", out[1].CWE)
	assert.Equal(t, SeverityHigh, out[1].Severity)
}

func TestAssemble_SortsBySeverityThenLocation(t *testing.T) {
	t.Parallel()
	out := Assemble([]TaintPath{
		mkPath("log", 1, 2),
		mkPath("xss", 9, 10),
		mkPath("sql", 7, 8),
		mkPath("command", 3, 4),
	})
	var got []string
	for _, p := range out {
		got = append(got, p.Category)
	}
	if diff := cmp.Diff([]string{"command", "sql", "xss", "log"}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestAssemble_OrderIndependent(t *testing.T) {
	t.Parallel()
	in := []TaintPath{mkPath("xss", 9, 10), mkPath("sql", 7, 8), mkPath("sql", 3, 4), mkPath("sql", 3, 6)}
	rev := []TaintPath{in[3], in[2], in[1], in[0]}
	if diff := cmp.Diff(Assemble(in), Assemble(rev)); diff != "" {
		t.Errorf("assembly depends on input order:\n%s", diff)
	}
}
