package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/taintflow"
)

const handlerFixture = `
symbols:
  - {name: handle, qualified_name: controller.handle, file: controller.js, line: 1, end_line: 10, params: [req]}
  - {name: save, qualified_name: service.save, kind: method, file: service.js, line: 1, end_line: 8, params: [id]}
assignments:
  - {file: controller.js, line: 2, target: id, expr: req.body.id, function: handle}
calls:
  - {file: controller.js, line: 3, caller: handle, callee: service.save, index: 0, expr: id}
  - {file: service.js, line: 4, caller: save, callee: db.query, index: 0, expr: '"SELECT * FROM users WHERE id = " + id'}
`

// execute runs the root command. Commands share package-level flag state,
// so these tests do not run in parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	errorHandled = false
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// importFixture writes doc to a temp dir and imports it into a new store.
func importFixture(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "facts.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(doc), 0o644))
	db := filepath.Join(dir, "store", "facts.db")

	out, err := execute(t, "facts", "import", fixture, "--db", db, "--format", "json")
	require.NoError(t, err, out)

	var res struct {
		Results CLIImport `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, db, res.Results.Store)
	assert.Positive(t, res.Results.Rows)
	return db
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("sarif"))
}

func TestFindRepoRoot_NestedSubdirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	deep := filepath.Join(root, "sub", "deep")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	assert.Equal(t, root, findRepoRoot(deep))
}

func TestFindRepoRoot_NoGitAncestor(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	assert.Equal(t, dir, findRepoRoot(dir))
}

func TestResolveStorePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/repo/.taintflow/facts.db", resolveStorePath("/repo", ".taintflow/facts.db"))
	assert.Equal(t, "/tmp/x.db", resolveStorePath("/repo", "/tmp/x.db"))
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"sql", "xss"}, splitList(" sql, ,xss "))
}

func TestAnalyze_JSON(t *testing.T) {
	db := importFixture(t, handlerFixture)

	out, err := execute(t, "analyze", "--db", db, "--format", "json")
	require.NoError(t, err, out)

	var res struct {
		Command string    `json:"command"`
		Results CLIReport `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "analyze", res.Command)
	require.Len(t, res.Results.Paths, 1)
	p := res.Results.Paths[0]
	assert.Equal(t, "sql", p.Category)
	assert.Equal(t, "controller.js", p.Source.File)
	assert.Equal(t, "service.js", p.Sink.File)
	assert.Equal(t, 1, res.Results.TotalPaths)
	assert.Equal(t, 1, res.Results.Summary.ByCategory["sql"])
	assert.NotEmpty(t, res.Results.FactsDigest)
}

func TestAnalyze_CategoryFilter(t *testing.T) {
	db := importFixture(t, handlerFixture)

	out, err := execute(t, "analyze", "--db", db, "--format", "json", "--category", "xss")
	require.NoError(t, err, out)

	var res struct {
		Results CLIReport `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Results.Paths)
	assert.Equal(t, 1, res.Results.Summary.ByCategory["sql"], "summary covers the whole report")
	// Reset for later tests sharing the flag.
	flagCategories = ""
}

func TestAnalyze_Text(t *testing.T) {
	db := importFixture(t, handlerFixture)

	out, err := execute(t, "analyze", "--db", db, "--format", "text")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Path 1: SQL Injection")
	assert.Contains(t, out, "Showing 1 of 1 path(s)")
	assert.Contains(t, out, "argument_pass")
}

func TestAnalyze_MissingStore(t *testing.T) {
	out, err := execute(t, "analyze", "--db", filepath.Join(t.TempDir(), "none.db"), "--format", "json")
	require.Error(t, err)
	assert.True(t, errorHandled)
	assert.Contains(t, out, `"error"`)
}

func TestResolve(t *testing.T) {
	db := importFixture(t, handlerFixture)

	out, err := execute(t, "resolve", "service.save", "--db", db, "--format", "json")
	require.NoError(t, err, out)

	var res struct {
		Results CLIResolution `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Results.Resolved)
	assert.Equal(t, "service.js", res.Results.File)
	assert.Equal(t, taintflow.ViaQualifiedName, res.Results.Via)

	out, err = execute(t, "resolve", "nothing.here", "--db", db, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "no callable symbol")
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("sinks:\n  - {pattern: exec, category: command}\n"), 0o644))
	script := filepath.Join(dir, "web.risor")
	require.NoError(t, os.WriteFile(script, []byte(`sink("res.send", "xss")`+"\n"+`source("req.query", "http")`), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sinks:\n  - {pattern: exec}\n"), 0o644))

	out, err := execute(t, "catalog", "validate", good, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "0 source(s), 1 sink(s), 0 sanitizer(s)")

	out, err = execute(t, "catalog", "validate", script, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "1 source(s), 1 sink(s)")

	_, err = execute(t, "catalog", "validate", bad, "--format", "text")
	require.Error(t, err)
}

func TestCatalogShow_Default(t *testing.T) {
	out, err := execute(t, "catalog", "show", "--format", "text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "version: 1"))
	assert.Contains(t, out, "sanitizers:")
}

func TestFormatReportText_NoPaths(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	formatReportText(&buf, &taintflow.Report{}, taintflow.PagedResult[taintflow.TaintPath]{})
	assert.Contains(t, buf.String(), "No taint paths found.")
	assert.Contains(t, buf.String(), "Showing 0 of 0 path(s)")
}

func TestColorSeverity_PlainWithoutTerminal(t *testing.T) {
	prev := color.Enable
	color.Enable = false
	defer func() { color.Enable = prev }()
	assert.Equal(t, "critical", colorSeverity(taintflow.SeverityCritical))
	assert.Equal(t, "unknown", colorSeverity("unknown"))
}
