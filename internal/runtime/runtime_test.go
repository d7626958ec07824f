package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
)

const catalogScript = `
source("req.body", "http")
source("r\\.FormValue", "http", {"match": "regex"})

sink("query", "sql", {"cwe": "CWE-89"})
sink("exec", "command")

sanitizer("escape")
sanitizer("parseInt", {"categories": ["sql", "command"]})
sanitizer("z.object", {"kind": "schema"})
`

func TestBuildCatalogSource(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	c, err := rt.BuildCatalogSource(context.Background(), catalogScript, nil)
	require.NoError(t, err)

	require.Len(t, c.Sources(), 2)
	assert.Equal(t, catalog.MatchRegex, c.Sources()[1].Match)

	sinks := c.Sinks()
	require.Len(t, sinks, 2)
	assert.Equal(t, "CWE-89", sinks[0].CWE)

	san := c.Sanitizers()
	require.Len(t, san, 3)
	assert.Equal(t, []string{"sql", "command"}, san[1].Categories)
	assert.Equal(t, catalog.KindSchema, san[2].Kind)

	assert.True(t, c.SanitizesFor("parseInt(id)", "sql"))
	assert.False(t, c.SanitizesFor("parseInt(id)", "xss"))
}

func TestBuildCatalogSource_LoopsAndExtraGlobals(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	script := `
for _, name := range sink_names {
	sink(name, "sql")
}
`
	c, err := rt.BuildCatalogSource(context.Background(), script, map[string]any{
		"sink_names": []any{"query", "raw", "execute"},
	})
	require.NoError(t, err)
	assert.Len(t, c.Sinks(), 3)
}

func TestBuildCatalogSource_InvalidEntry(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")

	_, err := rt.BuildCatalogSource(context.Background(), `source("(", "http", {"match": "regex"})`, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrInvalidCatalog))
}

func TestBuildCatalogSource_BadArguments(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("")
	ctx := context.Background()

	_, err := rt.BuildCatalogSource(ctx, `sink("query")`, nil)
	require.Error(t, err, "sink needs a category")

	_, err = rt.BuildCatalogSource(ctx, `sanitizer(42)`, nil)
	require.Error(t, err)

	_, err = rt.BuildCatalogSource(ctx, `sanitizer("escape", {"categories": "sql"})`, nil)
	require.Error(t, err)
}

func TestBuildCatalog_FromDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web.risor"), []byte(catalogScript), 0o644))

	c, err := NewRuntime(dir).BuildCatalog(context.Background(), "web.risor")
	require.NoError(t, err)
	assert.Equal(t, 7, c.Len())

	_, err = NewRuntime(dir).BuildCatalog(context.Background(), "missing.risor")
	require.Error(t, err)
}

func TestBuildCatalog_ExpressScript(t *testing.T) {
	t.Parallel()
	c, err := NewRuntime("testdata").BuildCatalog(context.Background(), "express.risor")
	require.NoError(t, err)
	assert.Len(t, c.Sources(), 5)
	assert.Len(t, c.Sinks(), 4)

	e, ok := c.MatchSink("db.query")
	require.True(t, ok)
	assert.Equal(t, "CWE-89", e.CWE)
	assert.True(t, c.SanitizesFor("userSchema.parse(body)", "xss"))
	assert.False(t, c.SanitizesFor("parseInt(id)", "xss"))

	syms := &fakeSymbols{byName: map[string][]*store.Symbol{
		"rawQuery": {{Name: "rawQuery", QualifiedName: "repo.rawQuery", Kind: store.KindMethod, File: "repo.js", Line: 7}},
	}}
	c, err = NewRuntime("testdata", WithSymbols(syms)).BuildCatalog(context.Background(), "express.risor")
	require.NoError(t, err)
	assert.Len(t, c.Sinks(), 5)
	_, ok = c.MatchSink("repo.rawQuery")
	assert.True(t, ok)
}

func TestIsScript(t *testing.T) {
	t.Parallel()
	assert.True(t, IsScript("catalog/web.risor"))
	assert.True(t, IsScript("WEB.RISOR"))
	assert.False(t, IsScript("catalog.yaml"))
}

// =============================================================================
// Fact store access
// =============================================================================

type fakeSymbols struct {
	byName map[string][]*store.Symbol
}

func (f *fakeSymbols) SymbolsByName(_ context.Context, name string) ([]*store.Symbol, error) {
	return f.byName[name], nil
}

func (f *fakeSymbols) SymbolsByFile(_ context.Context, file string) ([]*store.Symbol, error) {
	var out []*store.Symbol
	for _, syms := range f.byName {
		for _, s := range syms {
			if s.File == file {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func TestBuildCatalogSource_SymbolLookup(t *testing.T) {
	t.Parallel()
	syms := &fakeSymbols{byName: map[string][]*store.Symbol{
		"rawQuery": {{Name: "rawQuery", QualifiedName: "db.rawQuery", Kind: store.KindFunction, File: "db.js", Line: 3}},
	}}
	rt := NewRuntime("", WithSymbols(syms))

	script := `
for _, s := range symbols_by_name("rawQuery") {
	sink(s["qualified_name"], "sql")
}
assert(len(symbols_by_file("db.js")) == 1)
assert(len(symbols_by_name("missing")) == 0)
`
	c, err := rt.BuildCatalogSource(context.Background(), script, nil)
	require.NoError(t, err)
	require.Len(t, c.Sinks(), 1)
	assert.Equal(t, "db.rawQuery", c.Sinks()[0].Pattern)
}

func TestSymbolFunctions_AbsentWithoutStore(t *testing.T) {
	t.Parallel()
	err := NewRuntime("").RunSource(context.Background(), `symbols_by_name("x")`, nil)
	require.Error(t, err)
}

// =============================================================================
// Logging
// =============================================================================

func TestLogGlobal_WritesToLogger(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	rt := NewRuntime("", WithLogger(zap.New(core)))

	require.NoError(t, rt.RunSource(context.Background(), `log.Warn("deprecated pattern")`, nil))

	entries := logs.FilterMessage("deprecated pattern").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "<inline>", entries[0].ContextMap()["script"])
}

// =============================================================================
// Script loading
// =============================================================================

func TestLoadScript(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.risor")
	require.NoError(t, os.WriteFile(path, []byte(`x := 42`), 0o644))

	got, err := NewRuntime(dir).LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, `x := 42`, got)
}

func TestLoadScript_FromFS(t *testing.T) {
	t.Parallel()
	mapFS := fstest.MapFS{
		"catalog/web.risor": &fstest.MapFile{Data: []byte(`y := 99`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	got, err := rt.LoadScript("/catalog/web.risor")
	require.NoError(t, err)
	assert.Equal(t, `y := 99`, got)

	_, err = rt.LoadScript("missing.risor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from fs")
}

// =============================================================================
// Imports
// =============================================================================

func TestImport_FSImporterSharesBuilder(t *testing.T) {
	mapFS := fstest.MapFS{
		"web_sinks.risor": &fstest.MapFile{Data: []byte(`
func register() {
	sink("res.send", "xss", {"cwe": "CWE-79"})
}
`)},
	}
	rt := NewRuntime("", WithRuntimeFS(mapFS))

	script := `
import web_sinks
web_sinks.register()
sink("query", "sql")
`
	c, err := rt.BuildCatalogSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Len(t, c.Sinks(), 2)
}

func TestImport_LocalImporter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.risor"), []byte(`
func http_sources() {
	return ["req.body", "req.query"]
}
`), 0o644))

	script := `
import common
for _, p := range common.http_sources() {
	source(p, "http")
}
`
	c, err := NewRuntime(dir).BuildCatalogSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Len(t, c.Sources(), 2)
}

func TestNewRuntime_Defaults(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("/some/dir")
	require.NotNil(t, rt)
	assert.Nil(t, rt.fsys)
	assert.Nil(t, rt.symbols)
	assert.NotNil(t, rt.logger)
	assert.Equal(t, "/some/dir", rt.scriptsDir)
}
