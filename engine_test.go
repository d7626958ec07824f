package taintflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
)

// =============================================================================
// Construction
// =============================================================================

func TestNew_RejectsNilInputs(t *testing.T) {
	t.Parallel()
	s := newFactStore(t, "")

	_, err := New(nil, catalog.Default())
	assert.ErrorIs(t, err, ErrNilReader)

	_, err = New(s, nil)
	assert.ErrorIs(t, err, ErrNilCatalog)

	_, err = Open(filepath.Join(t.TempDir(), "facts.db"), nil)
	assert.ErrorIs(t, err, ErrNilCatalog)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	e, err := New(newFactStore(t, ""), catalog.Default())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxDepth, e.maxDepth)
	assert.Positive(t, e.workers)
	assert.True(t, e.useCFG)
	assert.False(t, e.debug)
	assert.NoError(t, e.Close(), "close is a no-op for a caller-owned store")
}

func TestOpen_UnmigratedStore(t *testing.T) {
	t.Parallel()
	e, err := Open(filepath.Join(t.TempDir(), "facts.db"), catalog.Default())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFactStoreIncomplete)
	assert.Contains(t, err.Error(), "symbols")
	assert.Contains(t, err.Error(), "function_call_args")
	assert.Contains(t, err.Error(), "re-run the indexer")
}

func TestOpen_RunsOverMigratedStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "facts.db")
	s, err := store.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	fx, err := store.DecodeFixture(stringsReader(crossFileFixture))
	require.NoError(t, err)
	_, err = s.ImportFixture(fx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	e, err := Open(path, catalog.Default())
	require.NoError(t, err)
	defer e.Close()

	rep, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Paths, 1)
}

func TestRun_OptionalTablesAbsent(t *testing.T) {
	t.Parallel()
	s := newFactStore(t, `
symbols:
  - {name: handle, file: controller.js, line: 1, end_line: 10}
  - {name: save, file: service.js, line: 1, end_line: 8}
assignments:
  - {file: controller.js, line: 2, target: id, expr: req.body.id, function: handle}
calls:
  - {file: controller.js, line: 3, caller: handle, callee: save, index: 0, expr: id, param: id}
  - {file: service.js, line: 4, caller: save, callee: db.query, index: 0, expr: id}
`)
	for _, table := range store.OptionalTables {
		_, err := s.DB().Exec("DROP TABLE " + table)
		require.NoError(t, err)
	}

	e, err := New(s, catalog.Default())
	require.NoError(t, err)
	rep, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Paths, 1)
	assert.Equal(t, 2, rep.Paths[0].HopCount)
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_CrossFileArgumentPass(t *testing.T) {
	t.Parallel()
	rep := analyze(t, crossFileFixture)

	require.Len(t, rep.Paths, 1)
	p := rep.Paths[0]
	assert.Equal(t, 2, p.HopCount)
	assert.Equal(t, "controller.js", p.Source.File)
	assert.Equal(t, "service.js", p.Sink.File)
	assert.Equal(t, "db.query", p.Sink.Name)
	assert.Equal(t, []StepKind{StepSource, StepArgumentPass, StepSink}, stepKinds(p))

	pass := p.Steps[1]
	assert.Equal(t, "service.js", pass.File)
	assert.Equal(t, "save", pass.Function)
	assert.Equal(t, "id", pass.Var)
	assert.Equal(t, "id", pass.Expr)

	assert.Equal(t, "sql", p.Category)
	assert.Equal(t, "http", p.SourceCategory)
	assert.Equal(t, "CWE-89", p.CWE)
	assert.Equal(t, SeverityCritical, p.Severity)
	assert.Equal(t, "SQL Injection", p.VulnerabilityType)
	assert.NotEmpty(t, rep.RunID)
	assert.NotEmpty(t, rep.FactsDigest)
	assert.False(t, rep.Truncated)
}

func TestRun_MissingCalleeSymbol(t *testing.T) {
	t.Parallel()
	rep := analyze(t, missingSymbolFixture)

	diags := diagnosticsOf(rep, DiagSymbolNotFound)
	require.Len(t, diags, 1)
	assert.Equal(t, "service.save", diags[0].Callee)
	assert.Equal(t, "controller.js", diags[0].File)
	assert.Equal(t, 3, diags[0].Line)
	assert.Equal(t, rep.RunID, diags[0].RunID)

	// The unrelated direct query is still found.
	require.Len(t, rep.Paths, 1)
	assert.Equal(t, 1, rep.Paths[0].HopCount)
	assert.Equal(t, 5, rep.Paths[0].Sink.Line)
	assert.Equal(t, 1, rep.Stats.Items, "nothing enqueued for the unresolved edge")

	for _, p := range rep.Paths {
		for _, s := range p.Steps {
			assert.NotEqual(t, "service.js", s.File, "no step may guess a file")
		}
	}
}

func TestRun_SanitizerInterposes(t *testing.T) {
	t.Parallel()
	rep := analyze(t, sanitizedFixture)
	assert.Empty(t, rep.Paths)
	assert.Equal(t, 1, rep.Stats.Seeds)
}

func TestRun_SourceReadIntoValidator(t *testing.T) {
	t.Parallel()
	rep := analyze(t, `
symbols:
  - {name: handle, file: controller.js, line: 1, end_line: 10, params: [req]}
calls:
  - {file: controller.js, line: 2, caller: handle, callee: validate, index: 0, expr: req.body}
  - {file: controller.js, line: 3, caller: handle, callee: log, index: 0, expr: escape(req.query)}
  - {file: controller.js, line: 4, caller: handle, callee: db.query, index: 0, expr: req.body}
`)
	for _, p := range rep.Paths {
		assert.NotEqual(t, 2, p.Source.Line, "validate(req.body) does not start a flow")
		assert.NotEqual(t, 3, p.Source.Line, "escape(req.query) does not start a flow")
	}
	assert.Equal(t, 1, rep.Stats.Seeds)
}

func TestRun_BackwardExtension(t *testing.T) {
	t.Parallel()
	rep := analyze(t, routerFixture)

	require.Len(t, rep.Paths, 2)
	var extended *TaintPath
	for i := range rep.Paths {
		if rep.Paths[i].HopCount == 3 {
			extended = &rep.Paths[i]
		}
	}
	require.NotNil(t, extended)
	assert.Equal(t, "router.js", extended.Source.File)
	assert.Equal(t, "route", extended.Source.Function)
	assert.Equal(t, "service.js", extended.Sink.File)
	assert.Equal(t, StepIntermediateFunction, extended.Steps[1].Kind)
	assert.Equal(t, "handler.js", extended.Steps[1].File)
	assert.Equal(t, "req", extended.Steps[1].Var)
	assert.Equal(t, 1, rep.Stats.ExtendedPaths)
}

func TestRun_ReturnFlow(t *testing.T) {
	t.Parallel()
	rep := analyze(t, `
symbols:
  - {name: handle, file: controller.js, line: 1, end_line: 10}
  - {name: getInput, file: input.js, line: 10, end_line: 14}
assignments:
  - {file: input.js, line: 11, target: v, expr: req.body.name, function: getInput}
  - {file: controller.js, line: 3, target: name, expr: getInput(), function: handle}
returns:
  - {file: input.js, line: 12, function: getInput, expr: v, vars: [v]}
calls:
  - {file: controller.js, line: 4, caller: handle, callee: db.query, index: 0, expr: name}
`)
	require.Len(t, rep.Paths, 1)
	p := rep.Paths[0]
	assert.Equal(t, 2, p.HopCount)
	assert.Equal(t, []StepKind{StepSource, StepReturnFlow, StepSink}, stepKinds(p))
	assert.Equal(t, "name", p.Steps[1].Var)
	assert.Equal(t, "handle", p.Steps[1].Function)
}

func TestRun_AssignmentClosure(t *testing.T) {
	t.Parallel()
	rep := analyze(t, `
symbols:
  - {name: handle, file: app.py, line: 1, end_line: 20}
assignments:
  - {file: app.py, line: 2, target: raw, expr: 'request.args.get("q")', function: handle}
  - {file: app.py, line: 3, target: q, expr: raw.strip(), function: handle, sources: [raw]}
  - {file: app.py, line: 4, target: sql, expr: '"SELECT " + q', function: handle}
  - {file: app.py, line: 1, target: early, expr: q, function: handle}
calls:
  - {file: app.py, line: 5, caller: handle, callee: cursor.execute, index: 0, expr: sql}
  - {file: app.py, line: 6, caller: handle, callee: cursor.execute, index: 0, expr: early}
`)
	require.Len(t, rep.Paths, 1, "an assignment before the taint does not propagate")
	assert.Equal(t, "sql", rep.Paths[0].Sink.Var)
	assert.Equal(t, 5, rep.Paths[0].Sink.Line)
}

func TestRun_SuffixSanitizerIsNotSubstring(t *testing.T) {
	t.Parallel()
	doc := func(parse string) string {
		return `
symbols:
  - {name: handle, file: app.js, line: 1, end_line: 10}
assignments:
  - {file: app.js, line: 2, target: body, expr: req.body, function: handle}
  - {file: app.js, line: 3, target: data, expr: '` + parse + `(body)', function: handle}
calls:
  - {file: app.js, line: 4, caller: handle, callee: collection.find, index: 0, expr: data}
`
	}
	assert.Len(t, analyze(t, doc("JSON.parse")).Paths, 1, "JSON.parse is not a validator")
	assert.Empty(t, analyze(t, doc("userSchema.parse")).Paths)
}

func TestRun_SourceInCallArgument(t *testing.T) {
	t.Parallel()
	rep := analyze(t, `
symbols:
  - {name: main, file: main.go, line: 1, end_line: 10}
calls:
  - {file: main.go, line: 3, caller: main, callee: exec.Command, index: 0, expr: 'os.Getenv("CMD")'}
`)
	require.Len(t, rep.Paths, 1)
	p := rep.Paths[0]
	assert.Equal(t, "command", p.Category)
	assert.Equal(t, "env", p.SourceCategory)
	assert.Equal(t, "Command Injection", p.VulnerabilityType)
}

// =============================================================================
// Termination
// =============================================================================

const cycleFixture = `
symbols:
  - {name: entry, file: main.js, line: 1, end_line: 5}
  - {name: ping, file: a.js, line: 10, end_line: 15, params: [x]}
  - {name: pong, file: b.js, line: 20, end_line: 25, params: [y]}
assignments:
  - {file: main.js, line: 2, target: v, expr: req.query.v, function: entry}
calls:
  - {file: main.js, line: 3, caller: entry, callee: ping, index: 0, expr: v}
  - {file: a.js, line: 11, caller: ping, callee: pong, index: 0, expr: x}
  - {file: b.js, line: 21, caller: pong, callee: ping, index: 0, expr: y}
  - {file: b.js, line: 22, caller: pong, callee: db.query, index: 0, expr: y}
`

func TestRun_CycleTerminates(t *testing.T) {
	t.Parallel()
	rep := analyze(t, cycleFixture, WithDiagnostics(true))

	require.Len(t, rep.Paths, 1)
	assert.Equal(t, 3, rep.Paths[0].HopCount)
	assert.NotEmpty(t, diagnosticsOf(rep, DiagCycleDetected))
	assert.NotEmpty(t, diagnosticsOf(rep, DiagCrossFileHop))

	quiet := analyze(t, cycleFixture)
	assert.Empty(t, diagnosticsOf(quiet, DiagCycleDetected), "cycles are expected and dropped silently")
	assert.Empty(t, diagnosticsOf(quiet, DiagCrossFileHop))
}

func TestRun_SelfRecursion(t *testing.T) {
	t.Parallel()
	rep := analyze(t, `
symbols:
  - {name: walk, file: tree.js, line: 1, end_line: 9, params: [node]}
calls:
  - {file: tree.js, line: 2, caller: walk, callee: walk, index: 0, expr: node.left}
  - {file: tree.js, line: 3, caller: walk, callee: db.query, index: 0, expr: node}
  - {file: tree.js, line: 12, caller: main, callee: walk, index: 0, expr: req.body}
`)
	assert.Len(t, rep.Paths, 1)
}

// chainFixture builds f0 -> f1 -> ... -> f7, each querying its parameter,
// with a router calling f0.
const chainFixture = `
symbols:
  - {name: router, file: r.js, line: 1, end_line: 5, params: [request]}
  - {name: f0, file: c.js, line: 10, end_line: 19, params: [req]}
  - {name: f1, file: c.js, line: 20, end_line: 29, params: [p]}
  - {name: f2, file: c.js, line: 30, end_line: 39, params: [p]}
  - {name: f3, file: c.js, line: 40, end_line: 49, params: [p]}
  - {name: f4, file: c.js, line: 50, end_line: 59, params: [p]}
  - {name: f5, file: c.js, line: 60, end_line: 69, params: [p]}
  - {name: f6, file: c.js, line: 70, end_line: 79, params: [p]}
  - {name: f7, file: c.js, line: 80, end_line: 89, params: [p]}
assignments:
  - {file: c.js, line: 11, target: p, expr: req.body.p, function: f0}
calls:
  - {file: r.js, line: 2, caller: router, callee: f0, index: 0, expr: request}
  - {file: c.js, line: 12, caller: f0, callee: f1, index: 0, expr: p}
  - {file: c.js, line: 22, caller: f1, callee: f2, index: 0, expr: p}
  - {file: c.js, line: 32, caller: f2, callee: f3, index: 0, expr: p}
  - {file: c.js, line: 42, caller: f3, callee: f4, index: 0, expr: p}
  - {file: c.js, line: 52, caller: f4, callee: f5, index: 0, expr: p}
  - {file: c.js, line: 62, caller: f5, callee: f6, index: 0, expr: p}
  - {file: c.js, line: 72, caller: f6, callee: f7, index: 0, expr: p}
  - {file: c.js, line: 13, caller: f0, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 23, caller: f1, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 33, caller: f2, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 43, caller: f3, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 53, caller: f4, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 63, caller: f5, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 73, caller: f6, callee: db.query, index: 0, expr: p}
  - {file: c.js, line: 83, caller: f7, callee: db.query, index: 0, expr: p}
`

func TestRun_HopCountBoundedByMaxDepth(t *testing.T) {
	t.Parallel()
	for _, depth := range []int{1, 3, 5} {
		rep := analyze(t, chainFixture, WithMaxDepth(depth), WithDiagnostics(true))
		require.NotEmpty(t, rep.Paths)
		longest := 0
		for _, p := range rep.Paths {
			assert.LessOrEqual(t, p.HopCount, depth)
			longest = max(longest, p.HopCount)
		}
		assert.Equal(t, depth, longest, "depth %d", depth)
		assert.NotEmpty(t, diagnosticsOf(rep, DiagDepthExceeded))
	}
}

func TestRun_Deterministic(t *testing.T) {
	t.Parallel()
	s := newFactStore(t, chainFixture+`
  - {file: c.js, line: 14, caller: f0, callee: res.send, index: 0, expr: p}
`)
	run := func(workers int) *Report {
		e, err := New(s, catalog.Default(), WithWorkers(workers))
		require.NoError(t, err)
		rep, err := e.Run(context.Background())
		require.NoError(t, err)
		return rep
	}

	first, second, serial := run(4), run(4), run(1)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.FactsDigest, second.FactsDigest)
	if diff := cmp.Diff(first.Paths, second.Paths); diff != "" {
		t.Errorf("paths differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Paths, serial.Paths); diff != "" {
		t.Errorf("paths depend on worker count (-parallel +serial):\n%s", diff)
	}
}

// =============================================================================
// Budgets and cancellation
// =============================================================================

func TestRun_NodeBudget(t *testing.T) {
	t.Parallel()
	rep := analyze(t, crossFileFixture, WithBudget(0, 1))

	assert.True(t, rep.Truncated)
	assert.Empty(t, rep.Paths, "the sink lives in the item past the budget")
	diags := diagnosticsOf(rep, DiagBudgetExhausted)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "node budget")
}

func TestRun_GenerousBudget(t *testing.T) {
	t.Parallel()
	rep := analyze(t, crossFileFixture, WithBudget(time.Minute, 100))
	assert.False(t, rep.Truncated)
	assert.Len(t, rep.Paths, 1)
}

// cancellingReader cancels the run once the last fact table is read, so the
// analysis itself starts under a cancelled context.
type cancellingReader struct {
	FactReader
	cancel context.CancelFunc
}

func (r *cancellingReader) CFGEdges(ctx context.Context) ([]*store.CFGEdge, error) {
	edges, err := r.FactReader.CFGEdges(ctx)
	r.cancel()
	return edges, err
}

func TestRun_CancellationReturnsPartialReport(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(&cancellingReader{FactReader: newFactStore(t, crossFileFixture), cancel: cancel}, catalog.Default())
	require.NoError(t, err)

	rep, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.True(t, rep.Truncated)
	assert.NotEmpty(t, rep.FactsDigest)
}

func TestRun_CancelledBeforeLoad(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := New(newFactStore(t, crossFileFixture), catalog.Default())
	require.NoError(t, err)
	_, err = e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Logging
// =============================================================================

func TestRun_LogsDiagnostics(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.DebugLevel)
	e, err := New(newFactStore(t, missingSymbolFixture), catalog.Default(), WithLogger(zap.New(core)))
	require.NoError(t, err)

	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("kind", string(DiagSymbolNotFound))).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "taint", entries[0].LoggerName)
	assert.Equal(t, rep.RunID, entries[0].ContextMap()["run_id"])
	assert.Equal(t, "service.save", entries[0].ContextMap()["callee"])

	finished := logs.FilterMessage("taint run finished").All()
	require.Len(t, finished, 1)
	assert.EqualValues(t, 1, finished[0].ContextMap()["paths"])
}
