package taintflow

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
)

// DefaultMaxDepth bounds the number of function frames on a path.
const DefaultMaxDepth = 5

// Engine runs taint analyses over one fact store with one catalog. An
// Engine holds no state between runs; Run may be called repeatedly and
// concurrently.
type Engine struct {
	reader  FactReader
	catalog *catalog.Catalog
	logger  *zap.Logger

	maxDepth int
	workers  int
	timeout  time.Duration
	maxNodes int
	useCFG   bool
	debug    bool

	// owned is closed by Close when the Engine opened the store itself.
	owned *store.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the maximum number of function frames on a path.
// Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithWorkers sets how many seeds are traversed in parallel. The default
// is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBudget bounds a run. timeout caps wall-clock time for the whole run
// and maxNodes caps the worklist items visited per seed; zero disables
// either. A run that hits a budget keeps the paths found so far and is
// marked truncated.
func WithBudget(timeout time.Duration, maxNodes int) Option {
	return func(e *Engine) {
		e.timeout = timeout
		e.maxNodes = maxNodes
	}
}

// WithLogger sets the logger diagnostics are written to at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDiagnostics includes the expected, high-volume diagnostics
// (cycle_detected, depth_exceeded, cross_file_hop) in the report.
func WithDiagnostics(enabled bool) Option {
	return func(e *Engine) {
		e.debug = enabled
	}
}

// WithCFG controls whether the tracer consults control-flow blocks. When
// false, sanitizers are ordered by line only.
func WithCFG(enabled bool) Option {
	return func(e *Engine) {
		e.useCFG = enabled
	}
}

// New creates an Engine reading facts from r.
func New(r FactReader, cat *catalog.Catalog, opts ...Option) (*Engine, error) {
	if r == nil {
		return nil, ErrNilReader
	}
	if cat == nil {
		return nil, ErrNilCatalog
	}
	e := &Engine{
		reader:   r,
		catalog:  cat,
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxDepth,
		workers:  goruntime.NumCPU(),
		useCFG:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("taint")
	return e, nil
}

// Open creates an Engine over the SQLite fact store at dbPath. The store is
// not migrated: a store missing required tables fails at Run with
// ErrFactStoreIncomplete.
func Open(dbPath string, cat *catalog.Catalog, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, ErrNilCatalog
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("taintflow: open store: %w", err)
	}
	e, err := New(s, cat, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	e.owned = s
	return e, nil
}

// Close releases the store if the Engine opened it.
func (e *Engine) Close() error {
	if e.owned == nil {
		return nil
	}
	return e.owned.Close()
}

// Run loads a fresh snapshot of the facts and analyzes it. If ctx is
// cancelled mid-run, Run returns the partial report together with
// ctx.Err().
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := e.logger.With(zap.String("run_id", runID))

	facts, err := LoadFacts(ctx, e.reader)
	if err != nil {
		return nil, err
	}
	rep := &Report{RunID: runID, FactsDigest: facts.Digest()}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	resolver := NewResolver(facts)
	w := &worklist{
		facts:    facts,
		cat:      e.catalog,
		resolver: resolver,
		tracer:   NewTracer(facts, e.catalog, e.useCFG),
		maxDepth: e.maxDepth,
		maxNodes: e.maxNodes,
	}
	seeds := findSeeds(runCtx, facts, e.catalog)
	log.Debug("taint run started",
		zap.Int("facts", facts.Len()),
		zap.Int("seeds", len(seeds)),
		zap.Int("workers", e.workers),
		zap.Int("max_depth", e.maxDepth))

	diags := newDiagnosticSet(runID, e.debug, log)
	var forward []TaintPath
	for _, r := range e.runSeeds(runCtx, w, seeds) {
		forward = append(forward, r.paths...)
		rep.Stats.Items += r.items
		rep.Truncated = rep.Truncated || r.exhausted
		for _, d := range r.diagnostics {
			diags.add(d)
		}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		rep.Truncated = true
		diags.add(Diagnostic{Kind: DiagBudgetExhausted, Message: fmt.Sprintf("run timeout of %s exceeded", e.timeout)})
	}

	extended := NewExtender(facts, e.catalog, resolver).Extend(runCtx, forward, e.maxDepth)
	rep.Paths = Assemble(append(forward, extended...))
	rep.Diagnostics = diags.list
	rep.Stats.Seeds = len(seeds)
	rep.Stats.ForwardPaths = len(forward)
	rep.Stats.ExtendedPaths = len(extended)
	rep.Stats.Paths = len(rep.Paths)
	rep.Stats.Duration = time.Since(start)

	log.Debug("taint run finished",
		zap.Int("paths", rep.Stats.Paths),
		zap.Int("items", rep.Stats.Items),
		zap.Bool("truncated", rep.Truncated),
		zap.Duration("duration", rep.Stats.Duration))

	if err := ctx.Err(); err != nil {
		rep.Truncated = true
		return rep, err
	}
	return rep, nil
}

// diagnosticSet collects a run's diagnostics without duplicates.
type diagnosticSet struct {
	runID string
	debug bool
	log   *zap.Logger
	seen  map[Diagnostic]bool
	list  []Diagnostic
}

func newDiagnosticSet(runID string, debug bool, log *zap.Logger) *diagnosticSet {
	return &diagnosticSet{runID: runID, debug: debug, log: log, seen: make(map[Diagnostic]bool)}
}

// verbose kinds describe expected pruning and are only kept on request.
func verbose(kind DiagnosticKind) bool {
	switch kind {
	case DiagCycleDetected, DiagDepthExceeded, DiagCrossFileHop:
		return true
	}
	return false
}

func (s *diagnosticSet) add(d Diagnostic) {
	if verbose(d.Kind) && !s.debug {
		return
	}
	d.RunID = s.runID
	if s.seen[d] {
		return
	}
	s.seen[d] = true
	s.list = append(s.list, d)
	s.log.Debug(d.Message,
		zap.String("kind", string(d.Kind)),
		zap.String("file", d.File),
		zap.String("function", d.Function),
		zap.String("callee", d.Callee),
		zap.Int("line", d.Line))
}
