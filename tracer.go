package taintflow

import (
	"context"
	"math"
	"sort"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
	"github.com/jward/taintflow/internal/syntax"
)

// Tracer decides whether taint on one variable reaches a sink call inside a
// single function without passing a sanitizer.
type Tracer struct {
	facts  *Facts
	cat    *catalog.Catalog
	useCFG bool
}

// NewTracer returns a Tracer. With useCFG false it always decides by line
// ordering.
func NewTracer(f *Facts, cat *catalog.Catalog, useCFG bool) *Tracer {
	return &Tracer{facts: f, cat: cat, useCFG: useCFG}
}

// TraceSameFunction returns one single-hop path for every cataloged sink in
// sinks that src.Var reaches unsanitized. Sinks outside src's function, or
// whose argument does not mention src.Var, are ignored.
//
// It is the standalone form of the check the engine applies to every sink
// in a seed's own function: both go through reaches, so they agree on
// which sinks a source reaches.
func (t *Tracer) TraceSameFunction(ctx context.Context, src Endpoint, sinks []*CallArg) []TaintPath {
	var srcCategory string
	if e, _, ok := t.cat.MatchSource(src.Name); ok {
		srcCategory = e.Category
	}
	srcKey := keyOf(src.File, src.Function)

	var paths []TaintPath
	for _, ca := range sinks {
		if keyOf(ca.File, ca.CallerFunction) != srcKey || !syntax.ContainsVar(ca.ArgumentExpr, src.Var) {
			continue
		}
		e, ok := t.cat.MatchSink(ca.CalleeFunction)
		if !ok {
			continue
		}
		conds, ok := t.reaches(ctx, src.File, src.Function, src.Var, src.Line, false, ca, e.Category)
		if !ok {
			continue
		}
		steps := []Step{{Kind: StepSource, File: src.File, Function: src.Function, Line: src.Line, Var: src.Var, Expr: src.Name}}
		steps = append(steps, conds...)
		steps = append(steps, sinkStep(ca, src.Var))
		paths = append(paths, TaintPath{
			Source:         src,
			Sink:           sinkEndpoint(ca, src.Var),
			Steps:          steps,
			HopCount:       1,
			Category:       e.Category,
			SourceCategory: srcCategory,
			CWE:            e.CWE,
		})
	}
	return paths
}

func sinkStep(ca *CallArg, v string) Step {
	return Step{Kind: StepSink, File: ca.File, Function: ca.CallerFunction, Line: ca.Line, Var: v, Expr: ca.ArgumentExpr}
}

func sinkEndpoint(ca *CallArg, v string) Endpoint {
	return Endpoint{File: ca.File, Function: ca.CallerFunction, Line: ca.Line, Name: ca.CalleeFunction, Var: v}
}

// reaches reports whether v, tainted at srcLine, reaches the sink call
// unsanitized for category, and returns the branch and loop conditions
// crossed on the way. fromEntry means v is a parameter and is live from the
// function's entry block.
func (t *Tracer) reaches(ctx context.Context, file, function, v string, srcLine int, fromEntry bool, sink *CallArg, category string) ([]Step, bool) {
	// A sanitizer wrapped inside the sink argument always interposes.
	for _, target := range t.facts.callTargets(ctx, sink.File, sink.ArgumentExpr) {
		if t.cat.SanitizesFor(target, category) {
			return nil, false
		}
	}

	k := keyOf(file, function)
	var sanLines []int
	for _, ca := range t.facts.callsByCaller[k] {
		if ca.Line != sink.Line && syntax.ContainsVar(ca.ArgumentExpr, v) && t.cat.SanitizesFor(ca.CalleeFunction, category) {
			sanLines = append(sanLines, ca.Line)
		}
	}

	if t.useCFG {
		if g := t.graph(k, srcLine, fromEntry, sink.Line, sanLines); g != nil {
			if blocks, ok := g.search(true); ok {
				return conditionSteps(file, function, blocks), true
			}
			if _, ok := g.search(false); ok {
				// Reachable, but only through sanitizers.
				return nil, false
			}
			// The sink is unreachable from the source in the recorded CFG.
			// Indexers miss edges (exceptions, callbacks), so defer to line
			// ordering rather than trusting the gap.
		}
	}

	if sink.Line < srcLine {
		return nil, false
	}
	for _, l := range sanLines {
		if l > srcLine && l < sink.Line {
			return nil, false
		}
	}
	return nil, true
}

// flowGraph is the CFG of one function projected onto one source, one sink
// and the sanitizer calls between them.
type flowGraph struct {
	facts    *Facts
	src      *CFGBlock
	srcEntry int
	sink     *CFGBlock
	sinkLine int
	// sanitizers maps a block ID to the sorted lines of its sanitizer calls.
	sanitizers map[int64][]int
}

// graph returns nil when the function has no blocks covering every line the
// decision depends on.
func (t *Tracer) graph(k funcKey, srcLine int, fromEntry bool, sinkLine int, sanLines []int) *flowGraph {
	if len(t.facts.blocks[k]) == 0 {
		return nil
	}
	g := &flowGraph{facts: t.facts, srcEntry: srcLine, sinkLine: sinkLine, sanitizers: make(map[int64][]int)}
	if fromEntry {
		if g.src = t.facts.entryBlock(k); g.src != nil {
			g.srcEntry = g.src.StartLine
		}
	}
	if g.src == nil {
		g.src = t.facts.blockAt(k, srcLine)
	}
	g.sink = t.facts.blockAt(k, sinkLine)
	if g.src == nil || g.sink == nil {
		return nil
	}
	for _, l := range sanLines {
		b := t.facts.blockAt(k, l)
		if b == nil {
			return nil
		}
		g.sanitizers[b.ID] = append(g.sanitizers[b.ID], l)
	}
	for _, ls := range g.sanitizers {
		sort.Ints(ls)
	}
	return g
}

type visit struct {
	block int64
	entry int
}

// search runs a BFS from the source block. Taint enters a block at entry;
// a successor is entered at its first line. With respectSanitizers, a
// sanitizer at or after the entry line stops propagation through that
// block. It returns the blocks on the first route found to the sink.
func (g *flowGraph) search(respectSanitizers bool) ([]*CFGBlock, bool) {
	start := visit{g.src.ID, g.srcEntry}
	parent := map[visit]visit{}
	visited := map[visit]bool{start: true}
	queue := []visit{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sans := g.sanitizers[cur.block]

		if cur.block == g.sink.ID && cur.entry <= g.sinkLine {
			if !respectSanitizers || !anyIn(sans, cur.entry, g.sinkLine) {
				return g.route(parent, start, cur), true
			}
			continue
		}
		if respectSanitizers && anyIn(sans, cur.entry, math.MaxInt) {
			continue
		}
		for _, id := range g.facts.succ[cur.block] {
			b := g.facts.blockByID[id]
			if b == nil {
				continue
			}
			next := visit{b.ID, b.StartLine}
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return nil, false
}

// anyIn reports whether any of the sorted lines falls in [lo, hi).
func anyIn(lines []int, lo, hi int) bool {
	i := sort.SearchInts(lines, lo)
	return i < len(lines) && lines[i] < hi
}

func (g *flowGraph) route(parent map[visit]visit, start, end visit) []*CFGBlock {
	var rev []*CFGBlock
	for cur := end; ; cur = parent[cur] {
		rev = append(rev, g.facts.blockByID[cur.block])
		if cur == start {
			break
		}
	}
	out := make([]*CFGBlock, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

func conditionSteps(file, function string, blocks []*CFGBlock) []Step {
	var steps []Step
	seen := make(map[int64]bool)
	for _, b := range blocks {
		if seen[b.ID] || (b.Kind != store.BlockBranch && b.Kind != store.BlockLoop) {
			continue
		}
		seen[b.ID] = true
		steps = append(steps, Step{Kind: StepCondition, File: file, Function: function, Line: b.StartLine, Expr: b.Condition})
	}
	return steps
}
