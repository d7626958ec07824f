package taintflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/syntax"
)

// seed is one catalog source match, the root of one traversal.
type seed struct {
	file     string
	function string
	line     int
	v        string
	// text is the matched source text; expr the expression it occurred in.
	text     string
	expr     string
	category string
}

func (s seed) endpoint() Endpoint {
	return Endpoint{File: s.file, Function: s.function, Line: s.line, Name: s.text, Var: s.v}
}

// findSeeds matches every assignment and call argument against the source
// catalog. Results are deduplicated and sorted for a stable run order.
func findSeeds(ctx context.Context, f *Facts, cat *catalog.Catalog) []seed {
	seen := make(map[string]bool)
	var seeds []seed
	add := func(s seed) {
		k := fmt.Sprintf("%s|%d|%s|%s", s.file, s.line, s.function, s.v)
		if !seen[k] {
			seen[k] = true
			seeds = append(seeds, s)
		}
	}

	for _, a := range f.snapshot.Assignments {
		e, text, ok := cat.MatchSource(a.SourceExpr)
		if !ok || a.TargetVar == "" || callsSanitizer(ctx, f, cat, a.File, a.SourceExpr, "") {
			continue
		}
		add(seed{file: a.File, function: a.InFunction, line: a.Line, v: a.TargetVar, text: text, expr: a.SourceExpr, category: e.Category})
	}
	for _, ca := range f.snapshot.CallArgs {
		e, text, ok := cat.MatchSource(ca.ArgumentExpr)
		if !ok {
			continue
		}
		// A source read straight into a validator is not a flow of its own.
		if cat.IsSanitizer(ca.CalleeFunction) || callsSanitizer(ctx, f, cat, ca.File, ca.ArgumentExpr, "") {
			continue
		}
		add(seed{file: ca.File, function: ca.CallerFunction, line: ca.Line, v: text, text: text, expr: ca.ArgumentExpr, category: e.Category})
	}

	sort.Slice(seeds, func(i, j int) bool {
		a, b := seeds[i], seeds[j]
		if a.file != b.file {
			return a.file < b.file
		}
		if a.line != b.line {
			return a.line < b.line
		}
		if a.function != b.function {
			return a.function < b.function
		}
		return a.v < b.v
	})
	return seeds
}

// callsSanitizer reports whether expr calls a sanitizer for category ("" for
// any).
func callsSanitizer(ctx context.Context, f *Facts, cat *catalog.Catalog, file, expr, category string) bool {
	for _, target := range f.callTargets(ctx, file, expr) {
		if cat.SanitizesFor(target, category) {
			return true
		}
	}
	return false
}

// item is one unit of worklist work: taint live in one function frame.
type item struct {
	file     string
	function string
	depth    int
	// taint maps each tainted variable to the line it became tainted.
	taint map[string]int
	// params are the tainted variables bound as parameters, live from the
	// function's entry.
	params map[string]bool
	steps  []Step
}

// stateKey identifies an item by value so a cycle is recognized however it
// was reached.
func (it *item) stateKey() string {
	vars := make([]string, 0, len(it.taint))
	for v := range it.taint {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return it.file + "|" + normalizeName(it.function) + "|" + strings.Join(vars, ",")
}

func (it *item) sortedVars() []string {
	vars := make([]string, 0, len(it.taint))
	for v := range it.taint {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

// seedResult is what one traversal produced. Each seed writes only its own
// result, so traversals share nothing mutable.
type seedResult struct {
	paths       []TaintPath
	diagnostics []Diagnostic
	items       int
	// exhausted is set when the node budget or the context stopped the
	// traversal early.
	exhausted bool
}

// worklist propagates taint interprocedurally from one seed at a time.
type worklist struct {
	facts    *Facts
	cat      *catalog.Catalog
	resolver *Resolver
	tracer   *Tracer
	maxDepth int
	maxNodes int
}

func (w *worklist) run(ctx context.Context, s seed) seedResult {
	var res seedResult
	diag := func(kind DiagnosticKind, file, function, callee string, line int, format string, args ...any) {
		res.diagnostics = append(res.diagnostics, Diagnostic{
			Kind: kind, File: file, Function: function, Callee: callee, Line: line,
			Message: fmt.Sprintf(format, args...),
		})
	}

	origin := s.endpoint()
	queue := []*item{{
		file:     s.file,
		function: s.function,
		taint:    map[string]int{s.v: s.line},
		steps:    []Step{{Kind: StepSource, File: s.file, Function: s.function, Line: s.line, Var: s.v, Expr: s.expr}},
	}}
	visited := make(map[string]bool)

	for len(queue) > 0 {
		if ctx.Err() != nil {
			res.exhausted = true
			return res
		}
		it := queue[0]
		queue = queue[1:]

		key := it.stateKey()
		if visited[key] {
			diag(DiagCycleDetected, it.file, it.function, "", 0, "state %s already visited", key)
			continue
		}
		visited[key] = true
		if w.maxNodes > 0 && res.items >= w.maxNodes {
			res.exhausted = true
			diag(DiagBudgetExhausted, origin.File, origin.Function, "", origin.Line,
				"node budget of %d exhausted for source %s", w.maxNodes, origin.Name)
			return res
		}
		res.items++

		k := keyOf(it.file, it.function)
		w.closure(ctx, it, k)
		vars := it.sortedVars()

		for _, ca := range w.facts.callsByCaller[k] {
			v := firstContained(ca.ArgumentExpr, vars)
			if v == "" {
				continue
			}
			if e, ok := w.cat.MatchSink(ca.CalleeFunction); ok {
				if p, ok := w.sinkPath(ctx, it, origin, s.category, v, ca, e); ok {
					res.paths = append(res.paths, p)
				}
				continue
			}
			if w.cat.IsSanitizer(ca.CalleeFunction) {
				continue
			}

			r, ok := w.resolver.ResolveCall(ca)
			if !ok {
				diag(DiagSymbolNotFound, ca.File, ca.CallerFunction, ca.CalleeFunction, ca.Line,
					"callee %q has no symbol; edge skipped", ca.CalleeFunction)
				continue
			}
			sym := r.Symbol
			param := ca.ParamName
			if param == "" {
				param = w.facts.paramAt(sym.ID, ca.ArgumentIndex)
			}
			if param == "" {
				diag(DiagUnboundArgument, ca.File, ca.CallerFunction, ca.CalleeFunction, ca.Line,
					"argument %d of %s has no parameter", ca.ArgumentIndex, sym.Name)
				continue
			}
			if it.depth+1 >= w.maxDepth {
				diag(DiagDepthExceeded, ca.File, ca.CallerFunction, ca.CalleeFunction, ca.Line,
					"max depth %d reached", w.maxDepth)
				continue
			}
			if sym.File != ca.File {
				diag(DiagCrossFileHop, ca.File, ca.CallerFunction, ca.CalleeFunction, ca.Line,
					"%s:%d -> %s:%d", ca.File, ca.Line, sym.File, sym.Line)
			}
			queue = append(queue, &item{
				file:     sym.File,
				function: sym.Name,
				depth:    it.depth + 1,
				taint:    map[string]int{param: sym.Line},
				params:   map[string]bool{param: true},
				steps: appendStep(it.steps, Step{
					Kind: StepArgumentPass, File: sym.File, Function: sym.Name, Line: sym.Line,
					Var: param, Expr: ca.ArgumentExpr,
				}),
			})
		}

		queue = append(queue, w.returnFlow(it, k, vars, diag)...)
	}
	return res
}

// closure taints assignment targets reachable from the item's taint until
// nothing changes. An assignment through a sanitizer call does not
// propagate.
func (w *worklist) closure(ctx context.Context, it *item, k funcKey) {
	for changed := true; changed; {
		changed = false
		for _, a := range w.facts.assigns[k] {
			if _, ok := it.taint[a.TargetVar]; ok || a.TargetVar == "" {
				continue
			}
			if !w.assignmentReads(it, a) || callsSanitizer(ctx, w.facts, w.cat, a.File, a.SourceExpr, "") {
				continue
			}
			it.taint[a.TargetVar] = a.Line
			changed = true
		}
	}
}

func (w *worklist) assignmentReads(it *item, a *Assignment) bool {
	for v, line := range it.taint {
		if line > a.Line {
			continue
		}
		for _, sv := range a.SourceVars {
			if sv == v {
				return true
			}
		}
		if syntax.ContainsVar(a.SourceExpr, v) {
			return true
		}
	}
	return false
}

func (w *worklist) sinkPath(ctx context.Context, it *item, origin Endpoint, srcCategory, v string, ca *CallArg, e catalog.Entry) (TaintPath, bool) {
	conds, ok := w.tracer.reaches(ctx, it.file, it.function, v, it.taint[v], it.params[v], ca, e.Category)
	if !ok {
		return TaintPath{}, false
	}
	steps := make([]Step, 0, len(it.steps)+len(conds)+1)
	steps = append(steps, it.steps...)
	steps = append(steps, conds...)
	steps = append(steps, sinkStep(ca, v))
	return TaintPath{
		Source:         origin,
		Sink:           sinkEndpoint(ca, v),
		Steps:          steps,
		HopCount:       it.depth + 1,
		Category:       e.Category,
		SourceCategory: srcCategory,
		CWE:            e.CWE,
	}, true
}

// returnFlow moves taint from a tainted return value into every caller
// assignment that receives the function's result.
func (w *worklist) returnFlow(it *item, k funcKey, vars []string,
	diag func(DiagnosticKind, string, string, string, int, string, ...any)) []*item {
	if !w.returnsTaint(k, vars) {
		return nil
	}
	self := w.facts.symbolFor(it.file, it.function)
	if self == nil {
		return nil
	}

	var next []*item
	for _, a := range w.facts.assignsByCallee[k.name] {
		r, ok := w.resolver.resolve(k.name, "", a.File)
		if !ok || r.Symbol.ID != self.ID {
			continue
		}
		caller := w.facts.symbolFor(a.File, a.InFunction)
		if caller == nil {
			diag(DiagSymbolNotFound, a.File, a.InFunction, it.function, a.Line,
				"caller %q has no symbol; return flow skipped", a.InFunction)
			continue
		}
		if it.depth+1 >= w.maxDepth {
			diag(DiagDepthExceeded, a.File, caller.Name, it.function, a.Line, "max depth %d reached", w.maxDepth)
			continue
		}
		next = append(next, &item{
			file:     a.File,
			function: caller.Name,
			depth:    it.depth + 1,
			taint:    map[string]int{a.TargetVar: a.Line},
			steps: appendStep(it.steps, Step{
				Kind: StepReturnFlow, File: a.File, Function: caller.Name, Line: a.Line,
				Var: a.TargetVar, Expr: a.SourceExpr,
			}),
		})
	}
	return next
}

func (w *worklist) returnsTaint(k funcKey, vars []string) bool {
	for _, r := range w.facts.returns[k] {
		if firstContained(r.ReturnExpr, vars) != "" {
			return true
		}
		for _, rv := range r.ReturnVars {
			for _, v := range vars {
				if rv == v {
					return true
				}
			}
		}
	}
	return false
}

// firstContained returns the first of vars occurring in expr as a token.
func firstContained(expr string, vars []string) string {
	for _, v := range vars {
		if syntax.ContainsVar(expr, v) {
			return v
		}
	}
	return ""
}

// appendStep copies steps so sibling items never share a backing array.
func appendStep(steps []Step, s Step) []Step {
	out := make([]Step, len(steps), len(steps)+1)
	copy(out, steps)
	return append(out, s)
}
