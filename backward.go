package taintflow

import (
	"context"
	"strings"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/syntax"
)

// Extender lengthens paths backward through the callers of their source
// function. It finds flows whose outer frames the forward pass never seeds,
// such as a handler whose request object arrives from a router in another
// file.
type Extender struct {
	facts    *Facts
	cat      *catalog.Catalog
	resolver *Resolver
}

func NewExtender(f *Facts, cat *catalog.Catalog, r *Resolver) *Extender {
	return &Extender{facts: f, cat: cat, resolver: r}
}

type frame struct {
	file string
	name string
}

// Extend returns the new paths derived from paths. The input paths are not
// modified and not included in the result. Each derived path has one more
// hop than the path it extends, and no path is extended past maxDepth.
func (x *Extender) Extend(ctx context.Context, paths []TaintPath, maxDepth int) []TaintPath {
	var out []TaintPath
	for _, root := range paths {
		if ctx.Err() != nil {
			break
		}
		visited := map[frame]bool{{root.Source.File, normalizeName(root.Source.Function)}: true}
		frontier := []TaintPath{root}
		for len(frontier) > 0 {
			p := frontier[0]
			frontier = frontier[1:]
			if p.HopCount >= maxDepth {
				continue
			}
			for _, np := range x.callers(ctx, p, visited) {
				out = append(out, np)
				frontier = append(frontier, np)
			}
		}
	}
	return out
}

// callers returns one extension of p per unvisited calling function whose
// argument relates to p's source.
func (x *Extender) callers(ctx context.Context, p TaintPath, visited map[frame]bool) []TaintPath {
	fn := x.facts.symbolFor(p.Source.File, p.Source.Function)
	if fn == nil {
		return nil
	}
	srcText := p.Source.Name
	if len(p.Steps) > 0 && p.Steps[0].Kind == StepSource && p.Steps[0].Expr != "" {
		srcText = p.Steps[0].Expr
	}

	var out []TaintPath
	for _, ca := range x.facts.callsByCallee[normalizeName(fn.Name)] {
		r, ok := x.resolver.ResolveCall(ca)
		if !ok || r.Symbol.ID != fn.ID {
			continue
		}
		param := ca.ParamName
		if param == "" {
			param = x.facts.paramAt(fn.ID, ca.ArgumentIndex)
		}
		if !relates(ca.ArgumentExpr, param, srcText, p.Source.Var) {
			continue
		}
		if callsSanitizer(ctx, x.facts, x.cat, ca.File, ca.ArgumentExpr, p.Category) {
			continue
		}
		caller := x.facts.symbolFor(ca.File, ca.CallerFunction)
		if caller == nil {
			continue
		}
		f := frame{ca.File, normalizeName(caller.Name)}
		if visited[f] {
			continue
		}
		visited[f] = true

		steps := make([]Step, 0, len(p.Steps)+2)
		steps = append(steps,
			Step{Kind: StepSource, File: ca.File, Function: caller.Name, Line: ca.Line, Var: ca.ArgumentExpr, Expr: ca.ArgumentExpr},
			Step{Kind: StepIntermediateFunction, File: fn.File, Function: fn.Name, Line: fn.Line, Var: param, Expr: ca.ArgumentExpr},
		)
		steps = append(steps, p.Steps...)

		np := p
		np.Source = Endpoint{File: ca.File, Function: caller.Name, Line: ca.Line, Name: ca.ArgumentExpr, Var: ca.ArgumentExpr}
		np.Steps = steps
		np.HopCount = p.HopCount + 1
		out = append(out, np)
	}
	return out
}

// relates reports whether a caller's argument plausibly carries the value
// the path starts from: the bound parameter is read by the source
// expression, or the argument and source text mention each other.
func relates(arg, param, srcText, srcVar string) bool {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return false
	}
	if param != "" && syntax.ContainsVar(srcText, param) {
		return true
	}
	if syntax.ContainsVar(srcText, arg) {
		return true
	}
	return srcVar != "" && syntax.ContainsVar(arg, srcVar)
}
