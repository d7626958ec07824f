package taintflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/taintflow/internal/pgstore"
	"github.com/jward/taintflow/internal/store"
	"github.com/jward/taintflow/internal/syntax"
)

// FactReader is the read-only view of a fact store. It is implemented by
// the SQLite store and the PostgreSQL reader.
type FactReader interface {
	Tables(ctx context.Context) (map[string]bool, error)
	Symbols(ctx context.Context) ([]*store.Symbol, error)
	FunctionParams(ctx context.Context) ([]*store.FunctionParam, error)
	CallArgs(ctx context.Context) ([]*store.CallArg, error)
	Assignments(ctx context.Context) ([]*store.Assignment, error)
	AssignmentSources(ctx context.Context) (map[int64][]string, error)
	FunctionReturns(ctx context.Context) ([]*store.FunctionReturn, error)
	ReturnSources(ctx context.Context) (map[int64][]string, error)
	CFGBlocks(ctx context.Context) ([]*store.CFGBlock, error)
	CFGEdges(ctx context.Context) ([]*store.CFGEdge, error)
}

var (
	_ FactReader = (*store.Store)(nil)
	_ FactReader = (*pgstore.Reader)(nil)
)

// funcKey identifies a function body by file and normalized name.
type funcKey struct {
	file string
	name string
}

func keyOf(file, function string) funcKey {
	return funcKey{file: file, name: normalizeName(function)}
}

// normalizeName reduces a receiver-qualified name to its last segment:
// "UserService.save", "this.repo->save" and "save" all become "save".
func normalizeName(name string) string {
	name = syntax.NormalizeTarget(name)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Facts is an indexed, read-only snapshot of a fact store. It is safe for
// concurrent use.
type Facts struct {
	snapshot store.Snapshot
	digest   string
	scanner  *syntax.Scanner

	// callables holds function, method and property symbols keyed by
	// normalized name, in (file, line) order.
	callables map[string][]*Symbol
	byFunc    map[funcKey]*Symbol
	params    map[int64][]*FunctionParam

	callsByCaller map[funcKey][]*CallArg
	callsByCallee map[string][]*CallArg
	assigns       map[funcKey][]*Assignment
	// assignsByCallee indexes assignments by the normalized names of the
	// functions their right-hand side calls.
	assignsByCallee map[string][]*Assignment
	returns         map[funcKey][]*FunctionReturn

	blocks    map[funcKey][]*CFGBlock
	blockByID map[int64]*CFGBlock
	succ      map[int64][]int64
}

// LoadFacts reads every fact table from r into memory. Required tables must
// exist; optional tables are read only when present.
func LoadFacts(ctx context.Context, r FactReader) (*Facts, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	var missing []string
	for _, t := range store.RequiredTables {
		if !tables[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required table(s) %s; re-run the indexer",
			ErrFactStoreIncomplete, strings.Join(missing, ", "))
	}

	var snap store.Snapshot
	if snap.Symbols, err = r.Symbols(ctx); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if snap.CallArgs, err = r.CallArgs(ctx); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if snap.Assignments, err = r.Assignments(ctx); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if snap.FunctionReturns, err = r.FunctionReturns(ctx); err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	if tables["function_parameters"] {
		if snap.FunctionParams, err = r.FunctionParams(ctx); err != nil {
			return nil, fmt.Errorf("load facts: %w", err)
		}
	}
	if tables["assignment_sources"] {
		sources, err := r.AssignmentSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("load facts: %w", err)
		}
		for _, a := range snap.Assignments {
			a.SourceVars = sources[a.ID]
		}
	}
	if tables["function_return_sources"] {
		sources, err := r.ReturnSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("load facts: %w", err)
		}
		for _, fr := range snap.FunctionReturns {
			fr.ReturnVars = sources[fr.ID]
		}
	}
	// Edges without blocks are useless, so both must be present.
	if tables["cfg_blocks"] && tables["cfg_edges"] {
		if snap.CFGBlocks, err = r.CFGBlocks(ctx); err != nil {
			return nil, fmt.Errorf("load facts: %w", err)
		}
		if snap.CFGEdges, err = r.CFGEdges(ctx); err != nil {
			return nil, fmt.Errorf("load facts: %w", err)
		}
	}
	return newFacts(ctx, snap), nil
}

func newFacts(ctx context.Context, snap store.Snapshot) *Facts {
	f := &Facts{
		snapshot:        snap,
		digest:          snap.ComputeDigest(),
		scanner:         syntax.NewScanner(),
		callables:       make(map[string][]*Symbol),
		byFunc:          make(map[funcKey]*Symbol),
		params:          make(map[int64][]*FunctionParam),
		callsByCaller:   make(map[funcKey][]*CallArg),
		callsByCallee:   make(map[string][]*CallArg),
		assigns:         make(map[funcKey][]*Assignment),
		assignsByCallee: make(map[string][]*Assignment),
		returns:         make(map[funcKey][]*FunctionReturn),
		blocks:          make(map[funcKey][]*CFGBlock),
		blockByID:       make(map[int64]*CFGBlock),
		succ:            make(map[int64][]int64),
	}

	syms := append([]*Symbol(nil), snap.Symbols...)
	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].File != syms[j].File {
			return syms[i].File < syms[j].File
		}
		if syms[i].Line != syms[j].Line {
			return syms[i].Line < syms[j].Line
		}
		return syms[i].ID < syms[j].ID
	})
	for _, s := range syms {
		if !isCallable(s.Kind) {
			continue
		}
		name := normalizeName(s.Name)
		f.callables[name] = append(f.callables[name], s)
		k := funcKey{file: s.File, name: name}
		if _, ok := f.byFunc[k]; !ok {
			f.byFunc[k] = s
		}
	}

	for _, p := range snap.FunctionParams {
		f.params[p.SymbolID] = append(f.params[p.SymbolID], p)
	}
	for _, ps := range f.params {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Ordinal < ps[j].Ordinal })
	}

	for _, ca := range snap.CallArgs {
		k := keyOf(ca.File, ca.CallerFunction)
		f.callsByCaller[k] = append(f.callsByCaller[k], ca)
		callee := normalizeName(ca.CalleeFunction)
		f.callsByCallee[callee] = append(f.callsByCallee[callee], ca)
	}

	for _, cs := range f.callsByCaller {
		sortByLine(cs, func(ca *CallArg) (int, int64) { return ca.Line, ca.ID })
	}

	for _, a := range snap.Assignments {
		k := keyOf(a.File, a.InFunction)
		f.assigns[k] = append(f.assigns[k], a)
		seen := make(map[string]bool)
		for _, target := range f.callTargets(ctx, a.File, a.SourceExpr) {
			name := normalizeName(target)
			if !seen[name] {
				seen[name] = true
				f.assignsByCallee[name] = append(f.assignsByCallee[name], a)
			}
		}
	}
	for _, as := range f.assigns {
		sortByLine(as, func(a *Assignment) (int, int64) { return a.Line, a.ID })
	}

	for _, r := range snap.FunctionReturns {
		k := keyOf(r.File, r.Function)
		f.returns[k] = append(f.returns[k], r)
	}

	for _, b := range snap.CFGBlocks {
		k := keyOf(b.File, b.Function)
		f.blocks[k] = append(f.blocks[k], b)
		f.blockByID[b.ID] = b
	}
	for _, e := range snap.CFGEdges {
		f.succ[e.SourceID] = append(f.succ[e.SourceID], e.TargetID)
	}
	for id := range f.succ {
		sort.Slice(f.succ[id], func(i, j int) bool { return f.succ[id][i] < f.succ[id][j] })
	}
	return f
}

func sortByLine[T any](xs []T, key func(T) (int, int64)) {
	sort.SliceStable(xs, func(i, j int) bool {
		li, idi := key(xs[i])
		lj, idj := key(xs[j])
		if li != lj {
			return li < lj
		}
		return idi < idj
	})
}

func isCallable(kind string) bool {
	for _, k := range store.CallableKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Digest returns a hash of the snapshot's content that ignores row IDs and
// row order.
func (f *Facts) Digest() string { return f.digest }

// Len returns the number of rows in the snapshot.
func (f *Facts) Len() int {
	s := f.snapshot
	return len(s.Symbols) + len(s.FunctionParams) + len(s.CallArgs) + len(s.Assignments) +
		len(s.FunctionReturns) + len(s.CFGBlocks) + len(s.CFGEdges)
}

// callTargets returns the call targets of expr, outermost first.
func (f *Facts) callTargets(ctx context.Context, file, expr string) []string {
	return f.scanner.ScanFile(ctx, file, expr).CallTargets
}

// symbolFor returns the callable symbol defining function in file, or nil.
func (f *Facts) symbolFor(file, function string) *Symbol {
	return f.byFunc[keyOf(file, function)]
}

// paramAt returns the name of the parameter at ordinal, or "".
func (f *Facts) paramAt(symbolID int64, ordinal int) string {
	for _, p := range f.params[symbolID] {
		if p.Ordinal == ordinal {
			return p.Name
		}
	}
	return ""
}

// blockAt returns the innermost CFG block of the function covering line.
func (f *Facts) blockAt(k funcKey, line int) *CFGBlock {
	var best *CFGBlock
	for _, b := range f.blocks[k] {
		if line < b.StartLine || line > b.EndLine {
			continue
		}
		if best == nil || b.EndLine-b.StartLine < best.EndLine-best.StartLine ||
			(b.EndLine-b.StartLine == best.EndLine-best.StartLine && b.ID < best.ID) {
			best = b
		}
	}
	return best
}

// entryBlock returns the function's entry block, or nil.
func (f *Facts) entryBlock(k funcKey) *CFGBlock {
	for _, b := range f.blocks[k] {
		if b.Kind == store.BlockEntry {
			return b
		}
	}
	return nil
}
