package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// Snapshot is every fact row loaded for one analysis run.
type Snapshot struct {
	Symbols         []*Symbol
	FunctionParams  []*FunctionParam
	CallArgs        []*CallArg
	Assignments     []*Assignment
	FunctionReturns []*FunctionReturn
	CFGBlocks       []*CFGBlock
	CFGEdges        []*CFGEdge
}

// ComputeDigest computes a deterministic hash over the semantic content of
// a snapshot. Row IDs and row order do NOT affect the hash, so two stores
// holding the same facts produce the same digest.
func (s *Snapshot) ComputeDigest() string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	symNames := make(map[int64]string, len(s.Symbols))
	for _, sym := range s.Symbols {
		symNames[sym.ID] = sym.File + "#" + sym.Name
		add("symbol:%s:%s:%s:%s:%d:%d", sym.Name, sym.QualifiedName, sym.Kind, sym.File, sym.Line, sym.EndLine)
	}
	for _, fp := range s.FunctionParams {
		add("param:%s:%s:%d", symNames[fp.SymbolID], fp.Name, fp.Ordinal)
	}
	for _, ca := range s.CallArgs {
		add("call:%s:%d:%s:%s:%d:%s:%s:%s", ca.File, ca.Line, ca.CallerFunction, ca.CalleeFunction,
			ca.ArgumentIndex, ca.ArgumentExpr, ca.ParamName, ca.CalleeFile)
	}
	for _, a := range s.Assignments {
		vars := append([]string(nil), a.SourceVars...)
		sort.Strings(vars)
		add("assign:%s:%d:%s:%s:%s:%s", a.File, a.Line, a.InFunction, a.TargetVar, a.SourceExpr, strings.Join(vars, ","))
	}
	for _, r := range s.FunctionReturns {
		vars := append([]string(nil), r.ReturnVars...)
		sort.Strings(vars)
		add("return:%s:%d:%s:%s:%s", r.File, r.Line, r.Function, r.ReturnExpr, strings.Join(vars, ","))
	}

	blockKeys := make(map[int64]string, len(s.CFGBlocks))
	for _, b := range s.CFGBlocks {
		key := fmt.Sprintf("%s:%s:%d-%d", b.File, b.Function, b.StartLine, b.EndLine)
		blockKeys[b.ID] = key
		add("block:%s:%s:%s", key, b.Kind, b.Condition)
	}
	for _, e := range s.CFGEdges {
		add("edge:%s>%s:%s", blockKeys[e.SourceID], blockKeys[e.TargetID], e.Kind)
	}

	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
