package taintflow

import (
	"github.com/jward/taintflow/internal/syntax"
)

// How a Resolution was chosen among several candidates.
const (
	ViaQualifiedName = "qualified_name"
	ViaCalleeFile    = "callee_file"
	ViaCallerFile    = "caller_file"
	ViaFirst         = "first"
)

// Resolution is the symbol a call target resolved to.
type Resolution struct {
	Symbol *Symbol
	// Via names the rule that picked Symbol.
	Via string
	// Candidates is the number of callable symbols sharing the name.
	Candidates int
}

// Resolver maps call targets to callable symbols. It is read-only and safe
// for concurrent use.
type Resolver struct {
	facts *Facts
}

func NewResolver(f *Facts) *Resolver {
	return &Resolver{facts: f}
}

// Resolve resolves a bare call target such as "userService.save" or
// "this->save". It reports false when no function, method or property of
// that name exists.
func (r *Resolver) Resolve(callee string) (Resolution, bool) {
	return r.resolve(callee, "", "")
}

// ResolveCall resolves the callee of a call edge, using the edge's
// callee_file hint and the caller's file to break ties.
func (r *Resolver) ResolveCall(ca *CallArg) (Resolution, bool) {
	return r.resolve(ca.CalleeFunction, ca.CalleeFile, ca.File)
}

func (r *Resolver) resolve(callee, calleeFile, callerFile string) (Resolution, bool) {
	target := syntax.CallTargetText(callee)
	cands := r.facts.callables[normalizeName(target)]
	if len(cands) == 0 {
		return Resolution{}, false
	}
	res := Resolution{Candidates: len(cands)}

	for _, s := range cands {
		if s.QualifiedName != "" && syntax.NormalizeTarget(s.QualifiedName) == target {
			res.Symbol, res.Via = s, ViaQualifiedName
			return res, true
		}
	}
	// The hint is only a tiebreaker: a file with no such symbol is ignored
	// rather than trusted.
	if calleeFile != "" {
		for _, s := range cands {
			if s.File == calleeFile {
				res.Symbol, res.Via = s, ViaCalleeFile
				return res, true
			}
		}
	}
	if callerFile != "" {
		for _, s := range cands {
			if s.File == callerFile {
				res.Symbol, res.Via = s, ViaCallerFile
				return res, true
			}
		}
	}
	res.Symbol, res.Via = cands[0], ViaFirst
	return res, true
}
