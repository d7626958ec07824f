// Package taintflow runs an interprocedural taint-propagation analysis over
// a relational fact store produced by a multi-language indexer. It decides
// whether attacker-controlled input (a source) reaches a dangerous call (a
// sink) without passing through a sanitizer, following values across
// function and file boundaries.
//
// # Pipeline
//
// A run proceeds in four stages over an in-memory snapshot of the facts:
//
//  1. Seed: every catalog source matched in an assignment or call argument
//     becomes a worklist seed.
//  2. Propagate: each seed is traversed breadth-first. Taint flows through
//     assignments, into callees through argument bindings and back to
//     callers through return values, up to a bounded depth. Sinks reached
//     without an interposing sanitizer produce a [TaintPath].
//  3. Extend: the [Extender] prepends callers of each path's source
//     function, producing longer paths the forward pass cannot see.
//  4. Assemble: paths are deduplicated, classified and sorted.
//
// # Usage
//
//	cat, err := catalog.LoadFile("catalog.yaml")
//	if err != nil { ... }
//	e, err := taintflow.Open("facts.db", cat, taintflow.WithMaxDepth(5))
//	if err != nil { ... }
//	defer e.Close()
//
//	report, err := e.Run(ctx)
//
// # Resolution
//
// A call target is resolved by the [Resolver] against every callable symbol
// kind. An unresolved callee is never attributed to the calling file: the
// edge is skipped and, with [WithDiagnostics], reported as
// symbol_not_found.
//
// # Sanitizers
//
// The [Tracer] decides whether a sanitizer interposes between a source and
// a sink inside one function. When control-flow blocks cover the relevant
// lines it searches the CFG for a sanitizer-free path, so a sanitizer on a
// mutually exclusive branch does not hide a finding. Otherwise it falls
// back to line ordering.
package taintflow
