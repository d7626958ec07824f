package taintflow

import (
	"time"

	"github.com/jward/taintflow/internal/store"
)

// Public aliases for the fact types read by the engine.

type Symbol = store.Symbol
type FunctionParam = store.FunctionParam
type CallArg = store.CallArg
type Assignment = store.Assignment
type FunctionReturn = store.FunctionReturn
type CFGBlock = store.CFGBlock
type CFGEdge = store.CFGEdge

// StepKind tags one step of a TaintPath.
type StepKind string

const (
	StepSource               StepKind = "source"
	StepIntermediateFunction StepKind = "intermediate_function"
	StepArgumentPass         StepKind = "argument_pass"
	StepReturnFlow           StepKind = "return_flow"
	StepSink                 StepKind = "sink"
	StepCondition            StepKind = "condition"
)

// Step is one element of a path's provenance. Steps that cross a function
// boundary (argument_pass, intermediate_function) are located at the
// symbol they enter.
type Step struct {
	Kind     StepKind `json:"kind"`
	File     string   `json:"file"`
	Function string   `json:"function"`
	Line     int      `json:"line"`
	// Var is the variable carrying taint after this step.
	Var string `json:"var,omitempty"`
	// Expr is the expression that moved the taint: the source text, the
	// caller's argument, the receiving assignment, the branch condition or
	// the sink argument.
	Expr string `json:"expr,omitempty"`
}

// Endpoint is the source or sink end of a path.
type Endpoint struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Line     int    `json:"line"`
	// Name is the matched source text, or the sink's call target.
	Name string `json:"name"`
	Var  string `json:"var,omitempty"`
}

// TaintPath is one source-to-sink flow. It is not modified after emission.
type TaintPath struct {
	Source            Endpoint `json:"source"`
	Sink              Endpoint `json:"sink"`
	Steps             []Step   `json:"steps"`
	HopCount          int      `json:"hop_count"`
	Category          string   `json:"category"`
	SourceCategory    string   `json:"source_category,omitempty"`
	CWE               string   `json:"cwe,omitempty"`
	Severity          string   `json:"severity"`
	VulnerabilityType string   `json:"vulnerability_type"`
}

// DiagnosticKind names an operator-facing event.
type DiagnosticKind string

const (
	DiagSymbolNotFound  DiagnosticKind = "symbol_not_found"
	DiagCrossFileHop    DiagnosticKind = "cross_file_hop"
	DiagCycleDetected   DiagnosticKind = "cycle_detected"
	DiagDepthExceeded   DiagnosticKind = "depth_exceeded"
	DiagUnboundArgument DiagnosticKind = "unbound_argument"
	DiagBudgetExhausted DiagnosticKind = "budget_exhausted"
)

// Diagnostic records a skipped edge or dropped item. Diagnostics are for
// troubleshooting and are not part of the result contract.
type Diagnostic struct {
	RunID    string         `json:"run_id"`
	Kind     DiagnosticKind `json:"kind"`
	File     string         `json:"file,omitempty"`
	Function string         `json:"function,omitempty"`
	Callee   string         `json:"callee,omitempty"`
	Line     int            `json:"line,omitempty"`
	Message  string         `json:"message"`
}

// Stats summarizes a run.
type Stats struct {
	Seeds         int           `json:"seeds"`
	Items         int           `json:"items"`
	ForwardPaths  int           `json:"forward_paths"`
	ExtendedPaths int           `json:"extended_paths"`
	Paths         int           `json:"paths"`
	Duration      time.Duration `json:"duration"`
}

// Report is the result of one Run.
type Report struct {
	RunID       string       `json:"run_id"`
	Paths       []TaintPath  `json:"paths"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	// Truncated is set when a budget or cancellation cut a traversal short.
	// The paths present are still valid findings.
	Truncated   bool   `json:"truncated"`
	Stats       Stats  `json:"stats"`
	FactsDigest string `json:"facts_digest"`
}
