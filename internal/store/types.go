package store

// Fact domain types. Rows are written by the indexer (or the fixture
// importer) and read back in bulk by the taint engine.

// Symbol kinds as stored in symbols.kind.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindProperty = "property"
	KindClass    = "class"
)

// CallableKinds lists every kind a call site may resolve to. Method and
// property calls are indistinguishable from function calls at the call site.
var CallableKinds = []string{KindFunction, KindMethod, KindProperty}

type Symbol struct {
	ID            int64
	Name          string
	QualifiedName string
	Kind          string
	File          string
	Line          int
	EndLine       int
}

type FunctionParam struct {
	ID       int64
	SymbolID int64
	Name     string
	Ordinal  int
}

// CallArg is one bound argument at one call site.
type CallArg struct {
	ID             int64
	File           string
	Line           int
	CallerFunction string
	CalleeFunction string
	ArgumentIndex  int
	ArgumentExpr   string
	ParamName      string
	CalleeFile     string
}

type Assignment struct {
	ID         int64
	File       string
	Line       int
	TargetVar  string
	SourceExpr string
	InFunction string
	SourceVars []string
}

type FunctionReturn struct {
	ID         int64
	File       string
	Line       int
	Function   string
	ReturnExpr string
	ReturnVars []string
}

// CFG block kinds the tracer distinguishes. Indexers may emit others
// (try, except, ...); they are treated as sequential.
const (
	BlockEntry      = "entry"
	BlockExit       = "exit"
	BlockSequential = "sequential"
	BlockBranch     = "branch"
	BlockLoop       = "loop"
)

type CFGBlock struct {
	ID        int64
	File      string
	Function  string
	Kind      string
	StartLine int
	EndLine   int
	Condition string
}

type CFGEdge struct {
	ID       int64
	File     string
	Function string
	SourceID int64
	TargetID int64
	Kind     string
}
