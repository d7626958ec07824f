package store

// FactWriter is the interface for fact insertion. Both Store (direct SQLite)
// and BatchedStore (in-memory buffering committed in one transaction)
// implement it, so the fixture importer does not care which it writes to.
type FactWriter interface {
	// Each insert returns the assigned ID.
	InsertSymbol(sym *Symbol) (int64, error)
	InsertFunctionParam(fp *FunctionParam) (int64, error)
	InsertCallArg(ca *CallArg) (int64, error)
	InsertAssignment(a *Assignment) (int64, error)
	InsertFunctionReturn(r *FunctionReturn) (int64, error)
	InsertCFGBlock(b *CFGBlock) (int64, error)
	InsertCFGEdge(e *CFGEdge) (int64, error)
}

// Compile-time check: *Store satisfies FactWriter.
var _ FactWriter = (*Store)(nil)
