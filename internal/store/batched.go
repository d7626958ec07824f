package store

import "sync"

// BatchedStore buffers fact inserts in memory using fake (negative) IDs so a
// whole facts document can be committed in a single transaction by
// CommitBatch. Parameters and CFG edges may reference the fake IDs of
// symbols and blocks buffered earlier in the same batch.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
type BatchedStore struct {
	mu sync.Mutex

	Symbols         []Symbol
	FunctionParams  []FunctionParam
	CallArgs        []CallArg
	Assignments     []Assignment
	FunctionReturns []FunctionReturn
	CFGBlocks       []CFGBlock
	CFGEdges        []CFGEdge

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies FactWriter.
var _ FactWriter = (*BatchedStore)(nil)

func NewBatchedStore() *BatchedStore {
	return &BatchedStore{nextFakeID: -1}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertSymbol(sym *Symbol) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	sym.ID = fakeID
	b.Symbols = append(b.Symbols, *sym)
	return fakeID, nil
}

func (b *BatchedStore) InsertFunctionParam(fp *FunctionParam) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	fp.ID = fakeID
	b.FunctionParams = append(b.FunctionParams, *fp)
	return fakeID, nil
}

func (b *BatchedStore) InsertCallArg(ca *CallArg) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	ca.ID = fakeID
	b.CallArgs = append(b.CallArgs, *ca)
	return fakeID, nil
}

func (b *BatchedStore) InsertAssignment(a *Assignment) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	a.ID = fakeID
	b.Assignments = append(b.Assignments, *a)
	return fakeID, nil
}

func (b *BatchedStore) InsertFunctionReturn(r *FunctionReturn) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	r.ID = fakeID
	b.FunctionReturns = append(b.FunctionReturns, *r)
	return fakeID, nil
}

func (b *BatchedStore) InsertCFGBlock(blk *CFGBlock) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	blk.ID = fakeID
	b.CFGBlocks = append(b.CFGBlocks, *blk)
	return fakeID, nil
}

func (b *BatchedStore) InsertCFGEdge(e *CFGEdge) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	e.ID = fakeID
	b.CFGEdges = append(b.CFGEdges, *e)
	return fakeID, nil
}

// Len returns the number of buffered rows.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Symbols) + len(b.FunctionParams) + len(b.CallArgs) + len(b.Assignments) +
		len(b.FunctionReturns) + len(b.CFGBlocks) + len(b.CFGEdges)
}
