package store

import "fmt"

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction. Fake (negative) IDs are remapped to real IDs
// and references within the batch are rewritten using the fakeToReal map.
//
// Insert order respects FK dependencies:
//  1. Symbols
//  2. FunctionParams (depend on symbol_id)
//  3. CallArgs, Assignments, FunctionReturns (no FKs into the batch)
//  4. CFGBlocks
//  5. CFGEdges (depend on source/target block IDs)
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64)
	remap := func(id int64) (int64, bool) {
		if id >= 0 {
			return id, true
		}
		realID, ok := fakeToReal[id]
		return realID, ok
	}

	// 1. Symbols
	for _, sym := range batch.Symbols {
		realID, err := insertSymbol(tx, &sym)
		if err != nil {
			return fmt.Errorf("commit batch: symbol %q: %w", sym.Name, err)
		}
		fakeToReal[sym.ID] = realID
	}

	// 2. FunctionParams
	for _, fp := range batch.FunctionParams {
		symID, ok := remap(fp.SymbolID)
		if !ok {
			return fmt.Errorf("commit batch: function param %q has symbol_id=%d not in fakeToReal map (have %d symbols)", fp.Name, fp.SymbolID, len(batch.Symbols))
		}
		fp.SymbolID = symID
		if _, err := insertFunctionParam(tx, &fp); err != nil {
			return fmt.Errorf("commit batch: function param %q: %w", fp.Name, err)
		}
	}

	// 3. Call args, assignments, returns
	for _, ca := range batch.CallArgs {
		if _, err := insertCallArg(tx, &ca); err != nil {
			return fmt.Errorf("commit batch: call %s -> %s: %w", ca.CallerFunction, ca.CalleeFunction, err)
		}
	}
	for _, a := range batch.Assignments {
		if _, err := insertAssignment(tx, &a); err != nil {
			return fmt.Errorf("commit batch: assignment %q: %w", a.TargetVar, err)
		}
	}
	for _, r := range batch.FunctionReturns {
		if _, err := insertFunctionReturn(tx, &r); err != nil {
			return fmt.Errorf("commit batch: return in %q: %w", r.Function, err)
		}
	}

	// 4. CFGBlocks
	for _, blk := range batch.CFGBlocks {
		realID, err := insertCFGBlock(tx, &blk)
		if err != nil {
			return fmt.Errorf("commit batch: cfg block %s:%d: %w", blk.Function, blk.StartLine, err)
		}
		fakeToReal[blk.ID] = realID
	}

	// 5. CFGEdges
	for _, e := range batch.CFGEdges {
		src, ok := remap(e.SourceID)
		if !ok {
			return fmt.Errorf("commit batch: cfg edge references unknown block %d", e.SourceID)
		}
		dst, ok := remap(e.TargetID)
		if !ok {
			return fmt.Errorf("commit batch: cfg edge references unknown block %d", e.TargetID)
		}
		e.SourceID, e.TargetID = src, dst
		if _, err := insertCFGEdge(tx, &e); err != nil {
			return fmt.Errorf("commit batch: cfg edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
