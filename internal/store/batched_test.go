package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchedStore_AllocatesNegativeIDs(t *testing.T) {
	t.Parallel()
	batch := NewBatchedStore()

	id1, err := batch.InsertSymbol(&Symbol{Name: "Foo", Kind: KindFunction, File: "a.go"})
	require.NoError(t, err)
	assert.Negative(t, id1, "batched IDs should be negative")

	id2, err := batch.InsertCFGBlock(&CFGBlock{File: "a.go", Function: "Foo", Kind: BlockEntry})
	require.NoError(t, err)
	assert.Negative(t, id2)
	assert.NotEqual(t, id1, id2, "IDs are unique across tables")
	assert.Equal(t, 2, batch.Len())
}

func TestBatchedStore_ConcurrentInserts(t *testing.T) {
	t.Parallel()
	batch := NewBatchedStore()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := batch.InsertCallArg(&CallArg{File: "a.go", Line: i, CallerFunction: "f", CalleeFunction: "g"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, ca := range batch.CallArgs {
		assert.False(t, seen[ca.ID], "duplicate fake ID %d", ca.ID)
		seen[ca.ID] = true
	}
	assert.Len(t, seen, 8)
}

func TestCommitBatch_RemapsReferences(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	batch := NewBatchedStore()
	symID, err := batch.InsertSymbol(&Symbol{Name: "f", Kind: KindFunction, File: "a.go", Line: 1})
	require.NoError(t, err)
	_, err = batch.InsertFunctionParam(&FunctionParam{SymbolID: symID, Name: "x", Ordinal: 0})
	require.NoError(t, err)
	b1, err := batch.InsertCFGBlock(&CFGBlock{File: "a.go", Function: "f", Kind: BlockEntry, StartLine: 1, EndLine: 1})
	require.NoError(t, err)
	b2, err := batch.InsertCFGBlock(&CFGBlock{File: "a.go", Function: "f", Kind: BlockExit, StartLine: 2, EndLine: 2})
	require.NoError(t, err)
	_, err = batch.InsertCFGEdge(&CFGEdge{File: "a.go", Function: "f", SourceID: b1, TargetID: b2})
	require.NoError(t, err)

	require.NoError(t, s.CommitBatch(batch))

	syms, err := s.Symbols(ctx)
	require.NoError(t, err)
	require.Len(t, syms, 1)

	params, err := s.FunctionParams(ctx)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, syms[0].ID, params[0].SymbolID)

	edges, err := s.CFGEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Positive(t, edges[0].SourceID)
	assert.Positive(t, edges[0].TargetID)
}

func TestCommitBatch_UnknownFakeSymbolFails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	batch := NewBatchedStore()
	_, err := batch.InsertFunctionParam(&FunctionParam{SymbolID: -42, Name: "x"})
	require.NoError(t, err)

	err = s.CommitBatch(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in fakeToReal map")

	params, err := s.FunctionParams(context.Background())
	require.NoError(t, err)
	assert.Empty(t, params, "failed batch is rolled back")
}
