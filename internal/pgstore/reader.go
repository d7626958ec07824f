// Package pgstore reads taint facts from a PostgreSQL database laid out with
// the same tables and columns as the SQLite store. It is read-only: indexers
// that target PostgreSQL own their schema.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/store"
)

// DBPool abstracts *pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reader implements the engine's fact reader over a DBPool.
type Reader struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and returns a Reader.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Reader, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{pool: pool, log: logger.Named("pgstore")}, nil
}

const (
	sqlTables = `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema()`
	sqlSymbols = `
		SELECT id, name, COALESCE(qualified_name, ''), kind, file, line, COALESCE(end_line, 0)
		FROM symbols ORDER BY file, line, id`
	sqlSymbolsByName = `
		SELECT id, name, COALESCE(qualified_name, ''), kind, file, line, COALESCE(end_line, 0)
		FROM symbols WHERE name = $1 ORDER BY file, line`
	sqlSymbolsByFile = `
		SELECT id, name, COALESCE(qualified_name, ''), kind, file, line, COALESCE(end_line, 0)
		FROM symbols WHERE file = $1 ORDER BY line`
	sqlFunctionParams = `
		SELECT id, symbol_id, name, ordinal
		FROM function_parameters ORDER BY symbol_id, ordinal`
	sqlCallArgs = `
		SELECT id, file, line, caller_function, callee_function, argument_index,
		       COALESCE(argument_expr, ''), COALESCE(param_name, ''), COALESCE(callee_file, '')
		FROM function_call_args ORDER BY file, line, argument_index, id`
	sqlAssignments = `
		SELECT id, file, line, target_var, COALESCE(source_expr, ''), in_function
		FROM assignments ORDER BY file, line, id`
	sqlAssignmentSources = `
		SELECT assignment_id, source_var FROM assignment_sources ORDER BY assignment_id, id`
	sqlFunctionReturns = `
		SELECT id, file, line, function_name, COALESCE(return_expr, '')
		FROM function_returns ORDER BY file, line, id`
	sqlReturnSources = `
		SELECT return_id, return_var FROM function_return_sources ORDER BY return_id, id`
	sqlCFGBlocks = `
		SELECT id, file, function_name, block_type, start_line, end_line, COALESCE(condition_expr, '')
		FROM cfg_blocks ORDER BY file, function_name, start_line, id`
	sqlCFGEdges = `
		SELECT id, file, function_name, source_block_id, target_block_id, COALESCE(edge_type, '')
		FROM cfg_edges ORDER BY id`
)

// queryAll runs sql and scans every row with scan.
func queryAll[T any](ctx context.Context, pool DBPool, what, sql string, scan func(pgx.Rows) (T, error), args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %s: %w", what, err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: %s: %w", what, err)
	}
	return out, nil
}

func (r *Reader) Tables(ctx context.Context) (map[string]bool, error) {
	names, err := queryAll(ctx, r.pool, "tables", sqlTables, func(rows pgx.Rows) (string, error) {
		var name string
		err := rows.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, err
	}
	tables := make(map[string]bool, len(names))
	for _, n := range names {
		tables[n] = true
	}
	r.log.Debug("fact tables", zap.Int("count", len(tables)))
	return tables, nil
}

func scanSymbol(rows pgx.Rows) (*store.Symbol, error) {
	s := &store.Symbol{}
	err := rows.Scan(&s.ID, &s.Name, &s.QualifiedName, &s.Kind, &s.File, &s.Line, &s.EndLine)
	return s, err
}

func (r *Reader) Symbols(ctx context.Context) ([]*store.Symbol, error) {
	return queryAll(ctx, r.pool, "symbols", sqlSymbols, scanSymbol)
}

func (r *Reader) SymbolsByName(ctx context.Context, name string) ([]*store.Symbol, error) {
	return queryAll(ctx, r.pool, "symbols by name", sqlSymbolsByName, scanSymbol, name)
}

func (r *Reader) SymbolsByFile(ctx context.Context, file string) ([]*store.Symbol, error) {
	return queryAll(ctx, r.pool, "symbols by file", sqlSymbolsByFile, scanSymbol, file)
}

func (r *Reader) FunctionParams(ctx context.Context) ([]*store.FunctionParam, error) {
	return queryAll(ctx, r.pool, "function params", sqlFunctionParams, func(rows pgx.Rows) (*store.FunctionParam, error) {
		p := &store.FunctionParam{}
		err := rows.Scan(&p.ID, &p.SymbolID, &p.Name, &p.Ordinal)
		return p, err
	})
}

func (r *Reader) CallArgs(ctx context.Context) ([]*store.CallArg, error) {
	return queryAll(ctx, r.pool, "call args", sqlCallArgs, func(rows pgx.Rows) (*store.CallArg, error) {
		ca := &store.CallArg{}
		err := rows.Scan(&ca.ID, &ca.File, &ca.Line, &ca.CallerFunction, &ca.CalleeFunction,
			&ca.ArgumentIndex, &ca.ArgumentExpr, &ca.ParamName, &ca.CalleeFile)
		return ca, err
	})
}

func (r *Reader) Assignments(ctx context.Context) ([]*store.Assignment, error) {
	return queryAll(ctx, r.pool, "assignments", sqlAssignments, func(rows pgx.Rows) (*store.Assignment, error) {
		a := &store.Assignment{}
		err := rows.Scan(&a.ID, &a.File, &a.Line, &a.TargetVar, &a.SourceExpr, &a.InFunction)
		return a, err
	})
}

func (r *Reader) AssignmentSources(ctx context.Context) (map[int64][]string, error) {
	return r.varMap(ctx, "assignment sources", sqlAssignmentSources)
}

func (r *Reader) FunctionReturns(ctx context.Context) ([]*store.FunctionReturn, error) {
	return queryAll(ctx, r.pool, "function returns", sqlFunctionReturns, func(rows pgx.Rows) (*store.FunctionReturn, error) {
		fr := &store.FunctionReturn{}
		err := rows.Scan(&fr.ID, &fr.File, &fr.Line, &fr.Function, &fr.ReturnExpr)
		return fr, err
	})
}

func (r *Reader) ReturnSources(ctx context.Context) (map[int64][]string, error) {
	return r.varMap(ctx, "return sources", sqlReturnSources)
}

func (r *Reader) CFGBlocks(ctx context.Context) ([]*store.CFGBlock, error) {
	return queryAll(ctx, r.pool, "cfg blocks", sqlCFGBlocks, func(rows pgx.Rows) (*store.CFGBlock, error) {
		b := &store.CFGBlock{}
		err := rows.Scan(&b.ID, &b.File, &b.Function, &b.Kind, &b.StartLine, &b.EndLine, &b.Condition)
		return b, err
	})
}

func (r *Reader) CFGEdges(ctx context.Context) ([]*store.CFGEdge, error) {
	return queryAll(ctx, r.pool, "cfg edges", sqlCFGEdges, func(rows pgx.Rows) (*store.CFGEdge, error) {
		e := &store.CFGEdge{}
		err := rows.Scan(&e.ID, &e.File, &e.Function, &e.SourceID, &e.TargetID, &e.Kind)
		return e, err
	})
}

type idVar struct {
	id int64
	v  string
}

func (r *Reader) varMap(ctx context.Context, what, sql string) (map[int64][]string, error) {
	pairs, err := queryAll(ctx, r.pool, what, sql, func(rows pgx.Rows) (idVar, error) {
		var p idVar
		err := rows.Scan(&p.id, &p.v)
		return p, err
	})
	if err != nil {
		return nil, err
	}
	m := make(map[int64][]string)
	for _, p := range pairs {
		m[p.id] = append(m[p.id], p.v)
	}
	return m, nil
}
