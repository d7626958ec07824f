package store

import (
	"context"
	"database/sql"
	"fmt"
)

// execer is satisfied by *sql.DB and *sql.Tx so inserts share one code path
// between direct writes and CommitBatch.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func lastID(res sql.Result, err error, what string) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// --- Symbol operations ---

func (s *Store) InsertSymbol(sym *Symbol) (int64, error) {
	id, err := insertSymbol(s.db, sym)
	if err != nil {
		return 0, err
	}
	sym.ID = id
	return id, nil
}

func insertSymbol(ex execer, sym *Symbol) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO symbols (name, qualified_name, kind, file, line, end_line) VALUES (?, ?, ?, ?, ?, ?)",
		sym.Name, nullIfEmpty(sym.QualifiedName), sym.Kind, sym.File, sym.Line, sym.EndLine,
	)
	return lastID(res, err, "symbol")
}

// SymbolCols is the column list for symbol queries.
const SymbolCols = `id, name, qualified_name, kind, file, line, end_line`

func scanSymbol(scanner interface{ Scan(...any) error }) (*Symbol, error) {
	sym := &Symbol{}
	var qualified sql.NullString
	var endLine sql.NullInt64
	if err := scanner.Scan(&sym.ID, &sym.Name, &qualified, &sym.Kind, &sym.File, &sym.Line, &endLine); err != nil {
		return nil, err
	}
	sym.QualifiedName = qualified.String
	sym.EndLine = int(endLine.Int64)
	return sym, nil
}

func (s *Store) querySymbols(ctx context.Context, query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var symbols []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Symbols returns every symbol ordered by file and line.
func (s *Store) Symbols(ctx context.Context) ([]*Symbol, error) {
	syms, err := s.querySymbols(ctx, "SELECT "+SymbolCols+" FROM symbols ORDER BY file, line, id")
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	return syms, nil
}

func (s *Store) SymbolsByName(ctx context.Context, name string) ([]*Symbol, error) {
	return s.querySymbols(ctx, "SELECT "+SymbolCols+" FROM symbols WHERE name = ? ORDER BY file, line", name)
}

func (s *Store) SymbolsByFile(ctx context.Context, file string) ([]*Symbol, error) {
	return s.querySymbols(ctx, "SELECT "+SymbolCols+" FROM symbols WHERE file = ? ORDER BY line", file)
}

// --- Function parameter operations ---

func (s *Store) InsertFunctionParam(fp *FunctionParam) (int64, error) {
	id, err := insertFunctionParam(s.db, fp)
	if err != nil {
		return 0, err
	}
	fp.ID = id
	return id, nil
}

func insertFunctionParam(ex execer, fp *FunctionParam) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO function_parameters (symbol_id, name, ordinal) VALUES (?, ?, ?)",
		fp.SymbolID, fp.Name, fp.Ordinal,
	)
	return lastID(res, err, "function param")
}

func (s *Store) FunctionParams(ctx context.Context) ([]*FunctionParam, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, symbol_id, name, ordinal FROM function_parameters ORDER BY symbol_id, ordinal")
	if err != nil {
		return nil, fmt.Errorf("function params: %w", err)
	}
	defer rows.Close()
	var params []*FunctionParam
	for rows.Next() {
		fp := &FunctionParam{}
		if err := rows.Scan(&fp.ID, &fp.SymbolID, &fp.Name, &fp.Ordinal); err != nil {
			return nil, fmt.Errorf("scan function param: %w", err)
		}
		params = append(params, fp)
	}
	return params, rows.Err()
}

// --- Call argument operations ---

func (s *Store) InsertCallArg(ca *CallArg) (int64, error) {
	id, err := insertCallArg(s.db, ca)
	if err != nil {
		return 0, err
	}
	ca.ID = id
	return id, nil
}

func insertCallArg(ex execer, ca *CallArg) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO function_call_args (file, line, caller_function, callee_function,
			argument_index, argument_expr, param_name, callee_file)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ca.File, ca.Line, ca.CallerFunction, ca.CalleeFunction,
		ca.ArgumentIndex, ca.ArgumentExpr, nullIfEmpty(ca.ParamName), nullIfEmpty(ca.CalleeFile),
	)
	return lastID(res, err, "call arg")
}

// CallArgCols is the column list for call argument queries.
const CallArgCols = `id, file, line, caller_function, callee_function,
	argument_index, argument_expr, param_name, callee_file`

func (s *Store) CallArgs(ctx context.Context) ([]*CallArg, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+CallArgCols+" FROM function_call_args ORDER BY file, line, argument_index, id")
	if err != nil {
		return nil, fmt.Errorf("call args: %w", err)
	}
	defer rows.Close()
	var args []*CallArg
	for rows.Next() {
		ca := &CallArg{}
		var expr, param, calleeFile sql.NullString
		if err := rows.Scan(&ca.ID, &ca.File, &ca.Line, &ca.CallerFunction, &ca.CalleeFunction,
			&ca.ArgumentIndex, &expr, &param, &calleeFile); err != nil {
			return nil, fmt.Errorf("scan call arg: %w", err)
		}
		ca.ArgumentExpr = expr.String
		ca.ParamName = param.String
		ca.CalleeFile = calleeFile.String
		args = append(args, ca)
	}
	return args, rows.Err()
}

// --- Assignment operations ---

// InsertAssignment writes the assignment and one assignment_sources row per
// source variable.
func (s *Store) InsertAssignment(a *Assignment) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("insert assignment: begin: %w", err)
	}
	defer tx.Rollback()
	id, err := insertAssignment(tx, a)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert assignment: commit: %w", err)
	}
	a.ID = id
	return id, nil
}

func insertAssignment(ex execer, a *Assignment) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO assignments (file, line, target_var, source_expr, in_function) VALUES (?, ?, ?, ?, ?)",
		a.File, a.Line, a.TargetVar, a.SourceExpr, a.InFunction,
	)
	id, err := lastID(res, err, "assignment")
	if err != nil {
		return 0, err
	}
	for _, v := range a.SourceVars {
		if _, err := ex.Exec("INSERT INTO assignment_sources (assignment_id, source_var) VALUES (?, ?)", id, v); err != nil {
			return 0, fmt.Errorf("insert assignment source %q: %w", v, err)
		}
	}
	return id, nil
}

// Assignments returns assignments without their source variables; see
// AssignmentSources.
func (s *Store) Assignments(ctx context.Context) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, file, line, target_var, source_expr, in_function FROM assignments ORDER BY file, line, id")
	if err != nil {
		return nil, fmt.Errorf("assignments: %w", err)
	}
	defer rows.Close()
	var out []*Assignment
	for rows.Next() {
		a := &Assignment{}
		var expr sql.NullString
		if err := rows.Scan(&a.ID, &a.File, &a.Line, &a.TargetVar, &expr, &a.InFunction); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.SourceExpr = expr.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// AssignmentSources returns source variables keyed by assignment ID.
func (s *Store) AssignmentSources(ctx context.Context) (map[int64][]string, error) {
	m, err := s.queryVarMap(ctx, "SELECT assignment_id, source_var FROM assignment_sources ORDER BY assignment_id, id")
	if err != nil {
		return nil, fmt.Errorf("assignment sources: %w", err)
	}
	return m, nil
}

// --- Function return operations ---

func (s *Store) InsertFunctionReturn(r *FunctionReturn) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("insert function return: begin: %w", err)
	}
	defer tx.Rollback()
	id, err := insertFunctionReturn(tx, r)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert function return: commit: %w", err)
	}
	r.ID = id
	return id, nil
}

func insertFunctionReturn(ex execer, r *FunctionReturn) (int64, error) {
	res, err := ex.Exec(
		"INSERT INTO function_returns (file, line, function_name, return_expr) VALUES (?, ?, ?, ?)",
		r.File, r.Line, r.Function, r.ReturnExpr,
	)
	id, err := lastID(res, err, "function return")
	if err != nil {
		return 0, err
	}
	for _, v := range r.ReturnVars {
		if _, err := ex.Exec("INSERT INTO function_return_sources (return_id, return_var) VALUES (?, ?)", id, v); err != nil {
			return 0, fmt.Errorf("insert return source %q: %w", v, err)
		}
	}
	return id, nil
}

func (s *Store) FunctionReturns(ctx context.Context) ([]*FunctionReturn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, file, line, function_name, return_expr FROM function_returns ORDER BY file, line, id")
	if err != nil {
		return nil, fmt.Errorf("function returns: %w", err)
	}
	defer rows.Close()
	var out []*FunctionReturn
	for rows.Next() {
		r := &FunctionReturn{}
		var expr sql.NullString
		if err := rows.Scan(&r.ID, &r.File, &r.Line, &r.Function, &expr); err != nil {
			return nil, fmt.Errorf("scan function return: %w", err)
		}
		r.ReturnExpr = expr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReturnSources returns returned variables keyed by function_returns ID.
func (s *Store) ReturnSources(ctx context.Context) (map[int64][]string, error) {
	m, err := s.queryVarMap(ctx, "SELECT return_id, return_var FROM function_return_sources ORDER BY return_id, id")
	if err != nil {
		return nil, fmt.Errorf("return sources: %w", err)
	}
	return m, nil
}

func (s *Store) queryVarMap(ctx context.Context, query string) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	m := make(map[int64][]string)
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		m[id] = append(m[id], v)
	}
	return m, rows.Err()
}

// --- CFG operations ---

func (s *Store) InsertCFGBlock(b *CFGBlock) (int64, error) {
	id, err := insertCFGBlock(s.db, b)
	if err != nil {
		return 0, err
	}
	b.ID = id
	return id, nil
}

func insertCFGBlock(ex execer, b *CFGBlock) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO cfg_blocks (file, function_name, block_type, start_line, end_line, condition_expr)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.File, b.Function, b.Kind, b.StartLine, b.EndLine, nullIfEmpty(b.Condition),
	)
	return lastID(res, err, "cfg block")
}

func (s *Store) InsertCFGEdge(e *CFGEdge) (int64, error) {
	id, err := insertCFGEdge(s.db, e)
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

func insertCFGEdge(ex execer, e *CFGEdge) (int64, error) {
	res, err := ex.Exec(
		`INSERT INTO cfg_edges (file, function_name, source_block_id, target_block_id, edge_type)
		 VALUES (?, ?, ?, ?, ?)`,
		e.File, e.Function, e.SourceID, e.TargetID, nullIfEmpty(e.Kind),
	)
	return lastID(res, err, "cfg edge")
}

func (s *Store) CFGBlocks(ctx context.Context) ([]*CFGBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file, function_name, block_type, start_line, end_line, condition_expr
		 FROM cfg_blocks ORDER BY file, function_name, start_line, id`)
	if err != nil {
		return nil, fmt.Errorf("cfg blocks: %w", err)
	}
	defer rows.Close()
	var out []*CFGBlock
	for rows.Next() {
		b := &CFGBlock{}
		var cond sql.NullString
		if err := rows.Scan(&b.ID, &b.File, &b.Function, &b.Kind, &b.StartLine, &b.EndLine, &cond); err != nil {
			return nil, fmt.Errorf("scan cfg block: %w", err)
		}
		b.Condition = cond.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CFGEdges(ctx context.Context) ([]*CFGEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, file, function_name, source_block_id, target_block_id, edge_type FROM cfg_edges ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("cfg edges: %w", err)
	}
	defer rows.Close()
	var out []*CFGEdge
	for rows.Next() {
		e := &CFGEdge{}
		var kind sql.NullString
		if err := rows.Scan(&e.ID, &e.File, &e.Function, &e.SourceID, &e.TargetID, &kind); err != nil {
			return nil, fmt.Errorf("scan cfg edge: %w", err)
		}
		e.Kind = kind.String
		out = append(out, e)
	}
	return out, rows.Err()
}
