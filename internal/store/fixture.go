package store

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fixture is a hand-written facts document. It lets operators and tests
// populate a fact store without running the indexer. JSON is accepted too,
// since it is valid YAML.
type Fixture struct {
	Symbols     []FixtureSymbol     `yaml:"symbols"`
	Calls       []FixtureCall       `yaml:"calls"`
	Assignments []FixtureAssignment `yaml:"assignments"`
	Returns     []FixtureReturn     `yaml:"returns"`
	CFGs        []FixtureCFG        `yaml:"cfgs"`
}

type FixtureSymbol struct {
	Name          string   `yaml:"name"`
	QualifiedName string   `yaml:"qualified_name"`
	Kind          string   `yaml:"kind"`
	File          string   `yaml:"file"`
	Line          int      `yaml:"line"`
	EndLine       int      `yaml:"end_line"`
	Params        []string `yaml:"params"`
}

type FixtureCall struct {
	File       string `yaml:"file"`
	Line       int    `yaml:"line"`
	Caller     string `yaml:"caller"`
	Callee     string `yaml:"callee"`
	Index      int    `yaml:"index"`
	Expr       string `yaml:"expr"`
	Param      string `yaml:"param"`
	CalleeFile string `yaml:"callee_file"`
}

type FixtureAssignment struct {
	File     string   `yaml:"file"`
	Line     int      `yaml:"line"`
	Target   string   `yaml:"target"`
	Expr     string   `yaml:"expr"`
	Function string   `yaml:"function"`
	Sources  []string `yaml:"sources"`
}

type FixtureReturn struct {
	File     string   `yaml:"file"`
	Line     int      `yaml:"line"`
	Function string   `yaml:"function"`
	Expr     string   `yaml:"expr"`
	Vars     []string `yaml:"vars"`
}

// FixtureCFG is the control-flow graph of one function. Blocks are named by
// a document-local key that edges refer to.
type FixtureCFG struct {
	File     string         `yaml:"file"`
	Function string         `yaml:"function"`
	Blocks   []FixtureBlock `yaml:"blocks"`
	Edges    []FixtureEdge  `yaml:"edges"`
}

type FixtureBlock struct {
	Key       string `yaml:"key"`
	Kind      string `yaml:"kind"`
	Start     int    `yaml:"start"`
	End       int    `yaml:"end"`
	Condition string `yaml:"condition"`
}

type FixtureEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Kind string `yaml:"kind"`
}

// Files returns the distinct files the fixture records facts for, sorted.
func (fx *Fixture) Files() []string {
	seen := make(map[string]bool)
	add := func(f string) {
		if f != "" {
			seen[f] = true
		}
	}
	for _, s := range fx.Symbols {
		add(s.File)
	}
	for _, c := range fx.Calls {
		add(c.File)
	}
	for _, a := range fx.Assignments {
		add(a.File)
	}
	for _, r := range fx.Returns {
		add(r.File)
	}
	for _, c := range fx.CFGs {
		add(c.File)
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// DecodeFixture parses a facts document.
func DecodeFixture(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return &fx, nil
		}
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &fx, nil
}

// WriteFixture writes every fact in fx through w.
func WriteFixture(w FactWriter, fx *Fixture) error {
	for _, fs := range fx.Symbols {
		kind := fs.Kind
		if kind == "" {
			kind = KindFunction
		}
		sym := &Symbol{
			Name:          fs.Name,
			QualifiedName: fs.QualifiedName,
			Kind:          kind,
			File:          fs.File,
			Line:          fs.Line,
			EndLine:       fs.EndLine,
		}
		symID, err := w.InsertSymbol(sym)
		if err != nil {
			return fmt.Errorf("write fixture: %w", err)
		}
		for i, p := range fs.Params {
			if _, err := w.InsertFunctionParam(&FunctionParam{SymbolID: symID, Name: p, Ordinal: i}); err != nil {
				return fmt.Errorf("write fixture: %w", err)
			}
		}
	}

	for _, fc := range fx.Calls {
		ca := &CallArg{
			File:           fc.File,
			Line:           fc.Line,
			CallerFunction: fc.Caller,
			CalleeFunction: fc.Callee,
			ArgumentIndex:  fc.Index,
			ArgumentExpr:   fc.Expr,
			ParamName:      fc.Param,
			CalleeFile:     fc.CalleeFile,
		}
		if _, err := w.InsertCallArg(ca); err != nil {
			return fmt.Errorf("write fixture: %w", err)
		}
	}

	for _, fa := range fx.Assignments {
		a := &Assignment{
			File:       fa.File,
			Line:       fa.Line,
			TargetVar:  fa.Target,
			SourceExpr: fa.Expr,
			InFunction: fa.Function,
			SourceVars: fa.Sources,
		}
		if _, err := w.InsertAssignment(a); err != nil {
			return fmt.Errorf("write fixture: %w", err)
		}
	}

	for _, fr := range fx.Returns {
		r := &FunctionReturn{
			File:       fr.File,
			Line:       fr.Line,
			Function:   fr.Function,
			ReturnExpr: fr.Expr,
			ReturnVars: fr.Vars,
		}
		if _, err := w.InsertFunctionReturn(r); err != nil {
			return fmt.Errorf("write fixture: %w", err)
		}
	}

	for _, cfg := range fx.CFGs {
		ids := make(map[string]int64, len(cfg.Blocks))
		for _, fb := range cfg.Blocks {
			if _, dup := ids[fb.Key]; dup {
				return fmt.Errorf("write fixture: cfg %s: duplicate block key %q", cfg.Function, fb.Key)
			}
			blk := &CFGBlock{
				File:      cfg.File,
				Function:  cfg.Function,
				Kind:      fb.Kind,
				StartLine: fb.Start,
				EndLine:   fb.End,
				Condition: fb.Condition,
			}
			id, err := w.InsertCFGBlock(blk)
			if err != nil {
				return fmt.Errorf("write fixture: %w", err)
			}
			ids[fb.Key] = id
		}
		for _, fe := range cfg.Edges {
			from, ok := ids[fe.From]
			if !ok {
				return fmt.Errorf("write fixture: cfg %s: unknown block %q", cfg.Function, fe.From)
			}
			to, ok := ids[fe.To]
			if !ok {
				return fmt.Errorf("write fixture: cfg %s: unknown block %q", cfg.Function, fe.To)
			}
			e := &CFGEdge{File: cfg.File, Function: cfg.Function, SourceID: from, TargetID: to, Kind: fe.Kind}
			if _, err := w.InsertCFGEdge(e); err != nil {
				return fmt.Errorf("write fixture: %w", err)
			}
		}
	}
	return nil
}

// ImportFixture buffers fx in a BatchedStore and commits it in one
// transaction. Returns the number of rows written.
func (s *Store) ImportFixture(fx *Fixture) (int, error) {
	batch := NewBatchedStore()
	if err := WriteFixture(batch, fx); err != nil {
		return 0, err
	}
	n := batch.Len()
	if err := s.CommitBatch(batch); err != nil {
		return 0, err
	}
	return n, nil
}
