package runtime

import (
	"context"
	"fmt"

	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
)

// Catalog declaration host functions. Risor scripts cannot construct Go
// structs, so options are passed as maps and entries are built Go-side.
// Validation is deferred to Builder.Build so a script reports every
// malformed entry through one error path.

// source(pattern, category[, {"match": ...}])
func makeSourceFn(b *catalog.Builder) *object.Builtin {
	return object.NewBuiltin("source", func(ctx context.Context, args ...object.Object) object.Object {
		e, errObj := entryFromArgs("source", args, true)
		if errObj != nil {
			return errObj
		}
		b.AddSource(e)
		return object.Nil
	})
}

// sink(pattern, category[, {"cwe": ..., "match": ...}])
func makeSinkFn(b *catalog.Builder) *object.Builtin {
	return object.NewBuiltin("sink", func(ctx context.Context, args ...object.Object) object.Object {
		e, errObj := entryFromArgs("sink", args, true)
		if errObj != nil {
			return errObj
		}
		b.AddSink(e)
		return object.Nil
	})
}

// sanitizer(pattern[, {"kind": ..., "match": ..., "categories": [...]}])
func makeSanitizerFn(b *catalog.Builder) *object.Builtin {
	return object.NewBuiltin("sanitizer", func(ctx context.Context, args ...object.Object) object.Object {
		e, errObj := entryFromArgs("sanitizer", args, false)
		if errObj != nil {
			return errObj
		}
		b.AddSanitizer(e)
		return object.Nil
	})
}

func entryFromArgs(name string, args []object.Object, withCategory bool) (catalog.Entry, *object.Error) {
	required := 1
	if withCategory {
		required = 2
	}
	if len(args) < required || len(args) > required+1 {
		return catalog.Entry{}, object.NewArgsRangeError(name, required, required+1, len(args))
	}

	var e catalog.Entry
	var err error
	if e.Pattern, err = toString(args[0]); err != nil {
		return e, object.Errorf("%s: pattern: %v", name, err)
	}
	if withCategory {
		if e.Category, err = toString(args[1]); err != nil {
			return e, object.Errorf("%s: category: %v", name, err)
		}
	}
	if len(args) == required {
		return e, nil
	}

	m, err := extractMap(args[required])
	if err != nil {
		return e, object.Errorf("%s: options: %v", name, err)
	}
	e.Match = getString(m, "match")
	if withCategory {
		e.CWE = getString(m, "cwe")
	} else {
		e.Kind = getString(m, "kind")
		if e.Categories, err = getStringList(m, "categories"); err != nil {
			return e, object.Errorf("%s: categories: %v", name, err)
		}
	}
	return e, nil
}

// symbols_by_name(name) → [{"name", "qualified_name", "kind", "file", "line"}]
func makeSymbolsByNameFn(s SymbolLookup) *object.Builtin {
	return object.NewBuiltin("symbols_by_name", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_name", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}
		syms, err := s.SymbolsByName(ctx, name)
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}
		return symbolList(syms)
	})
}

// symbols_by_file(file) → [{"name", "qualified_name", "kind", "file", "line"}]
func makeSymbolsByFileFn(s SymbolLookup) *object.Builtin {
	return object.NewBuiltin("symbols_by_file", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_file", 1, len(args))
		}
		file, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_file: %v", err)
		}
		syms, err := s.SymbolsByFile(ctx, file)
		if err != nil {
			return object.Errorf("symbols_by_file: %v", err)
		}
		return symbolList(syms)
	})
}

func symbolList(syms []*store.Symbol) object.Object {
	results := make([]object.Object, 0, len(syms))
	for _, sym := range syms {
		results = append(results, object.NewMap(map[string]object.Object{
			"name":           object.NewString(sym.Name),
			"qualified_name": object.NewString(sym.QualifiedName),
			"kind":           object.NewString(sym.Kind),
			"file":           object.NewString(sym.File),
			"line":           object.NewInt(int64(sym.Line)),
		}))
	}
	return object.NewList(results)
}

// --- Argument helpers ---

func extractMap(obj object.Object) (map[string]object.Object, error) {
	m, ok := obj.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", obj.Type())
	}
	return m.Value(), nil
}

func getString(m map[string]object.Object, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	if s, ok := v.(*object.String); ok {
		return s.Value()
	}
	return ""
}

func getStringList(m map[string]object.Object, key string) ([]string, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.(*object.List)
	if !ok {
		return nil, fmt.Errorf("expected list, got %s", v.Type())
	}
	out := make([]string, 0, len(list.Value()))
	for _, item := range list.Value() {
		s, err := toString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}

// logObject provides log.Info/Warn/Error methods to scripts.
type logObject struct {
	logger *zap.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }
