// Package runtime evaluates Risor catalog scripts. A script declares
// sources, sinks and sanitizers through host functions, optionally consulting
// the fact store, and the Runtime compiles the result into a catalog.Catalog.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/taintflow/internal/catalog"
	"github.com/jward/taintflow/internal/store"
)

// SymbolLookup is the slice of the fact store visible to scripts.
type SymbolLookup interface {
	SymbolsByName(ctx context.Context, name string) ([]*store.Symbol, error)
	SymbolsByFile(ctx context.Context, file string) ([]*store.Symbol, error)
}

// Runtime embeds a Risor VM and exposes catalog-building host functions.
type Runtime struct {
	symbols    SymbolLookup
	scriptsDir string
	fsys       fs.FS
	logger     *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts, and resolves their imports, from fsys instead
// of from disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithSymbols exposes symbols_by_name and symbols_by_file to scripts and sets
// the has_symbols global.
func WithSymbols(s SymbolLookup) RuntimeOption {
	return func(r *Runtime) {
		r.symbols = s
	}
}

// WithLogger routes the script "log" global to l.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime that resolves relative script paths against
// scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildCatalog runs the script at scriptPath and compiles the entries it
// declared.
func (r *Runtime) BuildCatalog(ctx context.Context, scriptPath string) (*catalog.Catalog, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.buildCatalog(ctx, src, scriptPath, nil)
}

// BuildCatalogSource is BuildCatalog for inline source. extraGlobals are
// added to the script's globals.
func (r *Runtime) BuildCatalogSource(ctx context.Context, source string, extraGlobals map[string]any) (*catalog.Catalog, error) {
	return r.buildCatalog(ctx, source, "<inline>", extraGlobals)
}

func (r *Runtime) buildCatalog(ctx context.Context, source, label string, extra map[string]any) (*catalog.Catalog, error) {
	b := &catalog.Builder{}
	if err := r.eval(ctx, source, label, b, extra); err != nil {
		return nil, err
	}
	c, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return c, nil
}

// RunSource executes Risor source with the standard globals but discards
// any declared entries. Useful for testing helpers.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	return r.eval(ctx, source, "<inline>", &catalog.Builder{}, extraGlobals)
}

func (r *Runtime) eval(ctx context.Context, source, label string, b *catalog.Builder, extra map[string]any) error {
	globals := r.buildGlobals(b, label, extra)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter returns an importer rooted at the runtime's script source,
// or nil when neither an fs.FS nor a scripts directory is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file. With an fs.FS configured the path is
// taken relative to the FS root; otherwise relative paths are joined to
// scriptsDir.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// IsScript reports whether path names a catalog script rather than a
// YAML/JSON catalog document.
func IsScript(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".risor")
}

func (r *Runtime) buildGlobals(b *catalog.Builder, label string, extra map[string]any) map[string]any {
	globals := map[string]any{
		"source":      makeSourceFn(b),
		"sink":        makeSinkFn(b),
		"sanitizer":   makeSanitizerFn(b),
		"log":         mustProxy(&logObject{logger: r.logger.With(zap.String("script", label))}),
		"has_symbols": r.symbols != nil,
	}
	if r.symbols != nil {
		globals["symbols_by_name"] = makeSymbolsByNameFn(r.symbols)
		globals["symbols_by_file"] = makeSymbolsByFileFn(r.symbols)
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
