package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

//go:embed default.yaml
var defaultYAML []byte

const schemaURL = "https://taintflow.dev/schemas/catalog.schema.json"

// Document is the on-disk catalog layout.
type Document struct {
	Version    int     `yaml:"version" json:"version,omitempty"`
	Sources    []Entry `yaml:"sources" json:"sources,omitempty"`
	Sinks      []Entry `yaml:"sinks" json:"sinks,omitempty"`
	Sanitizers []Entry `yaml:"sanitizers" json:"sanitizers,omitempty"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("catalog: parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("catalog: add schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Parse decodes a YAML (or JSON) catalog document, validates it against the
// catalog schema and compiles it.
func Parse(data []byte) (*Catalog, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w: %w", ErrInvalidCatalog, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("catalog: %w: empty document", ErrInvalidCatalog)
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w: %w", ErrInvalidCatalog, err)
	}
	return New(doc.Sources, doc.Sinks, doc.Sanitizers)
}

// validate round-trips the YAML tree through JSON so the schema validator
// sees JSON-native types.
func validate(raw any) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("catalog: %w: %w", ErrInvalidCatalog, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("catalog: %w: %w", ErrInvalidCatalog, err)
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("catalog: %w: %s", ErrInvalidCatalog, verr.Error())
		}
		return fmt.Errorf("catalog: %w: %w", ErrInvalidCatalog, err)
	}
	return nil
}

// Load reads and parses a catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	return Parse(data)
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Default returns the embedded default catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// Document returns the catalog as a serializable document.
func (c *Catalog) Document() Document {
	return Document{Version: 1, Sources: c.Sources(), Sinks: c.Sinks(), Sanitizers: c.Sanitizers()}
}

// Builder accumulates entries incrementally, for catalogs produced by
// scripts. Build validates everything at once.
type Builder struct {
	mu  sync.Mutex
	doc Document
}

func (b *Builder) AddSource(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Sources = append(b.doc.Sources, e)
}

func (b *Builder) AddSink(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Sinks = append(b.doc.Sinks, e)
}

func (b *Builder) AddSanitizer(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Sanitizers = append(b.doc.Sanitizers, e)
}

func (b *Builder) Build() (*Catalog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return New(b.doc.Sources, b.doc.Sinks, b.doc.Sanitizers)
}
