// Package catalog holds the source, sink and sanitizer pattern registries.
// A Catalog is validated and compiled once at load time and is immutable
// afterwards, so one instance is shared by every analysis goroutine.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jward/taintflow/internal/syntax"
)

// ErrInvalidCatalog is matched by every load-time catalog failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Match modes.
const (
	MatchExact     = "exact"
	MatchSuffix    = "suffix"
	MatchSubstring = "substring"
	MatchRegex     = "regex"
)

// Sanitizer kinds. Only validating calls remove taint; schema entries name
// calls that build a validator without running it and veto a match.
const (
	KindValidating = "validating"
	KindSchema     = "schema"
)

// Sections of a catalog document.
const (
	SectionSources    = "sources"
	SectionSinks      = "sinks"
	SectionSanitizers = "sanitizers"
)

// Entry is one catalog pattern.
type Entry struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	CWE      string `yaml:"cwe,omitempty" json:"cwe,omitempty"`
	Match    string `yaml:"match,omitempty" json:"match,omitempty"`
	// Kind applies to sanitizers only.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Categories restricts a sanitizer to sinks of these categories. Empty
	// means it sanitizes for every category.
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`

	re    *regexp.Regexp
	lower string
}

// EntryError reports a malformed catalog entry.
type EntryError struct {
	Section string
	Index   int
	Pattern string
	Err     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("catalog: %s[%d] %q: %v", e.Section, e.Index, e.Pattern, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func (e *EntryError) Is(target error) bool { return target == ErrInvalidCatalog }

// Catalog is the immutable set of compiled registries.
type Catalog struct {
	sources    []Entry
	sinks      []Entry
	sanitizers []Entry
}

// New validates and compiles the given entries. The slices are copied.
func New(sources, sinks, sanitizers []Entry) (*Catalog, error) {
	c := &Catalog{}
	var err error
	if c.sources, err = compileSection(SectionSources, sources, MatchSubstring); err != nil {
		return nil, err
	}
	if c.sinks, err = compileSection(SectionSinks, sinks, MatchSuffix); err != nil {
		return nil, err
	}
	if c.sanitizers, err = compileSection(SectionSanitizers, sanitizers, ""); err != nil {
		return nil, err
	}
	return c, nil
}

func compileSection(section string, entries []Entry, defaultMatch string) ([]Entry, error) {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		fail := func(format string, args ...any) error {
			return &EntryError{Section: section, Index: i, Pattern: e.Pattern, Err: fmt.Errorf(format, args...)}
		}
		e.Pattern = strings.TrimSpace(e.Pattern)
		if e.Pattern == "" {
			return nil, fail("empty pattern")
		}
		if section != SectionSanitizers && e.Category == "" {
			return nil, fail("missing category")
		}
		if e.Match == "" {
			e.Match = defaultMatch
			if section == SectionSanitizers {
				// Dotted framework methods match as a suffix, bare verbs as
				// substrings.
				e.Match = MatchSubstring
				if strings.Contains(e.Pattern, ".") {
					e.Match = MatchSuffix
				}
			}
		}
		switch e.Match {
		case MatchExact, MatchSuffix, MatchSubstring:
		case MatchRegex:
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				return nil, fail("compile regex: %w", err)
			}
			e.re = re
		default:
			return nil, fail("unknown match mode %q", e.Match)
		}
		if section == SectionSanitizers {
			if e.Kind == "" {
				e.Kind = KindValidating
			}
			if e.Kind != KindValidating && e.Kind != KindSchema {
				return nil, fail("unknown sanitizer kind %q", e.Kind)
			}
		} else if e.Kind != "" {
			return nil, fail("kind is only valid for sanitizers")
		}
		e.Categories = append([]string(nil), e.Categories...)
		e.lower = strings.ToLower(e.Pattern)
		out[i] = e
	}
	return out, nil
}

// Sources returns a copy of the source entries.
func (c *Catalog) Sources() []Entry { return append([]Entry(nil), c.sources...) }

// Sinks returns a copy of the sink entries.
func (c *Catalog) Sinks() []Entry { return append([]Entry(nil), c.sinks...) }

// Sanitizers returns a copy of the sanitizer entries.
func (c *Catalog) Sanitizers() []Entry { return append([]Entry(nil), c.sanitizers...) }

// Len returns the total number of entries.
func (c *Catalog) Len() int { return len(c.sources) + len(c.sinks) + len(c.sanitizers) }

// MatchSource finds the first source entry occurring in expr and returns
// it with the matched text. Substring sources match on token boundaries so
// "req.body" hits "req.body.id" but not "prereq.body".
func (c *Catalog) MatchSource(expr string) (Entry, string, bool) {
	for _, e := range c.sources {
		switch e.Match {
		case MatchRegex:
			if m := e.re.FindString(expr); m != "" {
				return e, m, true
			}
		case MatchExact:
			if strings.TrimSpace(expr) == e.Pattern {
				return e, e.Pattern, true
			}
		default:
			if syntax.ContainsVar(expr, e.Pattern) {
				return e, e.Pattern, true
			}
		}
	}
	return Entry{}, "", false
}

// MatchSink returns the sink entry for a call target, if any. Suffix sinks
// match on a member boundary: "query" hits "db.query" but not "subquery".
func (c *Catalog) MatchSink(callee string) (Entry, bool) {
	target := syntax.CallTargetText(callee)
	for _, e := range c.sinks {
		if matchTarget(e, target, true) {
			return e, true
		}
	}
	return Entry{}, false
}

// IsSanitizer reports whether callExpr invokes a validating sanitizer for
// any category.
func (c *Catalog) IsSanitizer(callExpr string) bool {
	return c.SanitizesFor(callExpr, "")
}

// SanitizesFor reports whether callExpr invokes a validating sanitizer that
// applies to the given sink category ("" for any).
//
// Schema-construction entries are checked first: a call that only builds a
// validator never counts, even if a broader pattern would match it.
func (c *Catalog) SanitizesFor(callExpr, category string) bool {
	target := syntax.CallTargetText(callExpr)
	if target == "" {
		return false
	}
	for _, e := range c.sanitizers {
		if e.Kind == KindSchema && matchTarget(e, target, false) {
			return false
		}
	}
	for _, e := range c.sanitizers {
		if e.Kind != KindValidating || !appliesTo(e, category) {
			continue
		}
		if matchTarget(e, target, false) {
			return true
		}
	}
	return false
}

func appliesTo(e Entry, category string) bool {
	if category == "" || len(e.Categories) == 0 {
		return true
	}
	for _, c := range e.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// matchTarget applies e's match mode to a normalized call target. Sinks
// (boundary=true) require a member boundary before a suffix match and are
// case-sensitive. Sanitizer suffixes are case-insensitive and may end
// inside a receiver name ("schema.parse" matches "userSchema.parse").
func matchTarget(e Entry, target string, boundary bool) bool {
	switch e.Match {
	case MatchExact:
		return target == e.Pattern
	case MatchRegex:
		return e.re.MatchString(target)
	case MatchSubstring:
		if boundary {
			return strings.Contains(target, e.Pattern)
		}
		return strings.Contains(strings.ToLower(target), e.lower)
	case MatchSuffix:
		if boundary {
			return target == e.Pattern || strings.HasSuffix(target, "."+e.Pattern)
		}
		return strings.HasSuffix(strings.ToLower(target), e.lower)
	}
	return false
}
