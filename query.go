package taintflow

import (
	"sort"
	"strings"
)

// Pagination controls offset+limit paging on path listings.
type Pagination struct {
	Offset int // skip this many results (default 0)
	Limit  int // max results to return (default 50, max 500)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// normalize returns a Pagination with defaults applied and bounds enforced.
func (p Pagination) normalize() Pagination {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p
}

// SortField specifies how to order paths.
type SortField string

const (
	SortBySeverity SortField = "severity"
	SortByFile     SortField = "file"
	SortByHops     SortField = "hops"
	SortByCategory SortField = "category"
)

// SortOrder specifies ascending or descending.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Sort controls result ordering. The zero value keeps report order.
type Sort struct {
	Field SortField
	Order SortOrder
}

// PagedResult wraps a page of results with total count for pagination.
type PagedResult[T any] struct {
	Items      []T
	TotalCount int // total matching results (before pagination)
}

// PathFilter specifies which paths to include. Empty fields match
// everything.
type PathFilter struct {
	Categories []string // sink category is any of these
	Severities []string // severity is any of these
	MinHops    int
	MaxHops    int
	// PathPrefix restricts to paths whose source or sink file is under it.
	PathPrefix string
	// Function restricts to paths whose source or sink is in this function.
	Function string
}

func (f PathFilter) match(p *TaintPath) bool {
	if len(f.Categories) > 0 && !contains(f.Categories, p.Category) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, p.Severity) {
		return false
	}
	if f.MinHops > 0 && p.HopCount < f.MinHops {
		return false
	}
	if f.MaxHops > 0 && p.HopCount > f.MaxHops {
		return false
	}
	if prefix := normalizePathPrefix(f.PathPrefix); prefix != "" &&
		!strings.HasPrefix(p.Source.File, prefix) && !strings.HasPrefix(p.Sink.File, prefix) {
		return false
	}
	if f.Function != "" && normalizeName(f.Function) != normalizeName(p.Source.Function) &&
		normalizeName(f.Function) != normalizeName(p.Sink.Function) {
		return false
	}
	return true
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// normalizePathPrefix ensures a path prefix ends with "/" so "internal/db"
// does not match "internal/db_utils/".
func normalizePathPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Query returns one page of the report's paths matching f, ordered by s.
func (r *Report) Query(f PathFilter, s Sort, p Pagination) PagedResult[TaintPath] {
	var matched []TaintPath
	for i := range r.Paths {
		if f.match(&r.Paths[i]) {
			matched = append(matched, r.Paths[i])
		}
	}
	sortPaths(matched, s)

	p = p.normalize()
	result := PagedResult[TaintPath]{TotalCount: len(matched)}
	if p.Offset >= len(matched) {
		return result
	}
	end := min(p.Offset+p.Limit, len(matched))
	result.Items = matched[p.Offset:end]
	return result
}

func sortPaths(paths []TaintPath, s Sort) {
	var less func(a, b *TaintPath) bool
	switch s.Field {
	case SortBySeverity:
		less = func(a, b *TaintPath) bool { return severityRank[a.Severity] < severityRank[b.Severity] }
	case SortByFile:
		less = func(a, b *TaintPath) bool {
			if a.Source.File != b.Source.File {
				return a.Source.File < b.Source.File
			}
			return a.Source.Line < b.Source.Line
		}
	case SortByHops:
		less = func(a, b *TaintPath) bool { return a.HopCount < b.HopCount }
	case SortByCategory:
		less = func(a, b *TaintPath) bool { return a.Category < b.Category }
	default:
		return
	}
	sort.SliceStable(paths, func(i, j int) bool {
		if s.Order == Desc {
			return less(&paths[j], &paths[i])
		}
		return less(&paths[i], &paths[j])
	})
}

// Summary counts a report's paths by severity and by sink category.
type Summary struct {
	BySeverity map[string]int
	ByCategory map[string]int
}

func (r *Report) Summary() Summary {
	s := Summary{BySeverity: make(map[string]int), ByCategory: make(map[string]int)}
	for _, p := range r.Paths {
		s.BySeverity[p.Severity]++
		s.ByCategory[p.Category]++
	}
	return s
}
