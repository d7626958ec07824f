// Package syntax extracts the small amount of expression structure the taint
// engine needs from the raw expression text stored in the fact tables: which
// functions an expression calls and which identifiers it reads.
package syntax

import (
	"context"
	"regexp"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Expr is the syntactic summary of one expression.
type Expr struct {
	// CallTargets are the dotted names of called functions, outermost first.
	CallTargets []string
	// Identifiers are the variables read by the expression, in source order,
	// without duplicates. Member names after a dot are not identifiers.
	Identifiers []string
}

// Scanner parses expressions with tree-sitter and caches the results.
// Expressions in languages without a grammar, or that fail to parse
// cleanly, are scanned with a lexical fallback.
type Scanner struct {
	mu    sync.Mutex
	cache map[scanKey]Expr
}

type scanKey struct {
	lang string
	expr string
}

func NewScanner() *Scanner {
	return &Scanner{cache: make(map[scanKey]Expr)}
}

// ScanFile scans expr using the language implied by the file extension.
func (s *Scanner) ScanFile(ctx context.Context, file, expr string) Expr {
	lang, _ := LanguageForFile(file)
	return s.Scan(ctx, lang, expr)
}

// Scan returns the summary of expr in the given language.
func (s *Scanner) Scan(ctx context.Context, lang, expr string) Expr {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Expr{}
	}
	key := scanKey{lang, expr}
	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached
	}

	result, ok := parseExpr(ctx, lang, expr)
	if !ok {
		result = lexExpr(expr)
	}

	s.mu.Lock()
	s.cache[key] = result
	s.mu.Unlock()
	return result
}

// Len returns the number of cached expressions.
func (s *Scanner) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func parseExpr(ctx context.Context, lang, expr string) (Expr, bool) {
	grammar, ok := GrammarForLanguage(lang)
	if !ok {
		return Expr{}, false
	}
	wrapped := wrapExpression(lang, expr)
	src := []byte(wrapped)
	lo := uint32(strings.Index(wrapped, expr))
	hi := lo + uint32(len(expr))

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return Expr{}, false
	}
	defer tree.Close()
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return Expr{}, false
	}

	var out Expr
	seen := make(map[string]bool)
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// Nodes of the wrapper program itself are skipped.
		if node.StartByte() >= lo && node.EndByte() <= hi {
			if target := callTarget(node, src); target != "" {
				out.CallTargets = append(out.CallTargets, target)
			}
			if name := identifierName(node, src); name != "" && !seen[name] {
				seen[name] = true
				out.Identifiers = append(out.Identifiers, name)
			}
		}

		// Push children in reverse so they pop in source order.
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return out, true
}

// callNodeTypes are the call-expression node types across the supported
// grammars.
var callNodeTypes = map[string]bool{
	"call_expression":          true, // go, javascript, typescript, rust, c, cpp
	"call":                     true, // python, ruby
	"method_invocation":        true, // java
	"function_call_expression": true, // php
	"member_call_expression":   true, // php
	"scoped_call_expression":   true, // php
}

func callTarget(node *sitter.Node, src []byte) string {
	if !callNodeTypes[node.Type()] {
		return ""
	}
	if fn := node.ChildByFieldName("function"); fn != nil {
		return NormalizeTarget(fn.Content(src))
	}
	name := node.ChildByFieldName("name")
	if name == nil {
		name = node.ChildByFieldName("method")
	}
	if name == nil {
		return ""
	}
	for _, field := range []string{"object", "receiver", "scope"} {
		if recv := node.ChildByFieldName(field); recv != nil {
			return NormalizeTarget(recv.Content(src) + "." + name.Content(src))
		}
	}
	return NormalizeTarget(name.Content(src))
}

// memberParents maps member-access node types to the field holding the
// member name, which is not a variable read.
var memberParents = map[string]string{
	"member_expression":   "property",  // javascript, typescript
	"attribute":           "attribute", // python
	"selector_expression": "field",     // go
	"field_expression":    "field",     // rust, c, cpp
	"field_access":        "field",     // java
}

func identifierName(node *sitter.Node, src []byte) string {
	switch node.Type() {
	case "identifier", "shorthand_property_identifier":
	case "variable_name": // php $x
		return strings.TrimPrefix(node.Content(src), "$")
	default:
		return ""
	}
	if parent := node.Parent(); parent != nil {
		if field, ok := memberParents[parent.Type()]; ok {
			if member := parent.ChildByFieldName(field); member != nil && member.StartByte() == node.StartByte() {
				return ""
			}
		}
		// Named arguments and keyword labels are not reads.
		if parent.Type() == "keyword_argument" {
			if label := parent.ChildByFieldName("name"); label != nil && label.StartByte() == node.StartByte() {
				return ""
			}
		}
	}
	return node.Content(src)
}

var (
	lexCallRe  = regexp.MustCompile(`([A-Za-z_$][\w$]*(?:\s*(?:\?\.|\.|->|::)\s*[A-Za-z_$][\w$]*)*)\s*\(`)
	lexIdentRe = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	keywords   = map[string]bool{
		"new": true, "await": true, "return": true, "typeof": true, "true": true, "false": true,
		"null": true, "nil": true, "None": true, "undefined": true, "this": true, "self": true,
		"and": true, "or": true, "not": true, "in": true, "function": true, "lambda": true,
	}
)

// lexExpr is the lexical fallback: call targets are dotted names directly
// followed by "(", identifiers are names not preceded by a member accessor.
func lexExpr(expr string) Expr {
	var out Expr
	for _, m := range lexCallRe.FindAllStringSubmatch(expr, -1) {
		target := NormalizeTarget(m[1])
		if target != "" && !keywords[target] {
			out.CallTargets = append(out.CallTargets, target)
		}
	}
	seen := make(map[string]bool)
	for _, loc := range lexIdentRe.FindAllStringIndex(expr, -1) {
		name := expr[loc[0]:loc[1]]
		if keywords[name] || seen[name] || inStringLiteral(expr, loc[0]) {
			continue
		}
		if before := strings.TrimRight(expr[:loc[0]], " \t"); strings.HasSuffix(before, ".") ||
			strings.HasSuffix(before, "->") || strings.HasSuffix(before, "::") {
			continue
		}
		if loc[0] > 0 && (expr[loc[0]-1] >= '0' && expr[loc[0]-1] <= '9') {
			continue
		}
		seen[name] = true
		out.Identifiers = append(out.Identifiers, name)
	}
	return out
}

// inStringLiteral reports whether offset i falls inside a quoted literal.
func inStringLiteral(s string, i int) bool {
	var quote byte
	for j := 0; j < i; j++ {
		c := s[j]
		switch {
		case quote != 0 && c == '\\':
			j++
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && (c == '"' || c == '\'' || c == '`'):
			quote = c
		}
	}
	return quote != 0
}

// NormalizeTarget canonicalizes a call target: whitespace removed, "->",
// "::" and "?." rewritten to ".", and leading "await"/"new" dropped.
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	for _, prefix := range []string{"await ", "new "} {
		target = strings.TrimPrefix(target, prefix)
	}
	target = strings.NewReplacer("?.", ".", "->", ".", "::", ".", " ", "", "\t", "", "\n", "").Replace(target)
	return strings.TrimPrefix(target, "$")
}

// CallTargetText returns the text before the first "(" of a call
// expression, normalized. It is the cheap path used when a caller only has
// the callee text and no language.
func CallTargetText(expr string) string {
	if i := strings.IndexByte(expr, '('); i >= 0 {
		expr = expr[:i]
	}
	return NormalizeTarget(expr)
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

// IsIdentifier reports whether expr is a bare variable name. A trailing "!"
// (TypeScript non-null assertion) is ignored.
func IsIdentifier(expr string) bool {
	expr = strings.TrimSuffix(strings.TrimSpace(expr), "!")
	return identRe.MatchString(expr) && !keywords[expr]
}

// ContainsVar reports whether v occurs in expr as a whole token: the
// characters on either side of the match must not continue an identifier.
// v may itself be dotted ("req.body"), in which case a following member
// access still counts ("req.body.id").
func ContainsVar(expr, v string) bool {
	if v == "" {
		return false
	}
	for start := 0; start <= len(expr)-len(v); {
		i := strings.Index(expr[start:], v)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(v)
		beforeOK := i == 0 || !isIdentByte(expr[i-1]) && expr[i-1] != '.'
		afterOK := end == len(expr) || !isIdentByte(expr[end])
		if beforeOK && afterOK {
			return true
		}
		start = i + 1
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
