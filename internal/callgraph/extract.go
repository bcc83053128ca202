// Package callgraph extracts per-file definitions and call sites from
// parsed source, and derives the global defines/called_by maps hybrid
// search uses for its call-graph boost.
package callgraph

import (
	"context"
	"fmt"

	"github.com/codelens/codelens/internal/chunk"
)

// Entry is one file's extraction result: the symbols it defines, and
// the symbol names it calls (by bare identifier, unresolved).
type Entry struct {
	Definitions []string
	Calls       []string
}

// callNodeTypes maps a tree-sitter grammar name to the node type that
// represents a call expression in that grammar. The teacher's extractor
// has no notion of call sites (it only extracts definitions for
// contextual chunking), so this table is new.
var callNodeTypes = map[string]string{
	"go":         "call_expression",
	"typescript": "call_expression",
	"tsx":        "call_expression",
	"javascript": "call_expression",
	"jsx":        "call_expression",
	"python":     "call",
}

// Extractor extracts an Entry per file from its parsed tree.
type Extractor struct {
	parser  *chunk.Parser
	symbols *chunk.SymbolExtractor
}

// NewExtractor constructs an Extractor reusing chunk's tree-sitter
// parser and symbol extractor for the definitions half of Entry.
func NewExtractor() *Extractor {
	return &Extractor{
		parser:  chunk.NewParser(),
		symbols: chunk.NewSymbolExtractor(),
	}
}

// Close releases the underlying parser.
func (e *Extractor) Close() {
	e.parser.Close()
}

// Extract parses source and returns its definitions and outgoing calls.
func (e *Extractor) Extract(ctx context.Context, source []byte, language string) (Entry, error) {
	tree, err := e.parser.Parse(ctx, source, language)
	if err != nil {
		return Entry{}, fmt.Errorf("parse for call graph: %w", err)
	}

	symbols := e.symbols.Extract(tree, source)
	defs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		defs = append(defs, s.Name)
	}

	calls := extractCalls(tree, source, language)

	return Entry{Definitions: defs, Calls: calls}, nil
}

// extractCalls walks the tree collecting the callee name of every call
// expression node for language.
func extractCalls(tree *chunk.Tree, source []byte, language string) []string {
	nodeType, ok := callNodeTypes[language]
	if !ok {
		return nil
	}

	var calls []string
	seen := map[string]bool{}
	for _, n := range tree.Root.FindAllByType(nodeType) {
		name := calleeName(n, source)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		calls = append(calls, name)
	}
	return calls
}

// calleeName extracts the bare symbol name being called from a call
// expression node: the rightmost identifier or field/member access,
// e.g. "Foo" from "Foo(x)", "Bar" from "pkg.Bar(x)" or "obj.bar(x)".
func calleeName(callNode *chunk.Node, source []byte) string {
	if len(callNode.Children) == 0 {
		return ""
	}
	callee := callNode.Children[0]

	switch callee.Type {
	case "identifier":
		return callee.GetContent(source)
	case "selector_expression", "member_expression", "attribute":
		if len(callee.Children) == 0 {
			return ""
		}
		last := callee.Children[len(callee.Children)-1]
		return last.GetContent(source)
	default:
		// Generic fallback: rightmost identifier-like leaf anywhere
		// under the callee expression.
		return rightmostIdentifier(callee, source)
	}
}

func rightmostIdentifier(n *chunk.Node, source []byte) string {
	switch n.Type {
	case "identifier", "property_identifier", "field_identifier", "type_identifier":
		return n.GetContent(source)
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if name := rightmostIdentifier(n.Children[i], source); name != "" {
			return name
		}
	}
	return ""
}
