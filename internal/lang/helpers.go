package lang

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// getNodeText extracts the source slice a node spans.
func getNodeText(node *sitter.Node, code []byte) string {
	if node == nil {
		return ""
	}
	start := node.StartByte()
	end := node.EndByte()
	if int(end) > len(code) {
		end = uint(len(code))
	}
	if int(start) > len(code) {
		return ""
	}
	return string(code[start:end])
}

func startLine(node *sitter.Node) int { return int(node.StartPosition().Row) + 1 }
func endLine(node *sitter.Node) int   { return int(node.EndPosition().Row) + 1 }

// findParentOfKind walks up from node looking for the nearest ancestor of
// any of the given kinds, so it locates enclosing interfaces as well as
// classes when resolving a method's owner.
func findParentOfKind(node *sitter.Node, kinds ...string) *sitter.Node {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	current := node.Parent()
	for current != nil {
		if want[current.Kind()] {
			return current
		}
		current = current.Parent()
	}
	return nil
}

func parentName(node *sitter.Node, code []byte, kinds ...string) string {
	p := findParentOfKind(node, kinds...)
	if p == nil {
		return ""
	}
	if n := p.ChildByFieldName("name"); n != nil {
		return getNodeText(n, code)
	}
	return ""
}

// isExported reports whether node sits directly under (or is itself) an
// "export_statement" / has an "export" modifier sibling, which is how
// TS/JS grammars represent the export keyword: it is a wrapping node
// rather than a flag on the declaration.
func isExported(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	if node.Kind() == "export_statement" {
		return true
	}
	p := node.Parent()
	return p != nil && p.Kind() == "export_statement"
}

// splitParamList does a lightweight, grammar-agnostic split of a raw
// "(a, b: T, c = 1)" parameter list slice into individual parameter
// name/type pairs. It is deliberately textual rather than a full AST
// traversal of each parameter node, since the three grammars disagree on
// parameter sub-node shape but agree on comma-separated textual layout.
func splitParamList(raw string) []paramSpec {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parts []string
	depth := 0
	last := 0
	for i, r := range raw {
		switch r {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, raw[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, raw[last:])

	specs := make([]paramSpec, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part = strings.TrimPrefix(part, "...")
		name, typ := part, ""
		if eq := strings.Index(part, "="); eq >= 0 {
			name = strings.TrimSpace(part[:eq])
		}
		if colon := strings.Index(name, ":"); colon >= 0 {
			typ = strings.TrimSpace(name[colon+1:])
			name = strings.TrimSpace(name[:colon])
		}
		name = strings.TrimSuffix(name, "?")
		specs = append(specs, paramSpec{Name: name, Type: typ})
	}
	return specs
}

type paramSpec struct {
	Name string
	Type string
}

// leadingDocstring collects a contiguous run of "//" or "/** */" comment
// siblings immediately preceding node, joined with newlines. JS/TS
// grammars expose comments as regular siblings rather than attaching them
// to the following declaration.
func leadingDocstring(node *sitter.Node, code []byte) string {
	parent := node.Parent()
	if parent == nil {
		return ""
	}
	var lines []string
	idx := -1
	for i := uint(0); i < parent.ChildCount(); i++ {
		if parent.Child(i).StartByte() == node.StartByte() {
			idx = int(i)
			break
		}
	}
	if idx <= 0 {
		return ""
	}
	for i := idx - 1; i >= 0; i-- {
		sib := parent.Child(uint(i))
		if sib.Kind() != "comment" {
			break
		}
		lines = append([]string{strings.TrimSpace(getNodeText(sib, code))}, lines...)
	}
	return strings.Join(lines, "\n")
}

// callCallees walks the subtree rooted at node collecting the bare
// identifier/member-expression text of every call_expression callee, for
// unresolved CALLS edge emission.
func callCallees(node *sitter.Node, code []byte, into *[]UnresolvedEdge, sourceID string) {
	if node == nil {
		return
	}
	if node.Kind() == "call_expression" || node.Kind() == "new_expression" {
		if fn := node.ChildByFieldName("function"); fn != nil {
			name := calleeName(fn, code)
			if name != "" {
				*into = append(*into, UnresolvedEdge{SourceID: sourceID, Target: name, Line: startLine(node)})
			}
		} else if fn := node.ChildByFieldName("constructor"); fn != nil {
			name := calleeName(fn, code)
			if name != "" {
				*into = append(*into, UnresolvedEdge{SourceID: sourceID, Target: name, Line: startLine(node)})
			}
		}
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		callCallees(node.Child(i), code, into, sourceID)
	}
}

// calleeName reduces a call target expression to the bare symbol name the
// resolver
// resolves against: "foo" for foo(), "obj.method" trimmed to "method"
// for obj.method() (member calls resolve against the method-name index).
func calleeName(fn *sitter.Node, code []byte) string {
	switch fn.Kind() {
	case "identifier":
		return getNodeText(fn, code)
	case "member_expression", "attribute":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return getNodeText(prop, code)
		}
		if prop := fn.ChildByFieldName("attribute"); prop != nil {
			return getNodeText(prop, code)
		}
	}
	return ""
}
