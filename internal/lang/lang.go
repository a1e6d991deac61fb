// Package lang defines the language plugin interface and its
// tree-sitter-backed concrete plugins for TypeScript/TSX, JavaScript/JSX,
// and Python.
//
// Interfaces and type aliases surface as distinct Interface and Type
// collections; call/extends/implements/renders references are emitted
// unresolved, as bare symbol names, for the resolver to rewrite.
package lang

import "github.com/kgraph/kgraph/internal/model"

// UnresolvedEdge carries a relation whose target is still a bare symbol
// name; the resolver rewrites Target into a concrete structural ID or an
// external: sentinel.
type UnresolvedEdge struct {
	// SourceID is the structural ID of the already-known source entity.
	SourceID string
	// Target is the bare symbol name the plugin observed as a reference.
	Target string
	Line   int
}

// ExtractedEntities is the result of parsing a single file: every entity
// declared in it, plus unresolved relation stubs for the resolver to
// rewrite.
type ExtractedEntities struct {
	Functions  []model.Function
	Classes    []model.Class
	Interfaces []model.Interface
	Variables  []model.Variable
	Types      []model.Type
	Components []model.Component
	Imports    []model.Import

	UnresolvedCallEdges       []UnresolvedEdge
	UnresolvedExtendsEdges    []UnresolvedEdge
	UnresolvedImplementsEdges []UnresolvedEdge
	UnresolvedRendersEdges    []UnresolvedEdge
}

// Plugin is the narrow contract the orchestrator depends on: parse one
// file's content into ExtractedEntities. Implementations are
// language-specific and also own best-effort import resolution (module
// specifier to absolute file path), since that is language-specific too.
type Plugin interface {
	// Parse extracts entities from content at absolutePath. deepAnalysis
	// gates call/render edge extraction.
	Parse(absolutePath string, content []byte, deepAnalysis bool) (ExtractedEntities, error)
	// ResolveImport attempts to resolve a module specifier to an absolute
	// file path given the importing file and the set of known project
	// files (keyed by absolute path). Returns "" if it cannot resolve
	// (e.g. a bare/external package specifier).
	ResolveImport(spec, sourceFile string, knownFiles map[string]string) string
}
