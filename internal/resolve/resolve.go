// Package resolve implements the symbol registry and two-pass
// Resolver: pass 1 collects every exportable symbol across parsed
// files, pass 2 rewrites the unresolved call/extends/implements/renders
// edges internal/lang emits into concrete structural IDs or an
// `external:` sentinel.
package resolve

import (
	"sort"
	"sync"

	"github.com/kgraph/kgraph/internal/lang"
	"github.com/kgraph/kgraph/internal/model"
)

// SymbolInfo is one registered declaration.
type SymbolInfo struct {
	Name       string
	File       string
	Label      model.NodeLabel
	IsExported bool
	StartLine  int
	ID         string
}

// Registry holds three indexes over registered symbols: by-name, by-file,
// and exports-by-file.
type Registry struct {
	mu            sync.RWMutex
	byName        map[string][]SymbolInfo
	byFile        map[string][]SymbolInfo
	exportsByFile map[string]map[string]SymbolInfo
	importsByFile map[string][]model.Import
	// Builtins is the denylist of names always treated as external,
	// regardless of any in-project match (e.g. platform standard-library
	// identifiers). Exposed so callers can extend or replace it.
	Builtins map[string]bool
}

// NewRegistry builds an empty registry seeded with a default builtins
// denylist covering the most common cross-language global identifiers
// that would otherwise spuriously "resolve" against an unrelated
// project symbol of the same name.
func NewRegistry() *Registry {
	return &Registry{
		byName:        make(map[string][]SymbolInfo),
		byFile:        make(map[string][]SymbolInfo),
		exportsByFile: make(map[string]map[string]SymbolInfo),
		importsByFile: make(map[string][]model.Import),
		Builtins:      defaultBuiltins(),
	}
}

func defaultBuiltins() map[string]bool {
	names := []string{
		// JS/TS globals
		"console", "Object", "Array", "Promise", "Map", "Set", "Error",
		"JSON", "Math", "Date", "RegExp", "Symbol", "String", "Number",
		"Boolean", "fetch", "setTimeout", "setInterval", "require",
		// Python builtins
		"print", "len", "range", "str", "int", "float", "bool", "list",
		"dict", "set", "tuple", "super", "isinstance", "open", "Exception",
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// ResetFile drops every symbol and import previously registered for
// file, so a re-ingest of a modified file does not accumulate stale
// entries across runs.
func (r *Registry) ResetFile(file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetFileLocked(file)
}

func (r *Registry) resetFileLocked(file string) {
	old := r.byFile[file]
	delete(r.byFile, file)
	delete(r.exportsByFile, file)
	delete(r.importsByFile, file)
	if len(old) == 0 {
		return
	}
	for _, sym := range old {
		list := r.byName[sym.Name]
		kept := list[:0]
		for _, s := range list {
			if s.File != file || s.StartLine != sym.StartLine {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(r.byName, sym.Name)
		} else {
			r.byName[sym.Name] = kept
		}
	}
}

// Register runs pass 1 for one file: every function, class, interface,
// type, variable, and component it declares, plus its import list (used
// by pass 2's import-resolution tie-break). Idempotent on (file, name,
// startLine) — re-registering a file first clears its previous entries.
func (r *Registry) Register(file string, entities lang.ExtractedEntities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetFileLocked(file)

	add := func(label model.NodeLabel, name string, exported bool, line int, id string) {
		sym := SymbolInfo{Name: name, File: file, Label: label, IsExported: exported, StartLine: line, ID: id}
		r.byName[name] = append(r.byName[name], sym)
		r.byFile[file] = append(r.byFile[file], sym)
		if exported {
			if r.exportsByFile[file] == nil {
				r.exportsByFile[file] = make(map[string]SymbolInfo)
			}
			r.exportsByFile[file][name] = sym
		}
	}

	for _, fn := range entities.Functions {
		add(model.LabelFunction, fn.Name, fn.IsExported, fn.StartLine, fn.ID())
	}
	for _, c := range entities.Classes {
		add(model.LabelClass, c.Name, c.IsExported, c.StartLine, c.ID())
	}
	for _, i := range entities.Interfaces {
		add(model.LabelInterface, i.Name, i.IsExported, i.StartLine, i.ID())
	}
	for _, ty := range entities.Types {
		add(model.LabelType, ty.Name, ty.IsExported, ty.StartLine, ty.ID())
	}
	for _, v := range entities.Variables {
		add(model.LabelVariable, v.Name, v.IsExported, v.Line, v.ID())
	}
	for _, comp := range entities.Components {
		add(model.LabelComponent, comp.Name, comp.IsExported, comp.StartLine, comp.ID())
	}
	r.importsByFile[file] = entities.Imports
}

// ResolvedEdge is a pass-2 output: the unresolved edge's target symbol
// rewritten into a concrete structural ID (possibly an external:
// sentinel), or Dropped if no candidate qualified and externals are
// disabled.
type ResolvedEdge struct {
	SourceID string
	TargetID string
	Line     int
	Dropped  bool
}

// Resolve runs pass 2 over one unresolved edge's batch. externalsEnabled
// corresponds to the ingestion option of the same name; targetLabel
// is the node label external: sentinels should carry for this edge kind
// (e.g. Function for CALLS, Class for EXTENDS).
func (r *Registry) Resolve(edges []lang.UnresolvedEdge, targetLabel model.NodeLabel, externalsEnabled bool) []ResolvedEdge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResolvedEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, r.resolveOneLocked(e, targetLabel, externalsEnabled))
	}
	return out
}

func (r *Registry) resolveOneLocked(e lang.UnresolvedEdge, targetLabel model.NodeLabel, externalsEnabled bool) ResolvedEdge {
	if r.Builtins[e.Target] {
		return externalOrDrop(e, targetLabel, externalsEnabled)
	}

	sourceFile := sourceFileOf(e.SourceID)

	// Tie-break 1: resolved-in-imported-file.
	if sourceFile != "" {
		for _, imp := range r.importsByFile[sourceFile] {
			if imp.ResolvedPath == "" {
				continue
			}
			if !importMatchesSpecifier(imp, e.Target) {
				continue
			}
			if sym, ok := r.exportsByFile[imp.ResolvedPath][e.Target]; ok {
				return ResolvedEdge{SourceID: e.SourceID, TargetID: sym.ID, Line: e.Line}
			}
		}
	}

	// Tie-break 2: same-file local symbol.
	if sourceFile != "" {
		var local []SymbolInfo
		for _, sym := range r.byFile[sourceFile] {
			if sym.Name == e.Target {
				local = append(local, sym)
			}
		}
		if len(local) == 1 {
			return ResolvedEdge{SourceID: e.SourceID, TargetID: local[0].ID, Line: e.Line}
		}
	}

	// Tie-break 3: unique global match.
	candidates := r.byName[e.Target]
	if len(candidates) == 1 {
		return ResolvedEdge{SourceID: e.SourceID, TargetID: candidates[0].ID, Line: e.Line}
	}

	// Ambiguous or absent: never guess between equally valid candidates.
	return externalOrDrop(e, targetLabel, externalsEnabled)
}

func externalOrDrop(e lang.UnresolvedEdge, label model.NodeLabel, externalsEnabled bool) ResolvedEdge {
	if !externalsEnabled {
		return ResolvedEdge{SourceID: e.SourceID, Line: e.Line, Dropped: true}
	}
	return ResolvedEdge{SourceID: e.SourceID, TargetID: model.ExternalID(label, e.Target), Line: e.Line}
}

// importMatchesSpecifier reports whether imp brings e.Target into scope:
// a named specifier of that name, or a default/namespace import whose
// single bound local name equals the target (import resolution for
// member access on a namespace import is intentionally not attempted —
// it would require type information this component does not have).
func importMatchesSpecifier(imp model.Import, target string) bool {
	for _, s := range imp.Specifiers {
		if s == target {
			return true
		}
	}
	return false
}

// sourceFileOf extracts the file-path segment out of a structural ID of
// the form "<Label>:<filePath>:<name>:<line>" or "File:<path>". Returns
// "" for an external: sentinel or malformed ID, in which case pass 2
// falls through to the global tie-break only.
func sourceFileOf(structuralID string) string {
	parts := splitStructuralID(structuralID)
	if len(parts) < 2 || parts[1] == model.ExternalSentinelPrefix {
		return ""
	}
	return parts[1]
}

// splitStructuralID splits on ':' without special-casing Windows drive
// letters or URLs, since structural IDs are built exclusively from
// Unix-style absolute paths in this module (FileID relies on this too).
func splitStructuralID(id string) []string {
	var parts []string
	last := 0
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			parts = append(parts, id[last:i])
			last = i + 1
		}
	}
	parts = append(parts, id[last:])
	return parts
}

// Stats reports registry size, used by ingestion-run logging.
type Stats struct {
	Files   int
	Symbols int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, list := range r.byFile {
		total += len(list)
	}
	return Stats{Files: len(r.byFile), Symbols: total}
}

// Files returns every file currently registered, sorted for deterministic
// iteration by callers (e.g. a full-reindex diagnostic dump).
func (r *Registry) Files() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byFile))
	for f := range r.byFile {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
