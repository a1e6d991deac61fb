// Package model holds the shared data-model types for the knowledge
// graph: the node and edge shapes, plus the structural ID scheme every
// component agrees on.
package model

import "fmt"

// NodeLabel enumerates every node type the graph persists.
type NodeLabel string

const (
	LabelProject   NodeLabel = "Project"
	LabelFile      NodeLabel = "File"
	LabelFunction  NodeLabel = "Function"
	LabelClass     NodeLabel = "Class"
	LabelInterface NodeLabel = "Interface"
	LabelType      NodeLabel = "Type"
	LabelVariable  NodeLabel = "Variable"
	LabelComponent NodeLabel = "Component"
	LabelImport    NodeLabel = "Import"
)

// EdgeLabel enumerates every relation type the graph persists.
type EdgeLabel string

const (
	EdgeContains       EdgeLabel = "CONTAINS"
	EdgeContainsFile   EdgeLabel = "CONTAINS_FILE"
	EdgeImports        EdgeLabel = "IMPORTS"
	EdgeImportsSymbol  EdgeLabel = "IMPORTS_SYMBOL"
	EdgeCalls          EdgeLabel = "CALLS"
	EdgeExtends        EdgeLabel = "EXTENDS"
	EdgeImplements     EdgeLabel = "IMPLEMENTS"
	EdgeUsesType       EdgeLabel = "USES_TYPE"
	EdgeReturns        EdgeLabel = "RETURNS"
	EdgeHasParam       EdgeLabel = "HAS_PARAM"
	EdgeHasMethod      EdgeLabel = "HAS_METHOD"
	EdgeHasProperty    EdgeLabel = "HAS_PROPERTY"
	EdgeRenders        EdgeLabel = "RENDERS"
	EdgeUsesHook       EdgeLabel = "USES_HOOK"
	EdgeModifiedIn     EdgeLabel = "MODIFIED_IN"
)

// ExternalSentinelPrefix is the path used for the external: sentinel; a
// sentinel's structural ID is always "<Label>:external:<name>".
const ExternalSentinelPrefix = "external"

// FileID returns the structural ID for a File node: File:<absolutePath>.
func FileID(absolutePath string) string {
	return fmt.Sprintf("%s:%s", LabelFile, absolutePath)
}

// EntityID returns the structural ID for a non-File node:
// <Label>:<filePath>:<name>:<startLine-or-line>.
func EntityID(label NodeLabel, filePath, name string, line int) string {
	return fmt.Sprintf("%s:%s:%s:%d", label, filePath, name, line)
}

// ExternalID returns the structural ID for an unresolved cross-file target:
// <Label>:external:<name>.
func ExternalID(label NodeLabel, name string) string {
	return fmt.Sprintf("%s:%s:%s", label, ExternalSentinelPrefix, name)
}

// Project is the root-scoping entity: one per ingested rootPath.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	RootPath   string `json:"rootPath"`
	CreatedAt  int64  `json:"createdAt"`
	LastParsed int64  `json:"lastParsed"`
	FileCount  int    `json:"fileCount"`
}

func (p Project) ToNode() Node {
	return Node{Label: LabelProject, ID: p.ID, Properties: map[string]any{
		"id": p.ID, "name": p.Name, "rootPath": p.RootPath,
		"createdAt": p.CreatedAt, "lastParsed": p.LastParsed, "fileCount": p.FileCount,
	}}
}

// File is the primary-key entity for every other node's filePath field.
type File struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Extension    string `json:"extension"`
	LOC          int    `json:"loc"`
	LastModified int64  `json:"lastModified"`
	Hash         string `json:"hash"`
	// IsTest is used only by query-side statistics; it carries no
	// invariant weight.
	IsTest bool `json:"isTest"`
}

// ID returns this file's structural ID.
func (f File) ID() string { return FileID(f.Path) }

// ToNode renders f as the engine-neutral Node shape the Graph Operations
// Layer persists.
func (f File) ToNode() Node {
	return Node{Label: LabelFile, ID: f.ID(), Properties: map[string]any{
		"path": f.Path, "name": f.Name, "extension": f.Extension,
		"loc": f.LOC, "lastModified": f.LastModified, "hash": f.Hash, "isTest": f.IsTest,
	}}
}

// Param describes one function/method parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Function covers both free functions and methods (a method is the same
// shape attached to a Class via HAS_METHOD).
type Function struct {
	Name                string  `json:"name"`
	FilePath            string  `json:"filePath"`
	StartLine           int     `json:"startLine"`
	EndLine             int     `json:"endLine"`
	IsExported          bool    `json:"isExported"`
	IsAsync             bool    `json:"isAsync"`
	IsArrow             bool    `json:"isArrow"`
	Params              []Param `json:"params"`
	ReturnType          string  `json:"returnType,omitempty"`
	Docstring           string  `json:"docstring,omitempty"`
	Complexity          int     `json:"complexity,omitempty"`
	CognitiveComplexity int     `json:"cognitiveComplexity,omitempty"`
	NestingDepth        int     `json:"nestingDepth,omitempty"`
	// Signature is a display-only convenience; it carries no identity.
	Signature string `json:"signature,omitempty"`
}

// ID returns this function's structural ID.
func (f Function) ID() string {
	return EntityID(LabelFunction, f.FilePath, f.Name, f.StartLine)
}

// ToNode renders f as the engine-neutral Node shape the Graph Operations
// Layer persists.
func (f Function) ToNode() Node {
	return Node{Label: LabelFunction, ID: f.ID(), Properties: map[string]any{
		"name": f.Name, "filePath": f.FilePath, "startLine": f.StartLine, "endLine": f.EndLine,
		"isExported": f.IsExported, "isAsync": f.IsAsync, "isArrow": f.IsArrow,
		"returnType": f.ReturnType, "docstring": f.Docstring, "signature": f.Signature,
		"complexity": f.Complexity, "cognitiveComplexity": f.CognitiveComplexity, "nestingDepth": f.NestingDepth,
		"params": paramsToAny(f.Params),
	}}
}

func paramsToAny(params []Param) []map[string]any {
	out := make([]map[string]any, 0, len(params))
	for _, p := range params {
		out = append(out, map[string]any{"name": p.Name, "type": p.Type})
	}
	return out
}

// Class models a class declaration.
type Class struct {
	Name       string `json:"name"`
	FilePath   string `json:"filePath"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	IsExported bool   `json:"isExported"`
	IsAbstract bool   `json:"isAbstract"`
	Docstring  string `json:"docstring,omitempty"`
}

func (c Class) ID() string { return EntityID(LabelClass, c.FilePath, c.Name, c.StartLine) }

func (c Class) ToNode() Node {
	return Node{Label: LabelClass, ID: c.ID(), Properties: map[string]any{
		"name": c.Name, "filePath": c.FilePath, "startLine": c.StartLine, "endLine": c.EndLine,
		"isExported": c.IsExported, "isAbstract": c.IsAbstract, "docstring": c.Docstring,
	}}
}

// Interface models an interface/protocol declaration (same shape as Class
// minus IsAbstract).
type Interface struct {
	Name       string `json:"name"`
	FilePath   string `json:"filePath"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	IsExported bool   `json:"isExported"`
	Docstring  string `json:"docstring,omitempty"`
}

func (i Interface) ID() string { return EntityID(LabelInterface, i.FilePath, i.Name, i.StartLine) }

func (i Interface) ToNode() Node {
	return Node{Label: LabelInterface, ID: i.ID(), Properties: map[string]any{
		"name": i.Name, "filePath": i.FilePath, "startLine": i.StartLine, "endLine": i.EndLine,
		"isExported": i.IsExported, "docstring": i.Docstring,
	}}
}

// TypeKind enumerates the recognized kinds of Type declarations.
type TypeKind string

const (
	TypeKindAlias TypeKind = "alias"
	TypeKindEnum  TypeKind = "enum"
)

// Type models a type alias or enum declaration.
type Type struct {
	Name       string   `json:"name"`
	FilePath   string   `json:"filePath"`
	StartLine  int      `json:"startLine"`
	EndLine    int      `json:"endLine"`
	IsExported bool     `json:"isExported"`
	Kind       TypeKind `json:"kind"`
}

func (t Type) ID() string { return EntityID(LabelType, t.FilePath, t.Name, t.StartLine) }

func (t Type) ToNode() Node {
	return Node{Label: LabelType, ID: t.ID(), Properties: map[string]any{
		"name": t.Name, "filePath": t.FilePath, "startLine": t.StartLine, "endLine": t.EndLine,
		"isExported": t.IsExported, "kind": string(t.Kind),
	}}
}

// VariableKind enumerates the recognized kinds of Variable declarations.
type VariableKind string

const (
	VariableKindConst VariableKind = "const"
	VariableKindLet   VariableKind = "let"
	VariableKindVar   VariableKind = "var"
)

// Variable models a top-level (module-scope) variable declaration.
type Variable struct {
	Name       string       `json:"name"`
	FilePath   string       `json:"filePath"`
	Line       int          `json:"line"`
	Kind       VariableKind `json:"kind"`
	IsExported bool         `json:"isExported"`
	Type       string       `json:"type,omitempty"`
}

func (v Variable) ID() string { return EntityID(LabelVariable, v.FilePath, v.Name, v.Line) }

func (v Variable) ToNode() Node {
	return Node{Label: LabelVariable, ID: v.ID(), Properties: map[string]any{
		"name": v.Name, "filePath": v.FilePath, "line": v.Line,
		"kind": string(v.Kind), "isExported": v.IsExported, "type": v.Type,
	}}
}

// Component is a UI component: the Function shape plus props.
type Component struct {
	Function
	Props []Param `json:"props,omitempty"`
}

func (c Component) ID() string {
	return EntityID(LabelComponent, c.FilePath, c.Name, c.StartLine)
}

func (c Component) ToNode() Node {
	n := c.Function.ToNode()
	n.Label = LabelComponent
	n.ID = c.ID()
	n.Properties["props"] = paramsToAny(c.Props)
	return n
}

// Import models one import statement; Specifiers lists the named bindings
// pulled from Source. ResolvedPath is filled in by the language plugin when
// it can resolve the module specifier to an absolute file path.
type Import struct {
	Source       string   `json:"source"`
	FilePath     string   `json:"filePath"`
	Line         int      `json:"line"`
	IsDefault    bool     `json:"isDefault"`
	IsNamespace  bool     `json:"isNamespace"`
	Specifiers   []string `json:"specifiers"`
	ResolvedPath string   `json:"resolvedPath,omitempty"`
}

// Node is the engine-neutral node representation consumed by the Graph
// Operations Layer: a label, a structural ID, and a flat property bag.
type Node struct {
	Label      NodeLabel
	ID         string
	Properties map[string]any
}

// Edge is the engine-neutral edge representation.
type Edge struct {
	Label      EdgeLabel
	From       string
	To         string
	Properties map[string]any
}
