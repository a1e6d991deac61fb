package lang

import (
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/kgraph/kgraph/internal/model"
)

// pythonPlugin implements Plugin for Python: docstrings (the first
// statement of a body being a string literal), exported detection by the
// leading-underscore convention, async functions, and base-class /
// call-edge extraction.
type pythonPlugin struct{}

func newPythonPlugin() *pythonPlugin { return &pythonPlugin{} }

func (p *pythonPlugin) Parse(absolutePath string, content []byte, deepAnalysis bool) (ExtractedEntities, error) {
	sp, err := newSitterParser(grammarPython)
	if err != nil {
		return ExtractedEntities{}, err
	}
	defer sp.Close()

	tree, err := sp.parse(content)
	if err != nil {
		return ExtractedEntities{}, err
	}
	defer tree.Close()

	out := ExtractedEntities{}
	root := tree.RootNode()

	var walk func(*sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Kind() {
		case "function_definition":
			p.extractFunction(node, content, absolutePath, &out, deepAnalysis)
		case "class_definition":
			p.extractClass(node, content, absolutePath, &out)
		case "import_statement", "import_from_statement":
			p.extractImport(node, content, absolutePath, &out)
		case "assignment":
			p.extractAssignment(node, content, absolutePath, &out)
		}
		for i := uint(0); i < node.ChildCount(); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return out, nil
}

func (p *pythonPlugin) extractFunction(node *sitter.Node, code []byte, file string, out *ExtractedEntities, deep bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := getNodeText(nameNode, code)
	className := parentName(node, code, "class_definition")
	qualified := funcName
	if className != "" {
		qualified = className + "." + funcName
	}

	isAsync := false
	if node.Parent() != nil {
		// async def surfaces as an "async" token among the
		// function_definition node's own children.
		isAsync = hasChildOfText(node, code, "async")
	}

	fn := model.Function{
		Name: qualified, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: !strings.HasPrefix(funcName, "_"), IsAsync: isAsync,
		Params: toModelParams(p.params(node, code)), ReturnType: p.returnType(node, code),
		Docstring: p.docstring(node, code),
		Signature: "def " + qualified + rawParamText(node, code),
	}
	out.Functions = append(out.Functions, fn)
	if deep {
		if body := node.ChildByFieldName("body"); body != nil {
			callCallees(body, code, &out.UnresolvedCallEdges, fn.ID())
		}
	}
}

func (p *pythonPlugin) extractClass(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := getNodeText(nameNode, code)
	class := model.Class{
		Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: !strings.HasPrefix(name, "_"), Docstring: p.docstring(node, code),
	}
	out.Classes = append(out.Classes, class)

	if bases := node.ChildByFieldName("superclasses"); bases != nil {
		for i := uint(0); i < bases.ChildCount(); i++ {
			c := bases.Child(i)
			if c.Kind() == "identifier" {
				name := getNodeText(c, code)
				if name == "ABC" || name == "Protocol" {
					continue
				}
				out.UnresolvedExtendsEdges = append(out.UnresolvedExtendsEdges, UnresolvedEdge{SourceID: class.ID(), Target: name, Line: startLine(bases)})
			}
		}
	}
}

// docstring reads the PEP 257 module/class/function docstring: the first
// statement in the body, when it is a bare string literal expression.
func (p *pythonPlugin) docstring(node *sitter.Node, code []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first.Kind() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str.Kind() != "string" {
		return ""
	}
	return strings.Trim(getNodeText(str, code), "\"'")
}

func (p *pythonPlugin) params(node *sitter.Node, code []byte) []paramSpec {
	paramsNode := node.ChildByFieldName("parameters")
	if paramsNode == nil {
		return nil
	}
	raw := getNodeText(paramsNode, code)
	specs := splitParamList(raw)
	// drop a bare `self`/`cls` receiver, which is not a meaningful
	// structural parameter for graph purposes.
	if len(specs) > 0 && (specs[0].Name == "self" || specs[0].Name == "cls") {
		specs = specs[1:]
	}
	return specs
}

func (p *pythonPlugin) returnType(node *sitter.Node, code []byte) string {
	if n := node.ChildByFieldName("return_type"); n != nil {
		return getNodeText(n, code)
	}
	return ""
}

func (p *pythonPlugin) extractImport(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	switch node.Kind() {
	case "import_statement":
		if n := node.ChildByFieldName("name"); n != nil {
			modulePath := getNodeText(n, code)
			out.Imports = append(out.Imports, model.Import{Source: modulePath, FilePath: file, Line: startLine(node)})
		}
	case "import_from_statement":
		moduleNode := node.ChildByFieldName("module_name")
		if moduleNode == nil {
			return
		}
		modulePath := getNodeText(moduleNode, code)
		imp := model.Import{Source: modulePath, FilePath: file, Line: startLine(node)}
		for i := uint(0); i < node.ChildCount(); i++ {
			c := node.Child(i)
			if c.Kind() == "dotted_name" && c.StartByte() != moduleNode.StartByte() {
				imp.Specifiers = append(imp.Specifiers, getNodeText(c, code))
			}
			if c.Kind() == "wildcard_import" {
				imp.IsNamespace = true
			}
		}
		out.Imports = append(out.Imports, imp)
	}
}

// extractAssignment captures module-level `NAME = ...` bindings as
// Variable entities. Function-local and class-body assignments are
// filtered out by requiring the assignment's statement to sit directly
// under the module, since
// Python has no block scoping to otherwise distinguish them cheaply.
func (p *pythonPlugin) extractAssignment(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	parent := node.Parent()
	if parent == nil || parent.Kind() != "expression_statement" {
		return
	}
	grandparent := parent.Parent()
	if grandparent == nil || grandparent.Kind() != "module" {
		return
	}
	left := node.ChildByFieldName("left")
	if left == nil || left.Kind() != "identifier" {
		return
	}
	name := getNodeText(left, code)
	kind := model.VariableKindVar
	if name == strings.ToUpper(name) {
		kind = model.VariableKindConst
	}
	out.Variables = append(out.Variables, model.Variable{
		Name: name, FilePath: file, Line: startLine(node), Kind: kind,
		IsExported: !strings.HasPrefix(name, "_"),
	})
}

// ResolveImport resolves a Python module path. Absolute imports
// (`import pkg.mod`) are rooted at the project root, not the importing
// file's directory, and this plugin is never given the project root
// explicitly — so it falls back to a suffix match across every known
// project file, which is exact for any project without two modules
// sharing a package-relative suffix.
func (p *pythonPlugin) ResolveImport(spec, sourceFile string, knownFiles map[string]string) string {
	rel := strings.ReplaceAll(spec, ".", string(filepath.Separator))
	suffixes := []string{rel + ".py", filepath.Join(rel, "__init__.py")}

	dir := filepath.Dir(sourceFile)
	for _, s := range suffixes {
		if p, ok := knownFiles[filepath.Clean(filepath.Join(dir, s))]; ok {
			return p
		}
	}
	for absPath, resolved := range knownFiles {
		for _, s := range suffixes {
			if strings.HasSuffix(absPath, string(filepath.Separator)+s) || absPath == s {
				return resolved
			}
		}
	}
	return ""
}
