package lang

import (
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/kgraph/kgraph/internal/model"
)

// jsTSPlugin implements Plugin for TypeScript, TSX, JavaScript, and JSX.
// The four share almost every node kind (function_declaration,
// class_declaration, method_definition, import_statement, ...); TS/TSX
// additionally expose interface_declaration and type_alias_declaration,
// which JS/JSX simply never produce. A single walker handles all four,
// parameterized by grammar and a hasTypes flag.
type jsTSPlugin struct {
	g          grammar
	langName   string
	isTSX      bool
	hasTypes   bool // true for typescript/tsx: interface/type-alias declarations exist
}

func newTypeScriptPlugin() *jsTSPlugin {
	return &jsTSPlugin{g: grammarTypeScript, langName: "typescript", hasTypes: true}
}
func newTSXPlugin() *jsTSPlugin {
	return &jsTSPlugin{g: grammarTSX, langName: "tsx", isTSX: true, hasTypes: true}
}
func newJavaScriptPlugin() *jsTSPlugin {
	return &jsTSPlugin{g: grammarJavaScript, langName: "javascript"}
}
func newJSXPlugin() *jsTSPlugin {
	return &jsTSPlugin{g: grammarJavaScript, langName: "jsx", isTSX: true}
}

func (p *jsTSPlugin) Parse(absolutePath string, content []byte, deepAnalysis bool) (ExtractedEntities, error) {
	sp, err := newSitterParser(p.g)
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

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node == nil {
			return
		}
		switch node.Kind() {
		case "function_declaration":
			p.extractFunction(node, content, absolutePath, &out, deepAnalysis)
		case "arrow_function", "function_expression":
			p.extractArrowOrFunctionExpr(node, content, absolutePath, &out, deepAnalysis)
		case "class_declaration":
			p.extractClass(node, content, absolutePath, &out)
		case "method_definition", "method_signature":
			p.extractMethod(node, content, absolutePath, &out, deepAnalysis)
		case "interface_declaration":
			if p.hasTypes {
				p.extractInterface(node, content, absolutePath, &out)
			}
		case "type_alias_declaration":
			if p.hasTypes {
				p.extractTypeAlias(node, content, absolutePath, &out)
			}
		case "lexical_declaration", "variable_declaration":
			p.extractVariable(node, content, absolutePath, &out)
		case "import_statement":
			p.extractImport(node, content, absolutePath, &out)
		case "export_statement":
			for i := uint(0); i < node.ChildCount(); i++ {
				walk(node.Child(i))
			}
			return
		}
		for i := uint(0); i < node.ChildCount(); i++ {
			walk(node.Child(i))
		}
	}
	walk(root)
	return out, nil
}

func (p *jsTSPlugin) extractFunction(node *sitter.Node, code []byte, file string, out *ExtractedEntities, deep bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := getNodeText(nameNode, code)
	params := p.params(node, code)
	isAsync := hasChildOfText(node, code, "async")

	if p.isTSX && isComponentName(name) {
		comp := model.Component{
			Function: model.Function{
				Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
				IsExported: isExported(node), IsAsync: isAsync, Params: toModelParams(params),
				ReturnType: p.returnType(node, code), Docstring: leadingDocstring(node, code),
				Signature: "function " + name + rawParamText(node, code),
			},
			Props: componentProps(params),
		}
		out.Components = append(out.Components, comp)
		if deep {
			callCallees(node.ChildByFieldName("body"), code, &out.UnresolvedRendersEdges, comp.ID())
		}
		return
	}

	fn := model.Function{
		Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: isExported(node), IsAsync: isAsync,
		Params: toModelParams(params), ReturnType: p.returnType(node, code),
		Docstring: leadingDocstring(node, code),
		Signature: "function " + name + rawParamText(node, code),
	}
	out.Functions = append(out.Functions, fn)
	if deep {
		callCallees(node.ChildByFieldName("body"), code, &out.UnresolvedCallEdges, fn.ID())
	}
}

func (p *jsTSPlugin) extractArrowOrFunctionExpr(node *sitter.Node, code []byte, file string, out *ExtractedEntities, deep bool) {
	parent := node.Parent()
	if parent == nil {
		return
	}
	var name string
	switch parent.Kind() {
	case "variable_declarator":
		if n := parent.ChildByFieldName("name"); n != nil {
			name = getNodeText(n, code)
		}
	case "assignment_expression":
		if n := parent.ChildByFieldName("left"); n != nil {
			name = getNodeText(n, code)
		}
	default:
		return // anonymous callback argument, not a named declaration
	}
	if name == "" {
		return
	}
	params := p.params(node, code)
	isAsync := hasChildOfText(node, code, "async")
	declLine := startLine(parent)
	declEnd := endLine(parent)

	if p.isTSX && isComponentName(name) {
		comp := model.Component{
			Function: model.Function{
				Name: name, FilePath: file, StartLine: declLine, EndLine: declEnd,
				IsExported: isExported(topDeclaration(parent)), IsAsync: isAsync, IsArrow: node.Kind() == "arrow_function",
				Params: toModelParams(params), ReturnType: p.returnType(node, code),
				Docstring: leadingDocstring(topDeclaration(parent), code),
				Signature: "const " + name + " = " + rawParamText(node, code) + " => ...",
			},
			Props: componentProps(params),
		}
		out.Components = append(out.Components, comp)
		if deep {
			callCallees(node.ChildByFieldName("body"), code, &out.UnresolvedRendersEdges, comp.ID())
		}
		return
	}

	fn := model.Function{
		Name: name, FilePath: file, StartLine: declLine, EndLine: declEnd,
		IsExported: isExported(topDeclaration(parent)), IsAsync: isAsync, IsArrow: node.Kind() == "arrow_function",
		Params: toModelParams(params), ReturnType: p.returnType(node, code),
		Docstring: leadingDocstring(topDeclaration(parent), code),
		Signature: "const " + name + " = " + rawParamText(node, code) + " => ...",
	}
	out.Functions = append(out.Functions, fn)
	if deep {
		callCallees(node.ChildByFieldName("body"), code, &out.UnresolvedCallEdges, fn.ID())
	}
}

// topDeclaration climbs from a variable_declarator up to the enclosing
// lexical_declaration/variable_declaration so isExported/leadingDocstring
// see the wrapping export_statement and any preceding doc comment.
func topDeclaration(declarator *sitter.Node) *sitter.Node {
	p := declarator.Parent()
	if p != nil && (p.Kind() == "lexical_declaration" || p.Kind() == "variable_declaration") {
		return p
	}
	return declarator
}

func (p *jsTSPlugin) extractClass(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := getNodeText(nameNode, code)
	class := model.Class{
		Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: isExported(node), Docstring: leadingDocstring(node, code),
	}
	out.Classes = append(out.Classes, class)

	if heritage := node.ChildByFieldName("heritage") ; heritage != nil {
		p.walkHeritage(heritage, code, class.ID(), out)
	}
	// tree-sitter-typescript exposes class heritage as a separate
	// class_heritage node that is not a named field on some grammar
	// versions; fall back to scanning direct children.
	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c.Kind() == "class_heritage" {
			p.walkHeritage(c, code, class.ID(), out)
		}
	}
}

func (p *jsTSPlugin) walkHeritage(heritage *sitter.Node, code []byte, classID string, out *ExtractedEntities) {
	for i := uint(0); i < heritage.ChildCount(); i++ {
		c := heritage.Child(i)
		switch c.Kind() {
		case "extends_clause":
			for j := uint(0); j < c.ChildCount(); j++ {
				if id := extractTypeName(c.Child(j), code); id != "" {
					out.UnresolvedExtendsEdges = append(out.UnresolvedExtendsEdges, UnresolvedEdge{SourceID: classID, Target: id, Line: startLine(c)})
				}
			}
		case "implements_clause":
			for j := uint(0); j < c.ChildCount(); j++ {
				if id := extractTypeName(c.Child(j), code); id != "" {
					out.UnresolvedImplementsEdges = append(out.UnresolvedImplementsEdges, UnresolvedEdge{SourceID: classID, Target: id, Line: startLine(c)})
				}
			}
		}
	}
}

func extractTypeName(n *sitter.Node, code []byte) string {
	switch n.Kind() {
	case "identifier", "type_identifier":
		return getNodeText(n, code)
	case "generic_type":
		if name := n.ChildByFieldName("name"); name != nil {
			return getNodeText(name, code)
		}
	}
	return ""
}

func (p *jsTSPlugin) extractMethod(node *sitter.Node, code []byte, file string, out *ExtractedEntities, deep bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	methodName := getNodeText(nameNode, code)
	className := parentName(node, code, "class_declaration", "interface_declaration")
	qualified := methodName
	if className != "" {
		qualified = className + "." + methodName
	}
	fn := model.Function{
		Name: qualified, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: true, IsAsync: hasChildOfText(node, code, "async"),
		Params: toModelParams(p.params(node, code)), ReturnType: p.returnType(node, code),
		Docstring: leadingDocstring(node, code),
		Signature: methodName + rawParamText(node, code),
	}
	out.Functions = append(out.Functions, fn)
	if deep {
		callCallees(node.ChildByFieldName("body"), code, &out.UnresolvedCallEdges, fn.ID())
	}
}

func (p *jsTSPlugin) extractInterface(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := getNodeText(nameNode, code)
	iface := model.Interface{
		Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: isExported(node), Docstring: leadingDocstring(node, code),
	}
	out.Interfaces = append(out.Interfaces, iface)

	for i := uint(0); i < node.ChildCount(); i++ {
		if c := node.Child(i); c.Kind() == "extends_type_clause" {
			for j := uint(0); j < c.ChildCount(); j++ {
				if id := extractTypeName(c.Child(j), code); id != "" {
					out.UnresolvedExtendsEdges = append(out.UnresolvedExtendsEdges, UnresolvedEdge{SourceID: iface.ID(), Target: id, Line: startLine(c)})
				}
			}
		}
	}
}

func (p *jsTSPlugin) extractTypeAlias(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := getNodeText(nameNode, code)
	value := node.ChildByFieldName("value")
	kind := model.TypeKindAlias
	if value != nil && strings.Contains(getNodeText(value, code), "|") {
		kind = model.TypeKindEnum
	}
	out.Types = append(out.Types, model.Type{
		Name: name, FilePath: file, StartLine: startLine(node), EndLine: endLine(node),
		IsExported: isExported(node), Kind: kind,
	})
}

func (p *jsTSPlugin) extractVariable(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	declKind := model.VariableKindVar
	if raw := getNodeText(node, code); strings.HasPrefix(raw, "const") {
		declKind = model.VariableKindConst
	} else if strings.HasPrefix(raw, "let") {
		declKind = model.VariableKindLet
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		decl := node.Child(i)
		if decl.Kind() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		if nameNode == nil || nameNode.Kind() != "identifier" {
			continue // destructuring patterns carry no single symbol name
		}
		if valueNode := decl.ChildByFieldName("value"); valueNode != nil {
			k := valueNode.Kind()
			if k == "arrow_function" || k == "function_expression" {
				continue // handled as a Function/Component, not a Variable
			}
		}
		out.Variables = append(out.Variables, model.Variable{
			Name: getNodeText(nameNode, code), FilePath: file, Line: startLine(node),
			Kind: declKind, IsExported: isExported(node),
		})
	}
}

func (p *jsTSPlugin) extractImport(node *sitter.Node, code []byte, file string, out *ExtractedEntities) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	source := strings.Trim(getNodeText(sourceNode, code), "\"'`")
	imp := model.Import{Source: source, FilePath: file, Line: startLine(node)}

	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		switch c.Kind() {
		case "import_clause":
			p.walkImportClause(c, code, &imp)
		}
	}
	out.Imports = append(out.Imports, imp)
}

func (p *jsTSPlugin) walkImportClause(node *sitter.Node, code []byte, imp *model.Import) {
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		switch c.Kind() {
		case "identifier":
			imp.IsDefault = true
			imp.Specifiers = append(imp.Specifiers, getNodeText(c, code))
		case "namespace_import":
			imp.IsNamespace = true
			imp.Specifiers = append(imp.Specifiers, getNodeText(c, code))
		case "named_imports":
			for j := uint(0); j < c.ChildCount(); j++ {
				spec := c.Child(j)
				if spec.Kind() == "import_specifier" {
					if n := spec.ChildByFieldName("name"); n != nil {
						imp.Specifiers = append(imp.Specifiers, getNodeText(n, code))
					}
				}
			}
		}
	}
}

func (p *jsTSPlugin) params(node *sitter.Node, code []byte) []paramSpec {
	paramsNode := node.ChildByFieldName("parameters")
	if paramsNode == nil {
		// a single unparenthesized arrow parameter, e.g. `x => x + 1`
		if n := node.ChildByFieldName("parameter"); n != nil {
			return []paramSpec{{Name: getNodeText(n, code)}}
		}
		return nil
	}
	return splitParamList(getNodeText(paramsNode, code))
}

func rawParamText(node *sitter.Node, code []byte) string {
	if n := node.ChildByFieldName("parameters"); n != nil {
		return getNodeText(n, code)
	}
	return "()"
}

func (p *jsTSPlugin) returnType(node *sitter.Node, code []byte) string {
	if n := node.ChildByFieldName("return_type"); n != nil {
		return strings.TrimPrefix(getNodeText(n, code), ":")
	}
	return ""
}

func toModelParams(specs []paramSpec) []model.Param {
	out := make([]model.Param, 0, len(specs))
	for _, s := range specs {
		out = append(out, model.Param{Name: s.Name, Type: s.Type})
	}
	return out
}

func componentProps(specs []paramSpec) []model.Param {
	// React components take a single props object parameter; its
	// destructured members (when written as an object pattern) are the
	// component's declared props. We only have the raw text here, so we
	// surface the first parameter's name/type as a single prop entry
	// when present, which is enough to link a USES_TYPE edge to
	// the props type.
	if len(specs) == 0 {
		return nil
	}
	return toModelParams(specs[:1])
}

func isComponentName(name string) bool {
	if name == "" {
		return false
	}
	r := name[0]
	return r >= 'A' && r <= 'Z'
}

func hasChildOfText(node *sitter.Node, code []byte, text string) bool {
	for i := uint(0); i < node.ChildCount(); i++ {
		if getNodeText(node.Child(i), code) == text {
			return true
		}
	}
	return false
}

func (p *jsTSPlugin) ResolveImport(spec, sourceFile string, knownFiles map[string]string) string {
	if !strings.HasPrefix(spec, ".") {
		return "" // bare specifier: external package
	}
	dir := filepath.Dir(sourceFile)
	candidate := filepath.Clean(filepath.Join(dir, spec))
	for _, ext := range []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"} {
		if p, ok := knownFiles[candidate+ext]; ok {
			return p
		}
	}
	for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
		idx := filepath.Join(candidate, "index"+ext)
		if p, ok := knownFiles[idx]; ok {
			return p
		}
	}
	return ""
}
