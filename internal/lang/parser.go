package lang

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// grammar identifies which tree-sitter grammar to load for a given
// language plugin. tsx loads the TSX grammar from the typescript
// bindings; jsx reuses the javascript grammar, which parses JSX syntax as
// part of the same language.
type grammar string

const (
	grammarTypeScript grammar = "typescript"
	grammarTSX        grammar = "tsx"
	grammarJavaScript grammar = "javascript"
	grammarPython     grammar = "python"
)

// sitterParser wraps a tree-sitter parser bound to one grammar. Callers
// must call Close to release the CGO-backed parser and tree.
type sitterParser struct {
	parser *sitter.Parser
	lang   *sitter.Language
}

func newSitterParser(g grammar) (*sitterParser, error) {
	parser := sitter.NewParser()
	if parser == nil {
		return nil, fmt.Errorf("lang: failed to allocate tree-sitter parser")
	}

	var language *sitter.Language
	switch g {
	case grammarTypeScript:
		language = sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript())
	case grammarTSX:
		language = sitter.NewLanguage(tree_sitter_typescript.LanguageTSX())
	case grammarJavaScript:
		language = sitter.NewLanguage(tree_sitter_javascript.Language())
	case grammarPython:
		language = sitter.NewLanguage(tree_sitter_python.Language())
	default:
		parser.Close()
		return nil, fmt.Errorf("lang: unsupported grammar %q", g)
	}

	if err := parser.SetLanguage(language); err != nil {
		parser.Close()
		return nil, fmt.Errorf("lang: set language %q: %w", g, err)
	}
	return &sitterParser{parser: parser, lang: language}, nil
}

func (p *sitterParser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func (p *sitterParser) parse(code []byte) (*sitter.Tree, error) {
	tree := p.parser.Parse(code, nil)
	if tree == nil {
		return nil, fmt.Errorf("lang: parse failed")
	}
	return tree, nil
}

// DetectExtension maps a file extension (with leading dot) to the plugin
// key that handles it, or "" if unsupported.
func DetectExtension(ext string) string {
	switch ext {
	case ".ts", ".mts", ".cts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".jsx":
		return "jsx"
	case ".py", ".pyi", ".pyw":
		return "python"
	default:
		return ""
	}
}
