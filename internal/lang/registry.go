package lang

import "fmt"

// Registry resolves a file extension to the Plugin that handles it. The
// orchestrator holds one for the lifetime of an ingestion run instead of
// allocating a parser per file.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds the default registry covering every extension
// internal/scan.DefaultExtensions recognizes.
func NewRegistry() *Registry {
	ts := newTypeScriptPlugin()
	tsx := newTSXPlugin()
	js := newJavaScriptPlugin()
	jsx := newJSXPlugin()
	py := newPythonPlugin()

	return &Registry{plugins: map[string]Plugin{
		"typescript": ts,
		"tsx":        tsx,
		"javascript": js,
		"jsx":        jsx,
		"python":     py,
	}}
}

// PluginFor returns the Plugin registered for the language key DetectExtension
// produced for a given file extension.
func (r *Registry) PluginFor(extension string) (Plugin, error) {
	key := DetectExtension(extension)
	if key == "" {
		return nil, fmt.Errorf("lang: unsupported extension %q", extension)
	}
	p, ok := r.plugins[key]
	if !ok {
		return nil, fmt.Errorf("lang: no plugin registered for %q", key)
	}
	return p, nil
}
