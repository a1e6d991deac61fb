package resolve

import (
	"testing"

	"github.com/kgraph/kgraph/internal/lang"
	"github.com/kgraph/kgraph/internal/model"
	"github.com/stretchr/testify/require"
)

func TestResolveImportedFileTakesPriorityOverGlobal(t *testing.T) {
	r := NewRegistry()
	r.Register("/repo/lib/util.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "helper", FilePath: "/repo/lib/util.ts", StartLine: 1, IsExported: true}},
	})
	r.Register("/repo/other/util.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "helper", FilePath: "/repo/other/util.ts", StartLine: 5, IsExported: true}},
	})
	r.Register("/repo/main.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "main", FilePath: "/repo/main.ts", StartLine: 1, IsExported: true}},
		Imports: []model.Import{
			{Source: "./lib/util", FilePath: "/repo/main.ts", Specifiers: []string{"helper"}, ResolvedPath: "/repo/lib/util.ts"},
		},
	})

	mainFn := model.Function{Name: "main", FilePath: "/repo/main.ts", StartLine: 1}
	edges := []lang.UnresolvedEdge{{SourceID: mainFn.ID(), Target: "helper", Line: 2}}

	resolved := r.Resolve(edges, model.LabelFunction, true)
	require.Len(t, resolved, 1)
	require.False(t, resolved[0].Dropped)

	wantID := model.Function{Name: "helper", FilePath: "/repo/lib/util.ts", StartLine: 1}.ID()
	require.Equal(t, wantID, resolved[0].TargetID)
}

func TestResolveAmbiguousGlobalFallsBackToExternal(t *testing.T) {
	r := NewRegistry()
	r.Register("/repo/a.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "run", FilePath: "/repo/a.ts", StartLine: 1, IsExported: true}},
	})
	r.Register("/repo/b.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "run", FilePath: "/repo/b.ts", StartLine: 1, IsExported: true}},
	})
	r.Register("/repo/caller.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "caller", FilePath: "/repo/caller.ts", StartLine: 1, IsExported: true}},
	})

	callerFn := model.Function{Name: "caller", FilePath: "/repo/caller.ts", StartLine: 1}
	edges := []lang.UnresolvedEdge{{SourceID: callerFn.ID(), Target: "run", Line: 2}}

	resolved := r.Resolve(edges, model.LabelFunction, true)
	require.Len(t, resolved, 1)
	require.False(t, resolved[0].Dropped)
	require.Equal(t, model.ExternalID(model.LabelFunction, "run"), resolved[0].TargetID)
}

func TestResolveAmbiguousGlobalDroppedWhenExternalsDisabled(t *testing.T) {
	r := NewRegistry()
	r.Register("/repo/a.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "run", FilePath: "/repo/a.ts", StartLine: 1, IsExported: true}},
	})
	r.Register("/repo/b.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "run", FilePath: "/repo/b.ts", StartLine: 1, IsExported: true}},
	})
	callerFn := model.Function{Name: "caller", FilePath: "/repo/caller.ts", StartLine: 1}
	edges := []lang.UnresolvedEdge{{SourceID: callerFn.ID(), Target: "run", Line: 2}}

	resolved := r.Resolve(edges, model.LabelFunction, false)
	require.Len(t, resolved, 1)
	require.True(t, resolved[0].Dropped)
}

func TestResolveUniqueGlobalMatch(t *testing.T) {
	r := NewRegistry()
	r.Register("/repo/util.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "uniqueHelper", FilePath: "/repo/util.ts", StartLine: 3, IsExported: true}},
	})
	callerFn := model.Function{Name: "caller", FilePath: "/repo/caller.ts", StartLine: 1}
	edges := []lang.UnresolvedEdge{{SourceID: callerFn.ID(), Target: "uniqueHelper", Line: 2}}

	resolved := r.Resolve(edges, model.LabelFunction, true)
	require.Len(t, resolved, 1)
	require.False(t, resolved[0].Dropped)
	want := model.Function{Name: "uniqueHelper", FilePath: "/repo/util.ts", StartLine: 3}.ID()
	require.Equal(t, want, resolved[0].TargetID)
}

func TestResolveBuiltinAlwaysExternal(t *testing.T) {
	r := NewRegistry()
	callerFn := model.Function{Name: "caller", FilePath: "/repo/caller.ts", StartLine: 1}
	edges := []lang.UnresolvedEdge{{SourceID: callerFn.ID(), Target: "console", Line: 2}}

	resolved := r.Resolve(edges, model.LabelFunction, true)
	require.Equal(t, model.ExternalID(model.LabelFunction, "console"), resolved[0].TargetID)
}

func TestResetFileRemovesStaleSymbols(t *testing.T) {
	r := NewRegistry()
	r.Register("/repo/a.ts", lang.ExtractedEntities{
		Functions: []model.Function{{Name: "foo", FilePath: "/repo/a.ts", StartLine: 1, IsExported: true}},
	})
	require.Equal(t, 1, r.Stats().Symbols)

	r.ResetFile("/repo/a.ts")
	require.Equal(t, 0, r.Stats().Symbols)
}
