package graph

import (
	"testing"

	"github.com/kgraph/kgraph/internal/model"
	"github.com/stretchr/testify/require"
)

func TestParsedFileEntitiesNodesFlattensEveryKind(t *testing.T) {
	pf := ParsedFileEntities{
		Functions:  []model.Function{{Name: "f", FilePath: "/a.ts", StartLine: 1}},
		Classes:    []model.Class{{Name: "C", FilePath: "/a.ts", StartLine: 2}},
		Interfaces: []model.Interface{{Name: "I", FilePath: "/a.ts", StartLine: 3}},
		Types:      []model.Type{{Name: "T", FilePath: "/a.ts", StartLine: 4}},
		Variables:  []model.Variable{{Name: "v", FilePath: "/a.ts", Line: 5}},
		Components: []model.Component{{Function: model.Function{Name: "Comp", FilePath: "/a.ts", StartLine: 6}}},
	}
	nodes := pf.Nodes()
	require.Len(t, nodes, 6)

	byLabel := make(map[model.NodeLabel]int)
	for _, n := range nodes {
		byLabel[n.Label]++
		require.NotEmpty(t, n.ID)
	}
	require.Equal(t, 1, byLabel[model.LabelFunction])
	require.Equal(t, 1, byLabel[model.LabelClass])
	require.Equal(t, 1, byLabel[model.LabelInterface])
	require.Equal(t, 1, byLabel[model.LabelType])
	require.Equal(t, 1, byLabel[model.LabelVariable])
	require.Equal(t, 1, byLabel[model.LabelComponent])
}

func TestBatchConfigSizeForKnownAndUnknownLabels(t *testing.T) {
	bc := DefaultBatchConfig()
	require.Equal(t, bc.FunctionBatchSize, bc.sizeFor("Function"))
	require.Equal(t, bc.FunctionBatchSize, bc.sizeFor("Component"))
	require.Equal(t, bc.ClassBatchSize, bc.sizeFor("Class"))
	require.Equal(t, 500, bc.sizeFor("SomeUnknownLabel"))
}

func TestEdgeFromMapParsesProjectedShape(t *testing.T) {
	raw := map[string]any{
		"type": "CALLS", "from": "Function:/a.ts:f:1", "to": "Function:/a.ts:g:2",
		"props": map[string]any{"count": int64(3)},
	}
	e, ok := edgeFromMap(raw)
	require.True(t, ok)
	require.Equal(t, model.EdgeCalls, e.Label)
	require.Equal(t, "Function:/a.ts:f:1", e.From)
	require.Equal(t, int64(3), e.Properties["count"])
}

func TestEdgeFromMapRejectsNullProjection(t *testing.T) {
	_, ok := edgeFromMap(nil)
	require.False(t, ok)
}

func TestDedupeGraphResultRemovesDuplicateNodesAndEdges(t *testing.T) {
	n1 := model.Node{Label: model.LabelFunction, ID: "Function:/a.ts:f:1"}
	e1 := model.Edge{Label: model.EdgeCalls, From: "a", To: "b"}
	g := GraphResult{
		Nodes: []model.Node{n1, n1},
		Edges: []model.Edge{e1, e1},
	}
	deduped := dedupeGraphResult(g)
	require.Len(t, deduped.Nodes, 1)
	require.Len(t, deduped.Edges, 1)
}

func TestPrimaryLabelPrefersMoreSpecificLabel(t *testing.T) {
	require.Equal(t, model.LabelFunction, primaryLabel([]string{"Function"}))
	require.Equal(t, model.LabelClass, primaryLabel([]string{"Class", "SomethingElse"}))
}

func TestExternalLabelFromIDExtractsName(t *testing.T) {
	name := externalLabelFromID(model.ExternalID(model.LabelFunction, "fetch"))
	require.Equal(t, "fetch", name.Name)

	name = externalLabelFromID(model.ExternalID(model.LabelClass, "EventEmitter"))
	require.Equal(t, "EventEmitter", name.Name)
}

func TestSentinelLabelMatchesResolverTargetKind(t *testing.T) {
	// The node label a lazily created sentinel carries must match the
	// label embedded in the sentinel's structural ID for each edge kind.
	require.Equal(t, model.LabelFunction, sentinelLabelFor(model.EdgeCalls))
	require.Equal(t, model.LabelFunction, sentinelLabelFor(model.EdgeUsesHook))
	require.Equal(t, model.LabelClass, sentinelLabelFor(model.EdgeExtends))
	require.Equal(t, model.LabelInterface, sentinelLabelFor(model.EdgeImplements))
	require.Equal(t, model.LabelComponent, sentinelLabelFor(model.EdgeRenders))
	require.Equal(t, model.LabelType, sentinelLabelFor(model.EdgeUsesType))
	require.Equal(t, model.LabelType, sentinelLabelFor(model.EdgeReturns))
	require.Equal(t, model.LabelType, sentinelLabelFor(model.EdgeHasParam))
}

func TestContainsWriteClauseDetectsWrites(t *testing.T) {
	require.True(t, containsWriteClause("MATCH (n) SET n.x = 1"))
	require.True(t, containsWriteClause("CREATE (n:Foo)"))
	require.False(t, containsWriteClause("MATCH (n) RETURN n"))
}

func TestQueryOperationNameTakesLeadingClause(t *testing.T) {
	require.Equal(t, "MATCH", queryOperationName("  MATCH (n) RETURN n"))
	require.Equal(t, "MATCH", queryOperationName("MATCH\n(n) RETURN n"))
}

func TestStringAndInt64PropHelpers(t *testing.T) {
	props := map[string]any{"name": "foo", "startLine": int64(12)}
	require.Equal(t, "foo", stringProp(props, "name"))
	require.Equal(t, "", stringProp(props, "missing"))
	require.Equal(t, int64(12), int64Prop(props, "startLine"))
	require.Equal(t, int64(0), int64Prop(props, "missing"))
}
