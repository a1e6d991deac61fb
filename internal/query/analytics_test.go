package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/model"
)

func TestSecurityFindsDangerousCallsAndCredentialNames(t *testing.T) {
	caller := fnNode("/repo/a.ts", "runScript", 10, nil)
	secret := model.Node{
		Label: model.LabelVariable,
		ID:    model.EntityID(model.LabelVariable, "/repo/b.ts", "apiKey", 3),
		Properties: map[string]any{
			"name": "apiKey", "filePath": "/repo/b.ts", "line": 3,
		},
	}
	backend := &stubBackend{fullGraph: graph.GraphResult{
		Nodes: []model.Node{caller, secret},
		Edges: []model.Edge{{
			Label: model.EdgeCalls,
			From:  caller.ID,
			To:    model.ExternalID(model.LabelFunction, "eval"),
		}},
	}}
	engine := NewEngine(backend, quietLogger())

	report, err := engine.Security(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, report.Findings, 2)

	rules := []string{report.Findings[0].Rule, report.Findings[1].Rule}
	assert.Contains(t, rules, "dangerous-call")
	assert.Contains(t, rules, "credential-name")
}

func TestComplexityHotspotsSortedAndThresholded(t *testing.T) {
	backend := &stubBackend{fullGraph: graph.GraphResult{
		Nodes: []model.Node{
			fnNode("/repo/a.ts", "calm", 1, map[string]any{"complexity": 2}),
			fnNode("/repo/a.ts", "busy", 20, map[string]any{"complexity": 14}),
			fnNode("/repo/a.ts", "worst", 90, map[string]any{"complexity": int64(30)}),
		},
	}}
	engine := NewEngine(backend, quietLogger())

	report, err := engine.Complexity(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, report.Hotspots, 2)
	assert.Equal(t, "worst", report.Hotspots[0].Name, "int64 properties decode too")
	assert.Equal(t, "busy", report.Hotspots[1].Name)
}

func TestRefactoringFlagsLongFunctionsAndImportCycles(t *testing.T) {
	long := fnNode("/repo/a.ts", "giant", 1, map[string]any{"endLine": 200})
	fileA := model.FileID("/repo/a.ts")
	fileB := model.FileID("/repo/b.ts")
	backend := &stubBackend{fullGraph: graph.GraphResult{
		Nodes: []model.Node{long},
		Edges: []model.Edge{
			{Label: model.EdgeImports, From: fileA, To: fileB},
			{Label: model.EdgeImports, From: fileB, To: fileA},
		},
	}}
	engine := NewEngine(backend, quietLogger())

	report, err := engine.Refactoring(context.Background(), "/repo")
	require.NoError(t, err)

	require.Len(t, report.Candidates, 1)
	assert.Equal(t, "long-function", report.Candidates[0].Reason)

	require.Len(t, report.ImportCycles, 1, "the two-file cycle is reported exactly once")
	assert.ElementsMatch(t, []string{"/repo/a.ts", "/repo/b.ts"}, report.ImportCycles[0])
}

func TestDataflowTracesSourceToSink(t *testing.T) {
	readInput := fnNode("/repo/a.ts", "readInput", 1, nil)
	process := fnNode("/repo/a.ts", "process", 10, nil)
	sink := model.ExternalID(model.LabelFunction, "exec")
	backend := &stubBackend{fullGraph: graph.GraphResult{
		Nodes: []model.Node{readInput, process},
		Edges: []model.Edge{
			{Label: model.EdgeCalls, From: readInput.ID, To: process.ID},
			{Label: model.EdgeCalls, From: process.ID, To: sink},
		},
	}}
	engine := NewEngine(backend, quietLogger())

	report, err := engine.Dataflow(context.Background(), "/repo")
	require.NoError(t, err)
	require.Len(t, report.Flows, 1)
	assert.Equal(t, readInput.ID, report.Flows[0].SourceID)
	assert.Equal(t, sink, report.Flows[0].SinkID)
	assert.Equal(t, []string{readInput.ID, process.ID, sink}, report.Flows[0].Path)
}

func TestImpactResolvesSymbolByName(t *testing.T) {
	target := fnNode("/repo/b.ts", "bar", 1, nil)
	caller := fnNode("/repo/a.ts", "foo", 1, nil)
	backend := &stubBackend{
		searchHits: []graph.SearchResult{{ID: target.ID, Name: "bar"}},
		neighbors: graph.GraphResult{
			Nodes: []model.Node{caller},
			Edges: []model.Edge{{Label: model.EdgeCalls, From: caller.ID, To: target.ID}},
		},
	}
	engine := NewEngine(backend, quietLogger())

	report, err := engine.Impact(context.Background(), "bar")
	require.NoError(t, err)
	assert.Equal(t, target.ID, report.CenterID)
	assert.Equal(t, []string{"/repo/a.ts"}, report.AffectedFiles)
}

func TestImpactAmbiguousNameRejected(t *testing.T) {
	backend := &stubBackend{searchHits: []graph.SearchResult{
		{ID: "Function:/repo/a.ts:bar:1", Name: "bar"},
		{ID: "Function:/repo/b.ts:bar:1", Name: "bar"},
	}}
	engine := NewEngine(backend, quietLogger())

	_, err := engine.Impact(context.Background(), "bar")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestRunRejectsUnknownKind(t *testing.T) {
	engine := NewEngine(&stubBackend{}, quietLogger())

	_, err := engine.Run(context.Background(), "phrenology", "")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestNameFromID(t *testing.T) {
	assert.Equal(t, "foo", nameFromID("Function:/repo/a.ts:foo:12"))
	assert.Equal(t, "eval", nameFromID("Function:external:eval"))
	assert.Equal(t, "", nameFromID("File:/repo/a.ts"))
}
