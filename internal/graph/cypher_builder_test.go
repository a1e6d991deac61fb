package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMergeNodeParameterizesEveryValue(t *testing.T) {
	b := NewCypherBuilder()
	query, err := b.BuildMergeNode("Function", "id", "Function:/a.ts:f:1", map[string]any{"name": "f"})
	require.NoError(t, err)
	require.Contains(t, query, "MERGE (n:Function {id: $p0})")
	require.Contains(t, query, "n.name = $p1")
	require.Equal(t, "Function:/a.ts:f:1", b.Params()["p0"])
	require.Equal(t, "f", b.Params()["p1"])
}

func TestBuildMergeNodeRejectsInvalidLabel(t *testing.T) {
	b := NewCypherBuilder()
	_, err := b.BuildMergeNode("bad label", "id", "x", nil)
	require.Error(t, err)
}

func TestBuildMergeEdgeRejectsInvalidPropertyKey(t *testing.T) {
	b := NewCypherBuilder()
	_, err := b.BuildMergeEdge("Function", "id", "a", "Function", "id", "b", "CALLS", map[string]any{"bad key": 1})
	require.Error(t, err)
}

func TestIsValidIdentifier(t *testing.T) {
	require.True(t, isValidIdentifier("Function"))
	require.True(t, isValidIdentifier("_private"))
	require.False(t, isValidIdentifier(""))
	require.False(t, isValidIdentifier("1Function"))
	require.False(t, isValidIdentifier("Function; DROP"))
}
