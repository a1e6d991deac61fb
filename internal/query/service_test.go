package query

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/model"
)

// stubBackend is an in-memory graph.Backend whose read results are
// injected per test, so these tests never stand up a real Neo4j
// instance.
type stubBackend struct {
	fullGraph   graph.GraphResult
	subgraph    graph.GraphResult
	connections *graph.ConnectionSet
	neighbors   graph.GraphResult
	listResult  graph.ListNodesResult
	searchHits  []graph.SearchResult
	stats       graph.GraphStats
	projects    []model.Project

	lastListOpts graph.ListNodesOptions
	lastLimit    int
	lastScope    string

	projectMu sync.RWMutex
}

func (b *stubBackend) ProjectLock() *sync.RWMutex { return &b.projectMu }

func (b *stubBackend) UpsertProject(context.Context, model.Project) error       { return nil }
func (b *stubBackend) LinkProjectFile(context.Context, string, string) error    { return nil }
func (b *stubBackend) GetProjectByRoot(context.Context, string) (model.Project, bool, error) {
	return model.Project{}, false, nil
}
func (b *stubBackend) GetProjects(context.Context) ([]model.Project, error) { return b.projects, nil }
func (b *stubBackend) DeleteProject(context.Context, string) error          { return nil }
func (b *stubBackend) BatchUpsert(context.Context, graph.ParsedFileEntities) (graph.BatchStats, error) {
	return graph.BatchStats{}, nil
}
func (b *stubBackend) DeleteFileEntities(context.Context, string) error { return nil }
func (b *stubBackend) ClearAll(context.Context) error                   { return nil }

func (b *stubBackend) FullGraph(_ context.Context, limit int, rootPath string) (graph.GraphResult, error) {
	b.lastLimit = limit
	b.lastScope = rootPath
	return b.fullGraph, nil
}
func (b *stubBackend) FileSubgraph(_ context.Context, path string) (graph.GraphResult, string, error) {
	return b.subgraph, model.FileID(path), nil
}
func (b *stubBackend) EntityWithConnections(context.Context, string, int) (*graph.ConnectionSet, error) {
	return b.connections, nil
}
func (b *stubBackend) Neighbors(context.Context, string, string, []string, int) (graph.GraphResult, error) {
	return b.neighbors, nil
}
func (b *stubBackend) ListNodes(_ context.Context, opts graph.ListNodesOptions) (graph.ListNodesResult, error) {
	b.lastListOpts = opts
	return b.listResult, nil
}
func (b *stubBackend) Search(_ context.Context, q string, types []model.NodeLabel, limit int) ([]graph.SearchResult, error) {
	if limit < len(b.searchHits) {
		return b.searchHits[:limit], nil
	}
	return b.searchHits, nil
}
func (b *stubBackend) Stats(context.Context, string) (graph.GraphStats, error) { return b.stats, nil }
func (b *stubBackend) ExecuteCypher(context.Context, string, map[string]any) (graph.CypherResult, error) {
	return graph.CypherResult{}, nil
}
func (b *stubBackend) Close(context.Context) error { return nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func fnNode(path, name string, line int, props map[string]any) model.Node {
	p := map[string]any{"name": name, "filePath": path, "startLine": line}
	for k, v := range props {
		p[k] = v
	}
	return model.Node{Label: model.LabelFunction, ID: model.EntityID(model.LabelFunction, path, name, line), Properties: p}
}

func TestFullGraphClampsLimit(t *testing.T) {
	backend := &stubBackend{}
	svc := NewService(backend, quietLogger())

	_, err := svc.FullGraph(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, defaultGraphLimit, backend.lastLimit)

	_, err = svc.FullGraph(context.Background(), 999999, "/repo")
	require.NoError(t, err)
	assert.Equal(t, maxGraphLimit, backend.lastLimit)
	assert.Equal(t, "/repo", backend.lastScope)
}

func TestFileSubgraphValidatesPath(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.FileSubgraph(context.Background(), "relative/path.ts")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestFileSubgraphNotIndexed(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.FileSubgraph(context.Background(), "/repo/missing.ts")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))
}

func TestFileSubgraphCentersOnFile(t *testing.T) {
	backend := &stubBackend{subgraph: graph.GraphResult{
		Nodes: []model.Node{{Label: model.LabelFile, ID: model.FileID("/repo/a.ts")}},
	}}
	svc := NewService(backend, quietLogger())

	result, err := svc.FileSubgraph(context.Background(), "/repo/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "File:/repo/a.ts", result.CenterID)
	assert.Equal(t, "/repo/a.ts", result.FilePath)
}

func TestEntityNotFound(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.Entity(context.Background(), "Function:/repo/a.ts:foo:1", 1)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))
}

func TestNeighborsDirectionValidation(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.Neighbors(context.Background(), "some-id", "sideways", nil, 1)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))

	result, err := svc.Neighbors(context.Background(), "some-id", "", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "both", result.Direction)
	assert.Equal(t, "some-id", result.CenterID)
}

func TestListNodesClampsAndValidates(t *testing.T) {
	backend := &stubBackend{listResult: graph.ListNodesResult{Total: 250}}
	svc := NewService(backend, quietLogger())

	page, err := svc.ListNodes(context.Background(), graph.ListNodesOptions{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, backend.lastListOpts.Limit)
	assert.Equal(t, 1, backend.lastListOpts.Page)
	assert.Equal(t, 3, page.Pagination.TotalPages)

	_, err = svc.ListNodes(context.Background(), graph.ListNodesOptions{Types: []model.NodeLabel{"Widget"}})
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.Search(context.Background(), "   ", nil, 0, 0)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestSearchPaginatesResults(t *testing.T) {
	hits := make([]graph.SearchResult, 7)
	for i := range hits {
		hits[i] = graph.SearchResult{ID: string(rune('a' + i)), Name: "handler"}
	}
	svc := NewService(&stubBackend{searchHits: hits}, quietLogger())

	resp, err := svc.Search(context.Background(), "handler", nil, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Count)
	assert.Equal(t, "handler", resp.Query)

	resp, err = svc.Search(context.Background(), "handler", nil, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
}

func TestExecuteCypherRequiresQuery(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.ExecuteCypher(context.Background(), " ", nil)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestSourceSliceReadsRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0o644))

	svc := NewService(&stubBackend{}, quietLogger())

	slice, err := svc.Source(context.Background(), path, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", slice.Content)
	assert.Equal(t, 2, slice.StartLine)
	assert.Equal(t, 3, slice.EndLine)
}

func TestSourceValidation(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	_, err := svc.Source(context.Background(), "relative.ts", 0, 0)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))

	_, err = svc.Source(context.Background(), "/no/such/file.ts", 0, 0)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))

	_, err = svc.Source(context.Background(), "/tmp/x.ts", 5, 2)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindValidation, kgerrors.KindOf(err))
}

func TestNaturalLanguageQueryNotImplemented(t *testing.T) {
	svc := NewService(&stubBackend{}, quietLogger())

	err := svc.NaturalLanguageQuery(context.Background(), "who calls foo?")
	require.Error(t, err)
	env := kgerrors.ToEnvelope(err)
	assert.Equal(t, "not-implemented", env.Error.Details["status"])
}
