package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/model"
)

// fakeBackend is an in-memory graph.Backend stub exercising only the
// operations IngestProject/IngestFile actually call, so these tests
// never stand up a real Neo4j instance.
type fakeBackend struct {
	mu        sync.Mutex
	projectMu sync.RWMutex
	projects  map[string]model.Project // keyed by rootPath
	files     map[string]model.File    // keyed by path
	deleted   []string
	linked    map[string][]string // projectID -> file paths
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		projects: make(map[string]model.Project),
		files:    make(map[string]model.File),
		linked:   make(map[string][]string),
	}
}

func (b *fakeBackend) ProjectLock() *sync.RWMutex { return &b.projectMu }

func (b *fakeBackend) UpsertProject(_ context.Context, p model.Project) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects[p.RootPath] = p
	return nil
}

func (b *fakeBackend) LinkProjectFile(_ context.Context, projectID, filePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linked[projectID] = append(b.linked[projectID], filePath)
	return nil
}

func (b *fakeBackend) GetProjectByRoot(_ context.Context, rootPath string) (model.Project, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.projects[rootPath]
	return p, ok, nil
}

func (b *fakeBackend) GetProjects(_ context.Context) ([]model.Project, error) { return nil, nil }
func (b *fakeBackend) DeleteProject(_ context.Context, id string) error       { return nil }

func (b *fakeBackend) BatchUpsert(_ context.Context, pf graph.ParsedFileEntities) (graph.BatchStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[pf.File.Path] = pf.File
	nodes := pf.Nodes()
	return graph.BatchStats{EntitiesUpserted: len(nodes), EdgesUpserted: len(pf.Edges)}, nil
}

func (b *fakeBackend) DeleteFileEntities(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, path)
	b.deleted = append(b.deleted, path)
	return nil
}

func (b *fakeBackend) ClearAll(_ context.Context) error { return nil }

func (b *fakeBackend) FullGraph(_ context.Context, limit int, rootPath string) (graph.GraphResult, error) {
	return graph.GraphResult{}, nil
}
func (b *fakeBackend) FileSubgraph(_ context.Context, path string) (graph.GraphResult, string, error) {
	return graph.GraphResult{}, "", nil
}
func (b *fakeBackend) EntityWithConnections(_ context.Context, id string, depth int) (*graph.ConnectionSet, error) {
	return nil, nil
}
func (b *fakeBackend) Neighbors(_ context.Context, id, direction string, edgeTypes []string, depth int) (graph.GraphResult, error) {
	return graph.GraphResult{}, nil
}

func (b *fakeBackend) ListNodes(_ context.Context, opts graph.ListNodesOptions) (graph.ListNodesResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var nodes []model.Node
	for _, f := range b.files {
		nodes = append(nodes, f.ToNode())
	}
	return graph.ListNodesResult{Nodes: nodes, Total: len(nodes)}, nil
}

func (b *fakeBackend) Search(_ context.Context, q string, types []model.NodeLabel, limit int) ([]graph.SearchResult, error) {
	return nil, nil
}
func (b *fakeBackend) Stats(_ context.Context, rootPath string) (graph.GraphStats, error) {
	return graph.GraphStats{}, nil
}
func (b *fakeBackend) ExecuteCypher(_ context.Context, query string, params map[string]any) (graph.CypherResult, error) {
	return graph.CypherResult{}, nil
}
func (b *fakeBackend) Close(_ context.Context) error { return nil }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestProjectParsesAddedFilesAndUpsertsProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def foo():\n    return 1\n")
	writeFile(t, dir, "b.py", "def bar():\n    return foo()\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	result, err := orch.IngestProject(context.Background(), dir, Options{DeepAnalysis: true})
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)
	require.Equal(t, 2, result.Stats.Files)
	require.Empty(t, result.Errors)

	absDir, _ := filepath.Abs(dir)
	proj, found, err := backend.GetProjectByRoot(context.Background(), absDir)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, proj.FileCount)
	require.NotZero(t, proj.LastParsed)
}

func TestIngestProjectFailsOnMissingRoot(t *testing.T) {
	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	result, err := orch.IngestProject(context.Background(), "/no/such/directory", Options{})
	require.Error(t, err)
	require.Equal(t, StatusError, result.Status)
}

func TestIngestProjectFailsOnFileNotDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "x = 1\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	_, err := orch.IngestProject(context.Background(), path, Options{})
	require.Error(t, err)
}

func TestIngestFileRequiresPriorProjectIngest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "x = 1\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	_, err := orch.IngestFile(context.Background(), path)
	require.Error(t, err)
}

func TestIngestFileReResolvesAgainstExistingRegistry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def foo():\n    return 1\n")
	bPath := writeFile(t, dir, "b.py", "def bar():\n    return 1\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	_, err := orch.IngestProject(context.Background(), dir, Options{DeepAnalysis: true})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(bPath, []byte("def bar():\n    return foo()\n"), 0o644))

	result, err := orch.IngestFile(context.Background(), bPath)
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)
	require.Equal(t, 1, result.Stats.Files)
}

func TestRemoveFileDeletesEntitiesAndResetsRegistry(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "def foo():\n    return 1\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	_, err := orch.IngestProject(context.Background(), dir, Options{})
	require.NoError(t, err)

	require.NoError(t, orch.RemoveFile(context.Background(), path))
	require.Contains(t, backend.deleted, path)
	require.NotContains(t, backend.files, path)

	// The root's project state survives RemoveFile (only its graph
	// entities and registry entry for this one file were cleared), so a
	// later add of the same path still resolves against the existing
	// project rather than requiring a fresh ingestProject call.
	result, err := orch.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, StatusOK, result.Status)
}

func TestIngestProjectExcludedByProjectDelete(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def foo():\n    return 1\n")

	backend := newFakeBackend()
	orch := NewOrchestrator(backend, DefaultConfig())

	// Holding the write side (as DeleteProject does) must block the
	// entire ingest run, not just its individual writes.
	backend.ProjectLock().Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.IngestProject(context.Background(), dir, Options{})
	}()

	select {
	case <-done:
		t.Fatal("ingest ran while the project delete lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	backend.ProjectLock().Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not resume after the lock was released")
	}
}

func TestIsTestPathDetectsCommonPatterns(t *testing.T) {
	require.True(t, isTestPath("/proj/foo_test.py"))
	require.True(t, isTestPath("/proj/foo.test.ts"))
	require.True(t, isTestPath("/proj/foo.spec.ts"))
	require.True(t, isTestPath("/proj/__tests__/foo.ts"))
	require.False(t, isTestPath("/proj/foo.ts"))
}

func TestCountLines(t *testing.T) {
	require.Equal(t, 0, countLines(nil))
	require.Equal(t, 1, countLines([]byte("one line no trailing newline")))
	require.Equal(t, 2, countLines([]byte("line one\nline two\n")))
}
