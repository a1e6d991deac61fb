// Package graph is the graph operations layer: every write to the
// knowledge graph and every read the query service performs goes through
// the Backend interface defined here.
package graph

import (
	"context"
	"sync"

	"github.com/kgraph/kgraph/internal/model"
)

// ParsedFileEntities bundles one file's fully-resolved parse output —
// the shape internal/ingest hands to BatchUpsert after parsing and
// endpoint resolution.
type ParsedFileEntities struct {
	File       model.File
	Functions  []model.Function
	Classes    []model.Class
	Interfaces []model.Interface
	Types      []model.Type
	Variables  []model.Variable
	Components []model.Component
	Imports    []model.Import
	Edges      []model.Edge
}

// Nodes flattens every entity in pf (excluding File) into the
// engine-neutral Node shape, in a stable order.
func (pf ParsedFileEntities) Nodes() []model.Node {
	var out []model.Node
	for _, f := range pf.Functions {
		out = append(out, f.ToNode())
	}
	for _, c := range pf.Classes {
		out = append(out, c.ToNode())
	}
	for _, i := range pf.Interfaces {
		out = append(out, i.ToNode())
	}
	for _, t := range pf.Types {
		out = append(out, t.ToNode())
	}
	for _, v := range pf.Variables {
		out = append(out, v.ToNode())
	}
	for _, c := range pf.Components {
		out = append(out, c.ToNode())
	}
	return out
}

// BatchStats reports one batchUpsert's effect, rolled up into the
// ingest orchestrator's per-file stats.
type BatchStats struct {
	EntitiesUpserted int
	EntitiesDeleted  int
	EdgesUpserted    int
}

// GraphResult is the {nodes, edges} shape returned by every read that
// yields a subgraph.
type GraphResult struct {
	Nodes []model.Node
	Edges []model.Edge
}

// ConnectionSet is one entity's incoming/outgoing edges, deduplicated by
// (type, endpoint).
type ConnectionSet struct {
	Entity   model.Node
	Incoming []model.Edge
	Outgoing []model.Edge
}

// ListNodesOptions parameterizes listNodes.
type ListNodesOptions struct {
	Page     int
	Limit    int
	Types    []model.NodeLabel
	Query    string
	RootPath string
}

// ListNodesResult is a single page of nodes plus the total match count,
// so the caller can render pagination.
type ListNodesResult struct {
	Nodes []model.Node
	Total int
}

// SearchResult is one fuzzy-by-name match.
type SearchResult struct {
	ID       string
	Name     string
	Type     model.NodeLabel
	FilePath string
	Line     int
	Score    float64
}

// GraphStats is the totals/top-N summary the stats() read returns.
type GraphStats struct {
	TotalNodes        int
	TotalEdges        int
	CountsByLabel     map[model.NodeLabel]int
	TopFilesBySize    []FileSize
	TopConnectedNodes []ConnectedNode
}

type FileSize struct {
	Path         string
	EntityCount  int
}

type ConnectedNode struct {
	ID          string
	Name        string
	Label       model.NodeLabel
	DegreeCount int
}

// CypherResult is the executeCypher() passthrough shape.
type CypherResult struct {
	Results  []map[string]any
	Metadata map[string]any
}

// Backend is the Graph Operations Layer's full contract: every write the
// orchestrator/watcher issue, and every read the query service issues.
type Backend interface {
	// ProjectLock is the delete-vs-ingest exclusion: the orchestrator
	// holds the read side for an ingest's full duration (distinct
	// ingests run concurrently), while DeleteProject and ClearAll take
	// the write side internally, draining every in-flight ingest before
	// the cascade runs.
	ProjectLock() *sync.RWMutex

	UpsertProject(ctx context.Context, p model.Project) error
	LinkProjectFile(ctx context.Context, projectID, filePath string) error
	GetProjectByRoot(ctx context.Context, rootPath string) (model.Project, bool, error)
	GetProjects(ctx context.Context) ([]model.Project, error)
	DeleteProject(ctx context.Context, id string) error

	BatchUpsert(ctx context.Context, pf ParsedFileEntities) (BatchStats, error)
	DeleteFileEntities(ctx context.Context, path string) error
	ClearAll(ctx context.Context) error

	FullGraph(ctx context.Context, limit int, rootPath string) (GraphResult, error)
	FileSubgraph(ctx context.Context, path string) (GraphResult, string, error)
	EntityWithConnections(ctx context.Context, id string, depth int) (*ConnectionSet, error)
	Neighbors(ctx context.Context, id string, direction string, edgeTypes []string, depth int) (GraphResult, error)
	ListNodes(ctx context.Context, opts ListNodesOptions) (ListNodesResult, error)
	Search(ctx context.Context, q string, types []model.NodeLabel, limit int) ([]SearchResult, error)
	Stats(ctx context.Context, rootPath string) (GraphStats, error)
	ExecuteCypher(ctx context.Context, query string, params map[string]any) (CypherResult, error)

	Close(ctx context.Context) error
}
