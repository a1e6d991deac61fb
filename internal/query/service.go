// Package query implements the query and analytics service: the
// read-only API over the graph (full/scoped fetch, file subgraph, entity
// lookup, neighbor traversal, listing, search, statistics, Cypher
// passthrough, source slices) plus the analytics engine and its
// scheduler.
package query

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/model"
)

const (
	defaultGraphLimit  = 500
	maxGraphLimit      = 5000
	defaultListLimit   = 50
	maxListLimit       = 100
	defaultSearchLimit = 50
)

// Service is the read-side API. Every read goes through the Backend;
// scoping by rootPath happens at the storage layer, never here.
type Service struct {
	backend graph.Backend
	log     *logrus.Logger
}

// NewService builds a Service over backend.
func NewService(backend graph.Backend, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{backend: backend, log: logger}
}

// FullGraph returns a bounded fetch of the whole graph, optionally
// scoped to rootPath.
func (s *Service) FullGraph(ctx context.Context, limit int, rootPath string) (graph.GraphResult, error) {
	if limit <= 0 {
		limit = defaultGraphLimit
	}
	if limit > maxGraphLimit {
		limit = maxGraphLimit
	}
	return s.backend.FullGraph(ctx, limit, rootPath)
}

// FileSubgraphResult is the {nodes, edges, filePath} shape for one
// file's subgraph, centered on the File node.
type FileSubgraphResult struct {
	Nodes    []model.Node `json:"nodes"`
	Edges    []model.Edge `json:"edges"`
	FilePath string       `json:"filePath"`
	CenterID string       `json:"centerId"`
}

// FileSubgraph returns the File node for path, its contained entities,
// and their immediate relations.
func (s *Service) FileSubgraph(ctx context.Context, path string) (FileSubgraphResult, error) {
	if path == "" {
		return FileSubgraphResult{}, kgerrors.Validation("file path is required")
	}
	if !filepath.IsAbs(path) {
		return FileSubgraphResult{}, kgerrors.Validation("file path must be absolute: %s", path)
	}
	result, centerID, err := s.backend.FileSubgraph(ctx, path)
	if err != nil {
		return FileSubgraphResult{}, err
	}
	if len(result.Nodes) == 0 {
		return FileSubgraphResult{}, kgerrors.NotFound("file not indexed: %s", path)
	}
	return FileSubgraphResult{Nodes: result.Nodes, Edges: result.Edges, FilePath: path, CenterID: centerID}, nil
}

// Entity resolves id and returns it with its deduplicated incoming and
// outgoing connections.
func (s *Service) Entity(ctx context.Context, id string, depth int) (*graph.ConnectionSet, error) {
	if id == "" {
		return nil, kgerrors.Validation("entity id is required")
	}
	if depth <= 0 {
		depth = 1
	}
	set, err := s.backend.EntityWithConnections(ctx, id, depth)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, kgerrors.NotFound("entity not found: %s", id)
	}
	return set, nil
}

// NeighborsResult carries a traversal's subgraph along with the center
// and direction the caller asked for.
type NeighborsResult struct {
	Nodes     []model.Node `json:"nodes"`
	Edges     []model.Edge `json:"edges"`
	CenterID  string       `json:"centerId"`
	Direction string       `json:"direction"`
}

// Neighbors traverses from id in the given direction, optionally
// restricted to edgeTypes, up to depth hops (results capped at
// depth × 50).
func (s *Service) Neighbors(ctx context.Context, id, direction string, edgeTypes []string, depth int) (NeighborsResult, error) {
	if id == "" {
		return NeighborsResult{}, kgerrors.Validation("entity id is required")
	}
	switch direction {
	case "":
		direction = "both"
	case "in", "out", "both":
	default:
		return NeighborsResult{}, kgerrors.Validation("direction must be one of in, out, both; got %q", direction)
	}
	if depth <= 0 {
		depth = 1
	}
	result, err := s.backend.Neighbors(ctx, id, direction, edgeTypes, depth)
	if err != nil {
		return NeighborsResult{}, err
	}
	return NeighborsResult{Nodes: result.Nodes, Edges: result.Edges, CenterID: id, Direction: direction}, nil
}

// Pagination describes one page of a listed or searched result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NodePage is one page of listed nodes.
type NodePage struct {
	Nodes      []model.Node `json:"nodes"`
	Pagination Pagination   `json:"pagination"`
}

// ListNodes returns a server-side paginated node listing. q matches
// name and path substrings; types restricts labels.
func (s *Service) ListNodes(ctx context.Context, opts graph.ListNodesOptions) (NodePage, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	for _, t := range opts.Types {
		if !validLabel(t) {
			return NodePage{}, kgerrors.Validation("unknown node type: %s", t)
		}
	}
	result, err := s.backend.ListNodes(ctx, opts)
	if err != nil {
		return NodePage{}, err
	}
	totalPages := result.Total / opts.Limit
	if result.Total%opts.Limit != 0 {
		totalPages++
	}
	return NodePage{
		Nodes: result.Nodes,
		Pagination: Pagination{
			Page: opts.Page, Limit: opts.Limit, Total: result.Total, TotalPages: totalPages,
		},
	}, nil
}

// SearchResponse is the {query, results, count, pagination} search
// envelope.
type SearchResponse struct {
	Query      string               `json:"query"`
	Results    []graph.SearchResult `json:"results"`
	Count      int                  `json:"count"`
	Pagination Pagination           `json:"pagination"`
}

// Search fuzzy-matches q against entity names.
func (s *Service) Search(ctx context.Context, q string, types []model.NodeLabel, limit, page int) (SearchResponse, error) {
	if strings.TrimSpace(q) == "" {
		return SearchResponse{}, kgerrors.Validation("search query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if page <= 0 {
		page = 1
	}
	for _, t := range types {
		if !validLabel(t) {
			return SearchResponse{}, kgerrors.Validation("unknown node type: %s", t)
		}
	}
	// Fetch results up to the end of the requested window, so Total and
	// TotalPages count matches only up to that window, not every match.
	results, err := s.backend.Search(ctx, q, types, limit*page)
	if err != nil {
		return SearchResponse{}, err
	}
	total := len(results)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return SearchResponse{
		Query:   q,
		Results: results[start:end],
		Count:   end - start,
		Pagination: Pagination{
			Page: page, Limit: limit, Total: total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

// Stats returns graph totals, counts by label, and top-N summaries. The
// Neo4j backend computes them over the whole graph; rootPath does not
// narrow them.
func (s *Service) Stats(ctx context.Context, rootPath string) (graph.GraphStats, error) {
	return s.backend.Stats(ctx, rootPath)
}

// ExecuteCypher is the read-only passthrough; the backend rejects write
// clauses.
func (s *Service) ExecuteCypher(ctx context.Context, query string, params map[string]any) (graph.CypherResult, error) {
	if strings.TrimSpace(query) == "" {
		return graph.CypherResult{}, kgerrors.Validation("cypher query is required")
	}
	return s.backend.ExecuteCypher(ctx, query, params)
}

// Projects lists every ingested project.
func (s *Service) Projects(ctx context.Context) ([]model.Project, error) {
	return s.backend.GetProjects(ctx)
}

// DeleteProject cascades to the project's files and their entities.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if id == "" {
		return kgerrors.Validation("project id is required")
	}
	return s.backend.DeleteProject(ctx, id)
}

// SourceSlice is a line range of one file's content.
type SourceSlice struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Content   string `json:"content"`
}

// Source reads lines [startLine, endLine] of path (1-based, inclusive;
// endLine 0 means end of file). path must be absolute.
func (s *Service) Source(ctx context.Context, path string, startLine, endLine int) (SourceSlice, error) {
	if path == "" {
		return SourceSlice{}, kgerrors.Validation("source path is required")
	}
	if !filepath.IsAbs(path) {
		return SourceSlice{}, kgerrors.Validation("source path must be absolute: %s", path)
	}
	if startLine < 0 || endLine < 0 || (endLine > 0 && endLine < startLine) {
		return SourceSlice{}, kgerrors.Validation("invalid line range %d-%d", startLine, endLine)
	}
	if startLine == 0 {
		startLine = 1
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SourceSlice{}, kgerrors.NotFound("source file not found: %s", path)
		}
		return SourceSlice{}, kgerrors.StorageFailure(err, "reading %s", path)
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line < startLine {
			continue
		}
		if endLine > 0 && line > endLine {
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return SourceSlice{}, kgerrors.StorageFailure(err, "reading %s", path)
	}
	if endLine == 0 {
		endLine = line
	}
	return SourceSlice{Path: path, StartLine: startLine, EndLine: endLine, Content: sb.String()}, nil
}

// NaturalLanguageQuery is reserved: the translation layer has no design
// yet, so this always reports not-implemented rather than guessing.
func (s *Service) NaturalLanguageQuery(ctx context.Context, q string) error {
	return kgerrors.Validation("natural-language query is not implemented").
		WithContext("status", "not-implemented")
}

func validLabel(l model.NodeLabel) bool {
	switch l {
	case model.LabelProject, model.LabelFile, model.LabelFunction, model.LabelClass,
		model.LabelInterface, model.LabelType, model.LabelVariable, model.LabelComponent,
		model.LabelImport:
		return true
	}
	return false
}
