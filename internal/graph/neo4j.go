package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/model"
)

// defaultQueryTimeout bounds every query this backend issues; exec logs a
// warning once execution crosses TimeoutMonitor's warning ratio of it.
const defaultQueryTimeout = 30 * time.Second

// Neo4jBackend is the production Backend implementation. Every
// non-Project/File node carries a single `id` property — the structural
// ID — used as the universal MERGE key.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	batch    BatchConfig
	routing  *RoutingStrategy
	timeout  *TimeoutMonitor

	// fileLocks serializes BatchUpsert/DeleteFileEntities calls for the
	// same file path; distinct paths proceed concurrently.
	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex

	// projectMu excludes DeleteProject's cascading delete (and ClearAll)
	// from whole ingest runs: the orchestrator holds the read side via
	// ProjectLock for an ingest's full duration, so distinct files still
	// proceed concurrently, while a delete takes the write side and
	// drains every in-flight ingest first.
	projectMu sync.RWMutex
}

// NewNeo4jBackend opens a driver against uri, verifies connectivity, and
// returns a ready Backend.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, kgerrors.FatalWrap(err, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, kgerrors.FatalWrap(err, "verify neo4j connectivity")
	}
	return &Neo4jBackend{
		driver:    driver,
		database:  database,
		batch:     DefaultBatchConfig(),
		routing:   NewRoutingStrategy(),
		timeout:   NewTimeoutMonitor(),
		fileLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

// ProjectLock exposes the delete-vs-ingest lock; see the projectMu
// field comment for the holding protocol.
func (b *Neo4jBackend) ProjectLock() *sync.RWMutex {
	return &b.projectMu
}

func (b *Neo4jBackend) lockFor(path string) *sync.Mutex {
	b.fileLocksMu.Lock()
	defer b.fileLocksMu.Unlock()
	m, ok := b.fileLocks[path]
	if !ok {
		m = &sync.Mutex{}
		b.fileLocks[path] = m
	}
	return m
}

// exec runs query under the given routing mode (writers for RoutingWrite,
// readers otherwise), and reports execution time through
// TimeoutMonitor so a query approaching defaultQueryTimeout is logged
// before it actually times out.
func (b *Neo4jBackend) exec(ctx context.Context, mode RoutingMode, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var opt neo4j.ExecuteQueryConfigurationOption
	if mode == RoutingWrite {
		opt = neo4j.ExecuteQueryWithWritersRouting()
	} else {
		opt = neo4j.ExecuteQueryWithReadersRouting()
	}

	var result *neo4j.EagerResult
	err := b.timeout.MonitorWithContext(ctx, queryOperationName(query), defaultQueryTimeout, func(ctx context.Context) error {
		var execErr error
		result, execErr = neo4j.ExecuteQuery(ctx, b.driver, query, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(b.database), opt)
		return execErr
	})
	return result, err
}

// queryOperationName derives a coarse label for logging/monitoring from a
// query's leading clause, since callers pass raw Cypher rather than a
// named operation.
func queryOperationName(query string) string {
	trimmed := strings.TrimSpace(query)
	if i := strings.IndexAny(trimmed, "\n "); i > 0 {
		return trimmed[:i]
	}
	return trimmed
}

// --- Project operations -----------------------------------------------

func (b *Neo4jBackend) UpsertProject(ctx context.Context, p model.Project) error {
	const q = `
		MERGE (proj:Project {id: $id})
		SET proj.name = $name, proj.rootPath = $rootPath,
		    proj.createdAt = coalesce(proj.createdAt, $createdAt),
		    proj.lastParsed = $lastParsed, proj.fileCount = $fileCount`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{
		"id": p.ID, "name": p.Name, "rootPath": p.RootPath,
		"createdAt": p.CreatedAt, "lastParsed": p.LastParsed, "fileCount": p.FileCount,
	})
	if err != nil {
		return kgerrors.StorageFailure(err, "upsert project %s", p.ID)
	}
	return nil
}

func (b *Neo4jBackend) LinkProjectFile(ctx context.Context, projectID, filePath string) error {
	const q = `
		MATCH (proj:Project {id: $projectID})
		MATCH (f:File {id: $fileID})
		MERGE (proj)-[:CONTAINS_FILE]->(f)`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{
		"projectID": projectID, "fileID": model.FileID(filePath),
	})
	if err != nil {
		return kgerrors.StorageFailure(err, "link project %s to file %s", projectID, filePath)
	}
	return nil
}

func (b *Neo4jBackend) GetProjectByRoot(ctx context.Context, rootPath string) (model.Project, bool, error) {
	const q = `MATCH (proj:Project {rootPath: $rootPath}) RETURN proj LIMIT 1`
	res, err := b.exec(ctx, RoutingRead, q, map[string]any{"rootPath": rootPath})
	if err != nil {
		return model.Project{}, false, kgerrors.StorageFailure(err, "get project by root %s", rootPath)
	}
	if len(res.Records) == 0 {
		return model.Project{}, false, nil
	}
	return projectFromRecord(res.Records[0]), true, nil
}

func (b *Neo4jBackend) GetProjects(ctx context.Context) ([]model.Project, error) {
	const q = `MATCH (proj:Project) RETURN proj ORDER BY proj.rootPath`
	res, err := b.exec(ctx, RoutingRead, q, nil)
	if err != nil {
		return nil, kgerrors.StorageFailure(err, "list projects")
	}
	out := make([]model.Project, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, projectFromRecord(rec))
	}
	return out, nil
}

func (b *Neo4jBackend) DeleteProject(ctx context.Context, id string) error {
	b.projectMu.Lock()
	defer b.projectMu.Unlock()

	const q = `
		MATCH (proj:Project {id: $id})
		OPTIONAL MATCH (proj)-[:CONTAINS_FILE]->(f:File)
		OPTIONAL MATCH (f)-[:CONTAINS]->(e)
		DETACH DELETE proj, f, e`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{"id": id})
	if err != nil {
		return kgerrors.StorageFailure(err, "delete project %s", id)
	}
	return nil
}

func projectFromRecord(rec *db.Record) model.Project {
	node, _ := rec.Get("proj")
	n, _ := node.(neo4j.Node)
	return model.Project{
		ID:         stringProp(n.Props, "id"),
		Name:       stringProp(n.Props, "name"),
		RootPath:   stringProp(n.Props, "rootPath"),
		CreatedAt:  int64Prop(n.Props, "createdAt"),
		LastParsed: int64Prop(n.Props, "lastParsed"),
		FileCount:  int(int64Prop(n.Props, "fileCount")),
	}
}

// --- Batch write operations ---------------------------------------------

// BatchUpsert persists one file's fully-resolved parse output in five
// ordered steps: upsert the File node, sweep stale
// entities for this file (before the new set lands, so a deleted function
// never transiently coexists with its replacement under the same line),
// upsert the new entity set, wire CONTAINS edges from File to each entity,
// then upsert every relation edge (CALLS increments a count property;
// unresolved external targets get a lazily created "external:" sentinel
// node).
func (b *Neo4jBackend) BatchUpsert(ctx context.Context, pf ParsedFileEntities) (BatchStats, error) {
	lock := b.lockFor(pf.File.Path)
	lock.Lock()
	defer lock.Unlock()

	var stats BatchStats

	if err := b.upsertFileNode(ctx, pf.File); err != nil {
		return stats, err
	}

	nodes := pf.Nodes()
	keepIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keepIDs = append(keepIDs, n.ID)
	}

	deleted, err := b.sweepStaleEntities(ctx, pf.File.Path, keepIDs)
	if err != nil {
		return stats, err
	}
	stats.EntitiesDeleted = deleted

	upserted, err := b.upsertNodes(ctx, nodes)
	if err != nil {
		return stats, err
	}
	stats.EntitiesUpserted = upserted

	if err := b.wireContainsEdges(ctx, pf.File.ID(), keepIDs); err != nil {
		return stats, err
	}

	edgeCount, err := b.upsertEdges(ctx, pf.Edges)
	if err != nil {
		return stats, err
	}
	stats.EdgesUpserted = edgeCount

	return stats, nil
}

func (b *Neo4jBackend) upsertFileNode(ctx context.Context, f model.File) error {
	const q = `
		MERGE (f:File {id: $id})
		SET f.path = $path, f.name = $name, f.extension = $extension,
		    f.loc = $loc, f.lastModified = $lastModified, f.hash = $hash, f.isTest = $isTest`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{
		"id": f.ID(), "path": f.Path, "name": f.Name, "extension": f.Extension,
		"loc": f.LOC, "lastModified": f.LastModified, "hash": f.Hash, "isTest": f.IsTest,
	})
	if err != nil {
		return kgerrors.StorageFailure(err, "upsert file %s", f.Path)
	}
	return nil
}

// sweepStaleEntities deletes every non-File entity attached to filePath via
// CONTAINS whose id is not in keepIDs: symbols removed or moved since the
// last parse of this file.
func (b *Neo4jBackend) sweepStaleEntities(ctx context.Context, filePath string, keepIDs []string) (int, error) {
	const q = `
		MATCH (f:File {id: $fileID})-[:CONTAINS]->(e)
		WHERE NOT e.id IN $keepIDs
		DETACH DELETE e
		RETURN count(e) as deleted`
	res, err := b.exec(ctx, RoutingWrite, q, map[string]any{
		"fileID": model.FileID(filePath), "keepIDs": keepIDs,
	})
	if err != nil {
		return 0, kgerrors.StorageFailure(err, "sweep stale entities for %s", filePath)
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	n, _ := res.Records[0].Get("deleted")
	count, _ := n.(int64)
	return int(count), nil
}

// upsertNodes batches nodes per-label through the UNWIND MERGE pattern,
// chunked by BatchConfig.sizeFor(label).
func (b *Neo4jBackend) upsertNodes(ctx context.Context, nodes []model.Node) (int, error) {
	byLabel := make(map[model.NodeLabel][]model.Node)
	for _, n := range nodes {
		byLabel[n.Label] = append(byLabel[n.Label], n)
	}

	total := 0
	for label, group := range byLabel {
		size := b.batch.sizeFor(string(label))
		for start := 0; start < len(group); start += size {
			end := start + size
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]
			if err := b.upsertNodeChunk(ctx, label, chunk); err != nil {
				return total, err
			}
			total += len(chunk)
		}
	}
	return total, nil
}

func (b *Neo4jBackend) upsertNodeChunk(ctx context.Context, label model.NodeLabel, chunk []model.Node) error {
	if !isValidIdentifier(string(label)) {
		return kgerrors.Validation("invalid node label %q", label)
	}
	rows := make([]map[string]any, 0, len(chunk))
	for _, n := range chunk {
		props := make(map[string]any, len(n.Properties)+1)
		for k, v := range n.Properties {
			props[k] = v
		}
		props["id"] = n.ID
		rows = append(rows, props)
	}
	q := fmt.Sprintf(`
		UNWIND $rows AS row
		MERGE (n:%s {id: row.id})
		SET n += row
		RETURN count(n) as c`, label)
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{"rows": rows})
	if err != nil {
		return kgerrors.StorageFailure(err, "batch upsert %s nodes", label)
	}
	return nil
}

func (b *Neo4jBackend) wireContainsEdges(ctx context.Context, fileID string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	const q = `
		MATCH (f:File {id: $fileID})
		UNWIND $entityIDs AS eid
		MATCH (e {id: eid})
		MERGE (f)-[:CONTAINS]->(e)`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{"fileID": fileID, "entityIDs": entityIDs})
	if err != nil {
		return kgerrors.StorageFailure(err, "wire CONTAINS edges for file %s", fileID)
	}
	return nil
}

// upsertEdges merges every resolved edge. CALLS edges carry a count
// property that increments on every ingest that re-observes the call
// site; every other edge kind is upserted idempotently. Endpoints named
// by an "external:" sentinel ID are created lazily if absent.
func (b *Neo4jBackend) upsertEdges(ctx context.Context, edges []model.Edge) (int, error) {
	byLabel := make(map[model.EdgeLabel][]model.Edge)
	for _, e := range edges {
		byLabel[e.Label] = append(byLabel[e.Label], e)
	}

	total := 0
	for label, group := range byLabel {
		size := b.batch.EdgeBatchSize
		for start := 0; start < len(group); start += size {
			end := start + size
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]
			if err := b.upsertEdgeChunk(ctx, label, chunk); err != nil {
				return total, err
			}
			total += len(chunk)
		}
	}
	return total, nil
}

func (b *Neo4jBackend) upsertEdgeChunk(ctx context.Context, label model.EdgeLabel, chunk []model.Edge) error {
	if !isValidIdentifier(string(label)) {
		return kgerrors.Validation("invalid edge label %q", label)
	}
	rows := make([]map[string]any, 0, len(chunk))
	for _, e := range chunk {
		props := make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			props[k] = v
		}
		rows = append(rows, map[string]any{
			"from": e.From, "to": e.To, "props": props,
			"isExternalTo": strings.Contains(e.To, ":"+model.ExternalSentinelPrefix+":"),
			"toLabel":      externalLabelFromID(e.To),
		})
	}

	var countClause string
	if label == model.EdgeCalls {
		countClause = `
			ON CREATE SET r.count = 1
			ON MATCH SET r.count = coalesce(r.count, 0) + 1`
	} else {
		countClause = `SET r += row.props`
	}

	// A chunk shares one edge label, so its lazily created sentinels all
	// carry the same node label: the target kind this edge points at
	// (Class for EXTENDS, Interface for IMPLEMENTS, ...), matching the
	// label embedded in the sentinel's structural ID.
	q := fmt.Sprintf(`
		UNWIND $rows AS row
		MATCH (from {id: row.from})
		FOREACH (_ IN CASE WHEN row.isExternalTo THEN [1] ELSE [] END |
			MERGE (to:%s {id: row.to}) ON CREATE SET to.name = row.toLabel.name, to.external = true
		)
		WITH row, from
		MATCH (to {id: row.to})
		MERGE (from)-[r:%s]->(to)
		%s`, sentinelLabelFor(label), label, countClause)
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{"rows": rows})
	if err != nil {
		return kgerrors.StorageFailure(err, "batch upsert %s edges", label)
	}
	return nil
}

// sentinelLabelFor maps an edge kind to the node label its external:
// sentinel targets carry, mirroring the per-kind target labels the
// resolver emits (Function for CALLS/USES_HOOK, Class for EXTENDS,
// Interface for IMPLEMENTS, Component for RENDERS).
func sentinelLabelFor(label model.EdgeLabel) model.NodeLabel {
	switch label {
	case model.EdgeExtends:
		return model.LabelClass
	case model.EdgeImplements:
		return model.LabelInterface
	case model.EdgeRenders:
		return model.LabelComponent
	case model.EdgeUsesType, model.EdgeReturns, model.EdgeHasParam:
		return model.LabelType
	default:
		return model.LabelFunction
	}
}

type externalLabel struct {
	Name string `json:"name"`
}

func externalLabelFromID(id string) externalLabel {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) == 3 {
		return externalLabel{Name: parts[2]}
	}
	return externalLabel{Name: id}
}

func (b *Neo4jBackend) DeleteFileEntities(ctx context.Context, path string) error {
	lock := b.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	const q = `
		MATCH (f:File {id: $fileID})
		OPTIONAL MATCH (f)-[:CONTAINS]->(e)
		DETACH DELETE f, e`
	_, err := b.exec(ctx, RoutingWrite, q, map[string]any{"fileID": model.FileID(path)})
	if err != nil {
		return kgerrors.StorageFailure(err, "delete file entities for %s", path)
	}
	return nil
}

func (b *Neo4jBackend) ClearAll(ctx context.Context) error {
	b.projectMu.Lock()
	defer b.projectMu.Unlock()

	const q = `MATCH (n) DETACH DELETE n`
	_, err := b.exec(ctx, RoutingWrite, q, nil)
	if err != nil {
		return kgerrors.StorageFailure(err, "clear all")
	}
	return nil
}

// --- Read operations ----------------------------------------------------

func (b *Neo4jBackend) FullGraph(ctx context.Context, limit int, rootPath string) (GraphResult, error) {
	if limit <= 0 {
		limit = 500
	}
	params := map[string]any{"limit": limit}
	var scopeClause string
	if rootPath != "" {
		scopeClause = `
			MATCH (proj:Project {rootPath: $rootPath})-[:CONTAINS_FILE]->(f:File)
			OPTIONAL MATCH (f)-[:CONTAINS]->(e)
			WITH collect(DISTINCT f) + collect(DISTINCT e) AS ns
			UNWIND ns AS n`
		params["rootPath"] = rootPath
	} else {
		scopeClause = `MATCH (n)`
	}
	q := scopeClause + `
		WITH DISTINCT n LIMIT $limit
		WITH collect(n) as nodes
		UNWIND nodes AS a
		OPTIONAL MATCH (a)-[r]->(b) WHERE b IN nodes
		RETURN nodes,
		       collect(DISTINCT CASE WHEN r IS NULL THEN NULL ELSE
		           {type: type(r), from: a.id, to: b.id, props: properties(r)} END) as edges`
	res, err := b.exec(ctx, RoutingRead, q, params)
	if err != nil {
		return GraphResult{}, kgerrors.StorageFailure(err, "full graph query")
	}
	return graphResultFromRecords(res.Records), nil
}

func (b *Neo4jBackend) FileSubgraph(ctx context.Context, path string) (GraphResult, string, error) {
	const q = `
		MATCH (f:File {id: $fileID})
		OPTIONAL MATCH (f)-[:CONTAINS]->(e)
		WITH f, collect(DISTINCT f) + collect(DISTINCT e) as scoped
		UNWIND scoped AS n
		WITH f, collect(DISTINCT n) as nodes
		UNWIND nodes AS a
		OPTIONAL MATCH (a)-[r]->(b)
		RETURN f, nodes,
		       collect(DISTINCT CASE WHEN r IS NULL THEN NULL ELSE
		           {type: type(r), from: a.id, to: b.id, props: properties(r)} END) as edges,
		       collect(DISTINCT CASE WHEN b IS NULL OR b IN nodes THEN NULL ELSE b END) as externalTargets`
	res, err := b.exec(ctx, RoutingRead, q, map[string]any{"fileID": model.FileID(path)})
	if err != nil {
		return GraphResult{}, "", kgerrors.StorageFailure(err, "file subgraph for %s", path)
	}
	if len(res.Records) == 0 {
		return GraphResult{}, "", kgerrors.NotFound("file not indexed: %s", path)
	}
	rec := res.Records[0]
	f, _ := rec.Get("f")
	fn, ok := f.(neo4j.Node)
	if !ok {
		return GraphResult{}, "", kgerrors.NotFound("file not indexed: %s", path)
	}

	result := nodesAndEdgesFromRecord(rec)
	if extRaw, ok := rec.Get("externalTargets"); ok {
		if ext, ok := extRaw.([]any); ok {
			for _, v := range ext {
				if n, ok := v.(neo4j.Node); ok {
					result.Nodes = append(result.Nodes, nodeFromNeo4j(n))
				}
			}
		}
	}
	return dedupeGraphResult(result), stringProp(fn.Props, "path"), nil
}

func (b *Neo4jBackend) EntityWithConnections(ctx context.Context, id string, depth int) (*ConnectionSet, error) {
	if depth <= 0 {
		depth = 1
	}
	const q = `
		MATCH (n {id: $id})
		OPTIONAL MATCH (n)-[out]->(m)
		OPTIONAL MATCH (n)<-[in]-(k)
		RETURN n,
		       collect(DISTINCT CASE WHEN out IS NULL THEN NULL ELSE
		           {type: type(out), from: n.id, to: m.id, props: properties(out)} END) as outs,
		       collect(DISTINCT CASE WHEN in IS NULL THEN NULL ELSE
		           {type: type(in), from: k.id, to: n.id, props: properties(in)} END) as ins`
	res, err := b.exec(ctx, RoutingRead, q, map[string]any{"id": id})
	if err != nil {
		return nil, kgerrors.StorageFailure(err, "entity connections for %s", id)
	}
	if len(res.Records) == 0 {
		return nil, kgerrors.NotFound("entity not found: %s", id)
	}
	rec := res.Records[0]
	nRaw, _ := rec.Get("n")
	n, ok := nRaw.(neo4j.Node)
	if !ok {
		return nil, kgerrors.NotFound("entity not found: %s", id)
	}

	cs := &ConnectionSet{Entity: nodeFromNeo4j(n)}
	seenOut := make(map[string]bool)
	seenIn := make(map[string]bool)
	if outs, ok := rec.Get("outs"); ok {
		for _, raw := range outs.([]any) {
			e, ok := edgeFromMap(raw)
			if !ok {
				continue
			}
			key := string(e.Label) + "|" + e.To
			if !seenOut[key] {
				seenOut[key] = true
				cs.Outgoing = append(cs.Outgoing, e)
			}
		}
	}
	if ins, ok := rec.Get("ins"); ok {
		for _, raw := range ins.([]any) {
			e, ok := edgeFromMap(raw)
			if !ok {
				continue
			}
			key := string(e.Label) + "|" + e.From
			if !seenIn[key] {
				seenIn[key] = true
				cs.Incoming = append(cs.Incoming, e)
			}
		}
	}
	return cs, nil
}

func (b *Neo4jBackend) Neighbors(ctx context.Context, id string, direction string, edgeTypes []string, depth int) (GraphResult, error) {
	if depth <= 0 {
		depth = 1
	}
	cap := depth * 50

	var pattern string
	switch direction {
	case "in":
		pattern = "p = (n {id: $id})<-[%s*1..%d]-(m)"
	case "both":
		pattern = "p = (n {id: $id})-[%s*1..%d]-(m)"
	default:
		pattern = "p = (n {id: $id})-[%s*1..%d]->(m)"
	}

	relFilter := ""
	if len(edgeTypes) > 0 {
		safe := make([]string, 0, len(edgeTypes))
		for _, t := range edgeTypes {
			if isValidIdentifier(t) {
				safe = append(safe, t)
			}
		}
		if len(safe) > 0 {
			relFilter = ":" + strings.Join(safe, "|")
		}
	}

	q := fmt.Sprintf(`
		MATCH %s
		WITH m, relationships(p) as rels LIMIT $cap
		UNWIND rels AS rel
		WITH collect(DISTINCT m) as nodes,
		     collect(DISTINCT {type: type(rel), from: startNode(rel).id, to: endNode(rel).id, props: properties(rel)}) as edges
		RETURN nodes, edges`,
		fmt.Sprintf(pattern, relFilter, depth))

	res, err := b.exec(ctx, RoutingRead, q, map[string]any{"id": id, "cap": cap})
	if err != nil {
		return GraphResult{}, kgerrors.StorageFailure(err, "neighbors of %s", id)
	}
	if len(res.Records) == 0 {
		return GraphResult{}, nil
	}
	return graphResultFromRecords(res.Records), nil
}

func (b *Neo4jBackend) ListNodes(ctx context.Context, opts ListNodesOptions) (ListNodesResult, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	skip := (page - 1) * limit

	var labelFilter string
	if len(opts.Types) > 0 {
		labels := make([]string, 0, len(opts.Types))
		for _, t := range opts.Types {
			if isValidIdentifier(string(t)) {
				labels = append(labels, string(t))
			}
		}
		if len(labels) > 0 {
			labelFilter = ":" + strings.Join(labels, "|")
		}
	}

	where := []string{"true"}
	params := map[string]any{"skip": skip, "limit": limit}
	if opts.Query != "" {
		where = append(where, "(toLower(n.name) CONTAINS toLower($q) OR toLower(coalesce(n.filePath, n.path, '')) CONTAINS toLower($q))")
		params["q"] = opts.Query
	}
	if opts.RootPath != "" {
		where = append(where, "(n.filePath STARTS WITH $rootPath OR n.path STARTS WITH $rootPath)")
		params["rootPath"] = opts.RootPath
	}

	q := fmt.Sprintf(`
		MATCH (n%s) WHERE %s
		WITH n ORDER BY n.name
		SKIP $skip LIMIT $limit
		RETURN collect(n) as nodes`, labelFilter, strings.Join(where, " AND "))
	countQ := fmt.Sprintf(`MATCH (n%s) WHERE %s RETURN count(n) as total`, labelFilter, strings.Join(where, " AND "))

	res, err := b.exec(ctx, RoutingRead, q, params)
	if err != nil {
		return ListNodesResult{}, kgerrors.StorageFailure(err, "list nodes")
	}
	countRes, err := b.exec(ctx, RoutingRead, countQ, params)
	if err != nil {
		return ListNodesResult{}, kgerrors.StorageFailure(err, "count nodes")
	}

	var out ListNodesResult
	if len(res.Records) > 0 {
		if nodesRaw, ok := res.Records[0].Get("nodes"); ok {
			for _, v := range nodesRaw.([]any) {
				if n, ok := v.(neo4j.Node); ok {
					out.Nodes = append(out.Nodes, nodeFromNeo4j(n))
				}
			}
		}
	}
	if len(countRes.Records) > 0 {
		if t, ok := countRes.Records[0].Get("total"); ok {
			if c, ok := t.(int64); ok {
				out.Total = int(c)
			}
		}
	}
	return out, nil
}

func (b *Neo4jBackend) Search(ctx context.Context, q string, types []model.NodeLabel, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var labelFilter string
	if len(types) > 0 {
		labels := make([]string, 0, len(types))
		for _, t := range types {
			if isValidIdentifier(string(t)) {
				labels = append(labels, string(t))
			}
		}
		if len(labels) > 0 {
			labelFilter = ":" + strings.Join(labels, "|")
		}
	}
	cypher := fmt.Sprintf(`
		MATCH (n%s)
		WHERE toLower(n.name) CONTAINS toLower($q)
		RETURN n, labels(n) as labels,
		       CASE WHEN toLower(n.name) = toLower($q) THEN 1.0
		            WHEN toLower(n.name) STARTS WITH toLower($q) THEN 0.8
		            ELSE 0.5 END as score
		ORDER BY score DESC, n.name
		LIMIT $limit`, labelFilter)
	res, err := b.exec(ctx, RoutingRead, cypher, map[string]any{"q": q, "limit": limit})
	if err != nil {
		return nil, kgerrors.StorageFailure(err, "search %q", q)
	}
	out := make([]SearchResult, 0, len(res.Records))
	for _, rec := range res.Records {
		nRaw, _ := rec.Get("n")
		n, ok := nRaw.(neo4j.Node)
		if !ok {
			continue
		}
		score := 0.5
		if s, ok := rec.Get("score"); ok {
			if f, ok := s.(float64); ok {
				score = f
			}
		}
		out = append(out, SearchResult{
			ID:       stringProp(n.Props, "id"),
			Name:     stringProp(n.Props, "name"),
			Type:     primaryLabel(n.Labels),
			FilePath: stringProp(n.Props, "filePath"),
			Line:     int(int64Prop(n.Props, "startLine")),
			Score:    score,
		})
	}
	return out, nil
}

func (b *Neo4jBackend) Stats(ctx context.Context, rootPath string) (GraphStats, error) {
	var stats GraphStats
	stats.CountsByLabel = make(map[model.NodeLabel]int)

	const countQ = `MATCH (n) WHERE n:Function OR n:Class OR n:Interface OR n:Type OR n:Variable OR n:Component OR n:File
		RETURN labels(n) as labels, count(n) as c`
	res, err := b.exec(ctx, RoutingRead, countQ, nil)
	if err != nil {
		return stats, kgerrors.StorageFailure(err, "stats: count by label")
	}
	for _, rec := range res.Records {
		labelsRaw, _ := rec.Get("labels")
		c, _ := rec.Get("c")
		count, _ := c.(int64)
		if ls, ok := labelsRaw.([]any); ok {
			for _, l := range ls {
				if s, ok := l.(string); ok {
					stats.CountsByLabel[model.NodeLabel(s)] += int(count)
					stats.TotalNodes += int(count)
				}
			}
		}
	}

	const edgeQ = `MATCH ()-[r]->() RETURN count(r) as c`
	edgeRes, err := b.exec(ctx, RoutingRead, edgeQ, nil)
	if err != nil {
		return stats, kgerrors.StorageFailure(err, "stats: count edges")
	}
	if len(edgeRes.Records) > 0 {
		if c, ok := edgeRes.Records[0].Get("c"); ok {
			if n, ok := c.(int64); ok {
				stats.TotalEdges = int(n)
			}
		}
	}

	const topFilesQ = `
		MATCH (f:File)-[:CONTAINS]->(e)
		RETURN f.path as path, count(e) as c
		ORDER BY c DESC LIMIT 10`
	topFilesRes, err := b.exec(ctx, RoutingRead, topFilesQ, nil)
	if err == nil {
		for _, rec := range topFilesRes.Records {
			path, _ := rec.Get("path")
			c, _ := rec.Get("c")
			pathStr, _ := path.(string)
			count, _ := c.(int64)
			stats.TopFilesBySize = append(stats.TopFilesBySize, FileSize{Path: pathStr, EntityCount: int(count)})
		}
	}

	const topConnectedQ = `
		MATCH (n)-[r]-()
		WHERE n:Function OR n:Class OR n:Component
		RETURN n, count(r) as degree
		ORDER BY degree DESC LIMIT 10`
	topConnRes, err := b.exec(ctx, RoutingRead, topConnectedQ, nil)
	if err == nil {
		for _, rec := range topConnRes.Records {
			nRaw, _ := rec.Get("n")
			d, _ := rec.Get("degree")
			degree, _ := d.(int64)
			if n, ok := nRaw.(neo4j.Node); ok {
				stats.TopConnectedNodes = append(stats.TopConnectedNodes, ConnectedNode{
					ID: stringProp(n.Props, "id"), Name: stringProp(n.Props, "name"),
					Label: primaryLabel(n.Labels), DegreeCount: int(degree),
				})
			}
		}
	}

	return stats, nil
}

// ExecuteCypher runs a caller-supplied read-only query. Write clauses are
// rejected up front; this backend never grants ad hoc write access.
func (b *Neo4jBackend) ExecuteCypher(ctx context.Context, query string, params map[string]any) (CypherResult, error) {
	if containsWriteClause(query) {
		return CypherResult{}, kgerrors.Validation("executeCypher only accepts read-only queries")
	}
	// Caller-supplied Cypher is not a named operation, so this is the one
	// call site that defers to RoutingStrategy's default instead of a
	// hardcoded mode.
	res, err := b.exec(ctx, b.routing.DefaultMode, query, params)
	if err != nil {
		return CypherResult{}, kgerrors.StorageFailure(err, "execute cypher")
	}
	results := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		row := make(map[string]any, len(rec.Keys))
		for _, k := range rec.Keys {
			v, _ := rec.Get(k)
			row[k] = v
		}
		results = append(results, row)
	}
	return CypherResult{
		Results:  results,
		Metadata: map[string]any{"count": len(results)},
	}, nil
}

var writeClauses = []string{"CREATE ", "MERGE ", "DELETE ", "SET ", "REMOVE ", "DROP ", "DETACH "}

func containsWriteClause(query string) bool {
	upper := strings.ToUpper(query)
	for _, c := range writeClauses {
		if strings.Contains(upper, c) {
			return true
		}
	}
	return false
}

// --- Conversion helpers --------------------------------------------------

func nodeFromNeo4j(n neo4j.Node) model.Node {
	props := make(map[string]any, len(n.Props))
	id := ""
	for k, v := range n.Props {
		if k == "id" {
			id, _ = v.(string)
			continue
		}
		props[k] = v
	}
	return model.Node{Label: primaryLabel(n.Labels), ID: id, Properties: props}
}

// edgeFromMap parses the {type, from, to, props} map shape every edge
// query projects explicitly, since neo4j.Relationship exposes internal
// element IDs rather than our "id" property on each endpoint.
func edgeFromMap(raw any) (model.Edge, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return model.Edge{}, false
	}
	edgeType, _ := m["type"].(string)
	from, _ := m["from"].(string)
	to, _ := m["to"].(string)
	if edgeType == "" || from == "" || to == "" {
		return model.Edge{}, false
	}
	props := make(map[string]any)
	if p, ok := m["props"].(map[string]any); ok {
		props = p
	}
	return model.Edge{Label: model.EdgeLabel(edgeType), From: from, To: to, Properties: props}, true
}

func nodesAndEdgesFromRecord(rec *db.Record) GraphResult {
	var result GraphResult
	if nodesRaw, ok := rec.Get("nodes"); ok {
		if ns, ok := nodesRaw.([]any); ok {
			for _, v := range ns {
				if n, ok := v.(neo4j.Node); ok {
					result.Nodes = append(result.Nodes, nodeFromNeo4j(n))
				}
			}
		}
	}
	if edgesRaw, ok := rec.Get("edges"); ok {
		if es, ok := edgesRaw.([]any); ok {
			for _, v := range es {
				if e, ok := edgeFromMap(v); ok {
					result.Edges = append(result.Edges, e)
				}
			}
		}
	}
	return result
}

func primaryLabel(labels []string) model.NodeLabel {
	priority := map[string]int{
		"Project": 0, "File": 1, "Function": 2, "Class": 3,
		"Interface": 4, "Type": 5, "Variable": 6, "Component": 7,
	}
	best := ""
	bestRank := 99
	for _, l := range labels {
		if r, ok := priority[l]; ok && r < bestRank {
			best = l
			bestRank = r
		}
	}
	if best == "" && len(labels) > 0 {
		best = labels[0]
	}
	return model.NodeLabel(best)
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func int64Prop(props map[string]any, key string) int64 {
	if v, ok := props[key]; ok {
		if n, ok := v.(int64); ok {
			return n
		}
	}
	return 0
}

func dedupeGraphResult(g GraphResult) GraphResult {
	seenNodes := make(map[string]bool)
	var nodes []model.Node
	for _, n := range g.Nodes {
		if n.ID == "" || seenNodes[n.ID] {
			continue
		}
		seenNodes[n.ID] = true
		nodes = append(nodes, n)
	}
	seenEdges := make(map[string]bool)
	var edges []model.Edge
	for _, e := range g.Edges {
		key := string(e.Label) + "|" + e.From + "|" + e.To
		if seenEdges[key] {
			continue
		}
		seenEdges[key] = true
		edges = append(edges, e)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return GraphResult{Nodes: nodes, Edges: edges}
}

func graphResultFromRecords(records []*db.Record) GraphResult {
	var result GraphResult
	for _, rec := range records {
		r := nodesAndEdgesFromRecord(rec)
		result.Nodes = append(result.Nodes, r.Nodes...)
		result.Edges = append(result.Edges, r.Edges...)
	}
	return dedupeGraphResult(result)
}
