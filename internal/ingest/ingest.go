// Package ingest implements the ingestion orchestrator: it drives scan,
// parse, resolve, and graph writes in sequence to turn a project root
// directory, or a single changed file, into graph state.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kgraph/kgraph/internal/change"
	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/lang"
	"github.com/kgraph/kgraph/internal/model"
	"github.com/kgraph/kgraph/internal/resolve"
	"github.com/kgraph/kgraph/internal/scan"
)

// Status is the coarse outcome of one ingest run.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Options tunes one IngestProject call. IngestFile has no Options
// parameter of its own; it reuses whatever Options the most recent
// IngestProject call for its containing root used.
type Options struct {
	IgnoreGlobs      []string
	DeepAnalysis     bool
	IncludeExternals bool
}

// Stats reports one ingest run's effect. Entities includes the File node
// itself; Edges includes CONTAINS edges.
type Stats struct {
	Files      int
	Entities   int
	Edges      int
	DurationMs int64
}

// ParseResult is ingestProject/ingestFile's return shape. Errors holds
// non-fatal per-file failure messages; their presence does not flip
// Status to StatusError — only a missing/non-directory rootPath or a
// fatal storage error does that.
type ParseResult struct {
	Status Status
	Stats  Stats
	Errors []string
}

// Config tunes the concurrent parse step.
type Config struct {
	Workers int
	Timeout time.Duration
}

// DefaultConfig is 20 workers with a 30s per-file parse timeout.
func DefaultConfig() Config {
	return Config{Workers: 20, Timeout: 30 * time.Second}
}

// projectState is the in-process, per-root working set an orchestrator
// keeps alive across calls: the registered project row, the symbol
// registry pass 1/2 resolve against, and the options the root was last
// ingested with (IngestFile has no Options of its own and reuses these).
//
// The registry survives across calls so single-file ingests can resolve
// cross-file references without rehydrating symbols from stored graph
// nodes: the first IngestProject call for a root always parses its
// entire file set (an empty stored-hash set classifies every file
// Added) and so fully populates the registry as a side effect.
// IngestFile assumes this has already happened — the watcher only ever
// starts after an initial project ingest — and returns a validation
// error for a path outside any known root.
type projectState struct {
	project  model.Project
	registry *resolve.Registry
	opts     Options
}

// Orchestrator owns one resolve.Registry and one lang.Registry
// for the process's lifetime, and drives every ingest through
// graph.Backend.
type Orchestrator struct {
	backend graph.Backend
	langs   *lang.Registry
	config  Config
	logger  *logrus.Logger

	mu     sync.Mutex
	states map[string]*projectState
}

// NewOrchestrator builds an Orchestrator bound to backend.
func NewOrchestrator(backend graph.Backend, config Config) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		langs:   lang.NewRegistry(),
		config:  config,
		logger:  logrus.New(),
		states:  make(map[string]*projectState),
	}
}

// parsedFile is one file's parse output plus its File node metadata,
// threaded between the parallel parse step and pass 1/2 resolution.
type parsedFile struct {
	file     model.File
	entities lang.ExtractedEntities
}

type parseJob struct {
	path string
	hash string
}

type parseOutcome struct {
	job  parseJob
	file parsedFile
	err  error
}

// IngestProject ingests rootPath: verify it is a directory, load the
// stored file-hash set, diff, parse changed files, delete removed files'
// entities, run both resolver passes, write each file's batch, and
// upsert the Project row.
func (o *Orchestrator) IngestProject(ctx context.Context, rootPath string, opts Options) (ParseResult, error) {
	start := time.Now()

	// Held for the whole run so a cascading project delete cannot
	// interleave with this ingest's file-atomic writes.
	pl := o.backend.ProjectLock()
	pl.RLock()
	defer pl.RUnlock()

	// Step 1: verify rootPath is a directory.
	info, err := os.Stat(rootPath)
	if err != nil {
		return ParseResult{Status: StatusError}, kgerrors.Validation("rootPath %q: %v", rootPath, err)
	}
	if !info.IsDir() {
		return ParseResult{Status: StatusError}, kgerrors.Validation("rootPath %q is not a directory", rootPath)
	}
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		absRoot = rootPath
	}

	project, err := o.existingOrNewProject(ctx, absRoot)
	if err != nil {
		return ParseResult{Status: StatusError}, err
	}

	registry := o.registryFor(absRoot)

	o.logger.WithFields(logrus.Fields{"rootPath": absRoot, "projectId": project.ID}).Info("ingest: starting project run")

	// Step 2: load stored-files hash set (empty for a brand-new project).
	storedFiles, err := o.loadStoredFiles(ctx, absRoot)
	if err != nil {
		return ParseResult{Status: StatusError}, kgerrors.StorageFailure(err, "load stored files for %s", absRoot)
	}

	// Step 3: diff filesystem state against the stored hashes.
	changeOpts := change.Options{
		Options:       scan.Options{IgnoreGlobs: opts.IgnoreGlobs},
		DetectRenames: true,
	}
	summary, warnings, err := change.Detect(absRoot, storedFiles, changeOpts)
	if err != nil {
		return ParseResult{Status: StatusError}, kgerrors.StorageFailure(err, "scan %s", absRoot)
	}

	var errMsgs []string
	for _, w := range warnings {
		errMsgs = append(errMsgs, fmt.Sprintf("scan %s: %v", w.Path, w.Err))
	}

	// Classify: added/modified/renamed need parsing; deleted (and a
	// rename's old path) need entity removal. A rename's structural IDs
	// are keyed on file path, so even though Detect only infers a rename
	// when the content hash is unchanged, reusing the "previous parse"
	// verbatim would still require rewriting every entity ID's embedded
	// path — cheaper and just as correct to treat a rename as a delete of
	// the old path plus a fresh parse of the new one.
	var jobs []parseJob
	var deletedPaths []string
	for _, c := range summary.Changes {
		switch c.Type {
		case change.Added, change.Modified:
			jobs = append(jobs, parseJob{path: c.Path, hash: c.Hash})
		case change.Renamed:
			jobs = append(jobs, parseJob{path: c.NewPath, hash: c.Hash})
			deletedPaths = append(deletedPaths, c.OldPath)
		case change.Deleted:
			deletedPaths = append(deletedPaths, c.Path)
		}
	}

	// Step 5: deletions.
	for _, p := range deletedPaths {
		if err := o.backend.DeleteFileEntities(ctx, p); err != nil {
			errMsgs = append(errMsgs, fmt.Sprintf("delete %s: %v", p, err))
		}
		registry.ResetFile(p)
	}

	// Step 4: parse every added/modified/renamed file concurrently.
	outcomes := o.parseFilesParallel(ctx, jobs, opts.DeepAnalysis)
	var parsed []parsedFile
	failed := 0
	for _, oc := range outcomes {
		if oc.err != nil {
			failed++
			errMsgs = append(errMsgs, fmt.Sprintf("parse %s: %v", oc.job.path, oc.err))
			continue
		}
		parsed = append(parsed, oc.file)
	}

	// Step 6: resolver pass 1, over every parsed file.
	for _, pf := range parsed {
		registry.ResetFile(pf.file.Path)
		registry.Register(pf.file.Path, pf.entities)
	}

	// Steps 7-8: resolver pass 2 plus write, per file. Distinct files write
	// concurrently; the backend serializes same-path writes itself.
	entityTotal := 0
	edgeTotal := 0
	successful := 0
	var writeMu sync.Mutex
	writeWorkers := o.config.Workers
	if writeWorkers <= 0 {
		writeWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeWorkers)
	for _, pf := range parsed {
		g.Go(func() error {
			edges := o.resolveEdges(registry, pf.entities, opts.IncludeExternals)
			gpf := entitiesToParsedFile(pf, edges)

			bstats, err := o.backend.BatchUpsert(gctx, gpf)

			writeMu.Lock()
			defer writeMu.Unlock()
			if err != nil {
				failed++
				errMsgs = append(errMsgs, fmt.Sprintf("write %s: %v", pf.file.Path, err))
				registry.ResetFile(pf.file.Path)
				return nil
			}
			if err := o.backend.LinkProjectFile(gctx, project.ID, pf.file.Path); err != nil {
				errMsgs = append(errMsgs, fmt.Sprintf("link %s: %v", pf.file.Path, err))
			}
			successful++
			entityTotal += bstats.EntitiesUpserted + 1
			edgeTotal += bstats.EdgesUpserted + len(gpf.Nodes())
			return nil
		})
	}
	g.Wait()

	// Step 9: upsert Project with lastParsed/fileCount.
	project.LastParsed = time.Now().Unix()
	project.FileCount = successful
	if err := o.backend.UpsertProject(ctx, project); err != nil {
		return ParseResult{Status: StatusError}, kgerrors.FatalWrap(err, "upsert project %s", absRoot)
	}

	o.mu.Lock()
	o.states[absRoot] = &projectState{project: project, registry: registry, opts: opts}
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"rootPath": absRoot, "files": successful, "failed": failed,
		"durationMs": time.Since(start).Milliseconds(),
	}).Info("ingest: project run complete")

	return ParseResult{
		Status: StatusOK,
		Stats: Stats{
			Files:      successful,
			Entities:   entityTotal,
			Edges:      edgeTotal,
			DurationMs: time.Since(start).Milliseconds(),
		},
		Errors: errMsgs,
	}, nil
}

// IngestFile is the watcher-facing single-file variant: it skips steps
// 2, 3, 5, and 9 of ingestProject, re-resolving the file's edges against
// the root's existing registry snapshot.
func (o *Orchestrator) IngestFile(ctx context.Context, path string) (ParseResult, error) {
	start := time.Now()

	pl := o.backend.ProjectLock()
	pl.RLock()
	defer pl.RUnlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	root, st, ok := o.stateFor(absPath)
	if !ok {
		return ParseResult{Status: StatusError}, kgerrors.Validation("no ingested project contains %s; run ingestProject first", absPath)
	}
	o.logger.WithFields(logrus.Fields{"path": absPath, "rootPath": root}).Info("ingest: single-file run")

	hash, err := scan.HashFile(absPath)
	if err != nil {
		return ParseResult{Status: StatusError}, kgerrors.ParseFailure(err, "hash %s", absPath)
	}

	outcomes := o.parseFilesParallel(ctx, []parseJob{{path: absPath, hash: hash}}, st.opts.DeepAnalysis)
	oc := outcomes[0]
	if oc.err != nil {
		return ParseResult{Status: StatusError, Errors: []string{oc.err.Error()}}, nil
	}

	st.registry.ResetFile(absPath)
	st.registry.Register(absPath, oc.file.entities)

	edges := o.resolveEdges(st.registry, oc.file.entities, st.opts.IncludeExternals)
	gpf := entitiesToParsedFile(oc.file, edges)

	bstats, err := o.backend.BatchUpsert(ctx, gpf)
	if err != nil {
		st.registry.ResetFile(absPath)
		return ParseResult{Status: StatusError}, kgerrors.StorageFailure(err, "write %s", absPath)
	}
	if err := o.backend.LinkProjectFile(ctx, st.project.ID, absPath); err != nil {
		return ParseResult{Status: StatusError}, kgerrors.StorageFailure(err, "link %s", absPath)
	}

	return ParseResult{
		Status: StatusOK,
		Stats: Stats{
			Files:      1,
			Entities:   bstats.EntitiesUpserted + 1,
			Edges:      bstats.EdgesUpserted + len(gpf.Nodes()),
			DurationMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

// RemoveFile is the watcher-facing unlink handler: it deletes path's
// entities from the graph and drops its symbols from the root's
// registry, so a later cross-file resolve never dangles onto a file that
// no longer exists.
func (o *Orchestrator) RemoveFile(ctx context.Context, path string) error {
	pl := o.backend.ProjectLock()
	pl.RLock()
	defer pl.RUnlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if err := o.backend.DeleteFileEntities(ctx, absPath); err != nil {
		return err
	}
	if _, st, ok := o.stateFor(absPath); ok {
		st.registry.ResetFile(absPath)
	}
	return nil
}

func (o *Orchestrator) existingOrNewProject(ctx context.Context, absRoot string) (model.Project, error) {
	proj, found, err := o.backend.GetProjectByRoot(ctx, absRoot)
	if err != nil {
		return model.Project{}, kgerrors.StorageFailure(err, "look up project %s", absRoot)
	}
	if found {
		return proj, nil
	}
	return model.Project{
		ID:        uuid.NewString(),
		Name:      filepath.Base(absRoot),
		RootPath:  absRoot,
		CreatedAt: time.Now().Unix(),
	}, nil
}

func (o *Orchestrator) registryFor(absRoot string) *resolve.Registry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[absRoot]; ok {
		return st.registry
	}
	return resolve.NewRegistry()
}

func (o *Orchestrator) stateFor(absPath string) (string, *projectState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var bestRoot string
	var best *projectState
	for root, st := range o.states {
		if absPath == root || strings.HasPrefix(absPath, root+string(filepath.Separator)) {
			if len(root) > len(bestRoot) {
				bestRoot, best = root, st
			}
		}
	}
	return bestRoot, best, best != nil
}

// loadStoredFiles pages through every File node already attached to
// rootPath, producing the hash set the change detector diffs against.
func (o *Orchestrator) loadStoredFiles(ctx context.Context, rootPath string) ([]change.StoredFile, error) {
	var out []change.StoredFile
	page := 1
	const limit = 100
	for {
		res, err := o.backend.ListNodes(ctx, graph.ListNodesOptions{
			Page: page, Limit: limit, Types: []model.NodeLabel{model.LabelFile}, RootPath: rootPath,
		})
		if err != nil {
			return nil, err
		}
		for _, n := range res.Nodes {
			path, _ := n.Properties["path"].(string)
			hash, _ := n.Properties["hash"].(string)
			if path == "" {
				continue
			}
			out = append(out, change.StoredFile{Path: path, Hash: hash})
		}
		if len(res.Nodes) < limit {
			break
		}
		page++
	}
	return out, nil
}

// parseFilesParallel runs parse jobs on a fixed worker count draining a
// job channel, each item bounded by its own context.WithTimeout, feeding
// a single outcome channel the caller drains after close.
func (o *Orchestrator) parseFilesParallel(ctx context.Context, jobs []parseJob, deepAnalysis bool) []parseOutcome {
	if len(jobs) == 0 {
		return nil
	}

	jobCh := make(chan parseJob, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	outCh := make(chan parseOutcome, len(jobs))
	workers := o.config.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				parseCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
				pf, err := o.parseOneFile(parseCtx, j.path, j.hash, deepAnalysis)
				cancel()
				outCh <- parseOutcome{job: j, file: pf, err: err}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outCh)
	}()

	outcomes := make([]parseOutcome, 0, len(jobs))
	for oc := range outCh {
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

func (o *Orchestrator) parseOneFile(ctx context.Context, absolutePath, hash string, deepAnalysis bool) (parsedFile, error) {
	if err := ctx.Err(); err != nil {
		return parsedFile{}, err
	}

	content, err := os.ReadFile(absolutePath)
	if err != nil {
		return parsedFile{}, kgerrors.ParseFailure(err, "read %s", absolutePath)
	}

	ext := filepath.Ext(absolutePath)
	plugin, err := o.langs.PluginFor(ext)
	if err != nil {
		return parsedFile{}, kgerrors.ParseFailure(err, "unsupported file %s", absolutePath)
	}

	entities, err := plugin.Parse(absolutePath, content, deepAnalysis)
	if err != nil {
		return parsedFile{}, kgerrors.ParseFailure(err, "parse %s", absolutePath)
	}

	var lastModified int64
	if info, statErr := os.Stat(absolutePath); statErr == nil {
		lastModified = info.ModTime().Unix()
	}

	f := model.File{
		Path:         absolutePath,
		Name:         filepath.Base(absolutePath),
		Extension:    ext,
		LOC:          countLines(content),
		LastModified: lastModified,
		Hash:         hash,
		IsTest:       isTestPath(absolutePath),
	}
	return parsedFile{file: f, entities: entities}, nil
}

// resolveEdges runs resolver pass 2 over every unresolved edge kind
// internal/lang produces, mapping each to its edge label and
// external-sentinel target label.
func (o *Orchestrator) resolveEdges(registry *resolve.Registry, entities lang.ExtractedEntities, includeExternals bool) []model.Edge {
	var edges []model.Edge
	edges = append(edges, edgesFromResolved(registry.Resolve(entities.UnresolvedCallEdges, model.LabelFunction, includeExternals), model.EdgeCalls)...)
	edges = append(edges, edgesFromResolved(registry.Resolve(entities.UnresolvedExtendsEdges, model.LabelClass, includeExternals), model.EdgeExtends)...)
	edges = append(edges, edgesFromResolved(registry.Resolve(entities.UnresolvedImplementsEdges, model.LabelInterface, includeExternals), model.EdgeImplements)...)
	edges = append(edges, edgesFromResolved(registry.Resolve(entities.UnresolvedRendersEdges, model.LabelComponent, includeExternals), model.EdgeRenders)...)
	return edges
}

func edgesFromResolved(resolved []resolve.ResolvedEdge, label model.EdgeLabel) []model.Edge {
	var out []model.Edge
	for _, r := range resolved {
		if r.Dropped || r.TargetID == "" {
			continue
		}
		out = append(out, model.Edge{Label: label, From: r.SourceID, To: r.TargetID})
	}
	return out
}

func entitiesToParsedFile(pf parsedFile, edges []model.Edge) graph.ParsedFileEntities {
	return graph.ParsedFileEntities{
		File:       pf.file,
		Functions:  pf.entities.Functions,
		Classes:    pf.entities.Classes,
		Interfaces: pf.entities.Interfaces,
		Types:      pf.entities.Types,
		Variables:  pf.entities.Variables,
		Components: pf.entities.Components,
		Imports:    pf.entities.Imports,
		Edges:      edges,
	}
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}
	return n
}

// isTestPath applies the same test-file heuristics scan.DefaultIgnoreGlobs
// encodes, for the File.IsTest enrichment flag; this only matters for a
// caller-overridden ignore-glob set that stops excluding test files
// outright, since DefaultIgnoreGlobs already keeps them out of a scan.
func isTestPath(path string) bool {
	base := filepath.Base(path)
	if strings.Contains(base, "_test.") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
		return true
	}
	sep := string(filepath.Separator)
	for _, dir := range []string{"__tests__", "test", "tests"} {
		if strings.Contains(path, sep+dir+sep) {
			return true
		}
	}
	return false
}
