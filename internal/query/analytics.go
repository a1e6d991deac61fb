package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kgraph/kgraph/internal/graph"
	"github.com/kgraph/kgraph/internal/kgerrors"
	"github.com/kgraph/kgraph/internal/model"
)

// Analysis kinds the engine computes. The list must stay in step with
// config.KnownAnalysisKinds.
const (
	KindSummary     = "summary"
	KindSecurity    = "security"
	KindComplexity  = "complexity"
	KindRefactoring = "refactoring"
	KindDataflow    = "dataflow"
	KindImpact      = "impact"
)

// analyticsNodeLimit bounds the snapshot an analysis works from; the
// graph reads are scoped at the storage layer first.
const analyticsNodeLimit = 5000

const (
	complexityThreshold = 10
	cognitiveThreshold  = 15
	longFunctionLines   = 80
	maxParams           = 5
	topHotspots         = 20
	impactDepth         = 2
)

// Engine computes derived analytics from the graph, reading exclusively
// through the Backend.
type Engine struct {
	backend graph.Backend
	log     *logrus.Logger
}

// NewEngine builds an analytics engine over backend.
func NewEngine(backend graph.Backend, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{backend: backend, log: logger}
}

// Run computes one analysis kind over scope (a rootPath, a file path,
// or the impact target symbol).
func (e *Engine) Run(ctx context.Context, kind, scope string) (any, error) {
	switch kind {
	case KindSummary:
		return e.Summary(ctx, scope)
	case KindSecurity:
		return e.Security(ctx, scope)
	case KindComplexity:
		return e.Complexity(ctx, scope)
	case KindRefactoring:
		return e.Refactoring(ctx, scope)
	case KindDataflow:
		return e.Dataflow(ctx, scope)
	case KindImpact:
		return e.Impact(ctx, scope)
	default:
		return nil, kgerrors.Validation("unknown analysis kind: %s", kind)
	}
}

// Summary is the dashboard overview: graph totals plus one-line rollups
// of the heavier analyses.
type Summary struct {
	Scope          string                  `json:"scope,omitempty"`
	TotalNodes     int                     `json:"totalNodes"`
	TotalEdges     int                     `json:"totalEdges"`
	CountsByLabel  map[model.NodeLabel]int `json:"countsByLabel"`
	TopFiles       []graph.FileSize        `json:"topFiles"`
	TopConnected   []graph.ConnectedNode   `json:"topConnected"`
	HotspotCount   int                     `json:"hotspotCount"`
	FindingCount   int                     `json:"findingCount"`
	CandidateCount int                     `json:"candidateCount"`
}

func (e *Engine) Summary(ctx context.Context, scope string) (Summary, error) {
	stats, err := e.backend.Stats(ctx, scope)
	if err != nil {
		return Summary{}, err
	}
	snap, err := e.snapshot(ctx, scope)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Scope:          scope,
		TotalNodes:     stats.TotalNodes,
		TotalEdges:     stats.TotalEdges,
		CountsByLabel:  stats.CountsByLabel,
		TopFiles:       stats.TopFilesBySize,
		TopConnected:   stats.TopConnectedNodes,
		HotspotCount:   len(hotspotsFrom(snap)),
		FindingCount:   len(findingsFrom(snap)),
		CandidateCount: len(candidatesFrom(snap)),
	}, nil
}

// SecurityFinding is one rule hit.
type SecurityFinding struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	EntityID string `json:"entityId"`
	Name     string `json:"name"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line,omitempty"`
	Detail   string `json:"detail"`
}

// SecurityReport is the security analysis payload.
type SecurityReport struct {
	Scope    string            `json:"scope,omitempty"`
	Findings []SecurityFinding `json:"findings"`
}

// dangerousSinks are callee names that indicate dynamic code execution,
// shell access, or raw query construction when reached via a CALLS edge.
var dangerousSinks = map[string]string{
	"eval":           "dynamic code evaluation",
	"exec":           "process/code execution",
	"execSync":       "synchronous process execution",
	"spawn":          "child process spawn",
	"system":         "shell command execution",
	"popen":          "shell pipe execution",
	"query":          "raw query construction",
	"dangerouslySetInnerHTML": "unescaped HTML injection",
}

var credentialName = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|private[_-]?key)`)

func (e *Engine) Security(ctx context.Context, scope string) (SecurityReport, error) {
	snap, err := e.snapshot(ctx, scope)
	if err != nil {
		return SecurityReport{}, err
	}
	return SecurityReport{Scope: scope, Findings: findingsFrom(snap)}, nil
}

func findingsFrom(snap *snapshot) []SecurityFinding {
	var findings []SecurityFinding

	// Calls into known-dangerous targets.
	for _, edge := range snap.edgesByLabel[model.EdgeCalls] {
		calleeName := nameFromID(edge.To)
		detail, dangerous := dangerousSinks[calleeName]
		if !dangerous {
			continue
		}
		caller, ok := snap.nodesByID[edge.From]
		if !ok {
			continue
		}
		findings = append(findings, SecurityFinding{
			Rule:     "dangerous-call",
			Severity: "high",
			EntityID: caller.ID,
			Name:     propString(caller, "name"),
			FilePath: propString(caller, "filePath"),
			Line:     propInt(caller, "startLine"),
			Detail:   fmt.Sprintf("calls %s (%s)", calleeName, detail),
		})
	}

	// Credential-looking constant names.
	for _, n := range snap.nodesByLabel[model.LabelVariable] {
		name := propString(n, "name")
		if !credentialName.MatchString(name) {
			continue
		}
		findings = append(findings, SecurityFinding{
			Rule:     "credential-name",
			Severity: "medium",
			EntityID: n.ID,
			Name:     name,
			FilePath: propString(n, "filePath"),
			Line:     propInt(n, "line"),
			Detail:   "variable name suggests an embedded credential",
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].FilePath != findings[j].FilePath {
			return findings[i].FilePath < findings[j].FilePath
		}
		return findings[i].Line < findings[j].Line
	})
	return findings
}

// ComplexityHotspot is one function over the complexity thresholds.
type ComplexityHotspot struct {
	EntityID            string `json:"entityId"`
	Name                string `json:"name"`
	FilePath            string `json:"filePath"`
	StartLine           int    `json:"startLine"`
	Complexity          int    `json:"complexity"`
	CognitiveComplexity int    `json:"cognitiveComplexity"`
	NestingDepth        int    `json:"nestingDepth"`
}

// ComplexityReport is the complexity analysis payload.
type ComplexityReport struct {
	Scope     string              `json:"scope,omitempty"`
	Threshold int                 `json:"threshold"`
	Hotspots  []ComplexityHotspot `json:"hotspots"`
}

func (e *Engine) Complexity(ctx context.Context, scope string) (ComplexityReport, error) {
	snap, err := e.snapshot(ctx, scope)
	if err != nil {
		return ComplexityReport{}, err
	}
	return ComplexityReport{Scope: scope, Threshold: complexityThreshold, Hotspots: hotspotsFrom(snap)}, nil
}

func hotspotsFrom(snap *snapshot) []ComplexityHotspot {
	var hotspots []ComplexityHotspot
	for _, label := range []model.NodeLabel{model.LabelFunction, model.LabelComponent} {
		for _, n := range snap.nodesByLabel[label] {
			cyclomatic := propInt(n, "complexity")
			cognitive := propInt(n, "cognitiveComplexity")
			if cyclomatic < complexityThreshold && cognitive < cognitiveThreshold {
				continue
			}
			hotspots = append(hotspots, ComplexityHotspot{
				EntityID:            n.ID,
				Name:                propString(n, "name"),
				FilePath:            propString(n, "filePath"),
				StartLine:           propInt(n, "startLine"),
				Complexity:          cyclomatic,
				CognitiveComplexity: cognitive,
				NestingDepth:        propInt(n, "nestingDepth"),
			})
		}
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Complexity != hotspots[j].Complexity {
			return hotspots[i].Complexity > hotspots[j].Complexity
		}
		return hotspots[i].CognitiveComplexity > hotspots[j].CognitiveComplexity
	})
	if len(hotspots) > topHotspots {
		hotspots = hotspots[:topHotspots]
	}
	return hotspots
}

// RefactoringCandidate is one entity flagged for restructuring.
type RefactoringCandidate struct {
	EntityID string `json:"entityId"`
	Name     string `json:"name"`
	FilePath string `json:"filePath"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail"`
}

// RefactoringReport is the refactoring analysis payload.
type RefactoringReport struct {
	Scope      string                 `json:"scope,omitempty"`
	Candidates []RefactoringCandidate `json:"candidates"`
	// ImportCycles lists cyclic file-import chains; each cycle is the
	// file paths in traversal order.
	ImportCycles [][]string `json:"importCycles"`
}

func (e *Engine) Refactoring(ctx context.Context, scope string) (RefactoringReport, error) {
	snap, err := e.snapshot(ctx, scope)
	if err != nil {
		return RefactoringReport{}, err
	}
	return RefactoringReport{
		Scope:        scope,
		Candidates:   candidatesFrom(snap),
		ImportCycles: importCyclesFrom(snap),
	}, nil
}

func candidatesFrom(snap *snapshot) []RefactoringCandidate {
	var candidates []RefactoringCandidate

	for _, label := range []model.NodeLabel{model.LabelFunction, model.LabelComponent} {
		for _, n := range snap.nodesByLabel[label] {
			lines := propInt(n, "endLine") - propInt(n, "startLine") + 1
			if lines >= longFunctionLines {
				candidates = append(candidates, RefactoringCandidate{
					EntityID: n.ID,
					Name:     propString(n, "name"),
					FilePath: propString(n, "filePath"),
					Reason:   "long-function",
					Detail:   fmt.Sprintf("%d lines", lines),
				})
			}
			if params := propCount(n, "params"); params > maxParams {
				candidates = append(candidates, RefactoringCandidate{
					EntityID: n.ID,
					Name:     propString(n, "name"),
					FilePath: propString(n, "filePath"),
					Reason:   "many-parameters",
					Detail:   fmt.Sprintf("%d parameters", params),
				})
			}
		}
	}

	// Classes with a wide method surface.
	methodCount := make(map[string]int)
	for _, edge := range snap.edgesByLabel[model.EdgeHasMethod] {
		methodCount[edge.From]++
	}
	for id, count := range methodCount {
		if count <= 12 {
			continue
		}
		n, ok := snap.nodesByID[id]
		if !ok {
			continue
		}
		candidates = append(candidates, RefactoringCandidate{
			EntityID: id,
			Name:     propString(n, "name"),
			FilePath: propString(n, "filePath"),
			Reason:   "wide-class",
			Detail:   fmt.Sprintf("%d methods", count),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FilePath != candidates[j].FilePath {
			return candidates[i].FilePath < candidates[j].FilePath
		}
		return candidates[i].EntityID < candidates[j].EntityID
	})
	return candidates
}

// importCyclesFrom walks IMPORTS edges looking for cycles, reporting
// each once (deduplicated by its rotation starting at the
// lexicographically smallest member; the reported order starts where
// the cycle was detected).
func importCyclesFrom(snap *snapshot) [][]string {
	adj := make(map[string][]string)
	for _, edge := range snap.edgesByLabel[model.EdgeImports] {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	for _, targets := range adj {
		sort.Strings(targets)
	}

	var cycles [][]string
	seen := make(map[string]bool)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Found a back edge; slice the stack from next onward.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] != next {
						continue
					}
					cycle := append([]string(nil), stack[i:]...)
					key := canonicalCycle(cycle)
					if !seen[key] {
						seen[key] = true
						cycles = append(cycles, cyclePaths(cycle))
					}
					break
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	roots := make([]string, 0, len(adj))
	for node := range adj {
		roots = append(roots, node)
	}
	sort.Strings(roots)
	for _, node := range roots {
		if color[node] == white {
			visit(node)
		}
	}
	return cycles
}

func canonicalCycle(cycle []string) string {
	min := 0
	for i := range cycle {
		if cycle[i] < cycle[min] {
			min = i
		}
	}
	rotated := append(append([]string(nil), cycle[min:]...), cycle[:min]...)
	return strings.Join(rotated, "→")
}

func cyclePaths(cycle []string) []string {
	paths := make([]string, 0, len(cycle))
	for _, id := range cycle {
		paths = append(paths, strings.TrimPrefix(id, string(model.LabelFile)+":"))
	}
	return paths
}

// TaintFlow is one call chain from an input-shaped function to a
// dangerous sink.
type TaintFlow struct {
	SourceID string   `json:"sourceId"`
	SinkID   string   `json:"sinkId"`
	Path     []string `json:"path"`
}

// DataflowReport is the taint analysis payload. Resolution is
// name-level and best-effort.
type DataflowReport struct {
	Scope string      `json:"scope,omitempty"`
	Flows []TaintFlow `json:"flows"`
}

// taintSources are function-name fragments that suggest external input
// enters through them.
var taintSources = []string{"input", "request", "param", "query", "body", "argv", "stdin", "recv", "read"}

func (e *Engine) Dataflow(ctx context.Context, scope string) (DataflowReport, error) {
	snap, err := e.snapshot(ctx, scope)
	if err != nil {
		return DataflowReport{}, err
	}

	adj := make(map[string][]string)
	for _, edge := range snap.edgesByLabel[model.EdgeCalls] {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	for _, targets := range adj {
		sort.Strings(targets)
	}

	var sources []string
	for _, label := range []model.NodeLabel{model.LabelFunction, model.LabelComponent} {
		for _, n := range snap.nodesByLabel[label] {
			if isTaintSourceName(propString(n, "name")) {
				sources = append(sources, n.ID)
			}
		}
	}
	sort.Strings(sources)

	var flows []TaintFlow
	for _, src := range sources {
		// BFS from each source; record the first path reaching a sink.
		parent := map[string]string{src: ""}
		queue := []string{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if _, sink := dangerousSinks[nameFromID(cur)]; sink && cur != src {
				flows = append(flows, TaintFlow{SourceID: src, SinkID: cur, Path: pathTo(parent, cur)})
				continue
			}
			for _, next := range adj[cur] {
				if _, visited := parent[next]; visited {
					continue
				}
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return DataflowReport{Scope: scope, Flows: flows}, nil
}

func isTaintSourceName(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range taintSources {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func pathTo(parent map[string]string, node string) []string {
	var path []string
	for cur := node; cur != ""; cur = parent[cur] {
		path = append([]string{cur}, path...)
	}
	return path
}

// ImpactReport is the blast radius of a symbol: everything that
// transitively depends on it within impactDepth hops.
type ImpactReport struct {
	Symbol           string       `json:"symbol"`
	CenterID         string       `json:"centerId"`
	Depth            int          `json:"depth"`
	AffectedEntities []model.Node `json:"affectedEntities"`
	AffectedFiles    []string     `json:"affectedFiles"`
}

// Impact takes a structural ID, or a bare symbol name it resolves via
// search (ambiguous names are a validation error).
func (e *Engine) Impact(ctx context.Context, symbol string) (ImpactReport, error) {
	if strings.TrimSpace(symbol) == "" {
		return ImpactReport{}, kgerrors.Validation("impact analysis requires a symbol")
	}

	centerID := symbol
	if !strings.Contains(symbol, ":") {
		results, err := e.backend.Search(ctx, symbol, nil, 2)
		if err != nil {
			return ImpactReport{}, err
		}
		exact := results[:0]
		for _, r := range results {
			if r.Name == symbol {
				exact = append(exact, r)
			}
		}
		switch len(exact) {
		case 0:
			return ImpactReport{}, kgerrors.NotFound("symbol not found: %s", symbol)
		case 1:
			centerID = exact[0].ID
		default:
			return ImpactReport{}, kgerrors.Validation("symbol %q is ambiguous; pass a structural id", symbol)
		}
	}

	result, err := e.backend.Neighbors(ctx, centerID, "in", []string{
		string(model.EdgeCalls), string(model.EdgeImportsSymbol),
		string(model.EdgeExtends), string(model.EdgeImplements), string(model.EdgeUsesType),
	}, impactDepth)
	if err != nil {
		return ImpactReport{}, err
	}

	fileSet := make(map[string]bool)
	for _, n := range result.Nodes {
		if fp := propString(n, "filePath"); fp != "" {
			fileSet[fp] = true
		} else if n.Label == model.LabelFile {
			fileSet[propString(n, "path")] = true
		}
	}
	files := make([]string, 0, len(fileSet))
	for fp := range fileSet {
		files = append(files, fp)
	}
	sort.Strings(files)

	return ImpactReport{
		Symbol:           symbol,
		CenterID:         centerID,
		Depth:            impactDepth,
		AffectedEntities: result.Nodes,
		AffectedFiles:    files,
	}, nil
}

// --- snapshot helpers ----------------------------------------------------

// snapshot is one bounded, scoped read of the graph the in-memory
// analyses share.
type snapshot struct {
	nodesByID    map[string]model.Node
	nodesByLabel map[model.NodeLabel][]model.Node
	edgesByLabel map[model.EdgeLabel][]model.Edge
}

func (e *Engine) snapshot(ctx context.Context, scope string) (*snapshot, error) {
	result, err := e.backend.FullGraph(ctx, analyticsNodeLimit, scope)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		nodesByID:    make(map[string]model.Node, len(result.Nodes)),
		nodesByLabel: make(map[model.NodeLabel][]model.Node),
		edgesByLabel: make(map[model.EdgeLabel][]model.Edge),
	}
	for _, n := range result.Nodes {
		snap.nodesByID[n.ID] = n
		snap.nodesByLabel[n.Label] = append(snap.nodesByLabel[n.Label], n)
	}
	for _, edge := range result.Edges {
		snap.edgesByLabel[edge.Label] = append(snap.edgesByLabel[edge.Label], edge)
	}
	return snap, nil
}

func propString(n model.Node, key string) string {
	if v, ok := n.Properties[key].(string); ok {
		return v
	}
	return ""
}

// propInt tolerates the integer widths different result decoders
// produce.
func propInt(n model.Node, key string) int {
	switch v := n.Properties[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// propCount reports the length of a list-valued property under either
// decoding shape.
func propCount(n model.Node, key string) int {
	switch v := n.Properties[key].(type) {
	case []any:
		return len(v)
	case []map[string]any:
		return len(v)
	}
	return 0
}

// nameFromID pulls the <name> component out of a structural ID
// (<Label>:<filePath>:<name>:<line> or <Label>:external:<name>).
func nameFromID(id string) string {
	parts := strings.Split(id, ":")
	if len(parts) == 3 && parts[1] == model.ExternalSentinelPrefix {
		return parts[2]
	}
	if len(parts) >= 4 {
		return parts[len(parts)-2]
	}
	return ""
}
