package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pipeline stages, reported in order through ProgressFunc.
const (
	StageParsing     = "parsing"
	StageSummarizing = "summarizing"
	StageEmbedding   = "embedding"
	StageGraphing    = "graphing"
	StageStoring     = "storing"
	StageProjecting  = "projecting"
	StageComplete    = "complete"
	StageError       = "error"
)

// Progress is one pipeline status update. Percent runs 0-100 across the
// whole pipeline, not per stage.
type Progress struct {
	Stage   string
	Percent int
	Message string
	Err     error
}

// ProgressFunc receives pipeline status updates.
type ProgressFunc func(Progress)

// StoredNode is a persisted graph node as read back from storage: the
// enrichment fields plus the storage-assigned id and optional layout.
type StoredNode struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Title          string            `json:"title"`
	Summary        string            `json:"summary"`
	Timestamp      time.Time         `json:"timestamp"`
	MessageCount   int               `json:"message_count"`
	LearningType   string            `json:"learning_type"`
	Confidence     float64           `json:"confidence"`
	Entities       ExtractedEntities `json:"entities"`
	KeyLearnings   []string          `json:"key_learnings,omitempty"`
	Questions      []string          `json:"questions,omitempty"`
	X              *float64          `json:"x,omitempty"`
	Y              *float64          `json:"y,omitempty"`
	Z              *float64          `json:"z,omitempty"`
}

// RecomputeRun records one edge-recompute pass for an owner.
type RecomputeRun struct {
	NodeCount int
	EdgeCount int
	RanAt     time.Time
}

// GraphStore is the persistence boundary for a user's graph. All operations
// are scoped to a single owner; a full import replaces the owner's graph
// wholesale via DeleteGraph followed by the inserts.
type GraphStore interface {
	// DeleteGraph removes the owner's nodes and edges.
	DeleteGraph(ctx context.Context, owner uuid.UUID) error

	// InsertNodes persists enriched nodes and returns the mapping from
	// conversation id to the storage-assigned node id.
	InsertNodes(ctx context.Context, owner uuid.UUID, nodes []EnrichedNode) (map[string]uuid.UUID, error)

	// InsertEdges persists edges whose endpoints are storage node ids.
	InsertEdges(ctx context.Context, owner uuid.UUID, edges []GraphEdge) error

	// DeleteEdges removes the owner's edges, leaving nodes intact.
	DeleteEdges(ctx context.Context, owner uuid.UUID) error

	// FetchEmbeddings returns the owner's nodes as (storage id, embedding)
	// pairs for graph recomputation.
	FetchEmbeddings(ctx context.Context, owner uuid.UUID) ([]GraphNode, error)

	// FetchGraph returns the owner's full stored graph.
	FetchGraph(ctx context.Context, owner uuid.UUID) ([]StoredNode, []GraphEdge, error)

	// UpdateLayout writes projected coordinates onto existing nodes.
	UpdateLayout(ctx context.Context, owner uuid.UUID, coords []Coordinate) error

	// LastRecompute returns the owner's most recent recompute run, or nil
	// when none is recorded.
	LastRecompute(ctx context.Context, owner uuid.UUID) (*RecomputeRun, error)

	// RecordRecompute appends a recompute run for the owner.
	RecordRecompute(ctx context.Context, owner uuid.UUID, run RecomputeRun) error
}

// Pipeline wires parsing, enrichment, graph construction, persistence and
// optional projection into one import run.
type Pipeline struct {
	Enricher Enricher
	Store    GraphStore

	// Projector, when set, computes a layout after storing. Projection
	// failures are reported but never fail the run.
	Projector Projector

	// K and Threshold configure graph construction (zero means default).
	K         int
	Threshold float64

	// ParseStrategy selects the thread-linearization strategy (empty means
	// first-child).
	ParseStrategy TraversalStrategy

	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// Result summarizes a completed pipeline run.
type Result struct {
	ConversationsParsed int
	NodesStored         int
	EdgesStored         int
	Projected           bool
}

// Run executes the full import for one owner: parse the raw export, enrich,
// build the kNN graph, replace the owner's stored graph, then optionally
// project a layout. The owner's previous graph is only deleted once
// enrichment has produced at least one node.
func (p Pipeline) Run(ctx context.Context, owner uuid.UUID, raw []RawConversation, onProgress ProgressFunc) (Result, error) {
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	report := func(stage string, percent int, msg string) {
		if onProgress != nil {
			onProgress(Progress{Stage: stage, Percent: percent, Message: msg})
		}
	}
	fail := func(stage string, err error) (Result, error) {
		if onProgress != nil {
			onProgress(Progress{Stage: StageError, Message: err.Error(), Err: err})
		}
		return Result{}, fmt.Errorf("Pipeline.Run: %s: %w", stage, err)
	}

	report(StageParsing, 0, fmt.Sprintf("parsing %d conversations", len(raw)))
	convs := ParseConversations(raw, ParseOptions{Strategy: p.ParseStrategy, Log: log})
	if len(convs) == 0 {
		return fail(StageParsing, fmt.Errorf("no conversations with messages in export"))
	}
	report(StageParsing, 10, fmt.Sprintf("parsed %d conversations", len(convs)))

	nodes, err := p.Enricher.EnrichAll(ctx, convs, func(done, total int) {
		report(StageSummarizing, 10+done*50/total, fmt.Sprintf("enriched %d of %d", done, total))
	})
	if err != nil {
		return fail(StageSummarizing, err)
	}
	if len(nodes) == 0 {
		return fail(StageEmbedding, fmt.Errorf("all %d conversations failed enrichment", len(convs)))
	}
	report(StageEmbedding, 60, fmt.Sprintf("embedded %d conversations", len(nodes)))

	report(StageGraphing, 60, "building similarity graph")
	graphNodes := make([]GraphNode, len(nodes))
	for i, n := range nodes {
		graphNodes[i] = GraphNode{ID: n.ConversationID, Embedding: n.Embedding}
	}
	edges, err := BuildGraph(graphNodes, GraphOptions{K: p.K, Threshold: thresholdOpt(p.Threshold)})
	if err != nil {
		return fail(StageGraphing, err)
	}
	report(StageGraphing, 75, fmt.Sprintf("built %d edges", len(edges)))

	report(StageStoring, 75, "replacing stored graph")
	if err := p.Store.DeleteGraph(ctx, owner); err != nil {
		return fail(StageStoring, err)
	}
	idMap, err := p.Store.InsertNodes(ctx, owner, nodes)
	if err != nil {
		return fail(StageStoring, err)
	}
	stored := translateEdges(edges, idMap, log)
	if err := p.Store.InsertEdges(ctx, owner, stored); err != nil {
		return fail(StageStoring, err)
	}
	if err := p.Store.RecordRecompute(ctx, owner, RecomputeRun{
		NodeCount: len(idMap),
		EdgeCount: len(stored),
		RanAt:     time.Now().UTC(),
	}); err != nil {
		return fail(StageStoring, err)
	}
	report(StageStoring, 90, fmt.Sprintf("stored %d of %d nodes, %d edges", len(idMap), len(nodes), len(stored)))

	result := Result{
		ConversationsParsed: len(convs),
		NodesStored:         len(idMap),
		EdgesStored:         len(stored),
	}

	if p.Projector != nil {
		report(StageProjecting, 90, "projecting layout")
		if err := p.project(ctx, owner, graphNodes, idMap); err != nil {
			log.WithError(err).Warn("layout projection failed, graph stored without coordinates")
			report(StageProjecting, 95, "projection failed, continuing without layout")
		} else {
			result.Projected = true
		}
	}

	report(StageComplete, 100, fmt.Sprintf("stored %d nodes and %d edges", result.NodesStored, result.EdgesStored))
	return result, nil
}

func (p Pipeline) project(ctx context.Context, owner uuid.UUID, nodes []GraphNode, idMap map[string]uuid.UUID) error {
	coords, err := p.Projector.Project(ctx, nodes)
	if err != nil {
		return fmt.Errorf("project: %w", err)
	}
	translated := make([]Coordinate, 0, len(coords))
	for _, c := range coords {
		id, ok := idMap[c.ID]
		if !ok {
			continue
		}
		c.ID = id.String()
		translated = append(translated, c)
	}
	if err := p.Store.UpdateLayout(ctx, owner, translated); err != nil {
		return fmt.Errorf("project: update layout: %w", err)
	}
	return nil
}

// translateEdges maps conversation-id endpoints onto storage ids, dropping
// any edge whose endpoint was not stored.
func translateEdges(edges []GraphEdge, idMap map[string]uuid.UUID, log logrus.FieldLogger) []GraphEdge {
	out := make([]GraphEdge, 0, len(edges))
	dropped := 0
	for _, e := range edges {
		src, okSrc := idMap[e.SourceID]
		dst, okDst := idMap[e.TargetID]
		if !okSrc || !okDst {
			dropped++
			continue
		}
		out = append(out, GraphEdge{SourceID: src.String(), TargetID: dst.String(), Weight: e.Weight})
	}
	if dropped > 0 && log != nil {
		log.WithField("dropped", dropped).Warn("dropped edges with unmapped endpoints")
	}
	return out
}

// thresholdOpt translates a flag-style threshold, where zero means default,
// into the pointer form GraphOptions takes.
func thresholdOpt(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// RecomputeOptions controls RecomputeEdges.
type RecomputeOptions struct {
	// K and Threshold configure graph construction (zero means default).
	K         int
	Threshold float64

	// GrowthFactor is the minimum node-count growth since the last recorded
	// run before a recompute proceeds (defaults to 1.2, i.e. 20% growth).
	// Force bypasses the gate.
	GrowthFactor float64
	Force        bool
}

// RecomputeResult reports what a recompute pass did.
type RecomputeResult struct {
	Skipped   bool
	NodeCount int
	EdgeCount int
}

// RecomputeEdges rebuilds the owner's edge set from stored embeddings. Unless
// forced, it is gated on the node count having grown at least GrowthFactor
// times since the last recorded run, so repeated invocations on an unchanged
// graph are cheap no-ops.
func (p Pipeline) RecomputeEdges(ctx context.Context, owner uuid.UUID, opts RecomputeOptions) (RecomputeResult, error) {
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	growth := opts.GrowthFactor
	if growth <= 0 {
		growth = 1.2
	}

	nodes, err := p.Store.FetchEmbeddings(ctx, owner)
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("RecomputeEdges: fetch embeddings: %w", err)
	}
	if len(nodes) == 0 {
		return RecomputeResult{Skipped: true}, nil
	}

	if !opts.Force {
		last, err := p.Store.LastRecompute(ctx, owner)
		if err != nil {
			return RecomputeResult{}, fmt.Errorf("RecomputeEdges: last recompute: %w", err)
		}
		if last != nil && float64(len(nodes)) < float64(last.NodeCount)*growth {
			log.WithFields(logrus.Fields{
				"nodes":      len(nodes),
				"last_nodes": last.NodeCount,
			}).Info("skipping recompute, node count below growth gate")
			return RecomputeResult{Skipped: true, NodeCount: len(nodes)}, nil
		}
	}

	edges, err := BuildGraph(nodes, GraphOptions{K: opts.K, Threshold: thresholdOpt(opts.Threshold)})
	if err != nil {
		return RecomputeResult{}, fmt.Errorf("RecomputeEdges: %w", err)
	}

	if err := p.Store.DeleteEdges(ctx, owner); err != nil {
		return RecomputeResult{}, fmt.Errorf("RecomputeEdges: delete edges: %w", err)
	}
	if err := p.Store.InsertEdges(ctx, owner, edges); err != nil {
		return RecomputeResult{}, fmt.Errorf("RecomputeEdges: insert edges: %w", err)
	}
	if err := p.Store.RecordRecompute(ctx, owner, RecomputeRun{
		NodeCount: len(nodes),
		EdgeCount: len(edges),
		RanAt:     time.Now().UTC(),
	}); err != nil {
		return RecomputeResult{}, fmt.Errorf("RecomputeEdges: record run: %w", err)
	}

	return RecomputeResult{NodeCount: len(nodes), EdgeCount: len(edges)}, nil
}
