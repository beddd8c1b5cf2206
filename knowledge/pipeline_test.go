package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	ops []string

	nodes      map[string]uuid.UUID
	edges      []GraphEdge
	layout     []Coordinate
	embeddings []GraphNode
	runs       []RecomputeRun

	insertNodeIDs map[string]uuid.UUID // optional override
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: map[string]uuid.UUID{}}
}

func (s *fakeStore) DeleteGraph(context.Context, uuid.UUID) error {
	s.ops = append(s.ops, "delete-graph")
	s.nodes = map[string]uuid.UUID{}
	s.edges = nil
	return nil
}

func (s *fakeStore) InsertNodes(_ context.Context, _ uuid.UUID, nodes []EnrichedNode) (map[string]uuid.UUID, error) {
	s.ops = append(s.ops, "insert-nodes")
	out := map[string]uuid.UUID{}
	for _, n := range nodes {
		if s.insertNodeIDs != nil {
			if id, ok := s.insertNodeIDs[n.ConversationID]; ok {
				out[n.ConversationID] = id
			}
			continue
		}
		out[n.ConversationID] = uuid.New()
	}
	s.nodes = out
	return out, nil
}

func (s *fakeStore) InsertEdges(_ context.Context, _ uuid.UUID, edges []GraphEdge) error {
	s.ops = append(s.ops, "insert-edges")
	s.edges = append(s.edges, edges...)
	return nil
}

func (s *fakeStore) DeleteEdges(context.Context, uuid.UUID) error {
	s.ops = append(s.ops, "delete-edges")
	s.edges = nil
	return nil
}

func (s *fakeStore) FetchEmbeddings(context.Context, uuid.UUID) ([]GraphNode, error) {
	return s.embeddings, nil
}

func (s *fakeStore) FetchGraph(context.Context, uuid.UUID) ([]StoredNode, []GraphEdge, error) {
	var nodes []StoredNode
	for conv, id := range s.nodes {
		nodes = append(nodes, StoredNode{ID: id, ConversationID: conv})
	}
	return nodes, s.edges, nil
}

func (s *fakeStore) UpdateLayout(_ context.Context, _ uuid.UUID, coords []Coordinate) error {
	s.ops = append(s.ops, "update-layout")
	s.layout = coords
	return nil
}

func (s *fakeStore) LastRecompute(context.Context, uuid.UUID) (*RecomputeRun, error) {
	if len(s.runs) == 0 {
		return nil, nil
	}
	run := s.runs[len(s.runs)-1]
	return &run, nil
}

func (s *fakeStore) RecordRecompute(_ context.Context, _ uuid.UUID, run RecomputeRun) error {
	s.ops = append(s.ops, "record-recompute")
	s.runs = append(s.runs, run)
	return nil
}

type fakeProjector struct {
	err    error
	coords []Coordinate
}

func (f fakeProjector) Project(_ context.Context, nodes []GraphNode) ([]Coordinate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.coords != nil {
		return f.coords, nil
	}
	out := make([]Coordinate, len(nodes))
	for i, n := range nodes {
		out[i] = Coordinate{ID: n.ID, X: float64(i), Y: -float64(i)}
	}
	return out, nil
}

func testPipeline(store GraphStore) Pipeline {
	return Pipeline{
		Enricher: Enricher{
			Embedder:   &fakeEmbedder{vec: []float64{1, 0}},
			BatchDelay: 1,
			Log:        quietLogger(),
		},
		Store: store,
		Log:   quietLogger(),
	}
}

func rawConvs(n int) []RawConversation {
	out := make([]RawConversation, n)
	for i := range out {
		id := "conv-" + string(rune('a'+i))
		out[i] = RawConversation{
			ConversationID: id,
			Title:          "T " + id,
			Mapping: map[string]MappingNode{
				"root": {ID: "root", Children: []string{"u1"}},
				"u1":   msgNode("u1", "root", "user", nil, "build something"),
			},
		}
	}
	return out
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := testPipeline(store)

	var stages []string
	res, err := p.Run(context.Background(), uuid.New(), rawConvs(3), func(pr Progress) {
		if len(stages) == 0 || stages[len(stages)-1] != pr.Stage {
			stages = append(stages, pr.Stage)
		}
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.ConversationsParsed != 3 || res.NodesStored != 3 {
		t.Fatalf("result=%+v", res)
	}
	// Identical embeddings: every ordered pair becomes an edge.
	if res.EdgesStored != 6 {
		t.Fatalf("edges=%d want 6", res.EdgesStored)
	}

	wantStages := []string{StageParsing, StageSummarizing, StageEmbedding, StageGraphing, StageStoring, StageComplete}
	if len(stages) != len(wantStages) {
		t.Fatalf("stages=%v want %v", stages, wantStages)
	}
	for i := range wantStages {
		if stages[i] != wantStages[i] {
			t.Fatalf("stages=%v want %v", stages, wantStages)
		}
	}

	// Old graph removed before the new one lands, run recorded after.
	wantOps := []string{"delete-graph", "insert-nodes", "insert-edges", "record-recompute"}
	if len(store.ops) != len(wantOps) {
		t.Fatalf("ops=%v", store.ops)
	}
	for i := range wantOps {
		if store.ops[i] != wantOps[i] {
			t.Fatalf("ops=%v want %v", store.ops, wantOps)
		}
	}

	// Edge endpoints are storage ids, not conversation ids.
	for _, e := range store.edges {
		if _, err := uuid.Parse(e.SourceID); err != nil {
			t.Fatalf("edge source %q not a storage id", e.SourceID)
		}
	}
}

func TestPipelineRunTwiceReplacesGraph(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := testPipeline(store)
	owner := uuid.New()
	raw := rawConvs(3)

	first, err := p.Run(context.Background(), owner, raw, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), owner, raw, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.NodesStored != second.NodesStored || first.EdgesStored != second.EdgesStored {
		t.Fatalf("counts changed between runs: first=%+v second=%+v", first, second)
	}

	// The store holds exactly one generation, not both.
	if len(store.nodes) != second.NodesStored {
		t.Fatalf("store holds %d nodes, want %d", len(store.nodes), second.NodesStored)
	}
	if len(store.edges) != second.EdgesStored {
		t.Fatalf("store holds %d edges, want %d", len(store.edges), second.EdgesStored)
	}
}

func TestPipelineRunEmptyInput(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := testPipeline(store)

	sawError := false
	_, err := p.Run(context.Background(), uuid.New(), nil, func(pr Progress) {
		if pr.Stage == StageError {
			sawError = true
		}
	})
	if err == nil {
		t.Fatalf("expected error for empty export")
	}
	if !sawError {
		t.Fatalf("error stage not reported")
	}
	if len(store.ops) != 0 {
		t.Fatalf("store touched before validation: %v", store.ops)
	}
}

func TestPipelineRunDropsUnmappedEdges(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// Only conv-a gets a storage id; edges touching conv-b must be dropped.
	store.insertNodeIDs = map[string]uuid.UUID{"conv-a": uuid.New()}

	p := testPipeline(store)
	res, err := p.Run(context.Background(), uuid.New(), rawConvs(2), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.NodesStored != 1 {
		t.Fatalf("nodes=%d", res.NodesStored)
	}
	if res.EdgesStored != 0 || len(store.edges) != 0 {
		t.Fatalf("edges=%d, unmapped endpoints must drop the edge", res.EdgesStored)
	}
}

func TestPipelineProjectionFailureNonFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := testPipeline(store)
	p.Projector = fakeProjector{err: errors.New("python missing")}

	res, err := p.Run(context.Background(), uuid.New(), rawConvs(2), nil)
	if err != nil {
		t.Fatalf("projection failure must not fail the run: %v", err)
	}
	if res.Projected {
		t.Fatalf("result claims projection succeeded")
	}
	if res.NodesStored != 2 {
		t.Fatalf("nodes=%d", res.NodesStored)
	}
}

func TestPipelineProjectionTranslatesIDs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := testPipeline(store)
	p.Projector = fakeProjector{}

	res, err := p.Run(context.Background(), uuid.New(), rawConvs(2), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Projected {
		t.Fatalf("projection did not run")
	}
	if len(store.layout) != 2 {
		t.Fatalf("layout=%d coords", len(store.layout))
	}
	for _, c := range store.layout {
		if _, err := uuid.Parse(c.ID); err != nil {
			t.Fatalf("coordinate id %q not translated to storage id", c.ID)
		}
	}
}

func TestRecomputeEdgesGrowthGate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.embeddings = []GraphNode{
		{ID: uuid.NewString(), Embedding: []float64{1, 0}},
		{ID: uuid.NewString(), Embedding: []float64{1, 0.1}},
	}
	store.runs = []RecomputeRun{{NodeCount: 2, EdgeCount: 2, RanAt: time.Now()}}

	p := testPipeline(store)

	// Unchanged node count: gated.
	res, err := p.RecomputeEdges(context.Background(), uuid.New(), RecomputeOptions{})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected skip below growth gate")
	}

	// Force bypasses the gate.
	res, err = p.RecomputeEdges(context.Background(), uuid.New(), RecomputeOptions{Force: true})
	if err != nil {
		t.Fatalf("forced recompute: %v", err)
	}
	if res.Skipped {
		t.Fatalf("forced recompute skipped")
	}
	if res.NodeCount != 2 || res.EdgeCount != 2 {
		t.Fatalf("result=%+v", res)
	}
	if len(store.runs) != 2 {
		t.Fatalf("runs=%d want 2", len(store.runs))
	}

	// Growth past the gate recomputes without force.
	store.embeddings = append(store.embeddings,
		GraphNode{ID: uuid.NewString(), Embedding: []float64{0.9, 0.1}},
	)
	res, err = p.RecomputeEdges(context.Background(), uuid.New(), RecomputeOptions{})
	if err != nil {
		t.Fatalf("recompute after growth: %v", err)
	}
	if res.Skipped {
		t.Fatalf("recompute skipped despite 50%% growth")
	}
}

func TestRecomputeEdgesEmptyGraph(t *testing.T) {
	t.Parallel()

	p := testPipeline(newFakeStore())
	res, err := p.RecomputeEdges(context.Background(), uuid.New(), RecomputeOptions{})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("empty graph must skip")
	}
}
