package knowledge

import (
	"fmt"
	"math"
	"sort"
)

// Graph construction defaults.
const (
	DefaultK         = 5
	DefaultThreshold = 0.25
)

// CosineSimilarity computes dot(a,b) / (|a|*|b|). It returns 0 when either
// norm is zero and errors on a dimension mismatch, which always indicates a
// programming bug upstream rather than bad data.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("CosineSimilarity: dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}

// GraphOptions controls kNN graph construction.
type GraphOptions struct {
	// K is the number of neighbors each node selects (defaults to DefaultK).
	K int

	// Threshold is the minimum cosine similarity for an edge. Nil selects
	// DefaultThreshold; an explicit zero keeps every non-negative pair.
	Threshold *float64

	// OnProgress, when set, is called with (processed, total) every 10 nodes
	// and once at the end.
	OnProgress func(processed, total int)
}

func (o GraphOptions) withDefaults() GraphOptions {
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.Threshold == nil {
		t := DefaultThreshold
		o.Threshold = &t
	}
	return o
}

// BuildGraph derives a sparse kNN edge set: for each node, cosine similarity
// against every other node, filtered by threshold, sorted descending, top K
// emitted as directed edges. The result is the union of each node's own best
// matches, deliberately not a symmetric mutual-kNN, so a node may collect
// more than K incoming edges.
//
// Complexity is O(N²·D). That is an accepted cost at the intended scale of
// hundreds to low thousands of nodes.
func BuildGraph(nodes []GraphNode, opts GraphOptions) ([]GraphEdge, error) {
	opts = opts.withDefaults()

	var edges []GraphEdge
	for i := range nodes {
		neighbors, err := nearestNeighbors(i, nodes, opts.K, *opts.Threshold)
		if err != nil {
			return nil, fmt.Errorf("BuildGraph: node %q: %w", nodes[i].ID, err)
		}
		for _, n := range neighbors {
			edges = append(edges, GraphEdge{
				SourceID: nodes[i].ID,
				TargetID: nodes[n.idx].ID,
				Weight:   n.similarity,
			})
		}
		if opts.OnProgress != nil && (i+1)%10 == 0 {
			opts.OnProgress(i+1, len(nodes))
		}
	}
	if opts.OnProgress != nil {
		opts.OnProgress(len(nodes), len(nodes))
	}
	return edges, nil
}

type neighbor struct {
	idx        int
	similarity float64
}

func nearestNeighbors(target int, nodes []GraphNode, k int, threshold float64) ([]neighbor, error) {
	var candidates []neighbor
	for i := range nodes {
		if i == target {
			continue
		}
		sim, err := CosineSimilarity(nodes[target].Embedding, nodes[i].Embedding)
		if err != nil {
			return nil, err
		}
		if sim >= threshold {
			candidates = append(candidates, neighbor{idx: i, similarity: sim})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].similarity > candidates[b].similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// GraphStats summarizes graph shape. Degrees count both edge endpoints, so
// the directed pairs from kNN construction are treated as undirected
// relationships.
type GraphStats struct {
	NodeCount int     `json:"node_count"`
	EdgeCount int     `json:"edge_count"`
	AvgDegree float64 `json:"avg_degree"`
	MaxDegree int     `json:"max_degree"`
	MinDegree int     `json:"min_degree"`
	Density   float64 `json:"density"`

	// TopNodes are the 10 highest-degree nodes (hubs).
	TopNodes []NodeDegree `json:"top_nodes"`
}

// NodeDegree pairs a node id with its degree.
type NodeDegree struct {
	ID     string `json:"id"`
	Degree int    `json:"degree"`
}

// ComputeGraphStats calculates node/edge counts, the degree distribution,
// density relative to the complete undirected graph, and the top-10 hubs.
func ComputeGraphStats(nodes []GraphNode, edges []GraphEdge) GraphStats {
	degrees := make(map[string]int, len(nodes))
	for _, n := range nodes {
		degrees[n.ID] = 0
	}
	for _, e := range edges {
		degrees[e.SourceID]++
		degrees[e.TargetID]++
	}

	stats := GraphStats{NodeCount: len(nodes), EdgeCount: len(edges)}
	if len(nodes) == 0 {
		return stats
	}

	total := 0
	stats.MinDegree = math.MaxInt
	for _, n := range nodes {
		d := degrees[n.ID]
		total += d
		if d > stats.MaxDegree {
			stats.MaxDegree = d
		}
		if d < stats.MinDegree {
			stats.MinDegree = d
		}
	}
	stats.AvgDegree = float64(total) / float64(len(nodes))

	if len(nodes) > 1 {
		maxPossible := float64(len(nodes)*(len(nodes)-1)) / 2
		stats.Density = float64(len(edges)) / maxPossible
	}

	byDegree := make([]NodeDegree, 0, len(nodes))
	for _, n := range nodes {
		byDegree = append(byDegree, NodeDegree{ID: n.ID, Degree: degrees[n.ID]})
	}
	sort.SliceStable(byDegree, func(a, b int) bool {
		if byDegree[a].Degree != byDegree[b].Degree {
			return byDegree[a].Degree > byDegree[b].Degree
		}
		return byDegree[a].ID < byDegree[b].ID
	})
	if len(byDegree) > 10 {
		byDegree = byDegree[:10]
	}
	stats.TopNodes = byDegree

	return stats
}
