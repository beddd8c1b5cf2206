package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solsticeworks/chatgraph/knowledge/fileutils"
)

// GraphExport is the on-disk snapshot of one owner's stored graph.
// Embeddings are deliberately left out; they dominate the payload size and
// downstream visualization consumers have no use for them.
type GraphExport struct {
	Owner       string       `json:"owner"`
	GeneratedAt time.Time    `json:"generated_at"`
	Nodes       []StoredNode `json:"nodes"`
	Edges       []GraphEdge  `json:"edges"`
	Stats       GraphStats   `json:"stats"`
}

// ExportGraph reads the owner's stored graph and writes it atomically to
// path as pretty-printed JSON, returning the export for callers that want
// to report on it.
func ExportGraph(ctx context.Context, store GraphStore, owner uuid.UUID, path string) (GraphExport, error) {
	nodes, edges, err := store.FetchGraph(ctx, owner)
	if err != nil {
		return GraphExport{}, fmt.Errorf("ExportGraph: fetch graph: %w", err)
	}

	statNodes := make([]GraphNode, len(nodes))
	for i, n := range nodes {
		statNodes[i] = GraphNode{ID: n.ID.String()}
	}

	export := GraphExport{
		Owner:       owner.String(),
		GeneratedAt: time.Now().UTC(),
		Nodes:       nodes,
		Edges:       edges,
		Stats:       ComputeGraphStats(statNodes, edges),
	}

	if err := fileutils.WriteJSONFileAtomic(path, export, true); err != nil {
		return GraphExport{}, fmt.Errorf("ExportGraph: %w", err)
	}
	return export, nil
}
