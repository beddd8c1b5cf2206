// Package projection computes 2D/3D layouts for graph nodes by shelling out
// to a UMAP script. The subprocess contract is JSON on stdin, JSON on stdout,
// diagnostics on stderr.
package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solsticeworks/chatgraph/knowledge"
)

// Projection defaults, matching typical UMAP settings for semantic
// embeddings.
const (
	DefaultNeighbors  = 15
	DefaultMinDist    = 0.1
	DefaultMetric     = "cosine"
	DefaultComponents = 3
	DefaultTimeout    = 5 * time.Minute
)

// request is the stdin payload for the projection script.
type request struct {
	Embeddings  []embeddingInput `json:"embeddings"`
	NNeighbors  int              `json:"n_neighbors"`
	MinDist     float64          `json:"min_dist"`
	Metric      string           `json:"metric"`
	NComponents int              `json:"n_components"`
}

type embeddingInput struct {
	ID        string    `json:"id"`
	Embedding []float64 `json:"embedding"`
}

// coordinate is one stdout row from the script. Z is absent for 2D layouts.
type coordinate struct {
	ID string   `json:"id"`
	X  float64  `json:"x"`
	Y  float64  `json:"y"`
	Z  *float64 `json:"z,omitempty"`
}

// ScriptProjector implements knowledge.Projector by invoking an external
// interpreter with a projection script.
type ScriptProjector struct {
	// Interpreter is the executable, e.g. "python3".
	Interpreter string

	// Script is the path to the projection script.
	Script string

	// Neighbors, MinDist, Metric and Components configure the reduction
	// (zero values select the defaults).
	Neighbors  int
	MinDist    float64
	Metric     string
	Components int

	// Timeout bounds one subprocess run (defaults to DefaultTimeout).
	Timeout time.Duration

	// Log defaults to the standard logger.
	Log logrus.FieldLogger
}

// Project implements knowledge.Projector.
func (p ScriptProjector) Project(ctx context.Context, nodes []knowledge.GraphNode) ([]knowledge.Coordinate, error) {
	if p.Interpreter == "" || p.Script == "" {
		return nil, fmt.Errorf("Project: interpreter and script are required")
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	payload, err := encodeRequest(nodes, p)
	if err != nil {
		return nil, fmt.Errorf("Project: %w", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.Interpreter, p.Script)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log := p.Log
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithField("stderr", stderr.String()).Warn("projection script failed")
		return nil, fmt.Errorf("Project: run %s %s: %w", p.Interpreter, p.Script, err)
	}

	coords, err := decodeResponse(stdout.Bytes(), len(nodes))
	if err != nil {
		return nil, fmt.Errorf("Project: %w", err)
	}
	return coords, nil
}

func encodeRequest(nodes []knowledge.GraphNode, p ScriptProjector) ([]byte, error) {
	req := request{
		Embeddings:  make([]embeddingInput, len(nodes)),
		NNeighbors:  p.Neighbors,
		MinDist:     p.MinDist,
		Metric:      p.Metric,
		NComponents: p.Components,
	}
	for i, n := range nodes {
		req.Embeddings[i] = embeddingInput{ID: n.ID, Embedding: n.Embedding}
	}
	if req.NNeighbors <= 0 {
		req.NNeighbors = DefaultNeighbors
	}
	// UMAP requires n_neighbors < sample count.
	if req.NNeighbors >= len(nodes) && len(nodes) > 1 {
		req.NNeighbors = len(nodes) - 1
	}
	if req.MinDist <= 0 {
		req.MinDist = DefaultMinDist
	}
	if req.Metric == "" {
		req.Metric = DefaultMetric
	}
	if req.NComponents <= 0 {
		req.NComponents = DefaultComponents
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return b, nil
}

func decodeResponse(out []byte, want int) ([]knowledge.Coordinate, error) {
	var rows []coordinate
	if err := json.Unmarshal(bytes.TrimSpace(out), &rows); err != nil {
		return nil, fmt.Errorf("unmarshal script output: %w", err)
	}
	if len(rows) != want {
		return nil, fmt.Errorf("script returned %d coordinates for %d nodes", len(rows), want)
	}

	coords := make([]knowledge.Coordinate, len(rows))
	for i, r := range rows {
		coords[i] = knowledge.Coordinate{ID: r.ID, X: r.X, Y: r.Y, Z: r.Z}
	}
	return coords, nil
}
