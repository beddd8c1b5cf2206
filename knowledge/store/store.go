// Package store persists knowledge graphs in Postgres with pgvector
// embeddings. All tables are owner-scoped so multiple users share one
// database.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"github.com/solsticeworks/chatgraph/knowledge"
)

// Store implements knowledge.GraphStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool

	// dimensions is the vector width enforced by the schema.
	dimensions int

	// Log receives per-record insert failures. Defaults to the standard logger.
	Log logrus.FieldLogger
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// New opens a connection pool against connString and verifies it with a ping.
// dimensions must match the embedding model in use.
func New(ctx context.Context, connString string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("store.New: dimensions must be positive, got %d", dimensions)
	}

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store.New: parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("store.New: create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store.New: ping database: %w", err)
	}

	return &Store{pool: pool, dimensions: dimensions}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the extension, tables and indexes if missing. Safe to
// run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS graph_nodes (
			id uuid PRIMARY KEY,
			owner_id uuid NOT NULL,
			conversation_id text NOT NULL,
			title text NOT NULL,
			summary text NOT NULL,
			conversation_at timestamptz,
			message_count int NOT NULL DEFAULT 0,
			learning_type text NOT NULL DEFAULT 'exploratory',
			confidence double precision NOT NULL DEFAULT 0,
			technologies text[] NOT NULL DEFAULT '{}',
			concepts text[] NOT NULL DEFAULT '{}',
			people text[] NOT NULL DEFAULT '{}',
			resources text[] NOT NULL DEFAULT '{}',
			skills text[] NOT NULL DEFAULT '{}',
			key_learnings text[] NOT NULL DEFAULT '{}',
			questions text[] NOT NULL DEFAULT '{}',
			embedding vector(%d),
			x double precision,
			y double precision,
			z double precision,
			created_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (owner_id, conversation_id)
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS graph_nodes_owner_idx ON graph_nodes (owner_id)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
			id uuid PRIMARY KEY,
			owner_id uuid NOT NULL,
			source_id uuid NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			target_id uuid NOT NULL REFERENCES graph_nodes(id) ON DELETE CASCADE,
			weight double precision NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS graph_edges_owner_idx ON graph_edges (owner_id)`,
		`CREATE TABLE IF NOT EXISTS recompute_runs (
			id uuid PRIMARY KEY,
			owner_id uuid NOT NULL,
			node_count int NOT NULL,
			edge_count int NOT NULL,
			ran_at timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS recompute_runs_owner_idx ON recompute_runs (owner_id, ran_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("EnsureSchema: %w", err)
		}
	}
	return nil
}

// DeleteGraph removes the owner's nodes; edges go with them via cascade.
func (s *Store) DeleteGraph(ctx context.Context, owner uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_nodes WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("DeleteGraph: %w", err)
	}
	return nil
}

// InsertNodes persists enriched nodes and returns the mapping from
// conversation id to the generated node id. A single bad record is logged
// and skipped rather than failing the import, so the map may be smaller than
// the input.
func (s *Store) InsertNodes(ctx context.Context, owner uuid.UUID, nodes []knowledge.EnrichedNode) (map[string]uuid.UUID, error) {
	idMap := make(map[string]uuid.UUID, len(nodes))
	for _, n := range nodes {
		id := uuid.New()
		_, err := s.pool.Exec(ctx,
			`INSERT INTO graph_nodes (
				id, owner_id, conversation_id, title, summary, conversation_at,
				message_count, learning_type, confidence,
				technologies, concepts, people, resources, skills,
				key_learnings, questions, embedding
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			id, owner, n.ConversationID, n.Title, n.Summary, n.Timestamp,
			n.MessageCount, n.LearningType, n.ConfidenceScore,
			textArray(n.Entities.Technologies), textArray(n.Entities.Concepts),
			textArray(n.Entities.People), textArray(n.Entities.Resources),
			textArray(n.Entities.Skills),
			textArray(n.KeyLearnings), textArray(n.QuestionsRaised),
			toVector(n.Embedding),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("InsertNodes: %w", err)
			}
			s.logger().WithField("conversation_id", n.ConversationID).WithError(err).
				Warn("skipping node that failed to insert")
			continue
		}
		idMap[n.ConversationID] = id
	}
	return idMap, nil
}

// InsertEdges persists edges whose endpoints are node ids.
func (s *Store) InsertEdges(ctx context.Context, owner uuid.UUID, edges []knowledge.GraphEdge) error {
	batch := &pgx.Batch{}
	for _, e := range edges {
		src, err := uuid.Parse(e.SourceID)
		if err != nil {
			return fmt.Errorf("InsertEdges: bad source id %q: %w", e.SourceID, err)
		}
		dst, err := uuid.Parse(e.TargetID)
		if err != nil {
			return fmt.Errorf("InsertEdges: bad target id %q: %w", e.TargetID, err)
		}
		batch.Queue(
			`INSERT INTO graph_edges (id, owner_id, source_id, target_id, weight)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), owner, src, dst, e.Weight,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("InsertEdges: %w", err)
	}
	return nil
}

// DeleteEdges removes the owner's edges, leaving nodes intact.
func (s *Store) DeleteEdges(ctx context.Context, owner uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_edges WHERE owner_id = $1`, owner); err != nil {
		return fmt.Errorf("DeleteEdges: %w", err)
	}
	return nil
}

// FetchEmbeddings returns (node id, embedding) pairs for the owner's nodes
// that have an embedding stored.
func (s *Store) FetchEmbeddings(ctx context.Context, owner uuid.UUID) ([]knowledge.GraphNode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, embedding FROM graph_nodes
		 WHERE owner_id = $1 AND embedding IS NOT NULL`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("FetchEmbeddings: %w", err)
	}
	defer rows.Close()

	var nodes []knowledge.GraphNode
	for rows.Next() {
		var id uuid.UUID
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("FetchEmbeddings: scan: %w", err)
		}
		nodes = append(nodes, knowledge.GraphNode{ID: id.String(), Embedding: fromVector(vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FetchEmbeddings: %w", err)
	}
	return nodes, nil
}

// FetchGraph returns the owner's full stored graph without embeddings.
func (s *Store) FetchGraph(ctx context.Context, owner uuid.UUID) ([]knowledge.StoredNode, []knowledge.GraphEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, title, summary, conversation_at,
		        message_count, learning_type, confidence,
		        technologies, concepts, people, resources, skills,
		        key_learnings, questions, x, y, z
		 FROM graph_nodes WHERE owner_id = $1
		 ORDER BY conversation_at NULLS LAST, conversation_id`,
		owner,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("FetchGraph: nodes: %w", err)
	}
	defer rows.Close()

	var nodes []knowledge.StoredNode
	for rows.Next() {
		var n knowledge.StoredNode
		var at *time.Time
		if err := rows.Scan(
			&n.ID, &n.ConversationID, &n.Title, &n.Summary, &at,
			&n.MessageCount, &n.LearningType, &n.Confidence,
			&n.Entities.Technologies, &n.Entities.Concepts, &n.Entities.People,
			&n.Entities.Resources, &n.Entities.Skills,
			&n.KeyLearnings, &n.Questions, &n.X, &n.Y, &n.Z,
		); err != nil {
			return nil, nil, fmt.Errorf("FetchGraph: scan node: %w", err)
		}
		if at != nil {
			n.Timestamp = *at
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("FetchGraph: nodes: %w", err)
	}

	edgeRows, err := s.pool.Query(ctx,
		`SELECT source_id, target_id, weight FROM graph_edges
		 WHERE owner_id = $1 ORDER BY weight DESC`,
		owner,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("FetchGraph: edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []knowledge.GraphEdge
	for edgeRows.Next() {
		var src, dst uuid.UUID
		var e knowledge.GraphEdge
		if err := edgeRows.Scan(&src, &dst, &e.Weight); err != nil {
			return nil, nil, fmt.Errorf("FetchGraph: scan edge: %w", err)
		}
		e.SourceID = src.String()
		e.TargetID = dst.String()
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("FetchGraph: edges: %w", err)
	}

	return nodes, edges, nil
}

// UpdateLayout writes projected coordinates onto existing nodes in one batch.
func (s *Store) UpdateLayout(ctx context.Context, owner uuid.UUID, coords []knowledge.Coordinate) error {
	batch := &pgx.Batch{}
	for _, c := range coords {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			return fmt.Errorf("UpdateLayout: bad node id %q: %w", c.ID, err)
		}
		batch.Queue(
			`UPDATE graph_nodes SET x = $1, y = $2, z = $3
			 WHERE id = $4 AND owner_id = $5`,
			c.X, c.Y, c.Z, id, owner,
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("UpdateLayout: %w", err)
	}
	return nil
}

// LastRecompute returns the owner's most recent recompute run, nil when none.
func (s *Store) LastRecompute(ctx context.Context, owner uuid.UUID) (*knowledge.RecomputeRun, error) {
	var run knowledge.RecomputeRun
	err := s.pool.QueryRow(ctx,
		`SELECT node_count, edge_count, ran_at FROM recompute_runs
		 WHERE owner_id = $1 ORDER BY ran_at DESC LIMIT 1`,
		owner,
	).Scan(&run.NodeCount, &run.EdgeCount, &run.RanAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LastRecompute: %w", err)
	}
	return &run, nil
}

// RecordRecompute appends a recompute run for the owner.
func (s *Store) RecordRecompute(ctx context.Context, owner uuid.UUID, run knowledge.RecomputeRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recompute_runs (id, owner_id, node_count, edge_count, ran_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), owner, run.NodeCount, run.EdgeCount, run.RanAt,
	)
	if err != nil {
		return fmt.Errorf("RecordRecompute: %w", err)
	}
	return nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return nil
}

func toVector(embedding []float64) pgvector.Vector {
	out := make([]float32, len(embedding))
	for i, v := range embedding {
		out[i] = float32(v)
	}
	return pgvector.NewVector(out)
}

func fromVector(vec pgvector.Vector) []float64 {
	in := vec.Slice()
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// textArray keeps empty slices non-nil so array columns never get NULL.
func textArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
