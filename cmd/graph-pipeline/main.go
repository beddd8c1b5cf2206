// Command graph-pipeline imports a ChatGPT conversations.json export into a
// per-owner knowledge graph: parse, enrich via OpenAI (with deterministic
// fallbacks), build the kNN similarity graph, store it in Postgres and
// optionally project a UMAP layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/solsticeworks/chatgraph/knowledge"
	"github.com/solsticeworks/chatgraph/knowledge/projection"
	"github.com/solsticeworks/chatgraph/knowledge/provider"
	"github.com/solsticeworks/chatgraph/knowledge/store"
	"github.com/solsticeworks/chatgraph/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	log := logging.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := knowledge.LoadConversationsFile(cfg.InputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	st, err := store.New(ctx, cfg.DatabaseURL, provider.EmbeddingDimensions)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	oai, err := provider.New(cfg.APIKey, provider.Options{Model: cfg.Model})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	enricher := knowledge.Enricher{
		Summarizer: knowledge.FallbackSummarizer{Inner: oai, Log: log},
		Embedder:   oai,
		Extractor:  knowledge.HybridExtractor{Model: oai, Log: log},
		Classifier: knowledge.FallbackClassifier{Primary: oai, Log: log},
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
		Log:        log,
	}

	pipeline := knowledge.Pipeline{
		Enricher:      enricher,
		Store:         st,
		K:             cfg.K,
		Threshold:     cfg.Threshold,
		ParseStrategy: knowledge.TraversalStrategy(cfg.Strategy),
		Log:           log,
	}
	if cfg.Project {
		pipeline.Projector = projection.ScriptProjector{
			Interpreter: cfg.Python,
			Script:      cfg.Script,
			Log:         log,
		}
	}

	owner := uuid.MustParse(cfg.Owner)
	res, err := pipeline.Run(ctx, owner, raw, func(p knowledge.Progress) {
		log.WithField("stage", p.Stage).WithField("percent", p.Percent).Info(p.Message)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "conversations=%d nodes=%d edges=%d projected=%t\n",
		res.ConversationsParsed, res.NodesStored, res.EdgesStored, res.Projected)
}

type Config struct {
	InputPath   string
	Owner       string
	DatabaseURL string
	APIKey      string
	Model       string
	Strategy    string
	K           int
	Threshold   float64
	BatchSize   int
	BatchDelay  time.Duration
	Project     bool
	Python      string
	Script      string
}

func (c Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("missing -in")
	}
	if c.Owner == "" {
		return fmt.Errorf("missing -owner")
	}
	if _, err := uuid.Parse(c.Owner); err != nil {
		return fmt.Errorf("invalid -owner %q: %w", c.Owner, err)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing -db (or DATABASE_URL)")
	}
	if c.APIKey == "" {
		return fmt.Errorf("missing OPENAI_API_KEY")
	}
	switch knowledge.TraversalStrategy(c.Strategy) {
	case knowledge.TraverseFirstChild, knowledge.TraverseActivePath:
	default:
		return fmt.Errorf("invalid -strategy %q", c.Strategy)
	}
	if c.Project && c.Script == "" {
		return fmt.Errorf("-project requires -script")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Model:      provider.DefaultModel,
		Strategy:   string(knowledge.TraverseFirstChild),
		K:          knowledge.DefaultK,
		Threshold:  knowledge.DefaultThreshold,
		BatchSize:  knowledge.DefaultBatchSize,
		BatchDelay: knowledge.DefaultBatchDelay,
		Python:     "python3",
		Script:     filepath.FromSlash("scripts/umap_projection.py"),
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "Path to conversations.json (ChatGPT export)")
	fs.StringVar(&cfg.Owner, "owner", cfg.Owner, "Owner UUID the graph is stored under")
	fs.StringVar(&cfg.DatabaseURL, "db", os.Getenv("DATABASE_URL"), "Postgres connection string (defaults to DATABASE_URL)")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "OpenAI model for summarization, extraction and classification")
	fs.StringVar(&cfg.Strategy, "strategy", cfg.Strategy, "Thread traversal strategy: first-child or active-path")
	fs.IntVar(&cfg.K, "k", cfg.K, "Neighbors per node in the similarity graph")
	fs.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Minimum cosine similarity for an edge")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Conversations enriched concurrently per batch")
	fs.DurationVar(&cfg.BatchDelay, "batch-delay", cfg.BatchDelay, "Pause between enrichment batches")
	fs.BoolVar(&cfg.Project, "project", false, "Run the UMAP layout projection after storing")
	fs.StringVar(&cfg.Python, "python", cfg.Python, "Interpreter for the projection script")
	fs.StringVar(&cfg.Script, "script", cfg.Script, "Path to the projection script")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/graph-pipeline -in conversations.json -owner 6f1e... ")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/graph-pipeline -in conversations.json -owner 6f1e... -project")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.InputPath != "" {
		cfg.InputPath = filepath.Clean(cfg.InputPath)
	}
	return cfg, nil
}
