// Command graph-recompute rebuilds an owner's similarity edges from stored
// embeddings. Unless forced, the rebuild is skipped when the node count has
// not grown enough since the last recorded run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/solsticeworks/chatgraph/knowledge"
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

	pipeline := knowledge.Pipeline{Store: st, Log: log}
	res, err := pipeline.RecomputeEdges(ctx, uuid.MustParse(cfg.Owner), knowledge.RecomputeOptions{
		K:            cfg.K,
		Threshold:    cfg.Threshold,
		GrowthFactor: cfg.Growth,
		Force:        cfg.Force,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "skipped=%t nodes=%d edges=%d\n", res.Skipped, res.NodeCount, res.EdgeCount)
}

type Config struct {
	Owner       string
	DatabaseURL string
	K           int
	Threshold   float64
	Growth      float64
	Force       bool
}

func (c Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("missing -owner")
	}
	if _, err := uuid.Parse(c.Owner); err != nil {
		return fmt.Errorf("invalid -owner %q: %w", c.Owner, err)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing -db (or DATABASE_URL)")
	}
	if c.Growth < 1 {
		return fmt.Errorf("-growth must be at least 1.0")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		K:         knowledge.DefaultK,
		Threshold: knowledge.DefaultThreshold,
		Growth:    1.2,
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.Owner, "owner", cfg.Owner, "Owner UUID whose edges to rebuild")
	fs.StringVar(&cfg.DatabaseURL, "db", os.Getenv("DATABASE_URL"), "Postgres connection string (defaults to DATABASE_URL)")
	fs.IntVar(&cfg.K, "k", cfg.K, "Neighbors per node in the similarity graph")
	fs.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Minimum cosine similarity for an edge")
	fs.Float64Var(&cfg.Growth, "growth", cfg.Growth, "Node-count growth factor required before recomputing")
	fs.BoolVar(&cfg.Force, "force", false, "Recompute even when the growth gate would skip")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/graph-recompute -owner 6f1e...")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/graph-recompute -owner 6f1e... -force -threshold 0.3")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
