// Command graph-export writes an owner's stored knowledge graph to a JSON
// file for visualization, embeddings omitted.
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL, provider.EmbeddingDimensions)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer st.Close()

	export, err := knowledge.ExportGraph(ctx, st, uuid.MustParse(cfg.Owner), cfg.OutputPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "nodes=%d edges=%d out=%s\n",
		export.Stats.NodeCount, export.Stats.EdgeCount, cfg.OutputPath)
}

type Config struct {
	Owner       string
	DatabaseURL string
	OutputPath  string
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
	if c.OutputPath == "" {
		return fmt.Errorf("missing -out")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		OutputPath: filepath.FromSlash("graph.json"),
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()

	fs.SetOutput(os.Stderr)

	fs.StringVar(&cfg.Owner, "owner", cfg.Owner, "Owner UUID whose graph to export")
	fs.StringVar(&cfg.DatabaseURL, "db", os.Getenv("DATABASE_URL"), "Postgres connection string (defaults to DATABASE_URL)")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "Path for the exported graph JSON")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [flags]\n\nFlags:\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nExamples:")
		fmt.Fprintln(fs.Output(), "  go run ./cmd/graph-export -owner 6f1e... -out graph.json")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.OutputPath = filepath.Clean(cfg.OutputPath)
	return cfg, nil
}
