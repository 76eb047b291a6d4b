// Preflightd is the preflight bundle retrieval core, exposed as an MCP
// server over stdio.
//
// It indexes source trees into chunk, vector, and knowledge-graph stores
// (the index_bundle tool), answers questions against an indexed bundle with
// hybrid retrieval, information-gain pruning, and evidence-grounded
// generation (the query tool), and retires bundles (delete_bundle).
//
// Configuration is loaded from an optional YAML file plus PREFLIGHT_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the server with defaults
//	preflightd
//
//	# Point at a config file
//	preflightd -config /etc/preflight/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/config"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/embed"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/generator"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/igpruner"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/indexer"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/llm"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/logging"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/nucalc"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/retriever"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/vectorstore"
	"github.com/jonnyhoo/preflight-mcp-sub008/pkg/mcp"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	devLogging bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars and defaults apply otherwise)")
	flag.BoolVar(&devLogging, "dev", false, "use a console-friendly, debug-level logger instead of the production JSON logger")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  preflightd           Start the MCP server on stdio\n")
			fmt.Fprintf(os.Stderr, "  preflightd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Println("server shutdown complete")
}

func printVersion() {
	fmt.Printf("preflightd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run loads configuration, wires every collaborator in the retrieval core,
// and blocks on the MCP server's stdio transport until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := initLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting preflightd",
		zap.String("storage_root", cfg.Storage.Root),
		zap.String("retriever_mode", cfg.Retriever.Mode),
		zap.String("igp_strategy", cfg.IGP.Strategy))

	server, err := wire(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}

	server.SweepOrphans()

	return server.Run(ctx)
}

// wire constructs every core collaborator from cfg and assembles the MCP
// tool surface, in the dependency order each constructor requires: embedder
// and vector store first (indexer needs both), then the indexer itself
// (lifecycle needs it), the lifecycle driver and retriever, then the LLM
// client (NU calculator, IG pruner, and generator all need it) and those
// three, and finally the MCP server that wraps them.
func wire(cfg *config.Config, logger *zap.Logger) (*mcp.Server, error) {
	embedder, err := newEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	vectors, err := vectorstore.New(vectorstore.Config{
		VectorSize: cfg.Embeddings.Dimension,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: %w", err)
	}

	ix := indexer.New(cfg, embedder, vectors, logger)

	lifecycle := bundle.New(bundle.LifecycleConfig{
		Root:              cfg.Storage.Root,
		TmpDir:            cfg.Storage.TmpDir,
		StagingStaleAfter: cfg.Storage.StagingStaleAfter.Duration(),
	}, &indexerAdapter{ix: ix}, vectors, logger)

	ret := retriever.New(cfg.Retriever, embedder, vectors, logger)

	llmClient, err := llm.New(llm.Config{
		BaseURL:          cfg.LLM.BaseURL,
		Model:            cfg.LLM.Model,
		APIKey:           cfg.LLM.APIKey.Value(),
		AuthMode:         llm.AuthMode(cfg.LLM.AuthMode),
		Timeout:          durationMs(cfg.LLM.TimeoutMs),
		MaxRetries:       cfg.LLM.MaxRetries,
		BackoffBase:      durationMs(cfg.LLM.BackoffBaseMs),
		BackoffFactor:    cfg.LLM.BackoffFactor,
		SupportsLogprobs: supportsLogprobs(llm.AuthMode(cfg.LLM.AuthMode)),
	})
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	nu := nucalc.New(llmClient, nucalc.Config{TopK: cfg.IGP.NUTopK, MaxTokens: cfg.IGP.NUMaxTokens})

	pruner := igpruner.New(nu, igpruner.Config{
		Enabled:        cfg.IGP.Enabled,
		Strategy:       cfg.IGP.Strategy,
		Threshold:      cfg.IGP.Threshold,
		TopK:           cfg.IGP.TopK,
		BatchSize:      cfg.IGP.BatchSize,
		IGWeight:       cfg.IGP.IGWeight,
		CandidateChars: cfg.IGP.CandidateChars,
	}, logger)

	gen := generator.New(llmClient, generator.Config{
		PromptCharBudget:       cfg.LLM.PromptCharBudget,
		FaithfulnessThreshold:  cfg.LLM.FaithfulnessThreshold,
		RetryOnLowFaithfulness: cfg.LLM.RetryOnLowFaithfulness,
	}, logger)

	return mcp.NewServer(&mcp.Config{
		Name:    "preflight-mcp",
		Version: version,
		Logger:  logger,
	}, lifecycle, ret, pruner, gen)
}

// newEmbedder picks the in-process fastembed model when no remote embedding
// endpoint is configured, otherwise a TEI-compatible HTTP embedder (spec
// §4.1: BaseURL empty means "use the local model").
func newEmbedder(cfg config.EmbeddingsConfig) (embed.Embedder, error) {
	if cfg.BaseURL == "" {
		return embed.NewLocalEmbedder(cfg.Model, "")
	}
	return embed.NewHTTPEmbedder(cfg.BaseURL, cfg.Model, cfg.APIKey.Value(), cfg.Dimension, &http.Client{}), nil
}

// supportsLogprobs applies the teacher-documented provider split: "bearer"
// auth targets OpenAI-compatible endpoints, which return top_logprobs;
// "x-api-key" targets Anthropic-compatible endpoints, which do not.
func supportsLogprobs(mode llm.AuthMode) bool {
	return mode == llm.AuthModeBearer
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// indexerAdapter satisfies bundle.Indexer by converting *indexer.Indexer's
// pointer-returning Result into the value-typed bundle.IndexResult the
// lifecycle driver expects. internal/bundle cannot import internal/indexer
// directly (indexer already depends on bundle for its chunk/graph types),
// so this conversion lives here, at the one place both concrete types are
// already in scope.
type indexerAdapter struct {
	ix *indexer.Indexer
}

func (a *indexerAdapter) Index(ctx context.Context, bundlePath, bundleID string) (bundle.IndexResult, error) {
	result, err := a.ix.Index(ctx, bundlePath, bundleID)
	if err != nil {
		return bundle.IndexResult{}, err
	}
	return bundle.IndexResult{
		ChunksWritten: result.ChunksWritten,
		Entities:      result.Entities,
		Relations:     result.Relations,
		Errors:        result.Errors,
		DurationMs:    result.DurationMs,
	}, nil
}

// initLogger builds the structured logger via internal/logging, which adds
// sampling, field redaction, and context-field propagation on top of zap.
// The -dev flag switches to a console encoder at debug level; otherwise the
// production JSON defaults apply. No OTEL log provider is wired yet, so logs
// only go to stdout.
func initLogger() (*zap.Logger, error) {
	cfg := logging.NewDefaultConfig()
	if devLogging {
		cfg.Format = "console"
		cfg.Level = zapcore.DebugLevel
	}

	logger, err := logging.NewLogger(cfg, nil)
	if err != nil {
		return nil, err
	}
	return logger.Underlying(), nil
}
