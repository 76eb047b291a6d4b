// Package mcp exposes the preflight bundle core as an MCP tool surface
// (spec §6): index_bundle, query, and delete_bundle, each wrapped in the
// unified response envelope.
package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/generator"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/igpruner"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/logging"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/retriever"
)

// lifecycleDriver is the subset of *bundle.Lifecycle the tool surface needs,
// narrowed to an interface (rather than importing the concrete type
// everywhere) so handlers can be exercised against fakes in tests.
type lifecycleDriver interface {
	Build(ctx context.Context, bundleID, sourcePath string) (bundle.IndexResult, error)
	Delete(ctx context.Context, bundleID string) error
	SweepOrphans()
}

// candidateRetriever is the subset of *retriever.Retriever the query tool needs.
type candidateRetriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (*retriever.Result, error)
}

// candidatePruner is the subset of *igpruner.Pruner the query tool needs.
type candidatePruner interface {
	PruneWithOverride(ctx context.Context, question string, candidates []igpruner.Candidate, enabled *bool) (*igpruner.Result, error)
}

// answerGenerator is the subset of *generator.Generator the query tool needs.
type answerGenerator interface {
	GenerateWithVerification(ctx context.Context, question string, chunks []bundle.Chunk, enableVerification bool) (*generator.Result, error)
}

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Name: "preflight-mcp", Version: "1.0.0", Logger: zap.NewNop()}
}

// Server is the MCP server wrapping the preflight bundle core.
type Server struct {
	mcp *mcpsdk.Server

	lifecycle lifecycleDriver
	retriever candidateRetriever
	pruner    candidatePruner
	generator answerGenerator

	metrics *Metrics
	logger  *zap.Logger

	// reqLogger wraps the same zap core for request-scoped logging: handlers
	// thread trace/bundle/session identity through ContextFields instead of
	// appending ad-hoc fields at every call site.
	reqLogger *logging.Logger
}

// NewServer wires the MCP tool surface to the already-constructed core
// collaborators. ret, pruner, and gen may be nil to serve index_bundle and
// delete_bundle only, leaving the query tool unregistered.
func NewServer(cfg *Config, lifecycle *bundle.Lifecycle, ret *retriever.Retriever, pruner *igpruner.Pruner, gen *generator.Generator) (*Server, error) {
	if lifecycle == nil {
		return nil, fmt.Errorf("mcp: lifecycle driver is required")
	}
	var retI candidateRetriever
	if ret != nil {
		retI = ret
	}
	var pruneI candidatePruner
	if pruner != nil {
		pruneI = pruner
	}
	var genI answerGenerator
	if gen != nil {
		genI = gen
	}
	return newServer(cfg, lifecycle, retI, pruneI, genI)
}

// newServer builds a Server from already-narrowed interfaces, letting tests
// supply fakes without depending on the concrete core types.
func newServer(cfg *Config, lifecycle lifecycleDriver, ret candidateRetriever, pruner candidatePruner, gen answerGenerator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("mcp: lifecycle driver is required")
	}

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)

	s := &Server{
		mcp:       mcpServer,
		lifecycle: lifecycle,
		retriever: ret,
		pruner:    pruner,
		generator: gen,
		metrics:   NewMetrics(cfg.Logger),
		logger:    cfg.Logger,
		reqLogger: logging.Wrap(cfg.Logger),
	}

	s.registerBundleTools()
	s.registerQueryTool()

	return s, nil
}

// Run starts the MCP server on the stdio transport, the same invocation
// shape cmd/preflightd uses for every deploy target.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp: server run failed: %w", err)
	}
	return nil
}

// SweepOrphans runs the bundle lifecycle's startup cleanup before the
// server starts accepting requests.
func (s *Server) SweepOrphans() {
	s.lifecycle.SweepOrphans()
}

// startMetrics wraps a tool invocation with active/duration/error
// instrumentation (spec §6 stats surfacing). Call the returned func with the
// envelope's error code, or "" on success, right before returning.
func (s *Server) startMetrics(ctx context.Context, toolName string) func(errorCode string) {
	return s.metrics.start(ctx, toolName)
}

// newRequestID mints a per-call identifier for envelope.Meta.RequestID.
func newRequestID() string {
	return uuid.New().String()
}
