package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/envelope"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/evidence"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/igpruner"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/logging"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/retriever"
)

type igpOptions struct {
	Enabled *bool `json:"enabled,omitempty" jsonschema:"Override the wired IG Pruner enable/disable setting for this call"`
}

type queryInput struct {
	Question string `json:"question" jsonschema:"required,Natural-language question to answer"`
	BundleID string `json:"bundleId,omitempty" jsonschema:"Restrict retrieval to this bundle"`
	RepoID   string `json:"repoId,omitempty" jsonschema:"Restrict retrieval to this repo within the bundle"`
	Mode     string `json:"mode,omitempty" jsonschema:"vector|keyword|hybrid; empty uses the wired default"`
	TopK     int    `json:"topK,omitempty" jsonschema:"Maximum candidates to retrieve before pruning"`

	EnableContextCompletion bool `json:"enableContextCompletion,omitempty" jsonschema:"Expand retrieval results with their knowledge-graph neighborhood"`
	MaxHops                 int  `json:"maxHops,omitempty" jsonschema:"Graph expansion hop count, used only when enableContextCompletion is true"`

	EnableVerification bool       `json:"enableVerification,omitempty" jsonschema:"Run a second LLM pass to score the answer's faithfulness to its cited evidence"`
	IGPOptions         igpOptions `json:"igpOptions,omitempty" jsonschema:"Per-request IG Pruner overrides"`
}

type queryStats struct {
	ChunksRetrieved    int     `json:"chunksRetrieved"`
	ChunksKept         int     `json:"chunksKept"`
	BaselineNU         float64 `json:"baselineNu"`
	PruningRatio       float64 `json:"pruningRatio"`
	PruneDurationMs    int64   `json:"pruneDurationMs"`
	GenerateDurationMs int64   `json:"generateDurationMs"`
}

type queryData struct {
	Answer            string             `json:"answer"`
	Sources           []evidence.Pointer `json:"sources"`
	RelatedEntities   []string           `json:"relatedEntities,omitempty"`
	FaithfulnessScore *float64           `json:"faithfulnessScore,omitempty"`
	Stats             queryStats         `json:"stats"`
}

func (s *Server) registerQueryTool() {
	if s.retriever == nil || s.pruner == nil || s.generator == nil {
		s.logger.Warn("query tool not configured: retriever, pruner, and generator are all required")
		return
	}

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "query",
		Description: "Answer a natural-language question against an indexed bundle: hybrid retrieval, information-gain pruning, and evidence-grounded generation with optional faithfulness verification.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args queryInput) (*mcpsdk.CallToolResult, envelope.Envelope[queryData], error) {
		done := s.startMetrics(ctx, "query")
		resp := s.query(ctx, args)
		done(errorCodeOf(resp.Error))
		return nil, resp, nil
	})
}

func (s *Server) query(ctx context.Context, args queryInput) envelope.Envelope[queryData] {
	started := time.Now()
	requestID := newRequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	fail := func(err error) envelope.Envelope[queryData] {
		resp := envelope.Fail[queryData]("query", requestID, started, time.Now, asCoreError(err))
		if args.BundleID != "" {
			resp = resp.WithBundleID(args.BundleID)
		}
		return resp
	}

	// BundleID is optional (empty searches across all bundles), but once
	// supplied it must be a real bundle identifier before it reaches the
	// retriever, matching index_bundle/delete_bundle's validation.
	if args.BundleID != "" {
		if err := bundle.ValidateBundleID(args.BundleID); err != nil {
			s.reqLogger.Warn(ctx, "query rejected: invalid bundle id", zap.String("bundle_id", args.BundleID))
			return fail(err)
		}
		ctx = logging.WithBundleScope(ctx, &logging.BundleScope{BundleID: args.BundleID})
	}

	retrieveQuery := retriever.Query{
		BundleID:             args.BundleID,
		RepoID:               args.RepoID,
		Text:                 args.Question,
		Mode:                 args.Mode,
		TopK:                 args.TopK,
		AllowKeywordFallback: true,
	}
	if !args.EnableContextCompletion {
		zero := 0
		retrieveQuery.MaxHops = &zero
	} else if args.MaxHops > 0 {
		hops := args.MaxHops
		retrieveQuery.MaxHops = &hops
	}

	retrieved, err := s.retriever.Retrieve(ctx, retrieveQuery)
	if err != nil {
		return fail(err)
	}

	candidates := make([]igpruner.Candidate, len(retrieved.Candidates))
	for i, c := range retrieved.Candidates {
		candidates[i] = igpruner.Candidate{Chunk: c.Chunk, RetrievalRank: i, Score: c.Score}
	}

	pruned, err := s.pruner.PruneWithOverride(ctx, args.Question, candidates, args.IGPOptions.Enabled)
	if err != nil {
		return fail(err)
	}

	chunks := make([]bundle.Chunk, len(pruned.RankedChunks))
	for i, rc := range pruned.RankedChunks {
		chunks[i] = rc.Chunk
	}

	generated, err := s.generator.GenerateWithVerification(ctx, args.Question, chunks, args.EnableVerification)
	if err != nil {
		return fail(err)
	}

	data := queryData{
		Answer:            generated.Answer,
		Sources:           generated.Sources,
		RelatedEntities:   retrieved.ExpandedTypes,
		FaithfulnessScore: generated.FaithfulnessScore,
		Stats: queryStats{
			ChunksRetrieved:    len(retrieved.Candidates),
			ChunksKept:         len(pruned.RankedChunks),
			BaselineNU:         pruned.BaselineNU,
			PruningRatio:       pruned.PruningRatio,
			PruneDurationMs:    pruned.DurationMs,
			GenerateDurationMs: generated.DurationMs,
		},
	}

	s.reqLogger.Info(ctx, "query completed",
		zap.Int("chunks_retrieved", data.Stats.ChunksRetrieved),
		zap.Int("chunks_kept", data.Stats.ChunksKept),
		zap.Int64("generate_duration_ms", data.Stats.GenerateDurationMs))

	resp := envelope.Ok("query", requestID, started, time.Now, data)
	if args.BundleID != "" {
		resp = resp.WithBundleID(args.BundleID)
	}
	return resp.WithEvidence(generated.Sources...)
}
