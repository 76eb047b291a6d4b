package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/envelope"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/logging"
)

type indexBundleInput struct {
	BundleID   string `json:"bundleId" jsonschema:"required,UUID v4 identifying the bundle"`
	SourcePath string `json:"sourcePath" jsonschema:"required,Filesystem path to the source tree to index"`
}

type indexBundleData struct {
	ChunksWritten int      `json:"chunksWritten"`
	Entities      int      `json:"entities"`
	Relations     int      `json:"relations"`
	Errors        []string `json:"errors,omitempty"`
	DurationMs    int64    `json:"durationMs"`
}

type deleteBundleInput struct {
	BundleID string `json:"bundleId" jsonschema:"required,UUID v4 identifying the bundle to delete"`
}

type deleteBundleData struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) registerBundleTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "index_bundle",
		Description: "Build or rebuild a preflight bundle: stage-copy the source tree, atomically swap it into place, then chunk, embed, and graph-index it.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args indexBundleInput) (*mcpsdk.CallToolResult, envelope.Envelope[indexBundleData], error) {
		done := s.startMetrics(ctx, "index_bundle")
		resp := s.indexBundle(ctx, args)
		done(errorCodeOf(resp.Error))
		return nil, resp, nil
	})

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "delete_bundle",
		Description: "Unlink a bundle from the live namespace, drop its vector index, and asynchronously reclaim its storage.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args deleteBundleInput) (*mcpsdk.CallToolResult, envelope.Envelope[deleteBundleData], error) {
		done := s.startMetrics(ctx, "delete_bundle")
		resp := s.deleteBundle(ctx, args)
		done(errorCodeOf(resp.Error))
		return nil, resp, nil
	})
}

func (s *Server) indexBundle(ctx context.Context, args indexBundleInput) envelope.Envelope[indexBundleData] {
	started := time.Now()
	requestID := newRequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	result, err := s.lifecycle.Build(ctx, args.BundleID, args.SourcePath)
	if err != nil {
		s.reqLogger.Warn(ctx, "index_bundle failed", zap.String("bundle_id", args.BundleID), zap.Error(err))
		return envelope.Fail[indexBundleData]("index_bundle", requestID, started, time.Now, asCoreError(err)).WithBundleID(args.BundleID)
	}

	// Build already validated args.BundleID before doing any work, so it's
	// safe to hand to WithBundleScope here.
	s.reqLogger.Info(logging.WithBundleScope(ctx, &logging.BundleScope{BundleID: args.BundleID}), "index_bundle completed",
		zap.Int("chunks_written", result.ChunksWritten),
		zap.Int("entities", result.Entities),
		zap.Int("relations", result.Relations),
		zap.Int64("duration_ms", result.DurationMs))

	return envelope.Ok("index_bundle", requestID, started, time.Now, indexBundleData{
		ChunksWritten: result.ChunksWritten,
		Entities:      result.Entities,
		Relations:     result.Relations,
		Errors:        result.Errors,
		DurationMs:    result.DurationMs,
	}).WithBundleID(args.BundleID)
}

func (s *Server) deleteBundle(ctx context.Context, args deleteBundleInput) envelope.Envelope[deleteBundleData] {
	started := time.Now()
	requestID := newRequestID()
	ctx = logging.WithRequestID(ctx, requestID)

	if err := s.lifecycle.Delete(ctx, args.BundleID); err != nil {
		s.reqLogger.Warn(ctx, "delete_bundle failed", zap.String("bundle_id", args.BundleID), zap.Error(err))
		return envelope.Fail[deleteBundleData]("delete_bundle", requestID, started, time.Now, asCoreError(err)).WithBundleID(args.BundleID)
	}

	s.reqLogger.Info(logging.WithBundleScope(ctx, &logging.BundleScope{BundleID: args.BundleID}), "delete_bundle completed")

	return envelope.Ok("delete_bundle", requestID, started, time.Now, deleteBundleData{Deleted: true}).WithBundleID(args.BundleID)
}

// asCoreError maps any error into the envelope's closed CoreError set,
// preserving an already-typed CoreError (the lifecycle driver's validation
// and not-found paths) and falling back to UNKNOWN for everything else.
func asCoreError(err error) *coreerr.CoreError {
	var coreErr *coreerr.CoreError
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return coreerr.Wrap(coreerr.KindUnknown, "unexpected error", err)
}

// errorCodeOf returns the envelope error code for metrics labeling, or ""
// when the envelope represents success.
func errorCodeOf(e *envelope.Error) string {
	if e == nil {
		return ""
	}
	return string(e.Code)
}
