// Package indexer orchestrates the Chunker, AST Graph Builder, Embedder,
// Vector Store, and Knowledge Graph Store into the single "index a bundle"
// operation (spec §4.6).
package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/astgraph"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/chunk"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/config"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/embed"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/kgstore"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/vectorstore"
)

// docLanguages are split with SplitDocument; everything else goes through
// SplitCode (spec §4.4 step 3).
var docLanguages = map[string]bool{
	"markdown": true, "restructuredtext": true,
}

// Result is the Indexer's per-run report (spec §4.6 contract).
type Result struct {
	ChunksWritten int
	Entities      int
	Relations     int
	Errors        []string
	DurationMs    int64
}

// Indexer wires together the core retrieval-build pipeline for one bundle.
type Indexer struct {
	cfg      *config.Config
	embedder embed.Embedder
	vectors  *vectorstore.Store
	logger   *zap.Logger

	leases leaseRegistry
}

// New constructs an Indexer. cfg, embedder, and vectors must be non-nil.
func New(cfg *config.Config, embedder embed.Embedder, vectors *vectorstore.Store, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{cfg: cfg, embedder: embedder, vectors: vectors, logger: logger}
}

// Index walks bundlePath, chunks and parses every admitted file, embeds the
// resulting chunks, and persists both the vector index and the serialized
// AST graph under namespace bundleID. It serializes concurrent calls for
// the same bundleID per the configured lease policy.
func (ix *Indexer) Index(ctx context.Context, bundlePath, bundleID string) (*Result, error) {
	release, err := ix.acquireLease(bundleID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	result := &Result{}

	discovered, discoverWarnings, err := chunk.Discover(bundlePath, chunk.Options{
		MaxFileBytes:          ix.cfg.Storage.MaxFileBytes,
		MaxFilesPerBundle:     ix.cfg.Storage.MaxFilesPerBundle,
		IncludeTestFiles:      ix.cfg.Storage.IncludeTestFiles,
		IncludeGeneratedFiles: ix.cfg.Storage.IncludeGeneratedFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: discover %s: %w", bundlePath, err)
	}
	for _, w := range discoverWarnings {
		result.Errors = append(result.Errors, w.Path+": "+w.Reason)
	}

	files, readWarnings := chunk.ReadAndNormalize(bundlePath, discovered, ix.cfg.Storage.MaxTotalBytes)
	for _, w := range readWarnings {
		result.Errors = append(result.Errors, w.Path+": "+w.Reason)
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	repoClass := chunk.Classify(paths)

	rawNodes, rawEdges := ix.buildSymbols(ctx, files, result)

	admittedNodes := astgraph.FilterAndQuota(rawNodes, astgraph.Options{
		MinFunctionLines: ix.cfg.ASTFilter.MinFunctionLines,
		MaxFunctions:     ix.cfg.ASTFilter.MaxFunctions,
		MaxContentLength: ix.cfg.ASTFilter.MaxContentLength,
	})

	nodesByFile := make(map[string][]chunk.SymbolRange)
	for _, n := range admittedNodes {
		nodesByFile[n.FilePath] = append(nodesByFile[n.FilePath], chunk.SymbolRange{
			Name: n.Name, Kind: string(n.Kind), StartLine: n.StartLine, EndLine: n.EndLine,
		})
	}

	chunks := ix.splitAll(bundleID, repoClass, files, nodesByFile)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddedChunks, vectors, embedErrors := ix.embedChunks(ctx, chunks)
	result.Errors = append(result.Errors, embedErrors...)
	chunks = embeddedChunks

	if len(chunks) > 0 {
		if err := ix.vectors.Upsert(ctx, bundleID, chunks, vectors); err != nil {
			result.Errors = append(result.Errors, "vectorstore upsert: "+err.Error())
		} else {
			result.ChunksWritten = len(chunks)
		}
	}

	graph := bundle.NewAstGraph(admittedNodes, rawEdges)
	result.Entities = len(graph.Nodes)
	result.Relations = len(graph.Edges)

	if err := ix.persistGraph(ctx, bundleID, graph); err != nil {
		result.Errors = append(result.Errors, "graph persist: "+err.Error())
	}

	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

func (ix *Indexer) acquireLease(bundleID string) (func(), error) {
	if ix.cfg.Indexer.LeasePolicy == "fail_fast" {
		release, ok := ix.leases.tryAcquire(bundleID)
		if !ok {
			return nil, coreerr.New(coreerr.KindBundleBusy, fmt.Sprintf("bundle %s is already being indexed", bundleID))
		}
		return release, nil
	}
	return ix.leases.acquire(bundleID), nil
}

// buildSymbols runs the AST Graph Builder over every admitted file,
// collecting raw (pre-filter) nodes and edges. A per-file parse failure is
// recorded as a warning and does not abort the bundle (spec §4.6: "partial
// failures are non-fatal").
func (ix *Indexer) buildSymbols(ctx context.Context, files []bundle.File, result *Result) ([]bundle.AstNode, []bundle.AstEdge) {
	var allNodes []bundle.AstNode
	var allEdges []bundle.AstEdge

	for _, f := range files {
		if docLanguages[f.Language] || !astgraph.Supported(f.Language) {
			continue
		}
		nodes, edges, err := astgraph.Build(ctx, f, astgraph.Options{
			MinFunctionLines: ix.cfg.ASTFilter.MinFunctionLines,
			MaxContentLength: ix.cfg.ASTFilter.MaxContentLength,
			MaxFunctions:     ix.cfg.ASTFilter.MaxFunctions,
		})
		if err != nil {
			result.Errors = append(result.Errors, f.Path+": ast build: "+err.Error())
			continue
		}
		allNodes = append(allNodes, nodes...)
		allEdges = append(allEdges, edges...)
	}
	return allNodes, allEdges
}

// splitAll turns every admitted file into chunks, deterministically ordered
// by (path, start line) so repeated runs over identical input always emit
// chunks in the same order (spec §4.6 determinism contract).
func (ix *Indexer) splitAll(bundleID string, repoClass bundle.Classification, files []bundle.File, nodesByFile map[string][]chunk.SymbolRange) []bundle.Chunk {
	repoID := string(repoClass)
	var out []bundle.Chunk

	for _, f := range files {
		var fileChunks []bundle.Chunk
		if docLanguages[f.Language] {
			fileChunks = chunk.SplitDocument(bundleID, repoID, f, ix.cfg.Chunk.MaxChars)
		} else {
			fileChunks = chunk.SplitCode(bundleID, repoID, f, nodesByFile[f.Path], ix.cfg.Chunk.MaxChars, ix.cfg.Chunk.Overlap)
		}
		out = append(out, fileChunks...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metadata.FilePath != out[j].Metadata.FilePath {
			return out[i].Metadata.FilePath < out[j].Metadata.FilePath
		}
		return out[i].Metadata.StartLine < out[j].Metadata.StartLine
	})
	return out
}

// embedChunks embeds every chunk's content with bounded concurrency
// (config.Concurrency.Embed slots). A per-chunk embedding failure is
// reported as a warning; that chunk is dropped from the returned vectors
// (the zero-vector placeholder index is nil and filtered before upsert).
func (ix *Indexer) embedChunks(ctx context.Context, chunks []bundle.Chunk) ([]bundle.Chunk, [][]float32, []string) {
	vectors := make([][]float32, len(chunks))
	errs := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ix.cfg.Concurrency.Embed, 1))

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			vec, err := ix.embedder.Embed(gctx, c.Content)
			if err != nil {
				errs[i] = c.ID + ": embed: " + err.Error()
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	keptChunks := make([]bundle.Chunk, 0, len(chunks))
	keptVectors := make([][]float32, 0, len(chunks))
	var warnings []string
	for i, vec := range vectors {
		if errs[i] != "" {
			warnings = append(warnings, errs[i])
			continue
		}
		keptChunks = append(keptChunks, chunks[i])
		keptVectors = append(keptVectors, vec)
	}
	return keptChunks, keptVectors, warnings
}

// persistGraph serializes graph through a scratch kgstore.Store (for its
// canonical Dump encoding) straight into the vector store's reserved graph
// collection (spec §4.6: "AST graph is serialized to the Vector Store as an
// opaque blob keyed by bundleId").
func (ix *Indexer) persistGraph(ctx context.Context, bundleID string, graph bundle.AstGraph) error {
	names := make([]string, 0, len(graph.Nodes))
	for name := range graph.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	store := kgstore.New()
	store.Load(graph, names)

	data, err := store.Dump()
	if err != nil {
		return fmt.Errorf("dump graph: %w", err)
	}
	return ix.vectors.StoreGraph(ctx, bundleID, data)
}
