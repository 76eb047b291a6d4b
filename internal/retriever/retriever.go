// Package retriever implements the three-mode (vector/keyword/hybrid)
// candidate retrieval stage, with an optional knowledge-graph boost (spec
// §4.7).
package retriever

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/config"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/embed"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/kgstore"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/vectorstore"
)

// Query describes one retrieval request.
type Query struct {
	BundleID             string
	RepoID               string
	SourceType           bundle.SourceType
	Text                 string
	Mode                 string // "vector" | "keyword" | "hybrid"; "" uses the configured default
	TopK                 int
	AllowKeywordFallback bool // permit keyword-only results if the embedder fails in hybrid/vector mode
	MaxHops              *int // overrides the wired retriever.maxHops for this call; nil leaves it unchanged
}

// Candidate is one ranked chunk.
type Candidate struct {
	Chunk bundle.Chunk
	Score float64
}

// Result is the Retriever's output (spec §4.7 contract).
type Result struct {
	Candidates    []Candidate
	ExpandedTypes []string
}

// Retriever scores and ranks chunks for a bundle.
type Retriever struct {
	cfg      config.RetrieverConfig
	embedder embed.Embedder
	vectors  *vectorstore.Store
	logger   *zap.Logger

	graphMu sync.Mutex
	graphs  map[string]*kgstore.Store
}

// New constructs a Retriever.
func New(cfg config.RetrieverConfig, embedder embed.Embedder, vectors *vectorstore.Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{cfg: cfg, embedder: embedder, vectors: vectors, logger: logger, graphs: make(map[string]*kgstore.Store)}
}

// Retrieve runs the configured (or request-overridden) retrieval mode and
// applies the graph boost when a knowledge graph is loaded for the bundle.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	mode := q.Mode
	if mode == "" {
		mode = r.cfg.Mode
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	filter := vectorstore.Filter{BundleID: q.BundleID, RepoID: q.RepoID, SourceType: q.SourceType}

	chunkByID := make(map[string]bundle.Chunk)
	vecScores := make(map[string]float64)
	kwScores := make(map[string]float64)

	if mode == "vector" || mode == "hybrid" {
		scores, chunks, err := r.vectorScores(ctx, q, filter, topK)
		if err != nil {
			if !q.AllowKeywordFallback || mode == "vector" {
				return nil, coreerr.Wrap(coreerr.KindEmbeddingUnavailable, "embedder unavailable for vector retrieval", err)
			}
			r.logger.Warn("vector retrieval unavailable, falling back to keyword-only", zap.Error(err))
			mode = "keyword"
		} else {
			vecScores = scores
			for id, c := range chunks {
				chunkByID[id] = c
			}
		}
	}

	if mode == "keyword" || mode == "hybrid" {
		scores, chunks, err := r.keywordScores(ctx, filter, q.Text)
		if err != nil {
			return nil, fmt.Errorf("retriever: keyword scoring: %w", err)
		}
		kwScores = scores
		for id, c := range chunks {
			chunkByID[id] = c
		}
	}

	combined := combineScores(mode, r.cfg.Alpha, vecScores, kwScores)

	candidates := make([]Candidate, 0, len(combined))
	for id, score := range combined {
		candidates = append(candidates, Candidate{Chunk: chunkByID[id], Score: score})
	}

	expandedTypes := r.applyGraphBoost(ctx, q, candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	return &Result{Candidates: candidates, ExpandedTypes: expandedTypes}, nil
}

func (r *Retriever) vectorScores(ctx context.Context, q Query, filter vectorstore.Filter, topK int) (map[string]float64, map[string]bundle.Chunk, error) {
	vec, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	topKVector := r.cfg.TopKVector
	if topKVector <= 0 {
		topKVector = topK
	}
	scored, err := r.vectors.Query(ctx, q.BundleID, vec, topKVector, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("vector query: %w", err)
	}

	scores := make(map[string]float64, len(scored))
	chunks := make(map[string]bundle.Chunk, len(scored))
	for _, sc := range scored {
		scores[sc.Chunk.ID] = sc.Score
		chunks[sc.Chunk.ID] = sc.Chunk
	}
	return scores, chunks, nil
}

func (r *Retriever) keywordScores(ctx context.Context, filter vectorstore.Filter, query string) (map[string]float64, map[string]bundle.Chunk, error) {
	all, err := r.vectors.All(ctx, filter.BundleID, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	corpus := make([]string, len(all))
	for i, c := range all {
		corpus[i] = c.Content
	}
	scorer := newBM25Scorer(corpus)
	queryTokens := tokenize(query)

	scores := make(map[string]float64, len(all))
	chunks := make(map[string]bundle.Chunk, len(all))
	for i, c := range all {
		scores[c.ID] = scorer.score(i, queryTokens)
		chunks[c.ID] = c
	}
	return scores, chunks, nil
}

// combineScores applies spec §4.7's merge rule: pure modes use their raw
// score, hybrid min-max normalizes each mode's scores to [0,1] before the
// weighted sum.
func combineScores(mode string, alpha float64, vec, kw map[string]float64) map[string]float64 {
	if mode == "vector" {
		return vec
	}
	if mode == "keyword" {
		return kw
	}

	vecNorm := minMaxNormalize(vec)
	kwNorm := minMaxNormalize(kw)

	ids := make(map[string]bool, len(vecNorm)+len(kwNorm))
	for id := range vecNorm {
		ids[id] = true
	}
	for id := range kwNorm {
		ids[id] = true
	}

	out := make(map[string]float64, len(ids))
	for id := range ids {
		out[id] = alpha*vecNorm[id] + (1-alpha)*kwNorm[id]
	}
	return out
}

func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := minMax(scores)
	out := make(map[string]float64, len(scores))
	if max == min {
		for id := range scores {
			out[id] = 1
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - min) / (max - min)
	}
	return out
}

func minMax(scores map[string]float64) (float64, float64) {
	first := true
	var min, max float64
	for _, s := range scores {
		if first {
			min, max = s, s
			first = false
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// applyGraphBoost implements spec §4.7's post-ranking graph expansion: match
// query tokens against known symbol names, expand maxHops neighbors, and
// boost any candidate whose metadata overlaps a neighbor's file+range.
func (r *Retriever) applyGraphBoost(ctx context.Context, q Query, candidates []Candidate) []string {
	maxHops := r.cfg.MaxHops
	if q.MaxHops != nil {
		maxHops = *q.MaxHops
	}
	if maxHops < 1 {
		return nil
	}
	kg, ok := r.loadGraph(ctx, q.BundleID)
	if !ok || !kg.Loaded() {
		return nil
	}

	queryTokens := tokenize(q.Text)

	var matched []string
	for _, t := range queryTokens {
		if _, ok := kg.FindNode(t); ok {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	type span struct {
		file       string
		start, end int
	}
	var neighborSpans []span
	for _, name := range matched {
		for _, n := range kg.Neighbors(name, maxHops) {
			neighborSpans = append(neighborSpans, span{file: n.FilePath, start: n.StartLine, end: n.EndLine})
		}
	}

	for i, c := range candidates {
		meta := c.Chunk.Metadata
		for _, sp := range neighborSpans {
			if meta.FilePath == sp.file && meta.HasLineRange && rangesOverlap(meta.StartLine, meta.EndLine, sp.start, sp.end) {
				boosted := candidates[i].Score + r.cfg.GraphBoost
				if boosted > 1.0 {
					boosted = 1.0
				}
				candidates[i].Score = boosted
				break
			}
		}
	}
	return matched
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart <= bEnd && bStart <= aEnd
}

func (r *Retriever) loadGraph(ctx context.Context, bundleID string) (*kgstore.Store, bool) {
	r.graphMu.Lock()
	if g, ok := r.graphs[bundleID]; ok {
		r.graphMu.Unlock()
		return g, true
	}
	r.graphMu.Unlock()

	data, found, err := r.vectors.LoadGraph(ctx, bundleID)
	if err != nil || !found {
		return nil, false
	}
	store, err := kgstore.FromJSON(data)
	if err != nil {
		r.logger.Warn("corrupt graph blob, ignoring", zap.String("bundle_id", bundleID), zap.Error(err))
		return nil, false
	}

	r.graphMu.Lock()
	r.graphs[bundleID] = store
	r.graphMu.Unlock()
	return store, true
}
