// Package igpruner implements information-gain pruning over retrieved
// candidates (spec §4.9): candidates whose presence in the prompt doesn't
// reduce the model's answer uncertainty are demoted or dropped.
package igpruner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/nucalc"
)

// Config holds the IG Pruner's tunables (spec §4.9, §6 defaults).
type Config struct {
	Enabled        bool
	Strategy       string // "threshold" | "topK" | "combined"
	Threshold      float64 // Tp, default 0
	TopK           int
	BatchSize      int     // default 5
	IGWeight       float64 // gamma, default 0.7
	CandidateChars int     // default 1500
}

// Candidate is one retrieved chunk awaiting pruning, carrying its
// retrieval-stage score for use by the "combined" strategy.
type Candidate struct {
	Chunk         bundle.Chunk
	RetrievalRank int // 0-based position in retrieval order; copied to RankedChunk, not used for ordering
	Score         float64
}

// RankedChunk is one pruner output entry.
type RankedChunk struct {
	Chunk         bundle.Chunk
	IGScore       float64
	RetrievalRank int
}

// Result is the IG Pruner's contract output.
type Result struct {
	RankedChunks    []RankedChunk
	BaselineNU      float64
	ChunksProcessed int
	BatchesUsed     int
	DurationMs      int64
	OriginalCount   int
	PrunedCount     int
	PruningRatio    float64
}

// Pruner scores and prunes candidates using an NU calculator.
type Pruner struct {
	nu     *nucalc.Calculator
	cfg    Config
	logger *zap.Logger

	warnOnce sync.Once
}

// New builds a Pruner. A zero-value cfg is filled with spec §6 defaults.
func New(nu *nucalc.Calculator, cfg Config, logger *zap.Logger) *Pruner {
	if cfg.Strategy == "" {
		cfg.Strategy = "threshold"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.IGWeight == 0 {
		cfg.IGWeight = 0.7
	}
	if cfg.CandidateChars == 0 {
		cfg.CandidateChars = 1500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{nu: nu, cfg: cfg, logger: logger}
}

// Prune runs spec §4.9's procedure: a baseline NU, per-candidate IG in
// bounded-concurrency batches, strategy-driven selection, and a final
// stable sort (descending igScore, ascending chunk.id tie-break — Open
// Question resolution 1).
func (p *Pruner) Prune(ctx context.Context, question string, candidates []Candidate) (*Result, error) {
	started := time.Now()

	if len(candidates) == 0 {
		return &Result{BaselineNU: 0, DurationMs: time.Since(started).Milliseconds()}, nil
	}

	if !p.cfg.Enabled {
		return p.passthroughResult(candidates, started), nil
	}

	baseline, err := p.nu.Compute(ctx, question)
	if err != nil {
		if isLogprobsUnsupported(err) {
			p.warnOnce.Do(func() {
				p.logger.Warn("IG pruning disabled: LLM provider does not support logprobs")
			})
			return p.passthroughResult(candidates, started), nil
		}
		return nil, fmt.Errorf("igpruner: baseline NU: %w", err)
	}

	igScores := make([]float64, len(candidates))
	batchesUsed := 0
	processed := 0

	for start := 0; start < len(candidates); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		if err := p.scoreBatch(ctx, question, candidates[start:end], baseline.NU, igScores[start:end]); err != nil {
			return nil, err
		}
		batchesUsed++
		processed += end - start
	}

	ranked := p.applyStrategy(candidates, igScores)

	result := &Result{
		RankedChunks:    ranked,
		BaselineNU:      baseline.NU,
		ChunksProcessed: processed,
		BatchesUsed:     batchesUsed,
		DurationMs:      time.Since(started).Milliseconds(),
		OriginalCount:   len(candidates),
		PrunedCount:     len(ranked),
	}
	if result.OriginalCount > 0 {
		result.PruningRatio = 1 - float64(result.PrunedCount)/float64(result.OriginalCount)
	}
	return result, nil
}

// PruneWithOverride runs Prune with Enabled overridden for this one call,
// for callers (e.g. the query tool) that expose igpOptions.enabled as a
// per-request option rather than a fixed wiring-time setting. A nil enabled
// leaves the wired Config unchanged.
func (p *Pruner) PruneWithOverride(ctx context.Context, question string, candidates []Candidate, enabled *bool) (*Result, error) {
	if enabled == nil {
		return p.Prune(ctx, question, candidates)
	}
	overrideCfg := p.cfg
	overrideCfg.Enabled = *enabled
	override := &Pruner{nu: p.nu, cfg: overrideCfg, logger: p.logger}
	return override.Prune(ctx, question, candidates)
}

// scoreBatch computes IG for one batch with bounded, per-batch concurrency
// (spec §4.9 step 5: "all requests in a batch run in parallel"). A
// per-candidate LLM failure is non-fatal: it's logged and assigned -Inf so
// the candidate ranks last. Context cancellation aborts the whole batch.
func (p *Pruner) scoreBatch(ctx context.Context, question string, batch []Candidate, baselineNU float64, out []float64) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range batch {
		i := i
		cand := batch[i]
		g.Go(func() error {
			content := truncateChars(cand.Chunk.Content, p.cfg.CandidateChars)
			prompt := composeCandidatePrompt(question, content)

			nuQD, err := p.nu.Compute(gctx, prompt)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				p.logger.Warn("igpruner: candidate NU computation failed, ranking last",
					zap.String("chunk_id", cand.Chunk.ID), zap.Error(err))
				out[i] = math.Inf(-1)
				return nil
			}
			out[i] = baselineNU - nuQD.NU
			return nil
		})
	}

	return g.Wait()
}

func composeCandidatePrompt(question, candidateContent string) string {
	return question + "\n\n" + candidateContent
}

func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// applyStrategy implements spec §4.9 step 4. All three strategies funnel
// into the same final stable sort (descending igScore, ascending chunk.id)
// per Open Question resolution 1; "threshold"'s retrieval-order note
// governs only which candidates survive the cut, not their final order.
func (p *Pruner) applyStrategy(candidates []Candidate, igScores []float64) []RankedChunk {
	all := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		all[i] = RankedChunk{Chunk: c.Chunk, IGScore: igScores[i], RetrievalRank: c.RetrievalRank}
	}

	var kept []RankedChunk
	switch p.cfg.Strategy {
	case "topK":
		kept = append(kept, all...)
		sortRanked(kept)
		if len(kept) > p.cfg.TopK {
			kept = kept[:p.cfg.TopK]
		}
		return kept

	case "combined":
		return p.combinedRank(all, candidates)

	default: // "threshold"
		for _, rc := range all {
			if rc.IGScore >= p.cfg.Threshold {
				kept = append(kept, rc)
			}
		}
		sortRanked(kept)
		return kept
	}
}

// combinedRank reranks every candidate by γ·IG' + (1−γ)·score' after
// min-max normalizing both IG and the original retrieval score to [0,1].
func (p *Pruner) combinedRank(all []RankedChunk, candidates []Candidate) []RankedChunk {
	igMin, igMax := minMax(extractIG(all))
	scoreMin, scoreMax := minMax(extractScores(candidates))

	combined := make([]RankedChunk, len(all))
	for i, rc := range all {
		igNorm := normalize(rc.IGScore, igMin, igMax)
		scoreNorm := normalize(candidates[i].Score, scoreMin, scoreMax)
		combined[i] = RankedChunk{
			Chunk:         rc.Chunk,
			IGScore:       p.cfg.IGWeight*igNorm + (1-p.cfg.IGWeight)*scoreNorm,
			RetrievalRank: rc.RetrievalRank,
		}
	}
	sortRanked(combined)
	return combined
}

func extractIG(ranked []RankedChunk) []float64 {
	out := make([]float64, len(ranked))
	for i, r := range ranked {
		out[i] = r.IGScore
	}
	return out
}

func extractScores(candidates []Candidate) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = c.Score
	}
	return out
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 1
	}
	return (v - min) / (max - min)
}

func sortRanked(ranked []RankedChunk) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].IGScore != ranked[j].IGScore {
			return ranked[i].IGScore > ranked[j].IGScore
		}
		return ranked[i].Chunk.ID < ranked[j].Chunk.ID
	})
}

// passthroughResult implements spec §4.9's "enabled=false" and
// "logprobs-unsupported" edge policies: input returned unchanged with
// igScore=0 and batchesUsed=0.
func (p *Pruner) passthroughResult(candidates []Candidate, started time.Time) *Result {
	ranked := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedChunk{Chunk: c.Chunk, IGScore: 0, RetrievalRank: c.RetrievalRank}
	}
	return &Result{
		RankedChunks:    ranked,
		BaselineNU:      0,
		ChunksProcessed: 0,
		BatchesUsed:     0,
		DurationMs:      time.Since(started).Milliseconds(),
		OriginalCount:   len(candidates),
		PrunedCount:     len(candidates),
		PruningRatio:    0,
	}
}

func isLogprobsUnsupported(err error) bool {
	var coreErr *coreerr.CoreError
	return errors.As(err, &coreErr) && coreErr.Kind == coreerr.KindLogprobsUnsupported
}
