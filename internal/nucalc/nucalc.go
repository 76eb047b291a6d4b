// Package nucalc computes Normalized Uncertainty (spec §4.8): a
// logprobs-derived entropy score used by the IG Pruner as the basis for
// information-gain scoring.
package nucalc

import (
	"context"
	"math"
	"time"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/llm"
)

// Config holds the NU Calculator's tunables.
type Config struct {
	TopK      int // top_logprobs requested per token position; spec default 5
	MaxTokens int // spec default 30
}

// DefaultConfig returns spec §4.8's defaults.
func DefaultConfig() Config {
	return Config{TopK: 5, MaxTokens: 30}
}

// Result is the NU Calculator's contract output.
type Result struct {
	NU         float64
	TokensSeen int
	DurationMs int64
}

// Calculator computes NU against an llm.Client.
type Calculator struct {
	client llm.Client
	cfg    Config
}

// New builds a Calculator. A zero-value cfg is filled with spec defaults.
func New(client llm.Client, cfg Config) *Calculator {
	if cfg.TopK == 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &Calculator{client: client, cfg: cfg}
}

// Compute runs spec §4.8's procedure against prompt: a zero-temperature,
// logprobs-enabled completion call followed by per-token entropy averaging.
func (c *Calculator) Compute(ctx context.Context, prompt string) (Result, error) {
	started := time.Now()

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0,
		TopLogprobs: c.cfg.TopK,
	})
	if err != nil {
		return Result{}, err
	}

	if len(resp.Tokens) == 0 {
		return Result{NU: 0, TokensSeen: 0, DurationMs: time.Since(started).Milliseconds()}, nil
	}

	logK := math.Log(float64(c.cfg.TopK))
	var sumH float64
	for _, tok := range resp.Tokens {
		sumH += normalizedEntropy(tok.TopLogprobs, logK)
	}

	return Result{
		NU:         sumH / float64(len(resp.Tokens)),
		TokensSeen: len(resp.Tokens),
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// normalizedEntropy converts one token's top-K log-probabilities into
// h_i = H_i / log(topK), per spec §4.8 steps 2-4: exponentiate, renormalize
// against clipping, compute Shannon entropy, scale into [0,1].
func normalizedEntropy(logprobs []float64, logK float64) float64 {
	if len(logprobs) == 0 || logK == 0 {
		return 0
	}

	probs := make([]float64, len(logprobs))
	var sum float64
	for i, lp := range logprobs {
		probs[i] = math.Exp(lp)
		sum += probs[i]
	}
	if sum == 0 {
		return 0
	}
	for i := range probs {
		probs[i] /= sum
	}

	var h float64
	for _, p := range probs {
		if p <= 0 {
			continue
		}
		h -= p * math.Log(p)
	}
	return h / logK
}
