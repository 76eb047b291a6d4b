// Package generator implements answer generation and faithfulness
// verification over a set of pruned chunks (spec §4.10).
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/evidence"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/llm"
)

const systemPreamble = "Answer using only the provided evidence, and cite sources with [i] markers matching the numbered evidence list."

// Config holds the Generator's tunables (spec §4.10, §6 defaults).
type Config struct {
	PromptCharBudget       int
	EnableVerification     bool
	FaithfulnessThreshold  float64
	RetryOnLowFaithfulness bool
}

// DefaultConfig returns spec §6's defaults.
func DefaultConfig() Config {
	return Config{PromptCharBudget: 12000, FaithfulnessThreshold: 0.7}
}

// Result is the Generator's contract output.
type Result struct {
	Answer            string
	Sources           []evidence.Pointer
	FaithfulnessScore *float64
	DurationMs        int64
}

// Generator composes prompts, calls an LLM for an answer, and optionally
// verifies that answer against the evidence it cites.
type Generator struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Generator. A zero-value cfg is filled with spec defaults.
func New(client llm.Client, cfg Config, logger *zap.Logger) *Generator {
	if cfg.PromptCharBudget == 0 {
		cfg.PromptCharBudget = DefaultConfig().PromptCharBudget
	}
	if cfg.FaithfulnessThreshold == 0 {
		cfg.FaithfulnessThreshold = DefaultConfig().FaithfulnessThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// GenerateWithVerification runs Generate with EnableVerification overridden
// for this one call, for callers (e.g. the query tool) that expose
// enableVerification as a per-request option rather than a fixed wiring-time
// setting.
func (g *Generator) GenerateWithVerification(ctx context.Context, question string, chunks []bundle.Chunk, enableVerification bool) (*Result, error) {
	override := *g
	override.cfg.EnableVerification = enableVerification
	return override.Generate(ctx, question, chunks)
}

// evidenceItem is one numbered prompt entry, indexed 1-based to match the
// "[i]" citation markers the LLM is asked to produce.
type evidenceItem struct {
	index int
	chunk bundle.Chunk
}

// Generate runs spec §4.10's procedure: compose a budgeted, numbered-evidence
// prompt, call the LLM for an answer, extract the chunks it actually cited
// into sources[], and optionally verify faithfulness with a second call.
func (g *Generator) Generate(ctx context.Context, question string, chunks []bundle.Chunk) (*Result, error) {
	started := time.Now()

	items, truncated := budgetEvidence(chunks, g.cfg.PromptCharBudget)
	if truncated {
		g.logger.Warn("generator: evidence list truncated to fit prompt budget",
			zap.Int("charBudget", g.cfg.PromptCharBudget), zap.Int("kept", len(items)), zap.Int("offered", len(chunks)))
	}
	prompt := composePrompt(question, items)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		System: systemPreamble,
	})
	if err != nil {
		return g.partialFailure(err, nil, started)
	}

	cited := extractCitations(resp.Text)
	sources := buildSources(items, cited)

	result := &Result{
		Answer:     resp.Text,
		Sources:    sources,
		DurationMs: time.Since(started).Milliseconds(),
	}

	if !g.cfg.EnableVerification {
		return result, nil
	}

	score, err := g.verify(ctx, question, result.Answer, items, cited)
	if err != nil {
		g.logger.Warn("generator: faithfulness verification failed, returning answer unverified", zap.Error(err))
		return result, nil
	}

	if score < g.cfg.FaithfulnessThreshold && g.cfg.RetryOnLowFaithfulness {
		retryResp, retryErr := g.client.Complete(ctx, llm.CompletionRequest{
			Prompt: prompt,
			System: systemPreamble + " Be strict: do not state anything the evidence does not explicitly support.",
		})
		if retryErr == nil {
			retryCited := extractCitations(retryResp.Text)
			retryScore, verifyErr := g.verify(ctx, question, retryResp.Text, items, retryCited)
			if verifyErr == nil {
				result.Answer = retryResp.Text
				result.Sources = buildSources(items, retryCited)
				score = retryScore
			}
		}
	}

	result.FaithfulnessScore = &score
	result.DurationMs = time.Since(started).Milliseconds()
	return result, nil
}

// partialFailure implements spec §4.10's failure semantics: a terminal LLM
// failure still returns whatever sources[] had already been gathered (none,
// since the answer call itself failed) alongside an error the caller maps to
// ErrorKind::LlmTerminal. Retries for LlmTransient happen inside the
// underlying llm.Client, so by the time an error reaches here it is final.
func (g *Generator) partialFailure(err error, sources []evidence.Pointer, started time.Time) (*Result, error) {
	return &Result{Sources: sources, DurationMs: time.Since(started).Milliseconds()}, fmt.Errorf("generator: %w", err)
}

// budgetEvidence numbers and truncates the chunk list so the rendered prompt
// stays within charBudget, keeping whole chunks rather than truncating mid-chunk.
func budgetEvidence(chunks []bundle.Chunk, charBudget int) ([]evidenceItem, bool) {
	items := make([]evidenceItem, 0, len(chunks))
	used := len(systemPreamble)
	truncated := false

	for i, c := range chunks {
		line := renderEvidenceLine(i+1, c)
		if used+len(line) > charBudget && len(items) > 0 {
			truncated = true
			break
		}
		items = append(items, evidenceItem{index: i + 1, chunk: c})
		used += len(line)
	}
	return items, truncated
}

func renderEvidenceLine(index int, c bundle.Chunk) string {
	loc := fmt.Sprintf("%s:%d-%d", c.Metadata.FilePath, c.Metadata.StartLine, c.Metadata.EndLine)
	return fmt.Sprintf("[%d] %s — %s\n", index, loc, c.Content)
}

func composePrompt(question string, items []evidenceItem) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nEvidence:\n")
	for _, item := range items {
		b.WriteString(renderEvidenceLine(item.index, item.chunk))
	}
	return b.String()
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations returns the distinct [i] indices referenced in answer, in
// order of first appearance.
func extractCitations(answer string) []int {
	seen := make(map[int]bool)
	var order []int
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !seen[n] {
			seen[n] = true
			order = append(order, n)
		}
	}
	return order
}

// buildSources implements spec §4.10 step 3: only cited chunks, in order of
// first citation, each turned into an EvidencePointer.
func buildSources(items []evidenceItem, cited []int) []evidence.Pointer {
	byIndex := make(map[int]bundle.Chunk, len(items))
	for _, item := range items {
		byIndex[item.index] = item.chunk
	}

	sources := make([]evidence.Pointer, 0, len(cited))
	for _, idx := range cited {
		c, ok := byIndex[idx]
		if !ok {
			continue
		}
		sources = append(sources, evidence.FromChunk(c.Metadata.FilePath, c.Metadata.StartLine, c.Metadata.EndLine, c.Content))
	}
	return sources
}

// verify runs spec §4.10 step 4: a second LLM call scoring the fraction of
// answer sentences entailed by the concatenated cited evidence.
func (g *Generator) verify(ctx context.Context, question, answer string, items []evidenceItem, cited []int) (float64, error) {
	var evidenceText strings.Builder
	byIndex := make(map[int]bundle.Chunk, len(items))
	for _, item := range items {
		byIndex[item.index] = item.chunk
	}
	for _, idx := range cited {
		if c, ok := byIndex[idx]; ok {
			evidenceText.WriteString(c.Content)
			evidenceText.WriteString("\n")
		}
	}

	prompt := fmt.Sprintf(
		"Question: %s\n\nAnswer:\n%s\n\nEvidence:\n%s\n\nScore, as a single decimal number between 0 and 1, the fraction of sentences in the answer that are directly entailed by the evidence above. Respond with only the number.",
		question, answer, evidenceText.String(),
	)

	resp, err := g.client.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return 0, err
	}

	score, err := parseScore(resp.Text)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.KindUnknown, "generator: unparsable faithfulness score", err)
	}
	return score, nil
}

var scorePattern = regexp.MustCompile(`(\d*\.?\d+)`)

func parseScore(text string) (float64, error) {
	match := scorePattern.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0, fmt.Errorf("no numeric score found in %q", text)
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, nil
}
