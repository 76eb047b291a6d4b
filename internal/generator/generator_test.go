package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/llm"
)

type scriptedLLM struct {
	responses []llm.CompletionResponse
	errs      []error
	calls     int
	lastReqs  []llm.CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.lastReqs = append(s.lastReqs, req)
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], err
	}
	return llm.CompletionResponse{}, err
}

func (s *scriptedLLM) SupportsLogprobs() bool { return false }

func chunk(id, path string, start, end int, content string) bundle.Chunk {
	return bundle.Chunk{
		ID:      id,
		Content: content,
		Metadata: bundle.ChunkMetadata{
			FilePath:  path,
			StartLine: start,
			EndLine:   end,
		},
	}
}

func TestGenerate_BuildsSourcesOnlyFromCitedChunks(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "The answer relies on [1] and [2]."},
	}}
	g := New(client, Config{}, nil)

	chunks := []bundle.Chunk{
		chunk("a", "pkg/a.go", 1, 10, "func A() {}"),
		chunk("b", "pkg/b.go", 1, 5, "func B() {}"),
		chunk("c", "pkg/c.go", 1, 5, "func C() {}"),
	}
	result, err := g.Generate(context.Background(), "what does A do?", chunks)
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "pkg/a.go", result.Sources[0].Path)
	assert.Equal(t, "pkg/b.go", result.Sources[1].Path)
}

func TestGenerate_SourcesOrderedByFirstCitationNotChunkOrder(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "See [2] first, then [1]."},
	}}
	g := New(client, Config{}, nil)

	chunks := []bundle.Chunk{
		chunk("a", "pkg/a.go", 1, 10, "func A() {}"),
		chunk("b", "pkg/b.go", 1, 5, "func B() {}"),
	}
	result, err := g.Generate(context.Background(), "q", chunks)
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "pkg/b.go", result.Sources[0].Path)
	assert.Equal(t, "pkg/a.go", result.Sources[1].Path)
}

func TestGenerate_NoCitationsYieldsEmptySources(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{{Text: "No evidence needed here."}}}
	g := New(client, Config{}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
}

func TestGenerate_LLMFailureReturnsErrorWithNoSources(t *testing.T) {
	client := &scriptedLLM{errs: []error{assert.AnError}}
	g := New(client, Config{}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Sources)
}

func TestGenerate_VerificationDisabledByDefault(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{{Text: "answer with [1]."}}}
	g := New(client, Config{}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.NoError(t, err)
	assert.Nil(t, result.FaithfulnessScore)
	assert.Equal(t, 1, client.calls)
}

func TestGenerate_VerificationScoresFaithfulness(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "answer with [1]."},
		{Text: "0.85"},
	}}
	g := New(client, Config{EnableVerification: true}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.NoError(t, err)
	require.NotNil(t, result.FaithfulnessScore)
	assert.InDelta(t, 0.85, *result.FaithfulnessScore, 1e-9)
	assert.Equal(t, 2, client.calls)
}

func TestGenerate_RetriesOnceWhenFaithfulnessBelowThresholdAndRetryEnabled(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "shaky answer with [1]."},
		{Text: "0.2"},
		{Text: "stricter answer with [1]."},
		{Text: "0.9"},
	}}
	g := New(client, Config{EnableVerification: true, FaithfulnessThreshold: 0.7, RetryOnLowFaithfulness: true}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.NoError(t, err)
	require.NotNil(t, result.FaithfulnessScore)
	assert.InDelta(t, 0.9, *result.FaithfulnessScore, 1e-9)
	assert.Equal(t, "stricter answer with [1].", result.Answer)
	assert.Equal(t, 4, client.calls)
}

func TestGenerate_NoRetryWhenRetryOnLowFaithfulnessDisabled(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "shaky answer with [1]."},
		{Text: "0.2"},
	}}
	g := New(client, Config{EnableVerification: true, FaithfulnessThreshold: 0.7, RetryOnLowFaithfulness: false}, nil)

	result, err := g.Generate(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")})
	require.NoError(t, err)
	require.NotNil(t, result.FaithfulnessScore)
	assert.InDelta(t, 0.2, *result.FaithfulnessScore, 1e-9)
	assert.Equal(t, 2, client.calls)
}

func TestGenerate_PromptBudgetTruncatesEvidenceList(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{{Text: "answer"}}}
	g := New(client, Config{PromptCharBudget: 80}, nil)

	chunks := []bundle.Chunk{
		chunk("a", "pkg/a.go", 1, 1, "short content here that fits within budget nicely"),
		chunk("b", "pkg/b.go", 1, 1, "another chunk of content that will not fit once the budget is spent"),
		chunk("c", "pkg/c.go", 1, 1, "yet another chunk"),
	}
	_, err := g.Generate(context.Background(), "q", chunks)
	require.NoError(t, err)
	require.NotEmpty(t, client.lastReqs)
	assert.LessOrEqual(t, len(client.lastReqs[0].Prompt), len(composePrompt("q", []evidenceItem{{index: 1, chunk: chunks[0]}})))
}

func TestGenerateWithVerification_OverridesWiredConfigForOneCall(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{
		{Text: "answer with [1]."},
		{Text: "0.6"},
	}}
	g := New(client, Config{EnableVerification: false}, nil)

	result, err := g.GenerateWithVerification(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")}, true)
	require.NoError(t, err)
	require.NotNil(t, result.FaithfulnessScore)
	assert.InDelta(t, 0.6, *result.FaithfulnessScore, 1e-9)
}

func TestGenerateWithVerification_FalseSkipsVerificationDespiteWiredDefault(t *testing.T) {
	client := &scriptedLLM{responses: []llm.CompletionResponse{{Text: "answer with [1]."}}}
	g := New(client, Config{EnableVerification: true}, nil)

	result, err := g.GenerateWithVerification(context.Background(), "q", []bundle.Chunk{chunk("a", "p", 1, 1, "x")}, false)
	require.NoError(t, err)
	assert.Nil(t, result.FaithfulnessScore)
	assert.Equal(t, 1, client.calls)
}

func TestExtractCitations_DedupsAndPreservesFirstOccurrenceOrder(t *testing.T) {
	got := extractCitations("refs [2] and [1] and again [2]")
	assert.Equal(t, []int{2, 1}, got)
}

func TestParseScore_ClampsToUnitInterval(t *testing.T) {
	v, err := parseScore("1.4")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestParseScore_ErrorsOnNoNumber(t *testing.T) {
	_, err := parseScore("not a number")
	assert.Error(t, err)
}
