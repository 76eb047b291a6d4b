package nucalc

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/llm"
)

type stubLLM struct {
	resp             llm.CompletionResponse
	err              error
	supportsLogprobs bool
	lastReq          llm.CompletionRequest
}

func (s *stubLLM) Complete(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	s.lastReq = req
	return s.resp, s.err
}

func (s *stubLLM) SupportsLogprobs() bool { return s.supportsLogprobs }

func TestCompute_NoTokensProducedYieldsZeroNU(t *testing.T) {
	client := &stubLLM{resp: llm.CompletionResponse{Text: ""}, supportsLogprobs: true}
	calc := New(client, DefaultConfig())

	result, err := calc.Compute(context.Background(), "question")
	require.NoError(t, err)
	assert.Zero(t, result.NU)
	assert.Zero(t, result.TokensSeen)
}

func TestCompute_ConfidentTokenYieldsLowNU(t *testing.T) {
	// One token with an overwhelmingly dominant top alternative: entropy near 0.
	client := &stubLLM{
		resp: llm.CompletionResponse{
			Tokens: []llm.TokenLogprob{
				{Token: "yes", TopLogprobs: []float64{math.Log(0.999), math.Log(0.0002), math.Log(0.0002), math.Log(0.0003), math.Log(0.0003)}},
			},
		},
		supportsLogprobs: true,
	}
	calc := New(client, Config{TopK: 5, MaxTokens: 30})

	result, err := calc.Compute(context.Background(), "question")
	require.NoError(t, err)
	assert.Less(t, result.NU, 0.1)
	assert.Equal(t, 1, result.TokensSeen)
}

func TestCompute_UniformTokenYieldsMaximalNU(t *testing.T) {
	// Uniform distribution over topK alternatives maximizes entropy -> h_i == 1.
	uniform := math.Log(1.0 / 5.0)
	client := &stubLLM{
		resp: llm.CompletionResponse{
			Tokens: []llm.TokenLogprob{
				{Token: "x", TopLogprobs: []float64{uniform, uniform, uniform, uniform, uniform}},
			},
		},
		supportsLogprobs: true,
	}
	calc := New(client, Config{TopK: 5, MaxTokens: 30})

	result, err := calc.Compute(context.Background(), "question")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.NU, 1e-9)
}

func TestCompute_AveragesAcrossMultipleTokens(t *testing.T) {
	confident := []float64{math.Log(0.999), math.Log(0.0002), math.Log(0.0002), math.Log(0.0003), math.Log(0.0003)}
	uniform := []float64{math.Log(0.2), math.Log(0.2), math.Log(0.2), math.Log(0.2), math.Log(0.2)}
	client := &stubLLM{
		resp: llm.CompletionResponse{
			Tokens: []llm.TokenLogprob{
				{Token: "a", TopLogprobs: confident},
				{Token: "b", TopLogprobs: uniform},
			},
		},
		supportsLogprobs: true,
	}
	calc := New(client, Config{TopK: 5, MaxTokens: 30})

	result, err := calc.Compute(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, 2, result.TokensSeen)
	assert.Greater(t, result.NU, 0.4)
	assert.Less(t, result.NU, 0.6)
}

func TestCompute_PropagatesClientError(t *testing.T) {
	client := &stubLLM{err: assert.AnError}
	calc := New(client, DefaultConfig())

	_, err := calc.Compute(context.Background(), "question")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCompute_RequestsZeroTemperatureAndConfiguredTopK(t *testing.T) {
	client := &stubLLM{resp: llm.CompletionResponse{}, supportsLogprobs: true}
	calc := New(client, Config{TopK: 7, MaxTokens: 12})

	_, err := calc.Compute(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, 0.0, client.lastReq.Temperature)
	assert.Equal(t, 7, client.lastReq.TopLogprobs)
	assert.Equal(t, 12, client.lastReq.MaxTokens)
}
