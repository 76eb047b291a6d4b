// Package llm implements the completion-endpoint client used by the NU
// Calculator (spec §4.8) and the Generator (spec §4.10): a single
// OpenAI-chat-completions-compatible HTTP client, configurable for either
// "x-api-key" (Anthropic-style) or "bearer" (OpenAI-style) auth, with
// rate limiting and retry/backoff in the teacher's style.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/coreerr"
)

// CompletionRequest is one call to the completion endpoint.
type CompletionRequest struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	// TopLogprobs requests the top-N log-probabilities at each generated
	// token position. 0 disables logprobs entirely.
	TopLogprobs int
}

// TokenLogprob is one generated token's log-probability distribution over
// its top-N alternatives (spec §4.8 step 2: "array of topK log-probabilities").
type TokenLogprob struct {
	Token       string
	TopLogprobs []float64 // natural-log probabilities, same order the provider returned
}

// CompletionResponse is the client's normalized result.
type CompletionResponse struct {
	Text   string
	Tokens []TokenLogprob // empty unless TopLogprobs > 0 was requested and the provider supports it
}

// Client is the completion-endpoint abstraction the NU Calculator, IG
// Pruner, and Generator depend on.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	// SupportsLogprobs is the pure provider-URL predicate spec §4.8 requires
	// callers to check before requesting TopLogprobs > 0.
	SupportsLogprobs() bool
}

// AuthMode selects how the API key is attached to outgoing requests.
const (
	AuthModeAPIKey AuthMode = "x-api-key"
	AuthModeBearer AuthMode = "bearer"
)

type AuthMode string

// Config configures a single Client instance.
type Config struct {
	BaseURL       string
	Model         string
	APIKey        string
	AuthMode      AuthMode
	Timeout       time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor int
	RateLimit     float64 // requests/second; 0 uses the package default
	RateBurst     int
	// SupportsLogprobs declares whether this endpoint returns top_logprobs
	// in its chat-completions response (spec §4.8: a pure, provider-known
	// capability, not something probed at request time).
	SupportsLogprobs bool
}

const (
	defaultTimeout       = 60 * time.Second
	defaultMaxRetries    = 2
	defaultBackoffBase   = 500 * time.Millisecond
	defaultBackoffFactor = 2
	defaultRateLimit     = 50.0 / 60.0
	defaultRateBurst     = 5
)

// New builds a Client from cfg, filling in spec §4.8/§4.9 backoff defaults
// (base 500ms, factor 2, ≤3 attempts) where the caller left them zero.
func New(cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: base URL required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key required")
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeBearer
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = defaultBackoffFactor
	}
	rl := cfg.RateLimit
	if rl == 0 {
		rl = defaultRateLimit
	}
	burst := cfg.RateBurst
	if burst == 0 {
		burst = defaultRateBurst
	}

	return &httpClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rl), burst),
	}, nil
}

// httpClient is a chat-completions-style client that covers both
// Anthropic-shaped and OpenAI-shaped endpoints via cfg.AuthMode, mirroring
// the teacher's anthropicLLMClient/openAILLMClient pair collapsed into one
// configurable implementation since spec §4.8/§4.10 name no specific vendor.
type httpClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func (c *httpClient) SupportsLogprobs() bool {
	return c.cfg.SupportsLogprobs
}

func (c *httpClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if req.TopLogprobs > 0 && !c.cfg.SupportsLogprobs {
		return CompletionResponse{}, coreerr.New(coreerr.KindLogprobsUnsupported,
			fmt.Sprintf("provider %s does not support top_logprobs", c.cfg.BaseURL))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: rate limiter: %w", err)
	}

	body := buildRequestBody(c.cfg, req)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BackoffBase * time.Duration(pow(c.cfg.BackoffFactor, attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return CompletionResponse{}, coreerr.Wrap(coreerr.KindLLMTerminal, "completion request failed", err)
		}
	}

	return CompletionResponse{}, coreerr.Wrap(coreerr.KindLLMTransient, "completion request exhausted retries", lastErr)
}

func pow(base, exp int) int {
	result := 1
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (c *httpClient) doRequest(ctx context.Context, body []byte) (CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch c.cfg.AuthMode {
	case AuthModeAPIKey:
		httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, &retryableError{err: fmt.Errorf("llm: request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return CompletionResponse{}, &retryableError{err: fmt.Errorf("llm: rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return CompletionResponse{}, &retryableError{err: fmt.Errorf("llm: server error (%d): %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return CompletionResponse{}, fmt.Errorf("llm: API error (%d): %s", resp.StatusCode, respBody)
	}

	return parseResponseBody(respBody)
}

// retryableError marks an error as eligible for the backoff loop, mirroring
// the teacher's retryableError/isRetryableError pair.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	for e := err; e != nil; {
		if _, ok := e.(*retryableError); ok {
			return true
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = unwrapper.Unwrap()
	}
	return false
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Logprobs    bool          `json:"logprobs,omitempty"`
	TopLogprobs int           `json:"top_logprobs,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildRequestBody(cfg Config, req CompletionRequest) []byte {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.TopLogprobs > 0 {
		body.Logprobs = true
		body.TopLogprobs = req.TopLogprobs
	}

	data, _ := json.Marshal(body)
	return data
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []struct {
				Token       string `json:"token"`
				TopLogprobs []struct {
					Token   string  `json:"token"`
					Logprob float64 `json:"logprob"`
				} `json:"top_logprobs"`
			} `json:"content"`
		} `json:"logprobs"`
	} `json:"choices"`
}

func parseResponseBody(body []byte) (CompletionResponse, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("llm: empty response")
	}

	choice := parsed.Choices[0]
	out := CompletionResponse{Text: choice.Message.Content}
	if choice.Logprobs != nil {
		out.Tokens = make([]TokenLogprob, 0, len(choice.Logprobs.Content))
		for _, tok := range choice.Logprobs.Content {
			logprobs := make([]float64, 0, len(tok.TopLogprobs))
			for _, alt := range tok.TopLogprobs {
				logprobs = append(logprobs, alt.Logprob)
			}
			out.Tokens = append(out.Tokens, TokenLogprob{Token: tok.Token, TopLogprobs: logprobs})
		}
	}
	return out, nil
}

var _ Client = (*httpClient)(nil)
