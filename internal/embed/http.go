package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPEmbedder calls a TEI-compatible `/embed` endpoint (the pattern the
// teacher's embeddings service uses), for when an embeddings base URL is
// configured (config key embeddings.base_url).
type HTTPEmbedder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder. dimension must be known ahead
// of time (the provider's model card) since TEI's /embed response carries no
// dimension metadata of its own.
func NewHTTPEmbedder(baseURL, model, apiKey string, dimension int, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPEmbedder{baseURL: baseURL, model: model, apiKey: apiKey, dimension: dimension, client: client}
}

type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

func (h *HTTPEmbedder) Dimension() int { return h.dimension }

// Embed implements Embedder.
func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := h.call(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProvider)
	}
	if err := checkDimension(vectors[0], h.dimension); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements Embedder. One batched request is attempted first
// since it is cheaper; if it fails for any reason, or returns a different
// number of vectors than texts, EmbedBatch falls back to SequentialBatch.
func (h *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := h.call(ctx, texts)
	if err != nil {
		return SequentialBatch(ctx, h, texts)
	}
	if len(vectors) != len(texts) {
		return SequentialBatch(ctx, h, texts)
	}
	for _, v := range vectors {
		if err := checkDimension(v, h.dimension); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (h *HTTPEmbedder) call(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	return vectors, nil
}
