package embed

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// localModels maps the friendly model names spec §6 accepts to fastembed's
// model constants and their fixed dimensions.
var localModels = map[string]struct {
	model     fastembed.EmbeddingModel
	dimension int
}{
	"BAAI/bge-small-en-v1.5":                 {fastembed.BGESmallENV15, 384},
	"BAAI/bge-small-en":                      {fastembed.BGESmallEN, 384},
	"BAAI/bge-base-en-v1.5":                  {fastembed.BGEBaseENV15, 768},
	"BAAI/bge-base-en":                       {fastembed.BGEBaseEN, 768},
	"sentence-transformers/all-MiniLM-L6-v2": {fastembed.AllMiniLML6V2, 384},
}

// LocalEmbedder runs embedding inference in-process via fastembed-go's
// bundled ONNX runtime, avoiding a network hop for the default deployment.
type LocalEmbedder struct {
	model     *fastembed.FlagEmbedding
	dimension int
	mu        sync.RWMutex
}

// NewLocalEmbedder loads (and, on first run, downloads) the named model into
// cacheDir. An empty cacheDir defaults to "./local_cache", matching
// fastembed-go's own default layout.
func NewLocalEmbedder(modelName, cacheDir string) (*LocalEmbedder, error) {
	entry, ok := localModels[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported local model %q", ErrProvider, modelName)
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                entry.model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: init local model %q: %w", modelName, err)
	}

	return &LocalEmbedder{model: flagEmbed, dimension: entry.dimension}, nil
}

func (e *LocalEmbedder) Dimension() int { return e.dimension }

// Embed implements Embedder, using fastembed's query-prefixed embedding
// (BGE models expect "query: " for asymmetric retrieval).
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	vec, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if err := checkDimension(vec, e.dimension); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch implements Embedder, using fastembed's passage-prefixed batch
// embedding (documents, not queries).
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	vectors, err := e.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	for _, v := range vectors {
		if err := checkDimension(v, e.dimension); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// Close releases the underlying ONNX session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model.Destroy()
	}
	return nil
}
