// Package config provides configuration loading for the preflight retrieval core.
//
// Configuration is loaded from environment variables (and an optional YAML
// file) with sensible defaults, mirroring the enumerated options in spec §6:
// chunking, AST filtering, retrieval, information-gain pruning, LLM calls,
// and concurrency.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the complete configuration for the retrieval-and-pruning core.
type Config struct {
	Storage     StorageConfig     `koanf:"storage"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Chunk       ChunkConfig       `koanf:"chunk"`
	ASTFilter   ASTFilterConfig   `koanf:"ast_filter"`
	Indexer     IndexerConfig     `koanf:"indexer"`
	Retriever   RetrieverConfig   `koanf:"retriever"`
	IGP         IGPConfig         `koanf:"igp"`
	LLM         LLMConfig         `koanf:"llm"`
	Concurrency ConcurrencyConfig `koanf:"concurrency"`
}

// IndexerConfig controls orchestration policy for the Indexer (spec §4.6).
type IndexerConfig struct {
	// LeasePolicy is "wait" (block until the bundle's write lease frees, the
	// default) or "fail_fast" (return BUNDLE_BUSY immediately if another
	// index run holds the lease).
	LeasePolicy string `koanf:"lease_policy"`
}

// StorageConfig controls where bundle artifacts live on disk.
type StorageConfig struct {
	// Root is the directory holding one subdirectory per bundle.
	Root string `koanf:"root"`

	// MirrorRoots is parsed (comma-separated in env) but nothing in this
	// module reads it: bundles are written under Root only.
	MirrorRoots []string `koanf:"mirror_roots"`

	// TmpDir is used for staging directories during bundle build/update.
	TmpDir string `koanf:"tmp_dir"`

	// StagingStaleAfter is how old an orphaned staging/.deleting.* directory
	// must be before a startup sweep removes it.
	StagingStaleAfter Duration `koanf:"staging_stale_after"`

	// MaxFileBytes caps an individual file considered for chunking.
	MaxFileBytes int64 `koanf:"max_file_bytes"`

	// MaxTotalBytes caps the total bytes read for a single bundle.
	MaxTotalBytes int64 `koanf:"max_total_bytes"`

	// MaxFilesPerBundle is the hard cap on admitted files (spec §4.4 step 2).
	MaxFilesPerBundle int `koanf:"max_files_per_bundle"`

	// IncludeTestFiles disables the chunker's default suppression of
	// test-pattern files (spec §4.4 step 2: "suppressible").
	IncludeTestFiles bool `koanf:"include_test_files"`

	// IncludeGeneratedFiles disables the chunker's default suppression of
	// generated-file patterns (spec §4.4 step 2: "suppressible").
	IncludeGeneratedFiles bool `koanf:"include_generated_files"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// BaseURL is the HTTP embedding endpoint. Empty means "use the in-process
	// fastembed model" (internal/embed.LocalEmbedder).
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	// Dimension is the expected embedding width; must stay stable for a
	// bundle's lifetime (spec §4.1 contract).
	Dimension int `koanf:"dimension"`
}

// ChunkConfig controls document/code splitting (spec §4.4 step 3, §6).
type ChunkConfig struct {
	MaxChars int `koanf:"max_chars"`
	Overlap  int `koanf:"overlap"`
}

// ASTFilterConfig controls symbol admission and truncation (spec §4.5, §6).
type ASTFilterConfig struct {
	MaxFunctions      int `koanf:"max_functions"`
	MinFunctionLines  int `koanf:"min_function_lines"`
	MaxContentLength  int `koanf:"max_content_length"`
}

// RetrieverConfig controls hybrid retrieval (spec §4.7, §6).
type RetrieverConfig struct {
	Mode        string  `koanf:"mode"` // vector | keyword | hybrid
	TopK        int     `koanf:"top_k"`
	Alpha       float64 `koanf:"alpha"`
	MaxHops     int     `koanf:"max_hops"`
	GraphBoost  float64 `koanf:"graph_boost"`
	TopKVector  int     `koanf:"top_k_vector"`
}

// IGPConfig controls information-gain pruning (spec §4.9, §6).
type IGPConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Strategy       string  `koanf:"strategy"` // threshold | topK | combined
	Threshold      float64 `koanf:"threshold"`
	TopK           int     `koanf:"top_k"`
	BatchSize      int     `koanf:"batch_size"`
	IGWeight       float64 `koanf:"ig_weight"`
	CandidateChars int     `koanf:"candidate_chars"`
	NUTopK         int     `koanf:"nu_top_k"`
	NUMaxTokens    int     `koanf:"nu_max_tokens"`
}

// LLMConfig controls calls to the completion/generation endpoint (spec §6).
type LLMConfig struct {
	BaseURL       string `koanf:"base_url"`
	Model         string `koanf:"model"`
	APIKey        Secret `koanf:"api_key"`
	AuthMode      string `koanf:"auth_mode"` // "x-api-key" | "bearer"
	TimeoutMs     int    `koanf:"timeout_ms"`
	MaxRetries    int    `koanf:"max_retries"`
	BackoffBaseMs int    `koanf:"backoff_base_ms"`
	BackoffFactor int    `koanf:"backoff_factor"`

	PromptCharBudget        int     `koanf:"prompt_char_budget"`
	FaithfulnessThreshold   float64 `koanf:"faithfulness_threshold"`
	RetryOnLowFaithfulness  bool    `koanf:"retry_on_low_faithfulness"`
}

// ConcurrencyConfig bounds per-process concurrency (spec §5 backpressure).
type ConcurrencyConfig struct {
	LLM    int `koanf:"llm"`
	Embed  int `koanf:"embed"`
	FileIO int `koanf:"file_io"`
}

// ErrInvalidConfig wraps validation failures.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// NewDefaultConfig returns a Config with every spec §6 default populated.
func NewDefaultConfig() *Config {
	cfg := &Config{IGP: IGPConfig{Enabled: true}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with spec §6 defaults. Safe to call
// repeatedly (idempotent on already-set fields).
func (c *Config) ApplyDefaults() {
	if c.Storage.Root == "" {
		c.Storage.Root = defaultStorageRoot()
	}
	if c.Storage.TmpDir == "" {
		c.Storage.TmpDir = os.TempDir()
	}
	if c.Storage.StagingStaleAfter == 0 {
		c.Storage.StagingStaleAfter = Duration(time.Hour)
	}
	if c.Storage.MaxFileBytes == 0 {
		c.Storage.MaxFileBytes = 512 * 1024
	}
	if c.Storage.MaxTotalBytes == 0 {
		c.Storage.MaxTotalBytes = 50 * 1024 * 1024
	}
	if c.Storage.MaxFilesPerBundle == 0 {
		c.Storage.MaxFilesPerBundle = 20000
	}

	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 384
	}

	if c.Chunk.MaxChars == 0 {
		c.Chunk.MaxChars = 2000
	}
	if c.Chunk.Overlap == 0 {
		c.Chunk.Overlap = 200
	}

	if c.ASTFilter.MaxFunctions == 0 {
		c.ASTFilter.MaxFunctions = 500
	}
	if c.ASTFilter.MinFunctionLines == 0 {
		c.ASTFilter.MinFunctionLines = 3
	}
	if c.ASTFilter.MaxContentLength == 0 {
		c.ASTFilter.MaxContentLength = 2000
	}

	if c.Indexer.LeasePolicy == "" {
		c.Indexer.LeasePolicy = "wait"
	}

	if c.Retriever.Mode == "" {
		c.Retriever.Mode = "hybrid"
	}
	if c.Retriever.TopK == 0 {
		c.Retriever.TopK = 10
	}
	if c.Retriever.Alpha == 0 {
		c.Retriever.Alpha = 0.6
	}
	if c.Retriever.MaxHops == 0 {
		c.Retriever.MaxHops = 2
	}
	if c.Retriever.GraphBoost == 0 {
		c.Retriever.GraphBoost = 0.1
	}
	if c.Retriever.TopKVector == 0 {
		c.Retriever.TopKVector = c.Retriever.TopK
	}

	if c.IGP.Strategy == "" {
		c.IGP.Strategy = "threshold"
	}
	if c.IGP.TopK == 0 {
		c.IGP.TopK = c.Retriever.TopK
	}
	if c.IGP.BatchSize == 0 {
		c.IGP.BatchSize = 5
	}
	if c.IGP.IGWeight == 0 {
		c.IGP.IGWeight = 0.7
	}
	if c.IGP.CandidateChars == 0 {
		c.IGP.CandidateChars = 1500
	}
	if c.IGP.NUTopK == 0 {
		c.IGP.NUTopK = 5
	}
	if c.IGP.NUMaxTokens == 0 {
		c.IGP.NUMaxTokens = 30
	}

	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = 60000
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}
	if c.LLM.BackoffBaseMs == 0 {
		c.LLM.BackoffBaseMs = 500
	}
	if c.LLM.BackoffFactor == 0 {
		c.LLM.BackoffFactor = 2
	}
	if c.LLM.PromptCharBudget == 0 {
		c.LLM.PromptCharBudget = 12000
	}
	if c.LLM.FaithfulnessThreshold == 0 {
		c.LLM.FaithfulnessThreshold = 0.7
	}

	if c.Concurrency.LLM == 0 {
		c.Concurrency.LLM = 8
	}
	if c.Concurrency.Embed == 0 {
		c.Concurrency.Embed = 16
	}
	if c.Concurrency.FileIO == 0 {
		c.Concurrency.FileIO = 32
	}
}

// Validate rejects structurally inconsistent configuration.
func (c *Config) Validate() error {
	switch c.Indexer.LeasePolicy {
	case "wait", "fail_fast":
	default:
		return &ErrInvalidConfig{Field: "indexer.lease_policy", Reason: "must be wait or fail_fast"}
	}
	if c.Retriever.Alpha < 0 || c.Retriever.Alpha > 1 {
		return &ErrInvalidConfig{Field: "retriever.alpha", Reason: "must be in [0,1]"}
	}
	switch c.Retriever.Mode {
	case "vector", "keyword", "hybrid":
	default:
		return &ErrInvalidConfig{Field: "retriever.mode", Reason: "must be vector, keyword, or hybrid"}
	}
	switch c.IGP.Strategy {
	case "threshold", "topK", "combined":
	default:
		return &ErrInvalidConfig{Field: "igp.strategy", Reason: "must be threshold, topK, or combined"}
	}
	if c.IGP.BatchSize <= 0 {
		return &ErrInvalidConfig{Field: "igp.batch_size", Reason: "must be positive"}
	}
	if c.IGP.IGWeight < 0 || c.IGP.IGWeight > 1 {
		return &ErrInvalidConfig{Field: "igp.ig_weight", Reason: "must be in [0,1]"}
	}
	if c.Embeddings.Dimension <= 0 {
		return &ErrInvalidConfig{Field: "embeddings.dimension", Reason: "must be positive"}
	}
	if c.Concurrency.LLM <= 0 || c.Concurrency.Embed <= 0 || c.Concurrency.FileIO <= 0 {
		return &ErrInvalidConfig{Field: "concurrency", Reason: "all semaphore sizes must be positive"}
	}
	return nil
}

func defaultStorageRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.local/share/preflight/bundles"
	}
	return "/var/lib/preflight/bundles"
}
