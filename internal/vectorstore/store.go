// Package vectorstore implements the persistent per-bundle vector namespace
// (spec §4.2), backed by the embedded chromem-go database.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/sanitize"
)

var tracer = otel.Tracer("preflight.vectorstore")

// ErrNamespaceEmpty indicates an operation targeted a namespace with no
// documents.
var ErrNamespaceEmpty = errors.New("vectorstore: namespace has no documents")

// graphCollectionSuffix names the reserved chromem collection co-located
// with a namespace's chunk collection, used to persist the opaque AST graph
// blob (spec §4.2 store_graph/load_graph).
const graphCollectionSuffix = "__graph"

const graphDocID = "graph"

// Config controls the embedded chromem-go database.
type Config struct {
	// Path is the directory for persistent storage.
	Path string
	// Compress enables gzip compression of the on-disk gob files.
	Compress bool
	// VectorSize is the expected embedding dimension; must match the
	// embedder wired into the indexer.
	VectorSize int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/preflight/vectors"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// ScoredChunk pairs a chunk with its similarity score in [0,1], 1 = best.
type ScoredChunk struct {
	Chunk bundle.Chunk
	Score float64
}

// Filter narrows a Query to chunks matching bundle/repo/source-type (spec
// §4.2: "matches on bundleId, optional repoId, optional sourceType").
type Filter struct {
	BundleID   string
	RepoID     string
	SourceType bundle.SourceType
}

// Store is the persistent per-bundle vector namespace. A namespace maps
// 1:1 to a bundle id.
type Store struct {
	db     *chromem.DB
	config Config
	logger *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New opens (creating if absent) the on-disk chromem database at
// config.Path.
func New(config Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	path, err := expandHome(config.Path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: expand path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create dir %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open db: %w", err)
	}

	return &Store{
		db:          db,
		config:      config,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noopEmbeddingFunc satisfies chromem's requirement for a collection-level
// embedding function even though this store always supplies precomputed
// vectors itself (the caller owns embedding, per spec §4.1/§4.2 split).
func noopEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: collection has no embedding function; vectors must be precomputed")
}

// collectionName maps a bundle namespace (a UUID v4, which contains hyphens)
// to the identifier chromem requires for collection names
// (^[a-z0-9_]{1,64}$). Two distinct namespaces never collide here because
// a UUID's only disallowed characters are its hyphens, which
// sanitize.Identifier rewrites to underscores at fixed positions, and at 36
// characters a UUID never reaches the truncation (and hashing) length.
func collectionName(namespace string) string {
	return sanitize.Identifier(namespace)
}

func (s *Store) collection(namespace string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[namespace]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(collectionName(namespace), nil, noopEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get/create collection %s: %w", namespace, err)
	}
	s.collections[namespace] = c
	return c, nil
}

// Upsert inserts or replaces chunks by chunk.id (spec §4.2: "idempotent").
// vectors must be the same length and order as chunks.
func (s *Store) Upsert(ctx context.Context, namespace string, chunks []bundle.Chunk, vectors [][]float32) error {
	ctx, span := tracer.Start(ctx, "vectorstore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("chunk_count", len(chunks)))

	if len(chunks) != len(vectors) {
		err := fmt.Errorf("vectorstore: %d chunks but %d vectors", len(chunks), len(vectors))
		span.RecordError(err)
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	coll, err := s.collection(namespace)
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Content,
			Metadata:  metadataToStrings(chunk.Metadata),
			Embedding: vectors[i],
		}
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("vectorstore: upsert into %s: %w", namespace, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Query runs a similarity search in namespace, returning results sorted
// strictly descending by score with an ascending chunk.id tie-break
// (spec §4.2 contract; Open Question 1 resolution).
func (s *Store) Query(ctx context.Context, namespace string, queryVector []float32, topK int, filter Filter) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "vectorstore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("top_k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("vectorstore: topK must be positive")
	}

	coll := s.db.GetCollection(collectionName(namespace), noopEmbeddingFunc)
	if coll == nil {
		return nil, nil
	}

	docCount := coll.Count()
	if docCount == 0 {
		return nil, nil
	}

	where := filterToStrings(filter)
	n := topK
	if n > docCount {
		n = docCount
	}

	results, err := coll.QueryEmbedding(ctx, queryVector, n, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vectorstore: query %s: %w", namespace, err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		scored = append(scored, ScoredChunk{
			Chunk: bundle.Chunk{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: stringsToMetadata(r.Metadata),
			},
			Score: float64(r.Similarity),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Chunk.ID < scored[j].Chunk.ID
	})

	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "")
	return scored, nil
}

// All returns every chunk stored in namespace matching filter, for the
// Retriever's keyword-scoring path (spec §4.7: "tokenize... score each
// candidate... over the bundle's chunks restricted to metadata filter").
// It queries with the same zero-vector trick StoreGraph uses for
// embedding-agnostic storage: similarity scores from this call are
// meaningless and discarded by the caller.
func (s *Store) All(ctx context.Context, namespace string, filter Filter) ([]bundle.Chunk, error) {
	coll := s.db.GetCollection(collectionName(namespace), noopEmbeddingFunc)
	if coll == nil {
		return nil, nil
	}
	n := coll.Count()
	if n == 0 {
		return nil, nil
	}

	results, err := coll.QueryEmbedding(ctx, zeroVector(s.config.VectorSize), n, filterToStrings(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: list %s: %w", namespace, err)
	}

	chunks := make([]bundle.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, bundle.Chunk{ID: r.ID, Content: r.Content, Metadata: stringsToMetadata(r.Metadata)})
	}
	return chunks, nil
}

// Delete removes every chunk and the graph blob for namespace (spec §4.2,
// §8 property 8: cascade delete).
func (s *Store) Delete(ctx context.Context, namespace string) error {
	name := collectionName(namespace)

	s.mu.Lock()
	delete(s.collections, namespace)
	delete(s.collections, namespace+graphCollectionSuffix)
	s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		s.logger.Warn("delete collection failed", zap.String("namespace", namespace), zap.Error(err))
	}
	if err := s.db.DeleteCollection(name + graphCollectionSuffix); err != nil {
		s.logger.Debug("delete graph collection failed (may not exist)", zap.String("namespace", namespace), zap.Error(err))
	}
	return nil
}

// StoreGraph persists an opaque graph blob co-located with namespace (spec
// §4.2 store_graph).
func (s *Store) StoreGraph(ctx context.Context, namespace string, graphJSON []byte) error {
	coll, err := s.db.GetOrCreateCollection(collectionName(namespace)+graphCollectionSuffix, nil, noopEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("vectorstore: get/create graph collection for %s: %w", namespace, err)
	}
	doc := chromem.Document{
		ID:        graphDocID,
		Content:   string(graphJSON),
		Embedding: zeroVector(s.config.VectorSize),
	}
	if err := coll.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("vectorstore: store graph for %s: %w", namespace, err)
	}
	return nil
}

// LoadGraph reads the graph blob for namespace, if any (spec §4.2 load_graph).
func (s *Store) LoadGraph(ctx context.Context, namespace string) ([]byte, bool, error) {
	coll := s.db.GetCollection(collectionName(namespace)+graphCollectionSuffix, noopEmbeddingFunc)
	if coll == nil {
		return nil, false, nil
	}
	doc, err := coll.GetByID(ctx, graphDocID)
	if err != nil {
		return nil, false, nil
	}
	return []byte(doc.Content), true, nil
}

func zeroVector(n int) []float32 {
	if n <= 0 {
		n = 1
	}
	return make([]float32, n)
}

func metadataToStrings(m bundle.ChunkMetadata) map[string]string {
	out := map[string]string{
		"bundleId":   m.BundleID,
		"repoId":     m.RepoID,
		"sourceType": string(m.SourceType),
		"filePath":   m.FilePath,
		"symbolName": m.SymbolName,
		"symbolKind": m.SymbolKind,
	}
	if m.HasLineRange {
		out["startLine"] = strconv.Itoa(m.StartLine)
		out["endLine"] = strconv.Itoa(m.EndLine)
	}
	out["importance"] = strconv.FormatFloat(m.Importance, 'f', -1, 64)
	if len(m.HeadingPath) > 0 {
		out["headingPath"] = strings.Join(m.HeadingPath, "/")
	}
	return out
}

func stringsToMetadata(m map[string]string) bundle.ChunkMetadata {
	meta := bundle.ChunkMetadata{
		BundleID:   m["bundleId"],
		RepoID:     m["repoId"],
		SourceType: bundle.SourceType(m["sourceType"]),
		FilePath:   m["filePath"],
		SymbolName: m["symbolName"],
		SymbolKind: m["symbolKind"],
	}
	if v, ok := m["startLine"]; ok {
		meta.StartLine, _ = strconv.Atoi(v)
		meta.EndLine, _ = strconv.Atoi(m["endLine"])
		meta.HasLineRange = true
	}
	if v, ok := m["importance"]; ok {
		meta.Importance, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["headingPath"]; ok && v != "" {
		meta.HeadingPath = strings.Split(v, "/")
	}
	return meta
}

func filterToStrings(f Filter) map[string]string {
	out := map[string]string{}
	if f.BundleID != "" {
		out["bundleId"] = f.BundleID
	}
	if f.RepoID != "" {
		out["repoId"] = f.RepoID
	}
	if f.SourceType != "" {
		out["sourceType"] = string(f.SourceType)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
