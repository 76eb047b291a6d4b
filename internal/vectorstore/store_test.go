package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Path: t.TempDir(), VectorSize: 3}, nil)
	require.NoError(t, err)
	return store
}

func chunkWithVector(id string, vec []float32, bundleID, repoID string, sourceType bundle.SourceType) (bundle.Chunk, []float32) {
	return bundle.Chunk{
		ID:      id,
		Content: "content-" + id,
		Metadata: bundle.ChunkMetadata{
			BundleID:   bundleID,
			RepoID:     repoID,
			SourceType: sourceType,
			FilePath:   "a.go",
		},
	}, vec
}

func TestUpsertAndQuery_ReturnsDescendingScores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c1, v1 := chunkWithVector("id-a", []float32{1, 0, 0}, "b1", "r1", bundle.SourceTypeCode)
	c2, v2 := chunkWithVector("id-b", []float32{0, 1, 0}, "b1", "r1", bundle.SourceTypeCode)

	require.NoError(t, store.Upsert(ctx, "b1", []bundle.Chunk{c1, c2}, [][]float32{v1, v2}))

	results, err := store.Query(ctx, "b1", []float32{1, 0, 0}, 2, Filter{BundleID: "b1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "id-a", results[0].Chunk.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestQuery_TieBreaksAscendingID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Identical vectors produce identical scores against any query vector.
	c1, v1 := chunkWithVector("zzz", []float32{1, 1, 1}, "b1", "r1", bundle.SourceTypeCode)
	c2, v2 := chunkWithVector("aaa", []float32{1, 1, 1}, "b1", "r1", bundle.SourceTypeCode)

	require.NoError(t, store.Upsert(ctx, "b1", []bundle.Chunk{c1, c2}, [][]float32{v1, v2}))

	results, err := store.Query(ctx, "b1", []float32{1, 1, 1}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].Chunk.ID)
	assert.Equal(t, "zzz", results[1].Chunk.ID)
}

func TestQuery_EmptyNamespaceReturnsNoResults(t *testing.T) {
	store := newTestStore(t)
	results, err := store.Query(context.Background(), "missing", []float32{1, 0, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsert_MismatchedLengthsErrors(t *testing.T) {
	store := newTestStore(t)
	c1, _ := chunkWithVector("id-a", []float32{1, 0, 0}, "b1", "r1", bundle.SourceTypeCode)
	err := store.Upsert(context.Background(), "b1", []bundle.Chunk{c1}, nil)
	require.Error(t, err)
}

func TestUpsertAndQuery_UUIDNamespaceIsSanitizedForChromem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	namespace := "123e4567-e89b-42d3-a456-426614174000"
	c1, v1 := chunkWithVector("id-a", []float32{1, 0, 0}, namespace, "r1", bundle.SourceTypeCode)

	require.NoError(t, store.Upsert(ctx, namespace, []bundle.Chunk{c1}, [][]float32{v1}))

	results, err := store.Query(ctx, namespace, []float32{1, 0, 0}, 1, Filter{BundleID: namespace})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "id-a", results[0].Chunk.ID)
}

func TestStoreAndLoadGraph_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	graphJSON := []byte(`{"nodes":{"Foo":{}},"edges":[]}`)
	require.NoError(t, store.StoreGraph(ctx, "b1", graphJSON))

	loaded, found, err := store.LoadGraph(ctx, "b1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, graphJSON, loaded)
}

func TestLoadGraph_MissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.LoadGraph(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_CascadesChunksAndGraph(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c1, v1 := chunkWithVector("id-a", []float32{1, 0, 0}, "b1", "r1", bundle.SourceTypeCode)
	require.NoError(t, store.Upsert(ctx, "b1", []bundle.Chunk{c1}, [][]float32{v1}))
	require.NoError(t, store.StoreGraph(ctx, "b1", []byte(`{}`)))

	require.NoError(t, store.Delete(ctx, "b1"))

	results, err := store.Query(ctx, "b1", []float32{1, 0, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, found, err := store.LoadGraph(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAll_ReturnsEveryChunkRegardlessOfVector(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c1, v1 := chunkWithVector("id-a", []float32{1, 0, 0}, "b1", "r1", bundle.SourceTypeCode)
	c2, v2 := chunkWithVector("id-b", []float32{0, 0, 1}, "b1", "r1", bundle.SourceTypeDoc)
	require.NoError(t, store.Upsert(ctx, "b1", []bundle.Chunk{c1, c2}, [][]float32{v1, v2}))

	all, err := store.All(ctx, "b1", Filter{BundleID: "b1"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := []string{all[0].ID, all[1].ID}
	assert.ElementsMatch(t, []string{"id-a", "id-b"}, ids)
}

func TestAll_EmptyNamespaceReturnsNoError(t *testing.T) {
	store := newTestStore(t)
	all, err := store.All(context.Background(), "missing", Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
