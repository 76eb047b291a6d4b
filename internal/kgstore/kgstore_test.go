package kgstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

func fixtureGraph() (bundle.AstGraph, []string) {
	nodes := []bundle.AstNode{
		{Name: "A", Kind: bundle.NodeFunction},
		{Name: "B", Kind: bundle.NodeFunction},
		{Name: "C", Kind: bundle.NodeFunction},
		{Name: "D", Kind: bundle.NodeFunction},
	}
	edges := []bundle.AstEdge{
		{Src: "A", Tgt: "B", Relation: bundle.RelationCalls},
		{Src: "B", Tgt: "C", Relation: bundle.RelationCalls},
		{Src: "A", Tgt: "D", Relation: bundle.RelationCalls},
	}
	order := []string{"A", "B", "C", "D"}
	return bundle.NewAstGraph(nodes, edges), order
}

func TestLoaded_FalseBeforeLoad(t *testing.T) {
	s := New()
	assert.False(t, s.Loaded())
}

func TestLoaded_TrueAfterLoad(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)
	assert.True(t, s.Loaded())
}

func TestNeighbors_ExcludesSelf(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	neighbors := s.Neighbors("A", 1)
	names := nodeNames(neighbors)
	assert.NotContains(t, names, "A")
}

func TestNeighbors_OneHop(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	neighbors := s.Neighbors("A", 1)
	names := nodeNames(neighbors)
	assert.ElementsMatch(t, []string{"B", "D"}, names)
}

func TestNeighbors_TwoHopsNoDuplicates(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	neighbors := s.Neighbors("A", 2)
	names := nodeNames(neighbors)
	assert.ElementsMatch(t, []string{"B", "D", "C"}, names)
}

func TestNeighbors_UnknownNodeReturnsNil(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	assert.Nil(t, s.Neighbors("Ghost", 2))
}

func TestDumpAndFromJSON_RoundTrips(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	data, err := s.Dump()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	stats := restored.Stats()
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 3, stats.EdgeCount)
}

func TestStats_CountsNodesAndEdges(t *testing.T) {
	s := New()
	graph, order := fixtureGraph()
	s.Load(graph, order)

	stats := s.Stats()
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 3, stats.EdgeCount)
}

func nodeNames(nodes []bundle.AstNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}
