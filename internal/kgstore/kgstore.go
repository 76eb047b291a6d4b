// Package kgstore implements the in-memory typed knowledge graph with a JSON
// round-trip (spec §4.3).
package kgstore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

// Stats reports the graph's size.
type Stats struct {
	NodeCount int
	EdgeCount int
}

type jsonGraph struct {
	Nodes map[string]bundle.AstNode `json:"nodes"`
	Edges []bundle.AstEdge          `json:"edges"`
}

// Store is a thread-safe in-memory view of a bundle's AstGraph. Reads may
// run concurrently with each other; Load replaces the whole graph under an
// exclusive lock (spec §5: "consistent snapshot reads").
type Store struct {
	mu     sync.RWMutex
	graph  bundle.AstGraph
	loaded bool

	// adjacency is rebuilt on every Load for O(1) neighbor expansion.
	adjacency map[string][]string
	// insertionOrder preserves the order nodes were added, so BFS expansion
	// is deterministic regardless of Go's unordered maps (spec §4.3
	// contract: "deterministic under a fixed insertion order").
	insertionOrder []string
}

// New returns an empty, unloaded store.
func New() *Store {
	return &Store{}
}

// Load replaces the store's graph, rebuilding the adjacency index used by
// Neighbors. Nodes are visited in the order bundle.NewAstGraph's caller
// supplied them.
func (s *Store) Load(graph bundle.AstGraph, order []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.graph = graph
	s.loaded = true
	s.insertionOrder = append([]string(nil), order...)
	s.adjacency = make(map[string][]string, len(graph.Nodes))
	for _, e := range graph.Edges {
		s.adjacency[e.Src] = append(s.adjacency[e.Src], e.Tgt)
		s.adjacency[e.Tgt] = append(s.adjacency[e.Tgt], e.Src)
	}
}

// Loaded reports whether a graph has ever been Load-ed into this store.
// The retriever uses this to decide whether graph boost applies at all
// (Open Question 3 resolution): maxHops>=1 with no loaded graph is a no-op.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Dump serializes the current graph to JSON.
func (s *Store) Dump() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.Marshal(jsonGraph{Nodes: s.graph.Nodes, Edges: s.graph.Edges})
}

// FromJSON builds a new Store from a previously Dump-ed blob. Dangling
// edges are dropped (spec §3).
func FromJSON(data []byte) (*Store, error) {
	var jg jsonGraph
	if err := json.Unmarshal(data, &jg); err != nil {
		return nil, fmt.Errorf("kgstore: unmarshal graph: %w", err)
	}

	order := make([]string, 0, len(jg.Nodes))
	nodes := make([]bundle.AstNode, 0, len(jg.Nodes))
	for name, n := range jg.Nodes {
		order = append(order, name)
		nodes = append(nodes, n)
	}

	store := New()
	store.Load(bundle.NewAstGraph(nodes, jg.Edges), order)
	return store, nil
}

// FindNode returns the node with the given name, if present.
func (s *Store) FindNode(name string) (bundle.AstNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.graph.Nodes[name]
	return n, ok
}

// Neighbors returns the breadth-first expansion of name out to maxHops
// (inclusive), never including name itself, with no duplicates, in a
// deterministic order derived from the graph's insertion order (spec
// §4.3 contract).
func (s *Store) Neighbors(name string, maxHops int) []bundle.AstNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxHops < 1 {
		return nil
	}
	if _, ok := s.graph.Nodes[name]; !ok {
		return nil
	}

	visited := map[string]bool{name: true}
	frontier := []string{name}
	var out []string

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, neighborName := range s.orderedAdjacency(cur) {
				if visited[neighborName] {
					continue
				}
				visited[neighborName] = true
				out = append(out, neighborName)
				next = append(next, neighborName)
			}
		}
		frontier = next
	}

	nodes := make([]bundle.AstNode, 0, len(out))
	for _, n := range out {
		nodes = append(nodes, s.graph.Nodes[n])
	}
	return nodes
}

// orderedAdjacency returns cur's neighbors in deterministic insertion order
// rather than the order edges happened to be appended in adjacency.
func (s *Store) orderedAdjacency(cur string) []string {
	neighborSet := make(map[string]bool, len(s.adjacency[cur]))
	for _, n := range s.adjacency[cur] {
		neighborSet[n] = true
	}
	ordered := make([]string, 0, len(neighborSet))
	for _, name := range s.insertionOrder {
		if neighborSet[name] {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// Stats reports the current node/edge counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{NodeCount: len(s.graph.Nodes), EdgeCount: len(s.graph.Edges)}
}
