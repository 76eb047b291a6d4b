// Package bundle defines the preflight bundle's data model and the lifecycle
// driver (create/update/delete) that sits in front of the indexer.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// RepoKind classifies where a Repo's source tree came from.
type RepoKind string

const (
	RepoKindGitHub RepoKind = "github"
	RepoKindLocal  RepoKind = "local"
	RepoKindLibrary RepoKind = "library"
)

// Classification is the Chunker's verdict on a repo's content mix.
type Classification string

const (
	ClassificationCode          Classification = "code"
	ClassificationDocumentation Classification = "documentation"
	ClassificationHybrid        Classification = "hybrid"
)

// Repo belongs to exactly one Bundle.
type Repo struct {
	ID             string         // owner/name
	Kind           RepoKind
	Classification Classification
	Files          []File
}

// File is a relative posix path within a repo, plus normalized bytes and a
// content hash. Normalization means line endings are LF-only before hashing.
type File struct {
	Path         string // posix-relative to the repo root
	Content      []byte // normalized (LF) bytes
	SHA256       string // hex digest of Content
	Language     string // derived from extension
}

// NewFile normalizes raw bytes to LF line endings and computes its SHA-256.
func NewFile(path string, raw []byte, language string) File {
	normalized := normalizeLineEndings(raw)
	sum := sha256.Sum256(normalized)
	return File{
		Path:     path,
		Content:  normalized,
		SHA256:   hex.EncodeToString(sum[:]),
		Language: language,
	}
}

func normalizeLineEndings(raw []byte) []byte {
	s := strings.ReplaceAll(string(raw), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(s)
}

// SourceType enumerates what kind of retrieval unit a Chunk represents.
type SourceType string

const (
	SourceTypeDoc     SourceType = "doc"
	SourceTypeCode    SourceType = "code"
	SourceTypeSection SourceType = "section"
)

// ChunkMetadata carries everything the vector store and retriever need to
// filter and explain a Chunk without re-reading the source file.
type ChunkMetadata struct {
	BundleID     string
	RepoID       string
	SourceType   SourceType
	FilePath     string
	StartLine    int
	EndLine      int
	HasLineRange bool
	SymbolName   string
	SymbolKind   string
	Importance   float64
	HeadingPath  []string // section lineage for documentation chunks
}

// Chunk is the atomic unit of retrieval.
type Chunk struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
}

// ChunkID computes the deterministic, collision-resistant id spec §3/§4.4
// requires: a hash of (bundleId, repoId, path, startLine, endLine,
// sha256(content)). Identical inputs always yield the identical id;
// changing any source byte changes sha256(content) and therefore the id.
func ChunkID(bundleID, repoID, path string, startLine, endLine int, content string) string {
	contentSum := sha256.Sum256([]byte(content))
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%d\x00%s",
		bundleID, repoID, path, startLine, endLine, hex.EncodeToString(contentSum[:]))
	return hex.EncodeToString(h.Sum(nil))
}

// AstNodeKind enumerates the symbol kinds the AST graph builder recognizes.
type AstNodeKind string

const (
	NodeClass     AstNodeKind = "class"
	NodeInterface AstNodeKind = "interface"
	NodeEnum      AstNodeKind = "enum"
	NodeFunction  AstNodeKind = "function"
	NodeMethod    AstNodeKind = "method"
	NodeType      AstNodeKind = "type"
	NodeBlock     AstNodeKind = "block"
)

// AstNode is one symbol admitted into a bundle's knowledge graph.
type AstNode struct {
	Name        string
	Kind        AstNodeKind
	FilePath    string
	StartLine   int
	EndLine     int
	Description string
	Content     string // truncated source, may carry a trailing ellipsis
	Importance  float64
	IsExported  bool
}

// AstEdgeRelation enumerates the relation kinds between two AstNodes.
type AstEdgeRelation string

const (
	RelationExtends    AstEdgeRelation = "extends"
	RelationImplements AstEdgeRelation = "implements"
	RelationInjects    AstEdgeRelation = "injects"
	RelationContains   AstEdgeRelation = "contains"
	RelationCalls      AstEdgeRelation = "calls"
)

// AstEdge is a directed relation between two node names.
type AstEdge struct {
	Src      string
	Tgt      string
	Relation AstEdgeRelation
	SrcFile  string
}

// AstGraph is a bundle's typed symbol graph: nodes keyed by name, plus the
// edges between them. Loading a graph drops any edge whose endpoints are not
// both present in Nodes (spec §3: "dangling edges are dropped at load").
type AstGraph struct {
	Nodes map[string]AstNode
	Edges []AstEdge
}

// NewAstGraph builds a graph from raw nodes and edges, dropping dangling
// edges per spec §3.
func NewAstGraph(nodes []AstNode, edges []AstEdge) AstGraph {
	nodeMap := make(map[string]AstNode, len(nodes))
	for _, n := range nodes {
		nodeMap[n.Name] = n
	}
	kept := make([]AstEdge, 0, len(edges))
	for _, e := range edges {
		if _, okSrc := nodeMap[e.Src]; !okSrc {
			continue
		}
		if _, okTgt := nodeMap[e.Tgt]; !okTgt {
			continue
		}
		kept = append(kept, e)
	}
	return AstGraph{Nodes: nodeMap, Edges: kept}
}
