package astgraph

import (
	"regexp"
	"strings"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

// extendsPattern / implementsPattern pick up simple single-line heritage
// clauses ("class Foo extends Bar", "class Foo implements Baz, Qux") without
// needing a dedicated grammar-specific heritage-clause walk per language.
var extendsPattern = regexp.MustCompile(`\bclass\s+(\w+)[^{]*?\bextends\s+(\w+)`)
var implementsPattern = regexp.MustCompile(`\bclass\s+(\w+)[^{]*?\bimplements\s+([\w,\s]+?)[\s{]`)
var goEmbedPattern = regexp.MustCompile(`(?m)^type\s+(\w+)\s+struct\s*\{\s*\n\s*(\w+)\b`)

// extractHeritageEdges finds "extends"/"implements" relations by scanning
// raw source text near class declarations, and Go struct embedding as a
// lightweight "extends" analog. This trades full grammar-aware heritage
// clause parsing for a small regex pass; acceptable because these edges
// only feed retrieval's graph boost, not compile-sensitive analysis.
func extractHeritageEdges(source string, nodes []bundle.AstNode) []bundle.AstEdge {
	var edges []bundle.AstEdge

	for _, m := range extendsPattern.FindAllStringSubmatch(source, -1) {
		edges = append(edges, bundle.AstEdge{Src: m[1], Tgt: m[2], Relation: bundle.RelationExtends})
	}
	for _, m := range implementsPattern.FindAllStringSubmatch(source, -1) {
		for _, iface := range strings.Split(m[2], ",") {
			iface = strings.TrimSpace(iface)
			if iface == "" {
				continue
			}
			edges = append(edges, bundle.AstEdge{Src: m[1], Tgt: iface, Relation: bundle.RelationImplements})
		}
	}
	for _, m := range goEmbedPattern.FindAllStringSubmatch(source, -1) {
		edges = append(edges, bundle.AstEdge{Src: m[1], Tgt: m[2], Relation: bundle.RelationExtends})
	}

	return edges
}

// extractCallEdges performs a best-effort "calls" relation: for each
// function/method node, any other same-file symbol name it mentions as a
// whole word is recorded as a call target. This is a name-overlap heuristic
// rather than true call-graph resolution (which would require per-language
// scope analysis); it is cheap, deterministic, and good enough to feed the
// retriever's graph boost (spec §4.7 step 2).
func extractCallEdges(nodes []bundle.AstNode) []bundle.AstEdge {
	names := make([]string, 0, len(nodes))
	byName := make(map[string]bundle.AstNode, len(nodes))
	for _, n := range nodes {
		if n.Kind == bundle.NodeFunction || n.Kind == bundle.NodeMethod {
			names = append(names, n.Name)
			byName[n.Name] = n
		}
	}

	var edges []bundle.AstEdge
	for _, caller := range nodes {
		if caller.Kind != bundle.NodeFunction && caller.Kind != bundle.NodeMethod {
			continue
		}
		for _, calleeName := range names {
			if calleeName == caller.Name {
				continue
			}
			if mentionsIdentifier(caller.Content, calleeName) {
				callee := byName[calleeName]
				edges = append(edges, bundle.AstEdge{
					Src: caller.Name, Tgt: calleeName, Relation: bundle.RelationCalls, SrcFile: callee.FilePath,
				})
			}
		}
	}
	return edges
}

func mentionsIdentifier(body, name string) bool {
	idx := 0
	for {
		pos := strings.Index(body[idx:], name)
		if pos < 0 {
			return false
		}
		abs := idx + pos
		before := byte(0)
		if abs > 0 {
			before = body[abs-1]
		}
		after := byte(0)
		if abs+len(name) < len(body) {
			after = body[abs+len(name)]
		}
		if !isIdentByte(before) && !isIdentByte(after) {
			return true
		}
		idx = abs + len(name)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
