package astgraph

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/chunk"
)

// Options controls symbol admission, truncation, and quota (spec §4.5, §6).
type Options struct {
	MinFunctionLines int
	MaxContentLength int
	MaxFunctions     int
}

// trivialNamePattern matches conventional getter/setter/wrapper names that
// are skipped when undocumented and short (spec §4.5 filter step).
var trivialNamePattern = regexp.MustCompile(`(?i)^(get|set|is)[A-Z_]`)

// Build runs the tree-sitter adapter for file.Language over file.Content and
// returns the raw (pre-filter, pre-quota) nodes and edges it finds. Files in
// an unregistered language are skipped, returning no nodes and no error.
func Build(ctx context.Context, file bundle.File, opts Options) ([]bundle.AstNode, []bundle.AstEdge, error) {
	cfg, ok := configFor(file.Language)
	if !ok {
		return nil, nil, nil
	}

	parser := parserPool.Get().(*sitter.Parser)
	defer parserPool.Put(parser)
	parser.SetLanguage(cfg.tsLanguage)

	tree, err := parser.ParseCtx(ctx, nil, file.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("astgraph: parse %s: %w", file.Path, err)
	}
	if tree == nil {
		return nil, nil, fmt.Errorf("astgraph: parse %s: nil tree", file.Path)
	}
	defer tree.Close()

	lines := strings.Split(string(file.Content), "\n")

	var rawNodes []bundle.AstNode
	var containsEdges []bundle.AstEdge

	var walk func(n *sitter.Node, enclosingClass string)
	walk = func(n *sitter.Node, enclosingClass string) {
		if n == nil {
			return
		}

		kind, isSymbol := classifyNode(n.Type(), cfg)
		nextEnclosing := enclosingClass

		if isSymbol {
			name := symbolName(n, file.Content, cfg)
			if name != "" {
				astNode := buildNode(n, name, kind, file, lines, opts)
				rawNodes = append(rawNodes, astNode)

				if kind == bundle.NodeClass || kind == bundle.NodeInterface {
					nextEnclosing = name
				}
				if (kind == bundle.NodeMethod) && enclosingClass != "" {
					containsEdges = append(containsEdges, bundle.AstEdge{
						Src: enclosingClass, Tgt: name, Relation: bundle.RelationContains, SrcFile: file.Path,
					})
				}
			}
		}

		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), nextEnclosing)
		}
	}
	walk(tree.RootNode(), "")

	heritageEdges := extractHeritageEdges(string(file.Content), rawNodes)
	callEdges := extractCallEdges(rawNodes)

	edges := append(containsEdges, heritageEdges...)
	edges = append(edges, callEdges...)

	return rawNodes, edges, nil
}

func classifyNode(nodeType string, cfg *languageConfig) (bundle.AstNodeKind, bool) {
	switch {
	case cfg.classTypes[nodeType]:
		return bundle.NodeClass, true
	case cfg.interfaceTypes[nodeType]:
		return bundle.NodeInterface, true
	case cfg.methodTypes[nodeType]:
		return bundle.NodeMethod, true
	case cfg.functionTypes[nodeType]:
		return bundle.NodeFunction, true
	case cfg.typeTypes[nodeType]:
		return bundle.NodeType, true
	default:
		return "", false
	}
}

func symbolName(n *sitter.Node, source []byte, cfg *languageConfig) string {
	nameNode := n.ChildByFieldName(cfg.nameField)
	if nameNode == nil {
		return ""
	}
	return nameNode.Content(source)
}

func buildNode(n *sitter.Node, name string, kind bundle.AstNodeKind, file bundle.File, lines []string, opts Options) bundle.AstNode {
	startLine := int(n.StartPoint().Row) + 1
	endLine := int(n.EndPoint().Row) + 1

	content := string(file.Content[n.StartByte():n.EndByte()])
	doc := leadingComment(lines, startLine)

	maxLen := opts.MaxContentLength
	if maxLen <= 0 {
		maxLen = 2000
	}
	content = truncateAtBoundary(content, maxLen)

	node := bundle.AstNode{
		Name:        name,
		Kind:        kind,
		FilePath:    file.Path,
		StartLine:   startLine,
		EndLine:     endLine,
		Description: doc,
		Content:     content,
		IsExported:  isExported(name, file.Language),
	}
	node.Importance = importance(node, doc, endLine-startLine+1)
	return node
}

// leadingComment returns the comment block immediately preceding startLine,
// if any, used both as the node's Description and for the "documented"
// importance bonus.
func leadingComment(lines []string, startLine int) string {
	var parts []string
	for i := startLine - 2; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(trimmed, "//") {
			parts = append([]string{strings.TrimSpace(strings.TrimPrefix(trimmed, "//"))}, parts...)
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			parts = append([]string{strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))}, parts...)
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func isExported(name, language string) bool {
	if name == "" {
		return false
	}
	switch strings.ToLower(language) {
	case "go":
		return name[0] >= 'A' && name[0] <= 'Z'
	case "python":
		return !strings.HasPrefix(name, "_")
	default:
		return !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "#")
	}
}

// importance implements the spec §4.5 scoring formula.
func importance(node bundle.AstNode, doc string, lineCount int) float64 {
	score := 0.30
	if node.IsExported {
		score += 0.25
	}
	if len(doc) > 0 {
		if len(doc) >= 50 {
			score += 0.25
		} else {
			score += 0.20
		}
	}
	if isEntryPointSymbol(node) {
		score += 0.20
	}
	if lineCount > 50 {
		score += 0.15
	} else if lineCount > 20 {
		score += 0.10
	}
	if node.Kind == bundle.NodeClass || node.Kind == bundle.NodeInterface {
		score += 0.10
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// entryPointNames recognizes conventional program-entry symbol names,
// distinct from chunk.IsEntryFile's filename check (spec §4.5: "entry-point
// name match").
var entryPointNames = map[string]bool{
	"main": true, "init": true, "run": true, "serve": true,
}

func isEntryPointSymbol(node bundle.AstNode) bool {
	if entryPointNames[strings.ToLower(node.Name)] {
		return true
	}
	return chunk.IsEntryFile(filepath.Base(node.FilePath))
}

// truncateAtBoundary cuts content to at most maxLen characters at the
// nearest preceding newline or sentence end, appending an ellipsis when
// truncated (spec §4.5: "truncated at a natural boundary").
func truncateAtBoundary(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	cut := maxLen
	if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
		cut = idx
	} else if idx := strings.LastIndexAny(content[:maxLen], ".!?"); idx > maxLen/2 {
		cut = idx + 1
	}
	return strings.TrimRight(content[:cut], " \t\n") + "…"
}

// IsTrivialName reports whether name looks like an undocumented
// getter/setter/wrapper that the filter step should skip when short.
func IsTrivialName(name string) bool {
	return trivialNamePattern.MatchString(name)
}
