package astgraph

import (
	"sort"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

// FilterAndQuota applies the spec §4.5 admission rules across every node
// Build produced for a bundle, then enforces the per-bundle function/method
// cap, keeping the highest-importance nodes with a stable name tie-break.
func FilterAndQuota(nodes []bundle.AstNode, opts Options) []bundle.AstNode {
	minLines := opts.MinFunctionLines
	if minLines <= 0 {
		minLines = 3
	}
	maxFunctions := opts.MaxFunctions
	if maxFunctions <= 0 {
		maxFunctions = 500
	}

	admitted := make([]bundle.AstNode, 0, len(nodes))
	var functions []bundle.AstNode

	for _, n := range nodes {
		if n.Kind != bundle.NodeFunction && n.Kind != bundle.NodeMethod {
			// Classes, interfaces, and types are always kept; they don't
			// count against the function/method quota.
			admitted = append(admitted, n)
			continue
		}

		lineCount := n.EndLine - n.StartLine + 1
		documented := len(n.Description) > 0

		if n.IsExported || isEntryPointSymbol(n) {
			functions = append(functions, n)
			continue
		}
		if lineCount < minLines && !documented {
			continue
		}
		if IsTrivialName(n.Name) && !documented && lineCount < minLines*4 {
			continue
		}
		functions = append(functions, n)
	}

	if len(functions) > maxFunctions {
		sort.SliceStable(functions, func(i, j int) bool {
			if functions[i].Importance != functions[j].Importance {
				return functions[i].Importance > functions[j].Importance
			}
			return functions[i].Name < functions[j].Name
		})
		functions = functions[:maxFunctions]
	}

	admitted = append(admitted, functions...)
	return admitted
}
