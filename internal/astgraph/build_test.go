package astgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

const goFixture = `package pkg

// Greet says hello to name. It is documented well enough to earn the bonus.
func Greet(name string) string {
	return helper(name)
}

func helper(name string) string {
	return "hi " + name
}

func getInternal() int {
	return 1
}
`

func TestBuild_ExtractsGoFunctions(t *testing.T) {
	file := bundle.NewFile("pkg/greet.go", []byte(goFixture), "go")

	nodes, _, err := Build(context.Background(), file, Options{MaxContentLength: 2000})
	require.NoError(t, err)
	require.NotEmpty(t, nodes)

	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "helper")
}

func TestBuild_ExportedFunctionScoresHigherThanUnexported(t *testing.T) {
	file := bundle.NewFile("pkg/greet.go", []byte(goFixture), "go")
	nodes, _, err := Build(context.Background(), file, Options{MaxContentLength: 2000})
	require.NoError(t, err)

	var greet, helper bundle.AstNode
	for _, n := range nodes {
		switch n.Name {
		case "Greet":
			greet = n
		case "helper":
			helper = n
		}
	}
	assert.True(t, greet.IsExported)
	assert.False(t, helper.IsExported)
	assert.Greater(t, greet.Importance, helper.Importance)
}

func TestBuild_UnsupportedLanguageReturnsNoNodes(t *testing.T) {
	file := bundle.NewFile("data.bin", []byte("not code"), "")
	nodes, edges, err := Build(context.Background(), file, Options{})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, edges)
}

func TestBuild_CallEdgeFromHeuristic(t *testing.T) {
	file := bundle.NewFile("pkg/greet.go", []byte(goFixture), "go")
	_, edges, err := Build(context.Background(), file, Options{MaxContentLength: 2000})
	require.NoError(t, err)

	found := false
	for _, e := range edges {
		if e.Src == "Greet" && e.Tgt == "helper" && e.Relation == bundle.RelationCalls {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTruncateAtBoundary_AddsEllipsisWhenCut(t *testing.T) {
	content := strings.Repeat("a", 100)
	out := truncateAtBoundary(content, 10)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.LessOrEqual(t, len(out), 10+len("…"))
}

func TestFilterAndQuota_KeepsExportedDropsUndocumentedTrivial(t *testing.T) {
	nodes := []bundle.AstNode{
		{Name: "GetThing", Kind: bundle.NodeFunction, IsExported: false, StartLine: 1, EndLine: 2, Importance: 0.3},
		{Name: "Exported", Kind: bundle.NodeFunction, IsExported: true, StartLine: 1, EndLine: 2, Importance: 0.5},
	}
	out := FilterAndQuota(nodes, Options{MinFunctionLines: 3})

	var names []string
	for _, n := range out {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "Exported")
	assert.NotContains(t, names, "GetThing")
}

func TestFilterAndQuota_EnforcesCapByImportance(t *testing.T) {
	var nodes []bundle.AstNode
	for i := 0; i < 10; i++ {
		nodes = append(nodes, bundle.AstNode{
			Name: string(rune('a' + i)), Kind: bundle.NodeFunction, IsExported: true,
			StartLine: 1, EndLine: 10, Importance: float64(i) / 10,
		})
	}
	out := FilterAndQuota(nodes, Options{MaxFunctions: 3})
	require.Len(t, out, 3)
	assert.Equal(t, "j", out[0].Name) // importance 0.9, highest
}
