package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

func TestSplitDocument_PreservesHeadingLineage(t *testing.T) {
	content := "# Title\n\nintro text\n\n## Section A\n\nbody a\n\n### Subsection\n\nbody sub\n"
	file := bundle.NewFile("README.md", []byte(content), "markdown")

	chunks := SplitDocument("b1", "r1", file, 2000)
	require.NotEmpty(t, chunks)

	var sub *bundle.Chunk
	for i := range chunks {
		if strings.Contains(chunks[i].Content, "body sub") {
			sub = &chunks[i]
		}
	}
	require.NotNil(t, sub)
	assert.Equal(t, []string{"Title", "Section A", "Subsection"}, sub.Metadata.HeadingPath)
	assert.Equal(t, bundle.SourceTypeDoc, sub.Metadata.SourceType)
}

func TestSplitDocument_RespectsMaxChars(t *testing.T) {
	body := strings.Repeat("word ", 1000)
	content := "# Big\n\n" + body
	file := bundle.NewFile("doc.md", []byte(content), "markdown")

	chunks := SplitDocument("b1", "r1", file, 200)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 250) // allows for boundary slack
	}
}

func TestSplitDocument_DeterministicChunkIDs(t *testing.T) {
	content := "# A\n\nhello world\n"
	file := bundle.NewFile("a.md", []byte(content), "markdown")

	c1 := SplitDocument("b1", "r1", file, 2000)
	c2 := SplitDocument("b1", "r1", file, 2000)
	require.Equal(t, len(c1), len(c2))
	for i := range c1 {
		assert.Equal(t, c1[i].ID, c2[i].ID)
	}
}

func TestSplitCode_UsesSymbolRangesWhenProvided(t *testing.T) {
	content := "package pkg\n\nfunc A() {\n\treturn\n}\n\nfunc B() {\n\treturn\n}\n"
	file := bundle.NewFile("pkg.go", []byte(content), "go")

	ranges := []SymbolRange{
		{Name: "A", Kind: "function", StartLine: 3, EndLine: 5},
		{Name: "B", Kind: "function", StartLine: 7, EndLine: 9},
	}

	chunks := SplitCode("b1", "r1", file, ranges, 2000, 200)
	require.Len(t, chunks, 2)
	assert.Equal(t, "A", chunks[0].Metadata.SymbolName)
	assert.Equal(t, "B", chunks[1].Metadata.SymbolName)
	assert.Contains(t, chunks[0].Content, "func A()")
}

func TestSplitCode_SlidingWindowFallback(t *testing.T) {
	lines := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		lines = append(lines, "line of code that is reasonably long to fill characters")
	}
	content := strings.Join(lines, "\n")
	file := bundle.NewFile("big.go", []byte(content), "go")

	chunks := SplitCode("b1", "r1", file, nil, 500, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, bundle.SourceTypeCode, c.Metadata.SourceType)
		assert.True(t, c.Metadata.HasLineRange)
	}
}

func TestSplitCode_SlidingWindowCoversWholeFile(t *testing.T) {
	content := strings.Join([]string{"a", "b", "c", "d", "e"}, "\n")
	file := bundle.NewFile("small.go", []byte(content), "go")

	chunks := SplitCode("b1", "r1", file, nil, 3, 0)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].Metadata.StartLine)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 5, last.Metadata.EndLine)
}
