package chunk

import (
	"regexp"
	"strings"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

// headingPattern matches ATX-style markdown headings ("#", "##", ...).
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// SplitDocument splits a documentation file into headed sections of at most
// maxChars characters, preserving heading lineage in ChunkMetadata.HeadingPath
// (spec §4.4 step 3).
func SplitDocument(bundleID, repoID string, file bundle.File, maxChars int) []bundle.Chunk {
	lines := strings.Split(string(file.Content), "\n")

	type section struct {
		headingPath []string
		startLine   int
		endLine     int
		body        []string
	}

	var sections []*section
	stack := []string{}
	cur := &section{headingPath: nil, startLine: 1}
	sections = append(sections, cur)

	for i, line := range lines {
		lineNo := i + 1
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if len(cur.body) > 0 || cur.startLine != lineNo {
				cur.endLine = lineNo - 1
			}
			if level <= len(stack) {
				stack = stack[:level-1]
			}
			stack = append(stack, title)

			cur = &section{
				headingPath: append([]string(nil), stack...),
				startLine:   lineNo,
			}
			sections = append(sections, cur)
			continue
		}
		cur.body = append(cur.body, line)
	}
	if len(lines) > 0 {
		cur.endLine = len(lines)
	}

	var chunks []bundle.Chunk
	for _, sec := range sections {
		content := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if content == "" {
			continue
		}
		for _, part := range splitToMaxChars(content, maxChars) {
			id := bundle.ChunkID(bundleID, repoID, file.Path, sec.startLine, sec.endLine, part)
			chunks = append(chunks, bundle.Chunk{
				ID:      id,
				Content: part,
				Metadata: bundle.ChunkMetadata{
					BundleID:     bundleID,
					RepoID:       repoID,
					SourceType:   bundle.SourceTypeDoc,
					FilePath:     file.Path,
					StartLine:    sec.startLine,
					EndLine:      sec.endLine,
					HasLineRange: true,
					HeadingPath:  sec.headingPath,
				},
			})
		}
	}
	return chunks
}

// splitToMaxChars breaks content into pieces of at most maxChars, preferring
// to break at a blank line or sentence boundary before falling back to a
// hard cut.
func splitToMaxChars(content string, maxChars int) []string {
	if maxChars <= 0 || len(content) <= maxChars {
		return []string{content}
	}

	var parts []string
	for len(content) > maxChars {
		cut := maxChars
		if idx := strings.LastIndex(content[:maxChars], "\n\n"); idx > maxChars/2 {
			cut = idx
		} else if idx := strings.LastIndexAny(content[:maxChars], ".!?"); idx > maxChars/2 {
			cut = idx + 1
		}
		parts = append(parts, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}

// SymbolRange names a contiguous, 1-indexed line range a code file should be
// chunked along, typically sourced from the AST graph builder (spec §4.4
// step 3: "symbol-level chunks, see §4.5").
type SymbolRange struct {
	Name      string
	Kind      string
	StartLine int
	EndLine   int
}

// SplitCode splits a code file into one chunk per symbolRange when any are
// supplied, falling back to a fixed-size sliding window with overlap
// otherwise (spec §4.4 step 3).
func SplitCode(bundleID, repoID string, file bundle.File, symbolRanges []SymbolRange, maxChars, overlap int) []bundle.Chunk {
	if len(symbolRanges) > 0 {
		return splitBySymbol(bundleID, repoID, file, symbolRanges)
	}
	return slidingWindow(bundleID, repoID, file, maxChars, overlap)
}

func splitBySymbol(bundleID, repoID string, file bundle.File, ranges []SymbolRange) []bundle.Chunk {
	lines := strings.Split(string(file.Content), "\n")
	chunks := make([]bundle.Chunk, 0, len(ranges))
	for _, r := range ranges {
		start, end := r.StartLine, r.EndLine
		if start < 1 {
			start = 1
		}
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			continue
		}
		content := strings.Join(lines[start-1:end], "\n")
		id := bundle.ChunkID(bundleID, repoID, file.Path, start, end, content)
		chunks = append(chunks, bundle.Chunk{
			ID:      id,
			Content: content,
			Metadata: bundle.ChunkMetadata{
				BundleID:     bundleID,
				RepoID:       repoID,
				SourceType:   bundle.SourceTypeCode,
				FilePath:     file.Path,
				StartLine:    start,
				EndLine:      end,
				HasLineRange: true,
				SymbolName:   r.Name,
				SymbolKind:   r.Kind,
			},
		})
	}
	return chunks
}

// slidingWindow chunks a file into fixed-size (by character count) windows
// with overlap, tracking each window's line span.
func slidingWindow(bundleID, repoID string, file bundle.File, maxChars, overlap int) []bundle.Chunk {
	if maxChars <= 0 {
		maxChars = 2000
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	lines := strings.Split(string(file.Content), "\n")
	var chunks []bundle.Chunk

	lineStart := 0
	for lineStart < len(lines) {
		var b strings.Builder
		lineEnd := lineStart
		for lineEnd < len(lines) {
			candidate := b.Len() + len(lines[lineEnd]) + 1
			if b.Len() > 0 && candidate > maxChars {
				break
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(lines[lineEnd])
			lineEnd++
		}
		if lineEnd == lineStart {
			// A single line exceeds maxChars; take it whole to make progress.
			b.WriteString(lines[lineEnd])
			lineEnd++
		}

		content := b.String()
		startLine := lineStart + 1
		endLine := lineEnd
		id := bundle.ChunkID(bundleID, repoID, file.Path, startLine, endLine, content)
		chunks = append(chunks, bundle.Chunk{
			ID:      id,
			Content: content,
			Metadata: bundle.ChunkMetadata{
				BundleID:     bundleID,
				RepoID:       repoID,
				SourceType:   bundle.SourceTypeCode,
				FilePath:     file.Path,
				StartLine:    startLine,
				EndLine:      endLine,
				HasLineRange: true,
			},
		})

		if lineEnd >= len(lines) {
			break
		}

		overlapLines := 0
		if overlap > 0 {
			overlapChars := 0
			for i := lineEnd - 1; i >= lineStart && overlapChars < overlap; i-- {
				overlapChars += len(lines[i]) + 1
				overlapLines++
			}
		}
		next := lineEnd - overlapLines
		if next <= lineStart {
			next = lineEnd
		}
		lineStart = next
	}
	return chunks
}
