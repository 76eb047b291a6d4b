// Package chunk implements the chunker: repo classification, file
// filtering, and document/code splitting into retrieval chunks (spec §4.4).
package chunk

import (
	"path"
	"strings"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
)

// codeExtensions recognizes source file extensions for the classification
// ratio (spec §4.4 step 1).
var codeExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".rs": true, ".java": true, ".kt": true,
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true,
	".cs": true, ".swift": true, ".scala": true, ".php": true, ".sh": true,
	".sql": true, ".proto": true, ".graphql": true,
}

// entryFileNames recognizes conventional program entry points.
var entryFileNames = []string{
	"main.go", "main.py", "main.rs", "main.c", "main.cpp", "main.java",
	"index.js", "index.ts", "index.tsx", "index.jsx", "lib.rs", "app.py",
	"server.go", "server.js", "server.ts",
}

// docIndicatorNames recognizes files/directories that signal a
// documentation-heavy repo regardless of code ratio.
var docIndicatorNames = []string{"claude.md", "skills"}

// Classify determines a repo's content mix from its file paths (spec §4.4
// step 1). Paths are posix-relative to the repo root.
func Classify(paths []string) bundle.Classification {
	if hasDocIndicator(paths) {
		return bundle.ClassificationDocumentation
	}

	total := len(paths)
	if total == 0 {
		return bundle.ClassificationDocumentation
	}

	codeCount := 0
	for _, p := range paths {
		if codeExtensions[strings.ToLower(path.Ext(p))] {
			codeCount++
		}
	}
	ratio := float64(codeCount) / float64(total)

	switch {
	case ratio < 0.10:
		return bundle.ClassificationDocumentation
	case ratio >= 0.30:
		return bundle.ClassificationCode
	default:
		return bundle.ClassificationHybrid
	}
}

func hasDocIndicator(paths []string) bool {
	for _, p := range paths {
		lower := strings.ToLower(p)
		base := strings.ToLower(path.Base(p))
		for _, indicator := range docIndicatorNames {
			if base == indicator {
				return true
			}
			for _, seg := range strings.Split(lower, "/") {
				if seg == indicator {
					return true
				}
			}
		}
		topLevel := strings.SplitN(lower, "/", 2)[0]
		if strings.Contains(topLevel, "awesome") {
			return true
		}
	}
	return false
}

// IsEntryFile reports whether base (a file's base name, compared
// case-insensitively) matches a recognized program entry point. Used by the
// AST graph builder's importance scoring (spec §4.5).
func IsEntryFile(base string) bool {
	lower := strings.ToLower(base)
	for _, name := range entryFileNames {
		if lower == name {
			return true
		}
	}
	return false
}
