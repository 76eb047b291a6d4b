package chunk

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jonnyhoo/preflight-mcp-sub008/internal/bundle"
	"github.com/jonnyhoo/preflight-mcp-sub008/internal/ignore"
)

// defaultSkipDirs are always excluded from discovery, independent of any
// .gitignore the repo carries (spec §4.4 step 2).
var defaultSkipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "vendor": true,
	".venv": true, "venv": true, "__pycache__": true,
	".idea": true, ".vscode": true, ".cache": true,
	"dist": true, "build": true, ".next": true, "target": true,
}

// lockAndConfigFiles are skipped outright; they carry no retrievable signal.
var lockAndConfigFiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true,
	"go.sum": true, "cargo.lock": true, "poetry.lock": true,
	"composer.lock": true, "gemfile.lock": true, "uv.lock": true,
}

// testFilePattern matches conventional test-file names across ecosystems.
var testFilePattern = regexp.MustCompile(`(?i)(_test\.[a-z]+$|\.test\.[a-z]+$|\.spec\.[a-z]+$|^test_.*\.py$)`)

// generatedFilePattern matches conventional generated-file markers.
var generatedFilePattern = regexp.MustCompile(`(?i)(\.pb\.go$|\.generated\.[a-z]+$|_generated\.[a-z]+$|\.min\.js$)`)

// Options controls discovery and filtering (spec §4.4 step 2, §6).
type Options struct {
	IgnorePatterns        []string
	MaxFileBytes          int64
	MaxFilesPerBundle     int
	IncludeTestFiles      bool
	IncludeGeneratedFiles bool
}

// DiscoveredFile is a file admitted by Discover, not yet read.
type DiscoveredFile struct {
	// Path is posix-relative to the repo root.
	Path string
	Size int64
}

// Warning describes a single skipped unit; the bundle as a whole is never
// aborted because of it (spec §4.4 failure semantics).
type Warning struct {
	Path   string
	Reason string
}

// Discover walks root and returns the files admitted after exclusion rules,
// in deterministic lexicographic path order, plus one Warning per oversized
// or unreadable file and per walk error; entries excluded by ignore patterns
// or as test or generated files are dropped without a warning. The hard
// per-bundle cap truncates the list and
// records a single summary warning rather than one per dropped file.
func Discover(root string, opts Options) ([]DiscoveredFile, []Warning, error) {
	var files []DiscoveredFile
	var warnings []Warning

	err := filepath.WalkDir(root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			warnings = append(warnings, Warning{Path: walkPath, Reason: err.Error()})
			return nil
		}
		rel, relErr := filepath.Rel(root, walkPath)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if ignore.Match(opts.IgnorePatterns, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if shouldSkipFile(rel, opts) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			warnings = append(warnings, Warning{Path: rel, Reason: infoErr.Error()})
			return nil
		}
		if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
			warnings = append(warnings, Warning{Path: rel, Reason: "exceeds max file size"})
			return nil
		}

		files = append(files, DiscoveredFile{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, warnings, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	if opts.MaxFilesPerBundle > 0 && len(files) > opts.MaxFilesPerBundle {
		dropped := len(files) - opts.MaxFilesPerBundle
		files = files[:opts.MaxFilesPerBundle]
		warnings = append(warnings, Warning{
			Path:   root,
			Reason: "bundle file cap reached; dropped " + strconv.Itoa(dropped) + " additional files",
		})
	}

	return files, warnings, nil
}

func shouldSkipFile(rel string, opts Options) bool {
	base := filepath.Base(rel)
	lower := strings.ToLower(base)

	if lockAndConfigFiles[lower] {
		return true
	}
	if ignore.Match(opts.IgnorePatterns, rel) {
		return true
	}
	if !opts.IncludeTestFiles && testFilePattern.MatchString(base) {
		return true
	}
	if !opts.IncludeGeneratedFiles && generatedFilePattern.MatchString(base) {
		return true
	}
	return false
}

// ReadAndNormalize reads each discovered file under root, normalizing line
// endings via bundle.NewFile. An unreadable file is skipped with a warning
// rather than aborting the bundle (spec §4.4 failure semantics). total bytes
// read is capped at maxTotalBytes; once exceeded, remaining files are
// skipped with a single summary warning.
func ReadAndNormalize(root string, discovered []DiscoveredFile, maxTotalBytes int64) ([]bundle.File, []Warning) {
	var out []bundle.File
	var warnings []Warning
	var totalBytes int64

	for i, d := range discovered {
		if maxTotalBytes > 0 && totalBytes+d.Size > maxTotalBytes {
			warnings = append(warnings, Warning{
				Path:   d.Path,
				Reason: "bundle total byte cap reached; skipped " + strconv.Itoa(len(discovered)-i) + " remaining files",
			})
			break
		}
		raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(d.Path)))
		if err != nil {
			warnings = append(warnings, Warning{Path: d.Path, Reason: err.Error()})
			continue
		}
		totalBytes += d.Size
		out = append(out, bundle.NewFile(d.Path, raw, languageFor(d.Path)))
	}
	return out, warnings
}

var languageByExt = map[string]string{
	".go": "go", ".ts": "typescript", ".tsx": "typescript", ".js": "javascript",
	".jsx": "javascript", ".py": "python", ".rb": "ruby", ".rs": "rust",
	".java": "java", ".kt": "kotlin", ".c": "c", ".h": "c", ".cc": "cpp",
	".cpp": "cpp", ".hpp": "cpp", ".cs": "csharp", ".swift": "swift",
	".scala": "scala", ".php": "php", ".sh": "shell", ".sql": "sql",
	".md": "markdown", ".mdx": "markdown", ".rst": "restructuredtext",
	".json": "json", ".yaml": "yaml", ".yml": "yaml", ".toml": "toml",
}

func languageFor(relPath string) string {
	ext := strings.ToLower(filepath.Ext(relPath))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return ""
}

