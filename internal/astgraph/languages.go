// Package astgraph builds a bundle's typed symbol graph from source files
// using per-language tree-sitter adapters (spec §4.5).
package astgraph

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageConfig names the tree-sitter node types that map to each
// bundle.AstNodeKind for one language.
type languageConfig struct {
	tsLanguage     *sitter.Language
	functionTypes  map[string]bool
	methodTypes    map[string]bool
	classTypes     map[string]bool
	interfaceTypes map[string]bool
	typeTypes      map[string]bool
	commentType    string
	nameField      string
}

var registry = map[string]*languageConfig{
	"go": {
		tsLanguage:    golang.GetLanguage(),
		functionTypes: set("function_declaration"),
		methodTypes:   set("method_declaration"),
		typeTypes:     set("type_declaration"),
		commentType:   "comment",
		nameField:     "name",
	},
	"typescript": {
		tsLanguage:     typescript.GetLanguage(),
		functionTypes:  set("function_declaration"),
		methodTypes:    set("method_definition"),
		classTypes:     set("class_declaration"),
		interfaceTypes: set("interface_declaration"),
		typeTypes:      set("type_alias_declaration"),
		commentType:    "comment",
		nameField:      "name",
	},
	"tsx": {
		tsLanguage:     tsx.GetLanguage(),
		functionTypes:  set("function_declaration"),
		methodTypes:    set("method_definition"),
		classTypes:     set("class_declaration"),
		interfaceTypes: set("interface_declaration"),
		typeTypes:      set("type_alias_declaration"),
		commentType:    "comment",
		nameField:      "name",
	},
	"javascript": {
		tsLanguage:    javascript.GetLanguage(),
		functionTypes: set("function_declaration", "function"),
		methodTypes:   set("method_definition"),
		classTypes:    set("class_declaration"),
		commentType:   "comment",
		nameField:     "name",
	},
	"python": {
		tsLanguage:    python.GetLanguage(),
		functionTypes: set("function_definition"),
		classTypes:    set("class_definition"),
		commentType:   "comment",
		nameField:     "name",
	},
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[i] = true
	}
	return m
}

func configFor(language string) (*languageConfig, bool) {
	cfg, ok := registry[strings.ToLower(language)]
	return cfg, ok
}

// Supported reports whether a language has a registered adapter.
func Supported(language string) bool {
	_, ok := configFor(language)
	return ok
}

// parserPool reuses sitter.Parser instances; they are not safe for
// concurrent use but are cheap to create, so a small pool avoids
// re-allocating one per file under concurrent indexing.
var parserPool = sync.Pool{
	New: func() any { return sitter.NewParser() },
}
