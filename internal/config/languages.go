package config

import (
	"path/filepath"
	"sort"
	"strings"
)

// Parser modes for a language
const (
	ModePrecise   = "precise"   // grammar-driven extraction first, then fallbacks
	ModeHeuristic = "heuristic" // fallbacks only
)

// LanguageConfig describes how files of one language are recognised and chunked
type LanguageConfig struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions"`
	Filenames  []string `yaml:"filenames"` // exact base names such as Makefile
	Mode       string   `yaml:"mode"`
	Query      string   `yaml:"query"` // tree-sitter query; capture names become chunk types
}

// Precise reports whether grammar-driven extraction should be attempted
func (l LanguageConfig) Precise() bool {
	return l.Mode == ModePrecise && strings.TrimSpace(l.Query) != ""
}

// DefaultLanguages returns the built-in language table
func DefaultLanguages() []LanguageConfig {
	return []LanguageConfig{
		{Name: "go", Extensions: []string{".go"}, Mode: ModePrecise, Query: `
(function_declaration name: (identifier) @name) @function
(method_declaration name: (field_identifier) @name) @method
(type_declaration (type_spec name: (type_identifier) @name)) @type`},
		{Name: "python", Extensions: []string{".py", ".pyi"}, Mode: ModePrecise, Query: `
(class_definition name: (identifier) @name) @class
(function_definition name: (identifier) @name) @function`},
		{Name: "javascript", Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}, Mode: ModePrecise, Query: `
(class_declaration name: (identifier) @name) @class
(function_declaration name: (identifier) @name) @function
(method_definition name: (property_identifier) @name) @method`},
		{Name: "typescript", Extensions: []string{".ts", ".mts", ".cts"}, Mode: ModePrecise, Query: `
(class_declaration name: (type_identifier) @name) @class
(interface_declaration name: (type_identifier) @name) @interface
(function_declaration name: (identifier) @name) @function
(method_definition name: (property_identifier) @name) @method`},
		{Name: "tsx", Extensions: []string{".tsx"}, Mode: ModePrecise, Query: `
(class_declaration name: (type_identifier) @name) @class
(function_declaration name: (identifier) @name) @function
(method_definition name: (property_identifier) @name) @method`},
		{Name: "java", Extensions: []string{".java"}, Mode: ModePrecise, Query: `
(class_declaration) @class
(interface_declaration) @interface
(enum_declaration) @enum
(method_declaration) @method`},
		{Name: "rust", Extensions: []string{".rs"}, Mode: ModePrecise, Query: `
(function_item) @function
(impl_item) @impl
(struct_item) @struct
(enum_item) @enum
(trait_item) @trait`},
		{Name: "c", Extensions: []string{".c", ".h"}, Mode: ModePrecise, Query: `
(function_definition) @function
(struct_specifier body: (field_declaration_list)) @struct`},
		{Name: "cpp", Extensions: []string{".cc", ".cpp", ".cxx", ".hpp", ".hh", ".hxx"}, Mode: ModePrecise, Query: `
(class_specifier) @class
(function_definition) @function
(namespace_definition) @namespace`},
		{Name: "csharp", Extensions: []string{".cs"}, Mode: ModePrecise, Query: `
(class_declaration) @class
(interface_declaration) @interface
(enum_declaration) @enum
(method_declaration) @method`},
		{Name: "ruby", Extensions: []string{".rb"}, Mode: ModePrecise, Query: `
(class) @class
(module) @module
(method) @method`},
		{Name: "php", Extensions: []string{".php"}, Mode: ModePrecise, Query: `
(class_declaration) @class
(function_definition) @function
(method_declaration) @method
(trait_declaration) @trait`},
		{Name: "kotlin", Extensions: []string{".kt", ".kts"}, Mode: ModePrecise, Query: `
(class_declaration) @class
(function_declaration) @function`},
		{Name: "scala", Extensions: []string{".scala"}, Mode: ModePrecise, Query: `
(class_definition) @class
(function_definition) @function
(object_definition) @object`},
		{Name: "swift", Extensions: []string{".swift"}, Mode: ModePrecise, Query: `
(class_declaration) @class
(function_declaration) @function
(protocol_declaration) @protocol`},
		{Name: "lua", Extensions: []string{".lua"}, Mode: ModePrecise, Query: `
(function_declaration) @function`},
		{Name: "bash", Extensions: []string{".sh", ".bash"}, Mode: ModePrecise, Query: `
(function_definition) @function`},
		{Name: "elixir", Extensions: []string{".ex", ".exs"}, Mode: ModeHeuristic},
		{Name: "ocaml", Extensions: []string{".ml", ".mli"}, Mode: ModeHeuristic},
		{Name: "elm", Extensions: []string{".elm"}, Mode: ModeHeuristic},
		{Name: "groovy", Extensions: []string{".groovy", ".gradle"}, Mode: ModeHeuristic},
		{Name: "css", Extensions: []string{".css", ".scss", ".less"}, Mode: ModePrecise, Query: `
(rule_set (selectors) @name) @rule`},
		{Name: "html", Extensions: []string{".html", ".htm"}, Mode: ModeHeuristic},
		{Name: "protobuf", Extensions: []string{".proto"}, Mode: ModePrecise, Query: `
(message (message_name) @name) @message
(service (service_name) @name) @service
(enum (enum_name) @name) @enum`},
		{Name: "sql", Extensions: []string{".sql"}, Mode: ModeHeuristic},
		{Name: "hcl", Extensions: []string{".hcl"}, Mode: ModeHeuristic},
		{Name: "terraform", Extensions: []string{".tf", ".tfvars"}, Mode: ModeHeuristic},
		{Name: "toml", Extensions: []string{".toml"}, Mode: ModeHeuristic},
		{Name: "yaml", Extensions: []string{".yaml", ".yml"}, Mode: ModeHeuristic},
		{Name: "ini", Extensions: []string{".ini", ".cfg", ".conf"}, Mode: ModeHeuristic},
		{Name: "properties", Extensions: []string{".properties"}, Mode: ModeHeuristic},
		{Name: "markdown", Extensions: []string{".md", ".markdown"}, Mode: ModeHeuristic},
		{Name: "rst", Extensions: []string{".rst"}, Mode: ModeHeuristic},
		{Name: "org", Extensions: []string{".org"}, Mode: ModeHeuristic},
		{Name: "latex", Extensions: []string{".tex"}, Mode: ModeHeuristic},
		{Name: "json", Extensions: []string{".json"}, Mode: ModeHeuristic},
		{Name: "csv", Extensions: []string{".csv"}, Mode: ModeHeuristic},
		{Name: "tsv", Extensions: []string{".tsv"}, Mode: ModeHeuristic},
		{Name: "graphql", Extensions: []string{".graphql", ".gql"}, Mode: ModeHeuristic},
		{Name: "dockerfile", Extensions: []string{".dockerfile"}, Filenames: []string{"Dockerfile"}, Mode: ModeHeuristic},
		{Name: "make", Extensions: []string{".mk"}, Filenames: []string{"Makefile", "GNUmakefile"}, Mode: ModeHeuristic},
		{Name: "cmake", Extensions: []string{".cmake"}, Filenames: []string{"CMakeLists.txt"}, Mode: ModeHeuristic},
		{Name: "bazel", Extensions: []string{".bzl", ".bazel"}, Filenames: []string{"BUILD", "WORKSPACE"}, Mode: ModeHeuristic},
		{Name: "gn", Extensions: []string{".gn", ".gni"}, Mode: ModeHeuristic},
	}
}

// mergeLanguages overlays user entries on the built-ins by name
func mergeLanguages(base, overrides []LanguageConfig) []LanguageConfig {
	byName := make(map[string]int, len(base))
	out := make([]LanguageConfig, len(base))
	copy(out, base)
	for i, l := range out {
		byName[l.Name] = i
	}

	for _, l := range overrides {
		l.Name = strings.ToLower(l.Name)
		if l.Mode == "" {
			l.Mode = ModeHeuristic
			if strings.TrimSpace(l.Query) != "" {
				l.Mode = ModePrecise
			}
		}
		if i, ok := byName[l.Name]; ok {
			out[i] = l
			continue
		}
		byName[l.Name] = len(out)
		out = append(out, l)
	}
	return out
}

// LanguageFor resolves a file path to its language. Exact file names take
// precedence over extensions.
func (c *Config) LanguageFor(path string) (LanguageConfig, bool) {
	base := filepath.Base(path)
	for _, l := range c.Languages {
		for _, name := range l.Filenames {
			if name == base {
				return l, true
			}
		}
	}

	ext := strings.ToLower(filepath.Ext(base))
	if ext == "" {
		return LanguageConfig{}, false
	}
	for _, l := range c.Languages {
		for _, e := range l.Extensions {
			if strings.ToLower(e) == ext {
				return l, true
			}
		}
	}
	return LanguageConfig{}, false
}

// Language returns the configuration for a language by name
func (c *Config) Language(name string) (LanguageConfig, bool) {
	name = strings.ToLower(name)
	for _, l := range c.Languages {
		if l.Name == name {
			return l, true
		}
	}
	return LanguageConfig{}, false
}

// LanguageNames lists the configured languages, sorted
func (c *Config) LanguageNames() []string {
	out := make([]string, 0, len(c.Languages))
	for _, l := range c.Languages {
		out = append(out, l.Name)
	}
	sort.Strings(out)
	return out
}
