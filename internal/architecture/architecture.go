// Package architecture maps language identifiers to the structural archetype
// of their files. The archetype selects the heuristic extractor used when no
// grammar-driven extraction is possible.
package architecture

import "strings"

// Architecture is the structural archetype of a file format
type Architecture int

const (
	Function Architecture = iota // functions, classes, methods
	Section                      // config files with top-level keys or [sections]
	Heading                      // documents with hierarchical headings
	Element                      // markup with nested elements
	Rule                         // build files with targets and recipes
	Record                       // data files with rows or entries
	Query                        // query languages
	Template                     // templates with interpolation
	Schema                       // data structure definitions
)

var names = [...]string{
	Function: "function",
	Section:  "section",
	Heading:  "heading",
	Element:  "element",
	Rule:     "rule",
	Record:   "record",
	Query:    "query",
	Template: "template",
	Schema:   "schema",
}

func (a Architecture) String() string {
	if a < 0 || int(a) >= len(names) {
		return "unknown"
	}
	return names[a]
}

var byArchitecture = map[Architecture][]string{
	Function: {
		"c", "cpp", "java", "python", "javascript", "typescript", "tsx",
		"go", "rust", "zig", "nim", "d", "v", "odin", "carbon",
		"csharp", "fsharp", "kotlin", "scala", "groovy", "clojure",
		"ruby", "php", "lua", "perl", "elixir", "erlang", "dart",
		"haskell", "ocaml", "swift", "elm", "purescript", "racket", "scheme",
		"commonlisp", "reasonml", "agda", "idris", "lean",
		"fortran", "ada", "pascal", "actionscript",
		"apex", "hack", "haxe", "gdscript", "objc",
		"bash", "fish", "powershell", "tcl",
		"r", "julia", "matlab", "scilab",
		"solidity", "cairo", "clarity", "vyper",
		"gleam", "hare", "pony", "unison",
		"elisp", "fennel", "janet",
		"bsl", "pike", "sourcepawn", "squirrel",
		"magik", "netlinx", "nqc",
	},
	Section: {
		"yaml", "toml", "ini", "hcl", "terraform", "bicep",
		"properties", "kdl", "ron", "dhall",
		"git_config", "gitattributes", "gitignore",
		"readline", "udev", "kconfig",
	},
	Heading: {
		"markdown", "markdown_inline", "rst", "latex", "org", "typst",
		"pod", "doxygen", "asciidoc",
	},
	Element: {
		"html", "xml", "svg", "dtd", "pem",
		"vue", "svelte", "astro",
	},
	Rule: {
		"make", "cmake", "ninja", "bazel", "starlark", "bitbake",
		"meson", "just", "gn", "dockerfile",
	},
	Record: {
		"csv", "tsv", "psv",
		"json", "json5", "jsonnet",
		"beancount", "ledger",
		"po", "pgn",
	},
	Query: {
		"sql", "plsql", "graphql", "sparql", "rego",
	},
	Template: {
		"jinja", "ejs", "twig", "heex", "embeddedtemplate",
		"mustache", "handlebars",
	},
	Schema: {
		"protobuf", "proto", "thrift", "capnp",
		"prisma", "smithy", "avro",
		"yang", "systemrdl",
	},
}

var lookup = func() map[string]Architecture {
	m := make(map[string]Architecture)
	for arch, langs := range byArchitecture {
		for _, lang := range langs {
			m[lang] = arch
		}
	}
	return m
}()

// Classify returns the archetype for a language. Unknown languages are
// function-based.
func Classify(language string) Architecture {
	if arch, ok := lookup[strings.ToLower(strings.TrimSpace(language))]; ok {
		return arch
	}
	return Function
}

// Languages returns the languages mapped to an archetype
func Languages(a Architecture) []string {
	langs := byArchitecture[a]
	out := make([]string, len(langs))
	copy(out, langs)
	return out
}
