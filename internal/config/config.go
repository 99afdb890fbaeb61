// Package config loads chunkrag configuration from YAML with defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Staleness modes
const (
	StateModeMtime = "mtime"
	StateModeHash  = "hash"
)

// ErrInvalidConfig is returned when validation fails
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the chunkrag configuration.
type Config struct {
	DBPath         string `yaml:"db_path"`
	StatePath      string `yaml:"state_path"`
	CollectionName string `yaml:"collection_name"`

	Index     IndexConfig      `yaml:"index"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Search    SearchConfig     `yaml:"search"`
	Logging   LoggingConfig    `yaml:"logging"`
	Languages []LanguageConfig `yaml:"languages"`
}

// IndexConfig holds indexing pipeline settings.
type IndexConfig struct {
	BatchSize    int      `yaml:"batch_size"`
	Workers      int      `yaml:"workers"` // 0 = NumCPU-1
	MinChunkSize int      `yaml:"min_chunk_size"`
	MaxChunkSize int      `yaml:"max_chunk_size"`
	ExcludeDirs  []string `yaml:"exclude_dirs"`
	ExcludeGlobs []string `yaml:"exclude_globs"` // doublestar patterns relative to the root
	StateMode    string   `yaml:"state_mode"`    // mtime, hash
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // local, openai
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	RRFConstant        float64       `yaml:"rrf_constant"`
	DenseOnlyWhenStale bool          `yaml:"dense_only_when_stale"`
	CacheSize          int           `yaml:"cache_size"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, local, dev
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultExcludeDirs are pruned during discovery
var DefaultExcludeDirs = []string{
	"third_party", "out", "build", ".git", ".svn", ".hg",
	"__pycache__", "node_modules", "venv", "env", "vendor",
	"test", "tests", "testing",
}

// Default returns a configuration with every default applied
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. An empty path yields defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = defaultDataPath("chunkrag.db")
	}
	if c.StatePath == "" {
		c.StatePath = filepath.Join(filepath.Dir(c.DBPath), "state.db")
	}
	if c.CollectionName == "" {
		c.CollectionName = "chunks"
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = 100
	}
	if c.Index.MinChunkSize <= 0 {
		c.Index.MinChunkSize = 10
	}
	if c.Index.MaxChunkSize <= 0 {
		c.Index.MaxChunkSize = 10000
	}
	if c.Index.ExcludeDirs == nil {
		c.Index.ExcludeDirs = append([]string(nil), DefaultExcludeDirs...)
	}
	if c.Index.StateMode == "" {
		c.Index.StateMode = StateModeMtime
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.CacheSize <= 0 {
		c.Embedding.CacheSize = 10000
	}
	if c.Search.RRFConstant <= 0 {
		c.Search.RRFConstant = 60
	}
	if c.Search.CacheSize <= 0 {
		c.Search.CacheSize = 1000
	}
	if c.Search.CacheTTL <= 0 {
		c.Search.CacheTTL = 5 * time.Minute
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
	c.Languages = mergeLanguages(DefaultLanguages(), c.Languages)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Index.MinChunkSize > c.Index.MaxChunkSize {
		return fmt.Errorf("%w: index.min_chunk_size (%d) exceeds index.max_chunk_size (%d)",
			ErrInvalidConfig, c.Index.MinChunkSize, c.Index.MaxChunkSize)
	}
	switch c.Index.StateMode {
	case StateModeMtime, StateModeHash:
	default:
		return fmt.Errorf("%w: index.state_mode must be %q or %q, got %q",
			ErrInvalidConfig, StateModeMtime, StateModeHash, c.Index.StateMode)
	}
	for _, g := range c.Index.ExcludeGlobs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("%w: invalid exclude glob %q", ErrInvalidConfig, g)
		}
	}
	switch c.Logging.Env {
	case "prod", "local", "dev":
	default:
		return fmt.Errorf("%w: logging.env must be prod, local or dev, got %q", ErrInvalidConfig, c.Logging.Env)
	}

	seen := make(map[string]string)
	for _, l := range c.Languages {
		if l.Name == "" {
			return fmt.Errorf("%w: language entry without a name", ErrInvalidConfig)
		}
		switch l.Mode {
		case ModePrecise, ModeHeuristic:
		default:
			return fmt.Errorf("%w: language %s: mode must be %q or %q, got %q",
				ErrInvalidConfig, l.Name, ModePrecise, ModeHeuristic, l.Mode)
		}
		for _, ext := range l.Extensions {
			key := strings.ToLower(ext)
			if owner, dup := seen[key]; dup {
				return fmt.Errorf("%w: extension %s claimed by both %s and %s", ErrInvalidConfig, ext, owner, l.Name)
			}
			seen[key] = l.Name
		}
	}
	return nil
}

// defaultDataPath places data files under ~/.chunkrag, or the working
// directory when no home directory is available.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chunkrag", name)
	}
	return filepath.Join(home, ".chunkrag", name)
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
