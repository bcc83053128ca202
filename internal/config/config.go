package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete codelens configuration, mirroring the
// on-disk layout described in SPEC_FULL.md §2 (one struct per concern,
// defaults set by NewConfig, YAML tags matching the spec's field names).
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	ChunkStore ChunkStoreConfig `yaml:"chunk_store" json:"chunk_store"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Ann        AnnConfig        `yaml:"ann" json:"ann"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Indexer    IndexerConfig    `yaml:"indexer" json:"indexer"`
	Watcher    WatcherConfig    `yaml:"watcher" json:"watcher"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Submodules SubmoduleConfig  `yaml:"submodules" json:"submodules"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkStoreConfig configures the columnar on-disk chunk store (spec.md §3).
type ChunkStoreConfig struct {
	// ChunkSize is the target number of lines per chunk.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the number of lines shared between adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// MinChunks is the minimum chunk count below which a file is stored
	// as a single chunk rather than windowed.
	MinChunks int `yaml:"min_chunks" json:"min_chunks"`
	// Dir is the directory holding the store's vectors/records/content files.
	Dir string `yaml:"dir" json:"dir"`
}

// CacheConfig configures the embedding cache's debounced save behavior
// (spec.md §4.2).
type CacheConfig struct {
	// SaveDebounce is how long to wait after the last mutation before a
	// background save is scheduled, e.g. "2s".
	SaveDebounce string `yaml:"save_debounce" json:"save_debounce"`
	// ReaderWaitTimeout bounds wait_for_readers_with_timeout.
	ReaderWaitTimeout string `yaml:"reader_wait_timeout" json:"reader_wait_timeout"`
}

// AnnConfig configures the HNSW-backed ANN index manager (spec.md §4.3).
type AnnConfig struct {
	// EfConstruction controls HNSW build-time search breadth.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	// EfSearch controls HNSW query-time search breadth. Tunable at runtime
	// via the "ann" CLI subcommand without a rebuild.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// M is the max number of bidirectional links per HNSW node.
	M int `yaml:"m" json:"m"`
	// MinPointsForBuild is the minimum vector count before an ANN index is
	// built at all; below this, search falls back to a linear scan.
	MinPointsForBuild int `yaml:"min_points_for_build" json:"min_points_for_build"`
}

// SearchConfig configures hybrid search fusion weights (spec.md §4.5).
// Weights are configurable via:
//  1. User config (~/.config/codelens/config.yaml) - personal defaults
//  2. Project config (.codelens.yaml) - per-repo tuning
//  3. Env vars (CODELENS_SEMANTIC_WEIGHT, CODELENS_LEXICAL_WEIGHT) - highest priority
type SearchConfig struct {
	// SemanticWeight is the weight for cosine similarity in the fused score.
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// LexicalWeight is the weight for normalized token-overlap score.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	// ExactMatchBoost is added to the lexical score when the query string
	// appears verbatim in the chunk.
	ExactMatchBoost float64 `yaml:"exact_match_boost" json:"exact_match_boost"`
	// RecencyBoost is the coefficient applied to the decayed recency
	// factor before it's added to the fused score.
	RecencyBoost float64 `yaml:"recency_boost" json:"recency_boost"`
	// RecencyDecayDays is the half-life, in days, of the recency boost
	// applied to chunks from recently modified files.
	RecencyDecayDays float64 `yaml:"recency_decay_days" json:"recency_decay_days"`
	// CallGraphBoost is added per hop of call-graph proximity to the
	// highest-scoring result, up to CallGraphMaxHops.
	CallGraphBoost float64 `yaml:"call_graph_boost" json:"call_graph_boost"`
	// CallGraphMaxHops bounds the k-hop related-file lookup.
	CallGraphMaxHops int `yaml:"call_graph_max_hops" json:"call_graph_max_hops"`
	// MaxResults is the default result count returned by a search.
	MaxResults int `yaml:"max_results" json:"max_results"`
	// CandidateMultiple scales MaxResults when requesting ANN/linear
	// candidates before fusion narrows them back down.
	CandidateMultiple int `yaml:"candidate_multiple" json:"candidate_multiple"`
}

// IndexerConfig configures the incremental indexing pipeline (spec.md §4.4).
type IndexerConfig struct {
	// BatchSize is the number of chunks dispatched to the embedder per call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CheckpointInterval is how many files are processed between cache saves.
	CheckpointInterval int `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	// Workers is the number of concurrent embedding-dispatch goroutines.
	Workers int `yaml:"workers" json:"workers"`
	// WorkerFailureCooldownMs backs the circuit breaker that pauses the
	// indexer after repeated embedder failures.
	WorkerFailureCooldownMs int `yaml:"worker_failure_cooldown_ms" json:"worker_failure_cooldown_ms"`
	// MaxFiles bounds the number of files discovered in one pass.
	MaxFiles int `yaml:"max_files" json:"max_files"`
}

// WatcherConfig configures filesystem watching and debouncing.
type WatcherConfig struct {
	DebounceInterval string `yaml:"debounce_interval" json:"debounce_interval"`
	PollFallback     bool   `yaml:"poll_fallback" json:"poll_fallback"`
}

// EmbeddingsConfig configures the external embedder collaborator
// (spec.md §1/§6 — out of scope itself, but its shape is configured here).
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// SubmoduleConfig configures git submodule discovery.
type SubmoduleConfig struct {
	// Enabled enables submodule discovery (default: false, opt-in).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Recursive enables discovery of nested submodules (default: true).
	Recursive bool `yaml:"recursive" json:"recursive"`
	// Include specifies submodules to include (empty = all).
	Include []string `yaml:"include" json:"include"`
	// Exclude specifies submodules to exclude.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		ChunkStore: ChunkStoreConfig{
			ChunkSize:    60,
			ChunkOverlap: 10,
			MinChunks:    1,
			Dir:          ".codelens",
		},
		Cache: CacheConfig{
			SaveDebounce:      "2s",
			ReaderWaitTimeout: "5s",
		},
		Ann: AnnConfig{
			EfConstruction:    200,
			EfSearch:          64,
			M:                 16,
			MinPointsForBuild: 256,
		},
		Search: SearchConfig{
			SemanticWeight:    0.65,
			LexicalWeight:     0.35,
			ExactMatchBoost:   0.1,
			RecencyBoost:      0.1,
			RecencyDecayDays:  14,
			CallGraphBoost:    0.05,
			CallGraphMaxHops:  2,
			MaxResults:        20,
			CandidateMultiple: 5,
		},
		Indexer: IndexerConfig{
			BatchSize:               32,
			CheckpointInterval:      200,
			Workers:                 runtime.NumCPU(),
			WorkerFailureCooldownMs: 30000,
			MaxFiles:                100000,
		},
		Watcher: WatcherConfig{
			DebounceInterval: "500ms",
			PollFallback:     true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "",
			Dimensions: 0, // auto-detect from embedder
			CacheSize:  1000,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Submodules: SubmoduleConfig{
			Enabled:   false,
			Recursive: true,
			Include:   nil,
			Exclude:   nil,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/codelens/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/codelens/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codelens", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "codelens", "config.yaml")
	}
	return filepath.Join(home, ".config", "codelens", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/codelens/config.yaml)
//  3. Project config (.codelens.yaml in project root)
//  4. Environment variables (CODELENS_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .codelens.yaml or .codelens.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".codelens.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".codelens.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.ChunkStore.ChunkSize != 0 {
		c.ChunkStore.ChunkSize = other.ChunkStore.ChunkSize
	}
	if other.ChunkStore.ChunkOverlap != 0 {
		c.ChunkStore.ChunkOverlap = other.ChunkStore.ChunkOverlap
	}
	if other.ChunkStore.MinChunks != 0 {
		c.ChunkStore.MinChunks = other.ChunkStore.MinChunks
	}
	if other.ChunkStore.Dir != "" {
		c.ChunkStore.Dir = other.ChunkStore.Dir
	}

	if other.Cache.SaveDebounce != "" {
		c.Cache.SaveDebounce = other.Cache.SaveDebounce
	}
	if other.Cache.ReaderWaitTimeout != "" {
		c.Cache.ReaderWaitTimeout = other.Cache.ReaderWaitTimeout
	}

	if other.Ann.EfConstruction != 0 {
		c.Ann.EfConstruction = other.Ann.EfConstruction
	}
	if other.Ann.EfSearch != 0 {
		c.Ann.EfSearch = other.Ann.EfSearch
	}
	if other.Ann.M != 0 {
		c.Ann.M = other.Ann.M
	}
	if other.Ann.MinPointsForBuild != 0 {
		c.Ann.MinPointsForBuild = other.Ann.MinPointsForBuild
	}

	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.ExactMatchBoost != 0 {
		c.Search.ExactMatchBoost = other.Search.ExactMatchBoost
	}
	if other.Search.RecencyBoost != 0 {
		c.Search.RecencyBoost = other.Search.RecencyBoost
	}
	if other.Search.RecencyDecayDays != 0 {
		c.Search.RecencyDecayDays = other.Search.RecencyDecayDays
	}
	if other.Search.CallGraphBoost != 0 {
		c.Search.CallGraphBoost = other.Search.CallGraphBoost
	}
	if other.Search.CallGraphMaxHops != 0 {
		c.Search.CallGraphMaxHops = other.Search.CallGraphMaxHops
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.CandidateMultiple != 0 {
		c.Search.CandidateMultiple = other.Search.CandidateMultiple
	}

	if other.Indexer.BatchSize != 0 {
		c.Indexer.BatchSize = other.Indexer.BatchSize
	}
	if other.Indexer.CheckpointInterval != 0 {
		c.Indexer.CheckpointInterval = other.Indexer.CheckpointInterval
	}
	if other.Indexer.Workers != 0 {
		c.Indexer.Workers = other.Indexer.Workers
	}
	if other.Indexer.WorkerFailureCooldownMs != 0 {
		c.Indexer.WorkerFailureCooldownMs = other.Indexer.WorkerFailureCooldownMs
	}
	if other.Indexer.MaxFiles != 0 {
		c.Indexer.MaxFiles = other.Indexer.MaxFiles
	}

	if other.Watcher.DebounceInterval != "" {
		c.Watcher.DebounceInterval = other.Watcher.DebounceInterval
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Submodules.Enabled {
		c.Submodules.Enabled = other.Submodules.Enabled
	}
	if len(other.Submodules.Include) > 0 || len(other.Submodules.Exclude) > 0 || other.Submodules.Enabled {
		c.Submodules.Recursive = other.Submodules.Recursive
	}
	if len(other.Submodules.Include) > 0 {
		c.Submodules.Include = other.Submodules.Include
	}
	if len(other.Submodules.Exclude) > 0 {
		c.Submodules.Exclude = other.Submodules.Exclude
	}
}

// applyEnvOverrides applies CODELENS_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODELENS_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("CODELENS_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("CODELENS_EF_SEARCH"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Ann.EfSearch = k
		}
	}
	if v := os.Getenv("CODELENS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CODELENS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CODELENS_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CODELENS_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .codelens.yaml/.yml file by walking up the
// directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".codelens.yaml")) ||
			fileExists(filepath.Join(currentDir, ".codelens.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if c.Search.LexicalWeight < 0 || c.Search.LexicalWeight > 1 {
		return fmt.Errorf("search.lexical_weight must be between 0 and 1, got %f", c.Search.LexicalWeight)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.ChunkStore.ChunkSize <= 0 {
		return fmt.Errorf("chunk_store.chunk_size must be positive, got %d", c.ChunkStore.ChunkSize)
	}
	if c.ChunkStore.ChunkOverlap < 0 || c.ChunkStore.ChunkOverlap >= c.ChunkStore.ChunkSize {
		return fmt.Errorf("chunk_store.chunk_overlap must be in [0, chunk_size), got %d", c.ChunkStore.ChunkOverlap)
	}
	if c.Ann.EfSearch <= 0 {
		return fmt.Errorf("ann.ef_search must be positive, got %d", c.Ann.EfSearch)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "mlx": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'mlx', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}
