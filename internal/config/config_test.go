package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 0.65, cfg.Search.SemanticWeight)
	assert.Equal(t, 0.35, cfg.Search.LexicalWeight)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, 60, cfg.ChunkStore.ChunkSize)
	assert.Equal(t, 10, cfg.ChunkStore.ChunkOverlap)
	assert.Equal(t, 64, cfg.Ann.EfSearch)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.ElementsMatch(t, defaultExcludePatterns, cfg.Paths.Exclude)
}

func TestConfig_Validate_RejectsOutOfRangeWeights(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.SemanticWeight = 1.5
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsBadChunkOverlap(t *testing.T) {
	cfg := NewConfig()
	cfg.ChunkStore.ChunkOverlap = cfg.ChunkStore.ChunkSize
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_RejectsUnknownTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Transport = "http"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_AcceptsDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoProjectConfig_UsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-empty"))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search.SemanticWeight, cfg.Search.SemanticWeight)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-empty"))

	yamlContent := `
search:
  semantic_weight: 0.8
  lexical_weight: 0.2
ann:
  ef_search: 128
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".codelens.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Search.SemanticWeight)
	assert.Equal(t, 128, cfg.Ann.EfSearch)
}

func TestLoad_YmlFallback(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-empty"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".codelens.yml"), []byte("version: 2"), 0o644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Version)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-empty"))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".codelens.yaml"), []byte("not: [valid: yaml"), 0o644))

	_, err := Load(tmpDir)
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg-empty"))
	t.Setenv("CODELENS_SEMANTIC_WEIGHT", "0.9")
	t.Setenv("CODELENS_EF_SEARCH", "256")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.SemanticWeight)
	assert.Equal(t, 256, cfg.Ann.EfSearch)
}

func TestGetUserConfigPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")
	assert.Equal(t, filepath.Join("/custom/xdg", "codelens", "config.yaml"), GetUserConfigPath())
}

func TestGetUserConfigPath_Default(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "codelens", "config.yaml")
	assert.Equal(t, expected, GetUserConfigPath())
}

func TestDetectProjectType(t *testing.T) {
	tmpDir := t.TempDir()
	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(tmpDir))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte("module x"), 0o644))
	assert.Equal(t, ProjectTypeGo, DetectProjectType(tmpDir))
}

func TestFindProjectRoot_FindsGitDir(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".git"), 0o755))

	nested := filepath.Join(tmpDir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	root, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_FindsConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".codelens.yaml"), []byte("version: 1"), 0o644))

	root, err := FindProjectRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsStartDir(t *testing.T) {
	tmpDir := t.TempDir()
	root, err := FindProjectRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.yaml")

	cfg := NewConfig()
	cfg.Search.SemanticWeight = 0.77
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "semantic_weight: 0.77")
}
