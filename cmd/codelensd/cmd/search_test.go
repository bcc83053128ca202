package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_NoIndex_ShowsNoResults(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	rootCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"search", "anything", "--offline"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "No results found")
}

func TestSearchCmd_WithIndex_ReturnsResults(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte("package main\n\nfunc handleRequest() {}\n"), 0644))

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index", "--offline"})
	require.NoError(t, indexCmd.Execute())

	searchCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	searchCmd.SetOut(buf)
	searchCmd.SetArgs([]string{"search", "handleRequest", "--offline"})

	require.NoError(t, searchCmd.Execute())
	assert.Contains(t, buf.String(), "main.go")
}

func TestSearchCmd_FormatJSON_ValidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte("package main\n\nfunc handleRequest() {}\n"), 0644))

	oldDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer func() { _ = os.Chdir(oldDir) }()

	indexCmd := NewRootCmd()
	indexCmd.SetArgs([]string{"index", "--offline"})
	require.NoError(t, indexCmd.Execute())

	searchCmd := NewRootCmd()
	buf := &bytes.Buffer{}
	searchCmd.SetOut(buf)
	searchCmd.SetArgs([]string{"search", "handleRequest", "--offline", "--format", "json"})

	require.NoError(t, searchCmd.Execute())
	assert.Contains(t, buf.String(), "\"file\"")
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs([]string{"search"})

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)

	require.Error(t, rootCmd.Execute())
}

func TestSearchCmd_LimitFlag(t *testing.T) {
	rootCmd := NewRootCmd()
	searchCmd, _, _ := rootCmd.Find([]string{"search"})
	require.NotNil(t, searchCmd)

	limitFlag := searchCmd.Flags().Lookup("limit")
	assert.NotNil(t, limitFlag)
	assert.Equal(t, "0", limitFlag.DefValue)
}

func TestSearchCmd_FormatFlag(t *testing.T) {
	rootCmd := NewRootCmd()
	searchCmd, _, _ := rootCmd.Find([]string{"search"})
	require.NotNil(t, searchCmd)

	formatFlag := searchCmd.Flags().Lookup("format")
	assert.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestSearchCmd_OfflineFlag(t *testing.T) {
	rootCmd := NewRootCmd()
	searchCmd, _, _ := rootCmd.Find([]string{"search"})
	require.NotNil(t, searchCmd)

	offlineFlag := searchCmd.Flags().Lookup("offline")
	assert.NotNil(t, offlineFlag)
	assert.Equal(t, "false", offlineFlag.DefValue)
}
