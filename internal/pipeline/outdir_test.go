package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("/path/to/local/directory"))
	assert.True(t, IsPlaceholder(" /PATH/to/local/directory/ "))
	assert.True(t, IsPlaceholder(`path\to\local\directory`))
	assert.False(t, IsPlaceholder("/tmp/reports"))
}

func TestOutputCandidates(t *testing.T) {
	dir := t.TempDir()
	got := OutputCandidates(dir, dir)
	require.NotEmpty(t, got)
	assert.Equal(t, dir, got[0])
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, dir, got[i])
	}

	got = OutputCandidates("/path/to/local/directory", filepath.Join(dir, "fb"))
	assert.Equal(t, filepath.Join(dir, "fb"), got[0])
}

func TestResolveOutputDirFallsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	fallback := filepath.Join(dir, "fallback")

	got, err := ResolveOutputDir(filepath.Join(blocker, "sub"), fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
	assert.DirExists(t, fallback)

	entries, err := os.ReadDir(fallback)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveOutputDirCreatesRequested(t *testing.T) {
	want := filepath.Join(t.TempDir(), "a", "b")
	got, err := ResolveOutputDir(want, "")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
