package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code_assist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinition), 0o644))

	reg := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, reg.LoadDirectory(dir))

	entry, ok := reg.Get("code_assist")
	require.True(t, ok)
	assert.Equal(t, path, entry.SourcePath)
	assert.NotEmpty(t, entry.ContentHash)
	require.NotNil(t, entry.Definition)
	assert.Len(t, entry.Definition.Stages, 3)

	summaries := reg.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, "code_assist", summaries[0].Key)
}

func TestRegistryRejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: broken
workflow_type: code
stages:
  - id: only
    parallel_agents:
      - id: a
    routing:
      on_success: missing
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0o644))

	reg := NewRegistry(zaptest.NewLogger(t))
	err := reg.LoadDirectory(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")

	_, ok := reg.Get("broken")
	assert.False(t, ok)
}
