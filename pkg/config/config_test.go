package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
agents:
  - id: researcher
    tags: [research, lookup]
  - id: writer
    default_tier: elevated
tool_packs:
  - name: builtin
  - name: remote-docs
    type: mcp
    command: docs-mcp-server
orchestrator:
  max_concurrent: 8
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "standard", cfg.Agents[0].DefaultTier)
	assert.Equal(t, "elevated", cfg.Agents[1].DefaultTier)

	require.Len(t, cfg.ToolPacks, 2)
	assert.Equal(t, ToolPackTypeLocal, cfg.ToolPacks[0].Type)
	assert.Equal(t, ToolPackTypeMCP, cfg.ToolPacks[1].Type)
	assert.Equal(t, "namespace", cfg.ToolPacks[1].ConflictPolicy)

	assert.Equal(t, 8, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, 12, cfg.Orchestrator.SubtaskIterationBudget)
	assert.Equal(t, 30, cfg.Orchestrator.HistoryRetention)
}

func TestLoad_RejectsDuplicateAgentIDs(t *testing.T) {
	path := writeConfig(t, `
agents:
  - id: dup
  - id: dup
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMCPToolPackWithoutCommand(t *testing.T) {
	path := writeConfig(t, `
tool_packs:
  - name: broken
    type: mcp
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
