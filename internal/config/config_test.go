package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Agent.ChatkitEnabled)
	assert.Equal(t, DefaultTimeoutMs, cfg.Agent.TimeoutMs)
	assert.Equal(t, DefaultMaxToolResults, cfg.Agent.MaxToolResults)
	assert.Equal(t, "/api", cfg.Server.BasePath)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("agent:\n  chatkit_enabled: true\n  runtime_url: http://runtime.local\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Agent.ChatkitEnabled)
	assert.Equal(t, "http://runtime.local", cfg.Agent.RuntimeURL)
	assert.Equal(t, DefaultTimeoutMs, cfg.Agent.TimeoutMs)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct{ doc, msg string }{
		{"agent:\n  timeout_ms: 0\n", "config.agent.timeout_ms must be positive"},
		{"agent:\n  max_tool_results: 51\n", "config.agent.max_tool_results must be between 1 and 50"},
		{"agent:\n  runtime_url: ftp://x\n", "config.agent.runtime_url must be an http(s) URL"},
		{"server:\n  base_path: api\n", "config.server.base_path must start with /"},
		{"notifications:\n  webhook_url: http://h\n  max_attempts: 0\n", "config.notifications.max_attempts must be positive"},
	}
	for _, tc := range cases {
		_, err := FromYAML([]byte(tc.doc))
		require.Error(t, err, tc.doc)
		assert.Equal(t, tc.msg, err.Error())
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("agent:\n  chatkit_agent_id: planner\n"), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "planner", cfg.Agent.ChatkitAgentID)

	_, err = Load(t.TempDir())
	require.Error(t, err)
}
