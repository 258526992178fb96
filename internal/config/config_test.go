package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30, cfg.ApiClientTimeoutSec)
	assert.Len(t, cfg.AttachmentHosts, 3)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
SavePath = "/data/issues"
MaxRetries = 3
Concurrency = 4
AttachmentHosts = ["assets.example.com"]
RenderHTML = true
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/issues", cfg.SavePath)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, []string{"assets.example.com"}, cfg.AttachmentHosts)
	assert.True(t, cfg.RenderHTML)
	assert.Equal(t, "https://api.github.com", cfg.ApiBaseUrl)
	assert.Equal(t, 100, cfg.PerPage)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `MaxRetries = "five"`))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `PerPage = 500`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PerPage")
}
