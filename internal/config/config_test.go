package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/carve/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, config.OutputTable, cfg.Output.Format)
	assert.Equal(t, config.ColorAuto, cfg.Output.Color)
	assert.Empty(t, cfg.Decoders)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: DEBUG
  format: json
decoders: [JPEG, MP3]
jobs: 2
metrics:
  listen: ":9102"
output:
  format: yaml
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"JPEG", "MP3"}, cfg.Decoders)
	assert.Equal(t, 2, cfg.Jobs)
	assert.Equal(t, ":9102", cfg.Metrics.Listen)
	assert.Equal(t, config.OutputYAML, cfg.Output.Format)
	assert.Equal(t, config.ColorAuto, cfg.Output.Color)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"UnknownDecoder", "decoders: [PNG]"},
		{"DuplicateDecoder", "decoders: [JPEG, JPEG]"},
		{"LogLevel", "log: {level: loud}"},
		{"LogFormat", "log: {format: xml}"},
		{"OutputFormat", "output: {format: csv}"},
		{"ColorMode", "output: {color: sometimes}"},
		{"Syntax", "jobs: [1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, c.content))
			require.Error(t, err)
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
