package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordinance/internal/errs"
)

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entry_file: main.go
name: honeypot
default_config:
  port: 2222
  mode:
    verbose: false
`), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main.go", m.EntryFile)
	require.NotNil(t, m.Name)
	assert.Equal(t, "honeypot", *m.Name)
	assert.Equal(t, 2222, m.DefaultConfig["port"])
}

func TestLoadMissingEntryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: bad\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.PluginInvalid))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.PluginInvalid))
}

func TestMergeLeafOverride(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	override := map[string]any{"b": 3}
	got := Merge(base, override)
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, got)
}

func TestMergeRecursesIntoMappings(t *testing.T) {
	base := map[string]any{
		"net": map[string]any{"port": 80, "host": "0.0.0.0"},
	}
	override := map[string]any{
		"net": map[string]any{"port": 443},
	}
	got := Merge(base, override)
	assert.Equal(t, map[string]any{
		"net": map[string]any{"port": 443, "host": "0.0.0.0"},
	}, got)
}

func TestMergeIdempotent(t *testing.T) {
	d := map[string]any{"a": map[string]any{"b": 1}, "c": 2}
	once := Merge(d, nil)
	twice := Merge(d, once)
	assert.Equal(t, once, twice)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := map[string]any{"nested": map[string]any{"x": 1}}
	override := map[string]any{"nested": map[string]any{"x": 2}}
	_ = Merge(base, override)
	assert.Equal(t, 1, base["nested"].(map[string]any)["x"])
	assert.Equal(t, 2, override["nested"].(map[string]any)["x"])
}
