package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadSources_ObjectForm(t *testing.T) {
	p := writeFile(t, "sources.json", `{"sources": ["https://gleam.io/giveaways", " https://example.com/list "]}`)

	got, err := LoadSources(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://gleam.io/giveaways", "https://example.com/list"}, got)
}

func TestLoadSources_ArrayForm(t *testing.T) {
	p := writeFile(t, "sources.json", `["https://a.example/", "https://a.example/", "ftp://nope", "not a url"]`)

	got, err := LoadSources(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/"}, got)
}

func TestLoadSources_Missing(t *testing.T) {
	got, err := LoadSources(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadSources_Corrupt(t *testing.T) {
	p := writeFile(t, "sources.json", `{"sources": [`)

	got, err := LoadSources(p)
	assert.Error(t, err)
	assert.Empty(t, got)
}
