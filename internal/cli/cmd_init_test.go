package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirigent/internal/config"
	"dirigent/internal/registry"
)

func TestRunInitCreatesLayout(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, runInit(dir))

	assert.True(t, config.IsInitialized(dir))
	for _, p := range []string{
		filepath.Join(dir, ".dirigent", "session"),
		filepath.Join(dir, ".dirigent", "session", "archive"),
	} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.True(t, info.IsDir())
	}

	// The seed registry must validate.
	cfg := config.Default(dir)
	reg, err := registry.Load(cfg.RegistryPath())
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Validator())

	// And the written config must load back.
	_, err = config.Load(dir)
	assert.NoError(t, err)
}

func TestRunInitKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(dir))

	regPath := config.Default(dir).RegistryPath()
	custom := []byte(`agents:
  - name: solo
    capabilities: [everything]
    owns: ["**"]
  - name: check
    validator: true
`)
	require.NoError(t, os.WriteFile(regPath, custom, 0o644))

	require.NoError(t, runInit(dir))

	data, err := os.ReadFile(regPath)
	require.NoError(t, err)
	assert.Equal(t, custom, data, "init must never overwrite an existing registry")
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"Fix the login bug":        "Fix the login bug",
		"First line\nsecond line":  "First line",
		"  padded request text   ": "padded request text",
	}
	for in, want := range cases {
		assert.Equal(t, want, deriveTitle(in))
	}

	long := deriveTitle("this request line keeps going and going far past the sixty character title limit")
	assert.LessOrEqual(t, len(long), 64)
	assert.Contains(t, long, "...")
}
