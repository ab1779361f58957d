package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	t.Run("Creates new file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "replica.humus")
		require.NoError(t, writeAtomic(filename, []byte("hello"), 0o644))

		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	})

	t.Run("Overwrites existing file", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "replica.humus")
		require.NoError(t, os.WriteFile(filename, []byte("old"), 0o644))
		require.NoError(t, writeAtomic(filename, []byte("new"), 0o644))

		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("Leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, writeAtomic(filepath.Join(dir, "a"), []byte("x"), 0o600))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), TempFilePrefix), e.Name())
		}
	})

	t.Run("Fails if directory missing", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "missing", "replica.humus")
		assert.Error(t, writeAtomic(filename, []byte("x"), 0o644))
	})
}
