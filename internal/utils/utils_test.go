package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileAndDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("world"), 0o644))

	dst := t.TempDir()
	require.NoError(t, CopyFile(filepath.Join(src, "a.txt"), filepath.Join(dst, "a.txt")))
	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	st, err := os.Stat(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())

	tree := filepath.Join(dst, "tree")
	require.NoError(t, os.Mkdir(tree, 0o755))
	require.NoError(t, CopyDir(src, tree))
	assert.FileExists(t, filepath.Join(tree, "sub", "b.txt"))

	assert.Error(t, CopyFile(filepath.Join(src, "missing"), filepath.Join(dst, "x")))
	assert.Error(t, CopyDir(filepath.Join(src, "missing"), tree))
	assert.Error(t, CopyFile(filepath.Join(src, "sub"), filepath.Join(dst, "sub")))
}

func TestCopyInto(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "config.yml"), []byte("a: 1"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(src, "config.d"), 0o755))

	dst := t.TempDir()
	require.NoError(t, CopyInto(dst, filepath.Join(src, "config.yml"), filepath.Join(src, "config.d")))
	assert.FileExists(t, filepath.Join(dst, "config.yml"))
	assert.NoDirExists(t, filepath.Join(dst, "config.d"))

	err := CopyInto(dst, filepath.Join(src, "gone.yml"), filepath.Join(src, "config.yml"))
	assert.ErrorContains(t, err, "gone.yml")
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestArchiveDirRoundTrip(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "output-01")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queue"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue", "id:000000"), []byte("seed"), 0o644))

	archive := filepath.Join(base, "output-01.tar.gz")
	require.NoError(t, ArchiveDir(context.Background(), dir, archive))
	assert.True(t, IsTarGz(archive))
	assert.False(t, IsTarGz(filepath.Join(dir, "queue", "id:000000")))

	out := t.TempDir()
	require.NoError(t, UnpackTarGz(archive, out))
	data, err := os.ReadFile(filepath.Join(out, "output-01", "queue", "id:000000"))
	require.NoError(t, err)
	assert.Equal(t, "seed", string(data))
}
