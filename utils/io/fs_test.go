package io

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "blocks", "blk00000.dat"), "blocks")
	writeFile(t, filepath.Join(src, "chainstate", "CURRENT"), "state")
	writeFile(t, filepath.Join(src, LockFileName), "")

	dst := filepath.Join(t.TempDir(), "node0")
	n, err := CopyDir(src, dst, LockFileName)
	require.NoError(t, err)
	assert.Equal(t, int64(len("blocks")+len("state")), n)

	content, err := os.ReadFile(filepath.Join(dst, "blocks", "blk00000.dat"))
	require.NoError(t, err)
	assert.Equal(t, "blocks", string(content))
	assert.False(t, FileExists(filepath.Join(dst, LockFileName)))

	// copying over an existing destination is refused
	_, err = CopyDir(src, dst)
	require.Error(t, err)
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "1234")
	writeFile(t, filepath.Join(dir, "sub", "b"), "56")

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)
}

func TestRemoveAllExcept(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "blocks", "x"), "x")
	writeFile(t, filepath.Join(dir, "wallets", "wallet.dat"), "w")
	writeFile(t, filepath.Join(dir, "debug.log"), "log")

	removed, err := RemoveAllExcept(dir, []string{"blocks"})
	require.NoError(t, err)
	sort.Strings(removed)
	assert.Equal(t, []string{"debug.log", "wallets"}, removed)
	assert.True(t, IsDir(filepath.Join(dir, "blocks")))
	assert.False(t, FileExists(filepath.Join(dir, "wallets")))
}
