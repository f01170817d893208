package p2pnode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskFileProviderReturnsContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello"), []byte("world"), 0o644))

	p := DiskFileProvider{Root: dir}
	assert.Equal(t, []byte("world"), p.GetFile("hello"))
}

func TestDiskFileProviderAbsentReturnsNil(t *testing.T) {
	p := DiskFileProvider{Root: t.TempDir()}
	assert.Nil(t, p.GetFile("nope"))
}

func TestDiskFileProviderRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("leak"), 0o644))
	defer os.Remove(outside)

	p := DiskFileProvider{Root: dir}
	assert.Nil(t, p.GetFile("../secret"))
	assert.Nil(t, p.GetFile("a/b"))
}
