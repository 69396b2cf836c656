package fsutil

import (
	"encoding/json"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_WriteJSONCreatesParents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	name := filepath.Join(dir, "plot-1", "2024-05-01", "processing_summary.json")

	require.NoError(t, WriteJSON(OSFileSystem{}, name, map[string]int{"total_files": 3}))

	data, err := OSFileSystem{}.ReadFile(name)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 3, got["total_files"])
	assert.EqualValues(t, len(data), FileSize(OSFileSystem{}, name))
}

func TestOSFileSystem_SizeAndRemove(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	osfs := OSFileSystem{}
	sub := filepath.Join(dir, "a", "b")
	name := filepath.Join(sub, "x.tif")

	require.NoError(t, osfs.MkdirAll(sub, 0755))
	require.NoError(t, osfs.WriteFile(name, []byte("xyz"), 0644))
	assert.True(t, osfs.Exists(name))

	n, err := osfs.Size(name)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	_, err = osfs.Size(sub)
	assert.Error(t, err)

	require.NoError(t, osfs.Remove(name))
	assert.False(t, osfs.Exists(name))
	assert.Zero(t, FileSize(osfs, name))
}

// ---

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/out/NDVI.tif", []byte("hello"), 0644))
	data, err := mfs.ReadFile("/out/NDVI.tif")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Returned slices must not alias internal storage.
	data[0] = 'J'
	again, _ := mfs.ReadFile("/out/NDVI.tif")
	assert.Equal(t, "hello", string(again))
	assert.True(t, mfs.Exists("/out"), "parents are implicit")
}

func TestMemoryFileSystem_CreateReplacesOnClose(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/chart.html", []byte("old content"), 0644))

	w, err := mfs.Create("/chart.html")
	require.NoError(t, err)
	assert.Zero(t, FileSize(mfs, "/chart.html"), "Create truncates")
	_, err = w.Write([]byte("new"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := mfs.ReadFile("/chart.html")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMemoryFileSystem_Size(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/p/d/quality_report.json", []byte("12345"), 0600))

	n, err := mfs.Size("/p/d/quality_report.json")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = mfs.Size("/p/d")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = mfs.Size("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Zero(t, FileSize(mfs, "/missing"))
}

func TestMemoryFileSystem_FileDirectoryConflicts(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/p/a.tif", nil, 0644))

	assert.ErrorIs(t, mfs.MkdirAll("/p/a.tif", 0755), fs.ErrExist)
	assert.Error(t, mfs.WriteFile("/p", []byte("x"), 0644))
	_, err := mfs.ReadFile("/p")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_Remove(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/p/1/a.tif", nil, 0644))

	assert.Error(t, mfs.Remove("/p/1"), "directory not empty")
	require.NoError(t, mfs.Remove("/p/1/a.tif"))
	assert.False(t, mfs.Exists("/p/1/a.tif"))
	assert.ErrorIs(t, mfs.Remove("/p/1/a.tif"), fs.ErrNotExist)
	require.NoError(t, mfs.Remove("/p/1"))
	assert.False(t, mfs.Exists("/p/1"))
}

func TestMemoryFileSystem_Files(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	for _, name := range []string{"/o/p/d/NDVI.tif", "/o/p/d/MSAVI.tif", "/o/q/d/NDVI.tif", "/o/p10/d/NDVI.tif"} {
		require.NoError(t, mfs.WriteFile(name, []byte("x"), 0644))
	}
	require.NoError(t, mfs.MkdirAll("/o/p/empty", 0755))

	assert.Equal(t, []string{"/o/p/d/MSAVI.tif", "/o/p/d/NDVI.tif"}, mfs.Files("/o/p"))
	assert.Len(t, mfs.Files("/o"), 4)
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/a/./b/../c.json", []byte("{}"), 0644))
	assert.True(t, mfs.Exists("/a/c.json"))
}
