package utils

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")

	assert.Equal(t, path, UniquePath(path), "a free path passes through")

	touch(t, path)
	assert.Equal(t, filepath.Join(dir, "report (1).csv"), UniquePath(path))

	touch(t, filepath.Join(dir, "report (1).csv"))
	assert.Equal(t, filepath.Join(dir, "report (2).csv"), UniquePath(path))
}

func TestDiscoverFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.xlsx"))
	touch(t, filepath.Join(dir, "a.xlsx"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.xlsx"), 0o755))

	files, err := DiscoverFiles(dir, "*.xlsx")
	require.NoError(t, err)
	require.Len(t, files, 2, "directories and non-matching files are excluded")
	assert.Equal(t, filepath.Join(dir, "a.xlsx"), files[0], "results are sorted")
	assert.Equal(t, filepath.Join(dir, "b.xlsx"), files[1])
}

func TestFileManagerEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager(
		filepath.Join(root, "in"),
		filepath.Join(root, "out"),
		filepath.Join(root, "work"))
	require.NoError(t, fm.EnsureDirectories())
	for _, d := range []string{"in", "out", "work"} {
		info, err := os.Stat(filepath.Join(root, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSessions(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager("", "", filepath.Join(root, "work"))

	s, err := fm.NewSession()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.DirExists(t, s.UploadDir)
	assert.DirExists(t, s.OutputDir)

	reopened, err := fm.OpenSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.UploadDir, reopened.UploadDir)

	_, err = fm.OpenSession("not-a-session")
	assert.Error(t, err)
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.csv"))
	touch(t, filepath.Join(dir, "a.csv"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	names, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, names)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(dir, "deep", "nested", "dst.txt")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestZipDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("bbb"), 0o644))

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, ZipDirectory(dir, zipPath))

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 2)
	assert.Equal(t, "a.csv", r.File[0].Name)
}
