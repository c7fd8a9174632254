package localstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

func TestStatFileReturnsMmapAndHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.jar")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	file, d, isADir, errs := Stat(path, false, true)
	require.Nil(t, errs)
	require.Nil(t, d)
	require.False(t, isADir)
	require.NotNil(t, file)
	defer file.Close()

	require.Equal(t, []byte("hello world"), []byte(file.Data))
	require.NotZero(t, file.Hash)
	require.EqualValues(t, 11, file.Size)
	require.NotEmpty(t, file.Timings)
}

func TestStatMissingFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, _, _, errs := Stat(filepath.Join(dir, "missing.jar"), false, true)
	require.Len(t, errs, 1)
	require.Equal(t, repoerr.NotFound, errs[0].Kind)
}

func TestStatDirectoryWithoutDisplayDirIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, _, _, errs := Stat(dir, true, false)
	require.Len(t, errs, 1)
	require.Equal(t, repoerr.NotFound, errs[0].Kind)
}

func TestStatDirectoryWithoutTrailingSlashIsADir(t *testing.T) {
	dir := t.TempDir()
	file, d, isADir, errs := Stat(dir, false, true)
	require.Nil(t, errs)
	require.Nil(t, file)
	require.Nil(t, d)
	require.True(t, isADir, "a directory hit without a trailing slash must signal a redirect, not a listing")
}

func TestStatDirectoryListsEntriesAndHidesSidecars(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jar"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pom"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.jar.json"), []byte("{}"), 0o644))

	file, d, isADir, errs := Stat(dir, true, true)
	require.Nil(t, errs)
	require.Nil(t, file)
	require.False(t, isADir)
	require.NotNil(t, d)
	require.Equal(t, []Entry{{Name: "a.jar"}, {Name: "b.pom"}}, d.Entries)
}
