package publish

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/mavenmeta"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPutReleaseWritesFileHashesAndMetadata(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}
	body := []byte("hello world")

	res, perr := Put(discardLogger(), cfg, root, "com/example/widget-core/1.2.3/widget-core-1.2.3.jar", bytes.NewReader(body))
	require.Nil(t, perr)

	targetPath := filepath.Join(root, "com/example/widget-core/1.2.3/widget-core-1.2.3.jar")
	written, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, body, written)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)

	for _, suffix := range []string{"md5", "sha1", "sha256", "sha512"} {
		sidecar, err := os.ReadFile(targetPath + "." + suffix)
		require.NoError(t, err)
		assert.NotEmpty(t, sidecar)
	}

	metaPath := filepath.Join(root, "com/example/widget-core/maven-metadata.xml")
	metaBytes, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	var meta mavenmeta.Metadata
	require.NoError(t, xml.Unmarshal(metaBytes, &meta))
	assert.Equal(t, "com.example", meta.GroupID)
	assert.Equal(t, "widget-core", meta.ArtifactID)
	require.NotNil(t, meta.Versioning.Versions)
	assert.Contains(t, meta.Versioning.Versions.Version, "1.2.3")
}

func TestPutSnapshotUpdatesBothMetadataDocuments(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}

	_, perr := Put(discardLogger(), cfg, root,
		"com/example/widget-core/1.2.3-SNAPSHOT/widget-core-1.2.3-20230101.123456-1.jar",
		bytes.NewReader([]byte("snapshot body")))
	require.Nil(t, perr)

	versionMetaPath := filepath.Join(root, "com/example/widget-core/1.2.3-SNAPSHOT/maven-metadata.xml")
	data, err := os.ReadFile(versionMetaPath)
	require.NoError(t, err)
	var versionMeta mavenmeta.Metadata
	require.NoError(t, xml.Unmarshal(data, &versionMeta))
	require.NotNil(t, versionMeta.Versioning.Snapshot)
	assert.Equal(t, "20230101.123456", versionMeta.Versioning.Snapshot.Timestamp)
	assert.Equal(t, uint64(1), versionMeta.Versioning.Snapshot.BuildNumber)
	require.NotNil(t, versionMeta.Versioning.SnapshotVersion)
	require.Len(t, versionMeta.Versioning.SnapshotVersion.SnapshotVersion, 1)
	assert.Equal(t, "1.2.3-20230101.123456-1", versionMeta.Versioning.SnapshotVersion.SnapshotVersion[0].Value)

	projectMetaPath := filepath.Join(root, "com/example/widget-core/maven-metadata.xml")
	projData, err := os.ReadFile(projectMetaPath)
	require.NoError(t, err)
	var projectMeta mavenmeta.Metadata
	require.NoError(t, xml.Unmarshal(projData, &projectMeta))
	require.NotNil(t, projectMeta.Versioning.Versions)
	assert.Contains(t, projectMeta.Versioning.Versions.Version, "1.2.3-SNAPSHOT")
}

func TestPutExistingFileIsConflict(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}
	reqPath := "com/example/widget-core/1.2.3/widget-core-1.2.3.jar"

	_, perr := Put(discardLogger(), cfg, root, reqPath, bytes.NewReader([]byte("first")))
	require.Nil(t, perr)

	_, perr = Put(discardLogger(), cfg, root, reqPath, bytes.NewReader([]byte("second")))
	require.NotNil(t, perr)
	assert.Equal(t, 409, perr.StatusCode())
}

func TestPutOversizeBodyIsRejectedAndRolledBack(t *testing.T) {
	root := t.TempDir()
	limit := uint64(4)
	cfg := &config.Config{MaxFileSize: &limit}
	reqPath := "com/example/widget-core/1.2.3/widget-core-1.2.3.jar"

	_, perr := Put(discardLogger(), cfg, root, reqPath, bytes.NewReader([]byte("this is way too long")))
	require.NotNil(t, perr)
	assert.Equal(t, 413, perr.StatusCode())

	targetPath := filepath.Join(root, filepath.FromSlash(reqPath))
	_, err := os.Stat(targetPath)
	assert.True(t, os.IsNotExist(err), "oversize upload should roll back the partially written file")
}

func TestPutRejectsMalformedPath(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}

	_, perr := Put(discardLogger(), cfg, root, "widget-core-1.2.3.jar", bytes.NewReader([]byte("x")))
	require.NotNil(t, perr)
}
