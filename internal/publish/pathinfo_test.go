package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

func TestParsePathRelease(t *testing.T) {
	info, perr := ParsePath("com/example/widgets/widget-core/1.2.3/widget-core-1.2.3.jar")
	require.Nil(t, perr)
	assert.Equal(t, []string{"com", "example", "widgets"}, info.Group)
	assert.Equal(t, "com.example.widgets", info.DottedGroup())
	assert.Equal(t, "widget-core", info.Artifact)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Nil(t, info.Snapshot)
	assert.Equal(t, "", info.Classifier)
	assert.Equal(t, "jar", info.Extension)
}

func TestParsePathReleaseWithClassifier(t *testing.T) {
	info, perr := ParsePath("com/example/widget-core/1.2.3/widget-core-1.2.3-sources.jar")
	require.Nil(t, perr)
	assert.Equal(t, "sources", info.Classifier)
}

func TestParsePathSnapshotWithoutClassifier(t *testing.T) {
	info, perr := ParsePath("com/example/widget-core/1.2.3-SNAPSHOT/widget-core-1.2.3-20230101.123456-1.jar")
	require.Nil(t, perr)
	require.NotNil(t, info.Snapshot)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "20230101.123456", info.Snapshot.Timestamp)
	assert.Equal(t, uint64(1), info.Snapshot.BuildNumber)
	assert.Equal(t, "", info.Classifier)
}

func TestParsePathSnapshotWithClassifier(t *testing.T) {
	info, perr := ParsePath("com/example/widget-core/1.2.3-SNAPSHOT/widget-core-1.2.3-20230101.123456-1-sources.jar")
	require.Nil(t, perr)
	require.NotNil(t, info.Snapshot)
	assert.Equal(t, "20230101.123456", info.Snapshot.Timestamp)
	assert.Equal(t, uint64(1), info.Snapshot.BuildNumber)
	assert.Equal(t, "sources", info.Classifier)
}

func TestParsePathSnapshotBadBuildNumberIsBadRequest(t *testing.T) {
	_, perr := ParsePath("com/example/widget-core/1.2.3-SNAPSHOT/widget-core-1.2.3-20230101.123456-notanumber.jar")
	require.NotNil(t, perr)
	assert.Equal(t, repoerr.BadRequestPath, perr.Kind)
}

func TestParsePathRejectsDotDot(t *testing.T) {
	_, perr := ParsePath("com/../example/widget-core/1.2.3/widget-core-1.2.3.jar")
	require.NotNil(t, perr)
}

func TestParsePathRejectsTooShort(t *testing.T) {
	_, perr := ParsePath("widget-core-1.2.3.jar")
	require.NotNil(t, perr)
}

func TestParsePathRejectsArtifactMismatch(t *testing.T) {
	_, perr := ParsePath("com/example/widget-core/1.2.3/other-1.2.3.jar")
	require.NotNil(t, perr)
}

func TestParsePathNoExtension(t *testing.T) {
	info, perr := ParsePath("com/example/widget-core/1.2.3/widget-core-1.2.3")
	require.Nil(t, perr)
	assert.Equal(t, "", info.Extension)
}
