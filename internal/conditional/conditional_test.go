package conditional

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatAndMatchBlake3ETag(t *testing.T) {
	hash := [32]byte{1, 2, 3, 4}
	tag := Format(hash)
	require.Equal(t, `"blake3-`+base64.StdEncoding.EncodeToString(hash[:])+`"`, tag)

	v, ok := ParseValidator(tag)
	require.True(t, ok)
	require.Len(t, v.Tags, 1)

	fh := &FileHash{BLAKE3: hash, Data: []byte("irrelevant")}
	require.True(t, v.Tags[0].Matches(fh))
}

func TestParseValidatorWildcard(t *testing.T) {
	v, ok := ParseValidator("*")
	require.True(t, ok)
	require.True(t, v.Any)
}

func TestParseValidatorRejectsMalformed(t *testing.T) {
	_, ok := ParseValidator(`not-quoted`)
	require.False(t, ok)
}

func TestEvaluateIfNoneMatchWildcardIsNotModified(t *testing.T) {
	h := http.Header{"If-None-Match": {"*"}}
	fh := &FileHash{BLAKE3: [32]byte{9}, Data: []byte("x")}
	r := Evaluate(h, fh, time.Now())
	require.Equal(t, NotModified, r.Outcome)
}

func TestEvaluateIfModifiedSinceIgnoredWhenIfNoneMatchPresent(t *testing.T) {
	hash := [32]byte{7}
	fh := &FileHash{BLAKE3: hash, Data: []byte("x")}
	modTime := time.Now().Add(-time.Hour)

	h := http.Header{
		"If-None-Match":     {Format([32]byte{0xAA})}, // does not match -> proceed past this check
		"If-Modified-Since": {modTime.Add(time.Hour).UTC().Format(http.TimeFormat)},
	}
	r := Evaluate(h, fh, modTime)
	require.Equal(t, Proceed, r.Outcome, "If-Modified-Since must be ignored once If-None-Match is present")
}

func TestEvaluateIfMatchNoTagMatchesIsPreconditionFailed(t *testing.T) {
	h := http.Header{"If-Match": {Format([32]byte{0xFF})}}
	fh := &FileHash{BLAKE3: [32]byte{1}, Data: []byte("x")}
	r := Evaluate(h, fh, time.Now())
	require.Equal(t, PreconditionFailed, r.Outcome)
}

func TestEvaluateBadIfNoneMatchIsBadRequest(t *testing.T) {
	h := http.Header{"If-None-Match": {"garbage"}}
	fh := &FileHash{BLAKE3: [32]byte{1}, Data: []byte("x")}
	r := Evaluate(h, fh, time.Now())
	require.Equal(t, BadRequest, r.Outcome)
}

func TestEvaluateIfUnmodifiedSinceAtOrBeforeModTimeFails(t *testing.T) {
	modTime := time.Now().Truncate(time.Second)
	h := http.Header{"If-Unmodified-Since": {modTime.UTC().Format(http.TimeFormat)}}
	fh := &FileHash{BLAKE3: [32]byte{1}, Data: []byte("x")}
	r := Evaluate(h, fh, modTime)
	require.Equal(t, PreconditionFailed, r.Outcome)
}

func TestIsMetadataFile(t *testing.T) {
	require.True(t, IsMetadataFile("com/acme/lib/1.0/maven-metadata.xml"))
	require.True(t, IsMetadataFile("com/acme/lib/1.0/maven-metadata.xml.sha256"))
	require.False(t, IsMetadataFile("com/acme/lib/1.0/lib-1.0.jar"))
}
