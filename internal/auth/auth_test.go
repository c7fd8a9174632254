package auth

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestParseBasicAuthMissingHeaderIsNoCredentials(t *testing.T) {
	creds, ok := ParseBasicAuth("")
	require.True(t, ok)
	require.Nil(t, creds)
}

func TestParseBasicAuthWrongSchemeIsMalformed(t *testing.T) {
	_, ok := ParseBasicAuth("Bearer abc")
	require.False(t, ok)
}

func TestParseBasicAuthBadBase64IsMalformed(t *testing.T) {
	_, ok := ParseBasicAuth("Basic not-base64!!!")
	require.False(t, ok)
}

func TestParseBasicAuthMissingColonIsMalformed(t *testing.T) {
	_, ok := ParseBasicAuth("Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")))
	require.False(t, ok)
}

func TestParseBasicAuthValid(t *testing.T) {
	creds, ok := ParseBasicAuth(basicHeader("alice", "s3cret"))
	require.True(t, ok)
	require.Equal(t, "alice", creds.Username)
	require.Equal(t, "s3cret", creds.Password)
}

func tokenTable(t *testing.T, password string, perm config.PathPerm, path string) map[string]config.Token {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return map[string]config.Token{
		"alice": {BcryptHash: string(hash), Paths: map[string]config.PathPerm{path: perm}},
	}
}

func TestCheckPublicGETNeedsNoCredentials(t *testing.T) {
	cfg := &config.Config{}
	d, err := Check(cfg, discardLogger(), MethodRead, "", "a/b.jar")
	require.Nil(t, err)
	require.True(t, d.Allowed)
	require.False(t, d.AuthUsed)
}

func TestCheckPrivateGETWithoutCredentialsIsUnauthorized(t *testing.T) {
	no := false
	cfg := &config.Config{PubliclyReadable: &no}
	_, err := Check(cfg, discardLogger(), MethodRead, "", "a/b.jar")
	require.NotNil(t, err)
	require.Equal(t, repoerr.Unauthorized, err.Kind)
}

func TestCheckPUTAlwaysRequiresCredentials(t *testing.T) {
	cfg := &config.Config{}
	_, err := Check(cfg, discardLogger(), MethodPut, "", "a/b.jar")
	require.NotNil(t, err)
	require.Equal(t, repoerr.Unauthorized, err.Kind)
}

func TestCheckValidTokenWithPermissionSucceeds(t *testing.T) {
	cfg := &config.Config{Tokens: tokenTable(t, "s3cret", config.PathPerm{Put: true}, "a/b.jar")}
	d, err := Check(cfg, discardLogger(), MethodPut, basicHeader("alice", "s3cret"), "a/b.jar")
	require.Nil(t, err)
	require.True(t, d.Allowed)
	require.True(t, d.AuthUsed)
}

func TestCheckWrongPasswordIsUnauthorized(t *testing.T) {
	cfg := &config.Config{Tokens: tokenTable(t, "s3cret", config.PathPerm{Put: true}, "a/b.jar")}
	_, err := Check(cfg, discardLogger(), MethodPut, basicHeader("alice", "wrong"), "a/b.jar")
	require.NotNil(t, err)
	require.Equal(t, repoerr.Unauthorized, err.Kind)
}

func TestCheckPathNotGrantedIsForbidden(t *testing.T) {
	cfg := &config.Config{Tokens: tokenTable(t, "s3cret", config.PathPerm{Put: true}, "a/b.jar")}
	_, err := Check(cfg, discardLogger(), MethodPut, basicHeader("alice", "s3cret"), "other/path.jar")
	require.NotNil(t, err)
	require.Equal(t, repoerr.Forbidden, err.Kind)
}

func TestCheckMethodNotGrantedIsForbidden(t *testing.T) {
	cfg := &config.Config{Tokens: tokenTable(t, "s3cret", config.PathPerm{Read: true}, "a/b.jar")}
	_, err := Check(cfg, discardLogger(), MethodPut, basicHeader("alice", "s3cret"), "a/b.jar")
	require.NotNil(t, err)
	require.Equal(t, repoerr.Forbidden, err.Kind)
}

func TestMethodFromHTTP(t *testing.T) {
	m, ok := MethodFromHTTP(http.MethodGet)
	require.True(t, ok)
	require.Equal(t, MethodRead, m)

	_, ok = MethodFromHTTP(http.MethodPost)
	require.False(t, ok)
}
