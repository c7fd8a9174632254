package freshness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/localstore"
	"github.com/vitaliisemenov/artifactproxy/internal/remote"
	"github.com/vitaliisemenov/artifactproxy/internal/sidecar"
)

func newFile(t *testing.T, dir, name, content string) (string, *localstore.File) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	f, _, isADir, errs := localstore.Stat(path, false, true)
	require.Nil(t, errs)
	require.False(t, isADir)
	return path, f
}

func TestValidateSkipsRefetchWhenWithinFreshWindow(t *testing.T) {
	dir := t.TempDir()
	path, file := newFile(t, dir, "a.jar", "bytes")
	defer file.Close()

	now := time.Now()
	rec := sidecar.FromResponse("https://up.example/a.jar", http.Header{}, file.Hash, now)
	require.NoError(t, sidecar.Write(path, rec))

	cfg := &config.Config{}
	v := &Validator{Now: func() time.Time { return now.Add(time.Second) }}

	got, errs := v.Validate(context.Background(), cfg, "a.jar", path, file, remote.RequestContext{})
	require.Empty(t, errs)
	require.Same(t, file, got)
}

func TestValidateRefetchesAndHandlesNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	dir := t.TempDir()
	path, file := newFile(t, dir, "a.jar", "bytes")
	defer file.Close()

	past := time.Now().Add(-time.Hour)
	rec := sidecar.FromResponse(server.URL+"/a.jar", http.Header{}, file.Hash, past)
	require.NoError(t, sidecar.Write(path, rec))

	cfg := &config.Config{Upstreams: []config.Upstream{{Remote: &config.RemoteUpstream{URL: server.URL}}}}
	v := &Validator{Client: server.Client()}

	got, errs := v.Validate(context.Background(), cfg, "a.jar", path, file, remote.RequestContext{})
	require.Empty(t, errs)
	require.Equal(t, file.Hash, got.Hash)

	refreshed, err := sidecar.Read(path)
	require.NoError(t, err)
	require.True(t, refreshed.LocalLastChecked.After(past))
}

func TestValidateRewritesOnDifferingContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path, file := newFile(t, dir, "a.jar", "old-bytes")
	// Validate's rewrite path upgrades file's own handle in place and
	// returns a new *localstore.File over the same fd, so only the
	// returned handle (not the original) should be closed.

	past := time.Now().Add(-time.Hour)
	rec := sidecar.FromResponse(server.URL+"/a.jar", http.Header{}, file.Hash, past)
	require.NoError(t, sidecar.Write(path, rec))

	cfg := &config.Config{Upstreams: []config.Upstream{{Remote: &config.RemoteUpstream{URL: server.URL}}}}
	v := &Validator{Client: server.Client()}

	got, errs := v.Validate(context.Background(), cfg, "a.jar", path, file, remote.RequestContext{})
	require.Empty(t, errs)
	defer got.Close()
	require.Equal(t, []byte("new-bytes"), []byte(got.Data))
	require.NotEqual(t, file.Hash, got.Hash)
}
