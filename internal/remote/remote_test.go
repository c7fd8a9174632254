package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

func TestGetStoresResponseAndMmapsIt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lib-1.0.jar", r.URL.Path)
		w.Write([]byte("archive-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "lib-1.0.jar")

	remoteCfg := config.RemoteUpstream{URL: server.URL}
	fetched, errs := Get(context.Background(), server.Client(), remoteCfg, "lib-1.0.jar", target, true, 1<<20, RequestContext{})
	require.Empty(t, errs)
	require.NotNil(t, fetched)
	defer fetched.Close()

	require.Equal(t, []byte("archive-bytes"), []byte(fetched.Data))
	require.FileExists(t, target)
}

func TestGetPassesThroughWhenNotStoring(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("live"))
	}))
	defer server.Close()

	remoteCfg := config.RemoteUpstream{URL: server.URL}
	fetched, errs := Get(context.Background(), server.Client(), remoteCfg, "x.jar", "", false, 1<<20, RequestContext{})
	require.Empty(t, errs)
	require.NotNil(t, fetched.Response)
	body, _ := io.ReadAll(fetched.Response.Body)
	require.Equal(t, "live", string(body))
}

func TestGet404IsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	remoteCfg := config.RemoteUpstream{URL: server.URL}
	_, errs := Get(context.Background(), server.Client(), remoteCfg, "x.jar", "", false, 1<<20, RequestContext{})
	require.Len(t, errs, 1)
	require.Equal(t, repoerr.NotFound, errs[0].Kind)
}

func TestGetOversizeBodyAbortsAndRemovesPartialFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "big.jar")

	remoteCfg := config.RemoteUpstream{URL: server.URL}
	_, errs := Get(context.Background(), server.Client(), remoteCfg, "big.jar", target, true, 10, RequestContext{})
	require.Len(t, errs, 1)
	require.Equal(t, repoerr.UpstreamFileTooLarge, errs[0].Kind)

	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr), "partial file must be removed on failure")
}
