package repograph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
)

type fakeStore struct {
	configs map[string]*config.Config
}

func (f *fakeStore) Get(name string) (*config.Config, error) {
	if cfg, ok := f.configs[name]; ok {
		return cfg, nil
	}
	return nil, errNotFound
}

// RepoPath mirrors config.Store's baseDir-join so path assertions below
// stay meaningful without pulling in the filesystem.
func (f *fakeStore) RepoPath(name string) string { return "/repos/" + name }

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func localUpstream(path string) config.Upstream {
	return config.Upstream{Local: &config.LocalUpstream{Path: path}}
}

func TestExpandTerminatesOnCycle(t *testing.T) {
	a := &config.Config{Upstreams: []config.Upstream{localUpstream("b")}}
	b := &config.Config{Upstreams: []config.Upstream{localUpstream("a")}}

	store := &fakeStore{configs: map[string]*config.Config{"a": a, "b": b}}

	locations, errs := Expand(store, "a", "a", a)
	require.Empty(t, errs)
	require.Len(t, locations, 2, "each reachable repo visited exactly once despite the cycle")

	seen := map[string]bool{}
	for _, loc := range locations {
		require.False(t, seen[loc.RepoPath], "repo visited more than once")
		seen[loc.RepoPath] = true
	}
}

func TestExpandHandlesDiamond(t *testing.T) {
	root := &config.Config{Upstreams: []config.Upstream{localUpstream("left"), localUpstream("right")}}
	left := &config.Config{Upstreams: []config.Upstream{localUpstream("shared")}}
	right := &config.Config{Upstreams: []config.Upstream{localUpstream("shared")}}
	shared := &config.Config{}

	store := &fakeStore{configs: map[string]*config.Config{
		"left": left, "right": right, "shared": shared,
	}}

	locations, errs := Expand(store, "root", "root", root)
	require.Empty(t, errs)
	require.Len(t, locations, 4, "shared repo visited once despite being reachable from both branches")
}

func TestExpandAggregatesErrorsWithoutAborting(t *testing.T) {
	root := &config.Config{Upstreams: []config.Upstream{
		localUpstream("missing"),
		localUpstream("present"),
	}}
	present := &config.Config{}

	store := &fakeStore{configs: map[string]*config.Config{"present": present}}

	locations, errs := Expand(store, "root", "root", root)
	require.NotEmpty(t, errs)
	found := false
	for _, loc := range locations {
		if loc.RepoPath == "/repos/present" {
			found = true
		}
	}
	require.True(t, found, "expansion continues past a failed branch")
}
