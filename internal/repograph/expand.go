// Package repograph implements the repository graph resolver (C2):
// transitive local-upstream expansion with cycle suppression.
package repograph

import (
	"sync"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// Location is one node of the expanded graph: a filesystem path and the
// effective config that governs it.
type Location struct {
	RepoPath string
	Config   *config.Config
}

// configGetter is the subset of config.Store that Expand needs; kept as
// an interface so tests can supply a fake without touching the
// filesystem.
type configGetter interface {
	Get(repoName string) (*config.Config, error)
	RepoPath(repoName string) string
}

// Expand performs a BFS from (rootName, rootPath, rootConfig), following
// each visited repo's Upstream.Local entries. A visited set keyed by
// repo path suppresses re-visits, so cycles and diamonds terminate in
// exactly one visit per reachable repo. Each newly seen repo's config is
// fetched on its own goroutine, cached or not, and a level finishes before
// the next begins, so the frontier is explored breadth-first and expansions
// are appended in completion order; errors from any repo accumulate
// without aborting the expansion.
func Expand(store configGetter, rootName, rootPath string, rootConfig *config.Config) ([]Location, repoerr.List) {
	var (
		errs    repoerr.List
		visited = map[string]bool{rootName: true}
		out     = []Location{{RepoPath: rootPath, Config: rootConfig}}
		frontier = []Location{out[0]}
	)

	for len(frontier) > 0 {
		var next []Location
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, loc := range frontier {
			for _, up := range loc.Config.LocalUpstreams() {
				repoName := up.Path
				mu.Lock()
				already := visited[repoName]
				if !already {
					visited[repoName] = true
				}
				mu.Unlock()
				if already {
					continue
				}

				wg.Add(1)
				go func(repoName string) {
					defer wg.Done()
					defer func() {
						if r := recover(); r != nil {
							mu.Lock()
							errs = append(errs, repoerr.Recover(r))
							mu.Unlock()
						}
					}()
					cfg, err := store.Get(repoName)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						if rerr, ok := err.(*repoerr.Error); ok {
							errs = append(errs, rerr)
						} else {
							errs = append(errs, repoerr.Wrap(repoerr.MainConfigError, err))
						}
						return
					}
					loc := Location{RepoPath: store.RepoPath(repoName), Config: cfg}
					out = append(out, loc)
					next = append(next, loc)
				}(repoName)
			}
		}
		wg.Wait()
		frontier = next
	}

	return out, errs
}
