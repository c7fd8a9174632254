// Package resolve implements the resolution pipeline (C7): fan the
// request out across every expanded local repo, apply the combine rule,
// fall back to the deduplicated set of remote upstreams, and hand the
// winner through C6 for freshness revalidation. Grounded on spec.md
// §4.7 and the fan-out/cancel idiom used throughout the original
// teacher's aggregateResults-style helpers.
package resolve

import (
	"context"
	"html"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/freshness"
	"github.com/vitaliisemenov/artifactproxy/internal/localstore"
	"github.com/vitaliisemenov/artifactproxy/internal/remote"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
	"github.com/vitaliisemenov/artifactproxy/internal/repograph"
)

// Kind discriminates the variants of Result.
type Kind int

const (
	KindMmap Kind = iota
	KindDirListing
	KindIsADir
	KindUpstream
)

// DirEntry is one child of a merged directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// DirListing is a merged view of a directory across every local layer
// that provided one.
type DirListing struct {
	Entries  []DirEntry
	ModTimes []time.Time
}

// Result is the outcome of the resolution pipeline.
type Result struct {
	Kind Kind

	Data    []byte
	Hash    [32]byte
	ModTime time.Time

	Dir      *DirListing
	Response *http.Response

	closer func() error
}

// Close releases any underlying resource (mmap + file lock). Safe to
// call on every Kind.
func (r *Result) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// Deps bundles the pipeline's collaborators so Resolve itself stays a
// pure orchestration function.
type Deps struct {
	Validator *freshness.Validator
	Client    remote.Client
}

// Request is everything the pipeline needs to know about one incoming
// GET/HEAD.
type Request struct {
	Locations      []repograph.Location
	RequestPath    string // slash-separated, already percent-decoded
	HasTrailingSlash bool
	RootConfig     *config.Config
	RemoteCtx      remote.RequestContext
}

// ValidatePath enforces the path-sanity invariant shared by every
// component that touches the filesystem: no parent-dir/root-dir/prefix
// components, and no normal component beginning with '.' (that would
// reach into sidecar territory).
func ValidatePath(requestPath string) *repoerr.Error {
	if !utf8.ValidString(requestPath) {
		return repoerr.New(repoerr.InvalidUTF8)
	}
	for _, part := range strings.Split(strings.Trim(requestPath, "/"), "/") {
		switch part {
		case "", ".", "..":
			return repoerr.New(repoerr.BadRequestPath)
		}
		if strings.HasPrefix(part, ".") {
			return repoerr.New(repoerr.FileStartsWithDot)
		}
	}
	return nil
}

// Resolve runs the full local-then-remote pipeline described in
// spec.md §4.7.
func Resolve(ctx context.Context, deps Deps, req Request) (*Result, repoerr.List) {
	result, errs := localPhase(ctx, deps, req)
	if result != nil {
		return result, nil
	}

	remoteResult, remoteErrs := remotePhase(ctx, deps, req)
	if remoteResult != nil {
		return remoteResult, nil
	}

	errs = append(errs, remoteErrs...)
	return nil, errs
}

func displayDir(req Request, loc repograph.Location) bool {
	return !(req.RootConfig.HidesDirectoryListings() || loc.Config.HidesDirectoryListings())
}

func localPhase(ctx context.Context, deps Deps, req Request) (*Result, repoerr.List) {
	type outcome struct {
		result *Result
		errs   repoerr.List
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		errs     repoerr.List
		accDir   *DirListing
		winner   *Result
	)

	for _, loc := range req.Locations {
		wg.Add(1)
		go func(loc repograph.Location) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, repoerr.Recover(r))
					mu.Unlock()
				}
			}()
			select {
			case <-phaseCtx.Done():
				return
			default:
			}

			fsPath := path.Join(loc.RepoPath, req.RequestPath)
			file, dir, isADir, localErrs := localstore.Stat(fsPath, req.HasTrailingSlash, displayDir(req, loc))

			mu.Lock()
			defer mu.Unlock()
			if winner != nil {
				if file != nil {
					file.Close()
				}
				return
			}

			if len(localErrs) > 0 {
				errs = append(errs, localErrs...)
				return
			}

			if isADir {
				winner = &Result{Kind: KindIsADir}
				cancel()
				return
			}

			if dir != nil {
				converted := &DirListing{ModTimes: []time.Time{dir.ModTime}}
				for _, e := range dir.Entries {
					converted.Entries = append(converted.Entries, DirEntry{Name: e.Name, IsDir: e.IsDir})
				}
				accDir = mergeDir(accDir, converted)
				return
			}

			if file != nil {
				revalidated, revalErrs := deps.Validator.Validate(phaseCtx, loc.Config, req.RequestPath, fsPath, file, req.RemoteCtx)
				if len(revalErrs) > 0 {
					errs = append(errs, revalErrs...)
				}
				winner = &Result{
					Kind:    KindMmap,
					Data:    revalidated.Data,
					Hash:    revalidated.Hash,
					ModTime: revalidated.ModTime,
					closer:  revalidated.Close,
				}
				cancel()
				return
			}
		}(loc)
	}
	wg.Wait()

	if winner != nil {
		return winner, nil
	}
	if accDir != nil {
		return &Result{Kind: KindDirListing, Dir: accDir}, nil
	}
	return nil, errs
}

func mergeDir(acc, next *DirListing) *DirListing {
	if acc == nil {
		return next
	}
	seen := make(map[string]bool, len(acc.Entries))
	for _, e := range acc.Entries {
		seen[e.Name] = true
	}
	for _, e := range next.Entries {
		if !seen[e.Name] {
			acc.Entries = append(acc.Entries, e)
			seen[e.Name] = true
		}
	}
	acc.ModTimes = append(acc.ModTimes, next.ModTimes...)
	return acc
}

func remotePhase(ctx context.Context, deps Deps, req Request) (*Result, repoerr.List) {
	if err := ValidatePath(req.RequestPath); err != nil {
		return nil, repoerr.List{err}
	}
	if req.HasTrailingSlash {
		return nil, repoerr.List{repoerr.New(repoerr.NotFound)}
	}

	upstreams := dedupRemotes(req.Locations)
	if len(upstreams) == 0 {
		return nil, repoerr.List{repoerr.New(repoerr.NotFound)}
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		errs   repoerr.List
		winner *Result
	)

	for _, t := range upstreams {
		wg.Add(1)
		go func(t remoteTask) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, repoerr.Recover(r))
					mu.Unlock()
				}
			}()
			select {
			case <-phaseCtx.Done():
				return
			default:
			}

			localTarget := ""
			stores := t.loc.Config.StoresRemote()
			if stores {
				localTarget = path.Join(t.loc.RepoPath, req.RequestPath)
			}

			fetched, fetchErrs := remote.Get(phaseCtx, deps.Client, t.up, req.RequestPath, localTarget, stores, t.loc.Config.EffectiveMaxFileSize(), req.RemoteCtx)

			mu.Lock()
			defer mu.Unlock()
			if winner != nil {
				if fetched != nil {
					if fetched.Response != nil {
						fetched.Response.Body.Close()
					}
					fetched.Close()
				}
				return
			}
			if len(fetchErrs) > 0 {
				errs = append(errs, fetchErrs...)
				return
			}

			if fetched.Response != nil {
				winner = &Result{Kind: KindUpstream, Response: fetched.Response}
			} else {
				winner = &Result{
					Kind:    KindMmap,
					Data:    fetched.Data,
					Hash:    fetched.Hash,
					ModTime: fetched.ModTime,
					closer:  fetched.Close,
				}
			}
			cancel()
		}(t)
	}
	wg.Wait()

	if winner != nil {
		return winner, nil
	}
	return nil, errs
}

type remoteTask struct {
	up  config.RemoteUpstream
	loc repograph.Location
}

func dedupRemotes(locations []repograph.Location) []remoteTask {
	seen := make(map[string]bool)
	var out []remoteTask
	for _, loc := range locations {
		for _, up := range loc.Config.RemoteUpstreams() {
			if seen[up.URL] {
				continue
			}
			seen[up.URL] = true
			out = append(out, remoteTask{up: up, loc: loc})
		}
	}
	return out
}

// RenderDirListing produces the HTML document for a merged directory
// listing, per spec.md §4.8's fixed shape.
func RenderDirListing(dir *DirListing) []byte {
	entries := append([]DirEntry(nil), dir.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	b.WriteString("<meta name=\"color-scheme\" content=\"dark light\"></head><body><ul>")
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		escaped := html.EscapeString(name)
		b.WriteString(`<li><a href="`)
		b.WriteString(escaped)
		b.WriteString(`">`)
		b.WriteString(escaped)
		b.WriteString("</a></li>")
	}
	b.WriteString("</ul></body></html>")
	return []byte(b.String())
}

// MaxModTime returns the latest modification time across a merged
// directory's contributing metadata entries, used for Last-Modified.
func MaxModTime(times []time.Time) time.Time {
	var max time.Time
	for _, t := range times {
		if t.After(max) {
			max = t
		}
	}
	return max
}
