// Package freshness implements the revalidation engine (C6): decide
// whether a cached file is still fresh, and if not, fan out a
// conditional GET to the matching remote upstreams and apply whichever
// of 304/200-identical/200-different comes back first. Grounded on
// spec.md §4.6 and the conditional-GET pattern in
// _examples/other_examples/53490321_lggomez-httpcache.
package freshness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/vitaliisemenov/artifactproxy/internal/conditional"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/localstore"
	"github.com/vitaliisemenov/artifactproxy/internal/remote"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
	"github.com/vitaliisemenov/artifactproxy/internal/sidecar"
)

// Validator revalidates cached files against their remote upstreams.
type Validator struct {
	Client remote.Client
	Logger *slog.Logger
	Now    func() time.Time // overridable for tests; defaults to time.Now
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

// Validate checks current (the file resolved locally at localPath)
// against the sidecar's freshness window, refetching from the matching
// remote upstreams when stale. It returns the file the caller should
// serve — either current unchanged, or a replacement produced by a
// truncate+rewrite. A nil error list with the same *localstore.File back
// means "still fresh, nothing to do".
func (v *Validator) Validate(ctx context.Context, cfg *config.Config, requestPath, localPath string, current *localstore.File, rc remote.RequestContext) (*localstore.File, repoerr.List) {
	now := v.now()

	rec, err := sidecar.Read(localPath)
	if err != nil {
		if rerr, ok := err.(*repoerr.Error); !ok || rerr.Kind != repoerr.NotFound {
			v.logger().Warn("freshness: failed to read sidecar, treating as absent", "path", localPath, "error", err)
		}
		rec = nil
	}

	fresh := effectiveFresh(cfg, rec)
	if rec != nil {
		age := now.Sub(rec.LocalLastChecked)
		if age <= fresh && !now.Before(rec.LocalLastChecked) {
			return current, nil
		}
	}

	candidates := matchingUpstreams(cfg, rec)
	if len(candidates) == 0 {
		return current, repoerr.List{repoerr.New(repoerr.UpstreamStatus)}
	}

	// If-None-Match carries this server's own blake3 ETag of the cached
	// bytes, not an ETag stored from an earlier upstream response, and
	// If-Modified-Since is the later of the record's two timestamps; the
	// Last-Modified and Date values in the record's header map are not
	// consulted.
	ifNoneMatch := conditional.Format(current.Hash)
	ifModifiedSince := conditional.LastModified(modifiedSinceBasis(rec, current))

	result, errs := v.raceConditionalGets(ctx, candidates, requestPath, ifNoneMatch, ifModifiedSince, rc)
	if result == nil {
		return current, errs
	}

	switch {
	case result.notModified:
		newRec := refreshChecked(rec, result.url, result.header, current.Hash, now)
		if err := sidecar.Write(localPath, newRec); err != nil {
			return current, repoerr.List{err.(*repoerr.Error)}
		}
		return current, nil

	case result.hash == current.Hash:
		newRec := refreshChecked(rec, result.url, result.header, current.Hash, now)
		if err := sidecar.Write(localPath, newRec); err != nil {
			return current, repoerr.List{err.(*repoerr.Error)}
		}
		return current, nil

	default:
		replaced, werr := rewriteInPlace(current, result.body)
		if werr != nil {
			return current, repoerr.List{werr}
		}
		modified := now
		if lm := result.header.Get("Last-Modified"); lm != "" {
			if t, perr := http.ParseTime(lm); perr == nil {
				modified = t
			}
		}
		base := rec
		if base == nil {
			base = &sidecar.Record{URL: result.url, LocalLastModified: modified}
		}
		newRec := base.WithMonotonicModified(modified)
		newRec.URL = result.url
		newRec.HeaderMap = lowerHeaderMap(result.header)
		newRec.LocalLastChecked = now
		newRec.Hash = replaced.Hash
		if err := sidecar.Write(localPath, &newRec); err != nil {
			return current, repoerr.List{err.(*repoerr.Error)}
		}
		return replaced, nil
	}
}

func effectiveFresh(cfg *config.Config, rec *sidecar.Record) time.Duration {
	if rec != nil {
		for _, up := range cfg.RemoteUpstreams() {
			if strings.HasPrefix(rec.URL, trimTrailingSlash(up.URL)) {
				if d, ok := up.EffectiveTimeFresh(); ok {
					return d
				}
			}
		}
	}
	return cfg.EffectiveTimeFresh()
}

func matchingUpstreams(cfg *config.Config, rec *sidecar.Record) []config.RemoteUpstream {
	all := cfg.RemoteUpstreams()
	if rec == nil {
		return all
	}
	var matched []config.RemoteUpstream
	for _, up := range all {
		if strings.HasPrefix(rec.URL, trimTrailingSlash(up.URL)) {
			matched = append(matched, up)
		}
	}
	if len(matched) == 0 {
		return all
	}
	return matched
}

func modifiedSinceBasis(rec *sidecar.Record, current *localstore.File) time.Time {
	if rec == nil {
		return current.ModTime
	}
	t := rec.LocalLastChecked
	if rec.LocalLastModified.After(t) {
		t = rec.LocalLastModified
	}
	return t
}

func refreshChecked(rec *sidecar.Record, url string, header http.Header, hash [32]byte, now time.Time) *sidecar.Record {
	base := rec
	if base == nil {
		base = &sidecar.Record{URL: url}
	}
	updated := *base
	updated.URL = url
	updated.HeaderMap = lowerHeaderMap(header)
	updated.LocalLastChecked = now
	updated.Hash = hash
	return &updated
}

func lowerHeaderMap(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = values
	}
	return out
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

type raceResult struct {
	url         string
	header      http.Header
	notModified bool
	hash        [32]byte
	body        []byte
}

// raceConditionalGets fans the conditional GET out to every candidate
// upstream concurrently and accepts whichever first responds 304 or 200;
// the rest are cancelled via ctx.
func (v *Validator) raceConditionalGets(ctx context.Context, candidates []config.RemoteUpstream, requestPath, ifNoneMatch, ifModifiedSince string, rc remote.RequestContext) (*raceResult, repoerr.List) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *raceResult
		err    *repoerr.Error
	}
	results := make(chan outcome, len(candidates))
	var wg sync.WaitGroup

	for _, up := range candidates {
		wg.Add(1)
		go func(up config.RemoteUpstream) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- outcome{err: repoerr.Recover(r)}
				}
			}()
			res, err := v.conditionalGet(raceCtx, up, requestPath, ifNoneMatch, ifModifiedSince, rc)
			if err != nil {
				results <- outcome{err: err}
				return
			}
			results <- outcome{result: res}
		}(up)
	}

	go func() {
		defer func() { recover() }()
		wg.Wait()
		close(results)
	}()

	var errs repoerr.List
	for o := range results {
		if o.err != nil {
			errs = append(errs, o.err)
			continue
		}
		cancel()
		for range results { // drain remaining goroutines so they don't leak
		}
		return o.result, nil
	}
	return nil, errs
}

func (v *Validator) conditionalGet(ctx context.Context, up config.RemoteUpstream, requestPath, ifNoneMatch, ifModifiedSince string, rc remote.RequestContext) (*raceResult, *repoerr.Error) {
	url := trimTrailingSlash(up.URL) + "/" + strings.TrimLeft(requestPath, "/")
	if timeout := time.Duration(up.Timeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.UpstreamRequestError, err)
	}
	req.Header.Set("If-None-Match", ifNoneMatch)
	req.Header.Set("If-Modified-Since", ifModifiedSince)
	if rc.RequestURL != "" {
		req.Header.Set("X-Downstream-Repo-Link", rc.RequestURL)
	}
	if rc.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", rc.ClientIP)
	}

	resp, err := v.Client.Do(req)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.UpstreamRequestError, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &raceResult{url: up.URL, header: resp.Header, notModified: true}, nil
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.UpstreamBodyReadError, err)
		}
		return &raceResult{url: up.URL, header: resp.Header, hash: blake3.Sum256(body), body: body}, nil
	default:
		return nil, repoerr.New(repoerr.UpstreamStatus)
	}
}

// rewriteInPlace upgrades current's shared lock to exclusive on the same
// file descriptor, truncates and rewrites the file, fsyncs, then
// downgrades back to shared and re-mmaps — the "re-lock exclusively...
// re-mmap... re-lock shared" sequence from spec.md §4.6 step 5. It
// consumes current: the returned File takes over the same underlying
// handle, and current must not be used or Closed afterwards.
func rewriteInPlace(current *localstore.File, newContent []byte) (*localstore.File, *repoerr.Error) {
	f := current.Raw()

	if err := current.Data.Unmap(); err != nil {
		return nil, repoerr.Wrap(repoerr.OpenFile, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, repoerr.Wrap(repoerr.FileLockFailed, err)
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return nil, repoerr.Wrap(repoerr.FileSeekFailed, err)
	}
	if _, err := f.WriteAt(newContent, 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return nil, repoerr.Wrap(repoerr.FileWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return nil, repoerr.Wrap(repoerr.FileFlushFailed, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return nil, repoerr.Wrap(repoerr.FileLockFailed, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, repoerr.Wrap(repoerr.FileLockFailed, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, repoerr.Wrap(repoerr.OpenFile, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.OpenFile, err)
	}

	hash := blake3.Sum256(data)
	if !bytes.Equal(hash[:], blake3.Sum256(newContent)[:]) {
		return nil, repoerr.Wrap(repoerr.OpenFile, fmt.Errorf("freshness: re-read bytes did not match written content"))
	}

	return localstore.NewFile(f, data, hash, info.ModTime(), info.Size(), nil), nil
}
