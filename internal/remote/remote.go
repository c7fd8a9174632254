// Package remote implements the remote fetcher (C4): issue a conditional
// GET to an upstream, stream the body into an exclusive-locked new local
// file while hashing, promote to a shared-locked mmap, and hand off to
// C5 for the sidecar write. Grounded on
// original_source/src/get/remote.rs.
package remote

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/localstore"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
	"github.com/vitaliisemenov/artifactproxy/internal/sidecar"
)

// Client issues the conditional GETs this package needs. *http.Client
// satisfies it directly.
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetched is a successfully retrieved and locally cached response,
// mirroring localstore.File's shape so C7/C8 can treat both the same
// way.
type Fetched struct {
	Response *http.Response // only non-nil when the caller must stream it through (stores_remote_upstream == false)

	Data    mmap.MMap
	Hash    [32]byte
	ModTime time.Time
	Size    int64
	Timings []localstore.Timing

	f *os.File
}

// Close releases the mapping and file handle, when this fetch produced
// one (it does not when Response is set and the body is the live stream).
func (f *Fetched) Close() error {
	var err error
	if f.Data != nil {
		err = f.Data.Unmap()
	}
	if f.f != nil {
		_ = unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
		if cerr := f.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RequestContext carries the caller-visible request metadata the
// upstream request is annotated with.
type RequestContext struct {
	RequestURL string // reconstructed incoming request URL, for X-Downstream-Repo-Link
	ClientIP   string // for X-Forwarded-For
}

// Get performs the fetch described by component C4. localTarget is the
// path the response is cached to when storesRemoteUpstream is true; when
// false, the response is returned live for the caller to stream through
// and Fetched.f/Data are left nil.
func Get(ctx context.Context, client Client, remoteCfg config.RemoteUpstream, requestPath string, localTarget string, storesRemoteUpstream bool, maxFileSize uint64, rc RequestContext) (*Fetched, repoerr.List) {
	url := trimTrailingSlash(remoteCfg.URL) + "/" + trimLeadingSlash(requestPath)

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout := time.Duration(remoteCfg.Timeout); timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.UpstreamRequestError, err)}
	}
	if rc.RequestURL != "" {
		req.Header.Set("X-Downstream-Repo-Link", rc.RequestURL)
	}
	if rc.ClientIP != "" {
		req.Header.Set("X-Forwarded-For", rc.ClientIP)
	}

	resp, err := doWithRetry(client, req)
	if err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.UpstreamRequestError, err)}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, repoerr.List{repoerr.New(repoerr.NotFound)}
	default:
		resp.Body.Close()
		return nil, repoerr.List{repoerr.New(repoerr.UpstreamStatus)}
	}

	if !storesRemoteUpstream {
		return &Fetched{Response: resp}, nil
	}
	defer resp.Body.Close()

	return download(resp, localTarget, maxFileSize)
}

// doWithRetry retries transient (network-level) failures with an
// exponential backoff, capped at three attempts; a non-nil HTTP response
// (even an error status) is never retried — only transport-level errors
// are, since the upstream having already answered is not transient.
func doWithRetry(client Client, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		r, err := client.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(operation, backoff.WithContext(b, req.Context())); err != nil {
		return nil, err
	}
	return resp, nil
}

func download(resp *http.Response, localTarget string, maxFileSize uint64) (*Fetched, repoerr.List) {
	var timings []localstore.Timing
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(localTarget), 0o755); err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileCreateFailed, err)}
	}
	timings = append(timings, mark(&start, "resolveImplRemoteFSCreateDirAll", "Resolve Impl: Remote: Create All Local Dirs"))

	f, err := os.OpenFile(localTarget, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileCreateFailed, err)}
	}
	timings = append(timings, mark(&start, "resolveImplRemoteFSCreateFile", "Resolve Impl: Remote: Create new Local File"))

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		os.Remove(localTarget)
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileLockFailed, err)}
	}
	timings = append(timings, mark(&start, "resolveImplRemoteFSLockExclusive", "Resolve Impl: Remote: Lock Local File Exclusively"))

	cleanup := func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		os.Remove(localTarget)
		os.Remove(sidecar.PathFor(localTarget))
	}

	w := bufio.NewWriter(f)
	hasher := blake3.New()
	var size uint64

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			size += uint64(n)
			if size >= maxFileSize {
				cleanup()
				return nil, repoerr.List{repoerr.New(repoerr.UpstreamFileTooLarge)}
			}
			hasher.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				cleanup()
				return nil, repoerr.List{repoerr.Wrap(repoerr.FileWriteFailed, werr)}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			cleanup()
			return nil, repoerr.List{repoerr.Wrap(repoerr.UpstreamBodyReadError, rerr)}
		}
	}
	timings = append(timings, mark(&start, "resolveImplRemoteBodyRead", "Resolve Impl: Remote: Read Remote Response in Chunks to Local File and Hash"))

	if err := w.Flush(); err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileFlushFailed, err)}
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileFlushFailed, err)}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileSeekFailed, err)}
	}

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	srcURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		srcURL = resp.Request.URL.String()
	}
	if err := sidecar.Write(localTarget, sidecar.FromResponse(srcURL, resp.Header, hash, time.Now())); err != nil {
		cleanup()
		rerr, ok := err.(*repoerr.Error)
		if !ok {
			rerr = repoerr.Wrap(repoerr.FileFlushFailed, err)
		}
		return nil, repoerr.List{rerr}
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileLockFailed, err)}
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.FileLockFailed, err)}
	}

	info, err := f.Stat()
	if err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.OpenFile, err)}
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		cleanup()
		return nil, repoerr.List{repoerr.Wrap(repoerr.OpenFile, err)}
	}
	timings = append(timings, mark(&start, "resolveImplRemoteFSRelockMemmap", "Resolve Impl: Remote: Release Exclusive Lock, Acquire Shared Lock and Memory-Map File"))

	return &Fetched{
		Data:    data,
		Hash:    hash,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Timings: timings,
		f:       f,
	}, nil
}

func mark(start *time.Time, name, desc string) localstore.Timing {
	next := time.Now()
	t := localstore.Timing{Name: name, Desc: desc, Dur: next.Sub(*start)}
	*start = next
	return t
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
