// Package handlers wires the request-path components (C1/C2/C6/C7/C8/C9/C10)
// into HTTP handlers: GET/HEAD resolve and serve an artifact or directory
// listing, PUT deploys one. Grounded on the teacher's handlers-as-struct
// shape (a Deps-holding receiver per endpoint family, constructed once in
// cmd/artifactproxy/main.go and registered against the router).
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/artifactproxy/internal/api/middleware"
	"github.com/vitaliisemenov/artifactproxy/internal/audit"
	"github.com/vitaliisemenov/artifactproxy/internal/conditional"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/events"
	"github.com/vitaliisemenov/artifactproxy/internal/freshness"
	"github.com/vitaliisemenov/artifactproxy/internal/metrics"
	"github.com/vitaliisemenov/artifactproxy/internal/publish"
	"github.com/vitaliisemenov/artifactproxy/internal/remote"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
	"github.com/vitaliisemenov/artifactproxy/internal/repograph"
	"github.com/vitaliisemenov/artifactproxy/internal/resolve"
)

// Artifact serves and accepts artifacts for one proxied repository tree.
type Artifact struct {
	Store     *config.Store
	Validator *freshness.Validator
	Client    remote.Client
	Logger    *slog.Logger
	Metrics   metrics.Resolution
	Broker    *events.Broker
	Audit     *audit.Store // nil when audit logging is disabled
}

// routeVars returns the repo name and repo-relative path gorilla/mux
// matched for this request, plus whether the original URL ended in '/'.
func routeVars(r *http.Request) (repo, reqPath string, hasTrailingSlash bool) {
	vars := mux.Vars(r)
	repo = vars["repo"]
	reqPath = vars["path"]
	return repo, reqPath, strings.HasSuffix(r.URL.Path, "/")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}

// Get handles GET and HEAD requests: resolve through C2/C7 and write
// whatever C8 says the response should look like.
func (a *Artifact) Get(w http.ResponseWriter, r *http.Request) {
	repo, reqPath, trailing := routeVars(r)
	logger := a.Logger.With("repo", repo, "path", reqPath)

	cfg, err := a.Store.Get(repo)
	if err != nil {
		writeStoreErr(w, logger, err)
		return
	}

	if authErr := a.authorize(w, r, cfg, reqPath); authErr {
		return
	}

	locations, expandErrs := repograph.Expand(a.Store, repo, a.Store.RepoPath(repo), cfg)
	if len(expandErrs) > 0 {
		logger.Warn("repograph: expansion had partial errors", "error", expandErrs.Error())
	}

	req := resolve.Request{
		Locations:        locations,
		RequestPath:      reqPath,
		HasTrailingSlash: trailing,
		RootConfig:       cfg,
		RemoteCtx: remote.RequestContext{
			RequestURL: r.URL.String(),
			ClientIP:   clientIP(r),
		},
	}

	result, errs := resolve.Resolve(r.Context(), resolve.Deps{Validator: a.Validator, Client: a.Client}, req)
	if errs != nil {
		a.Metrics.RecordResolution("error", "resolve")
		writeErrList(w, errs)
		return
	}
	defer result.Close()

	switch result.Kind {
	case resolve.KindIsADir:
		a.Metrics.RecordResolution("isadir", "local")
		http.Redirect(w, r, r.URL.Path+"/", http.StatusPermanentRedirect)
	case resolve.KindDirListing:
		a.Metrics.RecordResolution("dir", "local")
		a.serveDirListing(w, r, cfg, reqPath, result)
	case resolve.KindMmap:
		a.Metrics.RecordResolution("mmap", "local")
		a.serveFile(w, r, cfg, reqPath, result)
	case resolve.KindUpstream:
		a.Metrics.RecordResolution("upstream", "remote")
		a.serveUpstream(w, r, result)
	}
}

// authorize runs the per-repo token check (C9) and reports whether it
// already wrote a 401/403 response that the caller must not follow up
// on. AuthGate writes the denial itself, so "handled" here just means
// "stop, a response already went out".
func (a *Artifact) authorize(w http.ResponseWriter, r *http.Request, cfg *config.Config, reqPath string) (handled bool) {
	passed := false
	middleware.AuthGate(a.Logger, cfg, reqPath, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		passed = true
	})).ServeHTTP(w, r)
	return !passed
}

func (a *Artifact) serveDirListing(w http.ResponseWriter, r *http.Request, cfg *config.Config, reqPath string, result *resolve.Result) {
	body := resolve.RenderDirListing(result.Dir)
	headers := conditional.CacheControlHeaders(cfg, reqPath, true)
	conditional.ApplyHeaders(w.Header(), headers)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if modTime := resolve.MaxModTime(result.Dir.ModTimes); !modTime.IsZero() {
		w.Header().Set("Last-Modified", conditional.LastModified(modTime))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(body)
	}
}

func (a *Artifact) serveFile(w http.ResponseWriter, r *http.Request, cfg *config.Config, reqPath string, result *resolve.Result) {
	hash := &conditional.FileHash{BLAKE3: result.Hash, Data: result.Data}
	etag := conditional.Format(result.Hash)

	outcome := conditional.Evaluate(r.Header, hash, result.ModTime)
	switch outcome.Outcome {
	case conditional.BadRequest:
		a.Metrics.RecordRevalidation("bad-request")
		http.Error(w, outcome.Message, http.StatusBadRequest)
		return
	case conditional.PreconditionFailed:
		a.Metrics.RecordRevalidation("precondition-failed")
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	case conditional.NotModified:
		a.Metrics.RecordRevalidation("not-modified")
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", conditional.LastModified(result.ModTime))
		conditional.ApplyHeaders(w.Header(), conditional.CacheControlHeaders(cfg, reqPath, false))
		w.WriteHeader(http.StatusNotModified)
		return
	}

	a.Metrics.RecordRevalidation("fresh")
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", conditional.LastModified(result.ModTime))
	conditional.ApplyHeaders(w.Header(), conditional.CacheControlHeaders(cfg, reqPath, false))
	if ct := conditional.ContentType(reqPath); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else if cfg.InfersContentType() {
		w.Header().Set("Content-Type", contentTypeByExtension(reqPath))
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(result.Data)
	}
}

func (a *Artifact) serveUpstream(w http.ResponseWriter, r *http.Request, result *resolve.Result) {
	resp := result.Response
	defer resp.Body.Close()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != http.MethodHead {
		io.Copy(w, resp.Body)
	}
}

// Put handles a deploy (C10).
func (a *Artifact) Put(w http.ResponseWriter, r *http.Request) {
	repo, reqPath, _ := routeVars(r)
	logger := a.Logger.With("repo", repo, "path", reqPath)

	cfg, err := a.Store.Get(repo)
	if err != nil {
		writeStoreErr(w, logger, err)
		return
	}

	if authErr := a.authorize(w, r, cfg, reqPath); authErr {
		return
	}

	username := basicAuthUsername(r)
	result, perr := publish.Put(logger, cfg, a.Store.RepoPath(repo), reqPath, r.Body)
	if perr != nil {
		a.Metrics.RecordPublish(publishStatusLabel(perr))
		writeErr(w, perr)
		return
	}

	a.Metrics.RecordPublish("created")
	now := time.Now()
	if a.Audit != nil {
		if aerr := a.Audit.Record(r.Context(), now, audit.Event{
			Kind: audit.KindPublish, Repo: repo, Path: reqPath,
			Username: username, Status: "created",
		}); aerr != nil {
			logger.Error("audit: failed to record publish event", "error", aerr)
		}
	}
	if a.Broker != nil {
		a.Broker.Publish(events.Event{Kind: "publish", Repo: repo, Path: reqPath, Status: "created", Timestamp: now})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"sha1":%q,"sha256":%q,"md5":%q,"sha512":%q}`,
		result.SHA1, result.SHA256, result.MD5, result.SHA512)
}

func basicAuthUsername(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok {
		return user
	}
	return ""
}

func publishStatusLabel(err *repoerr.Error) string {
	switch err.Kind {
	case repoerr.PutConflict:
		return "conflict"
	case repoerr.PutFileTooLarge:
		return "too_large"
	case repoerr.Forbidden:
		return "forbidden"
	default:
		return "error"
	}
}

func writeStoreErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	if rerr, ok := err.(*repoerr.Error); ok {
		writeErr(w, rerr)
		return
	}
	logger.Error("config: unexpected store error", "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeErr(w http.ResponseWriter, err *repoerr.Error) {
	http.Error(w, err.Error(), err.StatusCode())
}

func writeErrList(w http.ResponseWriter, errs repoerr.List) {
	http.Error(w, errs.Body(), errs.AggregateStatus())
}

func contentTypeByExtension(reqPath string) string {
	i := strings.LastIndexByte(reqPath, '.')
	if i < 0 {
		return "application/octet-stream"
	}
	switch reqPath[i+1:] {
	case "xml":
		return "application/xml"
	case "pom":
		return "application/xml"
	case "jar", "war", "ear":
		return "application/java-archive"
	case "txt", "md5", "sha1", "sha256", "sha512":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
