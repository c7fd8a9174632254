// Package auth implements the authorization gate (C9): parse a Basic
// Authorization header, look a username up in a repo's bcrypt-gated
// token table, and decide whether the requested (method, path) pair is
// allowed. Grounded on original_source/src/auth.rs's header-parsing
// failure taxonomy and the teacher's internal/api/middleware/auth.go
// shape (header parse -> lookup -> context-free allow/deny decision).
package auth

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// Credentials is a successfully parsed Basic-Auth username/password pair.
type Credentials struct {
	Username string
	Password string
}

// ParseBasicAuth extracts Credentials from an Authorization header value.
// A missing header is not an error: it returns (nil, nil), "no
// credentials presented", so a public GET can still proceed. Every other
// failure (wrong scheme, bad base64, non-UTF-8 bytes, missing ':'
// separator) is reported via ok=false but is deliberately NOT turned
// into an *repoerr.Error here — per spec, a malformed header is treated
// as "credentials absent" for the purposes of the public-read check,
// and is only fatal once the caller decides auth was actually required.
func ParseBasicAuth(header string) (creds *Credentials, ok bool) {
	if header == "" {
		return nil, true
	}
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return nil, false
	}
	if !isValidUTF8(decoded) {
		return nil, false
	}
	username, password, found := strings.Cut(string(decoded), ":")
	if !found {
		return nil, false
	}
	return &Credentials{Username: username, Password: password}, true
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

// Method is the subset of HTTP methods the gate cares about.
type Method int

const (
	MethodRead Method = iota
	MethodPut
	MethodDelete
)

// MethodFromHTTP maps an http verb onto the Method the token table keys
// permissions by; returns false for verbs the gate has no opinion on
// (those are handled upstream as 405s before auth is even consulted).
func MethodFromHTTP(verb string) (Method, bool) {
	switch verb {
	case http.MethodGet, http.MethodHead:
		return MethodRead, true
	case http.MethodPut:
		return MethodPut, true
	case http.MethodDelete:
		return MethodDelete, true
	default:
		return 0, false
	}
}

// Decision is the outcome of Check: whether the request may proceed, and
// whether authentication materially influenced that answer (used by the
// caller to add a Vary: Authorization response header).
type Decision struct {
	Allowed  bool
	AuthUsed bool
}

// Check implements check_auth(method, credentials, path): GET/HEAD need
// no credentials when the repo is publicly readable; PUT/DELETE always
// require them. When credentials are required, the username must name a
// token, the token's path table must contain path as an exact key, the
// bcrypt hash must verify, and the per-path permission bit for method
// must be set. Any failing stage returns an error carrying the allowed
// 401/403 status set; Logger receives a debug-level trace of malformed
// or rejected headers so operators can see why a GET failed without
// leaking anything about valid tokens into the response body.
func Check(cfg *config.Config, logger *slog.Logger, method Method, header string, path string) (Decision, *repoerr.Error) {
	creds, ok := ParseBasicAuth(header)
	if !ok {
		logger.Debug("auth: malformed Authorization header", "path", path)
		creds = nil
	}

	required := method != MethodRead || !cfg.IsPubliclyReadable()
	if !required {
		return Decision{Allowed: true, AuthUsed: false}, nil
	}

	if creds == nil {
		return Decision{}, repoerr.New(repoerr.Unauthorized)
	}

	token, exists := cfg.Tokens[creds.Username]
	if !exists {
		logger.Debug("auth: unknown username", "path", path)
		return Decision{}, repoerr.New(repoerr.Unauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(token.BcryptHash), []byte(creds.Password)); err != nil {
		logger.Debug("auth: password mismatch", "path", path)
		return Decision{}, repoerr.New(repoerr.Unauthorized)
	}

	perm, exists := token.Paths[path]
	if !exists {
		logger.Debug("auth: token has no grant for path", "path", path)
		return Decision{}, repoerr.New(repoerr.Forbidden)
	}

	if !methodPermitted(perm, method) {
		logger.Debug("auth: token grant does not include method", "path", path)
		return Decision{}, repoerr.New(repoerr.Forbidden)
	}

	return Decision{Allowed: true, AuthUsed: true}, nil
}

func methodPermitted(perm config.PathPerm, method Method) bool {
	switch method {
	case MethodRead:
		return perm.Read
	case MethodPut:
		return perm.Put
	case MethodDelete:
		return perm.Delete
	default:
		return false
	}
}
