package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	internalauth "github.com/vitaliisemenov/artifactproxy/internal/auth"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/repoerr"
)

// AuthGate checks one request against a repo's token table (C9) and
// either lets it through or writes the 401/403 response itself. cfg and
// path are resolved by the caller (the repo name and artifact path both
// come out of the URL, after C1/C2 have already picked the repo), so
// this middleware is applied per-handler rather than globally via the
// outer chain — the effective config differs per repo.
func AuthGate(logger *slog.Logger, cfg *config.Config, path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, ok := internalauth.MethodFromHTTP(r.Method)
		if !ok {
			writeUnauthorized(w, r, "unsupported method for this endpoint")
			return
		}

		decision, authErr := internalauth.Check(cfg, logger, method, r.Header.Get(AuthorizationHeader), path)
		if decision.AuthUsed {
			w.Header().Add("Vary", AuthorizationHeader)
		}
		if authErr != nil {
			switch authErr.Kind {
			case repoerr.Forbidden:
				writeForbidden(w, r, "insufficient permissions for this path")
			default:
				writeUnauthorized(w, r, "authentication is required for this path")
			}
			return
		}

		ctx := context.WithValue(r.Context(), AuthUsedContextKey, decision.AuthUsed)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminAuth gates an ops endpoint (POST /admin/reload) behind a single
// shared bearer token from the ops config, rather than the per-repo
// token table — these endpoints act on the whole server, not one repo.
func AdminAuth(adminToken string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminToken == "" {
			writeForbidden(w, r, "admin endpoints are disabled: no admin token configured")
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get(AuthorizationHeader)
		if !strings.HasPrefix(header, prefix) {
			writeUnauthorized(w, r, "admin endpoints require a Bearer token")
			return
		}
		got := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
			writeUnauthorized(w, r, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthUsedFromContext reports whether the responding handler's AuthGate
// call materially consulted credentials, so the final response writer
// knows whether Vary: Authorization already went out.
func AuthUsedFromContext(ctx context.Context) bool {
	used, _ := ctx.Value(AuthUsedContextKey).(bool)
	return used
}

// writeUnauthorized writes 401 Unauthorized response
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r.Context())
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       "AUTHENTICATION_ERROR",
			"message":    message,
			"request_id": requestID,
		},
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="artifactproxy"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(errorResponse)
}

// writeForbidden writes 403 Forbidden response
func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	requestID := GetRequestID(r.Context())
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       "AUTHORIZATION_ERROR",
			"message":    message,
			"request_id": requestID,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(errorResponse)
}
