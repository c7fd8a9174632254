package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vitaliisemenov/artifactproxy/internal/audit"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/events"
	"github.com/vitaliisemenov/artifactproxy/internal/lock"
	"github.com/vitaliisemenov/artifactproxy/internal/metrics"
)

// Admin serves the operator-facing endpoints: on-demand config reload,
// recent audit history, and (via events.ServeWS) the live event stream.
// These all sit behind middleware.AdminAuth in the router, not the
// per-repo token table.
type Admin struct {
	Store   *config.Store
	Lock    *lock.Mutex // nil when no distributed lock is configured
	Audit   *audit.Store
	Broker  *events.Broker
	Metrics metrics.Resolution
	Logger  *slog.Logger
}

// Reload re-reads every cached repo config and the main config from
// disk, the same operation SIGHUP triggers, exposed here so operators
// without signal access (e.g. inside a container without a PID 1
// wrapper) can trigger it over HTTP instead.
func (a *Admin) Reload(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	run := func() {
		a.Store.RefreshAll()
	}

	if a.Lock != nil {
		if err := lock.WithLock(r.Context(), a.Lock, 200*time.Millisecond, run); err != nil {
			a.Metrics.RecordConfigReload("admin-api", "failure")
			a.Logger.Error("admin: failed to acquire reload lock", "error", err)
			http.Error(w, "failed to acquire reload lock", http.StatusServiceUnavailable)
			return
		}
	} else {
		run()
	}

	a.Metrics.RecordConfigReload("admin-api", "success")
	if a.Audit != nil {
		if err := a.Audit.Record(r.Context(), now, audit.Event{
			Kind: audit.KindReload, Repo: "*", Status: "success", Detail: "admin-api",
		}); err != nil {
			a.Logger.Error("audit: failed to record reload event", "error", err)
		}
	}
	if a.Broker != nil {
		a.Broker.Publish(events.Event{Kind: "reload", Status: "success", Timestamp: now})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "reloaded"})
}

// RecentEvents returns the most recent audit log rows as JSON, for a
// dashboard that doesn't want to hold a websocket open.
func (a *Admin) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if a.Audit == nil {
		http.Error(w, "audit logging is disabled", http.StatusNotFound)
		return
	}
	rows, err := a.Audit.Recent(r.Context(), 100)
	if err != nil {
		a.Logger.Error("admin: failed to query audit log", "error", err)
		http.Error(w, "failed to query audit log", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// Events upgrades the connection to a websocket and streams live
// publish/reload notifications.
func (a *Admin) Events(w http.ResponseWriter, r *http.Request) {
	events.ServeWS(a.Broker, a.Logger).ServeHTTP(w, r)
}
