package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vitaliisemenov/artifactproxy/internal/audit"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/events"
	"github.com/vitaliisemenov/artifactproxy/internal/lock"
	"github.com/vitaliisemenov/artifactproxy/internal/metrics"
)

// reloadHandler listens for SIGHUP and drives config.Store.RefreshAll,
// debounced so a burst of signals (e.g. a config-management tool
// touching every repo file in one pass) triggers one reload, not one
// per signal. Adapted from the teacher's cmd/server/signal.go
// SignalHandler, with ConfigUpdateService's versioned-update machinery
// dropped in favor of the single RefreshAll call this server actually
// has, and the distributed lock bracket added for multi-replica
// deployments.
type reloadHandler struct {
	store   *config.Store
	mutex   *lock.Mutex // nil when no distributed lock is configured
	metrics metrics.Resolution
	audit   *audit.Store // nil when audit logging is disabled
	broker  *events.Broker
	logger  *slog.Logger

	lastReload     atomic.Value // time.Time
	debounceWindow time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sigChan    chan os.Signal
	reloadChan chan struct{}
}

func newReloadHandler(store *config.Store, mutex *lock.Mutex, m metrics.Resolution, a *audit.Store, broker *events.Broker, logger *slog.Logger) *reloadHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &reloadHandler{
		store:          store,
		mutex:          mutex,
		metrics:        m,
		audit:          a,
		broker:         broker,
		logger:         logger,
		debounceWindow: time.Second,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
		reloadChan:     make(chan struct{}, 10),
	}
}

func (h *reloadHandler) start() {
	signal.Notify(h.sigChan, syscall.SIGHUP)
	h.wg.Add(1)
	go h.listen()
	h.wg.Add(1)
	go h.work()
}

func (h *reloadHandler) stop() {
	signal.Stop(h.sigChan)
	close(h.sigChan)
	h.cancel()
	h.wg.Wait()
}

func (h *reloadHandler) listen() {
	defer h.wg.Done()
	for {
		select {
		case _, ok := <-h.sigChan:
			if !ok {
				return
			}
			select {
			case h.reloadChan <- struct{}{}:
			default:
				h.logger.Warn("sighup: reload queue full, dropping signal")
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *reloadHandler) work() {
	defer h.wg.Done()
	for {
		select {
		case <-h.reloadChan:
			if h.debounced() {
				h.logger.Debug("sighup: reload debounced")
				continue
			}
			h.lastReload.Store(time.Now())
			h.reload()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *reloadHandler) debounced() bool {
	last, ok := h.lastReload.Load().(time.Time)
	return ok && time.Since(last) < h.debounceWindow
}

func (h *reloadHandler) reload() {
	start := time.Now()
	run := func() { h.store.RefreshAll() }

	if h.mutex != nil {
		lockCtx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		defer cancel()
		if err := lock.WithLock(lockCtx, h.mutex, 200*time.Millisecond, run); err != nil {
			h.metrics.RecordConfigReload("sighup", "failure")
			h.logger.Error("sighup: failed to acquire reload lock", "error", err)
			return
		}
	} else {
		run()
	}

	h.metrics.RecordConfigReload("sighup", "success")
	h.logger.Info("sighup: config reload complete", "duration_ms", time.Since(start).Milliseconds())

	if h.audit != nil {
		if err := h.audit.Record(h.ctx, start, audit.Event{
			Kind: audit.KindReload, Repo: "*", Status: "success", Detail: "sighup",
		}); err != nil {
			h.logger.Error("audit: failed to record reload event", "error", err)
		}
	}
	if h.broker != nil {
		h.broker.Publish(events.Event{Kind: "reload", Status: "success", Timestamp: start})
	}
}
