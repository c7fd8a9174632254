// Command artifactproxy serves and accepts Maven-style artifacts through
// a caching, authenticating reverse proxy.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/artifactproxy/internal/api"
	"github.com/vitaliisemenov/artifactproxy/internal/appconfig"
	"github.com/vitaliisemenov/artifactproxy/internal/audit"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/events"
	"github.com/vitaliisemenov/artifactproxy/internal/freshness"
	"github.com/vitaliisemenov/artifactproxy/internal/lock"
	"github.com/vitaliisemenov/artifactproxy/internal/metrics"
	"github.com/vitaliisemenov/artifactproxy/pkg/logger"
)

const serviceVersion = "1.0.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "artifactproxy",
		Short:   "Caching, authenticating reverse proxy for Maven-style artifact repositories",
		Version: serviceVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the ops config YAML file")

	root.AddCommand(serveCmd())
	root.AddCommand(validateConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the ops config without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: listening on %s, repo tree at %s\n", cfg.Server.Addr(), cfg.Repo.BaseDir)
			return nil
		},
	}
}

func runServe() error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	log.Info("artifactproxy starting", "version", serviceVersion, "addr", cfg.Server.Addr())

	store, err := config.NewStore(cfg.Repo.BaseDir, cfg.Repo.MaxCachedConfigs, log)
	if err != nil {
		return fmt.Errorf("constructing config store: %w", err)
	}

	reg := metrics.New()

	var mutex *lock.Mutex
	if cfg.Lock.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.Addr,
			Password: cfg.Lock.Password,
			DB:       cfg.Lock.DB,
		})
		defer client.Close()
		mutex = lock.New(client, "artifactproxy:config-refresh", cfg.Lock.TTL)
	}

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer auditStore.Close()
	}

	broker := events.NewBroker()

	httpClient := &http.Client{Timeout: 0} // per-upstream timeout is applied by internal/remote
	validator := &freshness.Validator{Client: httpClient, Logger: log}

	router := api.NewRouter(api.Deps{
		Store:      store,
		Validator:  validator,
		Client:     httpClient,
		Logger:     log,
		Metrics:    reg,
		Broker:     broker,
		Audit:      auditStore,
		Lock:       mutex,
		AdminToken: cfg.Admin.Token,
		RateLimit:  api.RateLimitConfig{RequestsPerMinute: 600, Burst: 100},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	reload := newReloadHandler(store, mutex, reg, auditStore, broker, log)
	reload.start()
	defer reload.stop()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics, log)
		defer metricsServer.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if cfg.Server.UsesTLS() {
			errCh <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	return waitForShutdown(server, cfg, log, errCh)
}
