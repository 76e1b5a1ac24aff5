// Package main is the orchestrator kernel's entry point: it wires
// configuration, the State Store, the Event Bus, the Tool Registry, the
// Agent Runtime, the Task Engine, the DAG Scheduler, the Lease Sweeper,
// and the External API together and serves them over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/netbuddy/taskforge/internal/agent"
	"github.com/netbuddy/taskforge/internal/agent/cliclient"
	"github.com/netbuddy/taskforge/internal/api"
	"github.com/netbuddy/taskforge/internal/clock"
	"github.com/netbuddy/taskforge/internal/config"
	"github.com/netbuddy/taskforge/internal/engine"
	"github.com/netbuddy/taskforge/internal/eventbus"
	redisbus "github.com/netbuddy/taskforge/internal/eventbus/redis"
	"github.com/netbuddy/taskforge/internal/lease"
	"github.com/netbuddy/taskforge/internal/logging"
	"github.com/netbuddy/taskforge/internal/metrics"
	"github.com/netbuddy/taskforge/internal/scheduler"
	"github.com/netbuddy/taskforge/internal/storage"
	"github.com/netbuddy/taskforge/internal/storage/postgres"
	"github.com/netbuddy/taskforge/internal/storage/sqlite"
	"github.com/netbuddy/taskforge/internal/tools"
	"github.com/netbuddy/taskforge/pkg/sandbox"
)

func main() {
	cfg := config.Load()

	logger := logging.Default("orchestrator")
	logger.Info("starting orchestrator", "env", cfg.Env, "addr", cfg.Addr, "db_driver", cfg.DatabaseDriver)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate state store: %v", err)
	}

	bus := buildEventBus(cfg, logger)
	defer bus.Close()

	sandboxClient, err := sandbox.NewClient()
	if err != nil {
		logger.WithError(err).Warn("sandbox unavailable, run_command tool disabled")
		sandboxClient = nil
	}

	var sb tools.Sandbox
	if sandboxClient != nil {
		sb = sandboxClient
	}
	registry := tools.BuildDefault(sb, "/workspace")

	clients := agent.NewRegistry()
	clients.Register(cliclient.New(cliclient.Config{
		Name:      "default",
		Binary:    envOrDefault("AGENT_CLI_BINARY", "claude"),
		ExtraArgs: []string{"--output-format", "stream-json"},
		Timeout:   cfg.Orchestrator.AgentIterationTimeout,
	}))

	clk := clock.System{}
	m := metrics.New("taskforge")

	etcdClient := buildEtcdClient(cfg, logger)
	if etcdClient != nil {
		defer etcdClient.Close()
	}

	eng := engine.New(store, bus, registry, clients, clk, logger, engine.Config{
		HeartbeatInterval:     cfg.Orchestrator.HeartbeatInterval,
		AgentTimeout:          cfg.Orchestrator.AgentIterationTimeout,
		PhaseTimeout:          cfg.Orchestrator.PhaseTimeout,
		MaxIterations:         cfg.Orchestrator.MaxIterations,
		MaxFixRetries:         cfg.Orchestrator.MaxFixRetries,
		MaxFixDepth:           cfg.Orchestrator.MaxFixDepth,
		AutoApproveConfidence: cfg.Orchestrator.AutoApproveConfidence,
		ReviewConfidence:      cfg.Orchestrator.ReviewConfidence,
		DefaultClient:         "default",
	}, m)

	sched := scheduler.New(store, eng, bus, clk, logger, scheduler.Config{
		WorkerSlots:  cfg.Orchestrator.WorkerSlots,
		PollInterval: 2 * time.Second,
	}, m)

	sweeper := lease.New(store, bus, clk, logger, lease.Config{
		SweepInterval: cfg.Orchestrator.SweepInterval,
		LeaseTimeout:  cfg.Orchestrator.LeaseTimeout,
		EtcdClient:    etcdClient,
	}, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Start(ctx)
	defer sched.Stop()
	go sweeper.Run(ctx)

	handler := api.NewHandler(store, eng, sched, bus, logger)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold the connection open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown error")
		}
	}()

	logger.Info("orchestrator listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	fmt.Println("orchestrator stopped")
}

// openStore selects the sqlite or postgres State Store adapter per
// config.Config.DatabaseDriver, both of which satisfy storage.StateStore.
func openStore(cfg *config.Config) (storage.StateStore, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return postgres.Open(cfg.DatabaseURL)
	default:
		return sqlite.Open(cfg.DatabaseURL)
	}
}

// buildEventBus wires an in-process primary transport plus, when a Redis
// URL is configured, a durable Redis Streams secondary — the two-transport
// eventbus.Fanout so a same-process stream subscriber never waits on
// Redis and a reconnecting one still gets full replay.
func buildEventBus(cfg *config.Config, logger *logging.Logger) eventbus.EventBus {
	primary := eventbus.NewInProcess(256)
	if cfg.RedisURL == "" {
		return primary
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("invalid redis url, running without durable event transport")
		return primary
	}
	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, running without durable event transport")
		return primary
	}

	return &eventbus.Fanout{
		Primary:   primary,
		Secondary: redisbus.New(rdb, logger),
	}
}

// buildEtcdClient dials the distributed lease lock's etcd cluster when
// cfg.EtcdEndpoints is configured, returning nil (single-process,
// unprotected sweeping) otherwise.
func buildEtcdClient(cfg *config.Config, logger *logging.Logger) *clientv3.Client {
	if len(cfg.EtcdEndpoints) == 0 {
		return nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		logger.WithError(err).Warn("etcd unreachable, running lease sweeper unprotected")
		return nil
	}
	return client
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
