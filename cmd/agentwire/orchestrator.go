package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentwire/agentwire/pkg/a2a"
	"github.com/agentwire/agentwire/pkg/config"
	"github.com/agentwire/agentwire/pkg/dispatch"
	"github.com/agentwire/agentwire/pkg/queue"
	"github.com/agentwire/agentwire/pkg/registry"
	"github.com/agentwire/agentwire/pkg/respstore"
	"github.com/agentwire/agentwire/pkg/server"
)

// OrchestratorCmd starts the orchestrator server plus its worker pool.
type OrchestratorCmd struct {
	Port int `help:"Override the configured listen port."`
}

func (c *OrchestratorCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Orchestrator.Port = c.Port
	}

	cleanup, err := initLogging(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(cfg.Orchestrator.AgentEndpoints) == 0 {
		slog.Warn("no agent endpoints configured, orchestrator starts with an empty registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	o := cfg.Orchestrator

	client := a2a.NewClient(&a2a.ClientConfig{
		Timeout: 60 * time.Second,
		APIKey:  o.APIKey,
	})

	q, err := buildQueue(o.Queue)
	if err != nil {
		return err
	}
	defer q.Close()

	store, err := buildStore(o.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := registry.New(client, o.AgentEndpoints, registry.Options{
		DiscoveryTimeout: time.Duration(o.DiscoveryTimeoutSeconds) * time.Second,
		RefreshInterval:  time.Duration(o.RefreshIntervalSeconds) * time.Second,
		Logger:           slog.Default(),
	})

	disp := dispatch.NewDispatcher(q, o.Queue.Name)
	addr := fmt.Sprintf("%s:%d", o.Host, o.Port)
	srv := server.NewOrchestrator(addr, reg, client, disp, store, slog.Default())

	worker := dispatch.NewWorker(q, store, srv.RoutingRunner(), slog.Default(), dispatch.WorkerOptions{
		Count:          o.Worker.Count,
		MaxAttempts:    o.Worker.MaxAttempts,
		InitialBackoff: time.Duration(o.Worker.InitialBackoffMS) * time.Millisecond,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reg.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})

	return g.Wait()
}

func buildQueue(cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Backend {
	case "redis":
		return queue.NewRedis(queue.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Stream:     cfg.Name,
			Group:      cfg.Group,
			Consumer:   consumerName(),
			Block:      time.Duration(cfg.BlockSeconds) * time.Second,
			Visibility: time.Duration(cfg.VisibilitySeconds) * time.Second,
		})
	default:
		return queue.NewMemory(cfg.BufferSize), nil
	}
}

func buildStore(cfg config.StoreConfig) (respstore.Store, error) {
	switch cfg.Backend {
	case "sql":
		db, err := respstore.OpenDB(cfg.Dialect, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store, err := respstore.NewSQLStore(db, cfg.Dialect)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	default:
		return respstore.NewMemory(), nil
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}
