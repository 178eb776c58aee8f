package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentwire/agentwire/pkg/auth"
	"github.com/agentwire/agentwire/pkg/executor"
	"github.com/agentwire/agentwire/pkg/processor"
	"github.com/agentwire/agentwire/pkg/server"
)

// AgentCmd starts a single wrapped agent.
type AgentCmd struct {
	Port int    `help:"Override the configured listen port."`
	Name string `help:"Override the configured agent name."`
}

func (c *AgentCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Agent.Port = c.Port
	}
	if c.Name != "" {
		cfg.Agent.Name = c.Name
	}

	cleanup, err := initLogging(cli, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	guard := auth.NewGuard(cfg.Agent.APIKey)
	if !guard.Enabled() {
		slog.Warn("no API key configured, agent runs in open mode")
	}

	exec := executor.New(guard, &processor.Echo{AgentName: cfg.Agent.Name}, executor.Options{
		AgentName:     cfg.Agent.Name,
		Platform:      cfg.Agent.Platform,
		Region:        cfg.Agent.Region,
		Timeout:       time.Duration(cfg.Agent.Limits.TimeoutSeconds) * time.Second,
		MaxTaskLength: cfg.Agent.Limits.MaxTaskLength,
		MaxInFlight:   cfg.Agent.Limits.MaxInFlight,
	})

	return server.NewAgent(cfg.Agent, guard, exec, slog.Default()).Start(ctx)
}
