package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentcron/internal/api"
	"agentcron/internal/capability"
	"agentcron/internal/config"
	"agentcron/internal/core"
	"agentcron/internal/logging"
	agentcronmcp "agentcron/internal/mcp"
	"agentcron/internal/notify"
	"agentcron/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	location := time.Local
	if cfg.UseUTC {
		location = time.UTC
	}

	var notifier core.Notifier
	if cfg.Approval.WebhookURL != "" {
		webhook, err := notify.NewWebhookNotifier(cfg.Approval.WebhookURL)
		if err != nil {
			logger.Error("create webhook notifier", "err", err)
			os.Exit(1)
		}
		notifier = webhook
	} else {
		notifier = &notify.NoOpNotifier{}
	}

	var executor core.CapabilityExecutor
	var oracle core.PermissionOracle
	if cfg.Capability.URL != "" {
		client, err := capability.NewClient(cfg.Capability.URL, cfg.Capability.Token)
		if err != nil {
			logger.Error("create capability client", "err", err)
			os.Exit(1)
		}
		executor = client
		oracle = client
	} else {
		logger.Warn("no capability backend configured, running in dry-run mode")
		executor = capability.DryRun{}
		oracle = capability.AllowAll{}
	}

	gate := core.NewApprovalGate(storeInst, executor, notifier, logger, cfg.Approval.TTL, cfg.Approval.SweepInterval)
	runner := core.NewRunner(storeInst, executor, gate, logger)
	scheduler := core.NewScheduler(storeInst, runner, oracle, logger, location, cfg.Scheduler.Retention, cfg.Scheduler.ResyncInterval)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	scheduler.Start(ctx)
	if err := scheduler.LoadActiveTasks(ctx); err != nil {
		logger.Error("initial task load", "err", err)
	}
	go gate.StartSweeper(ctx)

	mcpServer := agentcronmcp.NewMCPServer(storeInst, scheduler, gate, logger, location)

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, scheduler, gate, mcpServer, logger, location)
	case "mcp":
		runMCPMode(mcpServer, scheduler, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, scheduler, gate, mcpServer, logger, location)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

// runHTTPMode serves only the HTTP API (with the MCP endpoint mounted on /mcp).
func runHTTPMode(cfg *config.Config, storeInst *store.Store, scheduler *core.Scheduler, gate *core.ApprovalGate, mcpServer *agentcronmcp.MCPServer, logger *slog.Logger, location *time.Location) {
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, storeInst, scheduler, gate, mcpServer, logger, location)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

// runMCPMode serves only the MCP protocol on stdio.
func runMCPMode(mcpServer *agentcronmcp.MCPServer, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
	scheduler.Stop()
}

// runBothMode serves the HTTP API and the MCP protocol on stdio at once.
func runBothMode(cfg *config.Config, storeInst *store.Store, scheduler *core.Scheduler, gate *core.ApprovalGate, mcpServer *agentcronmcp.MCPServer, logger *slog.Logger, location *time.Location) {
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, storeInst, scheduler, gate, mcpServer, logger, location)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

func shutdown(cfg *config.Config, server *api.Server, scheduler *core.Scheduler, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	scheduler.Stop()
	logger.Info("shutdown complete")
}
