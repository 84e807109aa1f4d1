// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Streamward Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/streamward/streamward/internal/chat"
	"github.com/streamward/streamward/internal/command"
	"github.com/streamward/streamward/internal/config"
	"github.com/streamward/streamward/internal/logging"
	"github.com/streamward/streamward/internal/module"
	"github.com/streamward/streamward/internal/observability"
	"github.com/streamward/streamward/internal/ops"
	"github.com/streamward/streamward/internal/xdg"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the command dispatch service",
		Long: `Start the dispatch service: scan the modules directory, load every
module, and serve the operational HTTP API.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	fs := cmd.Flags()
	fs.String("modules-dir", xdg.ModulesDir(), "directory scanned for module artifacts")
	fs.String("ops-addr", "127.0.0.1:8080", "operational HTTP API listen address")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Duration("dispatch-timeout", 10*time.Second, "per-invocation deadline")
	fs.Int("fault-threshold", 5, "faults before a module is auto-unloaded (0 = never)")
	fs.Duration("drain-warn-after", 30*time.Second, "warn when a drain runs longer than this")
	fs.StringSlice("ignore", nil, "glob patterns for module directories to skip")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ClientFactory == nil {
		deps.ClientFactory = &module.DefaultClientFactory{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.OpsServerFactory == nil {
		deps.OpsServerFactory = func(addr string, d ops.Dispatcher, idx ops.CommandIndex, adm ops.ModuleAdmin) OpsServer {
			return ops.NewServer(addr, d, idx, adm)
		}
	}

	cfgPath := configFile
	if cfgPath == "" {
		// Optional; Load skips a missing file.
		cfgPath = xdg.ConfigFile()
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("streamward", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	slog.Info("starting dispatch service",
		"modules_dir", cfg.ModulesDir,
		"ops_addr", cfg.OpsAddr,
		"log_format", cfg.LogFormat,
	)

	loader, err := module.NewLoader(cfg.ModulesDir, deps.ClientFactory,
		module.WithIgnorePatterns(cfg.Ignore))
	if err != nil {
		return fmt.Errorf("failed to create loader: %w", err)
	}
	if err := loader.EnsureDir(); err != nil {
		return fmt.Errorf("failed to create modules directory: %w", err)
	}

	table := command.NewTable()
	manager := module.NewManager(loader, table,
		module.WithFaultThreshold(cfg.FaultThreshold),
		module.WithDrainWarnAfter(cfg.DrainWarnAfter))

	dispatchOpts := []command.DispatcherOption{
		command.WithTimeout(cfg.DispatchTimeout),
	}
	if deps.MessageSource != nil {
		dispatchOpts = append(dispatchOpts, command.WithMessageSource(deps.MessageSource))
	}
	if deps.UserDirectory != nil {
		directory := chat.NewRetryingDirectory(deps.UserDirectory,
			chat.WithLookupAttempts(cfg.DirectoryRetries),
			chat.WithLookupBackoff(cfg.DirectoryBackoff))
		dispatchOpts = append(dispatchOpts, command.WithUserDirectory(directory))
	}

	dispatcher, err := command.NewDispatcher(table, manager, dispatchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Ready once the initial scan has completed.
	var ready atomic.Bool

	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load)
		command.RegisterMetrics(obsServer.Registry())
		module.RegisterMetrics(obsServer.Registry())

		obsErrChan, obsErr := obsServer.Start()
		if obsErr != nil {
			return fmt.Errorf("failed to start observability server: %w", obsErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	opsServer := deps.OpsServerFactory(cfg.OpsAddr, dispatcher, table, manager)
	opsErrChan, err := opsServer.Start()
	if err != nil {
		stopObservability(obsServer)
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	go monitorServerErrors(ctx, cancel, opsErrChan, "ops")

	report, err := manager.LoadAll(ctx)
	if err != nil {
		stopServers(opsServer, obsServer, manager)
		return fmt.Errorf("initial module scan failed: %w", err)
	}
	ready.Store(true)

	cmd.Println("Dispatch service started")
	slog.Info("dispatch service ready",
		"ops_addr", opsServer.Addr(),
		"modules", len(report.Loaded),
		"commands", table.Len(),
	)

	<-ctx.Done()
	slog.Info("shutting down...")

	stopServers(opsServer, obsServer, manager)

	slog.Info("shutdown complete")
	return nil
}

// stopServers stops the API surface first so no new dispatches arrive,
// then drains and releases every module.
func stopServers(opsServer OpsServer, obsServer ObservabilityServer, manager *module.Manager) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if opsServer != nil {
		if err := opsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping ops server", "error", err)
		}
	}
	if manager != nil {
		if err := manager.Close(shutdownCtx); err != nil {
			slog.Warn("error closing module manager", "error", err)
		}
	}
	stopObservability(obsServer)
}

func stopObservability(obsServer ObservabilityServer) {
	if obsServer == nil {
		return
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obsServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error so a failed listener triggers a full graceful shutdown.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
