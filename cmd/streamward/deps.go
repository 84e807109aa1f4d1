package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamward/streamward/internal/chat"
	"github.com/streamward/streamward/internal/module"
	"github.com/streamward/streamward/internal/observability"
	"github.com/streamward/streamward/internal/ops"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ClientFactory creates plugin clients for module executables.
	// Default: &module.DefaultClientFactory{}
	ClientFactory module.ClientFactory

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// OpsServerFactory creates the operational API server.
	// Default: ops.NewServer
	OpsServerFactory func(addr string, d ops.Dispatcher, idx ops.CommandIndex, adm ops.ModuleAdmin) OpsServer

	// MessageSource enriches dispatches with message content.
	// Default: none; dispatch uses the text embedded in the request.
	MessageSource chat.MessageSource

	// UserDirectory resolves issuing users to permission levels.
	// Default: none; every issuer is treated as everyone-level.
	UserDirectory chat.UserDirectory
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() *prometheus.Registry
}

// OpsServer interface wraps the methods used from ops.Server.
type OpsServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
