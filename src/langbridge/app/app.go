// Package app assembles the bridge-daemon application from its fx modules.
package app

import (
	"context"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/fx"

	"github.com/junolab/langbridge/src/langbridge/gateway"
	"github.com/junolab/langbridge/src/langbridge/handler"
	"github.com/junolab/langbridge/src/langbridge/internal/core"
	"github.com/junolab/langbridge/src/langbridge/internal/executor"
	"github.com/junolab/langbridge/src/langbridge/internal/listener"
	"github.com/junolab/langbridge/src/langbridge/internal/resolver"
	"github.com/junolab/langbridge/src/langbridge/internal/serverinfofile"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

// Module defines the bridge-daemon application module.
var Module = fx.Options(
	gateway.Module, // outbounds
	handler.Module, // inbounds
	listener.Module,
	executor.Module,
	resolver.Module,
	serverinfofile.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "langbridge",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	// Sessions outlive individual connections; make sure their backend
	// processes are gone before the process exits.
	fx.Invoke(func(lc fx.Lifecycle, sessions session.Repository) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return sessions.DisposeAll(ctx)
			},
		})
	}),
)
