package handler

import (
	"go.uber.org/fx"

	"github.com/junolab/langbridge/src/langbridge/controller"
	bridgedaemon "github.com/junolab/langbridge/src/langbridge/controller/bridge-daemon"
	handler "github.com/junolab/langbridge/src/langbridge/handler/bridge-daemon"
	"github.com/junolab/langbridge/src/langbridge/repository/session"
)

// Module provides the bridge-daemon server into an Fx application.
var Module = fx.Options(
	controller.Module,
	fx.Provide(session.New),
	fx.Provide(handler.New),
	fx.Invoke(func(m handler.Handler) {}),
	fx.Invoke(func(m bridgedaemon.Controller) {}),
)
