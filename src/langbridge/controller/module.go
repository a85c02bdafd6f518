package controller

import (
	"go.uber.org/fx"

	bridgedaemon "github.com/junolab/langbridge/src/langbridge/controller/bridge-daemon"
	docsync "github.com/junolab/langbridge/src/langbridge/controller/doc-sync"
	"github.com/junolab/langbridge/src/langbridge/controller/omnisharp"
)

var Module = fx.Options(
	fx.Provide(bridgedaemon.New),
	fx.Provide(docsync.New),
	fx.Provide(omnisharp.New),
)
