package gateway

import (
	notifier "github.com/junolab/langbridge/src/langbridge/gateway/ide-client"
	"go.uber.org/fx"
)

// Module provides the outbound gateways for the service.
var Module = fx.Options(
	fx.Provide(notifier.New),
)
