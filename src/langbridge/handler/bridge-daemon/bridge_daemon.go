// Package bridgedaemon hosts the inbound connection handling for the
// gateway: it binds accepted connections to sessions and routes JSON-RPC
// requests to the controller.
package bridgedaemon

import (
	"context"
	"fmt"
	"io"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	controller "github.com/junolab/langbridge/src/langbridge/controller/bridge-daemon"
	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/listener"
)

// Handler wires accepted connections to the controller.
type Handler interface {
	ConnectionManager() listener.ConnectionManager
}

type handler struct {
	connectionManager listener.ConnectionManager
}

// New constructs the handler and registers its connection manager with the
// family listeners.
func New(ctrl controller.Controller, lst listener.Listener, logger *zap.SugaredLogger, stats tally.Scope) (Handler, error) {
	c := &connectionManager{
		ctrl:   ctrl,
		logger: logger,
		stats:  stats.SubScope("json_rpc"),
	}
	if err := lst.RegisterConnectionManager(c); err != nil {
		return nil, err
	}

	return &handler{connectionManager: c}, nil
}

func (h *handler) ConnectionManager() listener.ConnectionManager {
	return h.connectionManager
}

type connectionManager struct {
	ctrl   controller.Controller
	logger *zap.SugaredLogger
	stats  tally.Scope
}

// NewConnection will store a new connection and return a router that includes its UUID.
func (c *connectionManager) NewConnection(ctx context.Context, family entity.FamilyName, conn *jsonrpc2.Conn) (listener.Router, error) {
	id, err := c.ctrl.InitSession(ctx, family, conn)
	if err != nil {
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}

	return newRouter(c.ctrl, id, c.logger, c.stats), nil
}

// NewFramedConnection hands the raw connection to the relay path.
func (c *connectionManager) NewFramedConnection(ctx context.Context, family entity.FamilyName, channel io.ReadWriteCloser) (uuid.UUID, <-chan struct{}, error) {
	id, done, err := c.ctrl.InitFramedSession(ctx, family, channel)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("error while creating new framed connection: %w", err)
	}
	return id, done, nil
}

// RemoveConnection cleans up a closed connection.
func (c *connectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	// Ensure session is removed even if no Exit call has been received.
	ctx = context.WithValue(ctx, entity.SessionContextKey, id)
	c.ctrl.EndSession(ctx, id)
}
