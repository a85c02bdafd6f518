package bridgedaemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/junolab/langbridge/src/langbridge/internal/procowner"
	"github.com/junolab/langbridge/src/langbridge/mapper"
)

// Initialize stores the client's initialize parameters on the session and
// returns the capabilities the translation path can honor.
func (c *controller) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting session from context: %w", err)
	}

	s.InitializeParams = params
	if err := c.sessions.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("setting updated session state: %w", err)
	}
	if err := c.documents.InitSession(ctx); err != nil {
		return nil, fmt.Errorf("initializing document tracking: %w", err)
	}

	return c.translator.Initialize(ctx, params)
}

// Initialized handles any actions that need to occur immediately after initialization.
func (c *controller) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("getting session from context: %w", err)
	}

	c.ideGateway.ShowMessage(ctx, &protocol.ShowMessageParams{
		Message: fmt.Sprintf("Connected to the %q language backend.", s.Family),
		Type:    protocol.MessageTypeInfo,
	})
	return nil
}

// Shutdown is sent just before Exit to indicate that the session will exit.
func (c *controller) Shutdown(ctx context.Context) error {
	return nil
}

// Exit will be used to either clean up from an individual connection, or shutdown the whole server.
func (c *controller) Exit(ctx context.Context) error {
	if c.fullShutdown {
		// Zero out the timer to trigger immediate shutdown.
		c.idleTimerMu.Lock()
		c.idleTimer.Reset(0)
		c.idleTimerMu.Unlock()
		return nil
	}

	s, err := c.sessions.GetFromContext(ctx)
	if err != nil {
		return fmt.Errorf("error during session exit: %w", err)
	}
	return c.EndSession(ctx, s.UUID)
}

// RequestFullShutdown will set the controller to treat subsequent Shutdown and Exit requests as requests to exit the entire process.
func (c *controller) RequestFullShutdown(ctx context.Context) error {
	c.fullShutdown = true

	return nil
}

// InitSession spawns a backend for a newly connected line-translated client
// and registers the session. The returned UUID keys all later requests.
func (c *controller) InitSession(ctx context.Context, family entity.FamilyName, conn *jsonrpc2.Conn) (uuid.UUID, error) {
	defer c.refreshIdleTimer(ctx)

	familyCfg, err := c.resolver.Family(family)
	if err != nil {
		return uuid.Nil, err
	}
	if familyCfg.Mode != entity.ModeLine {
		return uuid.Nil, fmt.Errorf("family %q is not configured for line translation", family)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}

	owner := procowner.New(procowner.Config{
		SessionID:  id,
		Family:     family,
		Mode:       entity.ModeLine,
		Resolver:   c.resolver,
		Executor:   c.executor,
		Logger:     c.logger,
		Stats:      c.stats,
		OnDisposed: c.cleanupSession,
	})
	if err := owner.Start(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("starting backend for family %q: %w", family, err)
	}

	s := mapper.UUIDToSession(id, family)
	s.Conn = conn
	s.Owner = owner
	s.WorkDir = owner.WorkDir()

	if err := c.sessions.Put(ctx, s); err != nil {
		owner.Dispose(ctx)
		return uuid.Nil, err
	}
	if err := c.ideGateway.RegisterClient(ctx, id, conn); err != nil {
		owner.Dispose(ctx)
		return uuid.Nil, err
	}
	if err := c.translator.AttachSession(ctx, id, owner.Client(), familyCfg.CompletionTruncationLimit); err != nil {
		owner.Dispose(ctx)
		return uuid.Nil, err
	}

	c.stats.Counter("sessions_started").Inc(1)
	return id, nil
}

// InitFramedSession spawns a backend for a client whose family already
// speaks framed LSP, and relays bytes without interpretation. The channel is
// adopted by the session and closed on disposal.
func (c *controller) InitFramedSession(ctx context.Context, family entity.FamilyName, channel io.ReadWriteCloser) (uuid.UUID, <-chan struct{}, error) {
	defer c.refreshIdleTimer(ctx)

	familyCfg, err := c.resolver.Family(family)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if familyCfg.Mode != entity.ModeFramed {
		return uuid.Nil, nil, fmt.Errorf("family %q is not configured for framed relay", family)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, nil, err
	}

	owner := procowner.New(procowner.Config{
		SessionID:     id,
		Family:        family,
		Mode:          entity.ModeFramed,
		ClientChannel: channel,
		Resolver:      c.resolver,
		Executor:      c.executor,
		Logger:        c.logger,
		Stats:         c.stats,
		OnDisposed:    c.cleanupSession,
	})
	if err := owner.Start(ctx); err != nil {
		return uuid.Nil, nil, fmt.Errorf("starting backend for family %q: %w", family, err)
	}

	s := mapper.UUIDToSession(id, family)
	s.Owner = owner
	s.WorkDir = owner.WorkDir()

	if err := c.sessions.Put(ctx, s); err != nil {
		owner.Dispose(ctx)
		return uuid.Nil, nil, err
	}

	c.stats.Counter("sessions_started").Inc(1)
	return id, owner.Done(), nil
}

// EndSession includes any cleanup at the end of the session, during or after the last JSON-RPC request.
func (c *controller) EndSession(ctx context.Context, id uuid.UUID) error {
	defer c.refreshIdleTimer(ctx)

	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		if _, ok := errors.NotFoundUUID(err); ok {
			// Already cleaned up, e.g. the backend exited first.
			return nil
		}
		return err
	}

	if s.Owner != nil {
		// Disposal fires cleanupSession via the owner's callback.
		if err := s.Owner.Dispose(ctx); err != nil {
			c.logger.Errorw("disposing backend", "session", id.String(), "error", err)
		}
		return nil
	}
	c.cleanupSession(id)
	return nil
}

// cleanupSession removes every trace of a session. Invoked from the owner's
// disposal callback, so it must tolerate partially initialized sessions and
// repeat calls.
func (c *controller) cleanupSession(id uuid.UUID) {
	ctx := context.Background()

	s, getErr := c.sessions.Get(ctx, id)

	c.translator.DetachSession(ctx, id)
	if err := c.documents.EndSession(ctx, id); err != nil {
		c.logger.Debugw("ending document tracking", "session", id.String(), "error", err)
	}
	if err := c.ideGateway.DeregisterClient(ctx, id); err != nil {
		c.logger.Debugw("deregistering client", "session", id.String(), "error", err)
	}
	if err := c.sessions.Delete(ctx, id); err != nil {
		c.logger.Errorw("deleting session", "session", id.String(), "error", err)
	}
	// Closing the client channel is what tells the IDE the session is gone:
	// a line-translated client otherwise keeps a live connection whose every
	// call fails. Framed sessions close theirs inside owner disposal.
	if getErr == nil && s.Conn != nil {
		if err := (*s.Conn).Close(); err != nil && !stderrors.Is(err, io.ErrClosedPipe) {
			c.logger.Debugw("closing client channel", "session", id.String(), "error", err)
		}
	}
	c.stats.Counter("sessions_ended").Inc(1)
	c.refreshIdleTimer(ctx)
}
