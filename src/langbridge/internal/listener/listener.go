// Package listener accepts IDE connections for every configured language
// family. Line-translated families are served as JSON-RPC streams; framed
// families hand their raw connection to the relay path untouched.
package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/framing"
	"github.com/junolab/langbridge/src/langbridge/internal/resolver"
	"github.com/junolab/langbridge/src/langbridge/internal/serverinfofile"
)

const _outputKeyPrefix = "lsp-address-"

// Module is an fx module providing the family listeners.
var Module = fx.Provide(New)

// Router serves as the interface through which handling of requests will be implemented.
type Router interface {
	HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error
	UUID() uuid.UUID
}

// ConnectionManager manages each active connection throughout its lifecycle.
type ConnectionManager interface {
	// NewConnection registers a line-translated connection and returns the
	// router that will handle its requests.
	NewConnection(ctx context.Context, family entity.FamilyName, conn *jsonrpc2.Conn) (router Router, err error)

	// NewFramedConnection adopts a raw connection for byte relay. The
	// returned channel closes when the session ends.
	NewFramedConnection(ctx context.Context, family entity.FamilyName, channel io.ReadWriteCloser) (id uuid.UUID, done <-chan struct{}, err error)

	// RemoveConnection cleans up a closed connection.
	RemoveConnection(ctx context.Context, id uuid.UUID)
}

// Listener owns one TCP listener per configured family.
type Listener interface {
	OnStart(ctx context.Context) error
	RegisterConnectionManager(connectionManager ConnectionManager) error
}

// Params define values to be used by the listener.
type Params struct {
	fx.In

	Lifecycle      fx.Lifecycle
	Logger         *zap.SugaredLogger
	Resolver       resolver.Resolver
	ServerInfoFile serverinfofile.ServerInfoFile
}

type familyListener struct {
	family entity.FamilyName
	mode   entity.TranslationMode
	ln     *net.TCPListener
}

type module struct {
	connectionMgr  ConnectionManager
	listeners      []*familyListener
	logger         *zap.SugaredLogger
	resolver       resolver.Resolver
	serverInfoFile serverinfofile.ServerInfoFile
}

// New creates listeners for every family carrying a listen address.
func New(p Params) (Listener, error) {
	if p.Lifecycle == nil || p.Resolver == nil {
		return nil, errors.New("required parameters are missing")
	}

	m := &module{
		logger:         p.Logger,
		resolver:       p.Resolver,
		serverInfoFile: p.ServerInfoFile,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: m.OnStart,
	})

	return m, nil
}

// RegisterConnectionManager sets the connection manager, which keeps track of current active connections.
func (m *module) RegisterConnectionManager(connectionMgr ConnectionManager) error {
	if m.connectionMgr != nil {
		return errors.New("cannot register a duplicate connection manager")
	}
	m.connectionMgr = connectionMgr
	return nil
}

// OnStart binds every configured family address and begins accepting.
func (m *module) OnStart(ctx context.Context) error {
	if m.connectionMgr == nil {
		return errors.New("cannot serve connections, no connection manager set")
	}
	if err := m.setup(); err != nil {
		return err
	}

	for _, fl := range m.listeners {
		go m.start(fl)
	}
	return nil
}

// setup resolves and binds all family addresses before any serving begins,
// so a bad address fails startup rather than a first connection.
func (m *module) setup() error {
	var errs error
	for family, cfg := range m.resolver.Families() {
		if cfg.Address == "" {
			continue
		}
		addr, err := net.ResolveTCPAddr("tcp", cfg.Address)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("family %q address %q: %w", family, cfg.Address, err))
			continue
		}
		ln, err := net.ListenTCP("tcp", addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("family %q: %w", family, err))
			continue
		}
		m.listeners = append(m.listeners, &familyListener{
			family: family,
			mode:   cfg.Mode,
			ln:     ln,
		})
	}
	if errs != nil {
		return errs
	}
	if len(m.listeners) == 0 {
		return errors.New("no family has a listen address configured")
	}
	return nil
}

// start serves one family's listener, and panics on error.
func (m *module) start(fl *familyListener) {
	addr := fl.ln.Addr().String()
	if err := m.serverInfoFile.UpdateField(_outputKeyPrefix+string(fl.family), addr); err != nil {
		panic(err)
	}
	m.logger.Infow("started family inbound",
		zap.String("family", string(fl.family)),
		zap.String("mode", string(fl.mode)),
		zap.String("address", addr))

	switch fl.mode {
	case entity.ModeLine:
		if err := m.acceptLine(fl); err != nil {
			panic(err)
		}
	case entity.ModeFramed:
		if err := m.acceptFramed(fl); err != nil {
			panic(err)
		}
	default:
		panic(fmt.Sprintf("family %q has unknown mode %q", fl.family, fl.mode))
	}
}

// acceptLine loops accepting connections for a line-translated family. Each
// connection is served as a JSON-RPC conversation over the same
// Content-Length codec the framed path uses, so a malformed frame surfaces
// as a FramingError and ends only that connection.
func (m *module) acceptLine(fl *familyListener) error {
	ctx := context.Background()
	for {
		netConn, err := fl.ln.Accept()
		if err != nil {
			return err
		}
		go m.serveLine(ctx, fl.family, netConn)
	}
}

// serveLine blocks until the connection closes.
func (m *module) serveLine(ctx context.Context, family entity.FamilyName, netConn net.Conn) {
	conn := jsonrpc2.NewConn(framing.NewStream(netConn))
	handler, err := m.connectionMgr.NewConnection(ctx, family, &conn)
	if err != nil {
		m.logger.Errorw("rejecting connection",
			zap.String("family", string(family)),
			zap.Error(err))
		conn.Close()
		return
	}
	m.logger.Infow("client connected",
		zap.String("family", string(family)),
		zap.Stringer("uuid", handler.UUID()))
	conn.Go(ctx, handler.HandleReq)

	<-conn.Done()

	m.connectionMgr.RemoveConnection(ctx, handler.UUID())
	m.logger.Infow("client disconnected",
		zap.String("family", string(family)),
		zap.Stringer("uuid", handler.UUID()))
}

// acceptFramed loops accepting raw connections for a framed family. Each
// connection is adopted by the relay path, which owns closing it.
func (m *module) acceptFramed(fl *familyListener) error {
	ctx := context.Background()
	for {
		conn, err := fl.ln.Accept()
		if err != nil {
			return err
		}
		go m.serveFramed(ctx, fl.family, conn)
	}
}

func (m *module) serveFramed(ctx context.Context, family entity.FamilyName, conn net.Conn) {
	id, done, err := m.connectionMgr.NewFramedConnection(ctx, family, conn)
	if err != nil {
		m.logger.Errorw("rejecting framed connection",
			zap.String("family", string(family)),
			zap.Error(err))
		conn.Close()
		return
	}
	m.logger.Infow("client connected",
		zap.String("family", string(family)),
		zap.Stringer("uuid", id))

	<-done

	m.connectionMgr.RemoveConnection(ctx, id)
	m.logger.Infow("client disconnected",
		zap.String("family", string(family)),
		zap.Stringer("uuid", id))
}
