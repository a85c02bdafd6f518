// Package procowner gives each session exclusive ownership of one backend
// tooling process, from resolution through disposal.
package procowner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/junolab/langbridge/src/langbridge/entity"
	"github.com/junolab/langbridge/src/langbridge/internal/bridge"
	"github.com/junolab/langbridge/src/langbridge/internal/executor"
	"github.com/junolab/langbridge/src/langbridge/internal/lineproto"
	"github.com/junolab/langbridge/src/langbridge/internal/resolver"
)

// State of a session's backend process ownership.
type State int32

const (
	// StateUninitialized is the zero state before Start.
	StateUninitialized State = iota
	// StateResolving locates the backend runtime and builds the launch command.
	StateResolving
	// StateLaunched marks a spawned process whose streams are not yet wired.
	StateLaunched
	// StateActive marks a fully wired session.
	StateActive
	// StateDisposing marks teardown in progress.
	StateDisposing
	// StateDisposed is terminal.
	StateDisposed
)

// Config collects the collaborators an Owner needs. OnDisposed is invoked
// exactly once, after process termination, so the registry entry can be
// removed.
type Config struct {
	SessionID uuid.UUID
	Family    entity.FamilyName
	Mode      entity.TranslationMode

	// ClientChannel is bridged verbatim to the backend's streams in framed
	// mode. Ignored in line mode.
	ClientChannel io.ReadWriteCloser

	Resolver   resolver.Resolver
	Executor   executor.Executor
	Logger     *zap.SugaredLogger
	Stats      tally.Scope
	OnDisposed func(id uuid.UUID)
}

// Owner owns one backend process: it resolves the launch command, spawns the
// process, wires its streams, and disposes everything on session end or
// process exit. No other component holds the process handle.
type Owner struct {
	cfg    Config
	logger *zap.SugaredLogger
	stats  tally.Scope

	state atomic.Int32

	workDir string
	handle  executor.Handle
	stdin   io.WriteCloser

	client     *lineproto.Client
	relay      *bridge.Bridge
	backendEnd bridge.Endpoint

	disposed   atomic.Bool
	finishOnce sync.Once
	done       chan struct{}
}

var _ entity.ProcessOwner = (*Owner)(nil)

// New returns an uninitialized Owner.
func New(cfg Config) *Owner {
	return &Owner{
		cfg:    cfg,
		logger: cfg.Logger.With("session", cfg.SessionID.String(), "family", cfg.Family),
		stats:  cfg.Stats.SubScope("proc_owner"),
		done:   make(chan struct{}),
	}
}

// State reports the owner's current lifecycle state.
func (o *Owner) State() State {
	return State(o.state.Load())
}

// WorkDir returns the per-session working directory, once resolved.
func (o *Owner) WorkDir() string {
	return o.workDir
}

// Client returns the line-protocol client. Only valid in line mode after a
// successful Start.
func (o *Owner) Client() *lineproto.Client {
	return o.client
}

// Start resolves and spawns the backend and wires its streams. A resolution
// failure transitions directly to disposed without launching; the error is
// descriptive enough to surface to the client.
func (o *Owner) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateUninitialized), int32(StateResolving)) {
		return fmt.Errorf("owner for session %q already started", o.cfg.SessionID)
	}

	launch, err := o.cfg.Resolver.Resolve(o.cfg.Family, o.cfg.SessionID)
	if err != nil {
		o.state.Store(int32(StateDisposed))
		o.finish()
		return err
	}
	o.workDir = launch.WorkDir

	cmd := exec.Command(launch.Path, launch.Args...)
	cmd.Dir = launch.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		o.state.Store(int32(StateDisposed))
		o.finish()
		return fmt.Errorf("opening backend stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		o.state.Store(int32(StateDisposed))
		o.finish()
		return fmt.Errorf("opening backend stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	handle, err := o.cfg.Executor.Start(cmd, os.Environ())
	if err != nil {
		o.state.Store(int32(StateDisposed))
		o.finish()
		return fmt.Errorf("spawning backend: %w", err)
	}

	o.handle = handle
	o.stdin = stdin
	o.state.Store(int32(StateLaunched))
	o.logger.Infow("backend launched", "pid", handle.PID())

	switch o.cfg.Mode {
	case entity.ModeFramed:
		near := bridge.NewStreamEndpoint(o.cfg.ClientChannel)
		far := bridge.NewStreamEndpoint(&pipeChannel{Writer: stdin, Reader: stdout, closer: stdin})
		o.backendEnd = far
		o.relay = bridge.New(near, far, o.logger)
		go o.watchBridge(near, far)
	case entity.ModeLine:
		o.client = lineproto.NewClient(stdin, stdout, o.logger, o.stats)
	default:
		defErr := fmt.Errorf("unknown translation mode %q", o.cfg.Mode)
		o.Dispose(ctx)
		return defErr
	}

	go o.watchExit()

	o.state.Store(int32(StateActive))
	return nil
}

// Done is closed once the owner reaches its terminal state.
func (o *Owner) Done() <-chan struct{} {
	return o.done
}

// Dispose tears the session down: stop listening on both transport sides,
// terminate the process group, release session resources, and notify the
// registry. Repeated calls are no-ops after the first.
func (o *Owner) Dispose(ctx context.Context) error {
	if !o.disposed.CompareAndSwap(false, true) {
		return nil
	}
	o.state.Store(int32(StateDisposing))
	o.logger.Infow("disposing session backend")

	var errs error
	if o.relay != nil {
		o.relay.Detach()
	}
	if o.cfg.ClientChannel != nil {
		errs = multierr.Append(errs, o.cfg.ClientChannel.Close())
	}
	if o.stdin != nil {
		errs = multierr.Append(errs, o.stdin.Close())
	}
	if o.handle != nil {
		errs = multierr.Append(errs, o.handle.Kill())
	}
	if o.workDir != "" {
		errs = multierr.Append(errs, os.RemoveAll(o.workDir))
	}

	o.state.Store(int32(StateDisposed))
	o.finish()
	o.stats.Counter("disposed").Inc(1)
	return errs
}

// watchExit disposes the session when the process exits on its own.
func (o *Owner) watchExit() {
	err := o.handle.Wait()
	if o.disposed.Load() {
		return
	}
	if err != nil {
		o.logger.Warnw("backend process exited", "error", err)
	} else {
		o.logger.Infow("backend process exited")
	}
	o.Dispose(context.Background())
}

// watchBridge disposes the session when either relay side terminates.
func (o *Owner) watchBridge(near, far bridge.Endpoint) {
	select {
	case <-near.Done():
	case <-far.Done():
	case <-o.done:
		return
	}
	o.Dispose(context.Background())
}

func (o *Owner) finish() {
	o.finishOnce.Do(func() {
		close(o.done)
		if o.cfg.OnDisposed != nil {
			o.cfg.OnDisposed(o.cfg.SessionID)
		}
	})
}

// pipeChannel joins a process's stdin and stdout into one duplex channel.
type pipeChannel struct {
	io.Writer
	io.Reader
	closer io.Closer
}

func (p *pipeChannel) Close() error {
	return p.closer.Close()
}
