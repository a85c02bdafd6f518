// Package executor wraps the execution of "os/exec".Cmd's to allow adding
// logs/metrics to each exec and makes it easier to test.
package executor

import (
	"os/exec"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a module to inject using fx.
var Module = fx.Options(
	fx.Supply(
		fx.Annotate(NewExecutor(), fx.As(new(Executor))),
	),
)

// Executor starts and supervises backend tooling processes.
type Executor interface {
	// Start launches cmd as the leader of a new process group and returns a
	// handle for waiting on and terminating it.
	Start(cmd *exec.Cmd, env []string) (Handle, error)
}

// Handle is a live subprocess. It must not be used after Kill returns.
type Handle interface {
	// PID of the direct child.
	PID() int
	// Wait blocks until the process exits and returns its exit error, if any.
	// Wait may be called at most once.
	Wait() error
	// Kill terminates the process and any descendants it spawned.
	Kill() error
}

// executorImp implements Executor.
type executorImp struct {
	Logger *zap.SugaredLogger
	// StartFunc may be overridden to use executorImp in tests.
	StartFunc func(cmd *exec.Cmd) (Handle, error)
}

// Option defines options to customize executorImp's behavior.
type Option func(*executorImp)

// WithLogger overrides the default noop logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(executor *executorImp) {
		executor.Logger = logger
	}
}

// WithStartFunc provides customized start behavior for executorImp.
func WithStartFunc(startFunc func(cmd *exec.Cmd) (Handle, error)) Option {
	return func(executor *executorImp) {
		executor.StartFunc = startFunc
	}
}

// NewExecutor creates a new executorImp with a default start function.
func NewExecutor(opts ...Option) Executor {
	executor := &executorImp{
		Logger:    zap.NewNop().Sugar(),
		StartFunc: startProcessGroup,
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Start logs the Path/Dir/Args and launches the command.
func (l *executorImp) Start(cmd *exec.Cmd, env []string) (Handle, error) {
	l.Logger.Infow("Exec",
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", cmd.Args[1:], // First arg is always the command itself
	)

	cmd.Env = env
	return l.StartFunc(cmd)
}
