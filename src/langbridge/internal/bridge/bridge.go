// Package bridge relays protocol messages between two endpoints without
// inspecting or transforming them.
package bridge

import (
	"context"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Bridge forwards every message received on one endpoint to the other,
// preserving arrival order per direction, until a side terminates or Detach
// is called. It does not own the endpoints; closing them stays with the
// caller.
type Bridge struct {
	near Endpoint
	far  Endpoint

	logger   *zap.SugaredLogger
	detached atomic.Bool
}

// New wires near and far together and starts relaying immediately.
func New(near Endpoint, far Endpoint, logger *zap.SugaredLogger) *Bridge {
	b := &Bridge{
		near:   near,
		far:    far,
		logger: logger,
	}

	near.Listen(b.relayTo(far, "client->backend"))
	far.Listen(b.relayTo(near, "backend->client"))
	return b
}

func (b *Bridge) relayTo(dst Endpoint, direction string) Handler {
	return func(ctx context.Context, payload []byte) {
		if b.detached.Load() {
			return
		}
		if err := dst.Send(ctx, payload); err != nil {
			b.logger.Warnw("relay send failed", "direction", direction, "error", err)
		}
	}
}

// Done is closed when either side's stream terminates.
func (b *Bridge) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-b.near.Done():
		case <-b.far.Done():
		}
		close(done)
	}()
	return done
}

// Detach releases both side subscriptions. Safe to call more than once.
func (b *Bridge) Detach() {
	if !b.detached.CompareAndSwap(false, true) {
		return
	}
	b.near.Listen(nil)
	b.far.Listen(nil)
}
