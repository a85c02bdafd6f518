package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/junolab/langbridge/src/langbridge/internal/framing"
)

// Handler receives one decoded payload. Payloads are delivered in arrival
// order, one at a time.
type Handler func(ctx context.Context, payload []byte)

// Endpoint is one side of a message channel. The remote end may be a duplex
// socket or a process's standard streams; consumers of an Endpoint only ever
// see "receive message" and "send message".
type Endpoint interface {
	// Listen registers the handler for inbound messages. At most one handler
	// is active at a time; re-registering replaces the previous one. Passing
	// nil detaches the current handler.
	Listen(h Handler)

	// Send writes one complete message to the remote end.
	Send(ctx context.Context, payload []byte) error

	// Done is closed when the endpoint's stream terminates.
	Done() <-chan struct{}

	// Err reports why the endpoint terminated, once Done is closed.
	Err() error

	Close() error
}

// streamEndpoint frames payloads over an io.ReadWriteCloser.
type streamEndpoint struct {
	rwc io.ReadWriteCloser
	dec *framing.Decoder

	mu      sync.Mutex
	handler Handler

	pumpOnce sync.Once
	done     chan struct{}
	err      error
	closed   chan struct{}
}

// NewStreamEndpoint returns an Endpoint carrying framed messages over rwc.
// The read pump starts on the first Listen call.
func NewStreamEndpoint(rwc io.ReadWriteCloser) Endpoint {
	return &streamEndpoint{
		rwc:    rwc,
		dec:    framing.NewDecoder(rwc),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (e *streamEndpoint) Listen(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()

	if h != nil {
		e.pumpOnce.Do(func() { go e.pump() })
	}
}

func (e *streamEndpoint) pump() {
	defer close(e.done)
	ctx := context.Background()

	for {
		payload, err := e.dec.Next()
		if err != nil {
			e.mu.Lock()
			e.err = err
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		h := e.handler
		e.mu.Unlock()
		if h != nil {
			h(ctx, payload)
		}

		select {
		case <-e.closed:
			return
		default:
		}
	}
}

func (e *streamEndpoint) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// One complete frame at a time on the shared writer.
	e.mu.Lock()
	defer e.mu.Unlock()
	return framing.Encode(e.rwc, payload)
}

func (e *streamEndpoint) Done() <-chan struct{} {
	return e.done
}

func (e *streamEndpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *streamEndpoint) Close() error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
	}
	return e.rwc.Close()
}
