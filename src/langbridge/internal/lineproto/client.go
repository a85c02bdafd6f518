// Package lineproto multiplexes concurrent calls onto a backend that speaks
// a single shared pipe of newline-delimited, sequence-numbered JSON.
package lineproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/junolab/langbridge/src/langbridge/internal/errors"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Stdout lines can carry full source files (e.g. decompiled metadata).
const _maxLineBytes = 16 * 1024 * 1024

type result struct {
	body json.RawMessage
	err  error
}

// pendingRequest tracks one in-flight call awaiting its correlated response.
type pendingRequest struct {
	seq     int64
	command string
	done    chan result
}

func (p *pendingRequest) resolve(r result) {
	// Buffered channel; the dequeue step guarantees a single resolver.
	p.done <- r
}

// EventHandler receives asynchronous out-of-band backend events.
type EventHandler func(ctx context.Context, event string, body json.RawMessage)

// Client issues calls over a backend's stdin and correlates stdout responses
// by sequence number. Responses may arrive in any order; the sequence number
// is the only correlation key.
type Client struct {
	logger *zap.SugaredLogger
	stats  tally.Scope

	writeMu sync.Mutex
	stdin   io.Writer

	mu      sync.Mutex
	seq     int64
	pending map[int64]*pendingRequest
	closed  bool
	events  EventHandler

	done    chan struct{}
	readErr atomic.Error
}

// NewClient returns a Client over the backend's streams and starts the read
// pump. The pump terminates when stdout closes, failing every pending call.
func NewClient(stdin io.Writer, stdout io.Reader, logger *zap.SugaredLogger, stats tally.Scope) *Client {
	c := &Client{
		logger:  logger,
		stats:   stats.SubScope("lineproto"),
		stdin:   stdin,
		pending: make(map[int64]*pendingRequest),
		done:    make(chan struct{}),
	}
	go c.pump(stdout)
	return c
}

// SetEventHandler registers the handler for backend events. At most one
// handler is active; re-registering replaces it.
func (c *Client) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = h
}

// Call issues command with args and blocks until the matching response
// arrives, the context is canceled, or the backend becomes unavailable.
// A non-nil reply receives the unmarshaled response body. Cancellation is
// definite for the caller and advisory for the backend: the in-flight work
// is not aborted backend-side.
func (c *Client) Call(ctx context.Context, command string, args interface{}, reply interface{}) error {
	p, err := c.enqueue(command)
	if err != nil {
		return err
	}

	line, err := json.Marshal(request{
		Type:      packetTypeRequest,
		Seq:       p.seq,
		Command:   command,
		Arguments: args,
	})
	if err != nil {
		c.dequeue(p.seq)
		return fmt.Errorf("encoding %q request: %w", command, err)
	}
	line = append(line, '\n')

	// stdin is a single-writer resource: one complete line at a time, even
	// though enqueue and response handling run concurrently.
	c.writeMu.Lock()
	_, writeErr := c.stdin.Write(line)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.dequeue(p.seq)
		return &errors.BackendUnavailableError{Command: command, Seq: p.seq}
	}

	select {
	case <-ctx.Done():
		c.cancel(p)
		return errors.ErrCanceled
	case res := <-p.done:
		if res.err != nil {
			return res.err
		}
		if reply == nil || len(res.body) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.body, reply); err != nil {
			return fmt.Errorf("decoding %q response body: %w", command, err)
		}
		return nil
	}
}

// Done is closed once the read pump has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the pump terminated, once Done is closed.
func (c *Client) Err() error {
	return c.readErr.Load()
}

// PendingCount returns the number of in-flight calls.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// enqueue assigns the next sequence number and registers a pending request
// under it. Sequence numbers are strictly increasing and never reused for the
// lifetime of the process.
func (c *Client) enqueue(command string) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &errors.BackendUnavailableError{Command: command, Seq: c.seq}
	}

	c.seq++
	p := &pendingRequest{
		seq:     c.seq,
		command: command,
		done:    make(chan result, 1),
	}
	c.pending[p.seq] = p
	return p, nil
}

// dequeue removes and returns the pending request for seq, or nil if none
// exists. Removal and resolution happen with the map mutation as one atomic
// step so a request can never be resolved twice.
func (c *Client) dequeue(seq int64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[seq]
	if !ok {
		return nil
	}
	delete(c.pending, seq)
	return p
}

// cancel resolves p's failure path immediately. The backend is not told to
// abort; its eventual response will be dropped as a correlation anomaly.
func (c *Client) cancel(p *pendingRequest) {
	if removed := c.dequeue(p.seq); removed == nil {
		// Already resolved by a response or by failAll.
		return
	}
	p.resolve(result{err: errors.ErrCanceled})
	c.stats.Counter("calls_canceled").Inc(1)
}

// failAll resolves every pending request with BackendUnavailable and rejects
// further enqueues. No response for a dead backend's sequence numbers will
// ever arrive.
func (c *Client) failAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for seq, p := range c.pending {
		delete(c.pending, seq)
		p.resolve(result{err: &errors.BackendUnavailableError{Command: p.command, Seq: p.seq}})
	}
}

func (c *Client) pump(stdout io.Reader) {
	defer close(c.done)
	defer c.failAll()

	ctx := context.Background()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), _maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			// Backends interleave human-readable log output on stdout.
			continue
		}

		var pkt packet
		if err := json.Unmarshal(line, &pkt); err != nil {
			c.logger.Debugw("discarding unparseable backend line", "error", err)
			continue
		}

		switch pkt.Type {
		case packetTypeResponse:
			c.handleResponse(pkt)
		case packetTypeEvent:
			c.mu.Lock()
			h := c.events
			c.mu.Unlock()
			if h != nil {
				h(ctx, pkt.Event, pkt.Body)
			}
		default:
			// Objects without a recognized discriminator are not protocol
			// messages.
		}
	}

	if err := scanner.Err(); err != nil {
		c.readErr.Store(err)
	}
}

func (c *Client) handleResponse(pkt packet) {
	p := c.dequeue(pkt.RequestSeq)
	if p == nil {
		anomaly := &errors.CorrelationAnomaly{Command: pkt.Command, Seq: pkt.RequestSeq}
		c.logger.Warnw("dropping uncorrelated response", "error", anomaly)
		c.stats.Counter("correlation_anomalies").Inc(1)
		return
	}

	if !pkt.Success {
		p.resolve(result{err: &errors.BackendCallError{Command: p.command, Message: pkt.Message}})
		return
	}
	p.resolve(result{body: pkt.Body})
}
