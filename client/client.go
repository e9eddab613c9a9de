// Package client implements a JSON-RPC 2.0 client for the media server
// control API over a persistent socket, with liveness monitoring and bounded
// automatic reconnection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/pixtouch/proto"
)

const DefaultPort = 1400

type Options struct {
	LivenessInterval     time.Duration // default 5s
	ReconnectDelay       time.Duration // multiplied by the attempt number, default 2s
	MaxReconnectAttempts int           // default 5
	DialTimeout          time.Duration // default 10s
	RequestTimeout       time.Duration // 0 waits for ctx only
	NewTransport         func() Transport
}

func DefaultOptions() Options {
	return Options{
		LivenessInterval:     5 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
		RequestTimeout:       10 * time.Second,
		NewTransport:         func() Transport { return NewTCPTransport() },
	}
}

type Stats struct {
	DroppedResponses int64 `json:"dropped_responses"`
	LastRequestID    int64 `json:"last_request_id"`
}

type Client struct {
	opts Options

	nextID  atomic.Int64
	dropped atomic.Int64

	// state is only written by setState, which holds notifyMu for the whole
	// change+notify sequence.
	stateMu   sync.RWMutex
	state     ConnectionState
	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers []func(StateChange)

	// lifeMu serializes Connect, Disconnect and the reconnect loop.
	lifeMu sync.Mutex
	cancel context.CancelFunc

	connMu sync.RWMutex
	conn   *connection

	writeMu sync.Mutex
}

func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = def.LivenessInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.NewTransport == nil {
		opts.NewTransport = def.NewTransport
	}
	return &Client{opts: opts}
}

// OnStateChange registers fn for every state transition. Deliveries never
// overlap. fn must not call Connect or Disconnect synchronously.
func (c *Client) OnStateChange(fn func(StateChange)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) Stats() Stats {
	return Stats{DroppedResponses: c.dropped.Load(), LastRequestID: c.nextID.Load()}
}

func (c *Client) setState(s ConnectionState, err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev == s {
		return
	}

	change := StateChange{Previous: prev, Current: s, Err: err}
	if err != nil {
		slog.Warn("Connection state changed", "from", prev, "to", s, "error", err.Error())
	} else {
		slog.Info("Connection state changed", "from", prev, "to", s)
	}

	c.obsMu.RLock()
	observers := slices.Clone(c.observers)
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// Connect dials host:port. It fails with ErrInvalidState while a connection
// is active or being (re)established.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	switch c.State() {
	case Connecting, Connected, Reconnecting:
		return fmt.Errorf("%w: connect called while %s", ErrInvalidState, c.State())
	}
	if c.cancel != nil {
		// Left over from a reconnect loop that ended in Error.
		c.cancel()
		c.cancel = nil
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.setState(Connecting, nil)

	cn, err := c.dial(ctx, addr)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		c.setState(Error, err)
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.attach(cn)
	c.setState(Connected, nil)
	go c.monitor(monitorCtx, addr)
	return nil
}

// Disconnect stops monitoring, closes the socket and moves to Disconnected.
// Calling it more than once is harmless.
func (c *Client) Disconnect() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.closeConn()
	c.setState(Disconnected, nil)
}

func (c *Client) dial(ctx context.Context, addr string) (*connection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	t := c.opts.NewTransport()
	if err := t.Connect(ctx, addr); err != nil {
		return nil, err
	}
	slog.Debug("Dialed remote server", "addr", addr)
	return newConnection(t, addr), nil
}

func (c *Client) attach(cn *connection) {
	c.connMu.Lock()
	c.conn = cn
	c.connMu.Unlock()
	go c.readLoop(cn)
}

func (c *Client) current() *connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	cn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if cn == nil {
		return
	}
	if err := cn.transport.Close(); err != nil {
		slog.Debug("Error closing connection", "addr", cn.addr, "error", err)
	}
}

// Invoke sends one call and waits for the response carrying the same id.
func (c *Client) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.State() != Connected {
		return nil, ErrNotConnected
	}
	cn := c.current()
	if cn == nil {
		return nil, ErrNotConnected
	}

	id := c.nextID.Add(1)
	ch, ok := cn.register(id)
	if !ok {
		return nil, fmt.Errorf("%w: connection closed", ErrNotConnected)
	}
	defer cn.unregister(id)

	line, err := proto.Encode(proto.NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = cn.transport.WriteLine(line)
	c.writeMu.Unlock()
	if err != nil {
		// Let the read loop and the liveness monitor see the broken socket.
		cn.transport.Close()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	slog.Debug("Request sent", "method", method, "id", id)

	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: connection closed before %s (id %d) was answered", ErrEmptyResponse, method, id)
		}
		if r.err != nil {
			return nil, fmt.Errorf("%s (id %d): %w", method, id, r.err)
		}
		if r.resp.Error != nil {
			return nil, remoteError(r.resp.Error)
		}
		return r.resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s (id %d): %w", method, id, ctx.Err())
	}
}

// InvokeInto calls Invoke and unmarshals a non-null result into out.
func (c *Client) InvokeInto(ctx context.Context, method string, params any, out any) error {
	raw, err := c.Invoke(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: result of %s: %v", proto.ErrMalformed, method, err)
	}
	return nil
}

// readLoop routes responses to waiting calls by id. A line that cannot be
// attributed to an id fails the call only when it is the sole one in flight.
func (c *Client) readLoop(cn *connection) {
	defer cn.shutdown()
	for {
		line, err := cn.transport.ReadLine()
		if errors.Is(err, proto.ErrLineTooLong) {
			c.dropUnattributed(cn, err, nil)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("Read loop ended", "addr", cn.addr, "error", err)
			}
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp proto.Response
		if err := proto.Decode(line, &resp); err != nil {
			c.dropUnattributed(cn, err, line)
			continue
		}
		if resp.ID == nil {
			if resp.Error != nil {
				c.dropUnattributed(cn, remoteError(resp.Error), line)
			} else {
				c.dropUnattributed(cn, fmt.Errorf("%w: response without id", proto.ErrMalformed), line)
			}
			continue
		}
		if !cn.deliver(*resp.ID, resp) {
			c.dropped.Add(1)
			slog.Warn("Dropping response for unknown request", "id", *resp.ID)
		}
	}
}

func (c *Client) dropUnattributed(cn *connection, err error, line []byte) {
	if id, ok := cn.failSole(err); ok {
		slog.Warn("Failing sole pending call on unattributable response", "id", id, "error", err, "data", string(line))
		return
	}
	c.dropped.Add(1)
	slog.Warn("Dropping unattributable response", "error", err, "data", string(line))
}

func remoteError(e *proto.RPCError) *RemoteError {
	return &RemoteError{Code: e.Code, Message: e.Message, Data: e.Data}
}

// monitor samples socket liveness while connected and drives reconnection.
func (c *Client) monitor(ctx context.Context, addr string) {
	ticker := time.NewTicker(c.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cn := c.current()
		if c.State() != Connected || (cn != nil && cn.alive()) {
			continue
		}
		if !c.reconnect(ctx, addr) {
			return
		}
	}
}

// locked runs fn under lifeMu unless ctx has been cancelled, which means
// Disconnect or a fresh Connect took over.
func (c *Client) locked(ctx context.Context, fn func()) bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

func (c *Client) reconnect(ctx context.Context, addr string) bool {
	if !c.locked(ctx, func() { c.setState(Reconnecting, nil) }) {
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		if !c.locked(ctx, c.closeConn) {
			return false
		}

		delay := c.opts.ReconnectDelay * time.Duration(attempt)
		slog.Info("Reconnecting", "addr", addr, "attempt", attempt, "max_attempts", c.opts.MaxReconnectAttempts, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		cn, err := c.dial(ctx, addr)
		if err != nil {
			lastErr = err
			slog.Warn("Reconnect attempt failed", "addr", addr, "attempt", attempt, "error", err)
			continue
		}

		ok := c.locked(ctx, func() {
			c.attach(cn)
			c.setState(Connected, nil)
		})
		if !ok {
			cn.transport.Close()
			return false
		}
		return true
	}

	c.locked(ctx, func() {
		c.setState(Error, fmt.Errorf("%w: gave up after %d reconnect attempts: %w", ErrConnection, c.opts.MaxReconnectAttempts, lastErr))
	})
	return false
}

// reply is either a decoded response or a failure attributed to one call.
type reply struct {
	resp proto.Response
	err  error
}

// connection is one dialed transport plus the calls waiting on it.
type connection struct {
	transport Transport
	addr      string

	mu      sync.Mutex
	pending map[int64]chan reply
	closed  bool
	done    chan struct{}
}

func newConnection(t Transport, addr string) *connection {
	return &connection{transport: t, addr: addr, pending: make(map[int64]chan reply), done: make(chan struct{})}
}

func (cn *connection) register(id int64) (chan reply, bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return nil, false
	}
	ch := make(chan reply, 1)
	cn.pending[id] = ch
	return ch, true
}

func (cn *connection) unregister(id int64) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	delete(cn.pending, id)
}

func (cn *connection) deliver(id int64, resp proto.Response) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch, ok := cn.pending[id]
	if !ok {
		return false
	}
	delete(cn.pending, id)
	ch <- reply{resp: resp}
	return true
}

// failSole hands err to the only pending call, if exactly one is waiting.
func (cn *connection) failSole(err error) (int64, bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if len(cn.pending) != 1 {
		return 0, false
	}
	for id, ch := range cn.pending {
		delete(cn.pending, id)
		ch <- reply{err: err}
		return id, true
	}
	return 0, false
}

// shutdown fails every waiting call with a closed channel.
func (cn *connection) shutdown() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	for id, ch := range cn.pending {
		close(ch)
		delete(cn.pending, id)
	}
	close(cn.done)
}

func (cn *connection) alive() bool {
	select {
	case <-cn.done:
		return false
	default:
		return true
	}
}
