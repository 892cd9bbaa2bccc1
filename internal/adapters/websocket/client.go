package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/listycity/internal/adapters/feed"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
	"github.com/bft-labs/listycity/pkg/log"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client's logger.
func WithClientLogger(l log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDialer sets the dialer used for every connection.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) {
		c.header = h
	}
}

// Client implements ports.RemoteStore against a Server.
type Client struct {
	endpoint   string
	collection string
	dialer     *websocket.Dialer
	header     http.Header
	logger     log.Logger

	mu     sync.Mutex
	rpc    *rpcConn
	closed bool
	subs   feed.Set
}

// NewClient creates a client for collection on the server at baseURL.
// No connection is made until the first call.
func NewClient(baseURL, collection string, opts ...ClientOption) (*Client, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrInvalidConfig)
	}
	endpoint, err := Endpoint(baseURL, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: url: %w", domain.ErrInvalidConfig, err)
	}
	c := &Client{
		endpoint:   endpoint,
		collection: collection,
		dialer:     websocket.DefaultDialer,
		logger:     log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the collection URL the client dials.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	ws.SetReadLimit(readLimit)
	return ws, nil
}

// Subscribe opens a dedicated connection and waits for the server's ack.
// A dropped connection is reported as domain.ErrSubscriptionLost.
func (c *Client) Subscribe(ctx context.Context, onSnapshot ports.SnapshotHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if c.isClosed() {
		return nil, domain.ErrClosed
	}
	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	id := newID()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(Frame{Type: FrameSubscribe, ID: id, Collection: c.collection}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	// Snapshots cannot precede the ack; anything else before it is an error.
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	var ack Frame
	if err := ws.ReadJSON(&ack); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})
	if ack.Type != FrameAck || ack.ID != id {
		_ = ws.Close()
		if ack.Type == FrameError {
			return nil, errors.New(ack.Error)
		}
		return nil, fmt.Errorf("unexpected %q frame before subscribe ack", ack.Type)
	}

	st := c.subs.Add(onSnapshot, onError)
	go func() {
		select {
		case <-ctx.Done():
			_ = st.Close()
		case <-st.Done():
		}
		_ = ws.Close()
	}()
	go c.readSubscription(ws, st, id)
	return st, nil
}

func (c *Client) readSubscription(ws *websocket.Conn, st *feed.Stream, id string) {
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			select {
			case <-st.Done():
			default:
				c.logger.Warn("subscription connection lost", log.String("endpoint", c.endpoint), log.Err(err))
				st.Fail(fmt.Errorf("%w: %w", domain.ErrSubscriptionLost, err))
			}
			return
		}
		if f.ID != id {
			continue
		}
		switch f.Type {
		case FrameSnapshot:
			st.Snapshot(f.Docs)
		case FrameError:
			err := errors.New(f.Error)
			if f.Lost {
				err = fmt.Errorf("%w: %s", domain.ErrSubscriptionLost, f.Error)
			}
			st.Fail(err)
		}
	}
}

// Write upserts rec on the server.
func (c *Client) Write(ctx context.Context, rec domain.Record) error {
	if err := c.request(ctx, Frame{Type: FrameWrite, Collection: c.collection, Record: &rec}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteWrite, err)
	}
	return nil
}

// Delete removes key on the server.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.request(ctx, Frame{Type: FrameDelete, Collection: c.collection, Key: key}); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteDelete, err)
	}
	return nil
}

// request sends f on the shared request connection and waits for its reply.
func (c *Client) request(ctx context.Context, f Frame) error {
	conn, err := c.requestConn(ctx)
	if err != nil {
		return err
	}
	f.ID = newID()
	reply, err := conn.roundTrip(ctx, f)
	if err != nil {
		return err
	}
	if reply.Type == FrameError {
		return errors.New(reply.Error)
	}
	return nil
}

func (c *Client) requestConn(ctx context.Context) (*rpcConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrClosed
	}
	if c.rpc != nil && !c.rpc.isDone() {
		return c.rpc, nil
	}
	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.rpc = newRPCConn(ws, c.logger)
	return c.rpc, nil
}

// Close closes every connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	rpc := c.rpc
	c.rpc = nil
	c.mu.Unlock()

	if rpc != nil {
		rpc.close()
	}
	c.subs.CloseAll()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// rpcConn multiplexes requests over one connection by frame ID.
type rpcConn struct {
	ws     *websocket.Conn
	logger log.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame
	err     error
	done    chan struct{}
}

func newRPCConn(ws *websocket.Conn, logger log.Logger) *rpcConn {
	r := &rpcConn{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *rpcConn) readLoop() {
	defer r.close()
	for {
		var f Frame
		if err := r.ws.ReadJSON(&f); err != nil {
			r.mu.Lock()
			if r.err == nil {
				r.err = fmt.Errorf("connection closed: %w", err)
			}
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		ch, ok := r.pending[f.ID]
		delete(r.pending, f.ID)
		r.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (r *rpcConn) roundTrip(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)
	r.mu.Lock()
	if r.isDoneLocked() {
		err := r.err
		r.mu.Unlock()
		return Frame{}, err
	}
	r.pending[f.ID] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = r.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := r.ws.WriteJSON(f)
	r.writeMu.Unlock()
	if err != nil {
		r.forget(f.ID)
		r.close()
		return Frame{}, fmt.Errorf("send %s: %w", f.Type, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		r.forget(f.ID)
		return Frame{}, ctx.Err()
	case <-r.done:
		select {
		case reply := <-ch:
			return reply, nil
		default:
		}
		r.mu.Lock()
		err := r.err
		r.mu.Unlock()
		return Frame{}, err
	}
}

func (r *rpcConn) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *rpcConn) isDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDoneLocked()
}

func (r *rpcConn) isDoneLocked() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *rpcConn) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isDoneLocked() {
		return
	}
	if r.err == nil {
		r.err = errors.New("connection closed")
	}
	close(r.done)
	_ = r.ws.Close()
}
