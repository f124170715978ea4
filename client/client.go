// Package client is the public bus client.
//
// A Client owns at most one session with the broker. Every Call resolves
// the object by name, encodes the parameters, sends one INVOKE and waits
// for the broker's status:
//
//	Call(object, method, params)
//	  → middleware chain (optional)
//	    → LOOKUP object → id
//	    → encode params → INVOKE id.method → [DATA] → STATUS
//	  ← decoded result of the last DATA, or an empty map
//
// Calls on one Client are serialized, so each session has at most one call
// in flight and replies come back in issue order. Use a Pool for
// concurrency.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"go-ubus/codec"
	"go-ubus/message"
	"go-ubus/middleware"
	"go-ubus/registry"
	"go-ubus/transport"
	"go-ubus/value"
)

// DefaultTimeout bounds a call unless SetTimeout changes it.
const DefaultTimeout = 30 * time.Second

// Client is a bus client. The zero value is not usable; create one with
// New.
type Client struct {
	mu   sync.Mutex // guards conn and path
	conn *transport.ClientTransport
	path string

	calls   sync.Mutex // one call in flight
	timeout atomic.Int64

	compact     bool
	keepAlive   time.Duration
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the initial call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout.Store(int64(d)) }
}

// WithLogger sets the logger for connection events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCompactIntegers sends integers that fit in 32 bits as INT32, which
// some broker-side handlers expect.
func WithCompactIntegers() Option {
	return func(c *Client) { c.compact = true }
}

// WithKeepAlive pings the broker every interval while connected.
func WithKeepAlive(interval time.Duration) Option {
	return func(c *Client) { c.keepAlive = interval }
}

// WithMiddleware wraps every Call with mws, first one outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{logger: zap.NewNop()}
	c.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(c)
	}
	c.handler = middleware.Chain(c.middlewares...)(c.invoke)
	return c
}

// Connect opens a session to the broker socket at path, or at
// transport.DefaultSocketPath when path is empty. It does nothing when
// already connected. A failure leaves the client disconnected.
func (c *Client) Connect(ctx context.Context, path string) error {
	if path == "" {
		path = transport.DefaultSocketPath
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.Closed() {
		return nil
	}

	opts := []transport.Option{transport.WithLogger(c.logger)}
	if c.keepAlive > 0 {
		opts = append(opts, transport.WithKeepAlive(c.keepAlive))
	}
	conn, err := transport.Dial(ctx, path, opts...)
	if err != nil {
		c.conn = nil
		return &ConnectionError{Path: path, Err: err}
	}
	c.conn = conn
	c.path = path
	c.logger.Debug("connected", zap.String("path", path), zap.Uint32("local_id", conn.LocalID()))
	return nil
}

// Disconnect closes the session. It is safe to call at any time, any
// number of times. A call in flight fails with a ConnectionError.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, path := c.conn, c.path
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		c.logger.Debug("disconnected", zap.String("path", path))
	}
}

// Close disconnects; it lets a Client be used as an io.Closer.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// IsConnected reports whether the client has a live session. A session the
// broker dropped counts as disconnected.
func (c *Client) IsConnected() bool {
	return c.session() != nil
}

// Connected is IsConnected.
func (c *Client) Connected() bool { return c.IsConnected() }

// LocalID is the id the broker assigned to the session, or 0 when
// disconnected.
func (c *Client) LocalID() uint32 {
	if conn := c.session(); conn != nil {
		return conn.LocalID()
	}
	return 0
}

func (c *Client) session() *transport.ClientTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.Closed() {
		return nil
	}
	return c.conn
}

// Timeout returns the timeout applied to each call.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

// SetTimeout changes the timeout for subsequent calls. Zero makes every
// call time out at once.
func (c *Client) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.timeout.Store(int64(d))
}

// Lookup lists the objects matching pattern: all objects when pattern is
// empty, objects under a prefix when it ends in '*'.
func (c *Client) Lookup(ctx context.Context, pattern string) ([]registry.ObjectDescriptor, error) {
	c.calls.Lock()
	defer c.calls.Unlock()

	conn := c.session()
	if conn == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	objs, err := registry.NewDirectory(conn).Lookup(ctx, pattern)
	if err != nil {
		return nil, c.sessionError(err)
	}
	return objs, nil
}

// List is Lookup.
func (c *Client) List(ctx context.Context, pattern string) ([]registry.ObjectDescriptor, error) {
	return c.Lookup(ctx, pattern)
}

// Ping checks that the broker answers.
func (c *Client) Ping(ctx context.Context) error {
	conn := c.session()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return c.sessionError(err)
	}
	return nil
}

// Call invokes method on the object named object and returns the decoded
// reply. params may be nil, Null or a *value.Map. A method that sends no
// data yields an empty map.
//
// Failures are typed: ErrNotConnected, *ObjectNotFoundError,
// *ParameterEncodingError, *CallError (including timeouts),
// *codec.DecodingError and *ConnectionError.
func (c *Client) Call(ctx context.Context, object, method string, params value.Value) (*value.Map, error) {
	resp := c.handler(ctx, &message.Request{Object: object, Method: method, Params: params})
	switch {
	case resp.Err != nil:
		return nil, resp.Err
	case resp.Status != message.StatusOK:
		return nil, newCallError(resp.Status)
	case resp.Result == nil:
		return value.NewMap(), nil
	}
	return resp.Result, nil
}

// invoke is the innermost handler of the middleware chain.
func (c *Client) invoke(ctx context.Context, req *message.Request) *message.Response {
	c.calls.Lock()
	defer c.calls.Unlock()

	conn := c.session()
	if conn == nil {
		return &message.Response{Err: ErrNotConnected}
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	id, err := registry.NewDirectory(conn).ResolveID(ctx, req.Object)
	if err != nil {
		return c.failure(err)
	}

	params, err := c.encodeParams(req.Params)
	if err != nil {
		return &message.Response{Err: &ParameterEncodingError{Err: err}}
	}
	body, err := message.NewInvoke(id, req.Method, params)
	if err != nil {
		return &message.Response{Err: &ParameterEncodingError{Err: err}}
	}

	reply, err := conn.Request(ctx, message.TypeInvoke, id, body)
	if err != nil {
		return c.failure(err)
	}
	if reply.Status != message.StatusOK {
		return &message.Response{Status: reply.Status}
	}

	result, err := lastResult(reply.Data)
	if err != nil {
		return &message.Response{Err: err}
	}
	return &message.Response{Result: result}
}

func (c *Client) encodeParams(params value.Value) ([]byte, error) {
	if value.IsNull(params) {
		params = value.NewMap()
	}
	if !value.IsMap(params) {
		return nil, fmt.Errorf("parameters must be a map, got %s", value.KindOf(params))
	}
	var opts []codec.EncodeOption
	if c.compact {
		opts = append(opts, codec.WithCompactIntegers())
	}
	return codec.Encode(params, opts...)
}

// lastResult decodes the payload of the last DATA frame. When a method
// sends several, the last one wins.
func lastResult(data []*message.Message) (*value.Map, error) {
	if len(data) == 0 {
		return value.NewMap(), nil
	}
	attrs, err := data[len(data)-1].Parse()
	if err != nil {
		return nil, err
	}
	payload, ok := attrs[message.AttrData]
	if !ok {
		return value.NewMap(), nil
	}
	return codec.DecodeTable(payload.Data())
}

// failure turns an error from the resolve or invoke step into a response.
func (c *Client) failure(err error) *message.Response {
	if errors.Is(err, context.DeadlineExceeded) {
		return &message.Response{Status: message.StatusTimeout}
	}
	return &message.Response{Err: c.sessionError(err)}
}

// sessionError wraps errors of a broken session in a ConnectionError and
// passes every other error through.
func (c *Client) sessionError(err error) error {
	if errors.Is(err, transport.ErrClosed) {
		c.mu.Lock()
		path := c.path
		c.mu.Unlock()
		return &ConnectionError{Path: path, Err: err}
	}
	return err
}
