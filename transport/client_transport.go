// Package transport owns the socket session with the bus broker.
//
// A ClientTransport is created by Dial, which connects to the broker's UNIX
// socket and waits for the HELLO frame that assigns the client its id. A
// background goroutine (recvLoop) then reads every frame and hands it to
// the pending request with the same sequence number:
//
//	Send(seq=7) ──INVOKE──→ broker
//	recvLoop ←──DATA(seq=7)──── → pending[7]
//	recvLoop ←──STATUS(seq=7)── → pending[7] → Request returns
//
// A request ends with the broker's STATUS frame. Callers that give up
// (timeout, cancellation) release their slot and later frames for that
// sequence number are dropped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-ubus/message"
	"go-ubus/protocol"
)

// DefaultSocketPath is where the broker listens on a stock system.
const DefaultSocketPath = "/var/run/ubus/ubus.sock"

// ErrClosed is returned once the session is gone, whether closed locally
// or dropped by the broker.
var ErrClosed = errors.New("transport: connection closed")

// Option configures Dial.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	keepAlive time.Duration
}

// WithLogger sets the logger for connection lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeepAlive pings the broker every interval and closes the session when
// a ping fails, so a dead broker is noticed without a pending call.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *options) { o.keepAlive = interval }
}

// ClientTransport is one live session with the broker.
type ClientTransport struct {
	conn    net.Conn
	localID uint32
	logger  *zap.Logger

	seq     uint16     // last sequence number used, protected by sending
	sending sync.Mutex // serializes frame writes and seq allocation
	pending sync.Map   // map[uint16]*Pending

	closeOnce sync.Once
	done      chan struct{}
	err       error // why the session ended, written before done is closed
}

// Pending is the slot for one in-flight request.
type Pending struct {
	seq     uint16
	msgs    chan *message.Message
	abandon chan struct{}
	once    sync.Once
}

// Reply is everything the broker sent for one request.
type Reply struct {
	Data   []*message.Message
	Status message.Status
}

// Dial connects to the broker socket at path and completes the HELLO
// handshake. ctx bounds both the connect and the handshake.
func Dial(ctx context.Context, path string, opts ...Option) (*ClientTransport, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(ctx, conn, opts...)
}

// NewClientTransport runs the HELLO handshake on an established connection
// and starts the receive loop. The connection is closed on failure.
func NewClientTransport(ctx context.Context, conn net.Conn, opts ...Option) (*ClientTransport, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	header, _, err := protocol.Decode(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if message.Type(header.Type) != message.TypeHello {
		conn.Close()
		return nil, fmt.Errorf("expected hello, got %s", message.Type(header.Type))
	}

	t := &ClientTransport{
		conn:    conn,
		localID: header.Peer,
		logger:  o.logger,
		done:    make(chan struct{}),
	}
	t.logger.Debug("connected to broker", zap.Uint32("local_id", t.localID))

	go t.recvLoop()
	if o.keepAlive > 0 {
		go t.keepAliveLoop(o.keepAlive)
	}
	return t, nil
}

// LocalID is the id the broker assigned to this client.
func (t *ClientTransport) LocalID() uint32 {
	return t.localID
}

// Done is closed when the session ends.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Closed reports whether the session has ended.
func (t *ClientTransport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns why the session ended, or nil while it is alive.
func (t *ClientTransport) Err() error {
	if !t.Closed() {
		return nil
	}
	return t.err
}

// Close ends the session. Only the first call releases the socket; later
// calls return nil.
func (t *ClientTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.err = ErrClosed
		close(t.done)
		err = t.conn.Close()
		t.logger.Debug("connection closed", zap.Uint32("local_id", t.localID))
	})
	return err
}

func (t *ClientTransport) fail(cause error) {
	t.closeOnce.Do(func() {
		t.err = fmt.Errorf("%w: %v", ErrClosed, cause)
		close(t.done)
		t.conn.Close()
		t.logger.Warn("connection lost", zap.Uint32("local_id", t.localID), zap.Error(cause))
	})
}

// Send writes one request frame and registers its slot. The caller must
// Release the slot when done with it.
func (t *ClientTransport) Send(typ message.Type, peer uint32, body []byte) (*Pending, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	if t.Closed() {
		return nil, t.err
	}

	// Zero is the sequence number of unsolicited frames such as HELLO.
	t.seq++
	if t.seq == 0 {
		t.seq++
	}
	p := &Pending{
		seq:     t.seq,
		msgs:    make(chan *message.Message, 8),
		abandon: make(chan struct{}),
	}

	// Register before writing so recvLoop cannot see the reply first.
	t.pending.Store(p.seq, p)

	header := protocol.Header{Type: byte(typ), Seq: p.seq, Peer: peer}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(p.seq)
		t.fail(err)
		return nil, fmt.Errorf("send %s: %w", typ, err)
	}
	return p, nil
}

// Release frees the slot. It is safe to call more than once.
func (t *ClientTransport) Release(p *Pending) {
	p.once.Do(func() {
		close(p.abandon)
		t.pending.CompareAndDelete(p.seq, p)
	})
}

// Next waits for the next frame addressed to p.
func (t *ClientTransport) Next(ctx context.Context, p *Pending) (*message.Message, error) {
	select {
	case msg := <-p.msgs:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		// Frames that arrived before the socket broke are still valid.
		select {
		case msg := <-p.msgs:
			return msg, nil
		default:
		}
		return nil, t.err
	}
}

// Request sends one request and collects the broker's DATA frames until its
// STATUS frame arrives. The slot is released on every return path.
func (t *ClientTransport) Request(ctx context.Context, typ message.Type, peer uint32, body []byte) (*Reply, error) {
	p, err := t.Send(typ, peer, body)
	if err != nil {
		return nil, err
	}
	defer t.Release(p)

	reply := &Reply{}
	for {
		msg, err := t.Next(ctx, p)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case message.TypeData:
			reply.Data = append(reply.Data, msg)
		case message.TypeStatus:
			attrs, err := msg.Parse()
			if err != nil {
				return nil, fmt.Errorf("status frame: %w", err)
			}
			reply.Status = attrs.Status()
			return reply, nil
		}
	}
}

// Ping checks that the broker answers. The broker replies to PING with a
// single DATA frame.
func (t *ClientTransport) Ping(ctx context.Context) error {
	p, err := t.Send(message.TypePing, 0, message.Empty())
	if err != nil {
		return err
	}
	defer t.Release(p)

	for {
		msg, err := t.Next(ctx, p)
		if err != nil {
			return err
		}
		switch msg.Type {
		case message.TypeData:
			return nil
		case message.TypeStatus:
			attrs, err := msg.Parse()
			if err != nil {
				return fmt.Errorf("status frame: %w", err)
			}
			if status := attrs.Status(); status != message.StatusOK {
				return fmt.Errorf("ping: %s", status.Message())
			}
			return nil
		}
	}
}

// recvLoop is the only reader of the socket. It routes each frame to the
// slot registered under its sequence number.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}

		msg := &message.Message{
			Type: message.Type(header.Type),
			Seq:  header.Seq,
			Peer: header.Peer,
			Body: body,
		}
		if msg.Type != message.TypeData && msg.Type != message.TypeStatus {
			t.logger.Debug("ignoring frame", zap.Stringer("type", msg.Type), zap.Uint16("seq", msg.Seq))
			continue
		}

		v, ok := t.pending.Load(header.Seq)
		if !ok {
			t.logger.Debug("dropping frame for released request",
				zap.Stringer("type", msg.Type), zap.Uint16("seq", msg.Seq))
			continue
		}
		p := v.(*Pending)
		select {
		case p.msgs <- msg:
		case <-p.abandon:
		case <-t.done:
			return
		}
	}
}

func (t *ClientTransport) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := t.Ping(ctx)
		cancel()
		if err != nil {
			if !t.Closed() {
				t.fail(fmt.Errorf("keepalive: %w", err))
			}
			return
		}
	}
}
