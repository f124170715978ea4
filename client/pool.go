package client

import (
	"context"
	"errors"
	"sync"

	"go-ubus/value"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("ubus: pool closed")

// Pool hands out exclusive use of connected clients, so several goroutines
// can call concurrently while each session keeps one call in flight.
//
// Idle clients wait in a buffered channel. Clients are connected lazily;
// each live client holds one of size tokens in slots.
type Pool struct {
	mu      sync.Mutex
	idle    chan *Client
	slots   chan struct{}
	closed  bool
	done    chan struct{}
	factory func(ctx context.Context) (*Client, error)
}

// NewPool creates a pool of up to size clients connected to the broker at
// path, each built with opts.
func NewPool(size int, path string, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		idle:  make(chan *Client, size),
		slots: make(chan struct{}, size),
		done:  make(chan struct{}),
		factory: func(ctx context.Context) (*Client, error) {
			c := New(opts...)
			if err := c.Connect(ctx, path); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	for range size {
		p.slots <- struct{}{}
	}
	return p
}

// Get takes a connected client out of the pool. An idle client is
// preferred; otherwise a new one is connected while a slot is free, and
// failing both Get waits for whichever comes first.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	for {
		select {
		case c := <-p.idle:
			if c.IsConnected() {
				return c, nil
			}
			p.discard(c)
			continue
		case <-p.done:
			return nil, ErrPoolClosed
		default:
		}

		select {
		case c := <-p.idle:
			if c.IsConnected() {
				return c, nil
			}
			p.discard(c)
		case <-p.slots:
			if p.isClosed() {
				p.release()
				return nil, ErrPoolClosed
			}
			c, err := p.factory(ctx)
			if err != nil {
				p.release()
				return nil, err
			}
			return c, nil
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns a client taken with Get. A client that lost its session is
// closed and its slot freed. A client the pool has no room for is closed.
func (p *Pool) Put(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !c.IsConnected() {
		c.Close()
		p.release()
		return
	}
	select {
	case p.idle <- c:
	default:
		c.Close()
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) discard(c *Client) {
	c.Close()
	p.release()
}

// release returns a slot token. It never blocks, so a client returned
// twice cannot grow the pool past its size.
func (p *Pool) release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}

// Call runs one call on a pooled client.
func (p *Pool) Call(ctx context.Context, object, method string, params value.Value) (*value.Map, error) {
	c, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Put(c)
	return c.Call(ctx, object, method, params)
}

// Close disconnects the idle clients. Clients still out are closed when
// they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case c := <-p.idle:
			c.Close()
			p.release()
		default:
			return nil
		}
	}
}
