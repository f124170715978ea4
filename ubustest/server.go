// Package ubustest runs an in-process bus broker for tests.
//
// The fake broker speaks the real frame protocol on a UNIX socket and
// implements the subset a client needs:
//
//	Accept conn → HELLO(peer=client id)
//	  → read loop (one goroutine per connection)
//	    PING   → DATA
//	    LOOKUP → DATA per matching object → STATUS
//	    INVOKE → go handler → [DATA] → STATUS
//
// Objects are registered up front with Register. There is no publishing
// from clients, no events and no access control.
package ubustest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"go-ubus/codec"
	"go-ubus/message"
	"go-ubus/protocol"
	"go-ubus/value"
)

// Server is a fake broker.
type Server struct {
	mu         sync.Mutex
	objects    map[string]*object
	byID       map[uint32]*object
	nextObject uint32
	nextClient uint32
	conns      map[net.Conn]struct{}

	listener net.Listener
	wg       sync.WaitGroup // connections and in-flight invocations
	shutdown atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	invokes atomic.Int64
	lookups atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger logs broker activity to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a broker with no objects.
func NewServer(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		objects:    make(map[string]*object),
		byID:       make(map[uint32]*object),
		nextObject: 0x1000,
		nextClient: 0x100,
		conns:      make(map[net.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an object at path and returns its id. Registering the same
// path again replaces the object under a new id.
func (s *Server) Register(path string, methods map[string]Method) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.objects[path]; ok {
		delete(s.byID, old.id)
	}
	s.nextObject++
	obj := &object{
		id:      s.nextObject,
		path:    path,
		typeID:  s.nextObject ^ 0xffff0000,
		methods: methods,
	}
	s.objects[path] = obj
	s.byID[obj.id] = obj
	return obj.id
}

// Unregister removes the object at path.
func (s *Server) Unregister(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[path]; ok {
		delete(s.objects, path)
		delete(s.byID, obj.id)
	}
}

// Invocations counts the INVOKE frames received so far.
func (s *Server) Invocations() int64 { return s.invokes.Load() }

// Lookups counts the LOOKUP frames received so far.
func (s *Server) Lookups() int64 { return s.lookups.Load() }

// Serve listens on the UNIX socket at path and handles connections until
// Shutdown is called.
func (s *Server) Serve(path string) error {
	if err := s.listen(path); err != nil {
		return err
	}
	return s.serve()
}

// Start serves on a socket in a fresh temporary directory and shuts the
// server down when the test ends. It returns the socket path.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	// Socket paths are limited to about 100 bytes, so avoid t.TempDir.
	dir, err := os.MkdirTemp("", "ubus")
	if err != nil {
		t.Fatalf("ubustest: %v", err)
	}
	path := filepath.Join(dir, "ubus.sock")
	if err := s.listen(path); err != nil {
		os.RemoveAll(dir)
		t.Fatalf("ubustest: %v", err)
	}
	go s.serve()
	t.Cleanup(func() {
		if err := s.Shutdown(5 * time.Second); err != nil {
			t.Errorf("ubustest: %v", err)
		}
		os.RemoveAll(dir)
	})
	return path
}

func (s *Server) listen(path string) error {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

func (s *Server) serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// DropConnections closes every client connection without stopping the
// server, the way a restarted broker would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Shutdown stops accepting, closes every connection and waits up to
// timeout for handlers to return.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.shutdown.Swap(true) {
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.cancel()
	s.DropConnections()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

type peerConn struct {
	net.Conn
	id      uint32
	writeMu sync.Mutex
}

func (c *peerConn) send(typ message.Type, seq uint16, peer uint32, body []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	header := protocol.Header{Type: byte(typ), Seq: seq, Peer: peer}
	return protocol.Encode(c.Conn, &header, body)
}

func (c *peerConn) status(seq uint16, status message.Status, objID uint32) error {
	body, err := message.NewStatus(status, objID)
	if err != nil {
		return err
	}
	return c.send(message.TypeStatus, seq, objID, body)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.mu.Lock()
	s.nextClient++
	pc := &peerConn{Conn: conn, id: s.nextClient}
	s.mu.Unlock()

	if err := pc.send(message.TypeHello, 0, pc.id, message.Empty()); err != nil {
		return
	}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		msg := &message.Message{
			Type: message.Type(header.Type),
			Seq:  header.Seq,
			Peer: header.Peer,
			Body: body,
		}
		switch msg.Type {
		case message.TypePing:
			err = pc.send(message.TypeData, msg.Seq, pc.id, message.Empty())
		case message.TypeLookup:
			s.lookups.Add(1)
			err = s.handleLookup(pc, msg)
		case message.TypeInvoke:
			s.invokes.Add(1)
			s.wg.Add(1)
			go s.handleInvoke(ctx, pc, msg)
		default:
			err = pc.status(msg.Seq, message.StatusInvalidCommand, 0)
		}
		if err != nil {
			s.logger.Debug("write failed", zap.Uint32("client", pc.id), zap.Error(err))
			return
		}
	}
}

func (s *Server) matching(pattern string) []*object {
	s.mu.Lock()
	defer s.mu.Unlock()
	var objs []*object
	for _, obj := range s.objects {
		if obj.match(pattern) {
			objs = append(objs, obj)
		}
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].path < objs[j].path })
	return objs
}

func (s *Server) handleLookup(pc *peerConn, msg *message.Message) error {
	attrs, err := msg.Parse()
	if err != nil {
		return pc.status(msg.Seq, message.StatusInvalidArgument, 0)
	}
	pattern, _ := attrs.Str(message.AttrObjPath)

	objs := s.matching(pattern)
	for _, obj := range objs {
		sig, err := obj.signature()
		if err != nil {
			return err
		}
		top, err := codec.SplitContainer(sig)
		if err != nil {
			return err
		}
		b := codec.NewBuffer(0)
		b.PutString(uint8(message.AttrObjPath), obj.path)
		b.PutU32(uint8(message.AttrObjID), obj.id)
		b.PutU32(uint8(message.AttrObjType), obj.typeID)
		b.PutRaw(uint8(message.AttrSignature), top.Data())
		body, err := b.Bytes()
		if err != nil {
			return err
		}
		if err := pc.send(message.TypeData, msg.Seq, pc.id, body); err != nil {
			return err
		}
	}
	if len(objs) == 0 {
		return pc.status(msg.Seq, message.StatusNotFound, 0)
	}
	return pc.status(msg.Seq, message.StatusOK, 0)
}

func (s *Server) handleInvoke(ctx context.Context, pc *peerConn, msg *message.Message) {
	defer s.wg.Done()

	attrs, err := msg.Parse()
	if err != nil {
		pc.status(msg.Seq, message.StatusInvalidArgument, 0)
		return
	}
	objID, ok := attrs.U32(message.AttrObjID)
	if !ok {
		pc.status(msg.Seq, message.StatusInvalidArgument, 0)
		return
	}
	s.mu.Lock()
	obj, ok := s.byID[objID]
	s.mu.Unlock()
	if !ok {
		pc.status(msg.Seq, message.StatusNotFound, objID)
		return
	}
	name, _ := attrs.Str(message.AttrMethod)
	method, ok := obj.methods[name]
	if !ok {
		pc.status(msg.Seq, message.StatusMethodNotFound, objID)
		return
	}

	params := value.NewMap()
	if data, ok := attrs[message.AttrData]; ok {
		params, err = codec.DecodeTable(data.Data())
		if err != nil {
			pc.status(msg.Seq, message.StatusInvalidArgument, objID)
			return
		}
	}

	var (
		result *value.Map
		status = message.StatusOK
	)
	if method.Handler != nil {
		result, status = method.Handler(ctx, params)
	}
	if ctx.Err() != nil {
		return
	}

	for _, extra := range method.Preamble {
		if err := s.sendData(pc, msg.Seq, objID, extra); err != nil {
			return
		}
	}
	if method.RawReply != nil {
		b := codec.NewBuffer(0)
		b.PutU32(uint8(message.AttrObjID), objID)
		b.PutRaw(uint8(message.AttrData), method.RawReply)
		body, err := b.Bytes()
		if err != nil || pc.send(message.TypeData, msg.Seq, objID, body) != nil {
			return
		}
	} else if result != nil {
		if err := s.sendData(pc, msg.Seq, objID, result); err != nil {
			s.logger.Debug("reply failed", zap.String("object", obj.path), zap.String("method", name), zap.Error(err))
			return
		}
	}
	pc.status(msg.Seq, status, objID)
}

func (s *Server) sendData(pc *peerConn, seq uint16, objID uint32, result *value.Map) error {
	encoded, err := codec.Encode(result)
	if err != nil {
		return err
	}
	top, err := codec.SplitContainer(encoded)
	if err != nil {
		return err
	}
	b := codec.NewBuffer(0)
	b.PutU32(uint8(message.AttrObjID), objID)
	b.PutRaw(uint8(message.AttrData), top.Data())
	body, err := b.Bytes()
	if err != nil {
		return err
	}
	return pc.send(message.TypeData, seq, objID, body)
}
