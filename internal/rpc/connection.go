package rpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes an incoming call and returns a reply payload or an
// error. Registered per method name on a Conn.
type Handler func(data []byte) (interface{}, error)

// Conn is a bidirectional RPC connection: it can issue synchronous Call
// requests and answers incoming ones from the moment Dial or Accept
// returns it; Serve only blocks until the connection closes. This collapses
// the teacher's MessageConnection (comms/tcp_connection.go) plus its never
// -implemented SendReceive into one synchronous request/response layer.
type Conn struct {
	netConn net.Conn
	enc     Encoder

	nextCallID uint64

	// sendMu serializes every Envelope written to enc. Call (issuing an
	// outbound call) and dispatch (replying to an inbound one, from its
	// own goroutine per readLoop) both write to the same underlying
	// framer; without this, their writes can interleave mid-message and
	// corrupt the length-prefix framing for both.
	sendMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan Envelope
	closed  bool
	closeCh chan struct{}

	handlers map[string]Handler
}

// Dial connects to address and wraps the connection with the given
// EncoderFactory (GobEncoderFactory or JSONEncoderFactory).
func Dial(address string, factory EncoderFactory, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	nc, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s failed, %w", address, err)
	}
	return newConn(nc, factory), nil
}

func newConn(nc net.Conn, factory EncoderFactory) *Conn {
	c := &Conn{
		netConn:  nc,
		enc:      factory(NewPreLengthFramer(nc)),
		pending:  make(map[uint64]chan Envelope),
		handlers: make(map[string]Handler),
		closeCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Handle registers a handler for an incoming call method. Must be called
// before the peer can issue that call; typically set up immediately after
// Accept/Dial before any traffic flows.
func (c *Conn) Handle(method string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
}

// Call issues a synchronous RPC: it blocks until the peer answers or the
// connection fails. Per spec.md §6, transport failure on a Call is the
// caller's signal to retry-once-then-abort (agent calling master) or to
// treat the agent as dead (master calling agent).
func (c *Conn) Call(method string, req interface{}, resp interface{}) error {
	payload, err := marshalPayload(req)
	if err != nil {
		return err
	}

	callID := atomic.AddUint64(&c.nextCallID, 1)
	replyCh := make(chan Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("rpc: connection closed")
	}
	c.pending[callID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, callID)
		c.mu.Unlock()
	}()

	c.sendMu.Lock()
	err = c.enc.Send(Envelope{Method: method, CallID: callID, IsCall: true, Data: payload})
	c.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("rpc: send %s failed, %w", method, err)
	}

	reply, ok := <-replyCh
	if !ok {
		return fmt.Errorf("rpc: connection closed while awaiting %s", method)
	}
	if reply.Error != "" {
		return fmt.Errorf("rpc: %s failed on peer, %s", method, reply.Error)
	}
	if resp != nil {
		return unmarshalPayload(reply.Data, resp)
	}
	return nil
}

// Close shuts down the connection and wakes any pending Call waiters.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.closeCh)
	c.mu.Unlock()
	return c.netConn.Close()
}

// Serve blocks, dispatching incoming calls to registered handlers (started
// automatically by Dial/Accept), until the connection is closed or a read
// error occurs.
func (c *Conn) Serve() error {
	<-c.closeCh
	return nil
}

func (c *Conn) readLoop() {
	for {
		env, err := c.enc.Receive()
		if err != nil {
			c.Close()
			return
		}

		if env.IsCall {
			go c.dispatch(env)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.CallID]
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (c *Conn) dispatch(env Envelope) {
	c.mu.Lock()
	h, ok := c.handlers[env.Method]
	c.mu.Unlock()

	reply := Envelope{Method: env.Method, CallID: env.CallID, IsCall: false}
	if !ok {
		reply.Error = fmt.Sprintf("no handler registered for method %q", env.Method)
	} else {
		result, err := h(env.Data)
		if err != nil {
			reply.Error = err.Error()
		} else {
			data, encErr := marshalPayload(result)
			if encErr != nil {
				reply.Error = encErr.Error()
			} else {
				reply.Data = data
			}
		}
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.sendMu.Lock()
	c.enc.Send(reply)
	c.sendMu.Unlock()
}

// Listener accepts incoming RPC connections.
type Listener struct {
	net.Listener
	factory EncoderFactory
}

// Listen starts listening for RPC connections on address.
func Listen(address string, factory EncoderFactory) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s failed, %w", address, err)
	}
	return &Listener{Listener: ln, factory: factory}, nil
}

// Accept blocks until a new Conn is available.
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newConn(nc, l.factory), nil
}
