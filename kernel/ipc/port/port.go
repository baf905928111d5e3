// Package port implements IPC ports: the rendezvous primitive a server
// publishes a handle to and clients connect against, each connection
// handed off as a freshly created session pair. Grounded on
// original_source/kernel/src/ipc/port.rs.
package port

import (
	"sync/atomic"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/ipc/session"
	"nucleus/kernel/klog"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
)

var log = klog.For("port")

// incomingConnection is one pending Connect() call, queued until a server
// thread accepts it. client is filled in by Accept with the session the
// connecting client should use.
type incomingConnection struct {
	mu          sync.Spinlock
	client      *session.ClientSession
	ready       bool
	connectorTok *sched.ParkToken
}

// core is the shared state between every ServerPort/ClientPort clone of
// the same port, mirroring original_source's Port{incoming_connections,
// accepters, servercount}.
type core struct {
	lock        sync.Spinlock
	incoming    []*incomingConnection
	accepters   []*sched.ParkToken
	servercount int32
}

// ServerPort is the handle the publishing process holds.
type ServerPort struct{ c *core }

// ClientPort is the handle a connecting process holds.
type ClientPort struct{ c *core }

// Kind implements handle.Object.
func (*ServerPort) Kind() handle.Kind { return handle.KindServerPort }

// Kind implements handle.Object.
func (*ClientPort) Kind() handle.Kind { return handle.KindClientPort }

// NewPair creates a connected ServerPort/ClientPort pair.
func NewPair() (*ServerPort, *ClientPort) {
	c := &core{servercount: 1}
	return &ServerPort{c}, &ClientPort{c}
}

func popAccepterLocked(c *core) *sched.ParkToken {
	if len(c.accepters) == 0 {
		return nil
	}
	tok := c.accepters[0]
	c.accepters = c.accepters[1:]
	return tok
}

// Connect rendezvous with a server thread blocked in Accept and returns a
// freshly created ClientSession once one has accepted. Fails fast with an
// IPCError if the last ServerPort has already gone away.
func (p *ClientPort) Connect() (*session.ClientSession, *kernelerror.Error) {
	if atomic.LoadInt32(&p.c.servercount) == 0 {
		return nil, kernelerror.New(kernelerror.IPCError, "port has no server")
	}

	conn := &incomingConnection{connectorTok: sched.NewParkToken()}

	p.c.lock.Acquire()
	if atomic.LoadInt32(&p.c.servercount) == 0 {
		p.c.lock.Release()
		return nil, kernelerror.New(kernelerror.IPCError, "port has no server")
	}
	p.c.incoming = append(p.c.incoming, conn)
	accepter := popAccepterLocked(p.c)
	p.c.lock.Release()

	if accepter != nil {
		accepter.Wake()
	}

	conn.connectorTok.Unschedule()

	conn.mu.Acquire()
	defer conn.mu.Release()
	if !conn.ready {
		return nil, kernelerror.New(kernelerror.IPCError, "port closed before connection was accepted")
	}
	return conn.client, nil
}

// Accept pops the most recently queued connection (LIFO, matching the
// original's Vec::pop) or blocks until one arrives, creates a fresh
// session pair for it, hands the ClientSession back to the waiting
// connector and returns the ServerSession.
func (p *ServerPort) Accept() (*session.ServerSession, *kernelerror.Error) {
	for {
		p.c.lock.Acquire()
		var conn *incomingConnection
		if n := len(p.c.incoming); n > 0 {
			conn = p.c.incoming[n-1]
			p.c.incoming = p.c.incoming[:n-1]
		}
		if conn == nil {
			tok := sched.NewParkToken()
			p.c.accepters = append(p.c.accepters, tok)
			p.c.lock.Release()
			tok.Unschedule()
			continue
		}
		p.c.lock.Release()

		serverSession, clientSession := session.NewPair()

		conn.mu.Acquire()
		conn.client = clientSession
		conn.ready = true
		conn.mu.Release()
		conn.connectorTok.Wake()

		log.Debug("accepted connection")
		return serverSession, nil
	}
}

// Close releases this ServerPort. Once the last one is closed, every
// queued and future connector fails with an IPCError, matching the
// original's Drop-triggered port teardown (PortRemoteDead at the
// userspace boundary).
func (p *ServerPort) Close() {
	if atomic.AddInt32(&p.c.servercount, -1) != 0 {
		return
	}

	p.c.lock.Acquire()
	pending := p.c.incoming
	p.c.incoming = nil
	p.c.lock.Release()

	for _, conn := range pending {
		conn.mu.Acquire()
		conn.ready = false
		conn.mu.Release()
		conn.connectorTok.Wake()
	}
	log.Info("last server port closed, pending connections failed")
}

// Clone increments the server refcount, the analogue of cloning an
// Arc<Port>.
func (p *ServerPort) Clone() *ServerPort {
	atomic.AddInt32(&p.c.servercount, 1)
	return &ServerPort{p.c}
}

// IsSignaled implements sched.Waitable: a ServerPort is signaled once it
// has a connection ready to accept.
func (p *ServerPort) IsSignaled() bool {
	p.c.lock.Acquire()
	defer p.c.lock.Release()
	return len(p.c.incoming) > 0
}

// AsServerPort type-asserts a handle object as a *ServerPort.
func AsServerPort(obj handle.Object) (*ServerPort, *kernelerror.Error) {
	p, ok := obj.(*ServerPort)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a server port")
	}
	return p, nil
}

// AsClientPort type-asserts a handle object as a *ClientPort.
func AsClientPort(obj handle.Object) (*ClientPort, *kernelerror.Error) {
	p, ok := obj.(*ClientPort)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a client port")
	}
	return p, nil
}
