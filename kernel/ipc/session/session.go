package session

import (
	"sync/atomic"

	kernelerror "nucleus/kernel/error"
	"nucleus/kernel/handle"
	"nucleus/kernel/klog"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sched"
	"nucleus/kernel/sync"
)

var log = klog.For("session")

// Endpoint is the identity and resources one side of an IPC exchange
// operates with: its address space (for buffer remapping), its handle
// table (for handle copy/move) and its PID (for SendPID headers). It is
// the public counterpart of the package-private endpoint message.go
// operates on.
type Endpoint struct {
	Space   vmm.AddressSpace
	Handles *handle.Table
	PID     uint64
}

func (e Endpoint) toInternal() endpoint {
	return endpoint{Space: e.Space, Handles: e.Handles, PID: e.PID}
}

// core holds the shared state between a ServerSession/ClientSession pair,
// grounded on original_source's Session{internal, accepters, servercount}.
type core struct {
	lock          sync.Spinlock
	activeRequest *Request
	incoming      []*Request
	accepters     []*sched.ParkToken
	servercount   int32
}

// Request is a single in-flight client request, from the moment
// SendRequest enqueues it until Reply answers it.
type Request struct {
	from      endpoint
	msg       Message
	buffers   []Buffer
	answered  *sched.ParkToken
	result    Result
	resultErr *kernelerror.Error
}

// ClientSession is the handle a requesting process holds.
type ClientSession struct{ c *core }

// ServerSession is the handle a serving process holds.
type ServerSession struct{ c *core }

// Kind implements handle.Object.
func (*ClientSession) Kind() handle.Kind { return handle.KindClientSession }

// Kind implements handle.Object.
func (*ServerSession) Kind() handle.Kind { return handle.KindServerSession }

// NewPair creates a connected ServerSession/ClientSession pair, the
// session-side analogue of a completed port accept().
func NewPair() (*ServerSession, *ClientSession) {
	c := &core{servercount: 1}
	return &ServerSession{c}, &ClientSession{c}
}

func popAccepterLocked(c *core) *sched.ParkToken {
	if len(c.accepters) == 0 {
		return nil
	}
	tok := c.accepters[0]
	c.accepters = c.accepters[1:]
	return tok
}

// SendRequest enqueues msg and blocks until a server thread replies,
// returning the reply's Result. Fails fast with an IPCError
// (PortRemoteDead at the userspace boundary) if the last ServerSession has
// already gone away.
func (s *ClientSession) SendRequest(from Endpoint, msg Message) (Result, *kernelerror.Error) {
	fep := from.toInternal()

	s.c.lock.Acquire()
	if atomic.LoadInt32(&s.c.servercount) == 0 {
		s.c.lock.Release()
		return Result{}, kernelerror.New(kernelerror.IPCError, "session has no server")
	}

	req := &Request{from: fep, msg: msg, answered: sched.NewParkToken()}
	s.c.incoming = append(s.c.incoming, req)
	accepter := popAccepterLocked(s.c)
	s.c.lock.Release()

	if accepter != nil {
		accepter.Wake()
	}

	req.answered.Unschedule()
	return req.result, req.resultErr
}

// Receive waits for the next request (or picks up one already queued) and
// maps its data/buffers/handles into `to`. The returned Request must be
// passed to Reply once the server is done handling it.
func (s *ServerSession) Receive(to Endpoint, cb cBufBehavior) (*Request, Result, *kernelerror.Error) {
	tep := to.toInternal()

	for {
		s.c.lock.Acquire()
		if s.c.activeRequest == nil && len(s.c.incoming) > 0 {
			s.c.activeRequest = s.c.incoming[0]
			s.c.incoming = s.c.incoming[1:]
		}
		req := s.c.activeRequest
		if req == nil {
			tok := sched.NewParkToken()
			s.c.accepters = append(s.c.accepters, tok)
			s.c.lock.Release()
			tok.Unschedule()
			continue
		}
		s.c.lock.Release()

		result, buffers, err := passMessage(req.from, tep, req.msg, false, cb)
		if err != nil {
			return nil, Result{}, err
		}
		req.buffers = buffers
		log.WithField("type", req.msg.Type).Debug("received request")
		return req, result, nil
	}
}

// Reply answers req with msg, unmaps any buffers Receive mapped for it,
// and wakes the client. Replying with a nil req (no active request) is an
// error rather than the panic the original performs — one of the
// documented fixes this implementation makes.
func (s *ServerSession) Reply(from Endpoint, req *Request, msg Message) *kernelerror.Error {
	if req == nil {
		return kernelerror.New(kernelerror.InvalidState, "no active request to reply to")
	}
	fep := from.toInternal()

	result, _, err := passMessage(fep, req.from, msg, true, cBufBehavior{kind: cBufDisabled})

	for _, b := range req.buffers {
		_ = bufUnmap(b)
	}

	s.c.lock.Acquire()
	if s.c.activeRequest == req {
		s.c.activeRequest = nil
	}
	s.c.lock.Release()

	if err != nil {
		req.resultErr = err
	} else {
		req.result = result
	}
	req.answered.Wake()
	return err
}

// Close releases this ServerSession. Once the last one is closed, every
// queued and active request fails with an IPCError and every waiting
// client is woken, matching the original's Drop-triggered session
// teardown.
func (s *ServerSession) Close() {
	if atomic.AddInt32(&s.c.servercount, -1) != 0 {
		return
	}

	s.c.lock.Acquire()
	pending := append([]*Request(nil), s.c.incoming...)
	if s.c.activeRequest != nil {
		pending = append(pending, s.c.activeRequest)
	}
	s.c.incoming = nil
	s.c.activeRequest = nil
	s.c.lock.Release()

	for _, req := range pending {
		req.resultErr = kernelerror.New(kernelerror.IPCError, "server session closed")
		req.answered.Wake()
	}
	log.Info("last server session closed, pending requests failed")
}

// Clone increments the server refcount, the analogue of cloning an
// Arc<Session>.
func (s *ServerSession) Clone() *ServerSession {
	atomic.AddInt32(&s.c.servercount, 1)
	return &ServerSession{s.c}
}

// IsSignaled implements sched.Waitable: a ServerSession is signaled once
// it has a request ready to receive.
func (s *ServerSession) IsSignaled() bool {
	s.c.lock.Acquire()
	defer s.c.lock.Release()
	if s.c.activeRequest == nil && len(s.c.incoming) > 0 {
		s.c.activeRequest = s.c.incoming[0]
		s.c.incoming = s.c.incoming[1:]
	}
	return s.c.activeRequest != nil
}

// AsServerSession type-asserts a handle object as a *ServerSession.
func AsServerSession(obj handle.Object) (*ServerSession, *kernelerror.Error) {
	s, ok := obj.(*ServerSession)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a server session")
	}
	return s, nil
}

// AsClientSession type-asserts a handle object as a *ClientSession.
func AsClientSession(obj handle.Object) (*ClientSession, *kernelerror.Error) {
	s, ok := obj.(*ClientSession)
	if !ok {
		return nil, kernelerror.New(kernelerror.InvalidHandle, "handle does not refer to a client session")
	}
	return s, nil
}
