//go:build linux

package tcpserve

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// Server is a single-threaded TCP server multiplexed over epoll. It owns the
// listening socket, the epoll instance, and every accepted connection.
//
// Construct with [New], drive with [Server.Run], stop with [Server.Shutdown],
// release with [Server.Close].
type Server struct {
	log       *logiface.Logger[logiface.Event]
	handler   Handler
	poller    *poller
	conns     map[ConnID]*connState
	localAddr net.Addr
	scratch   []byte
	opts      serverOptions
	nextID    uint64
	listenFD  int
	shutdown  atomic.Bool
}

// New binds a listening socket to addr (any "host:port" form accepted by
// net.ResolveTCPAddr, including port 0), sets it non-blocking, and creates
// the epoll instance. The handler must be non-nil.
func New(addr string, handler Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("tcpserve: nil handler")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	fd, local, err := listenTCP(addr)
	if err != nil {
		return nil, err
	}

	p, err := newPoller(cfg.logger)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &Server{
		log:       cfg.logger,
		handler:   handler,
		poller:    p,
		conns:     make(map[ConnID]*connState),
		localAddr: local,
		scratch:   make([]byte, readChunkSize),
		opts:      *cfg,
		listenFD:  fd,
	}, nil
}

// LocalAddr returns the bound listener address. Useful with port 0.
func (s *Server) LocalAddr() net.Addr {
	return s.localAddr
}

// Shutdown requests loop termination. Safe to call from any goroutine, any
// number of times; the loop exits after its current iteration, tearing down
// every connection, and Run returns nil.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
}

// Run enters the event loop. It returns nil on clean shutdown and surfaces
// fatal errors (listener registration, epoll wait) with the underlying errno
// preserved.
func (s *Server) Run() error {
	if s.listenFD < 0 {
		return ErrServerClosed
	}

	s.log.Info().Str("addr", s.localAddr.String()).Log("server listening")

	if err := s.poller.addInterest(s.listenFD, evRead|evEdgeTrigger, listenerToken); err != nil {
		return err
	}

	batch := make([]unix.EpollEvent, s.opts.batchSize)
	for !s.shutdown.Load() {
		n, err := s.poller.wait(batch, s.opts.pollTimeout)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			s.dispatch(&batch[i])
		}
	}

	s.log.Info().Int("conns", len(s.conns)).Log("server shutting down")
	for id := range s.conns {
		s.teardown(id)
	}
	return nil
}

// Close releases the listener and the epoll instance, closing any still-
// registered descriptors with them. Not safe to call concurrently with Run;
// signal Run to exit via Shutdown first.
func (s *Server) Close() error {
	s.shutdown.Store(true)
	for id := range s.conns {
		s.teardown(id)
	}
	var err error
	if s.listenFD >= 0 {
		err = unix.Close(s.listenFD)
		s.listenFD = -1
	}
	if perr := s.poller.close(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// dispatch routes one kernel event by its decoded role.
func (s *Server) dispatch(ev *unix.EpollEvent) {
	role := eventRole(ev)
	if role.isListener() {
		s.acceptPending()
		return
	}

	id := role.connID()
	c, ok := s.conns[id]
	if !ok {
		// Stale event for a connection torn down earlier in this batch.
		s.log.Debug().Uint64("conn", uint64(id)).Log("event for unknown connection ignored")
		return
	}

	mask := ev.Events
	disconnect := false
	if mask&evRead != 0 {
		disconnect = s.handleReadable(id, c)
	}
	if !disconnect && mask&evWrite != 0 {
		disconnect = s.handleWritable(id, c)
	}
	if !disconnect && mask&(evRead|evWrite) == 0 {
		// Hangup, error, or an unexpected combination: disconnection is the
		// safe default.
		s.log.Debug().Uint64("conn", uint64(id)).Uint64("mask", uint64(mask)).Log("disconnecting on event mask")
		disconnect = true
	}
	if disconnect {
		s.teardown(id)
	}
}

// acceptPending drains the listener. The listener is edge-triggered, so
// stopping before would-block loses the notification.
func (s *Server) acceptPending() {
	for {
		fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err == unix.ECONNABORTED:
			// Peer gave up between SYN and accept. Transient.
			continue
		case err != nil:
			s.log.Err().Err(err).Log("accept failed")
			return
		}

		id := s.assignConnID()
		remote := sockaddrToTCP(sa)
		s.log.Info().Uint64("conn", uint64(id)).Int("fd", fd).Str("remote", addrString(remote)).Log("connection accepted")

		if err := s.handler.OnConnection(id, &ConnInfo{remoteAddr: remote, localAddr: s.localAddr}); err != nil {
			s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("handler OnConnection failed")
		}

		mask := evRead | evEdgeTrigger
		if err := s.poller.addInterest(fd, mask, uint64(id)); err != nil {
			// This connection is rejected; the loop continues.
			s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("register failed, rejecting connection")
			_ = unix.Close(fd)
			if err := s.handler.OnDisconnect(id); err != nil {
				s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("handler OnDisconnect failed")
			}
			continue
		}

		c := newConnState(fd, remote)
		c.interests = mask
		s.conns[id] = c
	}
}

// handleReadable drains the socket, then feeds any complete message to the
// handler. Reports whether the connection must be torn down.
func (s *Server) handleReadable(id ConnID, c *connState) bool {
	st, err := c.readToQuiescence(s.scratch)
	switch st {
	case readPeerClosed:
		s.log.Debug().Uint64("conn", uint64(id)).Log("peer closed")
		return true
	case readFailed:
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("read failed")
		return true
	}

	if len(c.readBuf) == 0 || !s.handler.IsDataComplete(c.readBuf) {
		return false
	}

	action, err := s.handler.OnMessage(id, c.readBuf)
	if err != nil {
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("handler OnMessage failed")
		return true
	}
	c.readBuf = c.readBuf[:0]
	s.applyAction(id, action)
	return false
}

// handleWritable flushes the queue. Reports whether the connection must be
// torn down.
func (s *Server) handleWritable(id ConnID, c *connState) bool {
	st, err := c.flushWrites()
	switch st {
	case writeDrained:
		if s.opts.closeOnDrain {
			s.log.Debug().Uint64("conn", uint64(id)).Log("write queue drained, closing")
			return true
		}
		s.updateInterests(id, c)
	case writeWouldBlock:
		// Write interest stays; the kernel will notify again.
	case writeFailed:
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("write failed")
		return true
	}
	return false
}

// applyAction translates a handler action into queued writes. Each
// connection whose queue transitions from empty to non-empty gains write
// interest. Multi-recipient payloads are cloned per recipient, so one
// consumer's send offset never aliases another's.
func (s *Server) applyAction(origin ConnID, action Action) {
	switch action.kind {
	case actionNone:
	case actionReply:
		s.enqueue(origin, action.data)
	case actionBroadcast:
		for id := range s.conns {
			if id != origin {
				s.enqueue(id, cloneBytes(action.data))
			}
		}
	case actionSendTo:
		if _, ok := s.conns[action.target]; ok {
			s.enqueue(action.target, action.data)
		}
	case actionSendToAll:
		for id := range s.conns {
			s.enqueue(id, cloneBytes(action.data))
		}
	}
}

func (s *Server) enqueue(id ConnID, data []byte) {
	c, ok := s.conns[id]
	if !ok || len(data) == 0 {
		return
	}
	wasIdle := !c.hasPendingWrites()
	c.queueWrite(data)
	if wasIdle {
		s.updateInterests(id, c)
	}
}

// updateInterests reconciles the connection's registered mask with its
// pending-writes state: read + edge-trigger always, write-readiness iff
// bytes are waiting.
func (s *Server) updateInterests(id ConnID, c *connState) {
	mask := evRead | evEdgeTrigger
	if c.hasPendingWrites() {
		mask |= evWrite
	}
	if mask == c.interests {
		return
	}
	if err := s.poller.modifyInterest(c.fd, mask, uint64(id)); err != nil {
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("modify interest failed")
		return
	}
	c.interests = mask
}

// teardown removes the connection from the map, deregisters and closes its
// descriptor, and notifies the handler. This is the only place the descriptor
// of a connection in the map is closed, which is what prevents double-close.
func (s *Server) teardown(id ConnID) {
	c, ok := s.conns[id]
	if !ok {
		return
	}
	delete(s.conns, id)
	if err := s.poller.removeInterest(c.fd); err != nil {
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("deregister failed")
	}
	c.fd = -1
	if err := s.handler.OnDisconnect(id); err != nil {
		s.log.Err().Err(err).Uint64("conn", uint64(id)).Log("handler OnDisconnect failed")
	}
	s.log.Info().Uint64("conn", uint64(id)).Str("remote", addrString(c.remote)).Log("connection closed")
}

func (s *Server) assignConnID() ConnID {
	s.nextID++
	return ConnID(s.nextID)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// listenTCP resolves addr, then creates, binds, and listens a non-blocking
// close-on-exec TCP socket. Returns the descriptor and the actually-bound
// address.
func listenTCP(addr string) (int, net.Addr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, fmt.Errorf("tcpserve: resolve %q: %w", addr, err)
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ta.IP.To4(); ip4 != nil || len(ta.IP) == 0 {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("tcpserve: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("tcpserve: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("tcpserve: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("tcpserve: listen %s: %w", addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return -1, nil, fmt.Errorf("tcpserve: getsockname: %w", err)
	}
	return fd, sockaddrToTCP(bound), nil
}

func sockaddrToTCP(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
	}
	return nil
}
