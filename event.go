//go:build linux

package tcpserve

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ConnID identifies an accepted connection for the lifetime of the server.
// IDs are assigned monotonically starting at 1; zero is reserved for the
// listening socket's epoll token.
type ConnID uint64

// Interest masks used by the server. These are the host kernel's epoll bit
// values, via x/sys.
const (
	evRead        = uint32(unix.EPOLLIN)
	evWrite       = uint32(unix.EPOLLOUT)
	evPeerClosed  = uint32(unix.EPOLLRDHUP)
	evHangup      = uint32(unix.EPOLLHUP)
	evError       = uint32(unix.EPOLLERR)
	evEdgeTrigger = uint32(unix.EPOLLET)
	evOneShot     = uint32(unix.EPOLLONESHOT)
)

// listenerToken is the reserved epoll_data_t value for the listening socket.
const listenerToken uint64 = 0

// peerRole is the decoded form of an event token: the listening socket
// (reserved zero) or a specific client connection.
type peerRole uint64

const roleListener peerRole = peerRole(listenerToken)

func (r peerRole) isListener() bool { return r == roleListener }

func (r peerRole) connID() ConnID { return ConnID(r) }

func (r peerRole) String() string {
	if r.isListener() {
		return "listener"
	}
	return fmt.Sprintf("client(%d)", uint64(r))
}

// newEvent builds the kernel epoll_event. unix.EpollEvent already matches the
// kernel ABI (including packing, per arch); the Fd and Pad fields together
// are the 64-bit epoll_data_t, used here as an opaque token.
func newEvent(mask uint32, token uint64) unix.EpollEvent {
	return unix.EpollEvent{
		Events: mask,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

// eventToken reassembles the 64-bit token from the Fd and Pad halves.
func eventToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// eventRole decodes the token into the listener/client variant.
func eventRole(ev *unix.EpollEvent) peerRole {
	return peerRole(eventToken(ev))
}
