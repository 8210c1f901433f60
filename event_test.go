//go:build linux

package tcpserve

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestEventTokenRoundTrip(t *testing.T) {
	for _, token := range []uint64{0, 1, 42, 1 << 31, 1<<32 - 1, 1 << 32, 1<<40 | 7, 1<<64 - 1} {
		ev := newEvent(evRead|evEdgeTrigger, token)
		if got := eventToken(&ev); got != token {
			t.Errorf("token %#x round-tripped to %#x", token, got)
		}
	}
}

func TestEventMaskPreserved(t *testing.T) {
	ev := newEvent(evRead|evWrite|evEdgeTrigger, 7)
	if ev.Events != evRead|evWrite|evEdgeTrigger {
		t.Errorf("unexpected mask %#x", ev.Events)
	}
}

func TestEventRoleDecoding(t *testing.T) {
	ev := newEvent(evRead, listenerToken)
	if role := eventRole(&ev); !role.isListener() {
		t.Errorf("token 0 decoded to %v, want listener", role)
	}

	ev = newEvent(evRead, 9)
	role := eventRole(&ev)
	if role.isListener() {
		t.Fatal("token 9 decoded to listener")
	}
	if role.connID() != 9 {
		t.Errorf("conn id = %d, want 9", role.connID())
	}
}

func TestEventMaskBitsMatchKernel(t *testing.T) {
	// The named bits must be the host kernel's exact values.
	if evRead != unix.EPOLLIN || evWrite != unix.EPOLLOUT {
		t.Fatal("read/write bits diverge from epoll")
	}
	if evEdgeTrigger != uint32(unix.EPOLLET) || evOneShot != uint32(unix.EPOLLONESHOT) {
		t.Fatal("trigger-mode bits diverge from epoll")
	}
	if evPeerClosed != unix.EPOLLRDHUP || evHangup != unix.EPOLLHUP || evError != unix.EPOLLERR {
		t.Fatal("disconnect bits diverge from epoll")
	}
}

func TestPeerRoleString(t *testing.T) {
	if got := roleListener.String(); got != "listener" {
		t.Errorf("listener role = %q", got)
	}
	if got := peerRole(3).String(); got != "client(3)" {
		t.Errorf("client role = %q", got)
	}
}
