//go:build linux

package tcpserve

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// poller wraps the epoll instance. It owns the epoll file descriptor and,
// through removeInterest, the registered sockets' descriptors.
//
// None of the methods retain caller memory beyond the duration of a call.
type poller struct {
	log    *logiface.Logger[logiface.Event]
	epfd   int
	closed bool
}

// newPoller creates an epoll instance with close-on-exec semantics.
//
// The fresh descriptor is validated with a benign fcntl(F_GETFD) query and
// closed again if that fails, so a half-initialized poller never leaks.
func newPoller(log *logiface.Logger[logiface.Event]) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("tcpserve: epoll_create1: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(epfd), unix.F_GETFD, 0); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("tcpserve: validate epoll fd %d: %w", epfd, err)
	}
	return &poller{log: log, epfd: epfd}, nil
}

// addInterest registers fd with the given mask and token.
func (p *poller) addInterest(fd int, mask uint32, token uint64) error {
	return p.control(unix.EPOLL_CTL_ADD, fd, mask, token)
}

// modifyInterest replaces the mask and token registered for fd. The fd must
// already be registered.
func (p *poller) modifyInterest(fd int, mask uint32, token uint64) error {
	return p.control(unix.EPOLL_CTL_MOD, fd, mask, token)
}

// removeInterest drops fd from the interest set and closes it. Close errors
// are logged and swallowed; the descriptor is unusable either way.
func (p *poller) removeInterest(fd int) error {
	err := p.control(unix.EPOLL_CTL_DEL, fd, 0, 0)
	if cerr := unix.Close(fd); cerr != nil {
		p.log.Err().Err(cerr).Int("fd", fd).Log("close after deregister failed")
	}
	return err
}

func (p *poller) control(op int, fd int, mask uint32, token uint64) error {
	if p.closed {
		return ErrPollerClosed
	}
	if fd < 0 {
		return fmt.Errorf("tcpserve: epoll_ctl fd %d: %w", fd, unix.EBADF)
	}
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		e := newEvent(mask, token)
		ev = &e
	}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("tcpserve: epoll_ctl op %d fd %d: %w", op, fd, err)
	}
	return nil
}

// wait blocks up to timeoutMs (indefinitely if negative) and fills batch with
// ready events, returning how many were written. An interrupted wait returns
// zero events rather than an error.
func (p *poller) wait(batch []unix.EpollEvent, timeoutMs int) (int, error) {
	if p.closed {
		return 0, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, batch, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("tcpserve: epoll_wait: %w", err)
	}
	// The kernel must respect the advertised capacity.
	if n > len(batch) {
		return 0, fmt.Errorf("%w: got %d, capacity %d: %w", ErrEventBatchOverflow, n, len(batch), unix.EINVAL)
	}
	return n, nil
}

// close releases the epoll descriptor itself. Registered sockets are closed
// via removeInterest, not here.
func (p *poller) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := unix.Close(p.epfd); err != nil {
		return fmt.Errorf("tcpserve: close epoll fd %d: %w", p.epfd, err)
	}
	return nil
}
