//go:build linux

package tcpserve

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// initialReadBufferSize is the starting capacity of a connection's read
// accumulator.
const initialReadBufferSize = 16 * 1024

// readChunkSize is the size of the scratch buffer used to drain a socket.
const readChunkSize = 4096

// writeStatus is the outcome of a flushWrites call.
type writeStatus int

const (
	// writeDrained means the queue is empty and no partial send remains.
	writeDrained writeStatus = iota
	// writeWouldBlock means the socket refused further bytes for now.
	writeWouldBlock
	// writeFailed means the connection is broken.
	writeFailed
)

// readStatus is the outcome of a readToQuiescence call.
type readStatus int

const (
	// readDrained means the kernel has no more bytes until the next
	// readiness change.
	readDrained readStatus = iota
	// readPeerClosed means the peer closed its end (zero-byte read).
	readPeerClosed
	// readFailed means the connection is broken.
	readFailed
)

// connState holds everything the server tracks per accepted connection: the
// owned non-blocking socket, the read accumulator, the outbound queue with
// the currently-draining buffer and its offset, and the interest mask last
// registered with the poller.
//
// Invariants: at most one active buffer; while present its offset is less
// than its length; interests include read-readiness for the connection's
// whole life, and write-readiness exactly while hasPendingWrites.
type connState struct {
	remote     net.Addr
	readBuf    []byte
	writeQueue [][]byte
	active     []byte
	activeOff  int
	interests  uint32
	fd         int
}

func newConnState(fd int, remote net.Addr) *connState {
	return &connState{
		fd:      fd,
		remote:  remote,
		readBuf: make([]byte, 0, initialReadBufferSize),
	}
}

// queueWrite appends b to the tail of the write queue. Never blocks.
func (c *connState) queueWrite(b []byte) {
	c.writeQueue = append(c.writeQueue, b)
}

// hasPendingWrites reports whether any outbound bytes remain.
func (c *connState) hasPendingWrites() bool {
	return len(c.writeQueue) > 0 || c.active != nil
}

// readToQuiescence drains the socket into the read accumulator. Under
// edge-triggered notification the loop must continue until the socket
// reports would-block or the peer closes; stopping early loses the
// notification.
func (c *connState) readToQuiescence(scratch []byte) (readStatus, error) {
	for {
		n, err := unix.Read(c.fd, scratch)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return readDrained, nil
		case err != nil:
			return readFailed, fmt.Errorf("tcpserve: read fd %d: %w", c.fd, err)
		case n == 0:
			return readPeerClosed, nil
		}
		c.readBuf = append(c.readBuf, scratch[:n]...)
	}
}

// flushWrites pushes queued bytes to the socket until everything is out or
// the socket refuses more. Partial progress is preserved across calls: a
// buffer interrupted mid-send stays active with its offset, so repeated
// calls without new socket readiness progress zero bytes and report
// would-block again.
//
// A zero-byte write is treated as a broken pipe.
func (c *connState) flushWrites() (writeStatus, error) {
	for {
		if c.active == nil {
			if len(c.writeQueue) == 0 {
				return writeDrained, nil
			}
			c.active = c.writeQueue[0]
			c.activeOff = 0
			c.writeQueue = c.writeQueue[1:]
			if len(c.active) == 0 {
				// Nothing to send; an empty slice must not reach the
				// zero-byte-write check below.
				c.active = nil
				continue
			}
		}
		n, err := unix.Write(c.fd, c.active[c.activeOff:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return writeWouldBlock, nil
		case err != nil:
			return writeFailed, fmt.Errorf("tcpserve: write fd %d: %w", c.fd, err)
		case n == 0:
			return writeFailed, fmt.Errorf("tcpserve: write fd %d: %w", c.fd, unix.EPIPE)
		}
		c.activeOff += n
		if c.activeOff == len(c.active) {
			c.active = nil
			c.activeOff = 0
		}
	}
}

// currentInterests reflects the mask last registered with the poller for
// this connection's descriptor.
func (c *connState) currentInterests() uint32 {
	return c.interests
}
