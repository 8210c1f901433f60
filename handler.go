package tcpserve

import (
	"net"
)

// Handler describes an application to the server: connection lifecycle,
// message framing, and response intent.
//
// All callbacks run inline on the loop goroutine and must not block.
type Handler interface {
	// OnConnection is invoked once per accepted connection, before the
	// connection is registered for events. It is informational; a returned
	// error is logged and the connection proceeds.
	OnConnection(id ConnID, info *ConnInfo) error

	// IsDataComplete reports whether the accumulated bytes constitute
	// exactly one complete application message. Framing is entirely the
	// handler's responsibility. The function must be pure over data:
	// idempotent and side-effect-free.
	IsDataComplete(data []byte) bool

	// OnMessage is invoked exactly once per completed message. The returned
	// Action decides what, if anything, gets written and to whom. A returned
	// error disconnects the originating connection.
	//
	// data is the server's accumulator and is reused after the call; the
	// handler must copy it to retain it.
	OnMessage(id ConnID, data []byte) (Action, error)

	// OnDisconnect is invoked exactly once per connection after teardown
	// begins. A returned error is logged, not propagated.
	OnDisconnect(id ConnID) error
}

// ConnInfo is a read-only view of an accepted connection, passed to
// OnConnection.
type ConnInfo struct {
	remoteAddr net.Addr
	localAddr  net.Addr
}

// RemoteAddr returns the peer's address.
func (c *ConnInfo) RemoteAddr() net.Addr { return c.remoteAddr }

// LocalAddr returns the server's bound address.
func (c *ConnInfo) LocalAddr() net.Addr { return c.localAddr }

type actionKind int

const (
	actionNone actionKind = iota
	actionReply
	actionBroadcast
	actionSendTo
	actionSendToAll
)

// Action is a handler's response intent for one completed message. The zero
// value means no output.
type Action struct {
	data   []byte
	target ConnID
	kind   actionKind
}

// Reply enqueues data on the originating connection.
func Reply(data []byte) Action {
	return Action{kind: actionReply, data: data}
}

// Broadcast enqueues data on every connection except the originator.
func Broadcast(data []byte) Action {
	return Action{kind: actionBroadcast, data: data}
}

// SendTo enqueues data on the target connection. If the target is no longer
// connected the action is silently dropped.
func SendTo(target ConnID, data []byte) Action {
	return Action{kind: actionSendTo, target: target, data: data}
}

// SendToAll enqueues data on every connection, the originator included.
func SendToAll(data []byte) Action {
	return Action{kind: actionSendToAll, data: data}
}
