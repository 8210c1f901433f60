// Package tcpserve provides a single-threaded, callback-driven TCP server
// built directly on Linux epoll.
//
// # Architecture
//
// A [Server] owns the listening socket, an epoll instance, and the full set
// of accepted connections. The application supplies a [Handler] describing
// connection lifecycle, message framing, and response intent; the server owns
// the accept loop, non-blocking I/O, event registration, and write
// scheduling.
//
// All sockets are edge-triggered: the server drains reads and accepts to
// quiescence on every notification, and toggles write interest per
// connection as its outbound queue empties and fills.
//
// # Thread Safety
//
// One goroutine runs [Server.Run]; it is the sole mutator of the connection
// table, the handler, and all per-connection state, so none of that data is
// locked. [Server.Shutdown] is the only cross-goroutine touchpoint and may be
// called from anywhere (for example a signal handler); the loop observes it
// between poll iterations.
//
// Handler callbacks run inline on the loop goroutine and must not block —
// blocking one stalls every other connection.
//
// # Usage
//
//	srv, err := tcpserve.New("127.0.0.1:8080", handler)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//
//	go func() {
//	    <-interrupted
//	    srv.Shutdown()
//	}()
//
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Errors
//
// Syscall failures are wrapped with %w so the underlying [unix.Errno]
// survives for errors.Is. One connection's failure only ever tears down that
// connection; fatal conditions (epoll wait failure, [ErrEventBatchOverflow])
// surface out of [Server.Run].
package tcpserve
