package tcpserve

import (
	"errors"
)

// Standard errors.
var (
	// ErrPollerClosed indicates use of the epoll facade after close.
	ErrPollerClosed = errors.New("tcpserve: poller closed")
	// ErrEventBatchOverflow indicates the kernel reported more ready events
	// than the batch capacity. This should be impossible and is fatal.
	ErrEventBatchOverflow = errors.New("tcpserve: kernel returned more events than requested")
	// ErrServerClosed indicates use of a server after Close.
	ErrServerClosed = errors.New("tcpserve: server closed")
	// ErrInvalidBatchSize is returned by WithEventBatchSize for sizes < 1.
	ErrInvalidBatchSize = errors.New("tcpserve: event batch size must be at least 1")
)
