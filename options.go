// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package tcpserve

import (
	"github.com/joeycumines/logiface"
)

// serverOptions holds configuration options for Server creation.
type serverOptions struct {
	logger       *logiface.Logger[logiface.Event]
	pollTimeout  int
	batchSize    int
	closeOnDrain bool
}

// --- Server Options ---

// Option configures a Server instance.
type Option interface {
	applyServer(*serverOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyServerFunc func(*serverOptions) error
}

func (o *optionImpl) applyServer(opts *serverOptions) error {
	return o.applyServerFunc(opts)
}

// WithPollTimeout sets the epoll wait timeout, in milliseconds. A negative
// value waits indefinitely. The default is 1000.
//
// The timeout bounds shutdown latency: the loop only observes
// [Server.Shutdown] between poll iterations.
func WithPollTimeout(ms int) Option {
	return &optionImpl{func(opts *serverOptions) error {
		opts.pollTimeout = ms
		return nil
	}}
}

// WithEventBatchSize sets the capacity of the per-iteration event batch.
// The default is 1024.
func WithEventBatchSize(n int) Option {
	return &optionImpl{func(opts *serverOptions) error {
		if n < 1 {
			return ErrInvalidBatchSize
		}
		opts.batchSize = n
		return nil
	}}
}

// WithCloseOnDrain makes the server tear a connection down as soon as its
// write queue fully drains. Intended for reply-then-close protocols such as
// HTTP with Connection: close. The teardown is the full disconnect path,
// including the handler's OnDisconnect callback.
func WithCloseOnDrain(enabled bool) Option {
	return &optionImpl{func(opts *serverOptions) error {
		opts.closeOnDrain = enabled
		return nil
	}}
}

// WithLogger sets the structured logger. The default (nil) disables logging;
// logiface treats a nil logger as a no-op.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *serverOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to serverOptions.
func resolveOptions(opts []Option) (*serverOptions, error) {
	cfg := &serverOptions{
		pollTimeout: 1000,
		batchSize:   1024,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyServer(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
