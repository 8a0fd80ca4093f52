// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"net"
)

// Listener accepts inbound sessions.
type Listener struct {
	inner net.Listener
}

// Listen binds [address] and returns a session listener.
func Listen(address string) (*Listener, error) {
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{inner: inner}, nil
}

// Address returns the bound address, useful when listening on port 0.
func (l *Listener) Address() string {
	return l.inner.Addr().String()
}

// Accept blocks until the next inbound session. Cancelling [ctx] closes the
// listener and unblocks pending accepts.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.inner.Close()
	})
	defer stop()

	conn, err := l.inner.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return NewSession(conn), nil
}

// Close shuts the listener down.
func (l *Listener) Close() error {
	return l.inner.Close()
}
