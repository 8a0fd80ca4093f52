// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/luxfi/ids"
)

// Connector opens outbound sessions to servers addressed by identity.
type Connector interface {
	Connect(ctx context.Context, identity ids.ID) (*Session, error)
}

// TCPConnector dials servers through a static identity-to-address table.
type TCPConnector struct {
	mu        sync.RWMutex
	addresses map[ids.ID]string
}

// NewTCPConnector builds a connector over [addresses].
func NewTCPConnector(addresses map[ids.ID]string) *TCPConnector {
	table := make(map[ids.ID]string, len(addresses))
	for identity, address := range addresses {
		table[identity] = address
	}
	return &TCPConnector{addresses: table}
}

// Register adds or replaces the address of [identity].
func (c *TCPConnector) Register(identity ids.ID, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses[identity] = address
}

// Connect implements the Connector interface.
func (c *TCPConnector) Connect(ctx context.Context, identity ids.ID) (*Session, error) {
	c.mu.RLock()
	address, ok := c.addresses[identity]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no address for %s", identity)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewSession(conn), nil
}
