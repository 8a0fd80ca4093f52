// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcast abstracts the external total-order primitive the servers
// delegate ordering to, together with adapters for the supported backends.
package broadcast

import (
	"context"
)

// Broadcast is a Byzantine atomic broadcast oracle. Implementations must be
// safe for concurrent use.
type Broadcast interface {
	// Order atomically enqueues [payload] into the group's total order.
	Order(ctx context.Context, payload []byte) error

	// Deliver blocks until the next payload is totally ordered. Delivery is
	// strictly FIFO with respect to the established order.
	Deliver(ctx context.Context) ([]byte, error)
}
