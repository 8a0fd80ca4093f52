// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"context"
	"sync"
)

// LoopBack is an in-process oracle: payloads are delivered back in
// submission order. Useful for single-server runs and tests.
type LoopBack struct {
	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
}

func NewLoopBack() *LoopBack {
	return &LoopBack{wake: make(chan struct{}, 1)}
}

// Order implements the Broadcast interface.
func (lb *LoopBack) Order(_ context.Context, payload []byte) error {
	lb.mu.Lock()
	lb.queue = append(lb.queue, append([]byte(nil), payload...))
	lb.mu.Unlock()

	select {
	case lb.wake <- struct{}{}:
	default:
	}
	return nil
}

// Deliver implements the Broadcast interface.
func (lb *LoopBack) Deliver(ctx context.Context) ([]byte, error) {
	for {
		lb.mu.Lock()
		if len(lb.queue) > 0 {
			payload := lb.queue[0]
			lb.queue = lb.queue[1:]
			pending := len(lb.queue) > 0
			lb.mu.Unlock()

			if pending {
				select {
				case lb.wake <- struct{}{}:
				default:
				}
			}
			return payload, nil
		}
		lb.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-lb.wake:
		}
	}
}
