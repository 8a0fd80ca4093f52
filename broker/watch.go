// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broker

import (
	"context"
	"sync"

	"github.com/Distributed-EPFL/pod/membership"
)

// certificateWatch fans one certificate out to every per-server task. It is
// a single-producer, multi-consumer latch: consumers block until a value is
// published, and observe it forever after.
type certificateWatch struct {
	once        sync.Once
	ready       chan struct{}
	certificate *membership.Certificate
}

func newCertificateWatch() *certificateWatch {
	return &certificateWatch{ready: make(chan struct{})}
}

func (w *certificateWatch) publish(certificate *membership.Certificate) {
	w.once.Do(func() {
		w.certificate = certificate
		close(w.ready)
	})
}

func (w *certificateWatch) wait(ctx context.Context) (*membership.Certificate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ready:
		return w.certificate, nil
	}
}
