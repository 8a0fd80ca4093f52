// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"github.com/Distributed-EPFL/pod/crypto"
)

// BroadcastStatement is what a client signs when it submits a message: the
// message itself, under the broadcast domain header.
type BroadcastStatement struct {
	message Message
}

func NewBroadcastStatement(message Message) BroadcastStatement {
	return BroadcastStatement{message: message}
}

func (BroadcastStatement) Header() crypto.Header {
	return crypto.HeaderBroadcast
}

// SizeHint implements the surge.SizeHinter interface.
func (s BroadcastStatement) SizeHint() int {
	return s.message.SizeHint()
}

// Marshal implements the surge.Marshaler interface.
func (s BroadcastStatement) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return s.message.Marshal(buf, rem)
}
