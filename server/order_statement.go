// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/luxfi/ids"
)

// OrderStatement is what a server signs after submitting a batch root to the
// total-order oracle: the root, under the order domain header.
type OrderStatement struct {
	root ids.ID
}

func NewOrderStatement(root ids.ID) OrderStatement {
	return OrderStatement{root: root}
}

func (OrderStatement) Header() crypto.Header {
	return crypto.HeaderOrder
}

// SizeHint implements the surge.SizeHinter interface.
func (s OrderStatement) SizeHint() int {
	return len(s.root)
}

// Marshal implements the surge.Marshaler interface.
func (s OrderStatement) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return crypto.MarshalRaw(s.root[:], buf, rem)
}
