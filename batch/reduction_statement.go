// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/luxfi/ids"
)

// ReductionStatement is what the non-straggler signers of a batch jointly
// sign: the batch root, under the reduction domain header.
type ReductionStatement struct {
	root ids.ID
}

func NewReductionStatement(root ids.ID) ReductionStatement {
	return ReductionStatement{root: root}
}

func (ReductionStatement) Header() crypto.Header {
	return crypto.HeaderReduction
}

// SizeHint implements the surge.SizeHinter interface.
func (s ReductionStatement) SizeHint() int {
	return len(s.root)
}

// Marshal implements the surge.Marshaler interface.
func (s ReductionStatement) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return crypto.MarshalRaw(s.root[:], buf, rem)
}
