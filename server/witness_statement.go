// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/luxfi/ids"
)

// WitnessStatement is what a server signs to endorse a batch root it holds:
// the root, under the witness domain header.
type WitnessStatement struct {
	root ids.ID
}

func NewWitnessStatement(root ids.ID) WitnessStatement {
	return WitnessStatement{root: root}
}

func (WitnessStatement) Header() crypto.Header {
	return crypto.HeaderWitness
}

// SizeHint implements the surge.SizeHinter interface.
func (s WitnessStatement) SizeHint() int {
	return len(s.root)
}

// Marshal implements the surge.Marshaler interface.
func (s WitnessStatement) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return crypto.MarshalRaw(s.root[:], buf, rem)
}
