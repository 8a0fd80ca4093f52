// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/Distributed-EPFL/pod/utils/sampler"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// ErrBatchInvalid covers every structural, ordering, or cryptographic defect
// in a submitted batch. Callers may treat it as opaque.
var ErrBatchInvalid = errors.New("batch invalid")

// Straggler attaches the individual signature of a payload whose signer did
// not participate in the reduction aggregate.
type Straggler struct {
	ID        uint64
	Signature *bls.Signature
}

// Batch is an ordered set of client payloads committed under a Merkle-vector
// root, together with the signatures authenticating them: a reduction
// aggregate for the common case and individual signatures for stragglers.
type Batch struct {
	vector     vector
	reduction  *bls.Signature
	stragglers []Straggler
}

// Random synthesizes a batch of [size] distinct payloads addressed by random
// directory ids, every slot signed through the reduction aggregate. The
// caller must hold the keychain of every sampled client in [keychains].
func Random(dir *directory.Directory, keychains *passepartout.Passepartout, size int) (*Batch, error) {
	uniform := sampler.NewUniform()
	if err := uniform.Initialize(int(dir.Capacity())); err != nil {
		return nil, err
	}
	indices, ok := uniform.Sample(size)
	if !ok {
		return nil, fmt.Errorf("batch size %d exceeds directory capacity %d", size, dir.Capacity())
	}

	payloads := make([]Payload, 0, size)
	for _, index := range indices {
		var message Message
		binary.BigEndian.PutUint64(message[:], rand.Uint64())

		payloads = append(payloads, Payload{ID: uint64(index), Message: message})
	}

	sort.Slice(payloads, func(i, j int) bool {
		return payloads[i].ID < payloads[j].ID
	})

	committed := newVector(chunked(payloads))
	statement := NewReductionStatement(committed.root)

	shares := make([]*bls.Signature, 0, size)
	for _, payload := range payloads {
		keycard, ok := dir.Keycard(payload.ID)
		if !ok {
			return nil, fmt.Errorf("no keycard for id %d", payload.ID)
		}
		keychain, ok := keychains.Keychain(keycard.Identity())
		if !ok {
			return nil, fmt.Errorf("no keychain for id %d", payload.ID)
		}

		share, err := keychain.MultiSign(statement)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}

	reduction, err := bls.AggregateSignatures(shares)
	if err != nil {
		return nil, err
	}

	return &Batch{
		vector:    committed,
		reduction: reduction,
	}, nil
}

// Root returns the Merkle-vector commitment to the full padded payload
// sequence.
func (b *Batch) Root() ids.ID {
	return b.vector.root
}

// Payloads returns the real payloads in order, padding filtered out.
func (b *Batch) Payloads() []Payload {
	payloads := make([]Payload, 0, len(b.vector.chunks)*Nibble)
	for _, chunk := range b.vector.chunks {
		for _, payload := range chunk {
			if !payload.IsNull() {
				payloads = append(payloads, payload)
			}
		}
	}
	return payloads
}

// Verify checks the batch against [dir]: strictly increasing ids, valid
// straggler signatures, and a reduction aggregate covering every remaining
// signer. Every defect surfaces as ErrBatchInvalid.
func (b *Batch) Verify(dir *directory.Directory) error {
	payloads := b.Payloads()

	var reducers []crypto.Keycard

	straggler := 0
	previous := uint64(0)
	for index, payload := range payloads {
		if index > 0 && payload.ID <= previous {
			return fmt.Errorf("%w: ids not strictly increasing", ErrBatchInvalid)
		}
		previous = payload.ID

		keycard, ok := dir.Keycard(payload.ID)
		if !ok {
			return fmt.Errorf("%w: id %d not in directory", ErrBatchInvalid, payload.ID)
		}

		if straggler < len(b.stragglers) && b.stragglers[straggler].ID == payload.ID {
			statement := NewBroadcastStatement(payload.Message)
			if err := crypto.Verify(keycard, statement, b.stragglers[straggler].Signature); err != nil {
				return fmt.Errorf("%w: straggler signature for id %d: %v", ErrBatchInvalid, payload.ID, err)
			}
			straggler++
		} else {
			reducers = append(reducers, keycard)
		}
	}

	if straggler < len(b.stragglers) {
		return fmt.Errorf("%w: straggler id %d not in batch", ErrBatchInvalid, b.stragglers[straggler].ID)
	}

	if len(reducers) > 0 {
		if b.reduction == nil {
			return fmt.Errorf("%w: reduction missing", ErrBatchInvalid)
		}

		statement := NewReductionStatement(b.vector.root)
		if err := crypto.VerifyAggregate(reducers, statement, b.reduction); err != nil {
			return fmt.Errorf("%w: reduction: %v", ErrBatchInvalid, err)
		}
	}

	return nil
}

// Compress serializes the batch into its wire form.
func (b *Batch) Compress() (*CompressedBatch, error) {
	payloads := b.Payloads()

	ids := make([]uint64, 0, len(payloads))
	messages := make([]Message, 0, len(payloads))
	for _, payload := range payloads {
		ids = append(ids, payload.ID)
		messages = append(messages, payload.Message)
	}

	crammed, err := Cram(ids)
	if err != nil {
		return nil, err
	}

	return &CompressedBatch{
		IDs:        crammed,
		Messages:   messages,
		Reduction:  b.reduction,
		Stragglers: b.stragglers,
	}, nil
}
