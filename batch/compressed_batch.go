// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"fmt"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/luxfi/crypto/bls"
	"github.com/renproject/surge"
)

// MaxBatchSize bounds the number of payloads a peer will decode.
const MaxBatchSize = 1 << 20

// CompressedBatch is the wire form of a batch: delta-packed ids, the
// parallel message sequence, the optional reduction aggregate, and the
// straggler map ordered by id.
type CompressedBatch struct {
	IDs        VarCram
	Messages   []Message
	Reduction  *bls.Signature
	Stragglers []Straggler
}

// Decompress reconstitutes the batch: ids and messages are re-paired in
// order, the sequence is re-padded and committed. Malformed ids, a length
// mismatch, or an oversized batch fail with ErrBatchInvalid.
func (cb *CompressedBatch) Decompress() (*Batch, error) {
	ids, err := cb.IDs.Uncram()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchInvalid, err)
	}

	if len(ids) != len(cb.Messages) {
		return nil, fmt.Errorf("%w: %d ids, %d messages", ErrBatchInvalid, len(ids), len(cb.Messages))
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch too large", ErrBatchInvalid)
	}

	payloads := make([]Payload, 0, len(ids))
	for index, id := range ids {
		payloads = append(payloads, Payload{ID: id, Message: cb.Messages[index]})
	}

	return &Batch{
		vector:     newVector(chunked(payloads)),
		reduction:  cb.Reduction,
		stragglers: cb.Stragglers,
	}, nil
}

// SizeHint implements the surge.SizeHinter interface.
func (cb CompressedBatch) SizeHint() int {
	hint := surge.SizeHintU32 + len(cb.IDs)
	hint += surge.SizeHintU32 + len(cb.Messages)*MessageLen
	hint += surge.SizeHintU8
	if cb.Reduction != nil {
		hint += crypto.SignatureLen
	}
	hint += surge.SizeHintU32 + len(cb.Stragglers)*(surge.SizeHintU64+crypto.SignatureLen)
	return hint
}

// Marshal implements the surge.Marshaler interface.
func (cb CompressedBatch) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU32(uint32(len(cb.IDs)), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	buf, rem, err = crypto.MarshalRaw(cb.IDs, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	buf, rem, err = surge.MarshalU32(uint32(len(cb.Messages)), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	for _, message := range cb.Messages {
		if buf, rem, err = message.Marshal(buf, rem); err != nil {
			return buf, rem, err
		}
	}

	buf, rem, err = marshalOptionalSignature(cb.Reduction, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	buf, rem, err = surge.MarshalU32(uint32(len(cb.Stragglers)), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	for _, straggler := range cb.Stragglers {
		if buf, rem, err = surge.MarshalU64(straggler.ID, buf, rem); err != nil {
			return buf, rem, err
		}
		if buf, rem, err = crypto.MarshalSignature(straggler.Signature, buf, rem); err != nil {
			return buf, rem, err
		}
	}

	return buf, rem, nil
}

// Unmarshal implements the surge.Unmarshaler interface. The straggler map
// must arrive strictly ordered by id.
func (cb *CompressedBatch) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var idsLen uint32
	buf, rem, err := surge.UnmarshalU32(&idsLen, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if uint32(len(buf)) < idsLen {
		return buf, rem, surge.ErrUnexpectedEndOfBuffer
	}
	cb.IDs = make(VarCram, idsLen)
	buf, rem, err = crypto.UnmarshalRaw(cb.IDs, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	var messageCount uint32
	buf, rem, err = surge.UnmarshalU32(&messageCount, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if messageCount > MaxBatchSize {
		return buf, rem, surge.ErrLengthOverflow
	}
	cb.Messages = make([]Message, messageCount)
	for index := range cb.Messages {
		if buf, rem, err = cb.Messages[index].Unmarshal(buf, rem); err != nil {
			return buf, rem, err
		}
	}

	buf, rem, err = unmarshalOptionalSignature(&cb.Reduction, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	var stragglerCount uint32
	buf, rem, err = surge.UnmarshalU32(&stragglerCount, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if stragglerCount > MaxBatchSize {
		return buf, rem, surge.ErrLengthOverflow
	}
	cb.Stragglers = make([]Straggler, stragglerCount)
	for index := range cb.Stragglers {
		if buf, rem, err = surge.UnmarshalU64(&cb.Stragglers[index].ID, buf, rem); err != nil {
			return buf, rem, err
		}
		if buf, rem, err = crypto.UnmarshalSignature(&cb.Stragglers[index].Signature, buf, rem); err != nil {
			return buf, rem, err
		}
		if index > 0 && cb.Stragglers[index].ID <= cb.Stragglers[index-1].ID {
			return buf, rem, fmt.Errorf("%w: stragglers out of order", ErrBatchInvalid)
		}
	}

	return buf, rem, nil
}

func marshalOptionalSignature(signature *bls.Signature, buf []byte, rem int) ([]byte, int, error) {
	present := uint8(0)
	if signature != nil {
		present = 1
	}

	buf, rem, err := surge.MarshalU8(present, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if signature == nil {
		return buf, rem, nil
	}
	return crypto.MarshalSignature(signature, buf, rem)
}

func unmarshalOptionalSignature(signature **bls.Signature, buf []byte, rem int) ([]byte, int, error) {
	var present uint8
	buf, rem, err := surge.UnmarshalU8(&present, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	switch present {
	case 0:
		*signature = nil
		return buf, rem, nil
	case 1:
		return crypto.UnmarshalSignature(signature, buf, rem)
	default:
		return buf, rem, fmt.Errorf("%w: malformed optional signature", ErrBatchInvalid)
	}
}
