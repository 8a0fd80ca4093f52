// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"encoding/binary"
	"errors"
	"math"
)

var errVarCramMalformed = errors.New("varcram malformed")

// VarCram is a variable-width packing of a non-descending u64 sequence: a
// varint element count, the first element, then successive deltas. Sorted id
// sequences with small gaps compress to little more than a byte per id.
type VarCram []byte

// Cram packs [ids]. The sequence must be non-descending.
func Cram(ids []uint64) (VarCram, error) {
	buf := make([]byte, 0, binary.MaxVarintLen64*(len(ids)+1))
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], uint64(len(ids)))
	buf = append(buf, scratch[:n]...)

	previous := uint64(0)
	for index, id := range ids {
		delta := id
		if index > 0 {
			if id < previous {
				return nil, errVarCramMalformed
			}
			delta = id - previous
		}
		previous = id

		n = binary.PutUvarint(scratch[:], delta)
		buf = append(buf, scratch[:n]...)
	}

	return VarCram(buf), nil
}

// Uncram unpacks the id sequence. Trailing bytes, truncation, and overflow
// all fail.
func (vc VarCram) Uncram() ([]uint64, error) {
	buf := []byte(vc)

	count, n := binary.Uvarint(buf)
	if n <= 0 || count > uint64(len(buf)) {
		return nil, errVarCramMalformed
	}
	buf = buf[n:]

	ids := make([]uint64, 0, count)
	previous := uint64(0)
	for index := uint64(0); index < count; index++ {
		delta, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errVarCramMalformed
		}
		buf = buf[n:]

		id := delta
		if index > 0 {
			if delta > math.MaxUint64-previous {
				return nil, errVarCramMalformed
			}
			id = previous + delta
		}
		previous = id
		ids = append(ids, id)
	}

	if len(buf) != 0 {
		return nil, errVarCramMalformed
	}
	return ids, nil
}
