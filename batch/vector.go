// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/luxfi/ids"
)

// Nibble is the Merkle vector arity: payloads are committed in fixed-size
// chunks of Nibble payloads per leaf. The value participates in the root and
// must match across every deployment peer.
const Nibble = 16

const (
	leafPrefix     = 0x00
	internalPrefix = 0x01
)

// vector is a Merkle vector over chunks of Nibble payloads. The leaf layer is
// padded to the next power of two with the all-zero hash; leaves and internal
// nodes are domain-prefixed so a leaf can never be reinterpreted as a node.
type vector struct {
	chunks [][Nibble]Payload
	root   ids.ID
}

func newVector(chunks [][Nibble]Payload) vector {
	return vector{
		chunks: chunks,
		root:   vectorRoot(chunks),
	}
}

func vectorRoot(chunks [][Nibble]Payload) ids.ID {
	if len(chunks) == 0 {
		return ids.Empty
	}

	width := 1
	for width < len(chunks) {
		width *= 2
	}

	layer := make([]ids.ID, width)
	for i, chunk := range chunks {
		layer[i] = chunkHash(chunk)
	}

	for len(layer) > 1 {
		next := layer[:len(layer)/2]
		for i := range next {
			next[i] = nodeHash(layer[2*i], layer[2*i+1])
		}
		layer = next
	}

	return layer[0]
}

// chunkHash commits to one leaf: each payload contributes its id in
// big-endian followed by its raw message.
func chunkHash(chunk [Nibble]Payload) ids.ID {
	h := sha256.New()
	h.Write([]byte{leafPrefix})

	var id [8]byte
	for _, payload := range chunk {
		binary.BigEndian.PutUint64(id[:], payload.ID)
		h.Write(id[:])
		h.Write(payload.Message[:])
	}

	var root ids.ID
	copy(root[:], h.Sum(nil))
	return root
}

func nodeHash(left ids.ID, right ids.ID) ids.ID {
	h := sha256.New()
	h.Write([]byte{internalPrefix})
	h.Write(left[:])
	h.Write(right[:])

	var root ids.ID
	copy(root[:], h.Sum(nil))
	return root
}

// chunked pads [payloads] with null payloads up to the next multiple of
// Nibble and groups the result into fixed-size chunks.
func chunked(payloads []Payload) [][Nibble]Payload {
	padding := (Nibble - len(payloads)%Nibble) % Nibble

	padded := make([]Payload, 0, len(payloads)+padding)
	padded = append(padded, payloads...)
	for i := 0; i < padding; i++ {
		padded = append(padded, nullPayload())
	}

	chunks := make([][Nibble]Payload, len(padded)/Nibble)
	for i := range chunks {
		copy(chunks[i][:], padded[i*Nibble:(i+1)*Nibble])
	}
	return chunks
}
