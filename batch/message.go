// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package batch implements the batch data model: ordered client payloads
// committed under a Merkle-vector root, the straggler/reduction signature
// attachments, and the compressed wire form exchanged with servers.
package batch

import (
	"github.com/Distributed-EPFL/pod/crypto"
)

// MessageLen is the fixed size of a client message.
const MessageLen = 8

// Message is an opaque fixed-size client message.
type Message [MessageLen]byte

// SizeHint implements the surge.SizeHinter interface.
func (m Message) SizeHint() int {
	return MessageLen
}

// Marshal implements the surge.Marshaler interface.
func (m Message) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return crypto.MarshalRaw(m[:], buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (m *Message) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	return crypto.UnmarshalRaw(m[:], buf, rem)
}
