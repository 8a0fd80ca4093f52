// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package batch

import (
	"math"

	"github.com/renproject/surge"
)

// NullID marks a padding slot. Real ids are strictly smaller than the
// directory capacity, which is itself strictly smaller than NullID.
const NullID uint64 = math.MaxUint64

// Payload pairs a client id with the message that client signed.
type Payload struct {
	ID      uint64
	Message Message
}

// nullPayload is the padding payload appended to fill the last chunk.
func nullPayload() Payload {
	return Payload{
		ID:      NullID,
		Message: Message{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
	}
}

// IsNull reports whether the payload is a padding slot.
func (p Payload) IsNull() bool {
	return p.ID == NullID
}

// SizeHint implements the surge.SizeHinter interface.
func (p Payload) SizeHint() int {
	return surge.SizeHintU64 + MessageLen
}

// Marshal implements the surge.Marshaler interface.
func (p Payload) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU64(p.ID, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	return p.Message.Marshal(buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (p *Payload) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.UnmarshalU64(&p.ID, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	return p.Message.Unmarshal(buf, rem)
}
