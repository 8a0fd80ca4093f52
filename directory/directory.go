// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package directory maps client ids to the keycards that authenticate them.
package directory

import (
	"os"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/renproject/surge"
)

// MaxCapacity bounds the number of directory slots a peer will decode.
const MaxCapacity = 1 << 24

// Directory is a sparse sequence of optional keycards indexed by client id.
type Directory struct {
	keycards []*crypto.Keycard
}

// New returns an empty directory with [capacity] unassigned slots.
func New(capacity uint64) *Directory {
	return &Directory{keycards: make([]*crypto.Keycard, capacity)}
}

// FromKeycards builds a directory whose slot i holds keycards[i].
func FromKeycards(keycards []*crypto.Keycard) *Directory {
	return &Directory{keycards: keycards}
}

// Capacity returns the number of slots, assigned or not.
func (d *Directory) Capacity() uint64 {
	return uint64(len(d.keycards))
}

// Keycard returns the keycard at [id], if the slot is assigned.
func (d *Directory) Keycard(id uint64) (crypto.Keycard, bool) {
	if id >= uint64(len(d.keycards)) || d.keycards[id] == nil {
		return crypto.Keycard{}, false
	}
	return *d.keycards[id], true
}

// Insert assigns [keycard] to slot [id], growing the directory if needed.
func (d *Directory) Insert(id uint64, keycard crypto.Keycard) {
	for uint64(len(d.keycards)) <= id {
		d.keycards = append(d.keycards, nil)
	}
	d.keycards[id] = &keycard
}

// Save writes the directory to [path].
func (d *Directory) Save(path string) error {
	data, err := surge.ToBinary(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a directory from [path].
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	directory := new(Directory)
	if err := surge.FromBinary(directory, data); err != nil {
		return nil, err
	}
	return directory, nil
}

// SizeHint implements the surge.SizeHinter interface.
func (d Directory) SizeHint() int {
	hint := surge.SizeHintU32
	for _, keycard := range d.keycards {
		hint += surge.SizeHintU8
		if keycard != nil {
			hint += crypto.KeycardLen
		}
	}
	return hint
}

// Marshal implements the surge.Marshaler interface.
func (d Directory) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU32(uint32(len(d.keycards)), buf, rem)
	if err != nil {
		return buf, rem, err
	}

	for _, keycard := range d.keycards {
		present := uint8(0)
		if keycard != nil {
			present = 1
		}
		if buf, rem, err = surge.MarshalU8(present, buf, rem); err != nil {
			return buf, rem, err
		}
		if keycard == nil {
			continue
		}
		if buf, rem, err = keycard.Marshal(buf, rem); err != nil {
			return buf, rem, err
		}
	}

	return buf, rem, nil
}

// Unmarshal implements the surge.Unmarshaler interface.
func (d *Directory) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var capacity uint32
	buf, rem, err := surge.UnmarshalU32(&capacity, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if capacity > MaxCapacity {
		return buf, rem, surge.ErrLengthOverflow
	}

	d.keycards = make([]*crypto.Keycard, capacity)
	for index := range d.keycards {
		var present uint8
		if buf, rem, err = surge.UnmarshalU8(&present, buf, rem); err != nil {
			return buf, rem, err
		}
		if present == 0 {
			continue
		}

		keycard := new(crypto.Keycard)
		if buf, rem, err = keycard.Unmarshal(buf, rem); err != nil {
			return buf, rem, err
		}
		d.keycards[index] = keycard
	}

	return buf, rem, nil
}
