// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/hashing/hashing"
	"github.com/luxfi/ids"
	"github.com/renproject/surge"
)

// KeycardLen is the wire size of a keycard: a compressed BLS public key.
const KeycardLen = bls.PublicKeyLen

// Keycard is the public material of a keychain. Its identity is the hash of
// the compressed public key, so keycards are orderable and comparable by
// identity alone.
type Keycard struct {
	identity ids.ID
	public   *bls.PublicKey
}

// NewKeycard derives the keycard for [public].
func NewKeycard(public *bls.PublicKey) Keycard {
	return Keycard{
		identity: ids.ID(hashing.ComputeHash256Array(bls.PublicKeyToCompressedBytes(public))),
		public:   public,
	}
}

func (k Keycard) Identity() ids.ID {
	return k.identity
}

func (k Keycard) PublicKey() *bls.PublicKey {
	return k.public
}

// SizeHint implements the surge.SizeHinter interface.
func (k Keycard) SizeHint() int {
	return KeycardLen
}

// Marshal implements the surge.Marshaler interface.
func (k Keycard) Marshal(buf []byte, rem int) ([]byte, int, error) {
	return MarshalRaw(bls.PublicKeyToCompressedBytes(k.public), buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (k *Keycard) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	pkBytes := make([]byte, KeycardLen)
	buf, rem, err := UnmarshalRaw(pkBytes, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	public, err := bls.PublicKeyFromCompressedBytes(pkBytes)
	if err != nil {
		return buf, rem, err
	}

	*k = NewKeycard(public)
	return buf, rem, nil
}

// MarshalRaw copies [b] into [buf] without a length prefix.
func MarshalRaw(b []byte, buf []byte, rem int) ([]byte, int, error) {
	if len(buf) < len(b) || rem < len(b) {
		return buf, rem, surge.ErrUnexpectedEndOfBuffer
	}
	copy(buf, b)
	return buf[len(b):], rem - len(b), nil
}

// UnmarshalRaw fills [b] from [buf] without a length prefix.
func UnmarshalRaw(b []byte, buf []byte, rem int) ([]byte, int, error) {
	if len(buf) < len(b) || rem < len(b) {
		return buf, rem, surge.ErrUnexpectedEndOfBuffer
	}
	copy(b, buf)
	return buf[len(b):], rem - len(b), nil
}
