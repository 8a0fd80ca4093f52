// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"github.com/luxfi/crypto/bls"
)

// SignatureLen is the wire size of a multi-signature.
const SignatureLen = bls.SignatureLen

// MarshalSignature appends the wire form of [signature] to [buf].
func MarshalSignature(signature *bls.Signature, buf []byte, rem int) ([]byte, int, error) {
	return MarshalRaw(bls.SignatureToBytes(signature), buf, rem)
}

// UnmarshalSignature reads a multi-signature from [buf]. The signature is
// checked for group membership, not for validity against any statement.
func UnmarshalSignature(signature **bls.Signature, buf []byte, rem int) ([]byte, int, error) {
	sigBytes := make([]byte, SignatureLen)
	buf, rem, err := UnmarshalRaw(sigBytes, buf, rem)
	if err != nil {
		return buf, rem, err
	}

	sig, err := bls.SignatureFromBytes(sigBytes)
	if err != nil {
		return buf, rem, err
	}

	*signature = sig
	return buf, rem, nil
}
