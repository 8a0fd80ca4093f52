// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/bls/signer/localsigner"
)

// Keychain holds a server's or client's secret signing material. Signatures
// produced by MultiSign aggregate with other keychains' signatures over the
// same statement.
type Keychain struct {
	signer  *localsigner.LocalSigner
	keycard Keycard
}

// NewKeychain generates a fresh keychain.
func NewKeychain() (*Keychain, error) {
	signer, err := localsigner.New()
	if err != nil {
		return nil, err
	}

	return &Keychain{
		signer:  signer,
		keycard: NewKeycard(signer.PublicKey()),
	}, nil
}

// KeychainFromBytes reconstitutes a keychain persisted with Bytes.
func KeychainFromBytes(skBytes []byte) (*Keychain, error) {
	signer, err := localsigner.FromBytes(skBytes)
	if err != nil {
		return nil, err
	}

	return &Keychain{
		signer:  signer,
		keycard: NewKeycard(signer.PublicKey()),
	}, nil
}

// Bytes returns the secret key material. Handle with care.
func (k *Keychain) Bytes() []byte {
	return k.signer.ToBytes()
}

func (k *Keychain) Keycard() Keycard {
	return k.keycard
}

// MultiSign signs [statement] under its domain header.
func (k *Keychain) MultiSign(statement Statement) (*bls.Signature, error) {
	msg, err := StatementBytes(statement)
	if err != nil {
		return nil, err
	}
	return k.signer.Sign(msg)
}
