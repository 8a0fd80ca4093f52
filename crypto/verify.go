// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"errors"

	"github.com/luxfi/crypto/bls"
)

var ErrSignatureInvalid = errors.New("signature invalid")

// Verify checks that [signature] is [keycard]'s multi-signature over
// [statement].
func Verify(keycard Keycard, statement Statement, signature *bls.Signature) error {
	return VerifyAggregate([]Keycard{keycard}, statement, signature)
}

// VerifyAggregate checks that [signature] aggregates the multi-signatures of
// exactly the given keycards over [statement].
func VerifyAggregate(keycards []Keycard, statement Statement, signature *bls.Signature) error {
	msg, err := StatementBytes(statement)
	if err != nil {
		return err
	}

	publics := make([]*bls.PublicKey, 0, len(keycards))
	for _, keycard := range keycards {
		publics = append(publics, keycard.PublicKey())
	}

	aggregate, err := bls.AggregatePublicKeys(publics)
	if err != nil {
		return err
	}

	if !bls.Verify(aggregate, signature, msg) {
		return ErrSignatureInvalid
	}
	return nil
}
