// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package membership

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/bits-and-blooms/bitset"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/renproject/surge"
)

var (
	ErrCertificateInvalid = errors.New("certificate invalid")
	ErrNotEnoughSigners   = errors.New("not enough signers")
)

// Component is one server's contribution to a certificate.
type Component struct {
	Identity  ids.ID
	Signature *bls.Signature
}

// Certificate aggregates per-server multi-signature shares over one
// statement into a single signature, with a bitmap recording which members
// contributed. Bit i refers to the server at canonical position i.
type Certificate struct {
	signers   *bitset.BitSet
	signature *bls.Signature
}

// Aggregate combines [components] into a certificate under [membership].
// Passing a component from outside the membership, or two components from
// the same signer, is a programming error and panics.
func Aggregate(membership *Membership, components []Component) *Certificate {
	sorted := make([]Component, len(components))
	copy(sorted, components)
	sort.Slice(sorted, func(i, j int) bool {
		left, right := sorted[i].Identity, sorted[j].Identity
		return bytes.Compare(left[:], right[:]) < 0
	})

	// The membership and the sorted components share the same order, so one
	// pass with a cursor over the components marks every signer bit.
	signers := bitset.New(uint(membership.Len()))
	cursor := 0
	for position, server := range membership.Servers() {
		if cursor < len(sorted) && sorted[cursor].Identity == server.Identity() {
			signers.Set(uint(position))
			cursor++

			if cursor < len(sorted) && sorted[cursor].Identity == server.Identity() {
				panic("certificate: overlapping components for one signer")
			}
		}
	}

	if cursor < len(sorted) {
		panic("certificate: aggregate called with a foreign component")
	}

	signatures := make([]*bls.Signature, 0, len(sorted))
	for _, component := range sorted {
		signatures = append(signatures, component.Signature)
	}

	signature, err := bls.AggregateSignatures(signatures)
	if err != nil {
		panic(fmt.Sprintf("certificate: aggregate called with an incorrect multi-signature: %v", err))
	}

	return &Certificate{
		signers:   signers,
		signature: signature,
	}
}

// AggregatePlurality aggregates and asserts the result reaches plurality.
func AggregatePlurality(membership *Membership, components []Component) *Certificate {
	certificate := Aggregate(membership, components)
	if certificate.Power() < membership.Plurality() {
		panic("certificate: aggregate short of plurality")
	}
	return certificate
}

// AggregateQuorum aggregates and asserts the result reaches quorum.
func AggregateQuorum(membership *Membership, components []Component) *Certificate {
	certificate := Aggregate(membership, components)
	if certificate.Power() < membership.Quorum() {
		panic("certificate: aggregate short of quorum")
	}
	return certificate
}

// Power returns the number of contributing signers.
func (c *Certificate) Power() int {
	return int(c.signers.Count())
}

// Signers reports whether the server at canonical [position] contributed.
func (c *Certificate) Signers(position int) bool {
	return c.signers.Test(uint(position))
}

// VerifyRaw checks the aggregated signature against the keycards selected by
// the signer bitmap, with no threshold requirement.
func (c *Certificate) VerifyRaw(membership *Membership, statement crypto.Statement) error {
	if c.signers.Len() != uint(membership.Len()) {
		return fmt.Errorf("%w: bitmap sized for %d servers, membership has %d",
			ErrCertificateInvalid, c.signers.Len(), membership.Len())
	}

	keycards := make([]crypto.Keycard, 0, c.signers.Count())
	for position, server := range membership.Servers() {
		if c.signers.Test(uint(position)) {
			keycards = append(keycards, server)
		}
	}

	if err := crypto.VerifyAggregate(keycards, statement, c.signature); err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateInvalid, err)
	}
	return nil
}

// VerifyThreshold checks power first, then the signature.
func (c *Certificate) VerifyThreshold(membership *Membership, statement crypto.Statement, threshold int) error {
	if c.Power() < threshold {
		return fmt.Errorf("%w: %d of %d", ErrNotEnoughSigners, c.Power(), threshold)
	}
	return c.VerifyRaw(membership, statement)
}

// VerifyPlurality checks the certificate at plurality strength.
func (c *Certificate) VerifyPlurality(membership *Membership, statement crypto.Statement) error {
	return c.VerifyThreshold(membership, statement, membership.Plurality())
}

// VerifyQuorum checks the certificate at quorum strength.
func (c *Certificate) VerifyQuorum(membership *Membership, statement crypto.Statement) error {
	return c.VerifyThreshold(membership, statement, membership.Quorum())
}

// SizeHint implements the surge.SizeHinter interface.
func (c Certificate) SizeHint() int {
	return surge.SizeHintU32 + len(c.signers.Bytes())*surge.SizeHintU64 + crypto.SignatureLen
}

// Marshal implements the surge.Marshaler interface. The bitmap travels as
// its bit length followed by its 64-bit words, low word first.
func (c Certificate) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU32(uint32(c.signers.Len()), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	for _, word := range c.signers.Bytes() {
		if buf, rem, err = surge.MarshalU64(word, buf, rem); err != nil {
			return buf, rem, err
		}
	}
	return crypto.MarshalSignature(c.signature, buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (c *Certificate) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var bits uint32
	buf, rem, err := surge.UnmarshalU32(&bits, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if bits > MaxServers {
		return buf, rem, surge.ErrLengthOverflow
	}

	words := make([]uint64, (bits+63)/64)
	for index := range words {
		if buf, rem, err = surge.UnmarshalU64(&words[index], buf, rem); err != nil {
			return buf, rem, err
		}
	}

	signers := bitset.FromWithLength(uint(bits), words)
	if buf, rem, err = crypto.UnmarshalSignature(&c.signature, buf, rem); err != nil {
		return buf, rem, err
	}

	c.signers = signers
	return buf, rem, nil
}
