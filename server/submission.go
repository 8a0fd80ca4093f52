// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"errors"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/luxfi/ids"
	"github.com/renproject/surge"
)

var ErrDeserializeFailed = errors.New("deserialize failed")

// Submission is the blob a server hands to the total-order oracle: the batch
// root and the witness certificate proving the batch is available.
type Submission struct {
	Root        ids.ID
	Certificate membership.Certificate
}

// EncodeSubmission serializes a (root, certificate) pair.
func EncodeSubmission(root ids.ID, certificate *membership.Certificate) ([]byte, error) {
	return surge.ToBinary(Submission{Root: root, Certificate: *certificate})
}

// DecodeSubmission parses a blob delivered by the oracle. Any peer may have
// produced it, so failures are expected and must be dropped, not trusted.
func DecodeSubmission(blob []byte) (ids.ID, *membership.Certificate, error) {
	var submission Submission
	if err := surge.FromBinary(&submission, blob); err != nil {
		return ids.Empty, nil, errors.Join(ErrDeserializeFailed, err)
	}
	return submission.Root, &submission.Certificate, nil
}

// SizeHint implements the surge.SizeHinter interface.
func (s Submission) SizeHint() int {
	return len(s.Root) + s.Certificate.SizeHint()
}

// Marshal implements the surge.Marshaler interface.
func (s Submission) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := crypto.MarshalRaw(s.Root[:], buf, rem)
	if err != nil {
		return buf, rem, err
	}
	return s.Certificate.Marshal(buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (s *Submission) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := crypto.UnmarshalRaw(s.Root[:], buf, rem)
	if err != nil {
		return buf, rem, err
	}
	return s.Certificate.Unmarshal(buf, rem)
}
