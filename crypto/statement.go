// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"github.com/renproject/surge"
)

// Statement is a message committed under a domain header. The signed bytes
// are the header followed by the statement's canonical surge encoding, so
// two statements with equal content but different headers never collide.
type Statement interface {
	surge.SizeHinter
	surge.Marshaler

	Header() Header
}

// StatementBytes returns the exact byte sequence signed for [statement].
func StatementBytes(statement Statement) ([]byte, error) {
	body, err := surge.ToBinary(statement)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 1+len(body))
	msg[0] = byte(statement.Header())
	copy(msg[1:], body)
	return msg, nil
}
