// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package membership models the fixed quorum group of servers and the
// certificates that prove a threshold of them signed the same statement.
package membership

import (
	"bytes"
	"os"
	"sort"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/luxfi/ids"
	"github.com/renproject/surge"
)

// MaxServers bounds the membership size a peer will decode.
const MaxServers = 1 << 16

// Membership is the ordered set of servers witnessing batches. The canonical
// order, lexicographic by identity, is wire-visible: certificate bitmaps
// index into it.
type Membership struct {
	servers   []crypto.Keycard
	positions map[ids.ID]int
}

// FromServers builds a membership from the servers' keycards, in any order.
func FromServers(servers []crypto.Keycard) *Membership {
	sorted := make([]crypto.Keycard, len(servers))
	copy(sorted, servers)
	sort.Slice(sorted, func(i, j int) bool {
		left, right := sorted[i].Identity(), sorted[j].Identity()
		return bytes.Compare(left[:], right[:]) < 0
	})

	positions := make(map[ids.ID]int, len(sorted))
	for position, server := range sorted {
		positions[server.Identity()] = position
	}

	return &Membership{
		servers:   sorted,
		positions: positions,
	}
}

// Servers returns the servers in canonical order.
func (m *Membership) Servers() []crypto.Keycard {
	return m.servers
}

// Keycard returns the keycard of the server with [identity].
func (m *Membership) Keycard(identity ids.ID) (crypto.Keycard, bool) {
	position, ok := m.positions[identity]
	if !ok {
		return crypto.Keycard{}, false
	}
	return m.servers[position], true
}

// Position returns the canonical position of [identity].
func (m *Membership) Position(identity ids.ID) (int, bool) {
	position, ok := m.positions[identity]
	return position, ok
}

// Len returns the number of servers.
func (m *Membership) Len() int {
	return len(m.servers)
}

// Plurality is the smallest number of servers guaranteed to include a
// correct one: floor((n - 1) / 3) + 1.
func (m *Membership) Plurality() int {
	return (len(m.servers)-1)/3 + 1
}

// Quorum is the largest number of servers guaranteed reachable despite
// faults: n - plurality + 1.
func (m *Membership) Quorum() int {
	return len(m.servers) - m.Plurality() + 1
}

// Save writes the membership to [path].
func (m *Membership) Save(path string) error {
	data, err := surge.ToBinary(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a membership from [path].
func Load(path string) (*Membership, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	membership := new(Membership)
	if err := surge.FromBinary(membership, data); err != nil {
		return nil, err
	}
	return membership, nil
}

// SizeHint implements the surge.SizeHinter interface.
func (m Membership) SizeHint() int {
	return surge.SizeHintU32 + len(m.servers)*crypto.KeycardLen
}

// Marshal implements the surge.Marshaler interface.
func (m Membership) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU32(uint32(len(m.servers)), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	for _, server := range m.servers {
		if buf, rem, err = server.Marshal(buf, rem); err != nil {
			return buf, rem, err
		}
	}
	return buf, rem, nil
}

// Unmarshal implements the surge.Unmarshaler interface.
func (m *Membership) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var count uint32
	buf, rem, err := surge.UnmarshalU32(&count, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if count > MaxServers {
		return buf, rem, surge.ErrLengthOverflow
	}

	servers := make([]crypto.Keycard, count)
	for index := range servers {
		if buf, rem, err = servers[index].Unmarshal(buf, rem); err != nil {
			return buf, rem, err
		}
	}

	*m = *FromServers(servers)
	return buf, rem, nil
}
