// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package passepartout holds every keychain of a deployment, and carves them
// into a server membership plus a client directory.
package passepartout

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/luxfi/ids"
	"github.com/renproject/surge"
	"golang.org/x/sync/errgroup"
)

// Chunks is the number of chunks a passepartout is split into on disk.
// Chunks are reconstituted in parallel on load.
const Chunks = 64

// Passepartout maps identities to their keychains.
type Passepartout struct {
	keychains map[ids.ID]*crypto.Keychain
}

// Random generates [size] fresh keychains.
func Random(size int) (*Passepartout, error) {
	keychains := make(map[ids.ID]*crypto.Keychain, size)
	for len(keychains) < size {
		keychain, err := crypto.NewKeychain()
		if err != nil {
			return nil, err
		}
		keychains[keychain.Keycard().Identity()] = keychain
	}
	return &Passepartout{keychains: keychains}, nil
}

// Keychain returns the keychain of [identity].
func (p *Passepartout) Keychain(identity ids.ID) (*crypto.Keychain, bool) {
	keychain, ok := p.keychains[identity]
	return keychain, ok
}

// Len returns the number of keychains.
func (p *Passepartout) Len() int {
	return len(p.keychains)
}

// Keycards returns every keycard, ordered by identity.
func (p *Passepartout) Keycards() []crypto.Keycard {
	keycards := make([]crypto.Keycard, 0, len(p.keychains))
	for _, keychain := range p.keychains {
		keycards = append(keycards, keychain.Keycard())
	}
	sort.Slice(keycards, func(i, j int) bool {
		left, right := keycards[i].Identity(), keycards[j].Identity()
		return bytes.Compare(left[:], right[:]) < 0
	})
	return keycards
}

// System carves the keycards into a membership of the first [servers]
// keycards (by identity order) and a directory assigning the rest to client
// ids 0, 1, 2, ...
func (p *Passepartout) System(servers int) (*membership.Membership, *directory.Directory, error) {
	keycards := p.Keycards()
	if servers > len(keycards) {
		return nil, nil, fmt.Errorf("%d servers requested, %d keycards held", servers, len(keycards))
	}

	m := membership.FromServers(keycards[:servers])

	clients := keycards[servers:]
	d := directory.New(uint64(len(clients)))
	for id, keycard := range clients {
		d.Insert(uint64(id), keycard)
	}

	return m, d, nil
}

// Save writes the passepartout to [path] as a sequence of serialized chunks.
func (p *Passepartout) Save(path string) error {
	entries := make([][]byte, 0, len(p.keychains))
	for _, keychain := range p.keychains {
		entries = append(entries, keychain.Bytes())
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i], entries[j]) < 0
	})

	chunks := make([][][]byte, Chunks)
	for index, entry := range entries {
		chunk := index % Chunks
		chunks[chunk] = append(chunks[chunk], entry)
	}

	var file bytes.Buffer
	writeU32(&file, Chunks)
	for _, chunk := range chunks {
		encoded, err := surge.ToBinary(chunkEntries(chunk))
		if err != nil {
			return err
		}
		writeU32(&file, uint32(len(encoded)))
		file.Write(encoded)
	}

	return os.WriteFile(path, file.Bytes(), 0o600)
}

// Load reads a passepartout from [path], reconstituting the chunks in
// parallel.
func Load(path string) (*Passepartout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	count, data, err := readU32(data)
	if err != nil {
		return nil, err
	}

	encoded := make([][]byte, count)
	for index := range encoded {
		var length uint32
		if length, data, err = readU32(data); err != nil {
			return nil, err
		}
		if uint32(len(data)) < length {
			return nil, surge.ErrUnexpectedEndOfBuffer
		}
		encoded[index] = data[:length]
		data = data[length:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("trailing bytes after %d chunks", count)
	}

	var mu sync.Mutex
	keychains := make(map[ids.ID]*crypto.Keychain)

	var group errgroup.Group
	for _, chunk := range encoded {
		chunk := chunk
		group.Go(func() error {
			var entries chunkEntries
			if err := surge.FromBinary(&entries, chunk); err != nil {
				return err
			}

			for _, entry := range entries {
				keychain, err := crypto.KeychainFromBytes(entry)
				if err != nil {
					return err
				}

				mu.Lock()
				keychains[keychain.Keycard().Identity()] = keychain
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &Passepartout{keychains: keychains}, nil
}

// chunkEntries is the on-disk form of one chunk: a sequence of secret keys.
type chunkEntries [][]byte

// SizeHint implements the surge.SizeHinter interface.
func (c chunkEntries) SizeHint() int {
	hint := surge.SizeHintU32
	for _, entry := range c {
		hint += surge.SizeHintU32 + len(entry)
	}
	return hint
}

// Marshal implements the surge.Marshaler interface.
func (c chunkEntries) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU32(uint32(len(c)), buf, rem)
	if err != nil {
		return buf, rem, err
	}
	for _, entry := range c {
		if buf, rem, err = surge.MarshalU32(uint32(len(entry)), buf, rem); err != nil {
			return buf, rem, err
		}
		if buf, rem, err = crypto.MarshalRaw(entry, buf, rem); err != nil {
			return buf, rem, err
		}
	}
	return buf, rem, nil
}

// Unmarshal implements the surge.Unmarshaler interface.
func (c *chunkEntries) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var count uint32
	buf, rem, err := surge.UnmarshalU32(&count, buf, rem)
	if err != nil {
		return buf, rem, err
	}
	if count > uint32(len(buf)) {
		return buf, rem, surge.ErrUnexpectedEndOfBuffer
	}

	entries := make([][]byte, count)
	for index := range entries {
		var length uint32
		if buf, rem, err = surge.UnmarshalU32(&length, buf, rem); err != nil {
			return buf, rem, err
		}
		if uint32(len(buf)) < length {
			return buf, rem, surge.ErrUnexpectedEndOfBuffer
		}
		entries[index] = make([]byte, length)
		if buf, rem, err = crypto.UnmarshalRaw(entries[index], buf, rem); err != nil {
			return buf, rem, err
		}
	}

	*c = entries
	return buf, rem, nil
}

func writeU32(buf *bytes.Buffer, value uint32) {
	buf.Write([]byte{byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)})
}

func readU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, surge.ErrUnexpectedEndOfBuffer
	}
	value := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	return value, data[4:], nil
}
