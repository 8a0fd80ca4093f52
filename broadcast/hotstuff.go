// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"context"
	"crypto/sha1" //nolint:gosec // frame checksum mandated by the HotStuff wire format
	"encoding/binary"
	"io"
	"net"
	"sync"
)

// HotStuff adapts a HotStuff replica endpoint. The frame layout mirrors the
// replica's client protocol byte for byte: little-endian magic, a one-byte
// opcode, the payload length, the first four bytes of the payload's SHA-1,
// then the payload.
type HotStuff struct {
	readMu  sync.Mutex
	writeMu sync.Mutex
	conn    net.Conn
}

const hotStuffOpcode = 100

// DialHotStuff connects to the replica at [address].
func DialHotStuff(ctx context.Context, address string) (*HotStuff, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &HotStuff{conn: conn}, nil
}

// Order implements the Broadcast interface.
func (hs *HotStuff) Order(_ context.Context, payload []byte) error {
	digest := sha1.Sum(payload) //nolint:gosec

	frame := make([]byte, 0, 13+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, 0)
	frame = append(frame, hotStuffOpcode)
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, digest[:4]...)
	frame = append(frame, payload...)

	hs.writeMu.Lock()
	defer hs.writeMu.Unlock()

	_, err := hs.conn.Write(frame)
	return err
}

// Deliver implements the Broadcast interface.
func (hs *HotStuff) Deliver(_ context.Context) ([]byte, error) {
	hs.readMu.Lock()
	defer hs.readMu.Unlock()

	header := make([]byte, 13)
	if _, err := io.ReadFull(hs.conn, header); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[5:9])
	payload := make([]byte, length)
	if _, err := io.ReadFull(hs.conn, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// Close tears down the replica connection.
func (hs *HotStuff) Close() error {
	return hs.conn.Close()
}
