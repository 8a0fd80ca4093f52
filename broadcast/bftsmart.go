// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broadcast

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"math/rand"
	"net"
	"sync"
)

// BftSmart adapts a BFT-SMaRt frontend. Every request carries the 40-byte
// big-endian header the Java frontend expects: total length, message length,
// sender id, view, request type, session, sequence, operation id, reply
// target, and content length, with a trailing padding word after the body.
type BftSmart struct {
	readMu sync.Mutex

	writeMu  sync.Mutex
	sequence uint32

	conn    net.Conn
	id      uint32
	session uint32
}

// DialBftSmart connects to the frontend at [address] as client [id] and
// subscribes with a fresh session.
func DialBftSmart(ctx context.Context, id uint32, address string) (*BftSmart, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	bs := &BftSmart{
		conn:     conn,
		id:       id,
		session:  rand.Uint32(),
		sequence: 1,
	}

	if err := bs.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}
	return bs, nil
}

func (bs *BftSmart) subscribe() error {
	frame := bs.header(0, 0)
	frame = binary.BigEndian.AppendUint32(frame, 0) // padding

	_, err := bs.conn.Write(frame)
	return err
}

// header builds the 40-byte request header for a body of [contlen] bytes at
// [sequence].
func (bs *BftSmart) header(sequence uint32, contlen uint32) []byte {
	msglen := 32 + contlen
	totlen := msglen + 8

	frame := make([]byte, 0, 40+contlen+4)
	frame = binary.BigEndian.AppendUint32(frame, totlen)
	frame = binary.BigEndian.AppendUint32(frame, msglen)
	frame = binary.BigEndian.AppendUint32(frame, bs.id)
	frame = binary.BigEndian.AppendUint32(frame, 0)              // view
	frame = binary.BigEndian.AppendUint32(frame, 0)              // request type
	frame = binary.BigEndian.AppendUint32(frame, bs.session)     // session
	frame = binary.BigEndian.AppendUint32(frame, sequence)       // sequence
	frame = binary.BigEndian.AppendUint32(frame, 0)              // operation id
	frame = binary.BigEndian.AppendUint32(frame, math.MaxUint32) // reply target
	frame = binary.BigEndian.AppendUint32(frame, contlen)        // content length
	return frame
}

// Order implements the Broadcast interface.
func (bs *BftSmart) Order(_ context.Context, payload []byte) error {
	bs.writeMu.Lock()
	defer bs.writeMu.Unlock()

	frame := bs.header(bs.sequence, uint32(len(payload)))
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint32(frame, 0) // padding

	if _, err := bs.conn.Write(frame); err != nil {
		return err
	}

	bs.sequence++
	return nil
}

// Deliver implements the Broadcast interface.
func (bs *BftSmart) Deliver(_ context.Context) ([]byte, error) {
	bs.readMu.Lock()
	defer bs.readMu.Unlock()

	header := make([]byte, 40)
	if _, err := io.ReadFull(bs.conn, header); err != nil {
		return nil, err
	}

	contlen := binary.BigEndian.Uint32(header[36:40])
	payload := make([]byte, contlen)
	if _, err := io.ReadFull(bs.conn, payload); err != nil {
		return nil, err
	}

	padding := make([]byte, 4)
	if _, err := io.ReadFull(bs.conn, padding); err != nil {
		return nil, err
	}

	return payload, nil
}

// Close tears down the frontend connection.
func (bs *BftSmart) Close() error {
	return bs.conn.Close()
}
