// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport provides the session layer brokers and servers talk
// over: full-duplex TCP connections carrying length-prefixed plaintext
// frames, one canonically-encoded value per frame.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/renproject/surge"
)

// MaxFrame bounds the size of a single frame. A peer announcing a larger
// frame is treated as a connection error.
const MaxFrame = 32 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// Session is one full-duplex exchange. Sends and receives may proceed
// concurrently, but each direction must be used from one goroutine at a
// time. End closes gracefully; an abrupt close is indistinguishable from a
// network error to the peer.
type Session struct {
	conn net.Conn
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn}
}

// Send writes one frame.
func (s *Session) Send(frame []byte) error {
	if len(frame) > MaxFrame {
		return ErrFrameTooLarge
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))

	if _, err := s.conn.Write(prefix[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(frame)
	return err
}

// Receive reads one frame.
func (s *Session) Receive() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(s.conn, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrame {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(s.conn, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// SendMessage encodes [message] canonically and sends it as one frame.
func (s *Session) SendMessage(message interface{}) error {
	frame, err := surge.ToBinary(message)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return s.Send(frame)
}

// ReceiveMessage receives one frame and decodes it into [message].
func (s *Session) ReceiveMessage(message interface{}) error {
	frame, err := s.Receive()
	if err != nil {
		return err
	}
	if err := surge.FromBinary(message, frame); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// End closes the session gracefully.
func (s *Session) End() {
	_ = s.conn.Close()
}
