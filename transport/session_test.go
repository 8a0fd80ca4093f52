// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	require := require.New(t)

	listener, err := Listen("127.0.0.1:0")
	require.NoError(err)
	t.Cleanup(func() { _ = listener.Close() })

	identity := ids.GenerateTestID()
	connector := NewTCPConnector(map[ids.ID]string{identity: listener.Address()})

	accepted := make(chan *Session, 1)
	go func() {
		session, err := listener.Accept(context.Background())
		if err == nil {
			accepted <- session
		}
	}()

	client, err := connector.Connect(context.Background(), identity)
	require.NoError(err)

	server := <-accepted
	t.Cleanup(client.End)
	t.Cleanup(server.End)
	return client, server
}

func TestSessionFrames(t *testing.T) {
	require := require.New(t)
	client, server := testPair(t)

	require.NoError(client.Send([]byte("ping")))
	frame, err := server.Receive()
	require.NoError(err)
	require.Equal("ping", string(frame))

	require.NoError(server.Send([]byte("pong")))
	frame, err = client.Receive()
	require.NoError(err)
	require.Equal("pong", string(frame))

	// Empty frames are legal.
	require.NoError(client.Send(nil))
	frame, err = server.Receive()
	require.NoError(err)
	require.Empty(frame)
}

func TestSessionMessages(t *testing.T) {
	require := require.New(t)
	client, server := testPair(t)

	require.NoError(client.SendMessage(true))

	var verify bool
	require.NoError(server.ReceiveMessage(&verify))
	require.True(verify)
}

func TestSessionEndSurfacesAsError(t *testing.T) {
	require := require.New(t)
	client, server := testPair(t)

	client.End()
	_, err := server.Receive()
	require.Error(err)
}

func TestConnectUnknownIdentity(t *testing.T) {
	require := require.New(t)

	connector := NewTCPConnector(nil)
	_, err := connector.Connect(context.Background(), ids.GenerateTestID())
	require.Error(err)
}
