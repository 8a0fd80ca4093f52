// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Distributed-EPFL/pod/batch"
	"github.com/Distributed-EPFL/pod/broadcast"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/Distributed-EPFL/pod/server"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type cluster struct {
	keychains  *passepartout.Passepartout
	membership *membership.Membership
	directory  *directory.Directory

	servers   []*server.Server
	connector *transport.TCPConnector
}

// newCluster spins up [servers] real servers, each over its own loopback
// oracle, and a connector resolving every member.
func newCluster(t *testing.T, servers int, clients int) *cluster {
	t.Helper()
	require := require.New(t)

	keychains, err := passepartout.Random(servers + clients)
	require.NoError(err)

	m, d, err := keychains.System(servers)
	require.NoError(err)

	c := &cluster{
		keychains:  keychains,
		membership: m,
		directory:  d,
	}

	addresses := make(map[ids.ID]string, servers)
	for _, member := range m.Servers() {
		keychain, ok := keychains.Keychain(member.Identity())
		require.True(ok)

		listener, err := transport.Listen("127.0.0.1:0")
		require.NoError(err)

		s, err := server.New(
			keychain,
			m,
			d,
			broadcast.NewLoopBack(),
			listener,
			server.WithBatchPoll(10*time.Millisecond),
		)
		require.NoError(err)
		t.Cleanup(s.Shutdown)

		c.servers = append(c.servers, s)
		addresses[member.Identity()] = listener.Address()
	}

	c.connector = transport.NewTCPConnector(addresses)
	return c
}

func (c *cluster) compressedBatches(t *testing.T, count int, size int) []batch.CompressedBatch {
	t.Helper()
	require := require.New(t)

	batches := make([]batch.CompressedBatch, count)
	for index := range batches {
		b, err := batch.Random(c.directory, c.keychains, size)
		require.NoError(err)

		compressed, err := b.Compress()
		require.NoError(err)
		batches[index] = *compressed
	}
	return batches
}

func TestBroadcastEndToEnd(t *testing.T) {
	require := require.New(t)

	c := newCluster(t, 4, 100)
	batches := c.compressedBatches(t, 1, 42)

	lb, err := New(c.membership, c.connector, batches)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderCertificate, err := lb.Broadcast(ctx, 0)
	require.NoError(err)
	require.GreaterOrEqual(orderCertificate.Power(), c.membership.Quorum())

	expected, err := batches[0].Decompress()
	require.NoError(err)

	// Every server's total order releases the batch.
	for _, s := range c.servers {
		released, err := s.NextBatch(ctx)
		require.NoError(err)
		require.Equal(expected.Root(), released.Root())
		require.Equal(expected.Payloads(), released.Payloads())
	}
}

func TestBroadcastSequence(t *testing.T) {
	require := require.New(t)

	c := newCluster(t, 4, 100)
	batches := c.compressedBatches(t, 3, 8)

	lb, err := New(c.membership, c.connector, batches)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for index := range batches {
		_, err := lb.Broadcast(ctx, index)
		require.NoError(err)
	}

	// Each server releases the batches in its oracle's order; with a single
	// broker broadcasting sequentially, that is submission order.
	for _, s := range c.servers {
		for index := range batches {
			expected, err := batches[index].Decompress()
			require.NoError(err)

			released, err := s.NextBatch(ctx)
			require.NoError(err)
			require.Equal(expected.Root(), released.Root())
		}
	}
}

// flakyConnector fails the first connection attempt to every server.
type flakyConnector struct {
	inner transport.Connector

	mu     sync.Mutex
	failed map[ids.ID]bool
}

func (fc *flakyConnector) Connect(ctx context.Context, identity ids.ID) (*transport.Session, error) {
	fc.mu.Lock()
	first := !fc.failed[identity]
	fc.failed[identity] = true
	fc.mu.Unlock()

	if first {
		return nil, context.DeadlineExceeded
	}
	return fc.inner.Connect(ctx, identity)
}

func TestBroadcastRetriesFailedAttempts(t *testing.T) {
	require := require.New(t)

	c := newCluster(t, 4, 100)
	batches := c.compressedBatches(t, 1, 16)

	flaky := &flakyConnector{inner: c.connector, failed: make(map[ids.ID]bool)}
	lb, err := New(c.membership, flaky, batches)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = lb.Broadcast(ctx, 0)
	require.NoError(err)

	for _, s := range c.servers {
		released, err := s.NextBatch(ctx)
		require.NoError(err)

		expected, err := batches[0].Decompress()
		require.NoError(err)
		require.Equal(expected.Root(), released.Root())
	}
}

// TestForgedWitnessSharePanics asserts the trust invariant: a server
// returning garbage instead of a witness share is a breached assumption, not
// a recoverable error.
func TestForgedWitnessSharePanics(t *testing.T) {
	require := require.New(t)

	keychains, err := passepartout.Random(4 + 10)
	require.NoError(err)
	m, d, err := keychains.System(4)
	require.NoError(err)

	// A fake server that answers the witness phase with garbage.
	listener, err := transport.Listen("127.0.0.1:0")
	require.NoError(err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		session, err := listener.Accept(context.Background())
		if err != nil {
			return
		}
		defer session.End()

		var compressed batch.CompressedBatch
		if err := session.ReceiveMessage(&compressed); err != nil {
			return
		}
		var verify bool
		if err := session.ReceiveMessage(&verify); err != nil {
			return
		}
		_ = session.Send([]byte("not a signature"))
	}()

	faulty := m.Servers()[0]
	connector := transport.NewTCPConnector(map[ids.ID]string{faulty.Identity(): listener.Address()})

	b, err := batch.Random(d, keychains, 8)
	require.NoError(err)
	compressed, err := b.Compress()
	require.NoError(err)

	lb, err := New(m, connector, []batch.CompressedBatch{*compressed})
	require.NoError(err)

	witnessShares := make(chan membership.Component, 1)
	orderShares := make(chan membership.Component, 1)
	witnessSent := false

	require.Panics(func() {
		_ = lb.trySubmit(
			context.Background(),
			0,
			faulty,
			true,
			&witnessSent,
			witnessShares,
			newCertificateWatch(),
			orderShares,
		)
	})
}

// TestVerifierSelection checks that exactly a plurality of distinct servers
// is asked to verify.
func TestVerifierSelection(t *testing.T) {
	require := require.New(t)

	keychains, err := passepartout.Random(7 + 10)
	require.NoError(err)
	m, _, err := keychains.System(7)
	require.NoError(err)

	lb := &LoadBroker{membership: m}
	lb.sampler = newTestSampler()

	verifiers, err := lb.sampleVerifiers(m.Plurality())
	require.NoError(err)
	require.Equal(m.Plurality(), verifiers.Len())

	for identity := range verifiers {
		_, ok := m.Position(identity)
		require.True(ok)
	}
}

type testSampler struct {
	count int
}

func newTestSampler() *testSampler {
	return &testSampler{}
}

func (ts *testSampler) Initialize(count int) error {
	ts.count = count
	return nil
}

func (ts *testSampler) Sample(size int) ([]int, bool) {
	if size > ts.count {
		return nil, false
	}
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices, true
}
