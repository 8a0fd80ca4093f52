// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"context"
	"testing"
	"time"

	"github.com/Distributed-EPFL/pod/batch"
	"github.com/Distributed-EPFL/pod/broadcast"
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	keychains  *passepartout.Passepartout
	membership *membership.Membership
	directory  *directory.Directory

	// serverKeychains holds the members' keychains in canonical order.
	serverKeychains []*crypto.Keychain
}

func newFixture(t *testing.T, servers int, clients int) *fixture {
	t.Helper()
	require := require.New(t)

	keychains, err := passepartout.Random(servers + clients)
	require.NoError(err)

	m, d, err := keychains.System(servers)
	require.NoError(err)

	ordered := make([]*crypto.Keychain, 0, servers)
	for _, server := range m.Servers() {
		keychain, ok := keychains.Keychain(server.Identity())
		require.True(ok)
		ordered = append(ordered, keychain)
	}

	return &fixture{
		keychains:       keychains,
		membership:      m,
		directory:       d,
		serverKeychains: ordered,
	}
}

// startServer runs server 0 of the fixture over a loopback oracle.
func (f *fixture) startServer(t *testing.T) (*Server, *broadcast.LoopBack, string) {
	t.Helper()
	require := require.New(t)

	listener, err := transport.Listen("127.0.0.1:0")
	require.NoError(err)

	oracle := broadcast.NewLoopBack()
	s, err := New(
		f.serverKeychains[0],
		f.membership,
		f.directory,
		oracle,
		listener,
		WithBatchPoll(10*time.Millisecond),
	)
	require.NoError(err)
	t.Cleanup(s.Shutdown)

	return s, oracle, listener.Address()
}

func (f *fixture) dial(t *testing.T, address string) *transport.Session {
	t.Helper()
	require := require.New(t)

	identity := ids.GenerateTestID()
	connector := transport.NewTCPConnector(map[ids.ID]string{identity: address})

	session, err := connector.Connect(context.Background(), identity)
	require.NoError(err)
	t.Cleanup(session.End)
	return session
}

func (f *fixture) randomBatch(t *testing.T, size int) (*batch.Batch, *batch.CompressedBatch) {
	t.Helper()
	require := require.New(t)

	b, err := batch.Random(f.directory, f.keychains, size)
	require.NoError(err)

	compressed, err := b.Compress()
	require.NoError(err)
	return b, compressed
}

// witnessCertificate signs the witness statement of [root] with a plurality
// of the fixture's server keychains.
func (f *fixture) witnessCertificate(t *testing.T, root ids.ID) *membership.Certificate {
	t.Helper()

	return f.certificate(t, root, f.membership.Plurality())
}

func (f *fixture) certificate(t *testing.T, root ids.ID, signers int) *membership.Certificate {
	t.Helper()
	require := require.New(t)

	statement := NewWitnessStatement(root)
	components := make([]membership.Component, 0, signers)
	for _, keychain := range f.serverKeychains[:signers] {
		signature, err := keychain.MultiSign(statement)
		require.NoError(err)
		components = append(components, membership.Component{
			Identity:  keychain.Keycard().Identity(),
			Signature: signature,
		})
	}
	return membership.Aggregate(f.membership, components)
}

// runSession drives one full client session: submit, collect the witness
// share if a verifier, publish the certificate, collect the order share.
func (f *fixture) runSession(
	t *testing.T,
	session *transport.Session,
	compressed *batch.CompressedBatch,
	root ids.ID,
	verify bool,
) *bls.Signature {
	t.Helper()
	require := require.New(t)

	witness := f.witnessPhase(t, session, compressed, root, verify)

	require.NoError(session.SendMessage(*f.witnessCertificate(t, root)))

	frame, err := session.Receive()
	require.NoError(err)
	orderShare, err := bls.SignatureFromBytes(frame)
	require.NoError(err)
	require.NoError(crypto.Verify(f.serverKeychains[0].Keycard(), NewOrderStatement(root), orderShare))

	return witness
}

// witnessPhase runs steps 1-3 of the session protocol.
func (f *fixture) witnessPhase(
	t *testing.T,
	session *transport.Session,
	compressed *batch.CompressedBatch,
	root ids.ID,
	verify bool,
) *bls.Signature {
	t.Helper()
	require := require.New(t)

	require.NoError(session.SendMessage(*compressed))
	require.NoError(session.SendMessage(verify))

	if !verify {
		return nil
	}

	frame, err := session.Receive()
	require.NoError(err)
	witness, err := bls.SignatureFromBytes(frame)
	require.NoError(err)
	require.NoError(crypto.Verify(f.serverKeychains[0].Keycard(), NewWitnessStatement(root), witness))
	return witness
}

func nextBatchWithin(t *testing.T, s *Server, timeout time.Duration) (*batch.Batch, bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	released, err := s.NextBatch(ctx)
	if err != nil {
		return nil, false
	}
	return released, true
}

func TestSessionReleasesBatch(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, _, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 42)
	session := f.dial(t, address)

	f.runSession(t, session, compressed, b.Root(), true)

	released, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
	require.Equal(b.Root(), released.Root())
	require.Equal(b.Payloads(), released.Payloads())
}

func TestNonVerifierGetsNoWitnessShare(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, _, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 16)
	session := f.dial(t, address)

	witness := f.runSession(t, session, compressed, b.Root(), false)
	require.Nil(witness)

	_, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
}

func TestIdempotentParking(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, _, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 16)
	root := b.Root()

	first := f.dial(t, address)
	second := f.dial(t, address)

	// Two concurrent submissions of the same batch: both produce witness
	// shares, and the shares are identical.
	firstWitness := f.witnessPhase(t, first, compressed, root, true)
	secondWitness := f.witnessPhase(t, second, compressed, root, true)
	require.Equal(bls.SignatureToBytes(firstWitness), bls.SignatureToBytes(secondWitness))

	s.mu.Lock()
	require.Len(s.parked, 1)
	s.mu.Unlock()

	// Complete both sessions through the order phase.
	certificate := f.witnessCertificate(t, root)
	for _, session := range []*transport.Session{first, second} {
		require.NoError(session.SendMessage(*certificate))
		_, err := session.Receive()
		require.NoError(err)
	}

	// The batch is released exactly once even though it was ordered twice.
	released, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
	require.Equal(root, released.Root())

	_, ok = nextBatchWithin(t, s, 300*time.Millisecond)
	require.False(ok)
}

func TestInvalidBatchClosesSession(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	_, _, address := f.startServer(t)

	_, compressed := f.randomBatch(t, 16)

	// Tamper with one committed message: the root shifts and the reduction
	// aggregate no longer covers it.
	compressed.Messages[0][0] ^= 0x01

	session := f.dial(t, address)
	require.NoError(session.SendMessage(*compressed))
	require.NoError(session.SendMessage(true))

	_, err := session.Receive()
	require.Error(err)
}

func TestUnderPowerCertificateClosesSession(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	_, _, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 16)
	session := f.dial(t, address)

	f.witnessPhase(t, session, compressed, b.Root(), true)

	// A single-signer certificate is below plurality.
	require.NoError(session.SendMessage(*f.certificate(t, b.Root(), 1)))

	_, err := session.Receive()
	require.Error(err)
}

func TestDeliveryDropsUncertifiedRoots(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, oracle, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 16)
	root := b.Root()

	// Park the batch without completing the order phase.
	session := f.dial(t, address)
	f.witnessPhase(t, session, compressed, root, true)

	// An under-certified submission is dropped without releasing anything.
	weak, err := EncodeSubmission(root, f.certificate(t, root, 1))
	require.NoError(err)
	require.NoError(oracle.Order(context.Background(), weak))

	_, ok := nextBatchWithin(t, s, 300*time.Millisecond)
	require.False(ok)

	// A subsequent valid delivery still goes through.
	strong, err := EncodeSubmission(root, f.witnessCertificate(t, root))
	require.NoError(err)
	require.NoError(oracle.Order(context.Background(), strong))

	released, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
	require.Equal(root, released.Root())
}

func TestDeliveryDropsMalformedBlobs(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, oracle, address := f.startServer(t)

	require.NoError(oracle.Order(context.Background(), []byte("garbage")))

	b, compressed := f.randomBatch(t, 16)
	session := f.dial(t, address)
	f.witnessPhase(t, session, compressed, b.Root(), true)

	valid, err := EncodeSubmission(b.Root(), f.witnessCertificate(t, b.Root()))
	require.NoError(err)
	require.NoError(oracle.Order(context.Background(), valid))

	released, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
	require.Equal(b.Root(), released.Root())
}

func TestDeliveryPollsUntilParked(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 4, 100)
	s, oracle, address := f.startServer(t)

	b, compressed := f.randomBatch(t, 16)
	root := b.Root()

	// The total order releases the root before anyone parked the batch.
	valid, err := EncodeSubmission(root, f.witnessCertificate(t, root))
	require.NoError(err)
	require.NoError(oracle.Order(context.Background(), valid))

	_, ok := nextBatchWithin(t, s, 100*time.Millisecond)
	require.False(ok)

	// Once some accept path parks it, the poll picks it up.
	session := f.dial(t, address)
	f.witnessPhase(t, session, compressed, root, true)

	released, ok := nextBatchWithin(t, s, 5*time.Second)
	require.True(ok)
	require.Equal(root, released.Root())
}
