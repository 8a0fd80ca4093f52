// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broker drives batches through the two-phase witness protocol: fan
// the batch out to every server, aggregate a plurality of witness shares
// into a certificate, publish it back, and collect order shares.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Distributed-EPFL/pod/batch"
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/server"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/Distributed-EPFL/pod/utils/sampler"
	"github.com/Distributed-EPFL/pod/utils/set"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"go.uber.org/zap"
)

var (
	ErrConnectFailed   = errors.New("connect failed")
	ErrConnectionError = errors.New("connection error")
)

// Option configures a LoadBroker.
type Option func(*LoadBroker)

func WithLogger(logger log.Logger) Option {
	return func(lb *LoadBroker) { lb.log = logger }
}

// WithSampler overrides the verifier sampler, for deterministic tests.
func WithSampler(uniform sampler.Uniform) Option {
	return func(lb *LoadBroker) { lb.sampler = uniform }
}

// LoadBroker holds a preassembled sequence of batches and broadcasts them
// one at a time.
type LoadBroker struct {
	membership *membership.Membership
	connector  transport.Connector
	batches    []batch.CompressedBatch
	roots      []ids.ID

	log     log.Logger
	sampler sampler.Uniform
}

// New builds a broker over [batches]. Roots are precomputed so witness and
// order shares can be checked as they arrive.
func New(
	m *membership.Membership,
	connector transport.Connector,
	batches []batch.CompressedBatch,
	opts ...Option,
) (*LoadBroker, error) {
	roots := make([]ids.ID, len(batches))
	for index := range batches {
		decompressed, err := batches[index].Decompress()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", index, err)
		}
		roots[index] = decompressed.Root()
	}

	lb := &LoadBroker{
		membership: m,
		connector:  connector,
		batches:    batches,
		roots:      roots,
		log:        log.NewNoOpLogger(),
		sampler:    sampler.NewUniform(),
	}
	for _, opt := range opts {
		opt(lb)
	}
	return lb, nil
}

// Broadcast submits batch [index] to every server and returns once a
// plurality has witnessed it and a quorum has ordered it. The order shares
// are aggregated symmetrically to the witness phase and the resulting order
// certificate is returned. Submissions to the remaining servers keep running
// in the background until they complete or [ctx] is cancelled.
func (lb *LoadBroker) Broadcast(ctx context.Context, index int) (*membership.Certificate, error) {
	servers := lb.membership.Servers()
	plurality := lb.membership.Plurality()
	quorum := lb.membership.Quorum()
	root := lb.roots[index]

	verifiers, err := lb.sampleVerifiers(plurality)
	if err != nil {
		return nil, err
	}

	// Every verifier publishes exactly one witness share, so the buffered
	// channels double as the one-shot sinks: sends never block, and a task
	// outliving this call cannot leak.
	witnessShares := make(chan membership.Component, plurality)
	orderShares := make(chan membership.Component, len(servers))
	watch := newCertificateWatch()

	for _, keycard := range servers {
		keycard := keycard
		go lb.submit(ctx, index, keycard, verifiers.Contains(keycard.Identity()), witnessShares, watch, orderShares)
	}

	components := make([]membership.Component, 0, plurality)
	for len(components) < plurality {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case component := <-witnessShares:
			components = append(components, component)
		}
	}

	certificate := membership.AggregatePlurality(lb.membership, components)
	watch.publish(certificate)
	lb.log.Debug("witness certificate published",
		zap.Stringer("root", root),
		zap.Int("power", certificate.Power()),
	)

	orderComponents := make([]membership.Component, 0, quorum)
	for len(orderComponents) < quorum {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case component := <-orderShares:
			orderComponents = append(orderComponents, component)
		}
	}

	orderCertificate := membership.AggregateQuorum(lb.membership, orderComponents)
	lb.log.Info("batch broadcast complete",
		zap.Int("index", index),
		zap.Stringer("root", root),
	)
	return orderCertificate, nil
}

// sampleVerifiers uniformly picks a plurality of servers to run the
// expensive batch verification; the rest hold the batch for availability
// only.
func (lb *LoadBroker) sampleVerifiers(plurality int) (set.Set[ids.ID], error) {
	servers := lb.membership.Servers()

	if err := lb.sampler.Initialize(len(servers)); err != nil {
		return nil, err
	}
	indices, ok := lb.sampler.Sample(plurality)
	if !ok {
		return nil, fmt.Errorf("cannot sample %d of %d servers", plurality, len(servers))
	}

	verifiers := set.Of[ids.ID]()
	for _, index := range indices {
		verifiers.Add(servers[index].Identity())
	}
	return verifiers, nil
}

// submit retries until one attempt runs the whole session against [server].
// Transport errors restart the attempt from scratch; the witness share is
// published at most once across attempts.
func (lb *LoadBroker) submit(
	ctx context.Context,
	index int,
	remote crypto.Keycard,
	verifier bool,
	witnessShares chan<- membership.Component,
	watch *certificateWatch,
	orderShares chan<- membership.Component,
) {
	witnessSent := false
	for {
		err := lb.trySubmit(ctx, index, remote, verifier, &witnessSent, witnessShares, watch, orderShares)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		lb.log.Debug("submission attempt failed, retrying",
			zap.Stringer("server", remote.Identity()),
			zap.Int("index", index),
			zap.Error(err),
		)
	}
}

func (lb *LoadBroker) trySubmit(
	ctx context.Context,
	index int,
	remote crypto.Keycard,
	verifier bool,
	witnessSent *bool,
	witnessShares chan<- membership.Component,
	watch *certificateWatch,
	orderShares chan<- membership.Component,
) error {
	root := lb.roots[index]

	session, err := lb.connector.Connect(ctx, remote.Identity())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer session.End()

	stop := context.AfterFunc(ctx, session.End)
	defer stop()

	if err := session.SendMessage(lb.batches[index]); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionError, err)
	}
	if err := session.SendMessage(verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionError, err)
	}

	if verifier {
		frame, err := session.Receive()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionError, err)
		}

		share, err := bls.SignatureFromBytes(frame)
		if err == nil {
			err = crypto.Verify(remote, server.NewWitnessStatement(root), share)
		}
		if err != nil {
			// An honest server never produces an invalid witness share:
			// this is a breached trust assumption, not a runtime error.
			panic(fmt.Sprintf("invalid witness share from %s: %v", remote.Identity(), err))
		}

		if !*witnessSent {
			witnessShares <- membership.Component{Identity: remote.Identity(), Signature: share}
			*witnessSent = true
		}
	}

	certificate, err := watch.wait(ctx)
	if err != nil {
		return err
	}

	if err := session.SendMessage(*certificate); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionError, err)
	}

	frame, err := session.Receive()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionError, err)
	}

	orderShare, err := bls.SignatureFromBytes(frame)
	if err == nil {
		err = crypto.Verify(remote, server.NewOrderStatement(root), orderShare)
	}
	if err != nil {
		panic(fmt.Sprintf("invalid order share from %s: %v", remote.Identity(), err))
	}

	orderShares <- membership.Component{Identity: remote.Identity(), Signature: orderShare}
	return nil
}
