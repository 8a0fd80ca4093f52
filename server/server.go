// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server implements one member of the quorum group: it witnesses
// batch submissions, forwards certified roots to the total-order oracle, and
// releases parked batches to the application in delivery order.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Distributed-EPFL/pod/batch"
	"github.com/Distributed-EPFL/pod/broadcast"
	"github.com/Distributed-EPFL/pod/crypto"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultVerifyConcurrency bounds concurrent batch verifications.
	DefaultVerifyConcurrency = 128

	// DefaultBatchPoll is the cadence at which the delivery loop re-checks
	// the parking map for a root it has not seen parked yet.
	DefaultBatchPoll = 100 * time.Millisecond

	// DefaultMaxParked caps the parking map. When full, the oldest parked
	// batch is evicted to make room.
	DefaultMaxParked = 1024
)

// ErrWitnessInvalid flags a certificate that does not meet plurality over
// the witness statement of the submitted root.
var ErrWitnessInvalid = errors.New("witness certificate invalid")

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger log.Logger) Option {
	return func(s *Server) { s.log = logger }
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = registerer }
}

func WithVerifyConcurrency(limit int64) Option {
	return func(s *Server) { s.sem = semaphore.NewWeighted(limit) }
}

func WithBatchPoll(poll time.Duration) Option {
	return func(s *Server) { s.batchPoll = poll }
}

func WithMaxParked(limit int) Option {
	return func(s *Server) { s.maxParked = limit }
}

// Server accepts batch submissions and releases them after total order.
type Server struct {
	keychain   *crypto.Keychain
	membership *membership.Membership
	directory  *directory.Directory
	oracle     broadcast.Broadcast
	listener   *transport.Listener

	log        log.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	sem       *semaphore.Weighted
	batchPoll time.Duration
	maxParked int

	mu        sync.Mutex
	parked    map[ids.ID]*batch.Batch
	parkOrder []ids.ID

	delivered chan *batch.Batch

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a server and spawns its accept and delivery loops. Shutdown
// stops both.
func New(
	keychain *crypto.Keychain,
	m *membership.Membership,
	d *directory.Directory,
	oracle broadcast.Broadcast,
	listener *transport.Listener,
	opts ...Option,
) (*Server, error) {
	s := &Server{
		keychain:   keychain,
		membership: m,
		directory:  d,
		oracle:     oracle,
		listener:   listener,
		log:        log.NewNoOpLogger(),
		registerer: prometheus.NewRegistry(),
		sem:        semaphore.NewWeighted(DefaultVerifyConcurrency),
		batchPoll:  DefaultBatchPoll,
		maxParked:  DefaultMaxParked,
		parked:     make(map[ids.ID]*batch.Batch),
		delivered:  make(chan *batch.Batch),
	}
	for _, opt := range opts {
		opt(s)
	}

	collected, err := newMetrics(s.registerer)
	if err != nil {
		return nil, err
	}
	s.metrics = collected

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.listen(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.deliver(ctx)
	}()

	return s, nil
}

// NextBatch blocks until the next batch is released by the total order.
func (s *Server) NextBatch(ctx context.Context) (*batch.Batch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case released := <-s.delivered:
		return released, nil
	}
}

// Shutdown cancels both loops and waits for them to drain.
func (s *Server) Shutdown() {
	s.cancel()
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) listen(ctx context.Context) {
	for {
		session, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("accept failed", zap.Error(err))
			continue
		}

		s.metrics.sessions.Inc()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.serve(ctx, session); err != nil {
				s.log.Debug("session closed", zap.Error(err))
			}
		}()
	}
}

// serve runs the per-session protocol: batch in, optional witness share out,
// certificate in, order share out. All errors are local and end the session;
// the broker retries.
func (s *Server) serve(ctx context.Context, session *transport.Session) error {
	defer session.End()

	// A cancelled fuse unblocks any in-flight read by tearing the session
	// down; the session error path does the rest.
	stop := context.AfterFunc(ctx, session.End)
	defer stop()

	var compressed batch.CompressedBatch
	if err := session.ReceiveMessage(&compressed); err != nil {
		return err
	}

	var verify bool
	if err := session.ReceiveMessage(&verify); err != nil {
		return err
	}

	root, witness, err := s.process(ctx, &compressed, verify)
	if err != nil {
		return err
	}

	if witness != nil {
		if err := session.Send(bls.SignatureToBytes(witness)); err != nil {
			return err
		}
	}

	var certificate membership.Certificate
	if err := session.ReceiveMessage(&certificate); err != nil {
		return err
	}

	if err := certificate.VerifyPlurality(s.membership, NewWitnessStatement(root)); err != nil {
		return fmt.Errorf("%w: %v", ErrWitnessInvalid, err)
	}

	submission, err := EncodeSubmission(root, &certificate)
	if err != nil {
		return err
	}
	if err := s.oracle.Order(ctx, submission); err != nil {
		return err
	}

	orderShare, err := s.keychain.MultiSign(NewOrderStatement(root))
	if err != nil {
		return err
	}
	if err := session.Send(bls.SignatureToBytes(orderShare)); err != nil {
		return err
	}

	s.log.Debug("session served", zap.Stringer("root", root), zap.Bool("verify", verify))
	return nil
}

// process decompresses, optionally verifies, parks, and signs. The
// verification semaphore gates the CPU-heavy section.
func (s *Server) process(ctx context.Context, compressed *batch.CompressedBatch, verify bool) (ids.ID, *bls.Signature, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return ids.Empty, nil, err
	}
	defer s.sem.Release(1)

	decompressed, err := compressed.Decompress()
	if err != nil {
		s.metrics.invalidBatches.Inc()
		return ids.Empty, nil, err
	}
	root := decompressed.Root()

	var witness *bls.Signature
	if verify {
		if err := decompressed.Verify(s.directory); err != nil {
			s.metrics.invalidBatches.Inc()
			return ids.Empty, nil, err
		}

		witness, err = s.keychain.MultiSign(NewWitnessStatement(root))
		if err != nil {
			return ids.Empty, nil, err
		}
		s.metrics.witnessed.Inc()
	}

	s.park(root, decompressed)
	return root, witness, nil
}

// park retains the batch until the total order releases it. Parking is
// idempotent under the same root.
func (s *Server) park(root ids.ID, b *batch.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parked[root]; ok {
		return
	}

	for len(s.parked) >= s.maxParked && len(s.parkOrder) > 0 {
		oldest := s.parkOrder[0]
		s.parkOrder = s.parkOrder[1:]
		if _, ok := s.parked[oldest]; ok {
			delete(s.parked, oldest)
			s.log.Warn("parking full, evicted batch", zap.Stringer("root", oldest))
		}
	}

	s.parked[root] = b
	s.parkOrder = append(s.parkOrder, root)
	s.metrics.parked.Set(float64(len(s.parked)))
}

// take removes and returns the parked batch for [root], if present.
func (s *Server) take(root ids.ID) (*batch.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.parked[root]
	if !ok {
		return nil, false
	}
	delete(s.parked, root)
	s.metrics.parked.Set(float64(len(s.parked)))
	return b, true
}

// deliver pulls the total order and releases parked batches. Any peer may
// have submitted a (root, certificate) pair, so the certificate is
// re-verified before the root is honored.
func (s *Server) deliver(ctx context.Context) {
	timer := time.NewTimer(s.batchPoll)
	defer timer.Stop()

	for {
		blob, err := s.oracle.Deliver(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("oracle delivery failed", zap.Error(err))
			continue
		}

		root, certificate, err := DecodeSubmission(blob)
		if err != nil {
			s.metrics.droppedDeliveries.Inc()
			s.log.Debug("dropped malformed delivery", zap.Error(err))
			continue
		}

		if err := certificate.VerifyPlurality(s.membership, NewWitnessStatement(root)); err != nil {
			s.metrics.droppedDeliveries.Inc()
			s.log.Warn("dropped under-certified delivery",
				zap.Stringer("root", root),
				zap.Error(err),
			)
			continue
		}

		for {
			if released, ok := s.take(root); ok {
				select {
				case s.delivered <- released:
				case <-ctx.Done():
					return
				}
				s.metrics.delivered.Inc()
				s.log.Info("batch delivered", zap.Stringer("root", root))
				break
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.batchPoll)

			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
	}
}
