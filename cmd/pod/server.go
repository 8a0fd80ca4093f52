// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Distributed-EPFL/pod/broadcast"
	"github.com/Distributed-EPFL/pod/config"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/Distributed-EPFL/pod/server"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serverCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run one quorum-group server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}

			logger := log.New("pod.server")

			m, err := membership.Load(cfg.Membership)
			if err != nil {
				return err
			}
			d, err := directory.Load(cfg.Directory)
			if err != nil {
				return err
			}
			keychains, err := passepartout.Load(cfg.Passepartout)
			if err != nil {
				return err
			}

			identity, err := ids.FromString(cfg.Identity)
			if err != nil {
				return fmt.Errorf("parse identity: %w", err)
			}
			keychain, ok := keychains.Keychain(identity)
			if !ok {
				return fmt.Errorf("no keychain for identity %s", identity)
			}

			oracle, err := dialOracle(cmd.Context(), cfg.Oracle)
			if err != nil {
				return err
			}

			listener, err := transport.Listen(cfg.BindAddress)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()

			opts := []server.Option{
				server.WithLogger(logger),
				server.WithRegisterer(registry),
			}
			if cfg.VerifyConcurrency > 0 {
				opts = append(opts, server.WithVerifyConcurrency(cfg.VerifyConcurrency))
			}
			if cfg.BatchPollMillis > 0 {
				opts = append(opts, server.WithBatchPoll(cfg.BatchPoll()))
			}
			if cfg.MaxParked > 0 {
				opts = append(opts, server.WithMaxParked(cfg.MaxParked))
			}

			s, err := server.New(keychain, m, d, oracle, listener, opts...)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			if cfg.MetricsAddress != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
						logger.Warn("metrics endpoint failed", zap.Error(err))
					}
				}()
			}

			logger.Info("server running",
				zap.String("bind", listener.Address()),
				zap.Stringer("identity", identity),
			)

			for {
				released, err := s.NextBatch(cmd.Context())
				if err != nil {
					return err
				}
				logger.Info("batch released",
					zap.Stringer("root", released.Root()),
					zap.Int("payloads", len(released.Payloads())),
				)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "server.yaml", "server configuration file")
	return cmd
}

func dialOracle(ctx context.Context, cfg config.Oracle) (broadcast.Broadcast, error) {
	switch cfg.Kind {
	case "loopback":
		return broadcast.NewLoopBack(), nil
	case "hotstuff":
		return broadcast.DialHotStuff(ctx, cfg.Address)
	case "bftsmart":
		return broadcast.DialBftSmart(ctx, cfg.ClientID, cfg.Address)
	default:
		return nil, fmt.Errorf("unknown oracle kind %q", cfg.Kind)
	}
}
