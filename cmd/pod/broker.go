// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/Distributed-EPFL/pod/batch"
	"github.com/Distributed-EPFL/pod/broker"
	"github.com/Distributed-EPFL/pod/config"
	"github.com/Distributed-EPFL/pod/directory"
	"github.com/Distributed-EPFL/pod/membership"
	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/Distributed-EPFL/pod/transport"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func brokerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Synthesize batches and broadcast them against the server set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBroker(configPath)
			if err != nil {
				return err
			}

			logger := log.New("pod.broker")

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

			addresses := make(map[ids.ID]string, len(cfg.Servers))
			for _, entry := range cfg.Servers {
				identity, err := ids.FromString(entry.Identity)
				if err != nil {
					return fmt.Errorf("parse server identity %q: %w", entry.Identity, err)
				}
				addresses[identity] = entry.Address
			}
			connector := transport.NewTCPConnector(addresses)

			batches := make([]batch.CompressedBatch, cfg.Batches)
			for index := range batches {
				synthesized, err := batch.Random(d, keychains, cfg.BatchSize)
				if err != nil {
					return err
				}
				compressed, err := synthesized.Compress()
				if err != nil {
					return err
				}
				batches[index] = *compressed
			}
			logger.Info("batches synthesized",
				zap.Int("batches", cfg.Batches),
				zap.Int("batchSize", cfg.BatchSize),
			)

			lb, err := broker.New(m, connector, batches, broker.WithLogger(logger))
			if err != nil {
				return err
			}

			for index := range batches {
				orderCertificate, err := lb.Broadcast(cmd.Context(), index)
				if err != nil {
					return err
				}
				logger.Info("broadcast complete",
					zap.Int("index", index),
					zap.Int("orderPower", orderCertificate.Power()),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "broker.yaml", "broker configuration file")
	return cmd
}
