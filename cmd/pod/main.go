// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// The pod command binds the broker/server pipeline: key generation, running
// a quorum-group server, and driving broadcast load against one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pod",
	Short: "Broker and server pipeline for certified atomic broadcast",
	Long: `pod runs the client-facing pipeline of a Byzantine fault-tolerant atomic
broadcast service: servers witness authenticated batches and feed certified
roots through a total-order oracle; brokers drive each batch to a plurality
of witnesses and a quorum of order shares.`,
}

func main() {
	rootCmd.AddCommand(
		keygenCmd(),
		serverCmd(),
		brokerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
