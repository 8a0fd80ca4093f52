// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Distributed-EPFL/pod/passepartout"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var (
		size    int
		servers int
		out     string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a deployment's keychains, membership, and directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(out, 0o700); err != nil {
				return err
			}

			keychains, err := passepartout.Random(size)
			if err != nil {
				return err
			}

			m, d, err := keychains.System(servers)
			if err != nil {
				return err
			}

			if err := keychains.Save(filepath.Join(out, "passepartout.bin")); err != nil {
				return err
			}
			if err := m.Save(filepath.Join(out, "membership.bin")); err != nil {
				return err
			}
			if err := d.Save(filepath.Join(out, "directory.bin")); err != nil {
				return err
			}

			for position, server := range m.Servers() {
				fmt.Printf("server %d: %s\n", position, server.Identity())
			}
			fmt.Printf("directory capacity: %d\n", d.Capacity())
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "size", 1000, "total keychains to generate")
	cmd.Flags().IntVar(&servers, "servers", 4, "keychains carved into the server membership")
	cmd.Flags().StringVar(&out, "out", "assets", "output directory")
	return cmd
}
