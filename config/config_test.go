// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServer(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "server.yaml", `
bindAddress: 127.0.0.1:7001
membership: assets/membership.bin
directory: assets/directory.bin
passepartout: assets/passepartout.bin
identity: 2oYMBNV4eNHyqk2fjjV5nVQLDbtmNJzq5s3qs3Lo6ftnC6FByM
batchPollMillis: 50
oracle:
  kind: loopback
`)

	cfg, err := LoadServer(path)
	require.NoError(err)
	require.Equal("127.0.0.1:7001", cfg.BindAddress)
	require.Equal(50*time.Millisecond, cfg.BatchPoll())
	require.Equal("loopback", cfg.Oracle.Kind)
}

func TestLoadServerRejectsUnknownOracle(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "server.yaml", `
bindAddress: 127.0.0.1:7001
membership: m.bin
directory: d.bin
passepartout: p.bin
oracle:
  kind: raft
`)

	_, err := LoadServer(path)
	require.ErrorIs(err, ErrUnknownOracle)
}

func TestLoadServerRejectsMissingAssets(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "server.yaml", `
bindAddress: 127.0.0.1:7001
oracle:
  kind: loopback
`)

	_, err := LoadServer(path)
	require.ErrorIs(err, ErrMissingAssets)
}

func TestLoadBroker(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "broker.yaml", `
membership: m.bin
directory: d.bin
passepartout: p.bin
batches: 8
batchSize: 42
servers:
  - identity: 2oYMBNV4eNHyqk2fjjV5nVQLDbtmNJzq5s3qs3Lo6ftnC6FByM
    address: 127.0.0.1:7001
`)

	cfg, err := LoadBroker(path)
	require.NoError(err)
	require.Equal(8, cfg.Batches)
	require.Len(cfg.Servers, 1)
}

func TestLoadBrokerRejectsEmptyServers(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "broker.yaml", `
membership: m.bin
directory: d.bin
passepartout: p.bin
batches: 1
batchSize: 1
servers: []
`)

	_, err := LoadBroker(path)
	require.ErrorIs(err, ErrMissingAddress)
}

func TestOracleHotStuffNeedsAddress(t *testing.T) {
	require := require.New(t)

	err := Oracle{Kind: "hotstuff"}.Verify()
	require.ErrorIs(err, ErrMissingAddress)

	require.NoError(Oracle{Kind: "hotstuff", Address: "127.0.0.1:9000"}.Verify())
}
