// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the deployment configuration of servers and brokers.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAddress  = errors.New("missing address")
	ErrMissingAssets   = errors.New("missing asset path")
	ErrUnknownOracle   = errors.New("unknown oracle kind")
	ErrInvalidInterval = errors.New("invalid interval")
)

// Oracle selects and parameterizes a total-order backend.
type Oracle struct {
	// Kind is one of "loopback", "hotstuff", "bftsmart".
	Kind string `json:"kind" yaml:"kind"`

	// Address of the backend endpoint; unused by loopback.
	Address string `json:"address" yaml:"address"`

	// ClientID identifies this client to BFT-SMaRt.
	ClientID uint32 `json:"clientId" yaml:"clientId"`
}

func (o Oracle) Verify() error {
	switch o.Kind {
	case "loopback":
		return nil
	case "hotstuff", "bftsmart":
		if o.Address == "" {
			return fmt.Errorf("%w: %s oracle", ErrMissingAddress, o.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOracle, o.Kind)
	}
}

// Server configures one quorum-group member.
type Server struct {
	// BindAddress is the session listener endpoint.
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`

	// MetricsAddress serves prometheus metrics; empty disables it.
	MetricsAddress string `json:"metricsAddress" yaml:"metricsAddress"`

	// Membership, Directory, and Passepartout are asset file paths.
	Membership   string `json:"membership" yaml:"membership"`
	Directory    string `json:"directory" yaml:"directory"`
	Passepartout string `json:"passepartout" yaml:"passepartout"`

	// Identity selects this server's keychain from the passepartout.
	Identity string `json:"identity" yaml:"identity"`

	Oracle Oracle `json:"oracle" yaml:"oracle"`

	// VerifyConcurrency bounds concurrent batch verifications; zero keeps
	// the default.
	VerifyConcurrency int64 `json:"verifyConcurrency" yaml:"verifyConcurrency"`

	// BatchPollMillis is the parking-map poll cadence in milliseconds; zero
	// keeps the default.
	BatchPollMillis int `json:"batchPollMillis" yaml:"batchPollMillis"`

	// MaxParked caps the parking map; zero keeps the default.
	MaxParked int `json:"maxParked" yaml:"maxParked"`
}

func (s Server) Verify() error {
	if s.BindAddress == "" {
		return fmt.Errorf("%w: bindAddress", ErrMissingAddress)
	}
	for name, path := range map[string]string{
		"membership":   s.Membership,
		"directory":    s.Directory,
		"passepartout": s.Passepartout,
	} {
		if path == "" {
			return fmt.Errorf("%w: %s", ErrMissingAssets, name)
		}
	}
	if s.BatchPollMillis < 0 {
		return fmt.Errorf("%w: batchPollMillis", ErrInvalidInterval)
	}
	return s.Oracle.Verify()
}

// BatchPoll returns the configured poll cadence as a duration.
func (s Server) BatchPoll() time.Duration {
	return time.Duration(s.BatchPollMillis) * time.Millisecond
}

// ServerAddress binds a server identity to its dialable endpoint.
type ServerAddress struct {
	Identity string `json:"identity" yaml:"identity"`
	Address  string `json:"address" yaml:"address"`
}

// Broker configures a load broker.
type Broker struct {
	// Membership, Directory, and Passepartout are asset file paths. The
	// passepartout supplies the client keychains batches are signed with.
	Membership   string `json:"membership" yaml:"membership"`
	Directory    string `json:"directory" yaml:"directory"`
	Passepartout string `json:"passepartout" yaml:"passepartout"`

	// Servers maps every membership identity to an address.
	Servers []ServerAddress `json:"servers" yaml:"servers"`

	// Batches to synthesize and broadcast, each of BatchSize payloads.
	Batches   int `json:"batches" yaml:"batches"`
	BatchSize int `json:"batchSize" yaml:"batchSize"`
}

func (b Broker) Verify() error {
	for name, path := range map[string]string{
		"membership":   b.Membership,
		"directory":    b.Directory,
		"passepartout": b.Passepartout,
	} {
		if path == "" {
			return fmt.Errorf("%w: %s", ErrMissingAssets, name)
		}
	}
	if len(b.Servers) == 0 {
		return fmt.Errorf("%w: servers", ErrMissingAddress)
	}
	if b.Batches <= 0 || b.BatchSize <= 0 {
		return fmt.Errorf("%w: batches and batchSize must be positive", ErrInvalidInterval)
	}
	return nil
}

// LoadServer reads and verifies a server configuration.
func LoadServer(path string) (*Server, error) {
	server := new(Server)
	if err := load(path, server); err != nil {
		return nil, err
	}
	return server, server.Verify()
}

// LoadBroker reads and verifies a broker configuration.
func LoadBroker(path string) (*Broker, error) {
	broker := new(Broker)
	if err := load(path, broker); err != nil {
		return nil, err
	}
	return broker, broker.Verify()
}

func load(path string, into interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, into)
}
