// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package geneledger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/governance"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry              prometheus.Registerer
	logger                    *slog.Logger
	clock                     clockwork.Clock
	executor                  governance.Executor
	issuer                    badge.Issuer
	dataDir                   string
	blobPlugin                string
	metadataPlugin            string
	admins                    []common.Address
	voteWeighting             governance.VoteWeighting
	minProposalReputation     uint64
	executionReputationReward uint64
	verificationThreshold     uint32
	autoActivate              bool
	tracing                   bool
	tracingStdout             bool
	lockTimeout               time.Duration
	executionTimeout          time.Duration
	issuanceTimeout           time.Duration
	sweepInterval             time.Duration
	shutdownTimeout           time.Duration
}

func (c *Config) validate() error {
	if len(c.admins) == 0 {
		return errors.New("at least one administrator is required")
	}
	for _, admin := range c.admins {
		if admin == (common.Address{}) {
			return errors.New("administrator address must not be zero")
		}
	}
	if c.voteWeighting != "" {
		if _, err := governance.ParseVoteWeighting(string(c.voteWeighting)); err != nil {
			return err
		}
	}
	for name, d := range map[string]time.Duration{
		"lock timeout":      c.lockTimeout,
		"execution timeout": c.executionTimeout,
		"issuance timeout":  c.issuanceTimeout,
		"sweep interval":    c.sweepInterval,
		"shutdown timeout":  c.shutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative: %s", name, d)
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		voteWeighting: governance.WeightingLinear,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithClock specifies the clock used for timestamps, deadlines and the sweeper
func WithClock(clock clockwork.Clock) ConfigOptionFunc {
	return func(c *Config) {
		c.clock = clock
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithAdmins specifies the addresses allowed to run privileged operations
func WithAdmins(admins ...common.Address) ConfigOptionFunc {
	return func(c *Config) {
		c.admins = append(c.admins, admins...)
	}
}

// WithExecutor specifies the collaborator that carries out passed proposals. Execution is a no-op by default
func WithExecutor(executor governance.Executor) ConfigOptionFunc {
	return func(c *Config) {
		c.executor = executor
	}
}

// WithIssuer specifies the badge minter. Credential requests are not dispatched when no issuer is set
func WithIssuer(issuer badge.Issuer) ConfigOptionFunc {
	return func(c *Config) {
		c.issuer = issuer
	}
}

// WithAutoActivate makes new proposals open for voting immediately
func WithAutoActivate(autoActivate bool) ConfigOptionFunc {
	return func(c *Config) {
		c.autoActivate = autoActivate
	}
}

// WithVoteWeighting selects linear or quadratic vote weights
func WithVoteWeighting(weighting governance.VoteWeighting) ConfigOptionFunc {
	return func(c *Config) {
		c.voteWeighting = weighting
	}
}

// WithMinProposalReputation specifies the reputation required to create a proposal
func WithMinProposalReputation(reputation uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.minProposalReputation = reputation
	}
}

// WithExecutionReputationReward specifies the reputation awarded to the author of an executed proposal
func WithExecutionReputationReward(reward uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.executionReputationReward = reward
	}
}

// WithVerificationThreshold specifies how many attestations verify a protocol. The default is 3
func WithVerificationThreshold(threshold uint32) ConfigOptionFunc {
	return func(c *Config) {
		c.verificationThreshold = threshold
	}
}

// WithLockTimeout specifies how long a write waits for its entity locks before failing with a conflict
func WithLockTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.lockTimeout = timeout
	}
}

// WithExecutionTimeout specifies how long the executor may take to carry out a proposal
func WithExecutionTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.executionTimeout = timeout
	}
}

// WithIssuanceTimeout specifies how long the issuer may take to mint a badge
func WithIssuanceTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.issuanceTimeout = timeout
	}
}

// WithSweepInterval specifies how often due proposals and rounds are swept. The default is 30 seconds
func WithSweepInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sweepInterval = interval
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
