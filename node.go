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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/facade"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

type Node struct {
	config         Config
	db             *database.Database
	store          *ledger.Store
	eventBus       *event.EventBus
	governance     *governance.Engine
	funding        *funding.Engine
	badge          *badge.Engine
	facade         *facade.Facade
	sweeper        *facade.Sweeper
	dispatcher     *badge.Dispatcher
	tracerProvider trace.TracerProvider
	shutdownFuncs  []func(context.Context) error
	started        bool
	startMu        sync.Mutex
	shutdownOnce   sync.Once
}

func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	n := &Node{
		config:   cfg,
		eventBus: event.NewEventBus(cfg.promRegistry, cfg.logger),
	}
	return n, nil
}

// Start opens the database, loads the ledger and starts the background
// workers. The returned node serves requests through Facade until Stop
func (n *Node) Start(ctx context.Context) error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if n.started {
		return errors.New("node already started")
	}
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        n.config.dataDir,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
	})
	if db != nil {
		n.db = db
		n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
			return db.Close()
		})
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// Load ledger
	n.store, err = ledger.NewStore(
		n.db,
		ledger.WithLogger(n.config.logger),
		ledger.WithClock(n.config.clock),
		ledger.WithPromRegistry(n.config.promRegistry),
		ledger.WithLockTimeout(n.config.lockTimeout),
		ledger.WithCommitHook(event.LedgerCommitHook(n.eventBus)),
	)
	if err != nil {
		return err
	}
	if err := n.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}
	// Engines
	n.governance, err = governance.New(n.store, governance.Config{
		Logger:                    n.config.logger,
		PromRegistry:              n.config.promRegistry,
		Clock:                     n.config.clock,
		Executor:                  n.config.executor,
		AutoActivate:              n.config.autoActivate,
		AutoRegister:              true,
		VoteWeighting:             n.config.voteWeighting,
		MinProposalReputation:     n.config.minProposalReputation,
		ExecutionTimeout:          n.config.executionTimeout,
		ExecutionReputationReward: n.config.executionReputationReward,
	})
	if err != nil {
		return err
	}
	n.funding, err = funding.New(n.store, funding.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Clock:        n.config.clock,
		AutoRegister: true,
	})
	if err != nil {
		return err
	}
	n.badge, err = badge.New(n.store, badge.Config{
		Logger:                n.config.logger,
		PromRegistry:          n.config.promRegistry,
		Clock:                 n.config.clock,
		VerificationThreshold: n.config.verificationThreshold,
		AutoRegister:          true,
	})
	if err != nil {
		return err
	}
	n.facade, err = facade.New(n.store, n.governance, n.funding, n.badge, facade.Config{
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
		TracerProvider: n.tracer(),
		EventBus:       n.eventBus,
		Admins:         n.config.admins,
	})
	if err != nil {
		return err
	}
	// Badge issuance
	if n.config.issuer != nil {
		n.dispatcher, err = badge.NewDispatcher(
			n.eventBus,
			n.config.issuer,
			n.facade,
			badge.DispatcherConfig{
				Logger:          n.config.logger,
				PromRegistry:    n.config.promRegistry,
				IssuanceTimeout: n.config.issuanceTimeout,
			},
		)
		if err != nil {
			return err
		}
		n.dispatcher.Start()
	}
	// Sweeper
	n.sweeper = facade.NewSweeper(n.facade, facade.SweeperConfig{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Clock:        n.config.clock,
		Interval:     n.config.sweepInterval,
	})
	if err := n.sweeper.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	n.started = true
	n.config.logger.Info(
		"node started",
		"component", "node",
		"last_seq", n.store.LastSeq(),
	)
	return nil
}

// Run starts the node and blocks until ctx is done, then shuts it down
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return errors.Join(err, n.Stop())
	}
	<-ctx.Done()
	return n.Stop()
}

// Facade returns the entry point for callers. It is nil until the node is started
func (n *Node) Facade() *facade.Facade {
	return n.facade
}

// Store returns the ledger store. It is nil until the node is started
func (n *Node) Store() *ledger.Store {
	return n.store
}

// EventBus returns the bus committed ledger events are published on
func (n *Node) EventBus() *event.EventBus {
	return n.eventBus
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown", "component", "node")

	// Phase 1: Stop accepting new work
	if n.sweeper != nil {
		n.sweeper.Stop()
	}
	if n.dispatcher != nil {
		n.dispatcher.Stop()
	}

	// Phase 2: Stop event delivery
	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	// Phase 3: Cleanup resources, in reverse order of creation
	for i := len(n.shutdownFuncs) - 1; i >= 0; i-- {
		if fnErr := n.shutdownFuncs[i](ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete", "component", "node")
	return err
}
