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

package facade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultSweepInterval = 30 * time.Second

type SweeperConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Clock        clockwork.Clock
	Interval     time.Duration
}

// SweepResult counts the transitions made by one sweep
type SweepResult struct {
	Recovered   int
	Finalized   int
	Settled     int
	Redelivered int
}

// Sweeper periodically moves time-driven state forward: it reverts
// unconfirmed executions, finalizes proposals and settles rounds past their
// end, and re-requests issuance of unissued credentials. Every step checks
// the current state first, so overlapping or repeated sweeps are harmless
type Sweeper struct {
	facade   *Facade
	logger   *slog.Logger
	clock    clockwork.Clock
	interval time.Duration
	metrics  sweeperMetrics
	mu       sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewSweeper(f *Facade, cfg SweeperConfig) *Sweeper {
	s := &Sweeper{
		facade:   f,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		interval: cfg.Interval,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "sweeper")
	if s.clock == nil {
		s.clock = f.clock
	}
	if s.interval <= 0 {
		s.interval = DefaultSweepInterval
	}
	s.metrics.init(cfg.PromRegistry)
	return s
}

// Sweep runs a single pass. Errors from each step are joined and the
// remaining steps still run
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var ret SweepResult
	var errs []error
	var err error
	if ret.Recovered, err = s.facade.governance.RecoverExecuting(ctx); err != nil {
		errs = append(errs, fmt.Errorf("recover executions: %w", err))
	}
	if ret.Finalized, err = s.facade.governance.FinalizeDue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("finalize proposals: %w", err))
	}
	if ret.Settled, err = s.facade.funding.SettleDue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("settle rounds: %w", err))
	}
	if s.facade.bus != nil {
		ret.Redelivered = s.facade.badge.Redeliver(s.facade.bus)
	}
	s.metrics.duration.Observe(time.Since(start).Seconds())
	s.metrics.actions.WithLabelValues("recovered").Add(float64(ret.Recovered))
	s.metrics.actions.WithLabelValues("finalized").Add(float64(ret.Finalized))
	s.metrics.actions.WithLabelValues("settled").Add(float64(ret.Settled))
	s.metrics.actions.WithLabelValues("redelivered").Add(float64(ret.Redelivered))
	err = errors.Join(errs...)
	if err != nil {
		s.metrics.sweeps.WithLabelValues("error").Inc()
		return ret, err
	}
	s.metrics.sweeps.WithLabelValues("ok").Inc()
	return ret, nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
	if res != (SweepResult{}) {
		s.logger.Info(
			"sweep completed",
			"recovered", res.Recovered,
			"finalized", res.Finalized,
			"settled", res.Settled,
			"redelivered", res.Redelivered,
		)
	}
}

// Start runs a sweep immediately and then every interval until Stop is
// called or ctx is done
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return errors.New("sweeper already started")
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	s.stopCh = stopCh
	s.doneCh = doneCh
	ticker := s.clock.NewTicker(s.interval)
	go func() {
		defer close(doneCh)
		defer ticker.Stop()
		s.sweep(ctx)
		for {
			select {
			case <-ticker.Chan():
				s.sweep(ctx)
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("sweeper started", "interval", s.interval.String())
	return nil
}

// Stop ends the sweep loop and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
