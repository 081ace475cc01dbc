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

package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os/signal"
	"syscall"
	"time"

	"github.com/geneledger/geneledger"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Options converts the loaded configuration into node options
func Options(
	cfg *config.Config,
	logger *slog.Logger,
) ([]geneledger.ConfigOptionFunc, error) {
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return nil, err
	}
	durations, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}
	opts := []geneledger.ConfigOptionFunc{
		geneledger.WithLogger(logger),
		geneledger.WithDatabasePath(cfg.DatabasePath),
		geneledger.WithBlobPlugin(cfg.BlobPlugin),
		geneledger.WithMetadataPlugin(cfg.MetadataPlugin),
		geneledger.WithAdmins(admins...),
		geneledger.WithAutoActivate(cfg.AutoActivate),
		geneledger.WithMinProposalReputation(cfg.MinProposalReputation),
		geneledger.WithExecutionReputationReward(cfg.ExecutionReputationReward),
		geneledger.WithVerificationThreshold(cfg.VerificationThreshold),
		geneledger.WithLockTimeout(durations.Lock),
		geneledger.WithExecutionTimeout(durations.Execution),
		geneledger.WithIssuanceTimeout(durations.Issuance),
		geneledger.WithSweepInterval(durations.Sweep),
		geneledger.WithShutdownTimeout(durations.Shutdown),
		geneledger.WithTracing(cfg.Tracing),
		geneledger.WithTracingStdout(cfg.TracingStdout),
	}
	if cfg.VoteWeighting != "" {
		weighting, err := governance.ParseVoteWeighting(cfg.VoteWeighting)
		if err != nil {
			return nil, err
		}
		opts = append(opts, geneledger.WithVoteWeighting(weighting))
	}
	return opts, nil
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	if len(cfg.Admins) == 0 {
		return config.ErrNoAdmins
	}
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	// Shutdown timeout for the metrics listener
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	opts = append(
		opts,
		// Enable metrics with default prometheus registry
		geneledger.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	)
	n, err := geneledger.New(geneledger.NewConfig(opts...))
	if err != nil {
		return err
	}
	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	metricsAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort)
	logger.Info(
		"serving prometheus metrics on "+metricsAddr,
		"component", "node",
	)
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, ctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Run returns once ctx is done and the node has stopped
		err := n.Run(ctx)
		if err != nil {
			logger.Error("node error", "component", "node", "error", err)
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		if signalCtx.Err() != nil {
			logger.Info(
				"signal received, initiating graceful shutdown",
				"component", "node",
			)
		}
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(
				"metrics server shutdown error",
				"component", "node",
				"error", err,
			)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete", "component", "node")
	return nil
}
