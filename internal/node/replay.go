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

	"github.com/geneledger/geneledger"
	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/facade"
	"github.com/geneledger/geneledger/internal/config"
	"github.com/geneledger/geneledger/ledger"
)

// Replay opens the database, replays the event log and verifies that a
// second replay produces the same projection
func Replay(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
) (ledger.StateSummary, error) {
	// Load database
	db, err := database.New(&database.Config{
		DataDir:        cfg.DatabasePath,
		Logger:         logger,
		BlobPlugin:     cfg.BlobPlugin,
		MetadataPlugin: cfg.MetadataPlugin,
	})
	if err != nil {
		if db != nil {
			err = errors.Join(err, db.Close())
		}
		return ledger.StateSummary{}, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	store, err := ledger.NewStore(db, ledger.WithLogger(logger))
	if err != nil {
		return ledger.StateSummary{}, err
	}
	logger.Info("replaying ledger events", "component", "node")
	if err := store.Load(ctx); err != nil {
		return ledger.StateSummary{}, fmt.Errorf("failed to load ledger: %w", err)
	}
	if err := store.Rebuild(ctx); err != nil {
		return ledger.StateSummary{}, fmt.Errorf("failed to verify ledger: %w", err)
	}
	summary := store.Summary()
	logger.Info(
		"finished replaying ledger events",
		"component", "node",
		"last_seq", summary.LastSeq,
	)
	return summary, nil
}

// WithFacade starts a node from the loaded configuration, calls fn and stops
// the node again. It is used by one-shot administrative commands
func WithFacade(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	fn func(*facade.Facade) error,
) error {
	opts, err := Options(cfg, logger)
	if err != nil {
		return err
	}
	n, err := geneledger.New(geneledger.NewConfig(opts...))
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return errors.Join(err, n.Stop())
	}
	fnErr := fn(n.Facade())
	return errors.Join(fnErr, n.Stop())
}
