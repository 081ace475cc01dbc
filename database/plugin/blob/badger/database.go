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


package badger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/geneledger/geneledger/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

var errTxnFinished = errors.New("transaction already finished")

// eventTxn is the types.Txn handed out by BlobStoreBadger
type eventTxn struct {
	store    *BlobStoreBadger
	tx       *badger.Txn
	finished bool
}

func (t *eventTxn) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	return t.tx.Commit()
}

func (t *eventTxn) Rollback() error {
	if !t.finished {
		t.finished = true
		t.tx.Discard()
	}
	return nil
}

// badgerTxn unwraps a transaction opened by this store
func (d *BlobStoreBadger) badgerTxn(txn types.Txn) (*badger.Txn, error) {
	if txn == nil {
		return nil, types.ErrNilTxn
	}
	t, ok := txn.(*eventTxn)
	switch {
	case !ok:
		return nil, types.ErrTxnWrongType
	case t.store != d:
		return nil, errors.New("transaction from different store")
	case t.finished:
		return nil, errTxnFinished
	}
	return t.tx, nil
}

// BlobStoreBadger stores ledger event payloads in badger. Data is only
// persisted when a data directory is configured
type BlobStoreBadger struct {
	promRegistry     prometheus.Registerer
	metrics          *blobMetrics
	db               *badger.DB
	logger           *slog.Logger
	gcStop           chan struct{}
	gcWg             sync.WaitGroup
	dataDir          string
	blockCacheSize   uint64
	indexCacheSize   uint64
	valueLogFileSize int64
	memTableSize     int64
	valueThreshold   int64
	gcInterval       time.Duration
	gcEnabled        bool
	syncWrites       bool
}

// New opens the event store
func New(opts ...BlobStoreBadgerOptionFunc) (*BlobStoreBadger, error) {
	d := &BlobStoreBadger{
		gcEnabled:        true,
		syncWrites:       true,
		gcInterval:       DefaultGcInterval,
		blockCacheSize:   DefaultBlockCacheSize,
		indexCacheSize:   DefaultIndexCacheSize,
		valueLogFileSize: int64(DefaultValueLogFileSize),
		memTableSize:     int64(DefaultMemTableSize),
		valueThreshold:   int64(DefaultValueThreshold),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	badgerOpts, err := d.badgerOptions()
	if err != nil {
		return nil, err
	}
	if d.db, err = badger.Open(badgerOpts); err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if d.promRegistry != nil {
		d.registerBlobMetrics()
	}
	// In-memory stores have no value log to collect
	if d.gcEnabled && d.dataDir != "" {
		d.gcStop = make(chan struct{})
		d.gcWg.Add(1)
		go d.gcLoop()
	}
	return d, nil
}

func (d *BlobStoreBadger) badgerOptions() (badger.Options, error) {
	if d.dataDir == "" {
		return badger.DefaultOptions("").
			WithLogger(NewBadgerLogger(d.logger)).
			// The default INFO logging is a bit verbose
			WithLoggingLevel(badger.WARNING).
			WithInMemory(true).
			WithMemTableSize(d.memTableSize).
			WithValueThreshold(d.valueThreshold), nil
	}
	if _, err := os.Stat(d.dataDir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return badger.Options{}, fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
			return badger.Options{}, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return badger.DefaultOptions(filepath.Join(d.dataDir, "events")).
		WithLogger(NewBadgerLogger(d.logger)).
		WithLoggingLevel(badger.WARNING).
		WithBlockCacheSize(int64(d.blockCacheSize)). //nolint:gosec // configured cache size
		WithIndexCacheSize(int64(d.indexCacheSize)). //nolint:gosec // configured cache size
		WithValueLogFileSize(d.valueLogFileSize).
		WithMemTableSize(d.memTableSize).
		WithValueThreshold(d.valueThreshold).
		WithCompression(options.Snappy).
		WithSyncWrites(d.syncWrites), nil
}

// gcLoop rewrites value log files until badger reports nothing left to
// reclaim, once per interval
func (d *BlobStoreBadger) gcLoop() {
	defer d.gcWg.Done()
	ticker := time.NewTicker(d.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.runValueLogGC()
		case <-d.gcStop:
			return
		}
	}
}

func (d *BlobStoreBadger) runValueLogGC() {
	for {
		err := d.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			d.logger.Warn(
				"value log GC failed",
				"component", "database",
				"error", err,
			)
		}
		return
	}
}

// Start implements the plugin.Plugin interface. The store is opened by New
func (d *BlobStoreBadger) Start() error {
	return nil
}

// Stop implements the plugin.Plugin interface
func (d *BlobStoreBadger) Stop() error {
	return d.Close()
}

// Close stops value log GC and closes badger
func (d *BlobStoreBadger) Close() error {
	if d.gcStop != nil {
		close(d.gcStop)
		d.gcWg.Wait()
		d.gcStop = nil
	}
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// DB returns the database handle
func (d *BlobStoreBadger) DB() *badger.DB {
	return d.db
}

// NewTransaction opens a badger transaction, writable when update is set
func (d *BlobStoreBadger) NewTransaction(update bool) types.Txn {
	return &eventTxn{store: d, tx: d.db.NewTransaction(update)}
}
