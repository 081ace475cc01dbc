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

package database

import (
	"fmt"
	"sync"

	"github.com/geneledger/geneledger/database/types"
)

const (
	// eventIteratorBatchSize controls how many events are fetched per batch
	// from the blob iterator. This avoids loading the entire log into memory
	// while keeping I/O efficient.
	eventIteratorBatchSize = 1000
)

// EventIterator iterates committed ledger events in sequence order. Events
// are read from the blob store in batches and never past the last indexed
// sequence observed on the first fetch
type EventIterator struct {
	db       *Database
	afterSeq uint64

	mu         sync.Mutex
	batch      []StoredEvent
	batchIdx   int
	currentSeq uint64
	nextSeq    uint64
	head       uint64
	started    bool
	exhausted  bool
	closed     bool
}

// EventsFrom returns an iterator that yields every committed event with a
// sequence greater than afterSeq
func (d *Database) EventsFrom(afterSeq uint64) *EventIterator {
	return &EventIterator{
		db:       d,
		afterSeq: afterSeq,
		nextSeq:  afterSeq + 1,
	}
}

// Next returns the next event. When iteration is complete, it returns (nil, nil).
func (it *EventIterator) Next() (*StoredEvent, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil, nil
	}
	if it.batchIdx >= len(it.batch) {
		if it.exhausted {
			return nil, nil
		}
		if err := it.fetchBatch(); err != nil {
			return nil, err
		}
		if len(it.batch) == 0 {
			it.exhausted = true
			return nil, nil
		}
	}

	ev := it.batch[it.batchIdx]
	it.batchIdx++
	expected := it.afterSeq + 1
	if it.currentSeq > 0 {
		expected = it.currentSeq + 1
	}
	if ev.Seq != expected {
		return nil, fmt.Errorf(
			"%w: expected %d, got %d",
			ErrEventSeqGap,
			expected,
			ev.Seq,
		)
	}
	it.currentSeq = ev.Seq
	return &ev, nil
}

// Progress returns the sequence of the most recently returned event
func (it *EventIterator) Progress() uint64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.currentSeq
}

// Close releases any resources held by the iterator. It is safe to call
// Close multiple times.
func (it *EventIterator) Close() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closed = true
	it.batch = nil
}

// fetchBatch reads the next batch of events from the blob store.
// Must be called with it.mu held.
func (it *EventIterator) fetchBatch() error {
	blob := it.db.Blob()
	if blob == nil {
		return types.ErrBlobStoreUnavailable
	}
	if !it.started {
		head, err := it.db.LastEventSeq()
		if err != nil {
			return err
		}
		it.head = head
		it.started = true
	}
	it.batch = it.batch[:0]
	it.batchIdx = 0
	if it.nextSeq > it.head {
		it.exhausted = true
		return nil
	}

	txn := blob.NewTransaction(false)
	defer txn.Rollback() //nolint:errcheck
	cursor := blob.NewEventCursor(txn, it.nextSeq)
	defer cursor.Close()
	for len(it.batch) < eventIteratorBatchSize && cursor.Next() {
		if cursor.Seq() > it.head {
			break
		}
		val, err := cursor.Value()
		if err != nil {
			return fmt.Errorf("reading ledger event: %w", err)
		}
		ev, err := decodeEventRecord(val)
		if err != nil {
			return err
		}
		it.batch = append(it.batch, ev)
		it.nextSeq = cursor.Seq() + 1
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("scanning ledger events: %w", err)
	}
	if len(it.batch) < eventIteratorBatchSize {
		it.exhausted = true
	}
	return nil
}
