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

	badger "github.com/dgraph-io/badger/v4"
	"github.com/geneledger/geneledger/database/types"
)

// GetEvent returns the stored payload of the event with the given sequence
func (d *BlobStoreBadger) GetEvent(txn types.Txn, seq uint64) ([]byte, error) {
	tx, err := d.badgerTxn(txn)
	if err != nil {
		return nil, err
	}
	item, err := tx.Get(types.EventBlobKey(seq))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, types.ErrBlobKeyNotFound
		}
		return nil, err
	}
	d.metrics.recordRead(int(item.ValueSize()))
	return item.ValueCopy(nil)
}

// PutEvent stores the payload of the event with the given sequence
func (d *BlobStoreBadger) PutEvent(txn types.Txn, seq uint64, data []byte) error {
	tx, err := d.badgerTxn(txn)
	if err != nil {
		return err
	}
	if err := tx.Set(types.EventBlobKey(seq), data); err != nil {
		return err
	}
	d.metrics.recordWrite(len(data))
	return nil
}

// DeleteEvent removes the payload of the event with the given sequence.
// Deleting an absent event is not an error
func (d *BlobStoreBadger) DeleteEvent(txn types.Txn, seq uint64) error {
	tx, err := d.badgerTxn(txn)
	if err != nil {
		return err
	}
	return tx.Delete(types.EventBlobKey(seq))
}

// NewEventCursor returns a cursor over stored events starting at fromSeq.
// The cursor is only usable while txn is open
func (d *BlobStoreBadger) NewEventCursor(
	txn types.Txn,
	fromSeq uint64,
) types.EventCursor {
	tx, err := d.badgerTxn(txn)
	if err != nil {
		return &eventCursor{err: err}
	}
	prefix := []byte(types.EventBlobKeyPrefix)
	iter := tx.NewIterator(badger.IteratorOptions{
		Prefix:         prefix,
		PrefetchValues: true,
		PrefetchSize:   100,
	})
	iter.Seek(types.EventBlobKey(fromSeq))
	return &eventCursor{store: d, iter: iter, prefix: prefix}
}

type eventCursor struct {
	store   *BlobStoreBadger
	iter    *badger.Iterator
	prefix  []byte
	seq     uint64
	started bool
	err     error
}

func (c *eventCursor) Next() bool {
	if c.iter == nil {
		return false
	}
	if c.started {
		c.iter.Next()
	}
	c.started = true
	for ; c.iter.ValidForPrefix(c.prefix); c.iter.Next() {
		seq, err := types.EventSeqFromBlobKey(c.iter.Item().Key())
		if err != nil {
			c.store.logger.Warn(
				"skipping malformed event key",
				"component", "database",
				"error", err,
			)
			continue
		}
		c.seq = seq
		return true
	}
	return false
}

func (c *eventCursor) Seq() uint64 {
	return c.seq
}

func (c *eventCursor) Value() ([]byte, error) {
	item := c.iter.Item()
	c.store.metrics.recordRead(int(item.ValueSize()))
	return item.ValueCopy(nil)
}

func (c *eventCursor) Err() error {
	return c.err
}

func (c *eventCursor) Close() {
	if c.iter != nil {
		c.iter.Close()
		c.iter = nil
	}
}
