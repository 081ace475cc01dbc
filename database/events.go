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
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/geneledger/geneledger/database/models"
	"github.com/geneledger/geneledger/database/types"
)

var (
	ErrEventSeqGap = errors.New("ledger event sequence gap")

	// ErrEventLogTruncated reports indexed events missing from the blob store
	ErrEventLogTruncated = errors.New("ledger event log truncated")
)

// StoredEvent is a single entry of the ledger event log as persisted across
// the blob and metadata stores
type StoredEvent struct {
	Seq        uint64
	Kind       string
	EntityKind string
	EntityID   string
	Actor      string
	RecordedAt time.Time
	Payload    []byte
}

// eventRecord is the blob representation of a StoredEvent. It carries the
// index fields so the metadata index can be rebuilt from the blob store alone
type eventRecord struct {
	_          struct{} `cbor:",toarray"`
	Seq        uint64
	Kind       string
	EntityKind string
	EntityID   string
	Actor      string
	RecordedAt int64
	Payload    []byte
}

func encodeEventRecord(ev StoredEvent) ([]byte, error) {
	return cbor.Marshal(eventRecord{
		Seq:        ev.Seq,
		Kind:       ev.Kind,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		Actor:      ev.Actor,
		RecordedAt: ev.RecordedAt.UnixNano(),
		Payload:    ev.Payload,
	})
}

func decodeEventRecord(data []byte) (StoredEvent, error) {
	var rec eventRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return StoredEvent{}, fmt.Errorf("decode ledger event record: %w", err)
	}
	return StoredEvent{
		Seq:        rec.Seq,
		Kind:       rec.Kind,
		EntityKind: rec.EntityKind,
		EntityID:   rec.EntityID,
		Actor:      rec.Actor,
		RecordedAt: time.Unix(0, rec.RecordedAt).UTC(),
		Payload:    rec.Payload,
	}, nil
}

func (ev StoredEvent) indexModel() *models.LedgerEvent {
	return &models.LedgerEvent{
		Seq:        ev.Seq,
		Kind:       ev.Kind,
		EntityKind: ev.EntityKind,
		EntityID:   ev.EntityID,
		Actor:      ev.Actor,
		RecordedAt: ev.RecordedAt.UTC(),
	}
}

// AppendEvents durably appends events to the log in a single transaction.
// The events must continue the existing sequence without gaps. Callers are
// expected to serialize appends
func (d *Database) AppendEvents(events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	last, err := d.LastEventSeq()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Seq != last+1 {
			return fmt.Errorf(
				"%w: expected %d, got %d",
				ErrEventSeqGap,
				last+1,
				ev.Seq,
			)
		}
		last = ev.Seq
	}
	txn := d.Transaction(true)
	if err := txn.Do(func(txn *Txn) error {
		return d.appendEventsTxn(events, txn)
	}); err != nil {
		// The blob store commits first, so a failed index commit leaves
		// payloads behind
		if _, discardErr := d.discardUnindexed(); discardErr != nil {
			d.logger.Error(
				"failed to discard unindexed ledger events",
				"component", "database",
				"error", discardErr,
			)
		}
		return err
	}
	return nil
}

func (d *Database) appendEventsTxn(events []StoredEvent, txn *Txn) error {
	rows := make([]*models.LedgerEvent, 0, len(events))
	for _, ev := range events {
		data, err := encodeEventRecord(ev)
		if err != nil {
			return err
		}
		if err := d.Blob().PutEvent(txn.Blob(), ev.Seq, data); err != nil {
			return fmt.Errorf("store ledger event %d: %w", ev.Seq, err)
		}
		rows = append(rows, ev.indexModel())
	}
	if err := d.Metadata().AddLedgerEvents(rows, txn.Metadata()); err != nil {
		return fmt.Errorf("index ledger events: %w", err)
	}
	return nil
}

// LastEventSeq returns the sequence of the most recently appended event, or 0
// when the log is empty
func (d *Database) LastEventSeq() (uint64, error) {
	return d.Metadata().GetLastLedgerEventSeq(nil)
}

// Event returns a single event by sequence
func (d *Database) Event(seq uint64) (StoredEvent, error) {
	txn := NewBlobOnlyTxn(d, false)
	defer txn.Release()
	return d.eventTxn(seq, txn)
}

func (d *Database) eventTxn(seq uint64, txn *Txn) (StoredEvent, error) {
	data, err := d.Blob().GetEvent(txn.Blob(), seq)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("load ledger event %d: %w", seq, err)
	}
	return decodeEventRecord(data)
}

// EventsByEntity returns the full history of a single entity in sequence order
func (d *Database) EventsByEntity(
	entityKind string,
	entityID string,
) ([]StoredEvent, error) {
	metaTxn := NewMetadataOnlyTxn(d, false)
	defer metaTxn.Release()
	rows, err := d.Metadata().GetLedgerEventsByEntity(
		entityKind,
		entityID,
		metaTxn.Metadata(),
	)
	if err != nil {
		return nil, err
	}
	blobTxn := NewBlobOnlyTxn(d, false)
	defer blobTxn.Release()
	ret := make([]StoredEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := d.eventTxn(row.Seq, blobTxn)
		if err != nil {
			return nil, err
		}
		ret = append(ret, ev)
	}
	return ret, nil
}

// discardUnindexed deletes blob payloads past the last indexed event and
// returns how many it removed. An append is committed once its index rows
// are, so such payloads were never acknowledged to the caller
func (d *Database) discardUnindexed() (int, error) {
	head, err := d.LastEventSeq()
	if err != nil {
		return 0, err
	}
	readTxn := NewBlobOnlyTxn(d, false)
	cursor := d.Blob().NewEventCursor(readTxn.Blob(), head+1)
	var orphans []uint64
	for cursor.Next() {
		orphans = append(orphans, cursor.Seq())
	}
	err = cursor.Err()
	cursor.Close()
	readTxn.Release()
	if err != nil || len(orphans) == 0 {
		return 0, err
	}
	txn := NewBlobOnlyTxn(d, true)
	if err := txn.Do(func(txn *Txn) error {
		for _, seq := range orphans {
			if err := d.Blob().DeleteEvent(txn.Blob(), seq); err != nil {
				return fmt.Errorf("discard ledger event %d: %w", seq, err)
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	d.logger.Warn(
		"discarded unindexed ledger events",
		"component", "database",
		"count", len(orphans),
		"last_seq", head,
	)
	return len(orphans), nil
}

// reconcile brings the blob store in line with the metadata index on open
func (d *Database) reconcile() error {
	head, err := d.LastEventSeq()
	if err != nil {
		return err
	}
	if head > 0 {
		txn := NewBlobOnlyTxn(d, false)
		_, err := d.Blob().GetEvent(txn.Blob(), head)
		txn.Release()
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return fmt.Errorf("%w: event %d", ErrEventLogTruncated, head)
		}
		if err != nil {
			return err
		}
	}
	if _, err := d.discardUnindexed(); err != nil {
		return fmt.Errorf("discard unindexed ledger events: %w", err)
	}
	return nil
}
