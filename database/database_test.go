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

package database_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T, dataDir string) *database.Database {
	t.Helper()
	db, err := database.New(&database.Config{DataDir: dataDir})
	require.NoError(t, err)
	return db
}

func testEvents(start uint64, count int) []database.StoredEvent {
	ret := make([]database.StoredEvent, 0, count)
	for i := range count {
		seq := start + uint64(i)
		ret = append(ret, database.StoredEvent{
			Seq:        seq,
			Kind:       "contribution.made",
			EntityKind: "round",
			EntityID:   fmt.Sprintf("round-%d", seq%2),
			Actor:      "0x00000000000000000000000000000000000000aa",
			RecordedAt: time.Unix(1700000000+int64(seq), 0).UTC(),
			Payload:    []byte{byte(seq)},
		})
	}
	return ret
}

func TestAppendAndReadEvents(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	require.NoError(t, db.AppendEvents(testEvents(1, 4)))
	last, err := db.LastEventSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)

	ev, err := db.Event(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, "contribution.made", ev.Kind)
	assert.Equal(t, []byte{3}, ev.Payload)
	assert.True(t, ev.RecordedAt.Equal(time.Unix(1700000003, 0)))

	_, err = db.Event(9)
	assert.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

func TestAppendEventsRejectsGap(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	require.NoError(t, db.AppendEvents(testEvents(1, 2)))
	err := db.AppendEvents(testEvents(4, 1))
	require.ErrorIs(t, err, database.ErrEventSeqGap)
	err = db.AppendEvents(testEvents(2, 1))
	require.ErrorIs(t, err, database.ErrEventSeqGap)

	last, err := db.LastEventSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestEventsByEntity(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	require.NoError(t, db.AppendEvents(testEvents(1, 6)))
	events, err := db.EventsByEntity("round", "round-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(3), events[1].Seq)
	assert.Equal(t, uint64(5), events[2].Seq)
}

func TestEventsFromAcrossBatches(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	const total = 2500
	for start := uint64(1); start <= total; start += 500 {
		require.NoError(t, db.AppendEvents(testEvents(start, 500)))
	}

	iter := db.EventsFrom(10)
	defer iter.Close()
	expected := uint64(11)
	for {
		ev, err := iter.Next()
		require.NoError(t, err)
		if ev == nil {
			break
		}
		require.Equal(t, expected, ev.Seq)
		expected++
	}
	assert.Equal(t, uint64(total+1), expected)
	assert.Equal(t, uint64(total), iter.Progress())
}

func TestEventsFromClosedIterator(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	require.NoError(t, db.AppendEvents(testEvents(1, 2)))
	iter := db.EventsFrom(0)
	iter.Close()
	iter.Close()
	ev, err := iter.Next()
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestPersistentDatabaseReopen(t *testing.T) {
	dir := t.TempDir()
	db := newTestDatabase(t, dir)
	require.NoError(t, db.AppendEvents(testEvents(1, 3)))
	require.NoError(t, db.Close())

	db = newTestDatabase(t, dir)
	defer db.Close()
	last, err := db.LastEventSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

// writeUnindexed stores event payloads in the blob store only, as left behind
// when the process dies between the two store commits
func writeUnindexed(t *testing.T, db *database.Database, events []database.StoredEvent) {
	t.Helper()
	scratch := newTestDatabase(t, "")
	defer scratch.Close()
	require.NoError(t, scratch.AppendEvents(testEvents(1, int(events[len(events)-1].Seq))))
	readTxn := database.NewBlobOnlyTxn(scratch, false)
	defer readTxn.Release()
	txn := database.NewBlobOnlyTxn(db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		for _, ev := range events {
			raw, err := scratch.Blob().GetEvent(readTxn.Blob(), ev.Seq)
			if err != nil {
				return err
			}
			if err := db.Blob().PutEvent(txn.Blob(), ev.Seq, raw); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestEventsFromStopsAtIndexedHead(t *testing.T) {
	db := newTestDatabase(t, "")
	defer db.Close()

	require.NoError(t, db.AppendEvents(testEvents(1, 2)))
	writeUnindexed(t, db, testEvents(3, 2))

	iter := db.EventsFrom(0)
	defer iter.Close()
	var seqs []uint64
	for {
		ev, err := iter.Next()
		require.NoError(t, err)
		if ev == nil {
			break
		}
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestReopenDiscardsUnindexedEvents(t *testing.T) {
	dir := t.TempDir()
	db := newTestDatabase(t, dir)
	require.NoError(t, db.AppendEvents(testEvents(1, 2)))
	writeUnindexed(t, db, testEvents(3, 2))
	require.NoError(t, db.Close())

	db = newTestDatabase(t, dir)
	defer db.Close()
	last, err := db.LastEventSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	_, err = db.Event(3)
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)
	_, err = db.Event(4)
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)
	events, err := db.EventsByEntity("round", "round-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	// The discarded sequences are free for the next append
	require.NoError(t, db.AppendEvents(testEvents(3, 1)))
	ev, err := db.Event(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, ev.Payload)
}

func TestReopenDetectsTruncatedLog(t *testing.T) {
	dir := t.TempDir()
	db := newTestDatabase(t, dir)
	require.NoError(t, db.AppendEvents(testEvents(1, 3)))
	txn := database.NewBlobOnlyTxn(db, true)
	require.NoError(t, txn.Do(func(txn *database.Txn) error {
		return db.Blob().DeleteEvent(txn.Blob(), 3)
	}))
	require.NoError(t, db.Close())

	db, err := database.New(&database.Config{DataDir: dir})
	require.ErrorIs(t, err, database.ErrEventLogTruncated)
	require.NotNil(t, db)
	require.NoError(t, db.Close())
}
