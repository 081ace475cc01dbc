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

package sqlite

import (
	"fmt"
	"testing"
	"time"

	"github.com/geneledger/geneledger/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *MetadataStoreSqlite {
	t.Helper()
	store, err := New("", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testEvents(startSeq uint64, count int, entityID string) []*models.LedgerEvent {
	ret := make([]*models.LedgerEvent, 0, count)
	for i := range count {
		ret = append(ret, &models.LedgerEvent{
			Seq:        startSeq + uint64(i),
			Kind:       "proposal.voted",
			EntityKind: "proposal",
			EntityID:   entityID,
			Actor:      fmt.Sprintf("0x%040d", i),
			RecordedAt: time.Unix(1700000000+int64(i), 0).UTC(),
		})
	}
	return ret
}

func TestLedgerEventsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	txn := store.Transaction()
	require.NoError(t, store.AddLedgerEvents(testEvents(1, 5, "p1"), txn))
	require.NoError(t, txn.Commit())

	events, err := store.GetLedgerEvents(0, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	events, err = store.GetLedgerEvents(3, 1, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(4), events[0].Seq)

	last, err := store.GetLastLedgerEventSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestLedgerEventsByEntity(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.AddLedgerEvents(testEvents(1, 2, "p1"), nil))
	require.NoError(t, store.AddLedgerEvents(testEvents(3, 3, "p2"), nil))

	events, err := store.GetLedgerEventsByEntity("proposal", "p2", nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].Seq)

	events, err = store.GetLedgerEventsByEntity("round", "p2", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedgerEventsDuplicateSeqRejected(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.AddLedgerEvents(testEvents(1, 1, "p1"), nil))
	require.Error(t, store.AddLedgerEvents(testEvents(1, 1, "p1"), nil))
}

func TestLedgerEventsRollback(t *testing.T) {
	store := setupTestStore(t)
	txn := store.Transaction()
	require.NoError(t, store.AddLedgerEvents(testEvents(1, 2, "p1"), txn))
	require.NoError(t, txn.Rollback())

	last, err := store.GetLastLedgerEventSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
}

func TestSeparateInMemoryStores(t *testing.T) {
	first := setupTestStore(t)
	second := setupTestStore(t)
	require.NoError(t, first.AddLedgerEvents(testEvents(1, 1, "p1"), nil))
	last, err := second.GetLastLedgerEventSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.AddLedgerEvents(testEvents(1, 3, "p1"), nil))
	require.NoError(t, store.Close())

	store, err = New(dir, nil, nil)
	require.NoError(t, err)
	defer store.Close()
	last, err := store.GetLastLedgerEventSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}
