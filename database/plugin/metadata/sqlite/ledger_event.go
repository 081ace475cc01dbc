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
	"github.com/geneledger/geneledger/database/models"
	"github.com/geneledger/geneledger/database/plugin/metadata/internal/gormstore"
	"github.com/geneledger/geneledger/database/types"
)

// AddLedgerEvents inserts ledger event index rows
func (d *MetadataStoreSqlite) AddLedgerEvents(
	events []*models.LedgerEvent,
	txn types.Txn,
) error {
	db, err := d.resolveDB(txn)
	if err != nil {
		return err
	}
	return gormstore.AddLedgerEvents(db, events)
}

// GetLedgerEvents returns up to limit ledger events after the given sequence
func (d *MetadataStoreSqlite) GetLedgerEvents(
	afterSeq uint64,
	limit int,
	txn types.Txn,
) ([]models.LedgerEvent, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	return gormstore.GetLedgerEvents(db, afterSeq, limit)
}

// GetLedgerEventsByEntity returns the ledger events recorded against an entity
func (d *MetadataStoreSqlite) GetLedgerEventsByEntity(
	entityKind string,
	entityID string,
	txn types.Txn,
) ([]models.LedgerEvent, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return nil, err
	}
	return gormstore.GetLedgerEventsByEntity(db, entityKind, entityID)
}

// GetLastLedgerEventSeq returns the highest ledger event sequence
func (d *MetadataStoreSqlite) GetLastLedgerEventSeq(
	txn types.Txn,
) (uint64, error) {
	db, err := d.resolveDB(txn)
	if err != nil {
		return 0, err
	}
	return gormstore.GetLastLedgerEventSeq(db)
}
