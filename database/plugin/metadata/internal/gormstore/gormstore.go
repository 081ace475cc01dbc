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

// Package gormstore holds the ledger event queries shared by the gorm-backed
// metadata plugins
package gormstore

import (
	"errors"

	"github.com/geneledger/geneledger/database/models"
	"github.com/geneledger/geneledger/database/types"
	"gorm.io/gorm"
)

// Txn wraps a gorm transaction and implements types.Txn
type Txn struct {
	db       *gorm.DB
	beginErr error
	finished bool
}

func NewTxn(db *gorm.DB) *Txn {
	if db.Error != nil {
		return &Txn{beginErr: db.Error}
	}
	return &Txn{db: db}
}

func (t *Txn) DB() *gorm.DB {
	return t.db
}

func (t *Txn) Commit() error {
	if t.beginErr != nil {
		return t.beginErr
	}
	if t.finished {
		return nil
	}
	if result := t.db.Commit(); result.Error != nil {
		return result.Error
	}
	t.finished = true
	return nil
}

func (t *Txn) Rollback() error {
	if t.beginErr != nil {
		return t.beginErr
	}
	if t.finished {
		return nil
	}
	if result := t.db.Rollback(); result.Error != nil {
		return result.Error
	}
	t.finished = true
	return nil
}

// ResolveDB returns the gorm handle for the given transaction, or the base
// handle when no transaction is supplied
func ResolveDB(base *gorm.DB, txn types.Txn) (*gorm.DB, error) {
	if txn == nil {
		return base, nil
	}
	gormTxn, ok := txn.(*Txn)
	if !ok {
		return nil, types.ErrTxnWrongType
	}
	if gormTxn.beginErr != nil {
		return nil, gormTxn.beginErr
	}
	if gormTxn.finished {
		return nil, errors.New("transaction already finished")
	}
	return gormTxn.db, nil
}

// AddLedgerEvents inserts event index rows. Sequence numbers are assigned by
// the caller, so a duplicate sequence fails the insert
func AddLedgerEvents(db *gorm.DB, events []*models.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	if result := db.Create(events); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetLedgerEvents returns up to limit events with a sequence greater than afterSeq, in sequence order
func GetLedgerEvents(
	db *gorm.DB,
	afterSeq uint64,
	limit int,
) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	query := db.Where("seq > ?", afterSeq).Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if result := query.Find(&events); result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

// GetLedgerEventsByEntity returns the event history of a single entity
func GetLedgerEventsByEntity(
	db *gorm.DB,
	entityKind string,
	entityID string,
) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	if result := db.Where(
		"entity_kind = ? AND entity_id = ?",
		entityKind,
		entityID,
	).Order("seq ASC").Find(&events); result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

// GetLastLedgerEventSeq returns the highest recorded sequence, or 0 for an empty log
func GetLastLedgerEventSeq(db *gorm.DB) (uint64, error) {
	var event models.LedgerEvent
	result := db.Order("seq DESC").Limit(1).Find(&event)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	return event.Seq, nil
}
