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

package models

import "time"

// LedgerEvent indexes a single entry of the append-only ledger event log. The
// encoded payload lives in the blob store under the same sequence number
type LedgerEvent struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement:false"`
	Kind       string    `gorm:"size:64;index;not null"`
	EntityKind string    `gorm:"size:32;index:idx_ledger_event_entity,priority:1;not null"`
	EntityID   string    `gorm:"size:128;index:idx_ledger_event_entity,priority:2;not null"`
	Actor      string    `gorm:"size:64;index"`
	RecordedAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (LedgerEvent) TableName() string {
	return "ledger_event"
}
