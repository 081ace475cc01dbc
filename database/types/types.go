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


package types

import (
	"errors"
)

var ErrBlobKeyNotFound = errors.New("blob key not found")

var ErrTxnWrongType = errors.New("invalid transaction type")

var ErrNilTxn = errors.New("nil transaction")

var ErrNoStoreAvailable = errors.New("no store available")

var ErrBlobStoreUnavailable = errors.New("blob store unavailable")

// EventCursor walks stored event payloads in ascending sequence order. Seq
// and Value are only valid after Next returned true
type EventCursor interface {
	Next() bool
	Seq() uint64
	Value() ([]byte, error)
	Err() error
	Close()
}

type Txn interface {
	Commit() error
	Rollback() error
}
