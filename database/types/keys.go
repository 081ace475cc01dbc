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
	"encoding/binary"
	"errors"
)

const (
	EventBlobKeyPrefix = "ev"
)

func EventBlobKeyUint64ToBytes(input uint64) []byte {
	ret := make([]byte, 8)
	binary.BigEndian.PutUint64(ret, input)
	return ret
}

// EventBlobKey returns the blob key holding the payload for the event with
// the given sequence number. Keys sort in sequence order.
func EventBlobKey(seq uint64) []byte {
	key := []byte(EventBlobKeyPrefix)
	key = append(key, EventBlobKeyUint64ToBytes(seq)...)
	return key
}

// EventSeqFromBlobKey extracts the sequence number from an event blob key
func EventSeqFromBlobKey(key []byte) (uint64, error) {
	if len(key) != len(EventBlobKeyPrefix)+8 ||
		string(key[:len(EventBlobKeyPrefix)]) != EventBlobKeyPrefix {
		return 0, errors.New("not an event blob key")
	}
	return binary.BigEndian.Uint64(key[len(EventBlobKeyPrefix):]), nil
}
