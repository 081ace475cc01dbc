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

package types_test

import (
	"bytes"
	"testing"

	"github.com/geneledger/geneledger/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBlobKeyRoundTrip(t *testing.T) {
	for _, seq := range []uint64{0, 1, 255, 256, 1 << 40} {
		key := types.EventBlobKey(seq)
		got, err := types.EventSeqFromBlobKey(key)
		require.NoError(t, err)
		assert.Equal(t, seq, got)
	}
}

func TestEventBlobKeyOrdering(t *testing.T) {
	// Badger iterates keys lexicographically, which must match sequence order
	assert.Negative(t, bytes.Compare(types.EventBlobKey(255), types.EventBlobKey(256)))
	assert.Negative(t, bytes.Compare(types.EventBlobKey(1), types.EventBlobKey(1<<32)))
}

func TestEventSeqFromBlobKeyRejectsOtherKeys(t *testing.T) {
	_, err := types.EventSeqFromBlobKey([]byte("events"))
	require.Error(t, err)
	_, err = types.EventSeqFromBlobKey([]byte("ev"))
	require.Error(t, err)
}
