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

package governance

import (
	"fmt"

	"github.com/geneledger/geneledger/ledger"
	"github.com/holiman/uint256"
)

// VoteWeighting selects how a voter's voting power becomes vote weight
type VoteWeighting string

const (
	WeightingLinear    VoteWeighting = "linear"
	WeightingQuadratic VoteWeighting = "quadratic"
)

func ParseVoteWeighting(s string) (VoteWeighting, error) {
	switch w := VoteWeighting(s); w {
	case WeightingLinear, WeightingQuadratic:
		return w, nil
	default:
		return "", fmt.Errorf("%w: unknown vote weighting %q", ledger.ErrInvalidArgument, s)
	}
}

// Resolve returns the vote weight for the given voting power. The second
// value is the quadratic weight, which is only set for quadratic weighting
func (w VoteWeighting) Resolve(votingPower uint64) (uint64, uint64) {
	if w == WeightingQuadratic {
		q := IntSqrt(votingPower)
		return q, q
	}
	return votingPower, 0
}

// IntSqrt returns floor(sqrt(x))
func IntSqrt(x uint64) uint64 {
	return new(uint256.Int).Sqrt(uint256.NewInt(x)).Uint64()
}
