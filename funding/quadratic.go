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

package funding

import (
	"github.com/geneledger/geneledger/ledger"
	"github.com/holiman/uint256"
)

// SqrtScale is the fixed-point scale of contribution square roots
const SqrtScale = 1_000_000_000

var sqrtScaleSquared = uint256.NewInt(SqrtScale * SqrtScale)

// SqrtFixed returns floor(sqrt(x) * SqrtScale)
func SqrtFixed(x uint64) *uint256.Int {
	ret := uint256.NewInt(x)
	ret.Mul(ret, sqrtScaleSquared)
	return ret.Sqrt(ret)
}

// Allocation is the division of a matching pool across the projects of a round
type Allocation struct {
	Matches             []ledger.ProjectMatch
	ContributionMatches []ledger.ContributionMatch
	Residual            uint64
}

// MatchMap returns the matching amounts keyed by project
func (a Allocation) MatchMap() map[string]uint64 {
	ret := make(map[string]uint64, len(a.Matches))
	for _, m := range a.Matches {
		ret[m.ProjectID] = m.Amount
	}
	return ret
}

// Allocate divides matchingPool across projects with the quadratic funding
// formula. For each project, amounts from one contributor are summed before
// the square root is taken. Per-project amounts are rounded down and the
// remainder of the pool is returned as the residual. Each contribution is
// credited its project's match pro rata by amount, rounded down.
// contributions holds the contributions of each project, keyed by project id
func Allocate(
	matchingPool uint64,
	projects []ledger.FundingProject,
	contributions map[string][]ledger.Contribution,
) Allocation {
	squares := make([]*uint256.Int, len(projects))
	total := new(uint256.Int)
	for i, project := range projects {
		sum := new(uint256.Int)
		for _, cs := range project.ContributorSums {
			sum.Add(sum, SqrtFixed(cs.Amount))
		}
		squares[i] = sum.Mul(sum, sum)
		total.Add(total, squares[i])
	}
	ret := Allocation{
		Matches:  make([]ledger.ProjectMatch, 0, len(projects)),
		Residual: matchingPool,
	}
	pool := uint256.NewInt(matchingPool)
	for i, project := range projects {
		var amount uint64
		if !total.IsZero() {
			share := new(uint256.Int).Mul(pool, squares[i])
			amount = share.Div(share, total).Uint64()
		}
		ret.Matches = append(ret.Matches, ledger.ProjectMatch{
			ProjectID: project.ID,
			Amount:    amount,
		})
		ret.Residual -= amount
		if project.Raised == 0 {
			continue
		}
		raised := uint256.NewInt(project.Raised)
		match := uint256.NewInt(amount)
		for _, c := range contributions[project.ID] {
			credit := new(uint256.Int).Mul(match, uint256.NewInt(c.Amount))
			ret.ContributionMatches = append(
				ret.ContributionMatches,
				ledger.ContributionMatch{
					ContributionID: c.ID,
					Amount:         credit.Div(credit, raised).Uint64(),
				},
			)
		}
	}
	return ret
}
