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
	"time"

	"github.com/geneledger/geneledger/ledger"
	"github.com/holiman/uint256"
)

// Evaluation is the current or projected outcome of a proposal
type Evaluation struct {
	ProposalID     string
	Status         ledger.ProposalStatus
	VotesFor       uint64
	VotesAgainst   uint64
	TotalVotes     uint64
	RequiredQuorum uint64
	QuorumMet      bool
	// ProjectedOutcome is passed or failed. It is binding only once Final is set
	ProjectedOutcome ledger.ProposalStatus
	Final            bool
	EndAt            time.Time
}

// Outcome returns the status a proposal would be finalized with given its
// current votes
func Outcome(p ledger.Proposal) ledger.ProposalStatus {
	if p.TotalVotes >= p.RequiredQuorum && p.VotesFor > p.VotesAgainst {
		return ledger.ProposalStatusPassed
	}
	return ledger.ProposalStatusFailed
}

// Evaluate is a pure query over a proposal
func Evaluate(p ledger.Proposal) Evaluation {
	ret := Evaluation{
		ProposalID:       p.ID,
		Status:           p.Status,
		VotesFor:         p.VotesFor,
		VotesAgainst:     p.VotesAgainst,
		TotalVotes:       p.TotalVotes,
		RequiredQuorum:   p.RequiredQuorum,
		QuorumMet:        p.TotalVotes >= p.RequiredQuorum,
		ProjectedOutcome: Outcome(p),
		Final:            p.Status.Final(),
		EndAt:            p.EndAt,
	}
	switch p.Status {
	case ledger.ProposalStatusFailed:
		ret.ProjectedOutcome = ledger.ProposalStatusFailed
	case ledger.ProposalStatusPassed,
		ledger.ProposalStatusExecuting,
		ledger.ProposalStatusExecuted:
		ret.ProjectedOutcome = ledger.ProposalStatusPassed
	}
	return ret
}

func (e *Engine) EvaluateProposal(proposalID string) (Evaluation, error) {
	proposal, err := e.store.Proposal(proposalID)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(proposal), nil
}

const basisPoints = 10000

// Tally is a display projection of a proposal's votes. Percentages are in
// basis points
type Tally struct {
	ProposalID     string
	Status         ledger.ProposalStatus
	Votes          int
	VotesFor       uint64
	VotesAgainst   uint64
	TotalVotes     uint64
	RequiredQuorum uint64
	ForBps         uint64
	AgainstBps     uint64
	// QuorumBps is capped at 10000
	QuorumBps uint64
}

func share(part, whole uint64) uint64 {
	if whole == 0 {
		return 0
	}
	ret := new(uint256.Int).Mul(uint256.NewInt(part), uint256.NewInt(basisPoints))
	return ret.Div(ret, uint256.NewInt(whole)).Uint64()
}

// TallyOf computes the tally of a proposal from its votes
func TallyOf(p ledger.Proposal, votes []ledger.Vote) Tally {
	ret := Tally{
		ProposalID:     p.ID,
		Status:         p.Status,
		Votes:          len(votes),
		VotesFor:       p.VotesFor,
		VotesAgainst:   p.VotesAgainst,
		TotalVotes:     p.TotalVotes,
		RequiredQuorum: p.RequiredQuorum,
		ForBps:         share(p.VotesFor, p.TotalVotes),
		QuorumBps:      min(share(p.TotalVotes, p.RequiredQuorum), basisPoints),
	}
	if p.TotalVotes > 0 {
		ret.AgainstBps = basisPoints - ret.ForBps
	}
	return ret
}

func (e *Engine) Tally(proposalID string) (Tally, error) {
	var (
		proposal ledger.Proposal
		votes    []ledger.Vote
		err      error
	)
	e.store.View(func(s *ledger.State) {
		proposal, err = s.Proposal(proposalID)
		if err == nil {
			votes = s.ListVotes(proposalID)
		}
	})
	if err != nil {
		return Tally{}, err
	}
	return TallyOf(proposal, votes), nil
}
