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

package facade

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/ledger"
)

func (f *Facade) Principal(addr common.Address) (ledger.Principal, error) {
	return f.store.Principal(addr)
}

func (f *Facade) Proposal(id string) (ledger.Proposal, error) {
	return f.store.Proposal(id)
}

// ProposalFilter selects proposals. Zero fields match everything
type ProposalFilter struct {
	Status ledger.ProposalStatus
	Kind   ledger.ProposalKind
	Author common.Address
}

func (pf ProposalFilter) match(p ledger.Proposal) bool {
	if pf.Status != 0 && p.Status != pf.Status {
		return false
	}
	if pf.Kind != 0 && p.Kind != pf.Kind {
		return false
	}
	if pf.Author != (common.Address{}) && p.Author != pf.Author {
		return false
	}
	return true
}

// Proposals returns the proposals matching filter in creation order
func (f *Facade) Proposals(filter ProposalFilter) []ledger.Proposal {
	return f.store.ListProposals(filter.match)
}

func (f *Facade) Votes(proposalID string) []ledger.Vote {
	return f.store.ListVotes(proposalID)
}

func (f *Facade) Tally(proposalID string) (governance.Tally, error) {
	return f.governance.Tally(proposalID)
}

func (f *Facade) EvaluateProposal(proposalID string) (governance.Evaluation, error) {
	return f.governance.EvaluateProposal(proposalID)
}

func (f *Facade) Round(id string) (ledger.FundingRound, error) {
	return f.store.Round(id)
}

func (f *Facade) Rounds() []ledger.FundingRound {
	return f.store.ListRounds(nil)
}

func (f *Facade) Project(id string) (ledger.FundingProject, error) {
	return f.store.Project(id)
}

func (f *Facade) Ranking(roundID string) ([]funding.RankedProject, error) {
	return f.funding.Ranking(roundID)
}

// ProjectedMatching returns the matching allocation the round would settle
// with if it ended now
func (f *Facade) ProjectedMatching(roundID string) (funding.Allocation, error) {
	return f.funding.ProjectedMatching(roundID)
}

func (f *Facade) Protocol(id string) (ledger.Protocol, error) {
	return f.store.Protocol(id)
}

// Protocols returns the protocols with the given status, or all protocols
// when status is zero
func (f *Facade) Protocols(status ledger.ProtocolStatus) []ledger.Protocol {
	return f.store.ListProtocols(func(p ledger.Protocol) bool {
		return status == 0 || p.Status == status
	})
}

func (f *Facade) Credential(tokenID string) (ledger.Credential, error) {
	return f.store.Credential(tokenID)
}

// Credentials returns the credentials owned by owner
func (f *Facade) Credentials(owner common.Address) []ledger.Credential {
	return f.store.ListCredentials(func(c ledger.Credential) bool {
		return c.Owner == owner
	})
}

func (f *Facade) Parameters() map[string]string {
	return f.store.Parameters()
}

// Stats is the community overview of the ledger
type Stats struct {
	Members           int    `json:"members"`
	ActiveProposals   int    `json:"activeProposals"`
	TotalProposals    int    `json:"totalProposals"`
	OpenRounds        int    `json:"openRounds"`
	TotalMatchingPool uint64 `json:"totalMatchingPool"`
	VerifiedProtocols int    `json:"verifiedProtocols"`
	CredentialsIssued int    `json:"credentialsIssued"`
	LastSeq           uint64 `json:"lastSeq"`
}

func (s Stats) String() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Stats computes the community overview from a single consistent view of
// the ledger
func (f *Facade) Stats() Stats {
	var ret Stats
	now := f.clock.Now().UTC()
	f.store.View(func(state *ledger.State) {
		ret.LastSeq = state.LastSeq()
		ret.Members = len(state.ListPrincipals(nil))
		for _, p := range state.ListProposals(nil) {
			ret.TotalProposals++
			if p.Status == ledger.ProposalStatusActive {
				ret.ActiveProposals++
			}
		}
		for _, r := range state.ListRounds(nil) {
			ret.TotalMatchingPool += r.MatchingPool
			if !r.Ended(now) {
				ret.OpenRounds++
			}
		}
		ret.VerifiedProtocols = len(state.ListProtocols(func(p ledger.Protocol) bool {
			return p.Status == ledger.ProtocolStatusVerified
		}))
		ret.CredentialsIssued = len(state.ListCredentials(func(c ledger.Credential) bool {
			return c.Issued
		}))
	})
	return ret
}
