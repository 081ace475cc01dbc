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

package ledger

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

func copyRound(r *FundingRound) FundingRound {
	ret := *r
	ret.ProjectIDs = slices.Clone(r.ProjectIDs)
	return ret
}

func copyProject(p *FundingProject) FundingProject {
	ret := *p
	ret.ContributorSums = slices.Clone(p.ContributorSums)
	return ret
}

func copyProtocol(p *Protocol) Protocol {
	ret := *p
	ret.Tags = slices.Clone(p.Tags)
	ret.Verifiers = slices.Clone(p.Verifiers)
	return ret
}

func copyCredential(c *Credential) Credential {
	ret := *c
	ret.Attributes = slices.Clone(c.Attributes)
	return ret
}

func copySettlement(s *Settlement) Settlement {
	ret := *s
	ret.Matches = slices.Clone(s.Matches)
	return ret
}

func (s *State) Principal(addr common.Address) (Principal, error) {
	p, ok := s.principals[addr]
	if !ok {
		return Principal{}, fmt.Errorf("%w: principal %s", ErrNotFound, addr.Hex())
	}
	return *p, nil
}

func (s *State) Proposal(id string) (Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: proposal %s", ErrNotFound, id)
	}
	return *p, nil
}

func (s *State) Vote(proposalID string, voter common.Address) (Vote, error) {
	v, ok := s.votes[proposalID][voter]
	if !ok {
		return Vote{}, fmt.Errorf(
			"%w: vote by %s on proposal %s",
			ErrNotFound,
			voter.Hex(),
			proposalID,
		)
	}
	return *v, nil
}

func (s *State) Round(id string) (FundingRound, error) {
	r, ok := s.rounds[id]
	if !ok {
		return FundingRound{}, fmt.Errorf("%w: round %s", ErrNotFound, id)
	}
	return copyRound(r), nil
}

func (s *State) Project(id string) (FundingProject, error) {
	p, ok := s.projects[id]
	if !ok {
		return FundingProject{}, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	return copyProject(p), nil
}

func (s *State) Contribution(id string) (Contribution, error) {
	c, ok := s.contributions[id]
	if !ok {
		return Contribution{}, fmt.Errorf("%w: contribution %s", ErrNotFound, id)
	}
	return *c, nil
}

func (s *State) Settlement(roundID string) (Settlement, error) {
	st, ok := s.settlements[roundID]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: settlement for round %s", ErrNotFound, roundID)
	}
	return copySettlement(st), nil
}

func (s *State) Protocol(id string) (Protocol, error) {
	p, ok := s.protocols[id]
	if !ok {
		return Protocol{}, fmt.Errorf("%w: protocol %s", ErrNotFound, id)
	}
	return copyProtocol(p), nil
}

func (s *State) Credential(tokenID string) (Credential, error) {
	c, ok := s.credentials[tokenID]
	if !ok {
		return Credential{}, fmt.Errorf("%w: credential %s", ErrNotFound, tokenID)
	}
	return copyCredential(c), nil
}

// Parameter returns a governance parameter set by an executed proposal
func (s *State) Parameter(name string) (string, bool) {
	v, ok := s.parameters[name]
	return v, ok
}

// Parameters returns a copy of every governance parameter
func (s *State) Parameters() map[string]string {
	return maps.Clone(s.parameters)
}

func (s *State) ListPrincipals(pred func(Principal) bool) []Principal {
	ret := make([]Principal, 0, len(s.principalOrder))
	for _, addr := range s.principalOrder {
		p := *s.principals[addr]
		if pred == nil || pred(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

func (s *State) ListProposals(pred func(Proposal) bool) []Proposal {
	ret := make([]Proposal, 0, len(s.proposalOrder))
	for _, id := range s.proposalOrder {
		p := *s.proposals[id]
		if pred == nil || pred(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

// ListVotes returns the votes on a proposal in the order they were cast
func (s *State) ListVotes(proposalID string) []Vote {
	order := s.voteOrder[proposalID]
	ret := make([]Vote, 0, len(order))
	for _, voter := range order {
		ret = append(ret, *s.votes[proposalID][voter])
	}
	return ret
}

func (s *State) ListRounds(pred func(FundingRound) bool) []FundingRound {
	ret := make([]FundingRound, 0, len(s.roundOrder))
	for _, id := range s.roundOrder {
		r := copyRound(s.rounds[id])
		if pred == nil || pred(r) {
			ret = append(ret, r)
		}
	}
	return ret
}

func (s *State) ListProjects(pred func(FundingProject) bool) []FundingProject {
	ret := make([]FundingProject, 0, len(s.projectOrder))
	for _, id := range s.projectOrder {
		p := copyProject(s.projects[id])
		if pred == nil || pred(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

// ListContributions returns the contributions to a project in the order they were made
func (s *State) ListContributions(projectID string) []Contribution {
	order := s.contributionOrder[projectID]
	ret := make([]Contribution, 0, len(order))
	for _, id := range order {
		ret = append(ret, *s.contributions[id])
	}
	return ret
}

func (s *State) ListProtocols(pred func(Protocol) bool) []Protocol {
	ret := make([]Protocol, 0, len(s.protocolOrder))
	for _, id := range s.protocolOrder {
		p := copyProtocol(s.protocols[id])
		if pred == nil || pred(p) {
			ret = append(ret, p)
		}
	}
	return ret
}

func (s *State) ListCredentials(pred func(Credential) bool) []Credential {
	ret := make([]Credential, 0, len(s.credentialOrder))
	for _, id := range s.credentialOrder {
		c := copyCredential(s.credentials[id])
		if pred == nil || pred(c) {
			ret = append(ret, c)
		}
	}
	return ret
}
