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
	"math/bits"
	"slices"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// State is the in-memory projection of the ledger event log. It is only
// changed by Apply, which is deterministic: applying the same events in the
// same order always yields an identical State
type State struct {
	lastSeq uint64

	principals     map[common.Address]*Principal
	principalOrder []common.Address

	proposals     map[string]*Proposal
	proposalOrder []string
	votes         map[string]map[common.Address]*Vote
	voteOrder     map[string][]common.Address
	parameters    map[string]string

	rounds            map[string]*FundingRound
	roundOrder        []string
	projects          map[string]*FundingProject
	projectOrder      []string
	contributions     map[string]*Contribution
	contributionOrder map[string][]string
	settlements       map[string]*Settlement

	protocols        map[string]*Protocol
	protocolOrder    []string
	credentials      map[string]*Credential
	credentialOrder  []string
	verifiedByAuthor map[common.Address]uint64
	lastTokenID      uint64
}

func NewState() *State {
	return &State{
		principals:        make(map[common.Address]*Principal),
		proposals:         make(map[string]*Proposal),
		votes:             make(map[string]map[common.Address]*Vote),
		voteOrder:         make(map[string][]common.Address),
		parameters:        make(map[string]string),
		rounds:            make(map[string]*FundingRound),
		projects:          make(map[string]*FundingProject),
		contributions:     make(map[string]*Contribution),
		contributionOrder: make(map[string][]string),
		settlements:       make(map[string]*Settlement),
		protocols:         make(map[string]*Protocol),
		credentials:       make(map[string]*Credential),
		verifiedByAuthor:  make(map[common.Address]uint64),
	}
}

// LastSeq returns the sequence of the last applied event
func (s *State) LastSeq() uint64 {
	return s.lastSeq
}

func (s *State) exists(ref EntityRef) bool {
	switch ref.Kind {
	case EntityPrincipal:
		if !common.IsHexAddress(ref.ID) {
			return false
		}
		_, ok := s.principals[common.HexToAddress(ref.ID)]
		return ok
	case EntityProposal:
		_, ok := s.proposals[ref.ID]
		return ok
	case EntityRound:
		_, ok := s.rounds[ref.ID]
		return ok
	case EntityProject:
		_, ok := s.projects[ref.ID]
		return ok
	case EntityProtocol:
		_, ok := s.protocols[ref.ID]
		return ok
	case EntityCredential:
		_, ok := s.credentials[ref.ID]
		return ok
	default:
		return false
	}
}

// check verifies that the entities a payload depends on are present, either
// in the state or created earlier in the same batch
func (s *State) check(p Payload, pending map[EntityRef]bool) error {
	have := func(ref EntityRef) bool {
		return pending[ref] || s.exists(ref)
	}
	ent := p.Entity()
	if creatingKinds[p.EventKind()] {
		if have(ent) {
			return fmt.Errorf("%w: %s already exists", ErrConflict, ent)
		}
	} else if !have(ent) {
		return fmt.Errorf("%w: %s", ErrNotFound, ent)
	}
	for _, ref := range p.requires() {
		if !have(ref) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
	}
	return s.bounded(p)
}

func addBounded(counter string, current, amount uint64) error {
	if _, carry := bits.Add64(current, amount, 0); carry != 0 {
		return fmt.Errorf(
			"%w: adding %d to %s of %d overflows",
			ErrInvalidAmount,
			amount,
			counter,
			current,
		)
	}
	return nil
}

// bounded rejects payloads that would overflow a counter they add to.
// Entities created earlier in the same batch start from zero and cannot
// overflow on a single addition
func (s *State) bounded(p Payload) error {
	switch p := p.(type) {
	case VotingPowerGranted:
		if principal, ok := s.principals[p.Address]; ok {
			return addBounded("voting power", principal.VotingPower, p.Amount)
		}
	case ReputationGranted:
		if principal, ok := s.principals[p.Address]; ok {
			return addBounded("reputation", principal.Reputation, p.Amount)
		}
	case PrincipalBootstrapped:
		if principal, ok := s.principals[p.Address]; ok {
			if err := addBounded("voting power", principal.VotingPower, p.VotingPower); err != nil {
				return err
			}
			return addBounded("reputation", principal.Reputation, p.Reputation)
		}
	case VoteCast:
		if proposal, ok := s.proposals[p.ProposalID]; ok {
			return addBounded("total votes", proposal.TotalVotes, p.Weight)
		}
	case ProposalExecuted:
		proposal, ok := s.proposals[p.ProposalID]
		if !ok {
			return nil
		}
		if author, ok := s.principals[proposal.Author]; ok {
			return addBounded("reputation", author.Reputation, p.ReputationReward)
		}
	case ContributionMade:
		if project, ok := s.projects[p.ProjectID]; ok {
			return addBounded("raised", project.Raised, p.Amount)
		}
	case ProtocolDownloaded:
		if protocol, ok := s.protocols[p.ProtocolID]; ok {
			return addBounded("downloads", protocol.Downloads, 1)
		}
	}
	return nil
}

// checkBatch verifies that a batch of events can be applied in order
func (s *State) checkBatch(events []Event) error {
	pending := make(map[EntityRef]bool)
	for _, ev := range events {
		if ev.Payload == nil {
			return fmt.Errorf("%w: event without payload", ErrInvalidArgument)
		}
		if err := s.check(ev.Payload, pending); err != nil {
			return fmt.Errorf("%s: %w", ev.Kind, err)
		}
		if creatingKinds[ev.Kind] {
			pending[ev.Payload.Entity()] = true
		}
	}
	return nil
}

// Apply folds a single event into the state. Events must be applied in
// sequence order
func (s *State) Apply(ev Event) error {
	if ev.Seq != s.lastSeq+1 {
		return fmt.Errorf(
			"%w: event sequence %d does not follow %d",
			ErrInvalidState,
			ev.Seq,
			s.lastSeq,
		)
	}
	if ev.Payload == nil {
		return fmt.Errorf("%w: event %d has no payload", ErrInvalidArgument, ev.Seq)
	}
	if err := s.check(ev.Payload, nil); err != nil {
		return fmt.Errorf("apply event %d (%s): %w", ev.Seq, ev.Kind, err)
	}
	s.apply(ev)
	s.lastSeq = ev.Seq
	return nil
}

func (s *State) apply(ev Event) {
	switch p := ev.Payload.(type) {
	case PrincipalRegistered:
		s.principals[p.Address] = &Principal{
			Address:  p.Address,
			JoinedAt: p.JoinedAt,
		}
		s.principalOrder = append(s.principalOrder, p.Address)
	case VotingPowerGranted:
		s.principals[p.Address].VotingPower += p.Amount
	case ReputationGranted:
		s.principals[p.Address].Reputation += p.Amount
	case VerifierAuthorizationSet:
		s.principals[p.Address].IsVerifier = p.Authorized
	case PrincipalBootstrapped:
		principal := s.principals[p.Address]
		principal.VotingPower += p.VotingPower
		principal.Reputation += p.Reputation
		if p.Verifier {
			principal.IsVerifier = true
		}
	case ProposalCreated:
		s.proposals[p.ID] = &Proposal{
			ID:             p.ID,
			Title:          p.Title,
			Description:    p.Description,
			Author:         p.Author,
			Kind:           p.ActionKind,
			Action:         p.action(),
			CreatedAt:      p.CreatedAt,
			EndAt:          p.EndAt,
			Status:         p.Status,
			RequiredQuorum: p.RequiredQuorum,
		}
		s.proposalOrder = append(s.proposalOrder, p.ID)
	case ProposalActivated:
		s.proposals[p.ProposalID].Status = ProposalStatusActive
	case VoteCast:
		proposal := s.proposals[p.ProposalID]
		if _, ok := s.votes[p.ProposalID]; !ok {
			s.votes[p.ProposalID] = make(map[common.Address]*Vote)
		}
		s.votes[p.ProposalID][p.Voter] = &Vote{
			ID:              p.VoteID,
			ProposalID:      p.ProposalID,
			Voter:           p.Voter,
			Direction:       p.Direction,
			Weight:          p.Weight,
			QuadraticWeight: p.QuadraticWeight,
			Timestamp:       p.Timestamp,
		}
		s.voteOrder[p.ProposalID] = append(s.voteOrder[p.ProposalID], p.Voter)
		if p.Direction == VoteFor {
			proposal.VotesFor += p.Weight
		} else {
			proposal.VotesAgainst += p.Weight
		}
		proposal.TotalVotes = proposal.VotesFor + proposal.VotesAgainst
	case ProposalFinalized:
		s.proposals[p.ProposalID].Status = p.Status
	case ExecutionStarted:
		proposal := s.proposals[p.ProposalID]
		proposal.Status = ProposalStatusExecuting
		proposal.ExecutionAttempts++
	case ExecutionFailed:
		proposal := s.proposals[p.ProposalID]
		proposal.Status = ProposalStatusPassed
		proposal.LastExecutionError = p.Error
	case ProposalExecuted:
		proposal := s.proposals[p.ProposalID]
		proposal.Status = ProposalStatusExecuted
		proposal.ExecutedAt = p.ExecutedAt
		proposal.LastExecutionError = ""
		if author, ok := s.principals[proposal.Author]; ok {
			author.Reputation += p.ReputationReward
		}
		switch a := proposal.Action.(type) {
		case GovernanceAction:
			s.parameters[a.Parameter] = a.Value
		case ProtocolAction:
			if protocol, ok := s.protocols[a.ProtocolID]; ok {
				protocol.Integrated = true
			}
		}
	case RoundOpened:
		s.rounds[p.ID] = &FundingRound{
			ID:           p.ID,
			Title:        p.Title,
			Description:  p.Description,
			Creator:      p.Creator,
			TotalPool:    p.TotalPool,
			MatchingPool: p.MatchingPool,
			CreatedAt:    p.CreatedAt,
			EndAt:        p.EndAt,
		}
		s.roundOrder = append(s.roundOrder, p.ID)
	case ProjectAdded:
		s.projects[p.ID] = &FundingProject{
			ID:          p.ID,
			RoundID:     p.RoundID,
			Title:       p.Title,
			Description: p.Description,
			Author:      p.Author,
		}
		s.projectOrder = append(s.projectOrder, p.ID)
		round := s.rounds[p.RoundID]
		round.ProjectIDs = append(round.ProjectIDs, p.ID)
	case ContributionMade:
		project := s.projects[p.ProjectID]
		s.contributions[p.ID] = &Contribution{
			ID:          p.ID,
			ProjectID:   p.ProjectID,
			Contributor: p.Contributor,
			Amount:      p.Amount,
			Timestamp:   p.Timestamp,
		}
		s.contributionOrder[p.ProjectID] = append(
			s.contributionOrder[p.ProjectID],
			p.ID,
		)
		project.Raised += p.Amount
		idx := slices.IndexFunc(
			project.ContributorSums,
			func(cs ContributorSum) bool { return cs.Contributor == p.Contributor },
		)
		if idx < 0 {
			project.ContributorSums = append(
				project.ContributorSums,
				ContributorSum{Contributor: p.Contributor, Amount: p.Amount},
			)
		} else {
			project.ContributorSums[idx].Amount += p.Amount
		}
	case RoundSettled:
		s.rounds[p.RoundID].Settled = true
		s.settlements[p.RoundID] = &Settlement{
			RoundID:   p.RoundID,
			Matches:   slices.Clone(p.Matches),
			Residual:  p.Residual,
			SettledAt: p.SettledAt,
			Seq:       ev.Seq,
		}
		for _, m := range p.Matches {
			if project, ok := s.projects[m.ProjectID]; ok {
				project.MatchingAmount = m.Amount
			}
		}
		for _, cm := range p.ContributionMatches {
			if contribution, ok := s.contributions[cm.ContributionID]; ok {
				contribution.QuadraticMatch = cm.Amount
			}
		}
	case ProtocolSubmitted:
		s.protocols[p.ID] = &Protocol{
			ID:          p.ID,
			Author:      p.Author,
			Title:       p.Title,
			Description: p.Description,
			Category:    p.Category,
			Tags:        slices.Clone(p.Tags),
			FileName:    p.FileName,
			FileSize:    p.FileSize,
			ZKProofHash: p.ZKProofHash,
			Status:      p.Status,
			CreatedAt:   p.CreatedAt,
		}
		s.protocolOrder = append(s.protocolOrder, p.ID)
		s.principals[p.Author].ProtocolsSubmitted++
	case ProtocolPublished:
		s.protocols[p.ProtocolID].Status = ProtocolStatusPending
	case ProtocolAttested:
		protocol := s.protocols[p.ProtocolID]
		protocol.Verifiers = append(protocol.Verifiers, p.Verifier)
		protocol.VerificationCount++
		if p.Binds && protocol.BoundTokenID == "" {
			protocol.Status = ProtocolStatusVerified
			s.verifiedByAuthor[protocol.Author]++
			s.lastTokenID++
			tokenID := strconv.FormatUint(s.lastTokenID, 10)
			protocol.BoundTokenID = tokenID
			rarity := RarityForVerifiedCount(s.verifiedByAuthor[protocol.Author])
			s.credentials[tokenID] = &Credential{
				TokenID:    tokenID,
				ProtocolID: protocol.ID,
				Owner:      protocol.Author,
				Rarity:     rarity,
				Attributes: credentialAttributes(protocol, rarity),
				MintedAt:   p.At,
			}
			s.credentialOrder = append(s.credentialOrder, tokenID)
		}
	case ProtocolRejected:
		s.protocols[p.ProtocolID].Status = ProtocolStatusRejected
	case ProtocolDownloaded:
		s.protocols[p.ProtocolID].Downloads++
	case CredentialIssued:
		credential := s.credentials[p.TokenID]
		if credential.Issued {
			return
		}
		credential.Issued = true
		credential.IssuedAt = p.IssuedAt
		if owner, ok := s.principals[credential.Owner]; ok {
			owner.NftsHeld++
		}
	}
}
