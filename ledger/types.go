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
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Principal is a participant in governance, identified by address
type Principal struct {
	Address            common.Address
	Reputation         uint64
	VotingPower        uint64
	ProtocolsSubmitted uint64
	NftsHeld           uint64
	IsVerifier         bool
	JoinedAt           time.Time
}

type ProposalKind uint8

const (
	ProposalKindFunding ProposalKind = iota + 1
	ProposalKindGovernance
	ProposalKindProtocol
)

func (k ProposalKind) String() string {
	switch k {
	case ProposalKindFunding:
		return "funding"
	case ProposalKindGovernance:
		return "governance"
	case ProposalKindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

type ProposalStatus uint8

const (
	ProposalStatusDraft ProposalStatus = iota + 1
	ProposalStatusActive
	ProposalStatusExecuting
	ProposalStatusPassed
	ProposalStatusFailed
	ProposalStatusExecuted
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusDraft:
		return "draft"
	case ProposalStatusActive:
		return "active"
	case ProposalStatusExecuting:
		return "executing"
	case ProposalStatusPassed:
		return "passed"
	case ProposalStatusFailed:
		return "failed"
	case ProposalStatusExecuted:
		return "executed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Final reports whether voting on a proposal in this status is over
func (s ProposalStatus) Final() bool {
	switch s {
	case ProposalStatusDraft, ProposalStatusActive:
		return false
	default:
		return true
	}
}

// ProposalAction is the kind-specific effect of a proposal. The concrete
// types are FundingAction, GovernanceAction and ProtocolAction
type ProposalAction interface {
	Kind() ProposalKind
	isProposalAction()
}

// FundingAction transfers Amount to Recipient when the proposal is executed
type FundingAction struct {
	Amount    uint64
	Recipient common.Address
}

func (FundingAction) Kind() ProposalKind { return ProposalKindFunding }
func (FundingAction) isProposalAction()  {}

// GovernanceAction sets a governance parameter when the proposal is executed
type GovernanceAction struct {
	Parameter string
	Value     string
}

func (GovernanceAction) Kind() ProposalKind { return ProposalKindGovernance }
func (GovernanceAction) isProposalAction()  {}

// ProtocolAction marks a protocol as integrated when the proposal is executed
type ProtocolAction struct {
	ProtocolID string
}

func (ProtocolAction) Kind() ProposalKind { return ProposalKindProtocol }
func (ProtocolAction) isProposalAction()  {}

type Proposal struct {
	ID                 string
	Title              string
	Description        string
	Author             common.Address
	Kind               ProposalKind
	Action             ProposalAction
	CreatedAt          time.Time
	EndAt              time.Time
	Status             ProposalStatus
	VotesFor           uint64
	VotesAgainst       uint64
	TotalVotes         uint64
	RequiredQuorum     uint64
	ExecutionAttempts  uint32
	LastExecutionError string
	ExecutedAt         time.Time
}

type VoteDirection uint8

const (
	VoteFor VoteDirection = iota + 1
	VoteAgainst
)

func (d VoteDirection) String() string {
	switch d {
	case VoteFor:
		return "for"
	case VoteAgainst:
		return "against"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

type Vote struct {
	ID              string
	ProposalID      string
	Voter           common.Address
	Direction       VoteDirection
	Weight          uint64
	QuadraticWeight uint64
	Timestamp       time.Time
}

type FundingRound struct {
	ID           string
	Title        string
	Description  string
	Creator      common.Address
	TotalPool    uint64
	MatchingPool uint64
	CreatedAt    time.Time
	EndAt        time.Time
	ProjectIDs   []string
	Settled      bool
}

// Ended reports whether the round no longer accepts contributions at the given time
func (r FundingRound) Ended(now time.Time) bool {
	return r.Settled || !now.Before(r.EndAt)
}

// ContributorSum is the total contributed by one contributor to one project
type ContributorSum struct {
	Contributor common.Address
	Amount      uint64
}

type FundingProject struct {
	ID             string
	RoundID        string
	Title          string
	Description    string
	Author         common.Address
	Raised         uint64
	MatchingAmount uint64
	// Contributions summed per contributor, in order of first contribution
	ContributorSums []ContributorSum
}

// Contributors returns the number of distinct contributors
func (p FundingProject) Contributors() int {
	return len(p.ContributorSums)
}

type Contribution struct {
	ID             string
	ProjectID      string
	Contributor    common.Address
	Amount         uint64
	Timestamp      time.Time
	QuadraticMatch uint64
}

// ProjectMatch is the matching amount awarded to a project at settlement
type ProjectMatch struct {
	ProjectID string
	Amount    uint64
}

type Settlement struct {
	RoundID   string
	Matches   []ProjectMatch
	Residual  uint64
	SettledAt time.Time
	Seq       uint64
}

// MatchFor returns the matching amount awarded to the given project
func (s Settlement) MatchFor(projectID string) uint64 {
	for _, m := range s.Matches {
		if m.ProjectID == projectID {
			return m.Amount
		}
	}
	return 0
}

// MatchMap returns the matching amounts keyed by project
func (s Settlement) MatchMap() map[string]uint64 {
	ret := make(map[string]uint64, len(s.Matches))
	for _, m := range s.Matches {
		ret[m.ProjectID] = m.Amount
	}
	return ret
}

type ProtocolStatus uint8

const (
	ProtocolStatusDraft ProtocolStatus = iota + 1
	ProtocolStatusPending
	ProtocolStatusVerified
	ProtocolStatusRejected
)

func (s ProtocolStatus) String() string {
	switch s {
	case ProtocolStatusDraft:
		return "draft"
	case ProtocolStatusPending:
		return "pending"
	case ProtocolStatusVerified:
		return "verified"
	case ProtocolStatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type Protocol struct {
	ID                string
	Author            common.Address
	Title             string
	Description       string
	Category          string
	Tags              []string
	FileName          string
	FileSize          uint64
	ZKProofHash       string
	Status            ProtocolStatus
	VerificationCount uint32
	Downloads         uint64
	Verifiers         []common.Address
	BoundTokenID      string
	Integrated        bool
	CreatedAt         time.Time
}

// VerifiedBy reports whether the given verifier already attested this protocol
func (p Protocol) VerifiedBy(verifier common.Address) bool {
	return slices.Contains(p.Verifiers, verifier)
}

type Rarity uint8

const (
	RarityCommon Rarity = iota + 1
	RarityRare
	RarityEpic
	RarityLegendary
)

func (r Rarity) String() string {
	switch r {
	case RarityCommon:
		return "common"
	case RarityRare:
		return "rare"
	case RarityEpic:
		return "epic"
	case RarityLegendary:
		return "legendary"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// RarityForVerifiedCount maps an author's number of verified protocols to a badge rarity
func RarityForVerifiedCount(count uint64) Rarity {
	switch {
	case count >= 10:
		return RarityLegendary
	case count >= 5:
		return RarityEpic
	case count >= 2:
		return RarityRare
	default:
		return RarityCommon
	}
}

// Credential is a research badge bound to a verified protocol
type Credential struct {
	TokenID    string
	ProtocolID string
	Owner      common.Address
	Rarity     Rarity
	Attributes []CredentialAttribute
	MintedAt   time.Time
	Issued     bool
	IssuedAt   time.Time
}

// CredentialAttribute is one trait published with a badge's token metadata
type CredentialAttribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// credentialAttributes derives the traits of the badge minted for protocol
func credentialAttributes(protocol *Protocol, rarity Rarity) []CredentialAttribute {
	attrs := make([]CredentialAttribute, 0, 3+len(protocol.Tags))
	if protocol.Category != "" {
		attrs = append(attrs, CredentialAttribute{TraitType: "Research Field", Value: protocol.Category})
	}
	attrs = append(
		attrs,
		CredentialAttribute{
			TraitType: "Verifications",
			Value:     strconv.FormatUint(uint64(protocol.VerificationCount), 10),
		},
		CredentialAttribute{TraitType: "Rarity", Value: rarity.String()},
	)
	for _, tag := range protocol.Tags {
		attrs = append(attrs, CredentialAttribute{TraitType: "Tag", Value: tag})
	}
	return attrs
}
