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
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EntityKind string

const (
	EntityPrincipal  EntityKind = "principal"
	EntityProposal   EntityKind = "proposal"
	EntityRound      EntityKind = "round"
	EntityProject    EntityKind = "project"
	EntityProtocol   EntityKind = "protocol"
	EntityCredential EntityKind = "credential"
)

// EntityRef identifies a single entity in the projection
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + r.ID
}

func PrincipalRef(addr common.Address) EntityRef {
	return EntityRef{Kind: EntityPrincipal, ID: addr.Hex()}
}

func ProposalRef(id string) EntityRef {
	return EntityRef{Kind: EntityProposal, ID: id}
}

func RoundRef(id string) EntityRef {
	return EntityRef{Kind: EntityRound, ID: id}
}

func ProjectRef(id string) EntityRef {
	return EntityRef{Kind: EntityProject, ID: id}
}

func ProtocolRef(id string) EntityRef {
	return EntityRef{Kind: EntityProtocol, ID: id}
}

func CredentialRef(tokenID string) EntityRef {
	return EntityRef{Kind: EntityCredential, ID: tokenID}
}

type EventKind string

const (
	KindPrincipalRegistered      EventKind = "principal.registered"
	KindVotingPowerGranted       EventKind = "principal.voting_power_granted"
	KindReputationGranted        EventKind = "principal.reputation_granted"
	KindVerifierAuthorizationSet EventKind = "principal.verifier_set"
	KindPrincipalBootstrapped    EventKind = "admin.bootstrap"
	KindProposalCreated          EventKind = "proposal.created"
	KindProposalActivated        EventKind = "proposal.activated"
	KindVoteCast                 EventKind = "proposal.voted"
	KindProposalFinalized        EventKind = "proposal.finalized"
	KindExecutionStarted         EventKind = "proposal.execution_started"
	KindExecutionFailed          EventKind = "proposal.execution_failed"
	KindProposalExecuted         EventKind = "proposal.executed"
	KindRoundOpened              EventKind = "round.opened"
	KindProjectAdded             EventKind = "project.added"
	KindContributionMade         EventKind = "contribution.made"
	KindRoundSettled             EventKind = "round.settled"
	KindProtocolSubmitted        EventKind = "protocol.submitted"
	KindProtocolPublished        EventKind = "protocol.published"
	KindProtocolAttested         EventKind = "protocol.attested"
	KindProtocolRejected         EventKind = "protocol.rejected"
	KindProtocolDownloaded       EventKind = "protocol.downloaded"
	KindCredentialIssued         EventKind = "credential.issued"
)

// creatingKinds are the event kinds that introduce a new entity
var creatingKinds = map[EventKind]bool{
	KindPrincipalRegistered: true,
	KindProposalCreated:     true,
	KindRoundOpened:         true,
	KindProjectAdded:        true,
	KindProtocolSubmitted:   true,
}

// Payload is the kind-specific body of a ledger event
type Payload interface {
	EventKind() EventKind
	// Entity returns the entity the event is recorded against
	Entity() EntityRef
	// requires returns other entities that must exist when the event is applied
	requires() []EntityRef
}

// Event is a single entry of the append-only ledger log
type Event struct {
	Seq        uint64
	Kind       EventKind
	Entity     EntityRef
	Actor      common.Address
	RecordedAt time.Time
	Payload    Payload
}

// NewEvent wraps a payload in an unsequenced event attributed to actor
func NewEvent(actor common.Address, payload Payload) Event {
	return Event{
		Kind:    payload.EventKind(),
		Entity:  payload.Entity(),
		Actor:   actor,
		Payload: payload,
	}
}

type PrincipalRegistered struct {
	Address  common.Address
	JoinedAt time.Time
}

func (PrincipalRegistered) EventKind() EventKind  { return KindPrincipalRegistered }
func (p PrincipalRegistered) Entity() EntityRef   { return PrincipalRef(p.Address) }
func (PrincipalRegistered) requires() []EntityRef { return nil }

type VotingPowerGranted struct {
	Address common.Address
	Amount  uint64
}

func (VotingPowerGranted) EventKind() EventKind  { return KindVotingPowerGranted }
func (p VotingPowerGranted) Entity() EntityRef   { return PrincipalRef(p.Address) }
func (VotingPowerGranted) requires() []EntityRef { return nil }

type ReputationGranted struct {
	Address common.Address
	Amount  uint64
}

func (ReputationGranted) EventKind() EventKind  { return KindReputationGranted }
func (p ReputationGranted) Entity() EntityRef   { return PrincipalRef(p.Address) }
func (ReputationGranted) requires() []EntityRef { return nil }

type VerifierAuthorizationSet struct {
	Address    common.Address
	Authorized bool
}

func (VerifierAuthorizationSet) EventKind() EventKind  { return KindVerifierAuthorizationSet }
func (p VerifierAuthorizationSet) Entity() EntityRef   { return PrincipalRef(p.Address) }
func (VerifierAuthorizationSet) requires() []EntityRef { return nil }

// PrincipalBootstrapped is the audited administrative grant of voting power,
// reputation and the verifier role in one step
type PrincipalBootstrapped struct {
	Address     common.Address
	Admin       common.Address
	VotingPower uint64
	Reputation  uint64
	Verifier    bool
}

func (PrincipalBootstrapped) EventKind() EventKind  { return KindPrincipalBootstrapped }
func (p PrincipalBootstrapped) Entity() EntityRef   { return PrincipalRef(p.Address) }
func (PrincipalBootstrapped) requires() []EntityRef { return nil }

// ProposalCreated carries the proposal action flattened, keyed by ActionKind
type ProposalCreated struct {
	ID               string
	Title            string
	Description      string
	Author           common.Address
	ActionKind       ProposalKind
	FundingAmount    uint64
	FundingRecipient common.Address
	Parameter        string
	Value            string
	ProtocolID       string
	CreatedAt        time.Time
	EndAt            time.Time
	RequiredQuorum   uint64
	Status           ProposalStatus
}

// NewProposalCreated builds the creation payload for a proposal
func NewProposalCreated(p Proposal) ProposalCreated {
	ret := ProposalCreated{
		ID:             p.ID,
		Title:          p.Title,
		Description:    p.Description,
		Author:         p.Author,
		CreatedAt:      p.CreatedAt,
		EndAt:          p.EndAt,
		RequiredQuorum: p.RequiredQuorum,
		Status:         p.Status,
	}
	switch a := p.Action.(type) {
	case FundingAction:
		ret.ActionKind = ProposalKindFunding
		ret.FundingAmount = a.Amount
		ret.FundingRecipient = a.Recipient
	case GovernanceAction:
		ret.ActionKind = ProposalKindGovernance
		ret.Parameter = a.Parameter
		ret.Value = a.Value
	case ProtocolAction:
		ret.ActionKind = ProposalKindProtocol
		ret.ProtocolID = a.ProtocolID
	}
	return ret
}

func (p ProposalCreated) action() ProposalAction {
	switch p.ActionKind {
	case ProposalKindFunding:
		return FundingAction{Amount: p.FundingAmount, Recipient: p.FundingRecipient}
	case ProposalKindGovernance:
		return GovernanceAction{Parameter: p.Parameter, Value: p.Value}
	case ProposalKindProtocol:
		return ProtocolAction{ProtocolID: p.ProtocolID}
	default:
		return nil
	}
}

func (ProposalCreated) EventKind() EventKind { return KindProposalCreated }
func (p ProposalCreated) Entity() EntityRef  { return ProposalRef(p.ID) }
func (p ProposalCreated) requires() []EntityRef {
	ret := []EntityRef{PrincipalRef(p.Author)}
	if p.ActionKind == ProposalKindProtocol {
		ret = append(ret, ProtocolRef(p.ProtocolID))
	}
	return ret
}

type ProposalActivated struct {
	ProposalID string
}

func (ProposalActivated) EventKind() EventKind  { return KindProposalActivated }
func (p ProposalActivated) Entity() EntityRef   { return ProposalRef(p.ProposalID) }
func (ProposalActivated) requires() []EntityRef { return nil }

// VoteCast records a vote together with its tally update
type VoteCast struct {
	VoteID          string
	ProposalID      string
	Voter           common.Address
	Direction       VoteDirection
	Weight          uint64
	QuadraticWeight uint64
	Timestamp       time.Time
}

func (VoteCast) EventKind() EventKind    { return KindVoteCast }
func (p VoteCast) Entity() EntityRef     { return ProposalRef(p.ProposalID) }
func (p VoteCast) requires() []EntityRef { return []EntityRef{PrincipalRef(p.Voter)} }

type ProposalFinalized struct {
	ProposalID string
	Status     ProposalStatus
}

func (ProposalFinalized) EventKind() EventKind  { return KindProposalFinalized }
func (p ProposalFinalized) Entity() EntityRef   { return ProposalRef(p.ProposalID) }
func (ProposalFinalized) requires() []EntityRef { return nil }

type ExecutionStarted struct {
	ProposalID string
}

func (ExecutionStarted) EventKind() EventKind  { return KindExecutionStarted }
func (p ExecutionStarted) Entity() EntityRef   { return ProposalRef(p.ProposalID) }
func (ExecutionStarted) requires() []EntityRef { return nil }

// ExecutionFailed returns an executing proposal to passed
type ExecutionFailed struct {
	ProposalID string
	Error      string
}

func (ExecutionFailed) EventKind() EventKind  { return KindExecutionFailed }
func (p ExecutionFailed) Entity() EntityRef   { return ProposalRef(p.ProposalID) }
func (ExecutionFailed) requires() []EntityRef { return nil }

type ProposalExecuted struct {
	ProposalID       string
	ExecutedAt       time.Time
	ReputationReward uint64
}

func (ProposalExecuted) EventKind() EventKind  { return KindProposalExecuted }
func (p ProposalExecuted) Entity() EntityRef   { return ProposalRef(p.ProposalID) }
func (ProposalExecuted) requires() []EntityRef { return nil }

type RoundOpened struct {
	ID           string
	Title        string
	Description  string
	Creator      common.Address
	TotalPool    uint64
	MatchingPool uint64
	CreatedAt    time.Time
	EndAt        time.Time
}

func (RoundOpened) EventKind() EventKind  { return KindRoundOpened }
func (p RoundOpened) Entity() EntityRef   { return RoundRef(p.ID) }
func (RoundOpened) requires() []EntityRef { return nil }

type ProjectAdded struct {
	ID          string
	RoundID     string
	Title       string
	Description string
	Author      common.Address
}

func (ProjectAdded) EventKind() EventKind { return KindProjectAdded }
func (p ProjectAdded) Entity() EntityRef  { return ProjectRef(p.ID) }
func (p ProjectAdded) requires() []EntityRef {
	return []EntityRef{RoundRef(p.RoundID), PrincipalRef(p.Author)}
}

type ContributionMade struct {
	ID          string
	ProjectID   string
	Contributor common.Address
	Amount      uint64
	Timestamp   time.Time
}

func (ContributionMade) EventKind() EventKind { return KindContributionMade }
func (p ContributionMade) Entity() EntityRef  { return ProjectRef(p.ProjectID) }
func (p ContributionMade) requires() []EntityRef {
	return []EntityRef{PrincipalRef(p.Contributor)}
}

// ContributionMatch is the share of its project's match credited to one contribution
type ContributionMatch struct {
	ContributionID string
	Amount         uint64
}

// RoundSettled records the whole settlement of a round in one event
type RoundSettled struct {
	RoundID             string
	Matches             []ProjectMatch
	ContributionMatches []ContributionMatch
	Residual            uint64
	SettledAt           time.Time
}

func (RoundSettled) EventKind() EventKind  { return KindRoundSettled }
func (p RoundSettled) Entity() EntityRef   { return RoundRef(p.RoundID) }
func (RoundSettled) requires() []EntityRef { return nil }

type ProtocolSubmitted struct {
	ID          string
	Author      common.Address
	Title       string
	Description string
	Category    string
	Tags        []string
	FileName    string
	FileSize    uint64
	ZKProofHash string
	Status      ProtocolStatus
	CreatedAt   time.Time
}

func (ProtocolSubmitted) EventKind() EventKind { return KindProtocolSubmitted }
func (p ProtocolSubmitted) Entity() EntityRef  { return ProtocolRef(p.ID) }
func (p ProtocolSubmitted) requires() []EntityRef {
	return []EntityRef{PrincipalRef(p.Author)}
}

type ProtocolPublished struct {
	ProtocolID string
}

func (ProtocolPublished) EventKind() EventKind  { return KindProtocolPublished }
func (p ProtocolPublished) Entity() EntityRef   { return ProtocolRef(p.ProtocolID) }
func (ProtocolPublished) requires() []EntityRef { return nil }

// ProtocolAttested records one verifier attestation. When Binds is set the
// attestation reached the verification threshold and a credential is bound
type ProtocolAttested struct {
	ProtocolID string
	Verifier   common.Address
	Binds      bool
	At         time.Time
}

func (ProtocolAttested) EventKind() EventKind { return KindProtocolAttested }
func (p ProtocolAttested) Entity() EntityRef  { return ProtocolRef(p.ProtocolID) }
func (p ProtocolAttested) requires() []EntityRef {
	return []EntityRef{PrincipalRef(p.Verifier)}
}

type ProtocolRejected struct {
	ProtocolID string
}

func (ProtocolRejected) EventKind() EventKind  { return KindProtocolRejected }
func (p ProtocolRejected) Entity() EntityRef   { return ProtocolRef(p.ProtocolID) }
func (ProtocolRejected) requires() []EntityRef { return nil }

type ProtocolDownloaded struct {
	ProtocolID string
}

func (ProtocolDownloaded) EventKind() EventKind  { return KindProtocolDownloaded }
func (p ProtocolDownloaded) Entity() EntityRef   { return ProtocolRef(p.ProtocolID) }
func (ProtocolDownloaded) requires() []EntityRef { return nil }

type CredentialIssued struct {
	TokenID  string
	IssuedAt time.Time
}

func (CredentialIssued) EventKind() EventKind  { return KindCredentialIssued }
func (p CredentialIssued) Entity() EntityRef   { return CredentialRef(p.TokenID) }
func (CredentialIssued) requires() []EntityRef { return nil }
