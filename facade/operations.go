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
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/ledger"
	"go.opentelemetry.io/otel/attribute"
)

// CreateProposal submits a proposal authored by caller
func (f *Facade) CreateProposal(
	ctx context.Context,
	caller common.Address,
	in governance.ProposalInput,
) (id string, err error) {
	ctx, span := f.startSpan(ctx, "CreateProposal", callerAttr(caller))
	defer func() { f.endSpan(span, "CreateProposal", err) }()
	id, err = f.governance.CreateProposal(ctx, caller, in)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("proposal", id))
	return id, nil
}

// ActivateProposal opens a draft proposal for voting. Only its author may
// activate it
func (f *Facade) ActivateProposal(
	ctx context.Context,
	caller common.Address,
	proposalID string,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"ActivateProposal",
		callerAttr(caller),
		attribute.String("proposal", proposalID),
	)
	defer func() { f.endSpan(span, "ActivateProposal", err) }()
	return f.governance.ActivateProposal(ctx, caller, proposalID)
}

// CastVote records the caller's vote on an active proposal
func (f *Facade) CastVote(
	ctx context.Context,
	caller common.Address,
	proposalID string,
	direction ledger.VoteDirection,
) (id string, err error) {
	ctx, span := f.startSpan(
		ctx,
		"CastVote",
		callerAttr(caller),
		attribute.String("proposal", proposalID),
		attribute.Stringer("direction", direction),
	)
	defer func() { f.endSpan(span, "CastVote", err) }()
	return f.governance.CastVote(ctx, proposalID, caller, direction)
}

// FinalizeProposal settles the outcome of a proposal whose voting period ended
func (f *Facade) FinalizeProposal(
	ctx context.Context,
	proposalID string,
) (status ledger.ProposalStatus, err error) {
	ctx, span := f.startSpan(ctx, "FinalizeProposal", attribute.String("proposal", proposalID))
	defer func() { f.endSpan(span, "FinalizeProposal", err) }()
	return f.governance.FinalizeProposal(ctx, proposalID)
}

// ExecuteProposal applies a passed proposal. The author or an administrator
// may execute it
func (f *Facade) ExecuteProposal(
	ctx context.Context,
	caller common.Address,
	proposalID string,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"ExecuteProposal",
		callerAttr(caller),
		attribute.String("proposal", proposalID),
	)
	defer func() { f.endSpan(span, "ExecuteProposal", err) }()
	proposal, err := f.store.Proposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.Author != caller && !f.IsAdmin(caller) {
		return fmt.Errorf(
			"%w: only the author or an administrator can execute a proposal",
			ledger.ErrUnauthorized,
		)
	}
	return f.governance.ExecuteProposal(ctx, caller, proposalID)
}

// OpenFundingRound opens a quadratic funding round. Administrators only
func (f *Facade) OpenFundingRound(
	ctx context.Context,
	caller common.Address,
	in funding.RoundInput,
) (id string, err error) {
	ctx, span := f.startSpan(ctx, "OpenFundingRound", callerAttr(caller))
	defer func() { f.endSpan(span, "OpenFundingRound", err) }()
	if err := f.requireAdmin(caller); err != nil {
		return "", err
	}
	id, err = f.funding.OpenRound(ctx, caller, in)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("round", id))
	return id, nil
}

// AddProject adds a project authored by caller to an open round
func (f *Facade) AddProject(
	ctx context.Context,
	caller common.Address,
	roundID string,
	in funding.ProjectInput,
) (id string, err error) {
	ctx, span := f.startSpan(
		ctx,
		"AddProject",
		callerAttr(caller),
		attribute.String("round", roundID),
	)
	defer func() { f.endSpan(span, "AddProject", err) }()
	return f.funding.AddProject(ctx, roundID, caller, in)
}

// Contribute records a contribution by caller to a project
func (f *Facade) Contribute(
	ctx context.Context,
	caller common.Address,
	projectID string,
	amount uint64,
) (id string, err error) {
	ctx, span := f.startSpan(
		ctx,
		"Contribute",
		callerAttr(caller),
		attribute.String("project", projectID),
		attribute.String("amount", strconv.FormatUint(amount, 10)),
	)
	defer func() { f.endSpan(span, "Contribute", err) }()
	return f.funding.Contribute(ctx, projectID, caller, amount)
}

// SettleRound distributes the matching pool of an ended round and returns the
// match per project. Settling a settled round returns the recorded amounts
func (f *Facade) SettleRound(
	ctx context.Context,
	roundID string,
) (matches map[string]uint64, err error) {
	ctx, span := f.startSpan(ctx, "SettleRound", attribute.String("round", roundID))
	defer func() { f.endSpan(span, "SettleRound", err) }()
	settlement, err := f.funding.SettleRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return settlement.MatchMap(), nil
}

// SubmitProtocol records a research protocol authored by caller
func (f *Facade) SubmitProtocol(
	ctx context.Context,
	caller common.Address,
	in badge.ProtocolInput,
) (id string, err error) {
	ctx, span := f.startSpan(ctx, "SubmitProtocol", callerAttr(caller))
	defer func() { f.endSpan(span, "SubmitProtocol", err) }()
	return f.badge.SubmitProtocol(ctx, caller, in)
}

// PublishProtocol moves the caller's draft protocol to pending
func (f *Facade) PublishProtocol(
	ctx context.Context,
	caller common.Address,
	protocolID string,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"PublishProtocol",
		callerAttr(caller),
		attribute.String("protocol", protocolID),
	)
	defer func() { f.endSpan(span, "PublishProtocol", err) }()
	return f.badge.PublishProtocol(ctx, caller, protocolID)
}

// RecordDownload counts a download of a published protocol and returns the
// new total
func (f *Facade) RecordDownload(
	ctx context.Context,
	caller common.Address,
	protocolID string,
) (downloads uint64, err error) {
	ctx, span := f.startSpan(
		ctx,
		"RecordDownload",
		callerAttr(caller),
		attribute.String("protocol", protocolID),
	)
	defer func() { f.endSpan(span, "RecordDownload", err) }()
	return f.badge.RecordDownload(ctx, caller, protocolID)
}

// RecordVerification records the caller's attestation of a protocol. When the
// attestation verifies the protocol, issuance of the bound credential is
// requested on the event bus
func (f *Facade) RecordVerification(
	ctx context.Context,
	caller common.Address,
	protocolID string,
) (res badge.Verification, err error) {
	ctx, span := f.startSpan(
		ctx,
		"RecordVerification",
		callerAttr(caller),
		attribute.String("protocol", protocolID),
	)
	defer func() { f.endSpan(span, "RecordVerification", err) }()
	res, err = f.badge.RecordVerification(ctx, protocolID, caller)
	if err != nil {
		return badge.Verification{}, err
	}
	if res.Credential != nil {
		span.SetAttributes(attribute.String("token_id", res.Credential.TokenID))
		if f.bus != nil {
			badge.RequestIssuance(f.bus, *res.Credential, false)
		}
	}
	return res, nil
}

// RejectProtocol rejects a pending protocol. Administrators and authorized
// verifiers may reject
func (f *Facade) RejectProtocol(
	ctx context.Context,
	caller common.Address,
	protocolID string,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"RejectProtocol",
		callerAttr(caller),
		attribute.String("protocol", protocolID),
	)
	defer func() { f.endSpan(span, "RejectProtocol", err) }()
	if !f.IsAdmin(caller) {
		principal, err := f.store.Principal(caller)
		if err != nil || !principal.IsVerifier {
			return fmt.Errorf(
				"%w: %s cannot reject protocols",
				ledger.ErrUnauthorized,
				caller,
			)
		}
	}
	return f.badge.RejectProtocol(ctx, caller, protocolID)
}

// ConfirmIssuance records that the badge minter issued a credential
func (f *Facade) ConfirmIssuance(ctx context.Context, tokenID string) (err error) {
	ctx, span := f.startSpan(ctx, "ConfirmIssuance", attribute.String("token_id", tokenID))
	defer func() { f.endSpan(span, "ConfirmIssuance", err) }()
	return f.badge.ConfirmIssuance(ctx, tokenID)
}
