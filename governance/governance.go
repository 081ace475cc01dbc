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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/ledger"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultExecutionTimeout          = 10 * time.Second
	DefaultExecutionReputationReward = 10
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Clock        clockwork.Clock
	Executor     Executor
	// AutoActivate moves new proposals straight to active
	AutoActivate bool
	// AutoRegister enrolls unknown authors in the commit of their first proposal
	AutoRegister              bool
	VoteWeighting             VoteWeighting
	MinProposalReputation     uint64
	ExecutionTimeout          time.Duration
	ExecutionReputationReward uint64
}

// Engine runs the proposal lifecycle on top of the ledger store
type Engine struct {
	store    *ledger.Store
	config   Config
	logger   *slog.Logger
	clock    clockwork.Clock
	metrics  engineMetrics
	inflight map[string]uint32
	mu       sync.Mutex
}

func New(store *ledger.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil ledger store", ledger.ErrInvalidArgument)
	}
	if cfg.VoteWeighting == "" {
		cfg.VoteWeighting = WeightingLinear
	}
	if _, err := ParseVoteWeighting(string(cfg.VoteWeighting)); err != nil {
		return nil, err
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.Executor == nil {
		cfg.Executor = NopExecutor{}
	}
	e := &Engine{
		store:    store,
		config:   cfg,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		inflight: make(map[string]uint32),
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e.logger = e.logger.With("component", "governance")
	if e.clock == nil {
		e.clock = store.Clock()
	}
	e.metrics.init(cfg.PromRegistry)
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// member resolves the principal acting in an operation along with the events
// that enroll it, if any
func (e *Engine) member(addr common.Address) (ledger.Principal, []ledger.Event, error) {
	if e.config.AutoRegister {
		return e.store.Enroll(addr)
	}
	principal, err := e.store.Principal(addr)
	return principal, nil, err
}

// ProposalInput describes a new proposal. Use FundingProposal,
// GovernanceProposal or ProtocolProposal to build one
type ProposalInput struct {
	Title          string
	Description    string
	Action         ledger.ProposalAction
	EndAt          time.Time
	RequiredQuorum uint64
}

func FundingProposal(
	title, description string,
	amount uint64,
	recipient common.Address,
	endAt time.Time,
	requiredQuorum uint64,
) ProposalInput {
	return ProposalInput{
		Title:          title,
		Description:    description,
		Action:         ledger.FundingAction{Amount: amount, Recipient: recipient},
		EndAt:          endAt,
		RequiredQuorum: requiredQuorum,
	}
}

func GovernanceProposal(
	title, description string,
	parameter, value string,
	endAt time.Time,
	requiredQuorum uint64,
) ProposalInput {
	return ProposalInput{
		Title:          title,
		Description:    description,
		Action:         ledger.GovernanceAction{Parameter: parameter, Value: value},
		EndAt:          endAt,
		RequiredQuorum: requiredQuorum,
	}
}

func ProtocolProposal(
	title, description string,
	protocolID string,
	endAt time.Time,
	requiredQuorum uint64,
) ProposalInput {
	return ProposalInput{
		Title:          title,
		Description:    description,
		Action:         ledger.ProtocolAction{ProtocolID: protocolID},
		EndAt:          endAt,
		RequiredQuorum: requiredQuorum,
	}
}

func (in ProposalInput) validate(now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: proposal title is required", ledger.ErrInvalidArgument)
	}
	if in.RequiredQuorum == 0 {
		return fmt.Errorf("%w: required quorum must be positive", ledger.ErrInvalidArgument)
	}
	if !in.EndAt.After(now) {
		return fmt.Errorf("%w: proposal must end in the future", ledger.ErrInvalidArgument)
	}
	switch a := in.Action.(type) {
	case ledger.FundingAction:
		if a.Amount == 0 {
			return fmt.Errorf("%w: funding amount must be positive", ledger.ErrInvalidAmount)
		}
		if a.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: funding recipient is required", ledger.ErrInvalidArgument)
		}
	case ledger.GovernanceAction:
		if a.Parameter == "" {
			return fmt.Errorf("%w: governance parameter is required", ledger.ErrInvalidArgument)
		}
	case ledger.ProtocolAction:
		if a.ProtocolID == "" {
			return fmt.Errorf("%w: protocol id is required", ledger.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: proposal action is required", ledger.ErrInvalidArgument)
	}
	return nil
}

// CreateProposal records a new proposal by author and returns its id
func (e *Engine) CreateProposal(
	ctx context.Context,
	author common.Address,
	in ProposalInput,
) (string, error) {
	now := e.now()
	if err := in.validate(now); err != nil {
		return "", err
	}
	release, err := e.store.Lock(ctx, ledger.PrincipalRef(author))
	if err != nil {
		return "", err
	}
	defer release()
	principal, events, err := e.member(author)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown author %s", ledger.ErrUnauthorized, author)
		}
		return "", err
	}
	if principal.Reputation < e.config.MinProposalReputation {
		return "", fmt.Errorf(
			"%w: reputation %d below required %d",
			ledger.ErrUnauthorized,
			principal.Reputation,
			e.config.MinProposalReputation,
		)
	}
	if a, ok := in.Action.(ledger.ProtocolAction); ok {
		if _, err := e.store.Protocol(a.ProtocolID); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	events = append(events,
		ledger.NewEvent(author, ledger.NewProposalCreated(ledger.Proposal{
			ID:             id,
			Title:          in.Title,
			Description:    in.Description,
			Author:         author,
			Action:         in.Action,
			CreatedAt:      now,
			EndAt:          in.EndAt.UTC(),
			Status:         ledger.ProposalStatusDraft,
			RequiredQuorum: in.RequiredQuorum,
		})),
	)
	if e.config.AutoActivate {
		events = append(
			events,
			ledger.NewEvent(author, ledger.ProposalActivated{ProposalID: id}),
		)
	}
	if _, err := e.store.Commit(ctx, events...); err != nil {
		return "", err
	}
	e.metrics.proposalsCreated.WithLabelValues(in.Action.Kind().String()).Inc()
	e.logger.Info(
		"proposal created",
		"proposal", id,
		"kind", in.Action.Kind().String(),
		"author", author.Hex(),
	)
	return id, nil
}

// ActivateProposal opens a draft proposal for voting. Only the author may
// activate a proposal
func (e *Engine) ActivateProposal(
	ctx context.Context,
	actor common.Address,
	proposalID string,
) error {
	release, err := e.store.Lock(ctx, ledger.ProposalRef(proposalID))
	if err != nil {
		return err
	}
	defer release()
	proposal, err := e.store.Proposal(proposalID)
	if err != nil {
		return err
	}
	if proposal.Author != actor {
		return fmt.Errorf("%w: only the author can activate a proposal", ledger.ErrUnauthorized)
	}
	if proposal.Status != ledger.ProposalStatusDraft {
		return fmt.Errorf(
			"%w: proposal is %s, not draft",
			ledger.ErrInvalidState,
			proposal.Status,
		)
	}
	if !e.now().Before(proposal.EndAt) {
		return fmt.Errorf("%w: voting period is over", ledger.ErrInvalidState)
	}
	_, err = e.store.Append(
		ctx,
		ledger.NewEvent(actor, ledger.ProposalActivated{ProposalID: proposalID}),
	)
	return err
}

// CastVote records a vote by voter and returns the vote id. The weight is
// resolved from the voter's voting power at the time of the call
func (e *Engine) CastVote(
	ctx context.Context,
	proposalID string,
	voter common.Address,
	direction ledger.VoteDirection,
) (string, error) {
	if direction != ledger.VoteFor && direction != ledger.VoteAgainst {
		return "", fmt.Errorf("%w: unknown vote direction %d", ledger.ErrInvalidArgument, direction)
	}
	release, err := e.store.Lock(ctx, ledger.ProposalRef(proposalID))
	if err != nil {
		return "", err
	}
	defer release()
	proposal, err := e.store.Proposal(proposalID)
	if err != nil {
		return "", err
	}
	now := e.now()
	if proposal.Status != ledger.ProposalStatusActive {
		return "", fmt.Errorf("%w: proposal is %s", ledger.ErrInvalidState, proposal.Status)
	}
	if !now.Before(proposal.EndAt) {
		return "", fmt.Errorf("%w: voting period is over", ledger.ErrInvalidState)
	}
	if _, err := e.store.Vote(proposalID, voter); err == nil {
		return "", fmt.Errorf("%w: %s already voted on %s", ledger.ErrDuplicateVote, voter, proposalID)
	}
	principal, err := e.store.Principal(voter)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown voter %s", ledger.ErrUnauthorized, voter)
		}
		return "", err
	}
	weight, quadratic := e.config.VoteWeighting.Resolve(principal.VotingPower)
	if weight == 0 {
		return "", fmt.Errorf("%w: %s has no voting power", ledger.ErrUnauthorized, voter)
	}
	id := uuid.NewString()
	_, err = e.store.Append(ctx, ledger.NewEvent(voter, ledger.VoteCast{
		VoteID:          id,
		ProposalID:      proposalID,
		Voter:           voter,
		Direction:       direction,
		Weight:          weight,
		QuadraticWeight: quadratic,
		Timestamp:       now,
	}))
	if err != nil {
		return "", err
	}
	e.metrics.votesCast.WithLabelValues(direction.String()).Inc()
	e.metrics.voteWeight.Add(float64(weight))
	return id, nil
}

// FinalizeProposal commits the outcome of a proposal whose voting period is
// over. Proposals that are already final are left as they are
func (e *Engine) FinalizeProposal(
	ctx context.Context,
	proposalID string,
) (ledger.ProposalStatus, error) {
	release, err := e.store.Lock(ctx, ledger.ProposalRef(proposalID))
	if err != nil {
		return 0, err
	}
	defer release()
	proposal, err := e.store.Proposal(proposalID)
	if err != nil {
		return 0, err
	}
	if proposal.Status.Final() {
		return proposal.Status, nil
	}
	if e.now().Before(proposal.EndAt) {
		return proposal.Status, fmt.Errorf(
			"%w: voting on %s is still open",
			ledger.ErrInvalidState,
			proposalID,
		)
	}
	outcome := ledger.ProposalStatusFailed
	// Drafts that were never activated cannot pass
	if proposal.Status == ledger.ProposalStatusActive {
		outcome = Outcome(proposal)
	}
	_, err = e.store.Append(ctx, ledger.NewEvent(
		common.Address{},
		ledger.ProposalFinalized{ProposalID: proposalID, Status: outcome},
	))
	if err != nil {
		return proposal.Status, err
	}
	e.metrics.proposalsFinalized.WithLabelValues(outcome.String()).Inc()
	e.logger.Info(
		"proposal finalized",
		"proposal", proposalID,
		"status", outcome.String(),
		"votes_for", proposal.VotesFor,
		"votes_against", proposal.VotesAgainst,
		"quorum", proposal.RequiredQuorum,
	)
	return outcome, nil
}

// FinalizeDue finalizes every open proposal whose voting period is over and
// returns how many were finalized
func (e *Engine) FinalizeDue(ctx context.Context) (int, error) {
	now := e.now()
	due := e.store.ListProposals(func(p ledger.Proposal) bool {
		return !p.Status.Final() && !now.Before(p.EndAt)
	})
	var errs []error
	count := 0
	for _, proposal := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := e.FinalizeProposal(ctx, proposal.ID); err != nil {
			e.logger.Warn(
				"failed to finalize proposal",
				"proposal", proposal.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("finalize %s: %w", proposal.ID, err))
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}
