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
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/ledger"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Clock        clockwork.Clock
	// AutoRegister enrolls unknown creators, authors and contributors in the
	// commit of their first operation
	AutoRegister bool
}

// Engine runs quadratic funding rounds on top of the ledger store
type Engine struct {
	store        *ledger.Store
	logger       *slog.Logger
	clock        clockwork.Clock
	autoRegister bool
	metrics      engineMetrics
}

func New(store *ledger.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil ledger store", ledger.ErrInvalidArgument)
	}
	e := &Engine{
		store:        store,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		autoRegister: cfg.AutoRegister,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e.logger = e.logger.With("component", "funding")
	if e.clock == nil {
		e.clock = store.Clock()
	}
	e.metrics.init(cfg.PromRegistry)
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// enroll returns the events that register addr when it is not a member yet
// and AutoRegister is set. Without AutoRegister, unknown principals are left
// for the ledger to reject
func (e *Engine) enroll(addr common.Address) ([]ledger.Event, error) {
	if !e.autoRegister {
		return nil, nil
	}
	_, events, err := e.store.Enroll(addr)
	return events, err
}

type RoundInput struct {
	Title        string
	Description  string
	TotalPool    uint64
	MatchingPool uint64
	EndAt        time.Time
}

type ProjectInput struct {
	Title       string
	Description string
}

// OpenRound opens a new funding round and returns its id
func (e *Engine) OpenRound(
	ctx context.Context,
	creator common.Address,
	in RoundInput,
) (string, error) {
	now := e.now()
	if strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("%w: round title is required", ledger.ErrInvalidArgument)
	}
	if in.TotalPool == 0 {
		return "", fmt.Errorf("%w: total pool must be positive", ledger.ErrInvalidAmount)
	}
	if in.MatchingPool > in.TotalPool {
		return "", fmt.Errorf(
			"%w: matching pool %d exceeds total pool %d",
			ledger.ErrInvalidAmount,
			in.MatchingPool,
			in.TotalPool,
		)
	}
	if !in.EndAt.After(now) {
		return "", fmt.Errorf("%w: round must end in the future", ledger.ErrInvalidArgument)
	}
	release, err := e.store.Lock(ctx, ledger.PrincipalRef(creator))
	if err != nil {
		return "", err
	}
	defer release()
	events, err := e.enroll(creator)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	events = append(events, ledger.NewEvent(creator, ledger.RoundOpened{
		ID:           id,
		Title:        in.Title,
		Description:  in.Description,
		Creator:      creator,
		TotalPool:    in.TotalPool,
		MatchingPool: in.MatchingPool,
		CreatedAt:    now,
		EndAt:        in.EndAt.UTC(),
	}))
	if _, err := e.store.Commit(ctx, events...); err != nil {
		return "", err
	}
	e.metrics.roundsOpened.Inc()
	e.logger.Info(
		"funding round opened",
		"round", id,
		"matching_pool", in.MatchingPool,
		"end_at", in.EndAt,
	)
	return id, nil
}

// AddProject adds a project by author to an open round and returns its id
func (e *Engine) AddProject(
	ctx context.Context,
	roundID string,
	author common.Address,
	in ProjectInput,
) (string, error) {
	if strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("%w: project title is required", ledger.ErrInvalidArgument)
	}
	release, err := e.store.Lock(
		ctx,
		ledger.RoundRef(roundID),
		ledger.PrincipalRef(author),
	)
	if err != nil {
		return "", err
	}
	defer release()
	round, err := e.store.Round(roundID)
	if err != nil {
		return "", err
	}
	if round.Ended(e.now()) {
		return "", fmt.Errorf("%w: %s", ledger.ErrRoundEnded, roundID)
	}
	events, err := e.enroll(author)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	events = append(events, ledger.NewEvent(author, ledger.ProjectAdded{
		ID:          id,
		RoundID:     roundID,
		Title:       in.Title,
		Description: in.Description,
		Author:      author,
	}))
	if _, err := e.store.Commit(ctx, events...); err != nil {
		return "", err
	}
	return id, nil
}

// Contribute records a contribution to a project and returns its id
func (e *Engine) Contribute(
	ctx context.Context,
	projectID string,
	contributor common.Address,
	amount uint64,
) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("%w: contribution must be positive", ledger.ErrInvalidAmount)
	}
	release, err := e.store.Lock(
		ctx,
		ledger.ProjectRef(projectID),
		ledger.PrincipalRef(contributor),
	)
	if err != nil {
		return "", err
	}
	defer release()
	project, err := e.store.Project(projectID)
	if err != nil {
		return "", err
	}
	round, err := e.store.Round(project.RoundID)
	if err != nil {
		return "", err
	}
	now := e.now()
	if round.Ended(now) {
		return "", fmt.Errorf("%w: %s", ledger.ErrRoundEnded, round.ID)
	}
	if _, overflow := bits.Add64(project.Raised, amount, 0); overflow != 0 {
		return "", fmt.Errorf(
			"%w: contribution of %d overflows the %d raised by %s",
			ledger.ErrInvalidAmount,
			amount,
			project.Raised,
			projectID,
		)
	}
	events, err := e.enroll(contributor)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	events = append(events, ledger.NewEvent(contributor, ledger.ContributionMade{
		ID:          id,
		ProjectID:   projectID,
		Contributor: contributor,
		Amount:      amount,
		Timestamp:   now,
	}))
	if _, err := e.store.Commit(ctx, events...); err != nil {
		return "", err
	}
	e.metrics.contributions.Inc()
	e.metrics.contributed.Add(float64(amount))
	return id, nil
}

// SettleRound computes and records the matching amounts of an ended round.
// Settling a round that is already settled returns the recorded settlement
func (e *Engine) SettleRound(ctx context.Context, roundID string) (ledger.Settlement, error) {
	if settlement, err := e.store.Settlement(roundID); err == nil {
		return settlement, nil
	}
	// Projects can only be added while holding the round lock, so the
	// project set is fixed once it is held
	releaseRound, err := e.store.Lock(ctx, ledger.RoundRef(roundID))
	if err != nil {
		return ledger.Settlement{}, err
	}
	defer releaseRound()
	round, err := e.store.Round(roundID)
	if err != nil {
		return ledger.Settlement{}, err
	}
	if round.Settled {
		return e.store.Settlement(roundID)
	}
	now := e.now()
	if now.Before(round.EndAt) {
		return ledger.Settlement{}, fmt.Errorf(
			"%w: round %s is still open",
			ledger.ErrInvalidState,
			roundID,
		)
	}
	refs := make([]ledger.EntityRef, 0, len(round.ProjectIDs))
	for _, id := range round.ProjectIDs {
		refs = append(refs, ledger.ProjectRef(id))
	}
	releaseProjects, err := e.store.Lock(ctx, refs...)
	if err != nil {
		return ledger.Settlement{}, err
	}
	defer releaseProjects()
	alloc, err := e.allocate(roundID)
	if err != nil {
		return ledger.Settlement{}, err
	}
	_, err = e.store.Append(ctx, ledger.NewEvent(common.Address{}, ledger.RoundSettled{
		RoundID:             roundID,
		Matches:             alloc.Matches,
		ContributionMatches: alloc.ContributionMatches,
		Residual:            alloc.Residual,
		SettledAt:           now,
	}))
	if err != nil {
		return ledger.Settlement{}, err
	}
	e.metrics.roundsSettled.Inc()
	e.metrics.matched.Add(float64(round.MatchingPool - alloc.Residual))
	e.metrics.residual.Add(float64(alloc.Residual))
	e.logger.Info(
		"funding round settled",
		"round", roundID,
		"projects", len(alloc.Matches),
		"residual", alloc.Residual,
	)
	return e.store.Settlement(roundID)
}

// SettleDue settles every ended round that is not settled yet and returns
// how many were settled
func (e *Engine) SettleDue(ctx context.Context) (int, error) {
	now := e.now()
	due := e.store.ListRounds(func(r ledger.FundingRound) bool {
		return !r.Settled && !now.Before(r.EndAt)
	})
	var errs []error
	count := 0
	for _, round := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := e.SettleRound(ctx, round.ID); err != nil {
			e.logger.Warn(
				"failed to settle funding round",
				"round", round.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("settle %s: %w", round.ID, err))
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

func (e *Engine) allocate(roundID string) (Allocation, error) {
	var (
		ret Allocation
		err error
	)
	e.store.View(func(s *ledger.State) {
		var round ledger.FundingRound
		round, err = s.Round(roundID)
		if err != nil {
			return
		}
		projects := make([]ledger.FundingProject, 0, len(round.ProjectIDs))
		contributions := make(map[string][]ledger.Contribution, len(round.ProjectIDs))
		for _, id := range round.ProjectIDs {
			var project ledger.FundingProject
			project, err = s.Project(id)
			if err != nil {
				return
			}
			projects = append(projects, project)
			contributions[id] = s.ListContributions(id)
		}
		ret = Allocate(round.MatchingPool, projects, contributions)
	})
	return ret, err
}

// ProjectedMatching previews the allocation of a round as if it were
// settled now. For a settled round it returns the recorded settlement
func (e *Engine) ProjectedMatching(roundID string) (Allocation, error) {
	if settlement, err := e.store.Settlement(roundID); err == nil {
		return Allocation{
			Matches:  settlement.Matches,
			Residual: settlement.Residual,
		}, nil
	}
	return e.allocate(roundID)
}

// RankedProject is one entry of a round ranking
type RankedProject struct {
	Rank         int
	ProjectID    string
	Title        string
	Author       common.Address
	Raised       uint64
	Contributors int
	Matching     uint64
	// Projected is set while the round is unsettled
	Projected bool
}

// Ranking orders the projects of a round by matching amount, then by
// distinct contributors, then by amount raised, then by id
func (e *Engine) Ranking(roundID string) ([]RankedProject, error) {
	round, err := e.store.Round(roundID)
	if err != nil {
		return nil, err
	}
	alloc, err := e.ProjectedMatching(roundID)
	if err != nil {
		return nil, err
	}
	matches := alloc.MatchMap()
	ret := make([]RankedProject, 0, len(round.ProjectIDs))
	for _, id := range round.ProjectIDs {
		project, err := e.store.Project(id)
		if err != nil {
			return nil, err
		}
		ret = append(ret, RankedProject{
			ProjectID:    project.ID,
			Title:        project.Title,
			Author:       project.Author,
			Raised:       project.Raised,
			Contributors: project.Contributors(),
			Matching:     matches[id],
			Projected:    !round.Settled,
		})
	}
	slices.SortFunc(ret, func(a, b RankedProject) int {
		if c := cmp.Compare(b.Matching, a.Matching); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Contributors, a.Contributors); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Raised, a.Raised); c != 0 {
			return c
		}
		return cmp.Compare(a.ProjectID, b.ProjectID)
	})
	for i := range ret {
		ret[i].Rank = i + 1
	}
	return ret, nil
}
