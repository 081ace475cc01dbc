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

package funding_test

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
)

func donor(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x100 + n)))
}

func sums(amounts ...uint64) []ledger.ContributorSum {
	ret := make([]ledger.ContributorSum, 0, len(amounts))
	for i, amount := range amounts {
		ret = append(ret, ledger.ContributorSum{Contributor: donor(i), Amount: amount})
	}
	return ret
}

func project(id string, amounts ...uint64) ledger.FundingProject {
	p := ledger.FundingProject{ID: id, ContributorSums: sums(amounts...)}
	for _, amount := range amounts {
		p.Raised += amount
	}
	return p
}

func total(alloc funding.Allocation) uint64 {
	ret := alloc.Residual
	for _, m := range alloc.Matches {
		ret += m.Amount
	}
	return ret
}

func TestAllocateFavorsBroadSupport(t *testing.T) {
	alloc := funding.Allocate(
		1000,
		[]ledger.FundingProject{
			project("single", 100),
			project("broad", 25, 25, 25, 25),
		},
		nil,
	)
	matches := alloc.MatchMap()
	// 10^2 against 20^2
	assert.Equal(t, uint64(200), matches["single"])
	assert.Equal(t, uint64(800), matches["broad"])
	assert.Greater(t, matches["broad"], matches["single"])
	assert.Zero(t, alloc.Residual)
}

func TestAllocateResidual(t *testing.T) {
	alloc := funding.Allocate(
		100,
		[]ledger.FundingProject{
			project("a", 9),
			project("b", 9),
			project("c", 9),
		},
		nil,
	)
	for _, m := range alloc.Matches {
		assert.Equal(t, uint64(33), m.Amount)
	}
	assert.Equal(t, uint64(1), alloc.Residual)
	assert.Equal(t, uint64(100), total(alloc))

	empty := funding.Allocate(
		500,
		[]ledger.FundingProject{project("a"), project("b")},
		nil,
	)
	assert.Equal(t, uint64(500), empty.Residual)
	assert.Len(t, empty.Matches, 2)
	assert.Equal(t, uint64(500), total(empty))

	uneven := funding.Allocate(
		1_000_003,
		[]ledger.FundingProject{
			project("a", 2, 3, 7),
			project("b", 11),
			project("c", 1, 1, 1, 1, 1),
		},
		nil,
	)
	assert.Equal(t, uint64(1_000_003), total(uneven))
}

func TestAllocateContributionShares(t *testing.T) {
	p := project("a", 75, 25)
	contributions := map[string][]ledger.Contribution{
		"a": {
			{ID: "c1", ProjectID: "a", Amount: 75},
			{ID: "c2", ProjectID: "a", Amount: 25},
		},
	}
	alloc := funding.Allocate(1000, []ledger.FundingProject{p}, contributions)
	assert.Equal(t, uint64(1000), alloc.MatchMap()["a"])
	assert.Equal(
		t,
		[]ledger.ContributionMatch{
			{ContributionID: "c1", Amount: 750},
			{ContributionID: "c2", Amount: 250},
		},
		alloc.ContributionMatches,
	)
}

func TestSqrtFixed(t *testing.T) {
	assert.Equal(t, uint64(10*funding.SqrtScale), funding.SqrtFixed(100).Uint64())
	assert.Equal(t, uint64(1_414_213_562), funding.SqrtFixed(2).Uint64())
	assert.True(t, funding.SqrtFixed(0).IsZero())
}

type testEnv struct {
	clock  clockwork.FakeClock
	store  *ledger.Store
	engine *funding.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testTime)
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := ledger.NewStore(db, ledger.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	engine, err := funding.New(store, funding.Config{Clock: clock})
	require.NoError(t, err)
	env := &testEnv{clock: clock, store: store, engine: engine}
	env.register(t, admin)
	return env
}

func (e *testEnv) register(t *testing.T, addrs ...common.Address) {
	t.Helper()
	for _, addr := range addrs {
		_, err := e.store.Append(
			context.Background(),
			ledger.NewEvent(addr, ledger.PrincipalRegistered{Address: addr, JoinedAt: testTime}),
		)
		require.NoError(t, err)
	}
}

func (e *testEnv) round(t *testing.T, matchingPool uint64) string {
	t.Helper()
	id, err := e.engine.OpenRound(context.Background(), admin, funding.RoundInput{
		Title:        "Spring round",
		TotalPool:    matchingPool + 1000,
		MatchingPool: matchingPool,
		EndAt:        testTime.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) project(t *testing.T, roundID, title string) string {
	t.Helper()
	id, err := e.engine.AddProject(
		context.Background(),
		roundID,
		admin,
		funding.ProjectInput{Title: title},
	)
	require.NoError(t, err)
	return id
}

func TestOpenRoundValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	end := testTime.Add(time.Hour)
	testDefs := []struct {
		name  string
		input funding.RoundInput
		err   error
	}{
		{"no title", funding.RoundInput{TotalPool: 10, MatchingPool: 5, EndAt: end}, ledger.ErrInvalidArgument},
		{"zero pool", funding.RoundInput{Title: "r", EndAt: end}, ledger.ErrInvalidAmount},
		{"matching exceeds total", funding.RoundInput{Title: "r", TotalPool: 10, MatchingPool: 11, EndAt: end}, ledger.ErrInvalidAmount},
		{"ends in the past", funding.RoundInput{Title: "r", TotalPool: 10, MatchingPool: 5, EndAt: testTime}, ledger.ErrInvalidArgument},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := env.engine.OpenRound(ctx, admin, testDef.input)
			require.ErrorIs(t, err, testDef.err)
		})
	}
	assert.Empty(t, env.store.ListRounds(nil))
}

func TestContribute(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, donor(0), donor(1))
	ctx := context.Background()
	roundID := env.round(t, 1000)
	projectID := env.project(t, roundID, "Sequencer")

	_, err := env.engine.Contribute(ctx, projectID, donor(0), 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = env.engine.Contribute(ctx, "missing", donor(0), 10)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	for _, amount := range []uint64{10, 15} {
		_, err = env.engine.Contribute(ctx, projectID, donor(0), amount)
		require.NoError(t, err)
	}
	_, err = env.engine.Contribute(ctx, projectID, donor(1), 5)
	require.NoError(t, err)

	p, err := env.store.Project(projectID)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), p.Raised)
	assert.Equal(t, 2, p.Contributors())
	assert.Equal(t, uint64(25), p.ContributorSums[0].Amount)
	assert.Len(t, env.store.ListContributions(projectID), 3)

	env.clock.Advance(24 * time.Hour)
	_, err = env.engine.Contribute(ctx, projectID, donor(1), 5)
	require.ErrorIs(t, err, ledger.ErrRoundEnded)
	require.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = env.engine.AddProject(ctx, roundID, admin, funding.ProjectInput{Title: "late"})
	require.ErrorIs(t, err, ledger.ErrRoundEnded)
}

func TestSettleRound(t *testing.T) {
	env := newTestEnv(t)
	donors := make([]common.Address, 0, 5)
	for i := range 5 {
		donors = append(donors, donor(i))
	}
	env.register(t, donors...)
	ctx := context.Background()
	roundID := env.round(t, 1000)
	single := env.project(t, roundID, "single")
	broad := env.project(t, roundID, "broad")
	empty := env.project(t, roundID, "empty")

	_, err := env.engine.Contribute(ctx, single, donors[0], 100)
	require.NoError(t, err)
	for _, d := range donors[1:] {
		_, err = env.engine.Contribute(ctx, broad, d, 25)
		require.NoError(t, err)
	}

	_, err = env.engine.SettleRound(ctx, roundID)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	projected, err := env.engine.ProjectedMatching(roundID)
	require.NoError(t, err)

	env.clock.Advance(24 * time.Hour)
	settlement, err := env.engine.SettleRound(ctx, roundID)
	require.NoError(t, err)
	matches := settlement.MatchMap()
	assert.Equal(t, projected.MatchMap(), matches)
	assert.Equal(t, uint64(200), matches[single])
	assert.Equal(t, uint64(800), matches[broad])
	assert.Zero(t, matches[empty])
	assert.Zero(t, settlement.Residual)

	for _, c := range env.store.ListContributions(broad) {
		assert.Equal(t, uint64(200), c.QuadraticMatch)
	}
	p, err := env.store.Project(broad)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), p.MatchingAmount)

	lastSeq := env.store.LastSeq()
	again, err := env.engine.SettleRound(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, settlement, again)
	assert.Equal(t, lastSeq, env.store.LastSeq())

	count, err := env.engine.SettleDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = env.engine.Contribute(ctx, broad, donors[0], 5)
	require.ErrorIs(t, err, ledger.ErrRoundEnded)

	require.NoError(t, env.store.Rebuild(ctx))
}

func TestSettleDueWithoutContributions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roundID := env.round(t, 750)
	env.project(t, roundID, "quiet")
	other := env.round(t, 10)

	env.clock.Advance(24 * time.Hour)
	count, err := env.engine.SettleDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	settlement, err := env.store.Settlement(roundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), settlement.Residual)
	otherSettlement, err := env.store.Settlement(other)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), otherSettlement.Residual)
	assert.Empty(t, otherSettlement.Matches)
}

func TestRanking(t *testing.T) {
	env := newTestEnv(t)
	for i := range 6 {
		env.register(t, donor(i))
	}
	ctx := context.Background()
	roundID := env.round(t, 0)
	a := env.project(t, roundID, "a")
	b := env.project(t, roundID, "b")
	c := env.project(t, roundID, "c")

	// No matching pool, so ties fall through to contributors then raised
	contribute := func(projectID string, d int, amount uint64) {
		_, err := env.engine.Contribute(ctx, projectID, donor(d), amount)
		require.NoError(t, err)
	}
	contribute(a, 0, 50)
	contribute(b, 1, 10)
	contribute(b, 2, 10)
	contribute(c, 3, 70)

	ranking, err := env.engine.Ranking(roundID)
	require.NoError(t, err)
	require.Len(t, ranking, 3)
	assert.Equal(t, b, ranking[0].ProjectID)
	assert.Equal(t, c, ranking[1].ProjectID)
	assert.Equal(t, a, ranking[2].ProjectID)
	assert.Equal(t, 1, ranking[0].Rank)
	assert.True(t, ranking[0].Projected)

	funded := env.round(t, 900)
	x := env.project(t, funded, "x")
	y := env.project(t, funded, "y")
	_, err = env.engine.Contribute(ctx, x, donor(4), 400)
	require.NoError(t, err)
	_, err = env.engine.Contribute(ctx, y, donor(5), 100)
	require.NoError(t, err)
	env.clock.Advance(24 * time.Hour)
	_, err = env.engine.SettleRound(ctx, funded)
	require.NoError(t, err)
	ranking, err = env.engine.Ranking(funded)
	require.NoError(t, err)
	assert.Equal(t, x, ranking[0].ProjectID)
	assert.Equal(t, uint64(720), ranking[0].Matching)
	assert.Equal(t, uint64(180), ranking[1].Matching)
	assert.False(t, ranking[0].Projected)
}

func TestContributionOverflowRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, donor(0), donor(1))
	ctx := context.Background()
	roundID := env.round(t, 1000)
	whale := env.project(t, roundID, "whale")
	small := env.project(t, roundID, "small")

	_, err := env.engine.Contribute(ctx, whale, donor(0), math.MaxUint64)
	require.NoError(t, err)
	lastSeq := env.store.LastSeq()
	_, err = env.engine.Contribute(ctx, whale, donor(0), 1)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = env.engine.Contribute(ctx, whale, donor(1), 1)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	// The ledger refuses the overflow even when the engine is bypassed
	_, err = env.store.Append(ctx, ledger.NewEvent(donor(1), ledger.ContributionMade{
		ID:          "direct",
		ProjectID:   whale,
		Contributor: donor(1),
		Amount:      1,
		Timestamp:   testTime,
	}))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.Equal(t, lastSeq, env.store.LastSeq())

	p, err := env.store.Project(whale)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), p.Raised)
	assert.Equal(t, uint64(math.MaxUint64), p.ContributorSums[0].Amount)

	_, err = env.engine.Contribute(ctx, small, donor(1), 1)
	require.NoError(t, err)
	env.clock.Advance(24 * time.Hour)
	settlement, err := env.engine.SettleRound(ctx, roundID)
	require.NoError(t, err)
	matches := settlement.MatchMap()
	assert.Greater(t, matches[whale], matches[small])
	assert.Equal(t, uint64(1000), matches[whale]+matches[small]+settlement.Residual)
}

func TestAutoRegisterCommitsWithContribution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	roundID := env.round(t, 1000)
	projectID := env.project(t, roundID, "Sequencer")
	engine, err := funding.New(env.store, funding.Config{Clock: env.clock, AutoRegister: true})
	require.NoError(t, err)

	lastSeq := env.store.LastSeq()
	_, err = engine.Contribute(ctx, projectID, donor(7), 0)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = engine.AddProject(ctx, "missing", donor(7), funding.ProjectInput{Title: "lost"})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, lastSeq, env.store.LastSeq())
	_, err = env.store.Principal(donor(7))
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = engine.Contribute(ctx, projectID, donor(7), 40)
	require.NoError(t, err)
	assert.Equal(t, lastSeq+2, env.store.LastSeq())
	_, err = env.store.Principal(donor(7))
	require.NoError(t, err)

	// Without auto registration unknown contributors are refused
	_, err = env.engine.Contribute(ctx, projectID, donor(8), 40)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
