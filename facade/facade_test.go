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

package facade_test

import (
	"context"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/facade"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/internal/test/testutil"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c4")
)

func member(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x300 + n)))
}

type testEnv struct {
	clock  clockwork.FakeClock
	store  *ledger.Store
	bus    *event.EventBus
	facade *facade.Facade
	badges *badge.Engine
}

func newTestEnv(t *testing.T, govCfg governance.Config) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testTime)
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bus := event.NewEventBus(nil, nil)
	t.Cleanup(bus.Stop)
	store, err := ledger.NewStore(
		db,
		ledger.WithClock(clock),
		ledger.WithCommitHook(event.LedgerCommitHook(bus)),
	)
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	govCfg.Clock = clock
	govCfg.AutoRegister = true
	gov, err := governance.New(store, govCfg)
	require.NoError(t, err)
	fund, err := funding.New(store, funding.Config{Clock: clock, AutoRegister: true})
	require.NoError(t, err)
	badges, err := badge.New(store, badge.Config{Clock: clock, AutoRegister: true})
	require.NoError(t, err)
	f, err := facade.New(store, gov, fund, badges, facade.Config{
		EventBus: bus,
		Admins:   []common.Address{admin},
	})
	require.NoError(t, err)
	return &testEnv{clock: clock, store: store, bus: bus, facade: f, badges: badges}
}

func (e *testEnv) bootstrap(t *testing.T, addr common.Address, power uint64, verifier bool) {
	t.Helper()
	require.NoError(t, e.facade.Bootstrap(context.Background(), admin, facade.BootstrapInput{
		Principal:   addr,
		VotingPower: power,
		Reputation:  50,
		Verifier:    verifier,
	}))
}

func TestNewRequiresEngines(t *testing.T) {
	_, err := facade.New(nil, nil, nil, nil, facade.Config{})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestRegisterPrincipal(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	require.NoError(t, env.facade.RegisterPrincipal(context.Background(), alice))
	seq := env.store.LastSeq()
	require.NoError(t, env.facade.RegisterPrincipal(context.Background(), alice))
	assert.Equal(t, seq, env.store.LastSeq())
	principal, err := env.facade.Principal(alice)
	require.NoError(t, err)
	assert.True(t, testTime.Equal(principal.JoinedAt))

	err = env.facade.RegisterPrincipal(context.Background(), common.Address{})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestConcurrentRegistration(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.facade.RegisterPrincipal(context.Background(), bob))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, env.facade.Stats().Members)
}

func TestAdministration(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	ctx := context.Background()

	err := env.facade.GrantVotingPower(ctx, alice, bob, 10)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	err = env.facade.SetVerifierAuthorization(ctx, alice, bob, true)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	err = env.facade.Bootstrap(ctx, alice, facade.BootstrapInput{Principal: bob, VotingPower: 1})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	err = env.facade.GrantReputation(ctx, admin, bob, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	err = env.facade.Bootstrap(ctx, admin, facade.BootstrapInput{Principal: bob})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	require.NoError(t, env.facade.GrantVotingPower(ctx, admin, bob, 10))
	require.NoError(t, env.facade.GrantReputation(ctx, admin, bob, 7))
	require.NoError(t, env.facade.SetVerifierAuthorization(ctx, admin, bob, true))
	env.bootstrap(t, carol, 100, true)

	principal, err := env.facade.Principal(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), principal.VotingPower)
	assert.Equal(t, uint64(7), principal.Reputation)
	assert.True(t, principal.IsVerifier)

	history, err := env.store.History(ledger.PrincipalRef(carol))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ledger.KindPrincipalBootstrapped, history[1].Kind)
	assert.Equal(t, admin, history[1].Actor)
	boot, ok := history[1].Payload.(ledger.PrincipalBootstrapped)
	require.True(t, ok)
	assert.Equal(t, admin, boot.Admin)
	assert.Equal(t, uint64(100), boot.VotingPower)
}

func TestGovernanceFlow(t *testing.T) {
	env := newTestEnv(t, governance.Config{AutoActivate: true})
	ctx := context.Background()
	env.bootstrap(t, bob, 600, false)
	env.bootstrap(t, carol, 500, false)

	id, err := env.facade.CreateProposal(ctx, alice, governance.GovernanceProposal(
		"Lower quorum",
		"",
		"quorum",
		"1000",
		testTime.Add(time.Hour),
		1000,
	))
	require.NoError(t, err)
	assert.Len(t, env.facade.Proposals(facade.ProposalFilter{Status: ledger.ProposalStatusActive}), 1)
	assert.Len(t, env.facade.Proposals(facade.ProposalFilter{Author: bob}), 0)

	_, err = env.facade.CastVote(ctx, bob, id, ledger.VoteFor)
	require.NoError(t, err)
	_, err = env.facade.CastVote(ctx, carol, id, ledger.VoteAgainst)
	require.NoError(t, err)
	_, err = env.facade.CastVote(ctx, bob, id, ledger.VoteAgainst)
	assert.ErrorIs(t, err, ledger.ErrDuplicateVote)
	// alice registered when creating the proposal but holds no voting power
	_, err = env.facade.CastVote(ctx, alice, id, ledger.VoteFor)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	tally, err := env.facade.Tally(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), tally.TotalVotes)
	assert.Len(t, env.facade.Votes(id), 2)
	assert.Equal(t, 1, env.facade.Stats().ActiveProposals)

	env.clock.Advance(2 * time.Hour)
	status, err := env.facade.FinalizeProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProposalStatusPassed, status)
	eval, err := env.facade.EvaluateProposal(id)
	require.NoError(t, err)
	assert.True(t, eval.Final)

	err = env.facade.ExecuteProposal(ctx, carol, id)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	require.NoError(t, env.facade.ExecuteProposal(ctx, admin, id))
	err = env.facade.ExecuteProposal(ctx, alice, id)
	assert.ErrorIs(t, err, ledger.ErrAlreadyExecuted)
	assert.Equal(t, "1000", env.facade.Parameters()["quorum"])
	assert.Equal(t, 0, env.facade.Stats().ActiveProposals)
}

func TestFundingFlow(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	ctx := context.Background()
	in := funding.RoundInput{
		Title:        "Sequencing tools",
		TotalPool:    2000,
		MatchingPool: 1000,
		EndAt:        testTime.Add(24 * time.Hour),
	}
	_, err := env.facade.OpenFundingRound(ctx, alice, in)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	roundID, err := env.facade.OpenFundingRound(ctx, admin, in)
	require.NoError(t, err)

	single, err := env.facade.AddProject(ctx, alice, roundID, funding.ProjectInput{Title: "single"})
	require.NoError(t, err)
	broad, err := env.facade.AddProject(ctx, bob, roundID, funding.ProjectInput{Title: "broad"})
	require.NoError(t, err)
	_, err = env.facade.Contribute(ctx, member(0), single, 100)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err = env.facade.Contribute(ctx, member(i), broad, 25)
		require.NoError(t, err)
	}
	_, err = env.facade.Contribute(ctx, member(5), broad, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	ranking, err := env.facade.Ranking(roundID)
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, broad, ranking[0].ProjectID)
	projected, err := env.facade.ProjectedMatching(roundID)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), projected.MatchMap()[broad])

	stats := env.facade.Stats()
	assert.Equal(t, uint64(1000), stats.TotalMatchingPool)
	assert.Equal(t, 1, stats.OpenRounds)

	env.clock.Advance(25 * time.Hour)
	_, err = env.facade.Contribute(ctx, member(0), single, 10)
	assert.ErrorIs(t, err, ledger.ErrRoundEnded)
	first, err := env.facade.SettleRound(ctx, roundID)
	require.NoError(t, err)
	second, err := env.facade.SettleRound(ctx, roundID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(200), first[single])
	assert.Equal(t, uint64(800), first[broad])
	assert.Zero(t, env.facade.Stats().OpenRounds)
}

func TestVerificationRequestsIssuance(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	ctx := context.Background()
	for i := range 3 {
		env.bootstrap(t, member(i), 1, true)
	}
	var mu sync.Mutex
	issued := make(map[string]int)
	dispatcher, err := badge.NewDispatcher(
		env.bus,
		badge.IssuerFunc(func(_ context.Context, req badge.CredentialRequest) error {
			mu.Lock()
			defer mu.Unlock()
			issued[req.TokenID]++
			return nil
		}),
		env.facade,
		badge.DispatcherConfig{},
	)
	require.NoError(t, err)
	dispatcher.Start()
	defer dispatcher.Stop()

	id, err := env.facade.SubmitProtocol(ctx, alice, badge.ProtocolInput{Title: "scRNA-seq prep"})
	require.NoError(t, err)
	var credential *ledger.Credential
	for i := range 3 {
		res, err := env.facade.RecordVerification(ctx, member(i), id)
		require.NoError(t, err)
		credential = res.Credential
	}
	require.NotNil(t, credential)
	_, err = env.facade.RecordVerification(ctx, bob, id)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	testutil.WaitForCondition(t, func() bool {
		c, err := env.facade.Credential(credential.TokenID)
		return err == nil && c.Issued
	}, "credential was not issued")
	mu.Lock()
	assert.Equal(t, 1, issued[credential.TokenID])
	mu.Unlock()
	assert.Len(t, env.facade.Credentials(alice), 1)
	assert.Len(t, env.facade.Protocols(ledger.ProtocolStatusVerified), 1)
	stats := env.facade.Stats()
	assert.Equal(t, 1, stats.VerifiedProtocols)
	assert.Equal(t, 1, stats.CredentialsIssued)
}

func TestRejectProtocolAuthorization(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	ctx := context.Background()
	env.bootstrap(t, carol, 1, true)
	id, err := env.facade.SubmitProtocol(ctx, alice, badge.ProtocolInput{Title: "Western blot"})
	require.NoError(t, err)
	err = env.facade.RejectProtocol(ctx, bob, id)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	require.NoError(t, env.facade.RejectProtocol(ctx, carol, id))
	protocol, err := env.facade.Protocol(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProtocolStatusRejected, protocol.Status)
}

func TestLedgerEventsPublished(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	_, ch := env.bus.Subscribe(event.LedgerEventType(ledger.KindPrincipalRegistered))
	require.NoError(t, env.facade.RegisterPrincipal(context.Background(), alice))
	evt := testutil.RequireReceive(t, ch, "ledger event")
	ev, ok := evt.Data.(ledger.Event)
	require.True(t, ok)
	assert.Equal(t, ledger.KindPrincipalRegistered, ev.Kind)
	assert.Equal(t, env.store.LastSeq(), ev.Seq)
}

func TestFailedCallsLeaveNoTrace(t *testing.T) {
	env := newTestEnv(t, governance.Config{AutoActivate: true, MinProposalReputation: 5})
	ctx := context.Background()
	roundID, err := env.facade.OpenFundingRound(ctx, admin, funding.RoundInput{
		Title:        "Imaging",
		TotalPool:    100,
		MatchingPool: 50,
		EndAt:        testTime.Add(time.Hour),
	})
	require.NoError(t, err)
	projectID, err := env.facade.AddProject(ctx, alice, roundID, funding.ProjectInput{Title: "scope"})
	require.NoError(t, err)
	dave := common.HexToAddress("0x00000000000000000000000000000000000000d7")
	lastSeq := env.store.LastSeq()

	testDefs := []struct {
		name string
		call func() error
		err  error
	}{
		{
			name: "zero contribution",
			call: func() error {
				_, err := env.facade.Contribute(ctx, dave, projectID, 0)
				return err
			},
			err: ledger.ErrInvalidAmount,
		},
		{
			name: "contribution to missing project",
			call: func() error {
				_, err := env.facade.Contribute(ctx, dave, "missing", 5)
				return err
			},
			err: ledger.ErrNotFound,
		},
		{
			name: "proposal below reputation",
			call: func() error {
				_, err := env.facade.CreateProposal(ctx, dave, governance.GovernanceProposal(
					"t", "", "p", "v", testTime.Add(time.Hour), 10,
				))
				return err
			},
			err: ledger.ErrUnauthorized,
		},
		{
			name: "round by non-admin",
			call: func() error {
				_, err := env.facade.OpenFundingRound(ctx, dave, funding.RoundInput{
					Title:        "r",
					TotalPool:    10,
					MatchingPool: 5,
					EndAt:        testTime.Add(time.Hour),
				})
				return err
			},
			err: ledger.ErrUnauthorized,
		},
		{
			name: "project in missing round",
			call: func() error {
				_, err := env.facade.AddProject(ctx, dave, "missing", funding.ProjectInput{Title: "p"})
				return err
			},
			err: ledger.ErrNotFound,
		},
		{
			name: "protocol without title",
			call: func() error {
				_, err := env.facade.SubmitProtocol(ctx, dave, badge.ProtocolInput{})
				return err
			},
			err: ledger.ErrInvalidArgument,
		},
		{
			name: "grant by non-admin",
			call: func() error {
				return env.facade.GrantVotingPower(ctx, alice, dave, 5)
			},
			err: ledger.ErrUnauthorized,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			require.ErrorIs(t, testDef.call(), testDef.err)
			assert.Equal(t, lastSeq, env.store.LastSeq())
			_, err := env.facade.Principal(dave)
			assert.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}

	env.clock.Advance(2 * time.Hour)
	_, err = env.facade.Contribute(ctx, dave, projectID, 5)
	require.ErrorIs(t, err, ledger.ErrRoundEnded)
	assert.Equal(t, lastSeq, env.store.LastSeq())
	assert.Equal(t, 2, env.facade.Stats().Members)
}

func TestGrantOverflowRejected(t *testing.T) {
	env := newTestEnv(t, governance.Config{})
	ctx := context.Background()
	require.NoError(t, env.facade.GrantVotingPower(ctx, admin, bob, math.MaxUint64))
	lastSeq := env.store.LastSeq()

	err := env.facade.GrantVotingPower(ctx, admin, bob, 2)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	err = env.facade.Bootstrap(ctx, admin, facade.BootstrapInput{Principal: bob, VotingPower: 1})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.Equal(t, lastSeq, env.store.LastSeq())
	principal, err := env.facade.Principal(bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), principal.VotingPower)

	require.NoError(t, env.facade.GrantReputation(ctx, admin, bob, math.MaxUint64))
	err = env.facade.GrantReputation(ctx, admin, bob, 1)
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
