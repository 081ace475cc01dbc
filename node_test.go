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

package geneledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/facade"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/internal/test/testutil"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := geneledger.New(geneledger.NewConfig())
	require.Error(t, err)
	_, err = geneledger.New(geneledger.NewConfig(
		geneledger.WithAdmins(common.Address{}),
	))
	require.Error(t, err)
	_, err = geneledger.New(geneledger.NewConfig(
		geneledger.WithAdmins(admin),
		geneledger.WithVoteWeighting("cubic"),
	))
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = geneledger.New(geneledger.NewConfig(
		geneledger.WithAdmins(admin),
		geneledger.WithSweepInterval(-time.Second),
	))
	require.Error(t, err)
}

func TestNodeRestartReplaysLedger(t *testing.T) {
	dataDir := t.TempDir()
	clock := clockwork.NewFakeClockAt(testTime)
	issued := make(chan string, 1)
	newNode := func() *geneledger.Node {
		n, err := geneledger.New(geneledger.NewConfig(
			geneledger.WithDatabasePath(dataDir),
			geneledger.WithClock(clock),
			geneledger.WithAdmins(admin),
			geneledger.WithAutoActivate(true),
			geneledger.WithVerificationThreshold(1),
			geneledger.WithPrometheusRegistry(prometheus.NewRegistry()),
			geneledger.WithIssuer(badge.IssuerFunc(
				func(_ context.Context, req badge.CredentialRequest) error {
					select {
					case issued <- req.TokenID:
					default:
					}
					return nil
				},
			)),
		))
		require.NoError(t, err)
		require.NoError(t, n.Start(context.Background()))
		return n
	}

	ctx := context.Background()
	n := newNode()
	f := n.Facade()
	require.NoError(t, f.Bootstrap(ctx, admin, facadeBootstrap(bob)))
	proposalID, err := f.CreateProposal(ctx, alice, governance.GovernanceProposal(
		"Adopt protocol standard",
		"",
		"standard",
		"v2",
		testTime.Add(time.Hour),
		1,
	))
	require.NoError(t, err)
	_, err = f.CastVote(ctx, bob, proposalID, ledger.VoteFor)
	require.NoError(t, err)
	protocolID, err := f.SubmitProtocol(ctx, alice, badge.ProtocolInput{Title: "ChIP-seq"})
	require.NoError(t, err)
	res, err := f.RecordVerification(ctx, bob, protocolID)
	require.NoError(t, err)
	require.NotNil(t, res.Credential)
	tokenID := testutil.RequireReceive(t, issued, "credential dispatch")
	assert.Equal(t, res.Credential.TokenID, tokenID)
	testutil.WaitForCondition(t, func() bool {
		c, err := f.Credential(res.Credential.TokenID)
		return err == nil && c.Issued
	}, "credential was not confirmed")
	before := n.Store().Summary()
	stats := f.Stats()
	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())

	n = newNode()
	defer n.Stop() //nolint:errcheck
	assert.Equal(t, before, n.Store().Summary())
	assert.Equal(t, stats, n.Facade().Stats())
	require.NoError(t, n.Store().Rebuild(ctx))
	proposal, err := n.Facade().Proposal(proposalID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), proposal.VotesFor)
}

func facadeBootstrap(addr common.Address) facade.BootstrapInput {
	return facade.BootstrapInput{
		Principal:   addr,
		VotingPower: 1,
		Reputation:  1,
		Verifier:    true,
	}
}
