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

package badge_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/database"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/internal/test/testutil"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
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
	author   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func verifier(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x200 + n)))
}

type testEnv struct {
	store  *ledger.Store
	engine *badge.Engine
}

func newTestEnv(t *testing.T, cfg badge.Config) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testTime)
	db, err := database.New(&database.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := ledger.NewStore(db, ledger.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))
	engine, err := badge.New(store, cfg)
	require.NoError(t, err)
	env := &testEnv{store: store, engine: engine}
	env.register(t, author, false)
	for i := range 5 {
		env.register(t, verifier(i), true)
	}
	return env
}

func (e *testEnv) register(t *testing.T, addr common.Address, isVerifier bool) {
	t.Helper()
	events := []ledger.Event{
		ledger.NewEvent(addr, ledger.PrincipalRegistered{Address: addr, JoinedAt: testTime}),
	}
	if isVerifier {
		events = append(events, ledger.NewEvent(admin, ledger.VerifierAuthorizationSet{
			Address:    addr,
			Authorized: true,
		}))
	}
	_, err := e.store.Commit(context.Background(), events...)
	require.NoError(t, err)
}

func (e *testEnv) submit(t *testing.T, draft bool) string {
	t.Helper()
	id, err := e.engine.SubmitProtocol(context.Background(), author, badge.ProtocolInput{
		Title:       "CRISPR knockout in HEK293",
		Category:    "gene-editing",
		Tags:        []string{"crispr", "cas9"},
		FileName:    "protocol.pdf",
		FileSize:    2048,
		ZKProofHash: "0xabc",
		Draft:       draft,
	})
	require.NoError(t, err)
	return id
}

// verify attests the protocol until it is verified and returns the bound credential
func (e *testEnv) verify(t *testing.T, protocolID string) ledger.Credential {
	t.Helper()
	var ret *ledger.Credential
	for i := range int(e.engine.Threshold()) {
		res, err := e.engine.RecordVerification(context.Background(), protocolID, verifier(i))
		require.NoError(t, err)
		ret = res.Credential
	}
	require.NotNil(t, ret)
	return *ret
}

func TestSubmitProtocol(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	_, err := env.engine.SubmitProtocol(context.Background(), author, badge.ProtocolInput{})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	_, err = env.engine.SubmitProtocol(
		context.Background(),
		stranger,
		badge.ProtocolInput{Title: "x"},
	)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	id := env.submit(t, false)
	protocol, err := env.store.Protocol(id)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProtocolStatusPending, protocol.Status)
	assert.Equal(t, []string{"crispr", "cas9"}, protocol.Tags)
	principal, err := env.store.Principal(author)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), principal.ProtocolsSubmitted)
}

func TestDraftProtocol(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	id := env.submit(t, true)
	_, err := env.engine.RecordVerification(context.Background(), id, verifier(0))
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	err = env.engine.PublishProtocol(context.Background(), verifier(0), id)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	require.NoError(t, env.engine.PublishProtocol(context.Background(), author, id))
	err = env.engine.PublishProtocol(context.Background(), author, id)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	res, err := env.engine.RecordVerification(context.Background(), id, verifier(0))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.VerificationCount)
	assert.Nil(t, res.Credential)
}

func TestRecordVerification(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	id := env.submit(t, false)

	res, err := env.engine.RecordVerification(context.Background(), id, verifier(0))
	require.NoError(t, err)
	assert.Equal(t, ledger.ProtocolStatusPending, res.Status)

	_, err = env.engine.RecordVerification(context.Background(), id, verifier(0))
	assert.ErrorIs(t, err, ledger.ErrDuplicateAttestation)
	_, err = env.engine.RecordVerification(context.Background(), id, author)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, err = env.engine.RecordVerification(context.Background(), "missing", verifier(1))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = env.engine.RecordVerification(context.Background(), id, verifier(1))
	require.NoError(t, err)
	res, err = env.engine.RecordVerification(context.Background(), id, verifier(2))
	require.NoError(t, err)
	assert.Equal(t, ledger.ProtocolStatusVerified, res.Status)
	require.NotNil(t, res.Credential)
	assert.Equal(t, author, res.Credential.Owner)
	assert.Equal(t, id, res.Credential.ProtocolID)
	assert.Equal(t, ledger.RarityCommon, res.Credential.Rarity)
	assert.False(t, res.Credential.Issued)

	// attestations past the threshold never bind a second credential
	res, err = env.engine.RecordVerification(context.Background(), id, verifier(3))
	require.NoError(t, err)
	assert.Nil(t, res.Credential)
	assert.Equal(t, uint32(4), res.VerificationCount)
	assert.Len(t, env.store.ListCredentials(nil), 1)
}

func TestUnauthorizedVerifier(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	id := env.submit(t, false)
	outsider := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	env.register(t, outsider, false)
	_, err := env.engine.RecordVerification(context.Background(), id, outsider)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ef")
	_, err = env.engine.RecordVerification(context.Background(), id, unknown)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestConcurrentVerificationBindsOnce(t *testing.T) {
	env := newTestEnv(t, badge.Config{VerificationThreshold: 2})
	id := env.submit(t, false)
	var wg sync.WaitGroup
	var mu sync.Mutex
	bound := 0
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.engine.RecordVerification(context.Background(), id, verifier(i))
			if err != nil {
				return
			}
			if res.Credential != nil {
				mu.Lock()
				bound++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, bound)
	protocol, err := env.store.Protocol(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), protocol.VerificationCount)
	assert.Len(t, env.store.ListCredentials(nil), 1)
}

func TestRejectProtocol(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	id := env.submit(t, false)
	require.NoError(t, env.engine.RejectProtocol(context.Background(), admin, id))
	err := env.engine.RejectProtocol(context.Background(), admin, id)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = env.engine.RecordVerification(context.Background(), id, verifier(0))
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestRarityProgression(t *testing.T) {
	env := newTestEnv(t, badge.Config{VerificationThreshold: 1})
	expected := []ledger.Rarity{
		ledger.RarityCommon,
		ledger.RarityRare,
		ledger.RarityRare,
		ledger.RarityRare,
		ledger.RarityEpic,
	}
	for i, rarity := range expected {
		credential := env.verify(t, env.submit(t, false))
		assert.Equal(t, rarity, credential.Rarity, "protocol %d", i+1)
	}
}

func TestConfirmIssuance(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	credential := env.verify(t, env.submit(t, false))
	assert.Len(t, env.engine.PendingCredentials(), 1)

	require.NoError(t, env.engine.ConfirmIssuance(context.Background(), credential.TokenID))
	seq := env.store.LastSeq()
	require.NoError(t, env.engine.ConfirmIssuance(context.Background(), credential.TokenID))
	assert.Equal(t, seq, env.store.LastSeq())
	assert.Empty(t, env.engine.PendingCredentials())

	principal, err := env.store.Principal(author)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), principal.NftsHeld)
	err = env.engine.ConfirmIssuance(context.Background(), "999")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

type countingIssuer struct {
	mu    sync.Mutex
	calls map[string]int
	last  badge.CredentialRequest
	fail  bool
}

func (c *countingIssuer) Issue(_ context.Context, req badge.CredentialRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("minter unavailable")
	}
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[req.TokenID]++
	c.last = req
	return nil
}

func (c *countingIssuer) count(tokenID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tokenID]
}

func (c *countingIssuer) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func TestDispatcherIssuesExactlyOnce(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	issuer := &countingIssuer{}
	reg := prometheus.NewRegistry()
	dispatcher, err := badge.NewDispatcher(
		bus,
		issuer,
		env.engine,
		badge.DispatcherConfig{PromRegistry: reg},
	)
	require.NoError(t, err)
	dispatcher.Start()
	defer dispatcher.Stop()

	credential := env.verify(t, env.submit(t, false))
	badge.RequestIssuance(bus, credential, false)
	badge.RequestIssuance(bus, credential, true)
	testutil.WaitForCondition(t, func() bool {
		c, err := env.store.Credential(credential.TokenID)
		return err == nil && c.Issued
	}, "condition not met")

	assert.Zero(t, env.engine.Redeliver(bus))
	require.NoError(t, dispatcher.Dispatch(context.Background(), credential.TokenID))
	assert.Equal(t, 1, issuer.count(credential.TokenID))
	issuer.mu.Lock()
	assert.Equal(t, credential.Attributes, issuer.last.Attributes)
	issuer.mu.Unlock()
	count, err := promtestutil.GatherAndCount(reg, "geneledger_badge_issuance_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 1)
}

func TestRedeliverAfterFailure(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	issuer := &countingIssuer{fail: true}
	dispatcher, err := badge.NewDispatcher(bus, issuer, env.engine, badge.DispatcherConfig{})
	require.NoError(t, err)

	credential := env.verify(t, env.submit(t, false))
	err = dispatcher.Dispatch(context.Background(), credential.TokenID)
	require.Error(t, err)
	assert.Len(t, env.engine.PendingCredentials(), 1)

	issuer.setFail(false)
	dispatcher.Start()
	defer dispatcher.Stop()
	assert.Equal(t, 1, env.engine.Redeliver(bus))
	testutil.WaitForCondition(t, func() bool {
		return len(env.engine.PendingCredentials()) == 0
	}, "condition not met")
	assert.Equal(t, 1, issuer.count(credential.TokenID))
}

func TestDispatcherIssuanceTimeout(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	slow := badge.IssuerFunc(func(ctx context.Context, _ badge.CredentialRequest) error {
		<-ctx.Done()
		return ctx.Err()
	})
	dispatcher, err := badge.NewDispatcher(
		bus,
		slow,
		env.engine,
		badge.DispatcherConfig{IssuanceTimeout: 20 * time.Millisecond},
	)
	require.NoError(t, err)
	credential := env.verify(t, env.submit(t, false))
	err = dispatcher.Dispatch(context.Background(), credential.TokenID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, env.engine.PendingCredentials(), 1)
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	_, err := badge.NewDispatcher(nil, nil, nil, badge.DispatcherConfig{})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestAutoRegisterAuthor(t *testing.T) {
	env := newTestEnv(t, badge.Config{AutoRegister: true})
	ctx := context.Background()
	newcomer := common.HexToAddress("0x00000000000000000000000000000000000000e5")
	lastSeq := env.store.LastSeq()

	_, err := env.engine.SubmitProtocol(ctx, newcomer, badge.ProtocolInput{Title: " "})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.Equal(t, lastSeq, env.store.LastSeq())

	id, err := env.engine.SubmitProtocol(ctx, newcomer, badge.ProtocolInput{Title: "ChIP-seq"})
	require.NoError(t, err)
	assert.Equal(t, lastSeq+2, env.store.LastSeq())
	principal, err := env.store.Principal(newcomer)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), principal.ProtocolsSubmitted)
	protocol, err := env.store.Protocol(id)
	require.NoError(t, err)
	assert.Equal(t, newcomer, protocol.Author)
}

func TestCredentialAttributes(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	credential := env.verify(t, env.submit(t, false))
	assert.Equal(
		t,
		[]ledger.CredentialAttribute{
			{TraitType: "Research Field", Value: "gene-editing"},
			{TraitType: "Verifications", Value: "3"},
			{TraitType: "Rarity", Value: "common"},
			{TraitType: "Tag", Value: "crispr"},
			{TraitType: "Tag", Value: "cas9"},
		},
		credential.Attributes,
	)

	stored, err := env.store.Credential(credential.TokenID)
	require.NoError(t, err)
	stored.Attributes[0].Value = "changed"
	again, err := env.store.Credential(credential.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "gene-editing", again.Attributes[0].Value)
}

func TestRecordDownload(t *testing.T) {
	env := newTestEnv(t, badge.Config{})
	ctx := context.Background()
	reader := verifier(4)

	draft := env.submit(t, true)
	_, err := env.engine.RecordDownload(ctx, reader, draft)
	require.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = env.engine.RecordDownload(ctx, reader, "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	id := env.submit(t, false)
	for i := range 3 {
		downloads, err := env.engine.RecordDownload(ctx, reader, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), downloads)
	}
	env.verify(t, id)
	downloads, err := env.engine.RecordDownload(ctx, author, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), downloads)

	rejected := env.submit(t, false)
	require.NoError(t, env.engine.RejectProtocol(ctx, admin, rejected))
	_, err = env.engine.RecordDownload(ctx, reader, rejected)
	require.ErrorIs(t, err, ledger.ErrInvalidState)

	// The count is rebuilt from the event log
	require.NoError(t, env.store.Rebuild(ctx))
	protocol, err := env.store.Protocol(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), protocol.Downloads)
}
