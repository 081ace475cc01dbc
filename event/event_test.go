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

package event_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/internal/test/testutil"
	"github.com/geneledger/geneledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	return testutil.RequireReceive(t, ch, "event delivery")
}

func TestEventBusSingleSubscriber(t *testing.T) {
	testEvtType := event.EventType("test.event")
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, 999))
	evt := receive(t, subCh)
	assert.Equal(t, 999, evt.Data)
	assert.Equal(t, testEvtType, evt.Type)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	testEvtType := event.EventType("test.event")
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1Ch := eb.Subscribe(testEvtType)
	_, sub2Ch := eb.Subscribe(testEvtType)
	_, otherCh := eb.Subscribe("test.other")
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "x"))
	assert.Equal(t, "x", receive(t, sub1Ch).Data)
	assert.Equal(t, "x", receive(t, sub2Ch).Data)
	testutil.RequireNoReceive(t, otherCh, 50*time.Millisecond, "event on other type")
}

func TestEventBusUnsubscribe(t *testing.T) {
	testEvtType := event.EventType("test.event")
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	subId, subCh := eb.Subscribe(testEvtType)
	eb.Unsubscribe(testEvtType, subId)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, 1))
	select {
	case _, ok := <-subCh:
		assert.False(t, ok, "received event after Unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed after Unsubscribe")
	}
}

func TestEventBusStop(t *testing.T) {
	testEvtType := event.EventType("test.event")
	eb := event.NewEventBus(nil, nil)
	_, subCh := eb.Subscribe(testEvtType)
	doneCh := make(chan struct{}, 1)
	eb.SubscribeFunc(testEvtType, func(event.Event) {
		doneCh <- struct{}{}
	})
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "before"))
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("SubscribeFunc did not receive event before Stop")
	}

	eb.Stop()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-subCh:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.False(t, eb.PublishAsync(testEvtType, event.NewEvent(testEvtType, "after")))

	// Synchronous delivery still works for new subscribers
	_, newCh := eb.Subscribe(testEvtType)
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "new"))
	assert.Equal(t, "new", receive(t, newCh).Data)
	eb.Stop()
}

func TestSubscribeFuncPanicRecovery(t *testing.T) {
	testEvtType := event.EventType("test.panic")
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var received atomic.Int32
	eb.SubscribeFunc(testEvtType, func(event.Event) {
		if received.Add(1) == 1 {
			panic("handler failure")
		}
	})
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "panic"))
	eb.Publish(testEvtType, event.NewEvent(testEvtType, "after-panic"))
	require.Eventually(t, func() bool {
		return received.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAsync(t *testing.T) {
	testEvtType := event.EventType("test.async")
	reg := prometheus.NewRegistry()
	eb := event.NewEventBus(reg, nil)
	defer eb.Stop()
	var received atomic.Int32
	eb.SubscribeFunc(testEvtType, func(event.Event) {
		received.Add(1)
	})
	for i := range 10 {
		require.True(t, eb.PublishAsync(testEvtType, event.NewEvent(testEvtType, i)))
	}
	require.Eventually(t, func() bool {
		return received.Load() == 10
	}, 2*time.Second, 10*time.Millisecond)
	count, err := promtestutil.GatherAndCount(reg, "geneledger_event_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	testEvtType := event.EventType("test.race")
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id, ch := eb.Subscribe(testEvtType)
			eb.Publish(testEvtType, event.NewEvent(testEvtType, i))
			<-ch
			eb.Unsubscribe(testEvtType, id)
		}()
		go func() {
			defer wg.Done()
			eb.PublishAsync(testEvtType, event.NewEvent(testEvtType, i))
		}()
	}
	wg.Wait()
}

func TestLedgerCommitHook(t *testing.T) {
	eb := event.NewEventBus(nil, nil)
	defer eb.Stop()
	evtType := event.LedgerEventType(ledger.KindVoteCast)
	assert.Equal(t, event.EventType("ledger.proposal.voted"), evtType)
	_, ch := eb.Subscribe(evtType)

	hook := event.LedgerCommitHook(eb)
	voter := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vote := ledger.NewEvent(voter, ledger.VoteCast{ProposalID: "p1", Voter: voter, Weight: 3})
	vote.Seq = 7
	hook([]ledger.Event{
		ledger.NewEvent(voter, ledger.PrincipalRegistered{Address: voter}),
		vote,
	})
	evt := receive(t, ch)
	got, ok := evt.Data.(ledger.Event)
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, voter, got.Actor)
}
