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

package event

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSubscriber struct {
	closed bool
}

func (f *failingSubscriber) Deliver(Event) error {
	return errors.New("deliver failed")
}

func (f *failingSubscriber) Close() {
	f.closed = true
}

func TestDeliverFailureUnregisters(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	sub := &failingSubscriber{}
	subId := eb.RegisterSubscriber("test.fail", sub)
	require.NotZero(t, subId)
	eb.Publish("test.fail", NewEvent("test.fail", "x"))
	eb.mu.RLock()
	_, exists := eb.subscribers["test.fail"][subId]
	eb.mu.RUnlock()
	assert.False(t, exists)
	assert.True(t, sub.closed)
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	const bufferSize = 5
	var metrics eventMetrics
	reg := prometheus.NewRegistry()
	metrics.init(reg)
	sub := newChannelSubscriber(bufferSize, "test", &metrics)
	for i := range bufferSize {
		require.NoError(t, sub.Deliver(NewEvent("test", i)))
	}
	done := make(chan error, 1)
	go func() {
		done <- sub.Deliver(NewEvent("test", "overflow"))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
	assert.Len(t, sub.ch, bufferSize)
	assert.Equal(
		t,
		float64(1),
		testutil.ToFloat64(metrics.dropped.WithLabelValues("test")),
	)
}

func TestChannelSubscriberDeliverAfterClose(t *testing.T) {
	sub := newChannelSubscriber(5, "test", nil)
	sub.Close()
	sub.Close()
	require.NoError(t, sub.Deliver(NewEvent("test", "after-close")))
}
