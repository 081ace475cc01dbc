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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	eventsAppended *prometheus.CounterVec
	commitsTotal   prometheus.Counter
	commitFailures prometheus.Counter
	commitLatency  prometheus.Histogram
	lockConflicts  prometheus.Counter
	lastSeq        prometheus.Gauge
	replayDuration prometheus.Gauge
}

func (m *storeMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.eventsAppended = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_ledger_events_appended_total",
			Help: "total number of ledger events appended, by kind",
		},
		[]string{"kind"},
	)
	m.commitsTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_ledger_commits_total",
		Help: "total number of successful ledger commits",
	})
	m.commitFailures = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_ledger_commit_failures_total",
		Help: "total number of ledger commits that failed to persist",
	})
	m.commitLatency = promautoFactory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "geneledger_ledger_commit_latency_seconds",
			Help:    "latency of persisting and applying a ledger commit",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)
	m.lockConflicts = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_ledger_lock_conflicts_total",
		Help: "total number of entity lock acquisitions that timed out",
	})
	m.lastSeq = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "geneledger_ledger_last_seq_int",
		Help: "sequence number of the last applied ledger event",
	})
	m.replayDuration = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "geneledger_ledger_replay_duration_seconds",
		Help: "duration of the most recent event log replay",
	})
}
