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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type facadeMetrics struct {
	calls *prometheus.CounterVec
}

func (m *facadeMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.calls = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_facade_calls_total",
			Help: "total number of facade operations, by operation and result",
		},
		[]string{"operation", "result"},
	)
}

type sweeperMetrics struct {
	sweeps   *prometheus.CounterVec
	actions  *prometheus.CounterVec
	duration prometheus.Histogram
}

func (m *sweeperMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.sweeps = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_sweeper_runs_total",
			Help: "total number of sweeps, by result",
		},
		[]string{"result"},
	)
	m.actions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_sweeper_actions_total",
			Help: "total number of transitions made by sweeps, by action",
		},
		[]string{"action"},
	)
	m.duration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "geneledger_sweeper_duration_seconds",
		Help:    "sweep duration",
		Buckets: prometheus.DefBuckets,
	})
}
