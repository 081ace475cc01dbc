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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	proposalsCreated   *prometheus.CounterVec
	proposalsFinalized *prometheus.CounterVec
	votesCast          *prometheus.CounterVec
	voteWeight         prometheus.Counter
	executions         *prometheus.CounterVec
}

func (m *engineMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.proposalsCreated = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_governance_proposals_created_total",
			Help: "total number of proposals created, by kind",
		},
		[]string{"kind"},
	)
	m.proposalsFinalized = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_governance_proposals_finalized_total",
			Help: "total number of proposals finalized, by outcome",
		},
		[]string{"status"},
	)
	m.votesCast = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_governance_votes_cast_total",
			Help: "total number of votes cast, by direction",
		},
		[]string{"direction"},
	)
	m.voteWeight = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_governance_vote_weight_total",
		Help: "total vote weight cast",
	})
	m.executions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_governance_executions_total",
			Help: "total number of proposal executions, by result",
		},
		[]string{"result"},
	)
}
