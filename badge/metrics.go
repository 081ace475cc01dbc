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

package badge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	submitted    prometheus.Counter
	attestations prometheus.Counter
	bound        *prometheus.CounterVec
	issued       prometheus.Counter
}

func (m *engineMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.submitted = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_badge_protocols_submitted_total",
		Help: "total number of protocols submitted",
	})
	m.attestations = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_badge_attestations_total",
		Help: "total number of verifier attestations",
	})
	m.bound = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_badge_credentials_bound_total",
			Help: "total number of credentials bound to verified protocols, by rarity",
		},
		[]string{"rarity"},
	)
	m.issued = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_badge_credentials_issued_total",
		Help: "total number of credential issuances confirmed",
	})
}

type dispatcherMetrics struct {
	requests *prometheus.CounterVec
}

func (m *dispatcherMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.requests = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geneledger_badge_issuance_requests_total",
			Help: "total number of credential issuance attempts, by result",
		},
		[]string{"result"},
	)
}
