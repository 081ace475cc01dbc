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

package funding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	roundsOpened  prometheus.Counter
	roundsSettled prometheus.Counter
	contributions prometheus.Counter
	contributed   prometheus.Counter
	matched       prometheus.Counter
	residual      prometheus.Counter
}

func (m *engineMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.roundsOpened = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_rounds_opened_total",
		Help: "total number of funding rounds opened",
	})
	m.roundsSettled = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_rounds_settled_total",
		Help: "total number of funding rounds settled",
	})
	m.contributions = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_contributions_total",
		Help: "total number of contributions",
	})
	m.contributed = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_contributed_amount_total",
		Help: "total amount contributed to projects",
	})
	m.matched = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_matched_amount_total",
		Help: "total matching amount awarded at settlement",
	})
	m.residual = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "geneledger_funding_residual_amount_total",
		Help: "total matching pool remainder placed in the residual bucket",
	})
}
