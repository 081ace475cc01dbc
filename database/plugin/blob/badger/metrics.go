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

package badger

import "github.com/prometheus/client_golang/prometheus"

const badgerMetricNamePrefix = "database_blob_"

type blobMetrics struct {
	readsTotal   prometheus.Counter
	writesTotal  prometheus.Counter
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
}

func (d *BlobStoreBadger) registerBlobMetrics() {
	m := &blobMetrics{
		readsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "reads_total",
				Help: "Total number of badger blob reads",
			},
		),
		writesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "writes_total",
				Help: "Total number of badger blob writes",
			},
		),
		bytesRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "read_bytes_total",
				Help: "Total bytes read from the badger blob store",
			},
		),
		bytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: badgerMetricNamePrefix + "written_bytes_total",
				Help: "Total bytes written to the badger blob store",
			},
		),
	}
	d.promRegistry.MustRegister(
		m.readsTotal,
		m.writesTotal,
		m.bytesRead,
		m.bytesWritten,
	)
	d.metrics = m
}

func (m *blobMetrics) recordRead(size int) {
	if m == nil {
		return
	}
	m.readsTotal.Inc()
	m.bytesRead.Add(float64(size))
}

func (m *blobMetrics) recordWrite(size int) {
	if m == nil {
		return
	}
	m.writesTotal.Inc()
	m.bytesWritten.Add(float64(size))
}
