// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package udfc

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registrations *prometheus.CounterVec
	failures      *prometheus.CounterVec
	invocations   *prometheus.CounterVec
	rows          *prometheus.CounterVec
	errors        *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	latency       prometheus.Histogram
}

// newMetrics creates the registry metrics
// and registers them with reg, if non-nil
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_registrations_total",
			Help: "Functions registered, by outcome (new, replaced, unchanged)",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_registration_failures_total",
			Help: "Rejected registrations by error class",
		}, []string{"class"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_invocations_total",
			Help: "Batches evaluated per function",
		}, []string{"function"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_rows_total",
			Help: "Rows evaluated per function",
		}, []string{"function"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_runtime_errors_total",
			Help: "Batches aborted by a run-time error per function",
		}, []string{"function"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "udfc_scalar_invocations_total",
			Help: "Batches evaluated one row at a time because the function could not be vectorized",
		}, []string{"function"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "udfc_batch_duration_seconds",
			Help:    "Time spent evaluating one batch",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.registrations, m.failures, m.invocations,
		m.rows, m.errors, m.fallbacks, m.latency,
	}
}

func (m *metrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}
