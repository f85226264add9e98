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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	h := NewMemHost()
	r := NewRegistry(h, WithMetrics(reg))

	_, err := r.Register(def("f", "x int", "int", "return 10 / x"))
	require.NoError(t, err)
	_, err = r.Register(def("f", "x int", "int", "return 10 / x"))
	require.NoError(t, err)
	_, err = r.Register(def("f", "x int", "int", "pragma strict\nreturn 10 / x"))
	require.NoError(t, err)
	_, err = r.Register(def("g", "x int", "int", "return x +"))
	require.Error(t, err)
	_, err = r.Register(def("g", "x int", "int", "return y"))
	require.Error(t, err)
	_, err = r.Register(def("f", "x string", "int", "return 1"))
	require.Error(t, err)

	m := r.metrics
	require.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("new")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("unchanged")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("replaced")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("syntax")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("undefined_reference")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("conflict")))

	got, err := h.Query("SELECT f(5)")
	require.NoError(t, err)
	require.Equal(t, "2", got)
	_, err = h.Query("SELECT f(0)")
	require.Error(t, err)

	require.Equal(t, 2.0, testutil.ToFloat64(m.invocations.WithLabelValues("f")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.rows.WithLabelValues("f")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("f")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("f")))
	require.Equal(t, 1, testutil.CollectAndCount(m.latency))

	n, err := testutil.GatherAndCount(reg, "udfc_invocations_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, r.Close())
	// the collectors can be registered again
	r2 := NewRegistry(NewMemHost(), WithMetrics(reg))
	require.NotNil(t, r2.promreg)
	require.NoError(t, r2.Close())
}

func TestMetricsFallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewMemHost()
	r := NewRegistry(h, WithMetrics(reg), WithScalarExecution())
	defer r.Close()
	_, err := r.Register(def("f", "x int", "int", "return x"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = h.Query("SELECT f(1)")
		require.NoError(t, err)
	}
	require.Equal(t, 3.0, testutil.ToFloat64(r.metrics.fallbacks.WithLabelValues("f")))
}

func TestMetricsDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	r1 := NewRegistry(NewMemHost(), WithMetrics(reg))
	defer r1.Close()
	// the second registry cannot export its
	// metrics but still works
	r2 := NewRegistry(NewMemHost(), WithMetrics(reg))
	defer r2.Close()
	require.Nil(t, r2.promreg)
	_, err := r2.Register(def("f", "", "int", "return 1"))
	require.NoError(t, err)
}
