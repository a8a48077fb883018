/*
Copyright 2025 The Confsync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by runs. A nil *Metrics
// records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	items     *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confsync_runs_total",
				Help: "Total number of runs by mode and terminal state",
			},
			[]string{"mode", "state"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confsync_items_total",
				Help: "Total number of items processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confsync_conflicts_total",
				Help: "Total number of conflicts by type and resolution",
			},
			[]string{"type", "resolution"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confsync_run_duration_seconds",
				Help:    "Time taken by runs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.items, m.conflicts, m.duration)
	}
	return m
}

// outcomeCaptured labels items read during capture.
const outcomeCaptured = "captured"

func (m *Metrics) recordItem(t string, outcome string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(t, outcome).Inc()
}

// recordRun records the terminal state and duration of report, plus its
// conflicts.
func (m *Metrics) recordRun(report *Report) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(report.Mode), string(report.State)).Inc()
	m.duration.WithLabelValues(string(report.Mode)).Observe(report.Duration().Seconds())
	for _, c := range report.ConflictDetails {
		resolution := string(c.Resolution)
		if c.Err != nil {
			resolution = "unresolved"
		}
		m.conflicts.WithLabelValues(string(c.Key.Type), resolution).Inc()
	}
}
