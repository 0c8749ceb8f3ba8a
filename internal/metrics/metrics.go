// Copyright 2025 Tom Barlow
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

// Package metrics exposes Prometheus collectors for pipeline execution.
// Exposition is the embedder's concern; the runner and lock manager only
// record.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagehand_stage_duration_seconds",
			Help:    "Stage attempt duration by stage and final status",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"stage", "status"},
	)

	stageAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagehand_stage_attempts_total",
			Help: "Total stage attempts by stage and final status",
		},
		[]string{"stage", "status"},
	)

	lockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stagehand_lock_contention_total",
			Help: "Total run lock acquisitions refused because another holder was active",
		},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagehand_store_errors_total",
			Help: "Total metadata store errors by operation",
		},
		[]string{"operation"},
	)
)

// RecordStageAttempt records one finished stage attempt.
// status should be the attempt's final status (completed, failed).
func RecordStageAttempt(stage, status string, durationMs int64) {
	stageAttempts.WithLabelValues(stage, status).Inc()
	stageDuration.WithLabelValues(stage, status).Observe(float64(durationMs) / 1000)
}

// RecordLockContention increments the lock contention counter.
func RecordLockContention() {
	lockContention.Inc()
}

// RecordStoreError increments the store error counter.
// operation should name the repository call that failed (e.g. "createRun").
func RecordStoreError(operation string) {
	storeErrors.WithLabelValues(operation).Inc()
}
