// Copyright 2025 The Xyn Authors
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

// Package metrics exposes queue health gauges and the collector that
// refreshes them from the relational store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges are process-local; no per-run cardinality labels.
var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "queue_depth",
		Help:      "Number of runs by status.",
	}, []string{"status"})

	queueReadyDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "queue_ready_depth",
		Help:      "Queued runs whose run_at has passed.",
	})

	queueFutureDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "queue_future_depth",
		Help:      "Queued runs scheduled in the future.",
	})

	queueOldestReadySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "queue_oldest_ready_seconds",
		Help:      "Age in seconds of the oldest ready queued run, 0 when none.",
	})

	runningWithActiveLease = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "running_with_active_lease",
		Help:      "Running runs whose lease has not expired.",
	})

	runningWithExpiredLease = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "xyn",
		Name:      "running_with_expired_lease",
		Help:      "Running runs whose lease has expired (reclaim candidates).",
	})
)

// knownStatuses is the full label set so absent statuses read 0, not
// missing.
var knownStatuses = []string{"queued", "running", "completed", "failed", "cancelled"}
