// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package searchtree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// leavesTotal counts leaves by the state they ended in.
	//
	// Labels:
	//   - state: "EVALUATED", "OPTIMIZED", "ERROR" or "SKIPPED"
	leavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "searchtree",
			Name:      "leaves_total",
			Help:      "Total search-tree leaves by final state",
		},
		[]string{"state"},
	)

	// leafDuration measures evaluation plus optimization of one child.
	leafDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rao",
			Subsystem: "searchtree",
			Name:      "leaf_duration_seconds",
			Help:      "Time to evaluate and optimize one leaf",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	// depthsTotal counts completed depths.
	depthsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rao",
			Subsystem: "searchtree",
			Name:      "depths_total",
			Help:      "Total search depths explored",
		},
	)

	// peakSnapshots records the largest number of network snapshots held
	// at once during the last run.
	peakSnapshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rao",
			Subsystem: "searchtree",
			Name:      "peak_snapshots",
			Help:      "Peak number of live network snapshots in the last run",
		},
	)
)

// recordLeaf records the final state of one leaf.
func recordLeaf(state string) {
	leavesTotal.WithLabelValues(state).Inc()
}
