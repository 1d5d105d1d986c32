// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filters holds the predicates that narrow the network-action
// combinations a search-tree leaf may bloom into.
//
// Every filter is pure: it reads the candidates and a reference leaf, and
// returns a subset of the candidates in their input order. A filter may set
// the ResetRangeActions flag of a kept candidate but never clears it.
package filters

import (
	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Candidate is one combination still eligible for exploration.
type Candidate struct {
	Combination *combination.Combination

	// ResetRangeActions tells the child leaf to start its range-action
	// optimization from pre-perimeter setpoints instead of the parent's.
	ResetRangeActions bool
}

// Leaf is the read-only view of the reference leaf filters need.
//
// Description:
//
//	The reference leaf is the leaf being expanded. It is always evaluated
//	when filters run, so these accessors cannot fail.
type Leaf interface {
	ActivatedNetworkActions() []*crac.DiscreteAction
	ActivatedRangeActions() []*crac.RangeAction

	// OptimizedTap returns the tap of a PST in the leaf's best setpoints.
	OptimizedTap(ra *crac.RangeAction) int

	Flow(cnec *crac.FlowCnec) float64

	// Margin returns the margin of cnec in the objective unit.
	Margin(cnec *crac.FlowCnec) float64

	Cost() float64
	MostLimitingElements(n int) []*crac.FlowCnec
	VirtualCostNames() []string
	CostlyElements(name string, n int) []*crac.FlowCnec

	// NetworkState is the leaf's working snapshot. Filters must not modify
	// it.
	NetworkState() *network.Snapshot
}

// Filter narrows candidates.
type Filter interface {
	// Name identifies the filter in logs and events.
	Name() string

	// Filter returns the kept candidates, in input order.
	Filter(candidates []Candidate, leaf Leaf) []Candidate
}

// keep returns the candidates for which pred holds.
func keep(candidates []Candidate, pred func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

func operatorCounts[T any](items []T, operator func(T) string) map[string]int {
	counts := make(map[string]int)
	for _, it := range items {
		if op := operator(it); op != "" {
			counts[op]++
		}
	}
	return counts
}

func networkActionOperator(a *crac.DiscreteAction) string { return a.Operator }
func rangeActionOperator(r *crac.RangeAction) string     { return r.Operator }
