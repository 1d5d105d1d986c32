// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filters

import (
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// =============================================================================
// Usage-limit filters
// =============================================================================
//
// Each limit filter drops a combination when the network actions alone
// would exceed the limit, and keeps it with ResetRangeActions set when only
// the leaf's active range actions push it over. The child then starts its
// range-action optimization from scratch, so the linear problem can trade
// range actions for the new network actions.

// MaximumNumberOfElementaryActions caps elementary actions per TSO.
//
// Description:
//
//	A combination counts the elementary actions of the operator's network
//	actions. PST taps already moved away from the pre-perimeter tap count
//	as one elementary action each.
type MaximumNumberOfElementaryActions struct {
	MaxPerTso    map[string]int
	PrePerimeter *setpoint.Result
}

// Name implements Filter.
func (MaximumNumberOfElementaryActions) Name() string { return "max_elementary_actions_per_tso" }

// Filter implements Filter.
func (f MaximumNumberOfElementaryActions) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	if len(f.MaxPerTso) == 0 {
		return candidates
	}
	moved := f.movedTapsPerTso(leaf)
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		perTso := make(map[string]int)
		for _, a := range c.Combination.Actions() {
			perTso[a.Operator] += a.ElementaryActionCount()
		}
		kept, reset := true, false
		for _, op := range c.Combination.Operators() {
			limit, ok := f.MaxPerTso[op]
			if !ok {
				continue
			}
			if perTso[op] > limit {
				kept = false
				break
			}
			if perTso[op]+moved[op] > limit {
				reset = true
			}
		}
		if kept {
			c.ResetRangeActions = c.ResetRangeActions || reset
			out = append(out, c)
		}
	}
	return out
}

func (f MaximumNumberOfElementaryActions) movedTapsPerTso(leaf Leaf) map[string]int {
	moved := make(map[string]int)
	if f.PrePerimeter == nil {
		return moved
	}
	for _, ra := range leaf.ActivatedRangeActions() {
		if !ra.IsPST() {
			continue
		}
		d := leaf.OptimizedTap(ra) - f.PrePerimeter.ReferenceTap(ra)
		if d < 0 {
			d = -d
		}
		moved[ra.Operator] += d
	}
	return moved
}

// MaximumNumberOfRemedialActionPerTso caps remedial actions per TSO.
//
// Description:
//
//	Network actions of one TSO are limited by the smaller of MaxRaPerTso
//	and MaxTopoPerTso, minus the TSO's network actions already applied.
//	Active range actions of the TSO only count against MaxRaPerTso.
type MaximumNumberOfRemedialActionPerTso struct {
	MaxRaPerTso   map[string]int
	MaxTopoPerTso map[string]int
}

// Name implements Filter.
func (MaximumNumberOfRemedialActionPerTso) Name() string { return "max_remedial_actions_per_tso" }

// Filter implements Filter.
func (f MaximumNumberOfRemedialActionPerTso) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	if len(f.MaxRaPerTso) == 0 && len(f.MaxTopoPerTso) == 0 {
		return candidates
	}
	appliedNa := operatorCounts(leaf.ActivatedNetworkActions(), networkActionOperator)
	activeRa := operatorCounts(leaf.ActivatedRangeActions(), rangeActionOperator)
	maxNa := f.remainingNetworkActions(appliedNa)

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		kept, reset := true, false
		for _, op := range c.Combination.Operators() {
			n := c.Combination.ActionsOf(op)
			if limit, ok := maxNa[op]; ok && n > limit {
				kept = false
				break
			}
			if limit, ok := f.MaxRaPerTso[op]; ok && appliedNa[op]+activeRa[op]+n > limit {
				reset = true
			}
		}
		if kept {
			c.ResetRangeActions = c.ResetRangeActions || reset
			out = append(out, c)
		}
	}
	return out
}

func (f MaximumNumberOfRemedialActionPerTso) remainingNetworkActions(applied map[string]int) map[string]int {
	out := make(map[string]int)
	for tso, limit := range f.MaxRaPerTso {
		out[tso] = limit - applied[tso]
	}
	for tso, limit := range f.MaxTopoPerTso {
		remaining := limit - applied[tso]
		if cur, ok := out[tso]; !ok || remaining < cur {
			out[tso] = remaining
		}
	}
	return out
}

// MaximumNumberOfRemedialActions caps the total number of remedial actions.
//
// Description:
//
//	With m network actions applied, a combination c is kept when
//	|c| + m <= MaxRa. It resets range actions when the leaf's active range
//	actions take the total over MaxRa.
type MaximumNumberOfRemedialActions struct {
	MaxRa int
}

// Name implements Filter.
func (MaximumNumberOfRemedialActions) Name() string { return "max_remedial_actions" }

// Filter implements Filter.
func (f MaximumNumberOfRemedialActions) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	applied := len(leaf.ActivatedNetworkActions())
	active := len(leaf.ActivatedRangeActions())
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		size := c.Combination.Size()
		if size+applied > f.MaxRa {
			continue
		}
		c.ResetRangeActions = c.ResetRangeActions || applied+active+size > f.MaxRa
		out = append(out, c)
	}
	return out
}

// MaximumNumberOfTsos caps the number of distinct operators acting.
type MaximumNumberOfTsos struct {
	MaxTso int
}

// Name implements Filter.
func (MaximumNumberOfTsos) Name() string { return "max_tsos" }

// Filter implements Filter.
func (f MaximumNumberOfTsos) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	withNa := make(map[string]bool)
	for op := range operatorCounts(leaf.ActivatedNetworkActions(), networkActionOperator) {
		withNa[op] = true
	}
	withRa := make(map[string]bool, len(withNa))
	for op := range withNa {
		withRa[op] = true
	}
	for op := range operatorCounts(leaf.ActivatedRangeActions(), rangeActionOperator) {
		withRa[op] = true
	}

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		ops := c.Combination.Operators()
		if unionSize(ops, withNa) > f.MaxTso {
			continue
		}
		c.ResetRangeActions = c.ResetRangeActions || unionSize(ops, withRa) > f.MaxTso
		out = append(out, c)
	}
	return out
}

func unionSize(ops []string, set map[string]bool) int {
	n := len(set)
	for _, op := range ops {
		if !set[op] {
			n++
		}
	}
	return n
}
