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
	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
)

// AlreadyApplied drops combinations containing an action the leaf already
// activated.
type AlreadyApplied struct{}

// Name implements Filter.
func (AlreadyApplied) Name() string { return "already_applied" }

// Filter implements Filter.
func (AlreadyApplied) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	applied := leaf.ActivatedNetworkActions()
	return keep(candidates, func(c Candidate) bool {
		return !c.Combination.ContainsAny(applied)
	})
}

// AlreadyTested drops singletons that would complete a predefined
// combination piecemeal.
//
// Description:
//
//	When every action of a predefined combination but one is active, that
//	last action alone is not worth testing: had it been useful the whole
//	combination would have been selected at an earlier depth. Combinations
//	detected during a previous search are not predefined in that sense and
//	are ignored, and so are predefined singletons.
type AlreadyTested struct {
	Predefined []*combination.Combination
}

// Name implements Filter.
func (AlreadyTested) Name() string { return "already_tested" }

// Filter implements Filter.
func (f AlreadyTested) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	active := make(map[string]bool)
	for _, a := range leaf.ActivatedNetworkActions() {
		active[a.ID] = true
	}
	tested := make(map[string]bool)
	for _, pre := range f.Predefined {
		if pre.IsDetectedDuringSearch() || pre.Size() < 2 {
			continue
		}
		var missing []string
		for _, a := range pre.Actions() {
			if !active[a.ID] {
				missing = append(missing, a.ID)
			}
		}
		if len(missing) == 1 {
			tested[missing[0]] = true
		}
	}
	return keep(candidates, func(c Candidate) bool {
		if c.Combination.Size() != 1 {
			return true
		}
		return !tested[c.Combination.Actions()[0].ID]
	})
}

// ElementaryActionsCompatibility drops combinations whose elementary
// actions contradict each other or an applied action.
type ElementaryActionsCompatibility struct{}

// Name implements Filter.
func (ElementaryActionsCompatibility) Name() string { return "elementary_actions_compatibility" }

// Filter implements Filter.
func (ElementaryActionsCompatibility) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	applied := leaf.ActivatedNetworkActions()
	return keep(candidates, func(c Candidate) bool {
		actions := c.Combination.Actions()
		for i, a := range actions {
			for _, b := range actions[i+1:] {
				if a.ConflictsWith(b) {
					return false
				}
			}
			for _, b := range applied {
				if a.ConflictsWith(b) {
					return false
				}
			}
		}
		return true
	})
}

// HasImpactOnNetwork drops combinations that would not change the leaf's
// network state.
type HasImpactOnNetwork struct{}

// Name implements Filter.
func (HasImpactOnNetwork) Name() string { return "has_impact_on_network" }

// Filter implements Filter.
func (HasImpactOnNetwork) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	state := leaf.NetworkState()
	if state == nil {
		return candidates
	}
	return keep(candidates, func(c Candidate) bool {
		for _, a := range c.Combination.Actions() {
			if !a.IsNoOp(state) {
				return true
			}
		}
		return false
	})
}
