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
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// FarFromMostLimitingElement keeps combinations acting near the constraints.
//
// Description:
//
//	The constrained locations are those of the most limiting element and of
//	every element carrying a virtual cost. A combination is kept when one
//	of its actions is within MaxBoundaries borders of one of them. Unknown
//	locations, on either side, keep the combination.
type FarFromMostLimitingElement struct {
	Graph         *network.CountryGraph
	MaxBoundaries int
}

// Name implements Filter.
func (FarFromMostLimitingElement) Name() string { return "far_from_most_limiting_element" }

// Filter implements Filter.
func (f FarFromMostLimitingElement) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	if f.Graph == nil {
		return candidates
	}
	locations, unknown := constrainedLocations(leaf)
	if unknown {
		return candidates
	}
	return keep(candidates, func(c Candidate) bool {
		for _, a := range c.Combination.Actions() {
			if f.isClose(a, locations) {
				return true
			}
		}
		return false
	})
}

func (f FarFromMostLimitingElement) isClose(a *crac.DiscreteAction, locations []network.Country) bool {
	if a.HasUnknownLocation() {
		return true
	}
	for _, loc := range locations {
		for _, country := range a.Locations {
			if f.Graph.AreNeighbors(loc, country, f.MaxBoundaries) {
				return true
			}
		}
	}
	return false
}

// constrainedLocations returns the countries of the constrained elements,
// and true when one of them has an unknown location.
func constrainedLocations(leaf Leaf) ([]network.Country, bool) {
	elements := leaf.MostLimitingElements(1)
	for _, name := range leaf.VirtualCostNames() {
		elements = append(elements, leaf.CostlyElements(name, math.MaxInt)...)
	}
	seen := make(map[network.Country]bool)
	var out []network.Country
	for _, e := range elements {
		if e.HasUnknownLocation() {
			return nil, true
		}
		for _, c := range e.Locations {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out, false
}
