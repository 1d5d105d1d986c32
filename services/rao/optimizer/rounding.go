// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

const (
	// tapHesitationZone is the distance to the middle of two taps, as a
	// share of their angle gap, under which both taps are compared.
	tapHesitationZone = 0.15

	// tapMarginGain is the relative margin gain the farther tap must bring
	// to be preferred over the closest one.
	tapMarginGain = 0.1

	// tapMarginCnecs is how many most-limiting elements the margin
	// comparison looks at.
	tapMarginCnecs = 10
)

// round snaps an LP solution to admissible setpoints.
//
// Description:
//
//	Continuous PST angles go to a tap with bestTaps. In the approximated
//	integer model the solution is already close to a tap, so the angle of
//	the closest tap is used directly. Other range actions are rounded to
//	the unit.
func round(raw *setpoint.Result, best *Result, params Parameters) *setpoint.Result {
	out := raw.Clone()
	var psts []*crac.RangeAction
	for _, ra := range raw.RangeActions() {
		switch {
		case ra.IsPST() && len(ra.Taps) > 0:
			psts = append(psts, ra)
		case ra.IsPST():
		default:
			out.Put(ra, math.Round(raw.Setpoint(ra)))
		}
	}
	if len(psts) == 0 {
		return out
	}

	if params.PstModel == PstApproximatedIntegers {
		for _, pst := range psts {
			out.Put(pst, pst.ConvertTapToAngle(pst.ConvertAngleToTap(raw.Setpoint(pst))))
		}
		return out
	}

	taps := bestTaps(psts, raw, best, params.Unit)
	for _, pst := range psts {
		out.Put(pst, pst.ConvertTapToAngle(taps[pst.ID]))
	}
	return out
}

// bestTaps picks a tap for every PST.
//
// Description:
//
//	The closest tap wins unless the angle sits near the middle of two taps
//	and the other tap improves the minimum margin of the most limiting
//	elements by more than 10%. Margins are extrapolated from the best
//	iteration flows with its sensitivities. PSTs of one group share the tap
//	maximizing the group's worst margin; equal margins go to the lower tap.
//
// Outputs:
//
//	map[string]int - Tap per PST ID.
func bestTaps(psts []*crac.RangeAction, raw *setpoint.Result, best *Result, unit crac.Unit) map[string]int {
	perPst := make(map[string]map[int]float64, len(psts))
	groups := make(map[string][]*crac.RangeAction)
	for _, pst := range psts {
		perPst[pst.ID] = tapMargins(pst, raw.Setpoint(pst), best, unit)
		if pst.GroupID != "" {
			groups[pst.GroupID] = append(groups[pst.GroupID], pst)
		}
	}

	taps := make(map[string]int, len(psts))
	for _, pst := range psts {
		if pst.GroupID == "" {
			taps[pst.ID] = argmaxTap(perPst[pst.ID])
		}
	}
	for _, members := range groups {
		merged := make(map[int]float64)
		for _, pst := range members {
			for tap, m := range perPst[pst.ID] {
				if cur, ok := merged[tap]; !ok || m < cur {
					merged[tap] = m
				}
			}
		}
		tap := argmaxTap(merged)
		for _, pst := range members {
			taps[pst.ID] = tap
		}
	}
	return taps
}

// tapMargins returns the candidate taps of pst with their score.
func tapMargins(pst *crac.RangeAction, angle float64, best *Result, unit crac.Unit) map[int]float64 {
	closest := pst.ConvertAngleToTap(angle)
	closestAngle := pst.ConvertTapToAngle(closest)
	lowest, highest := pst.TapBounds()

	other := closest
	switch {
	case angle > closestAngle && closest < highest:
		other = closest + 1
	case angle < closestAngle && closest > lowest:
		other = closest - 1
	}
	otherAngle := pst.ConvertTapToAngle(other)
	if other == closest || otherAngle == closestAngle || best.Flows.IsFailure() || best.Objective == nil {
		return map[int]float64{closest: math.MaxFloat64}
	}

	middle := (closestAngle + otherAngle) / 2
	if math.Abs(angle-middle)/math.Abs(closestAngle-otherAngle) >= tapHesitationZone {
		return map[int]float64{closest: math.MaxFloat64}
	}

	cnecs := best.Objective.MostLimitingElements(tapMarginCnecs)
	current := best.Setpoints.Setpoint(pst)
	m1 := extrapolatedMinMargin(cnecs, pst, closestAngle, current, best, unit)
	m2 := extrapolatedMinMargin(cnecs, pst, otherAngle, current, best, unit)
	if m2 > m1+tapMarginGain*math.Abs(m1) {
		return map[int]float64{closest: m1, other: m2}
	}
	return map[int]float64{closest: math.MaxFloat64}
}

func extrapolatedMinMargin(cnecs []*crac.FlowCnec, pst *crac.RangeAction, angle, current float64, best *Result, unit crac.Unit) float64 {
	m := math.MaxFloat64
	for _, c := range cnecs {
		flow := best.Flows.Flow(c.ID) + best.Flows.Sensitivity(c.ID, pst.ID)*(angle-current)
		m = math.Min(m, c.Margin(flow, unit))
	}
	return m
}

// argmaxTap returns the tap with the largest score, the lowest tap on ties.
func argmaxTap(scores map[int]float64) int {
	taps := make([]int, 0, len(scores))
	for t := range scores {
		taps = append(taps, t)
	}
	sort.Ints(taps)
	bestTap, bestScore := taps[0], scores[taps[0]]
	for _, t := range taps[1:] {
		if scores[t] > bestScore {
			bestTap, bestScore = t, scores[t]
		}
	}
	return bestTap
}
