// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package linearproblem

import (
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// usageSetpointEpsilon keeps the maximum setpoint feasible under rounding.
const usageSetpointEpsilon = 1e-4

// unboundedRangeWidth stands in for the width of a range action without
// finite bounds.
const unboundedRangeWidth = 1e6

// RaUsageLimits are the range-action limits left once the leaf's network
// actions are counted. Nil or empty fields are not enforced.
type RaUsageLimits struct {
	MaxRa                      *int
	MaxTso                     *int
	MaxTsoExclusion            []string
	MaxRaPerTso                map[string]int
	MaxPstPerTso               map[string]int
	MaxElementaryActionsPerTso map[string]int
}

// Empty reports whether no limit applies.
func (l *RaUsageLimits) Empty() bool {
	return l == nil || (l.MaxRa == nil && l.MaxTso == nil && len(l.MaxRaPerTso) == 0 &&
		len(l.MaxPstPerTso) == 0 && len(l.MaxElementaryActionsPerTso) == 0)
}

// RaUsageLimitsFiller enforces usage limits with one activation binary per
// range action.
//
// Description:
//
//	up[r] + down[r] <= isVar[r] * (max - min + eps) + relaxation
//	links the variation to the binary, then each limit sums binaries:
//	  sum isVar[r] <= maxRa
//	  sum tsoUsed[t] <= maxTso with tsoUsed[t] >= isVar[r] for r of t
//	  sum isVar[r of t] <= maxRaPerTso[t] (and PSTs only for maxPstPerTso)
//	Elementary actions per TSO count the absolute tap distance to the
//	pre-perimeter tap, which needs DiscretePstTapFiller to run first.
type RaUsageLimitsFiller struct {
	rangeActions    []*crac.RangeAction
	prePerimeter    *setpoint.Result
	limits          RaUsageLimits
	approximatedPst bool
}

// NewRaUsageLimitsFiller returns a usage-limits filler.
func NewRaUsageLimitsFiller(rangeActions []*crac.RangeAction, prePerimeter *setpoint.Result, limits RaUsageLimits, approximatedPst bool) *RaUsageLimitsFiller {
	return &RaUsageLimitsFiller{
		rangeActions:    rangeActions,
		prePerimeter:    prePerimeter,
		limits:          limits,
		approximatedPst: approximatedPst,
	}
}

func isVariationVar(ra *crac.RangeAction) string { return "is_variation_" + ra.ID }

// Fill implements ProblemFiller.
func (f *RaUsageLimitsFiller) Fill(p *LinearProblem, in FillInput) error {
	if f.limits.Empty() {
		return nil
	}
	for _, ra := range f.rangeActions {
		f.buildIsVariation(p, ra)
	}
	if f.limits.MaxRa != nil && *f.limits.MaxRa < len(f.rangeActions) {
		con := p.addConstraint("max_ra", 0, float64(*f.limits.MaxRa))
		for _, ra := range f.rangeActions {
			f.addBinary(p, con, ra)
		}
	}
	if f.limits.MaxTso != nil {
		f.buildMaxTso(p, *f.limits.MaxTso)
	}
	for _, tso := range sortedKeys(f.limits.MaxRaPerTso) {
		con := p.addConstraint("max_ra_per_tso_"+tso, 0, float64(f.limits.MaxRaPerTso[tso]))
		for _, ra := range f.rangeActions {
			if ra.Operator == tso {
				f.addBinary(p, con, ra)
			}
		}
	}
	for _, tso := range sortedKeys(f.limits.MaxPstPerTso) {
		con := p.addConstraint("max_pst_per_tso_"+tso, 0, float64(f.limits.MaxPstPerTso[tso]))
		for _, ra := range f.rangeActions {
			if ra.IsPST() && ra.Operator == tso {
				f.addBinary(p, con, ra)
			}
		}
	}
	for _, tso := range sortedKeys(f.limits.MaxElementaryActionsPerTso) {
		f.buildMaxElementaryActions(p, tso, in.Setpoints)
	}
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *RaUsageLimitsFiller) UpdateBetweenMipIteration(p *LinearProblem, setpoints *setpoint.Result) error {
	for _, ra := range f.rangeActions {
		if !ra.IsPST() {
			continue
		}
		pos, ok := p.constraint("pst_abs_tap_positive_" + ra.ID)
		if !ok {
			continue
		}
		neg, _ := p.constraint("pst_abs_tap_negative_" + ra.ID)
		preTap := f.prePerimeter.ReferenceTap(ra)
		tap := setpoints.Tap(ra)
		p.setConstraintBounds(pos, float64(tap-preTap), math.Inf(1))
		p.setConstraintBounds(neg, float64(preTap-tap), math.Inf(1))
	}
	return nil
}

func (f *RaUsageLimitsFiller) buildIsVariation(p *LinearProblem, ra *crac.RangeAction) {
	up, okUp := p.variable(upVariationVar(ra))
	down, okDown := p.variable(downVariationVar(ra))
	if !okUp || !okDown {
		return
	}
	bin := p.addIntVariable(isVariationVar(ra), 0, 1)

	pre := f.prePerimeter.Reference(ra)
	lo, hi := ra.AdmissibleBounds(pre, pre)
	width := hi - lo + usageSetpointEpsilon
	if math.IsInf(width, 0) || math.IsNaN(width) {
		width = unboundedRangeWidth
	}
	con := p.addConstraint("is_variation_def_"+ra.ID, math.Inf(-1), f.relaxation(ra))
	p.setCoefficient(con, up, 1)
	p.setCoefficient(con, down, 1)
	p.setCoefficient(con, bin, -width)
}

// relaxation keeps the pre-perimeter setpoint feasible when approximated
// taps cannot reach it exactly.
func (f *RaUsageLimitsFiller) relaxation(ra *crac.RangeAction) float64 {
	if !ra.IsPST() || !f.approximatedPst || len(ra.Taps) < 2 {
		return usageSetpointEpsilon
	}
	lowest, highest := ra.TapBounds()
	minAngle, maxAngle := math.Inf(1), math.Inf(-1)
	for _, t := range ra.Taps {
		minAngle = math.Min(minAngle, t.Angle)
		maxAngle = math.Max(maxAngle, t.Angle)
	}
	return 0.3 * math.Abs((maxAngle-minAngle)/float64(highest-lowest))
}

func (f *RaUsageLimitsFiller) addBinary(p *LinearProblem, con int, ra *crac.RangeAction) {
	if bin, ok := p.variable(isVariationVar(ra)); ok {
		p.setCoefficient(con, bin, 1)
	}
}

func (f *RaUsageLimitsFiller) buildMaxTso(p *LinearProblem, maxTso int) {
	excluded := make(map[string]bool, len(f.limits.MaxTsoExclusion))
	for _, tso := range f.limits.MaxTsoExclusion {
		excluded[tso] = true
	}
	byTso := make(map[string][]*crac.RangeAction)
	for _, ra := range f.rangeActions {
		if ra.Operator == "" || excluded[ra.Operator] {
			continue
		}
		byTso[ra.Operator] = append(byTso[ra.Operator], ra)
	}
	if maxTso >= len(byTso) {
		return
	}
	con := p.addConstraint("max_tso", 0, float64(maxTso))
	for _, tso := range sortedKeys(byTso) {
		used := p.addVariable("tso_used_"+tso, 0, 1)
		p.setCoefficient(con, used, 1)
		for _, ra := range byTso[tso] {
			bin, ok := p.variable(isVariationVar(ra))
			if !ok {
				continue
			}
			link := p.addConstraint("tso_used_"+tso+"_"+ra.ID, 0, math.Inf(1))
			p.setCoefficient(link, used, 1)
			p.setCoefficient(link, bin, -1)
		}
	}
}

func (f *RaUsageLimitsFiller) buildMaxElementaryActions(p *LinearProblem, tso string, current *setpoint.Result) {
	con := p.addConstraint("max_elementary_actions_"+tso, 0, float64(f.limits.MaxElementaryActionsPerTso[tso]))
	for _, ra := range f.rangeActions {
		if !ra.IsPST() || ra.Operator != tso {
			continue
		}
		up, okUp := p.variable(tapUpVar(ra))
		down, okDown := p.variable(tapDownVar(ra))
		if !okUp || !okDown {
			continue
		}
		preTap := f.prePerimeter.ReferenceTap(ra)
		tap := current.Tap(ra)
		abs := p.addVariable("pst_abs_tap_"+ra.ID, 0, math.Inf(1))

		pos := p.addConstraint("pst_abs_tap_positive_"+ra.ID, float64(tap-preTap), math.Inf(1))
		p.setCoefficient(pos, abs, 1)
		p.setCoefficient(pos, up, -1)
		p.setCoefficient(pos, down, 1)

		neg := p.addConstraint("pst_abs_tap_negative_"+ra.ID, float64(preTap-tap), math.Inf(1))
		p.setCoefficient(neg, abs, 1)
		p.setCoefficient(neg, up, 1)
		p.setCoefficient(neg, down, -1)

		p.setCoefficient(con, abs, 1)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
