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

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// relativeMarginBigM deactivates relative-margin rows when the minimum
// margin is negative.
const relativeMarginBigM = 1e6

// MaxMinMarginFiller maximizes the smallest margin over optimized cnecs.
//
// Description:
//
//	MM <= uf * (max - F[c]) and MM <= uf * (F[c] - min) for every finite
//	threshold, with uf the MW to unit factor. The objective is -MM.
//
//	With relative margins a binary z selects the regime: z = 1 forces
//	MM >= 0 and bounds RMM by every margin divided by its PTDF zonal sum;
//	z = 0 bounds RMM by MM. The objective becomes -RMM.
type MaxMinMarginFiller struct {
	Cnecs    []*crac.FlowCnec
	Unit     crac.Unit
	Relative bool
}

// Fill implements ProblemFiller.
func (f *MaxMinMarginFiller) Fill(p *LinearProblem, in FillInput) error {
	if len(f.Cnecs) == 0 {
		return nil
	}
	mm := p.addVariable(minMarginVarName, math.Inf(-1), math.Inf(1))

	var rmm, z int
	if f.Relative {
		rmm = p.addVariable(minRelativeMarginVarName, math.Inf(-1), math.Inf(1))
		z = p.addIntVariable(marginSignVarName, 0, 1)

		// z = 1 => MM >= 0
		sign := p.addConstraint("min_margin_sign", -relativeMarginBigM, math.Inf(1))
		p.setCoefficient(sign, mm, 1)
		p.setCoefficient(sign, z, -relativeMarginBigM)

		// z = 0 => RMM <= MM
		neg := p.addConstraint("min_relative_margin_negative", math.Inf(-1), 0)
		p.setCoefficient(neg, rmm, 1)
		p.setCoefficient(neg, mm, -1)
		p.setCoefficient(neg, z, -relativeMarginBigM)
	}

	for _, c := range f.Cnecs {
		fv, ok := p.variable(flowVar(c))
		if !ok {
			continue
		}
		uf := c.UnitFactor(f.Unit)
		if upper := c.UpperBound(); !math.IsInf(upper, 1) {
			con := p.addConstraint("min_margin_upper_"+c.ID, math.Inf(-1), uf*upper)
			p.setCoefficient(con, mm, 1)
			p.setCoefficient(con, fv, uf)
			if f.Relative {
				rf := uf / c.RelativeDenominator()
				rel := p.addConstraint("min_relative_margin_upper_"+c.ID, math.Inf(-1), rf*upper+relativeMarginBigM)
				p.setCoefficient(rel, rmm, 1)
				p.setCoefficient(rel, fv, rf)
				p.setCoefficient(rel, z, relativeMarginBigM)
			}
		}
		if lower := c.LowerBound(); !math.IsInf(lower, -1) {
			con := p.addConstraint("min_margin_lower_"+c.ID, math.Inf(-1), -uf*lower)
			p.setCoefficient(con, mm, 1)
			p.setCoefficient(con, fv, -uf)
			if f.Relative {
				rf := uf / c.RelativeDenominator()
				rel := p.addConstraint("min_relative_margin_lower_"+c.ID, math.Inf(-1), -rf*lower+relativeMarginBigM)
				p.setCoefficient(rel, rmm, 1)
				p.setCoefficient(rel, fv, -rf)
				p.setCoefficient(rel, z, relativeMarginBigM)
			}
		}
	}

	if f.Relative {
		p.addObjective(rmm, -1)
	} else {
		p.addObjective(mm, -1)
	}
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *MaxMinMarginFiller) UpdateBetweenMipIteration(*LinearProblem, *setpoint.Result) error {
	return nil
}

// MinMarginViolationFiller penalizes overloads in MIN_COST mode.
//
// Description:
//
//	V >= 0 with uf * (max - F[c]) + V >= 0 and uf * (F[c] - min) + V >= 0,
//	so V is the largest overload. The objective pays Penalty * V. Range
//	action variation costs are added by CoreProblemFiller.
type MinMarginViolationFiller struct {
	Cnecs   []*crac.FlowCnec
	Unit    crac.Unit
	Penalty float64
}

// Fill implements ProblemFiller.
func (f *MinMarginViolationFiller) Fill(p *LinearProblem, in FillInput) error {
	if len(f.Cnecs) == 0 {
		return nil
	}
	v := p.addVariable(minMarginViolationName, 0, math.Inf(1))
	for _, c := range f.Cnecs {
		fv, ok := p.variable(flowVar(c))
		if !ok {
			continue
		}
		uf := c.UnitFactor(f.Unit)
		if upper := c.UpperBound(); !math.IsInf(upper, 1) {
			con := p.addConstraint("min_margin_violation_upper_"+c.ID, -uf*upper, math.Inf(1))
			p.setCoefficient(con, fv, -uf)
			p.setCoefficient(con, v, 1)
		}
		if lower := c.LowerBound(); !math.IsInf(lower, -1) {
			con := p.addConstraint("min_margin_violation_lower_"+c.ID, uf*lower, math.Inf(1))
			p.setCoefficient(con, fv, uf)
			p.setCoefficient(con, v, 1)
		}
	}
	p.addObjective(v, f.Penalty)
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *MinMarginViolationFiller) UpdateBetweenMipIteration(*LinearProblem, *setpoint.Result) error {
	return nil
}
