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
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// MnecFiller keeps monitored elements from degrading.
//
// Description:
//
//	For every MNEC a violation V[c] >= 0 relaxes its thresholds, which are
//	themselves widened to the initial flow plus the acceptable diminution:
//	  F[c] - V[c] <= max(max, F0[c] + d)
//	  F[c] + V[c] >= min(min, F0[c] - d)
//	The objective pays ViolationCost per MW of violation.
type MnecFiller struct {
	Mnecs                []*crac.FlowCnec
	Initial              *sensitivity.Result
	AcceptableDiminution float64
	ViolationCost        float64
}

// Fill implements ProblemFiller.
func (f *MnecFiller) Fill(p *LinearProblem, in FillInput) error {
	initial := f.Initial
	if initial == nil {
		initial = in.Flows
	}
	for _, c := range f.Mnecs {
		fv, ok := p.variable(flowVar(c))
		if !ok {
			continue
		}
		v := p.addVariable("mnec_violation_"+c.ID, 0, math.Inf(1))
		f0 := initial.Flow(c.ID)
		if upper := c.UpperBound(); !math.IsInf(upper, 1) {
			con := p.addConstraint("mnec_upper_"+c.ID, math.Inf(-1), math.Max(upper, f0+f.AcceptableDiminution))
			p.setCoefficient(con, fv, 1)
			p.setCoefficient(con, v, -1)
		}
		if lower := c.LowerBound(); !math.IsInf(lower, -1) {
			con := p.addConstraint("mnec_lower_"+c.ID, math.Min(lower, f0-f.AcceptableDiminution), math.Inf(1))
			p.setCoefficient(con, fv, 1)
			p.setCoefficient(con, v, 1)
		}
		p.addObjective(v, f.ViolationCost)
	}
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *MnecFiller) UpdateBetweenMipIteration(*LinearProblem, *setpoint.Result) error {
	return nil
}
