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

func tapUpVar(ra *crac.RangeAction) string   { return "tap_up_" + ra.ID }
func tapDownVar(ra *crac.RangeAction) string { return "tap_down_" + ra.ID }

// DiscretePstTapFiller models PST taps with integer variables.
//
// Description:
//
//	The tap-to-angle relation is not linear. Around the current tap t0
//	with angle a0 it is approximated by two slopes:
//	  S[r] = a0 + kUp * tapUp[r] - kDown * tapDown[r]
//	with binaries forbidding simultaneous upward and downward moves. On the
//	first fill the slopes span the whole admissible range. Afterwards, and
//	between MIP solves, they are refined to a change of one tap around the
//	new position.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type DiscretePstTapFiller struct {
	psts         []*crac.RangeAction
	prePerimeter *setpoint.Result
	iteration    int
}

// NewDiscretePstTapFiller keeps the PSTs of rangeActions.
func NewDiscretePstTapFiller(rangeActions []*crac.RangeAction, prePerimeter *setpoint.Result) *DiscretePstTapFiller {
	var psts []*crac.RangeAction
	for _, ra := range rangeActions {
		if ra.IsPST() && len(ra.Taps) > 0 {
			psts = append(psts, ra)
		}
	}
	return &DiscretePstTapFiller{psts: psts, prePerimeter: prePerimeter}
}

// Fill implements ProblemFiller.
func (f *DiscretePstTapFiller) Fill(p *LinearProblem, in FillInput) error {
	f.iteration++
	for _, pst := range f.psts {
		f.build(p, pst, in.Setpoints)
	}
	if f.iteration > 1 {
		f.update(p, in.Setpoints)
	}
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *DiscretePstTapFiller) UpdateBetweenMipIteration(p *LinearProblem, setpoints *setpoint.Result) error {
	f.update(p, setpoints)
	return nil
}

func (f *DiscretePstTapFiller) admissibleTaps(pst *crac.RangeAction) (int, int) {
	preTap := f.prePerimeter.ReferenceTap(pst)
	lo, hi := pst.AdmissibleTaps(preTap, preTap)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

func (f *DiscretePstTapFiller) build(p *LinearProblem, pst *crac.RangeAction, current *setpoint.Result) {
	s, ok := p.variable(setpointVar(pst))
	if !ok {
		return
	}
	angle := current.Setpoint(pst)
	tap := pst.ConvertAngleToTap(angle)
	minTap, maxTap := f.admissibleTaps(pst)
	maxDown := max(0, tap-minTap)
	maxUp := max(0, maxTap-tap)

	down := p.addIntVariable(tapDownVar(pst), 0, float64(maxDown+maxUp))
	up := p.addIntVariable(tapUpVar(pst), 0, float64(maxDown+maxUp))
	downBin := p.addIntVariable("tap_down_binary_"+pst.ID, 0, 1)
	upBin := p.addIntVariable("tap_up_binary_"+pst.ID, 0, 1)

	conv := p.addConstraint("tap_to_angle_"+pst.ID, angle, angle)
	p.setCoefficient(conv, s, 1)
	if maxDown > 0 {
		k := (pst.ConvertTapToAngle(tap) - pst.ConvertTapToAngle(minTap)) / float64(maxDown)
		p.setCoefficient(conv, down, k)
	}
	if maxUp > 0 {
		k := (pst.ConvertTapToAngle(maxTap) - pst.ConvertTapToAngle(tap)) / float64(maxUp)
		p.setCoefficient(conv, up, -k)
	}

	upOrDown := p.addConstraint("tap_up_or_down_"+pst.ID, math.Inf(-1), 1)
	p.setCoefficient(upOrDown, downBin, 1)
	p.setCoefficient(upOrDown, upBin, 1)

	downAuth := p.addConstraint("tap_down_authorized_"+pst.ID, math.Inf(-1), 0)
	p.setCoefficient(downAuth, down, 1)
	p.setCoefficient(downAuth, downBin, -float64(maxDown))

	upAuth := p.addConstraint("tap_up_authorized_"+pst.ID, math.Inf(-1), 0)
	p.setCoefficient(upAuth, up, 1)
	p.setCoefficient(upAuth, upBin, -float64(maxUp))
}

func (f *DiscretePstTapFiller) update(p *LinearProblem, setpoints *setpoint.Result) {
	for _, pst := range f.psts {
		conv, ok := p.constraint("tap_to_angle_" + pst.ID)
		if !ok {
			continue
		}
		down, _ := p.variable(tapDownVar(pst))
		up, _ := p.variable(tapUpVar(pst))
		downBin, _ := p.variable("tap_down_binary_" + pst.ID)
		upBin, _ := p.variable("tap_up_binary_" + pst.ID)
		downAuth, _ := p.constraint("tap_down_authorized_" + pst.ID)
		upAuth, _ := p.constraint("tap_up_authorized_" + pst.ID)

		angle := setpoints.Setpoint(pst)
		tap := pst.ConvertAngleToTap(angle)
		minTap, maxTap := f.admissibleTaps(pst)
		lowest, highest := pst.TapBounds()

		p.setConstraintBounds(conv, angle, angle)
		if tap+1 <= highest {
			p.setCoefficient(conv, up, -(pst.ConvertTapToAngle(tap+1) - pst.ConvertTapToAngle(tap)))
		}
		if tap-1 >= lowest {
			p.setCoefficient(conv, down, pst.ConvertTapToAngle(tap)-pst.ConvertTapToAngle(tap-1))
		}
		p.setCoefficient(downAuth, downBin, -float64(max(0, tap-minTap)))
		p.setCoefficient(upAuth, upBin, -float64(max(0, maxTap-tap)))
	}
}
