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

// RangeShrinkRate is the per-iteration factor applied to the admissible
// range when range shrinking is enabled.
const RangeShrinkRate = 0.667

// KindParameters holds one value per range-action kind.
type KindParameters struct {
	PST       float64 `yaml:"pst" json:"pst" validate:"gte=0"`
	HVDC      float64 `yaml:"hvdc" json:"hvdc" validate:"gte=0"`
	Injection float64 `yaml:"injection" json:"injection" validate:"gte=0"`
}

// For returns the value for the kind of ra.
func (k KindParameters) For(ra *crac.RangeAction) float64 {
	switch ra.Kind {
	case crac.KindPST:
		return k.PST
	case crac.KindHVDC:
		return k.HVDC
	default:
		return k.Injection
	}
}

// CoreConfig configures CoreProblemFiller.
type CoreConfig struct {
	// Cnecs get a flow variable. Optimized and monitored elements both
	// belong here.
	Cnecs []*crac.FlowCnec

	// RangeActions are the actions optimized by the problem.
	RangeActions []*crac.RangeAction

	// PrePerimeter holds the setpoints the admissible ranges refer to.
	PrePerimeter *setpoint.Result

	// SensitivityThresholds drops sensitivities below the per-kind value.
	SensitivityThresholds KindParameters

	// PenaltyCosts is the objective cost per unit of variation.
	PenaltyCosts KindParameters

	// CostOptimization adds each action's VariationCost to its penalty.
	CostOptimization bool

	// RangeShrinking narrows ranges around the last setpoints after the
	// first iteration.
	RangeShrinking bool
}

// CoreProblemFiller builds flow and setpoint variables.
//
// Description:
//
//	For every cnec with a flow:
//	  F[c] = f_ref[c] + sum_r sens[c,r] * (S[r] - S_current[r])
//	For every range action:
//	  S[r] = S_pre[r] + up[r] - down[r], AV[r] = up[r] + down[r]
//	  S_min - eps <= S[r] <= S_max + eps
//	The objective pays the penalty cost per unit of AV[r] so that useless
//	variations are avoided.
//
// Thread Safety:
//
//	Not safe for concurrent use. The iteration counter drives shrinking.
type CoreProblemFiller struct {
	cfg       CoreConfig
	iteration int
}

// NewCoreProblemFiller returns a core filler.
func NewCoreProblemFiller(cfg CoreConfig) *CoreProblemFiller {
	return &CoreProblemFiller{cfg: cfg}
}

// Fill implements ProblemFiller.
func (f *CoreProblemFiller) Fill(p *LinearProblem, in FillInput) error {
	for _, ra := range f.cfg.RangeActions {
		f.buildRangeActionVariables(p, ra)
	}
	if !in.Flows.IsFailure() {
		for _, c := range f.cfg.Cnecs {
			f.buildFlowConstraint(p, c, in)
		}
	}
	if f.cfg.RangeShrinking && f.iteration > 0 {
		for _, ra := range f.cfg.RangeActions {
			f.shrink(p, ra, in.Setpoints)
		}
	}
	f.iteration++
	return nil
}

// UpdateBetweenMipIteration implements ProblemFiller.
func (f *CoreProblemFiller) UpdateBetweenMipIteration(*LinearProblem, *setpoint.Result) error {
	return nil
}

func (f *CoreProblemFiller) buildRangeActionVariables(p *LinearProblem, ra *crac.RangeAction) {
	pre := f.cfg.PrePerimeter.Reference(ra)
	lo, hi := ra.AdmissibleBounds(pre, pre)

	s := p.addVariable(setpointVar(ra), lo-RangeActionSetpointEpsilon, hi+RangeActionSetpointEpsilon)
	av := p.addVariable(absVariationVar(ra), 0, math.Inf(1))
	up := p.addVariable(upVariationVar(ra), 0, math.Inf(1))
	down := p.addVariable(downVariationVar(ra), 0, math.Inf(1))

	abs := p.addConstraint("abs_variation_def_"+ra.ID, 0, 0)
	p.setCoefficient(abs, av, 1)
	p.setCoefficient(abs, up, -1)
	p.setCoefficient(abs, down, -1)

	variation := p.addConstraint("setpoint_variation_"+ra.ID, pre, pre)
	p.setCoefficient(variation, s, 1)
	p.setCoefficient(variation, up, -1)
	p.setCoefficient(variation, down, 1)

	cost := f.cfg.PenaltyCosts.For(ra)
	if f.cfg.CostOptimization {
		cost += ra.VariationCost
	}
	p.addObjective(av, cost)
}

func (f *CoreProblemFiller) buildFlowConstraint(p *LinearProblem, c *crac.FlowCnec, in FillInput) {
	ref := in.Flows.Flow(c.ID)
	fv := p.addVariable(flowVar(c), math.Inf(-1), math.Inf(1))
	rhs := ref
	type term struct {
		v    int
		sens float64
	}
	var terms []term
	for _, ra := range f.cfg.RangeActions {
		sens := in.Flows.Sensitivity(c.ID, ra.ID)
		if math.Abs(sens) < f.cfg.SensitivityThresholds.For(ra) || sens == 0 {
			continue
		}
		s, ok := p.variable(setpointVar(ra))
		if !ok {
			continue
		}
		rhs -= sens * in.Setpoints.Setpoint(ra)
		terms = append(terms, term{v: s, sens: sens})
	}
	con := p.addConstraint(flowConstraint(c), rhs, rhs)
	p.setCoefficient(con, fv, 1)
	for _, t := range terms {
		p.setCoefficient(con, t.v, -t.sens)
	}
}

func (f *CoreProblemFiller) shrink(p *LinearProblem, ra *crac.RangeAction, current *setpoint.Result) {
	pre := f.cfg.PrePerimeter.Reference(ra)
	lo, hi := ra.AdmissibleBounds(pre, pre)
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return
	}
	width := (hi - lo) * math.Pow(RangeShrinkRate, float64(f.iteration))
	prev := current.Setpoint(ra)
	s, ok := p.variable(setpointVar(ra))
	if !ok {
		return
	}
	con := p.addConstraint("shrink_"+ra.ID, prev-width, prev+width)
	p.setCoefficient(con, s, 1)
}
