// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objective

import (
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// Config configures a margin or cost objective.
type Config struct {
	// Type selects the functional cost.
	Type Type

	// Unit of margins and margin-based costs.
	Unit crac.Unit

	// OptimizedCnecs are the elements whose margin drives the functional
	// cost. Empty means the perimeter is purely virtual.
	OptimizedCnecs []*crac.FlowCnec

	// MinMarginPenalty is the cost per unit of overload in MIN_COST mode.
	MinMarginPenalty float64
}

// ObjectiveFunction is the default Function implementation.
//
// Description:
//
//	The functional cost is the negated minimum margin over optimized cnecs
//	(relative margins when configured), or in MIN_COST mode the activation
//	costs of network actions plus range-action variation costs, with the
//	overload turned into the min-margin-violation virtual cost. Every
//	registered VirtualCostEvaluator adds one named cost.
//
// Thread Safety:
//
//	Safe for concurrent use. Evaluators must be stateless.
type ObjectiveFunction struct {
	cfg        Config
	evaluators []VirtualCostEvaluator
}

// MinMarginViolationName is the virtual cost of overloads in MIN_COST mode.
const MinMarginViolationName = "min-margin-violation-evaluator"

// New builds an objective function.
func New(cfg Config, evaluators ...VirtualCostEvaluator) *ObjectiveFunction {
	if cfg.Unit == "" {
		cfg.Unit = crac.UnitMegawatt
	}
	if cfg.Type == "" {
		cfg.Type = MaxMinMargin
	}
	return &ObjectiveFunction{cfg: cfg, evaluators: evaluators}
}

// Config returns the configuration.
func (f *ObjectiveFunction) Config() Config { return f.cfg }

// IsPurelyVirtual reports whether no cnec is optimized.
func (f *ObjectiveFunction) IsPurelyVirtual() bool { return len(f.cfg.OptimizedCnecs) == 0 }

// Evaluate implements Function.
func (f *ObjectiveFunction) Evaluate(flows *sensitivity.Result, activation Activation) *Result {
	virtual := make(map[string]float64, len(f.evaluators)+1)
	costly := make(map[string][]*crac.FlowCnec, len(f.evaluators)+1)

	var functional float64
	var limiting []*crac.FlowCnec
	if !flows.IsFailure() {
		var minMargin float64
		limiting, minMargin = f.rankByMargin(flows)
		if f.cfg.Type.CostOptimization() {
			functional = activationCost(activation)
			violation := math.Max(0, -minMargin)
			virtual[MinMarginViolationName] = f.cfg.MinMarginPenalty * violation
			if violation > 0 {
				costly[MinMarginViolationName] = overloaded(limiting, flows, f.cfg.Unit)
			}
		} else if len(limiting) > 0 {
			functional = -minMargin
		}
	}

	for _, e := range f.evaluators {
		cost, elements := e.Evaluate(flows, activation)
		virtual[e.Name()] = cost
		costly[e.Name()] = elements
	}
	return NewResult(functional, virtual, limiting, costly)
}

// rankByMargin sorts optimized cnecs by increasing margin and returns the
// smallest margin (zero when there is none).
func (f *ObjectiveFunction) rankByMargin(flows *sensitivity.Result) ([]*crac.FlowCnec, float64) {
	type ranked struct {
		cnec   *crac.FlowCnec
		margin float64
	}
	rs := make([]ranked, 0, len(f.cfg.OptimizedCnecs))
	for _, c := range f.cfg.OptimizedCnecs {
		flow := flows.Flow(c.ID)
		m := c.Margin(flow, f.cfg.Unit)
		if f.cfg.Type.RelativePositiveMargins() {
			m = c.RelativeMargin(flow, f.cfg.Unit)
		}
		rs = append(rs, ranked{cnec: c, margin: m})
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].margin != rs[j].margin {
			return rs[i].margin < rs[j].margin
		}
		return rs[i].cnec.ID < rs[j].cnec.ID
	})
	out := make([]*crac.FlowCnec, len(rs))
	for i, r := range rs {
		out[i] = r.cnec
	}
	if len(rs) == 0 {
		return out, 0
	}
	return out, rs[0].margin
}

func activationCost(a Activation) float64 {
	total := 0.0
	for _, na := range a.NetworkActions {
		total += na.ActivationCost
	}
	if a.RangeActions != nil {
		for _, ra := range a.RangeActions.Activated() {
			total += ra.VariationCost * math.Abs(a.RangeActions.Setpoint(ra)-a.RangeActions.Reference(ra))
		}
	}
	return total
}

func overloaded(ranked []*crac.FlowCnec, flows *sensitivity.Result, unit crac.Unit) []*crac.FlowCnec {
	var out []*crac.FlowCnec
	for _, c := range ranked {
		if c.Margin(flows.Flow(c.ID), unit) < 0 {
			out = append(out, c)
		}
	}
	return out
}
