// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package objective evaluates the cost of a network state.
//
// The cost is a functional cost (negated minimum margin, or activation cost
// in MIN_COST mode) plus named virtual costs that penalize soft-constraint
// violations. Evaluation is pure: the same flows and activation always give
// the same Result.
package objective

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// Type selects the functional cost.
type Type string

const (
	MaxMinMargin         Type = "MAX_MIN_MARGIN"
	MaxMinRelativeMargin Type = "MAX_MIN_RELATIVE_MARGIN"
	MinCost              Type = "MIN_COST"
)

// CostOptimization reports whether the functional cost is an activation
// cost rather than a margin.
func (t Type) CostOptimization() bool { return t == MinCost }

// RelativePositiveMargins reports whether positive margins are divided by
// the PTDF zonal sum.
func (t Type) RelativePositiveMargins() bool { return t == MaxMinRelativeMargin }

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case MaxMinMargin, MaxMinRelativeMargin, MinCost:
		return true
	}
	return false
}

// Activation is the remedial-action state a cost is evaluated for.
type Activation struct {
	RangeActions   *setpoint.Result
	NetworkActions []*crac.DiscreteAction
}

// Function is the objective function consumed by leaves and the iterating
// linear optimizer.
type Function interface {
	Evaluate(flows *sensitivity.Result, activation Activation) *Result
}

// VirtualCostEvaluator computes one named penalty.
//
// Evaluate returns the cost and the elements responsible for it, most
// costly first.
type VirtualCostEvaluator interface {
	Name() string
	Evaluate(flows *sensitivity.Result, activation Activation) (float64, []*crac.FlowCnec)
}

// Result is the evaluated cost of one state.
//
// Thread Safety:
//
//	Immutable once returned.
type Result struct {
	functionalCost float64
	virtualCosts   map[string]float64
	mostLimiting   []*crac.FlowCnec
	costly         map[string][]*crac.FlowCnec
}

// NewResult builds a result. It is exported for collaborators and tests
// that need a fixed cost without running an evaluation.
func NewResult(functional float64, virtual map[string]float64, mostLimiting []*crac.FlowCnec, costly map[string][]*crac.FlowCnec) *Result {
	r := &Result{
		functionalCost: functional,
		virtualCosts:   make(map[string]float64, len(virtual)),
		mostLimiting:   append([]*crac.FlowCnec(nil), mostLimiting...),
		costly:         make(map[string][]*crac.FlowCnec, len(costly)),
	}
	for k, v := range virtual {
		r.virtualCosts[k] = v
	}
	for k, v := range costly {
		r.costly[k] = append([]*crac.FlowCnec(nil), v...)
	}
	return r
}

// FunctionalCost returns the functional part of the cost.
func (r *Result) FunctionalCost() float64 { return r.functionalCost }

// VirtualCost returns the sum of every virtual cost.
func (r *Result) VirtualCost() float64 {
	total := 0.0
	for _, name := range r.VirtualCostNames() {
		total += r.virtualCosts[name]
	}
	return total
}

// VirtualCostOf returns one named virtual cost, zero when unknown.
func (r *Result) VirtualCostOf(name string) float64 { return r.virtualCosts[name] }

// Cost returns functional plus virtual cost.
func (r *Result) Cost() float64 { return r.functionalCost + r.VirtualCost() }

// VirtualCostNames returns the evaluated virtual-cost names, sorted.
func (r *Result) VirtualCostNames() []string {
	names := make([]string, 0, len(r.virtualCosts))
	for n := range r.virtualCosts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VirtualCostDetails returns every strictly positive virtual cost.
func (r *Result) VirtualCostDetails() map[string]float64 {
	out := make(map[string]float64)
	for n, v := range r.virtualCosts {
		if v > 1e-6 {
			out[n] = v
		}
	}
	return out
}

// MostLimitingElements returns up to n elements, most limiting first.
func (r *Result) MostLimitingElements(n int) []*crac.FlowCnec {
	return head(r.mostLimiting, n)
}

// CostlyElements returns up to n elements responsible for a virtual cost.
func (r *Result) CostlyElements(name string, n int) []*crac.FlowCnec {
	return head(r.costly[name], n)
}

// String renders the cost breakdown.
func (r *Result) String() string {
	return fmt.Sprintf("cost %.2f (functional %.2f, virtual %.2f)", r.Cost(), r.functionalCost, r.VirtualCost())
}

func head(cs []*crac.FlowCnec, n int) []*crac.FlowCnec {
	if n < 0 || n > len(cs) {
		n = len(cs)
	}
	return append([]*crac.FlowCnec(nil), cs[:n]...)
}
