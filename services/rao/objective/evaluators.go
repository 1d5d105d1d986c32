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

// Virtual cost names.
const (
	MnecCostName               = "mnec-cost"
	LoopFlowCostName           = "loop-flow-cost"
	SensitivityFailureCostName = "sensitivity-failure-cost"
)

// MnecEvaluator penalizes monitored elements whose margin degrades beyond
// an acceptable diminution relative to the initial state.
type MnecEvaluator struct {
	Mnecs                []*crac.FlowCnec
	Initial              *sensitivity.Result
	AcceptableDiminution float64
	ViolationCost        float64
}

// Name implements VirtualCostEvaluator.
func (e *MnecEvaluator) Name() string { return MnecCostName }

// Evaluate implements VirtualCostEvaluator. Margins are in MW.
func (e *MnecEvaluator) Evaluate(flows *sensitivity.Result, _ Activation) (float64, []*crac.FlowCnec) {
	if flows.IsFailure() {
		return 0, nil
	}
	initial := e.Initial
	if initial == nil {
		initial = flows
	}
	violations := make(map[string]float64)
	for _, m := range e.Mnecs {
		initialMargin := m.MarginMW(initial.Flow(m.ID))
		current := m.MarginMW(flows.Flow(m.ID))
		if v := math.Max(0, math.Min(0, initialMargin-e.AcceptableDiminution)-current); v > 1e-6 {
			violations[m.ID] = v
		}
	}
	return e.ViolationCost * sum(violations), byDecreasing(e.Mnecs, violations)
}

// LoopFlowEvaluator penalizes loop flows above their threshold, or above
// the initial loop flow plus an acceptable augmentation when that is larger.
type LoopFlowEvaluator struct {
	Cnecs                  []*crac.FlowCnec
	Initial                *sensitivity.Result
	AcceptableAugmentation float64
	ViolationCost          float64
}

// Name implements VirtualCostEvaluator.
func (e *LoopFlowEvaluator) Name() string { return LoopFlowCostName }

// Evaluate implements VirtualCostEvaluator.
func (e *LoopFlowEvaluator) Evaluate(flows *sensitivity.Result, _ Activation) (float64, []*crac.FlowCnec) {
	if flows.IsFailure() {
		return 0, nil
	}
	initial := e.Initial
	if initial == nil {
		initial = flows
	}
	excess := make(map[string]float64)
	var monitored []*crac.FlowCnec
	for _, c := range e.Cnecs {
		if c.LoopFlowThreshold == nil {
			continue
		}
		monitored = append(monitored, c)
		limit := math.Max(*c.LoopFlowThreshold, math.Abs(initial.LoopFlow(c.ID))+e.AcceptableAugmentation)
		if v := math.Abs(flows.LoopFlow(c.ID)) - limit; v > 1e-6 {
			excess[c.ID] = v
		}
	}
	return e.ViolationCost * sum(excess), byDecreasing(monitored, excess)
}

// SensitivityFailureEvaluator charges a fixed overcost when the flows come
// from a failed computation.
type SensitivityFailureEvaluator struct {
	Overcost float64
}

// Name implements VirtualCostEvaluator.
func (e *SensitivityFailureEvaluator) Name() string { return SensitivityFailureCostName }

// Evaluate implements VirtualCostEvaluator.
func (e *SensitivityFailureEvaluator) Evaluate(flows *sensitivity.Result, _ Activation) (float64, []*crac.FlowCnec) {
	if flows.IsFailure() {
		return e.Overcost, nil
	}
	return 0, nil
}

func sum(m map[string]float64) float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0.0
	for _, k := range keys {
		total += m[k]
	}
	return total
}

func byDecreasing(cnecs []*crac.FlowCnec, values map[string]float64) []*crac.FlowCnec {
	var out []*crac.FlowCnec
	for _, c := range cnecs {
		if _, ok := values[c.ID]; ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := values[out[i].ID], values[out[j].ID]
		if vi != vj {
			return vi > vj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
