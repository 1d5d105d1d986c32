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
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
)

// ErrInvalidUsageRule is returned for a rule naming an unknown element or
// carrying a condition that does not compile to a boolean.
var ErrInvalidUsageRule = errors.New("invalid usage rule")

// conditionEnv declares the variables a usage-rule condition may read.
var conditionEnv = map[string]any{
	"margin": 0.0,
	"flow":   0.0,
	"lower":  0.0,
	"upper":  0.0,
	"cost":   0.0,
}

type compiledRule struct {
	cnec    *crac.FlowCnec
	rule    *crac.UsageRule
	program *vm.Program
}

// OnFlowConstraint drops combinations whose actions are not available on
// the reference leaf.
//
// Description:
//
//	An action with a usage rule is available when the margin of the rule's
//	element on the reference leaf is strictly below the threshold, or when
//	the rule's condition evaluates to true. Actions without a rule are
//	always available. A combination is kept only when every action is.
//
// Thread Safety:
//
//	Safe for concurrent use once built; compiled programs are read-only.
type OnFlowConstraint struct {
	rules map[string]compiledRule
}

// NewOnFlowConstraint compiles the usage rules of actions.
//
// Inputs:
//
//	actions - Network actions, some with a UsageRule.
//	cnec - Looks up the element a rule refers to.
//
// Outputs:
//
//	*OnFlowConstraint - The filter.
//	error - ErrInvalidUsageRule for unknown elements or bad conditions.
func NewOnFlowConstraint(actions []*crac.DiscreteAction, cnec func(id string) (*crac.FlowCnec, bool)) (*OnFlowConstraint, error) {
	f := &OnFlowConstraint{rules: make(map[string]compiledRule)}
	for _, a := range actions {
		if a.UsageRule == nil {
			continue
		}
		c, ok := cnec(a.UsageRule.CnecID)
		if !ok {
			return nil, fmt.Errorf("%w: action %s refers to unknown cnec %q", ErrInvalidUsageRule, a.ID, a.UsageRule.CnecID)
		}
		cr := compiledRule{cnec: c, rule: a.UsageRule}
		if cond := strings.TrimSpace(a.UsageRule.Condition); cond != "" {
			program, err := expr.Compile(cond, expr.Env(conditionEnv), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("%w: action %s: %v", ErrInvalidUsageRule, a.ID, err)
			}
			cr.program = program
		}
		f.rules[a.ID] = cr
	}
	return f, nil
}

// Name implements Filter.
func (*OnFlowConstraint) Name() string { return "on_flow_constraint" }

// Filter implements Filter.
func (f *OnFlowConstraint) Filter(candidates []Candidate, leaf Leaf) []Candidate {
	if len(f.rules) == 0 {
		return candidates
	}
	available := make(map[string]bool)
	return keep(candidates, func(c Candidate) bool {
		for _, a := range c.Combination.Actions() {
			ok, seen := available[a.ID]
			if !seen {
				ok = f.isAvailable(a, leaf)
				available[a.ID] = ok
			}
			if !ok {
				return false
			}
		}
		return true
	})
}

func (f *OnFlowConstraint) isAvailable(a *crac.DiscreteAction, leaf Leaf) bool {
	cr, ok := f.rules[a.ID]
	if !ok {
		return true
	}
	margin := leaf.Margin(cr.cnec)
	if cr.program == nil {
		return margin < cr.rule.MarginThreshold
	}
	env := map[string]any{
		"margin": margin,
		"flow":   leaf.Flow(cr.cnec),
		"lower":  finite(cr.cnec.LowerBound()),
		"upper":  finite(cr.cnec.UpperBound()),
		"cost":   leaf.Cost(),
	}
	out, err := expr.Run(cr.program, env)
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

// finite maps infinite thresholds to the largest float so conditions can
// compare them.
func finite(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}
