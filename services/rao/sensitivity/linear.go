// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sensitivity

import (
	"context"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// LinearModel is a precomputed linear flow model around a reference state.
//
// Flow of cnec c in state x is
//
//	BaseFlows[c] + sum over elements e of Coefficients[c][e] * (x[e] - Reference[e])
//
// Coefficients cover both range-action elements (PTDF-like sensitivities)
// and topology elements (flow shift per unit of state change, LODF-like).
type LinearModel struct {
	Reference       map[string]float64            `yaml:"reference" json:"reference"`
	BaseFlows       map[string]float64            `yaml:"base_flows" json:"base_flows"`
	Coefficients    map[string]map[string]float64 `yaml:"coefficients" json:"coefficients"`
	CommercialShare map[string]float64            `yaml:"commercial_share,omitempty" json:"commercial_share,omitempty"`

	// FailWhen lists element states in which the computation diverges. A
	// state matches when every listed element has the given value.
	FailWhen []map[string]float64 `yaml:"fail_when,omitempty" json:"fail_when,omitempty"`
}

// LinearComputer evaluates a LinearModel.
//
// Thread Safety:
//
//	Safe for concurrent use. The model is never modified.
type LinearComputer struct {
	model        LinearModel
	cnecs        []*crac.FlowCnec
	rangeActions []*crac.RangeAction
}

// NewLinearComputer validates the model against the catalog.
//
// Outputs:
//
//	*LinearComputer - The computer.
//	error - When a cnec has no base flow.
func NewLinearComputer(model LinearModel, cnecs []*crac.FlowCnec, rangeActions []*crac.RangeAction) (*LinearComputer, error) {
	for _, c := range cnecs {
		if _, ok := model.BaseFlows[c.ID]; !ok {
			return nil, fmt.Errorf("linear model: no base flow for cnec %s", c.ID)
		}
	}
	return &LinearComputer{model: model, cnecs: cnecs, rangeActions: rangeActions}, nil
}

// Compute implements Computer.
func (l *LinearComputer) Compute(ctx context.Context, s *network.Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.diverges(s) {
		return Failed(), nil
	}

	res := &Result{
		Status:          StatusSuccess,
		Flows:           make(map[string]float64, len(l.cnecs)),
		Sensitivities:   make(map[string]map[string]float64, len(l.cnecs)),
		CommercialFlows: make(map[string]float64, len(l.model.CommercialShare)),
	}
	for _, c := range l.cnecs {
		base := l.model.BaseFlows[c.ID]
		flow := base
		for element, coef := range l.model.Coefficients[c.ID] {
			v, ok := s.Value(element)
			if !ok {
				return nil, fmt.Errorf("%w: %s", network.ErrUnknownElement, element)
			}
			flow += coef * (v - l.model.Reference[element])
		}
		res.Flows[c.ID] = flow

		sens := make(map[string]float64, len(l.rangeActions))
		for _, ra := range l.rangeActions {
			if coef, ok := l.model.Coefficients[c.ID][ra.NetworkElement]; ok {
				sens[ra.ID] = coef
			}
		}
		res.Sensitivities[c.ID] = sens

		if share, ok := l.model.CommercialShare[c.ID]; ok {
			res.CommercialFlows[c.ID] = share * base
		}
	}
	return res, nil
}

func (l *LinearComputer) diverges(s *network.Snapshot) bool {
	for _, state := range l.model.FailWhen {
		if len(state) == 0 {
			continue
		}
		match := true
		for element, want := range state {
			v, ok := s.Value(element)
			if !ok || math.Abs(v-want) > 1e-9 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
