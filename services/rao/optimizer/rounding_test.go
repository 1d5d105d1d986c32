// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// Taps -2..2 map to angles -4..4 in steps of 2 degrees.
func newPst(id, group string) *crac.RangeAction {
	taps := make([]crac.TapStep, 0, 5)
	for tap := -2; tap <= 2; tap++ {
		taps = append(taps, crac.TapStep{Tap: tap, Angle: 2 * float64(tap)})
	}
	return &crac.RangeAction{
		ID:             id,
		Kind:           crac.KindPST,
		NetworkElement: id + "_element",
		GroupID:        group,
		Taps:           taps,
	}
}

// bestAt builds a best iteration where line carries 60 MW against a 50 MW
// limit and each degree on sensitive moves 10 MW off the line.
func bestAt(cnec *crac.FlowCnec, all []*crac.RangeAction, sensitive ...*crac.RangeAction) *Result {
	sens := map[string]float64{}
	for _, ra := range sensitive {
		sens[ra.ID] = -10
	}
	flows := &sensitivity.Result{
		Status:        sensitivity.StatusSuccess,
		Flows:         map[string]float64{cnec.ID: 60},
		Sensitivities: map[string]map[string]float64{cnec.ID: sens},
	}
	return &Result{
		Setpoints: setpoint.FromValues(all, nil),
		Flows:     flows,
		Objective: objective.NewResult(10, nil, []*crac.FlowCnec{cnec}, nil),
	}
}

func TestRound(t *testing.T) {
	cnec := &crac.FlowCnec{ID: "line", Max: ptr(50), Optimized: true}
	params := DefaultParameters()

	t.Run("closest tap outside hesitation zone", func(t *testing.T) {
		pst := newPst("pst", "")
		all := []*crac.RangeAction{pst}
		raw := setpoint.FromValues(all, nil)
		raw.Put(pst, 0.5)

		out := round(raw, bestAt(cnec, all, pst), params)
		assert.Equal(t, 0.0, out.Setpoint(pst))
	})

	t.Run("farther tap wins when it improves margin", func(t *testing.T) {
		pst := newPst("pst", "")
		all := []*crac.RangeAction{pst}
		raw := setpoint.FromValues(all, nil)
		raw.Put(pst, 0.9)

		out := round(raw, bestAt(cnec, all, pst), params)
		assert.Equal(t, 2.0, out.Setpoint(pst))
		assert.Equal(t, 1, out.Tap(pst))
	})

	t.Run("farther tap without margin gain keeps closest", func(t *testing.T) {
		pst := newPst("pst", "")
		all := []*crac.RangeAction{pst}
		raw := setpoint.FromValues(all, nil)
		raw.Put(pst, 0.9)

		out := round(raw, bestAt(cnec, all), params)
		assert.Equal(t, 0.0, out.Setpoint(pst))
	})

	t.Run("group shares one tap", func(t *testing.T) {
		a, b := newPst("a", "g"), newPst("b", "g")
		all := []*crac.RangeAction{a, b}
		raw := setpoint.FromValues(all, nil)
		raw.Put(a, 0.9)
		raw.Put(b, 0.2)

		out := round(raw, bestAt(cnec, all, a), params)
		assert.Equal(t, out.Tap(a), out.Tap(b))
		assert.Equal(t, 1, out.Tap(a))
	})

	t.Run("approximated integers snap to closest tap", func(t *testing.T) {
		pst := newPst("pst", "")
		all := []*crac.RangeAction{pst}
		raw := setpoint.FromValues(all, nil)
		raw.Put(pst, 2.9)
		p := params
		p.PstModel = PstApproximatedIntegers

		out := round(raw, bestAt(cnec, all, pst), p)
		assert.Equal(t, 2.0, out.Setpoint(pst))
	})

	t.Run("other range actions round to unit", func(t *testing.T) {
		hvdc := &crac.RangeAction{ID: "hvdc", Kind: crac.KindHVDC, NetworkElement: "h"}
		all := []*crac.RangeAction{hvdc}
		raw := setpoint.FromValues(all, nil)
		raw.Put(hvdc, 79.6)

		out := round(raw, bestAt(cnec, all), params)
		assert.Equal(t, 80.0, out.Setpoint(hvdc))
	})
}

func TestArgmaxTap_TiesGoToLowerTap(t *testing.T) {
	assert.Equal(t, -1, argmaxTap(map[int]float64{3: 1, -1: 1, 0: 0.5}))
	assert.Equal(t, 2, argmaxTap(map[int]float64{2: math.MaxFloat64}))
}
