// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crac

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

func ptr(v float64) *float64 { return &v }

func topo(id, operator string, elements ...string) *DiscreteAction {
	na := &DiscreteAction{ID: id, Operator: operator}
	for _, e := range elements {
		na.ElementaryActions = append(na.ElementaryActions, ElementaryAction{Kind: KindTopology, ElementID: e})
	}
	return na
}

// pst has taps -2..2 with decreasing angles, 1.5° apart.
func pst(id string, ranges ...Range) *RangeAction {
	return &RangeAction{
		ID:     id,
		Kind:   KindPST,
		Ranges: ranges,
		Taps: []TapStep{
			{Tap: -2, Angle: 3}, {Tap: -1, Angle: 1.5}, {Tap: 0, Angle: 0}, {Tap: 1, Angle: -1.5}, {Tap: 2, Angle: -3},
		},
	}
}

// =============================================================================
// Discrete actions
// =============================================================================

func TestDiscreteAction_Apply(t *testing.T) {
	s := network.NewSnapshot(map[string]float64{"line_a": 1, "line_b": 1})
	na := topo("open", "FR", "line_a", "line_b")

	require.NoError(t, na.CanApply(s))
	assert.False(t, na.IsNoOp(s))
	require.NoError(t, na.Apply(s))

	v, _ := s.Value("line_b")
	assert.Equal(t, 0.0, v)
	assert.True(t, na.IsNoOp(s))
	assert.Equal(t, 2, na.ElementaryActionCount())
}

func TestDiscreteAction_ApplyMissingElement(t *testing.T) {
	s := network.NewSnapshot(map[string]float64{"line_a": 1})
	na := topo("open", "FR", "line_a", "line_z")

	err := na.Apply(s)
	assert.ErrorIs(t, err, ErrActionNotApplicable)
	assert.Contains(t, err.Error(), "line_z")
	v, _ := s.Value("line_a")
	assert.Equal(t, 1.0, v, "nothing is written when an element is missing")
	assert.False(t, na.IsNoOp(s))
}

func TestDiscreteAction_ConflictsWith(t *testing.T) {
	open := topo("open", "FR", "line_a")
	closeA := &DiscreteAction{ID: "close", ElementaryActions: []ElementaryAction{{Kind: KindTopology, ElementID: "line_a", Value: 1}}}
	openAgain := topo("open2", "BE", "line_a")
	other := topo("other", "BE", "line_b")

	assert.True(t, open.ConflictsWith(closeA))
	assert.True(t, closeA.ConflictsWith(open))
	assert.False(t, open.ConflictsWith(openAgain), "same target value is not a conflict")
	assert.False(t, open.ConflictsWith(other))
}

func TestDiscreteAction_DisplayNameAndLocation(t *testing.T) {
	na := topo("open", "FR", "line_a")
	assert.Equal(t, "open", na.DisplayName())
	assert.True(t, na.HasUnknownLocation())

	na.Name = "Open line A"
	na.Locations = []network.Country{"FR"}
	assert.Equal(t, "Open line A", na.DisplayName())
	assert.False(t, na.HasUnknownLocation())

	na.Locations = append(na.Locations, "")
	assert.True(t, na.HasUnknownLocation())
}

// =============================================================================
// Cnecs
// =============================================================================

func TestFlowCnec_Margins(t *testing.T) {
	c := &FlowCnec{ID: "c1", Min: ptr(-100), Max: ptr(100), NominalVoltageKV: 400, PtdfZonalSum: 0.5}

	assert.Equal(t, 10.0, c.MarginMW(90))
	assert.Equal(t, 30.0, c.MarginMW(-70))
	assert.Equal(t, -20.0, c.MarginMW(120))

	factor := 1000 / (math.Sqrt(3) * 400)
	assert.InDelta(t, 10*factor, c.Margin(90, UnitAmpere), 1e-9)
	assert.Equal(t, 10.0, c.Margin(90, UnitMegawatt))

	assert.Equal(t, 20.0, c.RelativeMargin(90, UnitMegawatt))
	assert.Equal(t, -20.0, c.RelativeMargin(120, UnitMegawatt), "overloads are not divided")
}

func TestFlowCnec_MissingThresholds(t *testing.T) {
	c := &FlowCnec{ID: "c1", Max: ptr(50)}

	assert.True(t, math.IsInf(c.LowerBound(), -1))
	assert.Equal(t, 50.0, c.UpperBound())
	assert.Equal(t, 60.0, c.MarginMW(-10))
	assert.Equal(t, 1.0, c.UnitFactor(UnitAmpere), "no voltage falls back to MW")
	assert.Equal(t, minPtdfZonalSum, c.RelativeDenominator())
	assert.True(t, c.HasUnknownLocation())
}

// =============================================================================
// Range actions
// =============================================================================

func TestRangeAction_TapConversions(t *testing.T) {
	ra := pst("pst")

	lo, hi := ra.TapBounds()
	assert.Equal(t, -2, lo)
	assert.Equal(t, 2, hi)

	assert.Equal(t, -1.5, ra.ConvertTapToAngle(1))
	assert.Equal(t, -3.0, ra.ConvertTapToAngle(7), "taps past the table clamp")
	assert.Equal(t, 3.0, ra.ConvertTapToAngle(-7))

	assert.Equal(t, 1, ra.ConvertAngleToTap(-1.2))
	assert.Equal(t, -1, ra.ConvertAngleToTap(0.75), "ties go to the lower tap")
	assert.Equal(t, 2, ra.ConvertAngleToTap(-10))
	assert.Equal(t, 1.5, ra.SmallestAngleStep())
}

func TestRangeAction_AdmissibleBounds(t *testing.T) {
	hvdc := &RangeAction{
		ID:   "hvdc",
		Kind: KindHVDC,
		Ranges: []Range{
			{Type: RangeAbsolute, Min: -500, Max: 500},
			{Type: RangeRelativeToInitial, Min: -100, Max: 100},
		},
	}
	lo, hi := hvdc.AdmissibleBounds(450, 0)
	assert.Equal(t, 350.0, lo)
	assert.Equal(t, 500.0, hi)

	free := &RangeAction{ID: "free", Kind: KindInjection}
	lo, hi = free.AdmissibleBounds(0, 0)
	assert.True(t, math.IsInf(lo, -1))
	assert.True(t, math.IsInf(hi, 1))
}

func TestRangeAction_AdmissiblePstBounds(t *testing.T) {
	ra := pst("pst", Range{Type: RangeRelativeToInitial, Min: -1, Max: 1})

	lo, hi := ra.AdmissibleTaps(2, 2)
	assert.Equal(t, 1, lo)
	assert.Equal(t, 2, hi)

	// Initial angle 0 is tap 0, so taps -1..1 are allowed; angles decrease
	// with taps.
	angleLo, angleHi := ra.AdmissibleBounds(0, 0)
	assert.Equal(t, -1.5, angleLo)
	assert.Equal(t, 1.5, angleHi)

	empty := pst("empty", Range{Type: RangeAbsolute, Min: 3, Max: 4})
	angleLo, angleHi = empty.AdmissibleBounds(0, 0)
	assert.Greater(t, angleLo, angleHi, "no admissible tap")
}

// =============================================================================
// Catalog
// =============================================================================

func TestNewCatalog(t *testing.T) {
	b := topo("b", "BE", "line_b")
	a := topo("a", "FR", "line_a")
	a.UsageRule = &UsageRule{CnecID: "c2"}
	ra := pst("pst")
	ra.Taps[0], ra.Taps[4] = ra.Taps[4], ra.Taps[0]
	c1 := &FlowCnec{ID: "c1", Optimized: true}
	c2 := &FlowCnec{ID: "c2", Monitored: true}

	catalog, err := NewCatalog([]*DiscreteAction{b, a}, []*RangeAction{ra}, []*FlowCnec{c2, c1})
	require.NoError(t, err)

	assert.Equal(t, []*DiscreteAction{a, b}, catalog.NetworkActions())
	assert.Equal(t, []*FlowCnec{c1, c2}, catalog.Cnecs())
	assert.Equal(t, []*FlowCnec{c1}, catalog.OptimizedCnecs())
	got, ok := catalog.NetworkAction("b")
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = catalog.Cnec("c3")
	assert.False(t, ok)
	gotRa, ok := catalog.RangeAction("pst")
	require.True(t, ok)
	assert.Equal(t, -2, gotRa.Taps[0].Tap, "tap tables are sorted")
}

func TestNewCatalog_Invalid(t *testing.T) {
	withRule := topo("a", "FR", "line_a")
	withRule.UsageRule = &UsageRule{CnecID: "missing"}

	tests := []struct {
		name  string
		nas   []*DiscreteAction
		ras   []*RangeAction
		cnecs []*FlowCnec
	}{
		{"network action without id", []*DiscreteAction{topo("", "FR", "l")}, nil, nil},
		{"duplicate network action", []*DiscreteAction{topo("a", "FR", "l"), topo("a", "BE", "m")}, nil, nil},
		{"no elementary action", []*DiscreteAction{{ID: "a"}}, nil, nil},
		{"duplicate range action", nil, []*RangeAction{pst("p"), pst("p")}, nil},
		{"pst without taps", nil, []*RangeAction{{ID: "p", Kind: KindPST}}, nil},
		{"nil cnec", nil, nil, []*FlowCnec{nil}},
		{"duplicate cnec", nil, nil, []*FlowCnec{{ID: "c"}, {ID: "c"}}},
		{"usage rule on unknown cnec", []*DiscreteAction{withRule}, nil, []*FlowCnec{{ID: "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.nas, tt.ras, tt.cnecs)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}
