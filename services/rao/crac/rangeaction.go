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
	"sort"
)

// RangeActionKind identifies the physical control behind a range action.
type RangeActionKind string

const (
	KindPST       RangeActionKind = "PST"
	KindHVDC      RangeActionKind = "HVDC"
	KindInjection RangeActionKind = "INJECTION"
)

// RangeType tells how a Range bound is interpreted.
type RangeType string

const (
	// RangeAbsolute bounds the setpoint itself.
	RangeAbsolute RangeType = "ABSOLUTE"

	// RangeRelativeToInitial bounds the setpoint relative to the
	// pre-perimeter setpoint.
	RangeRelativeToInitial RangeType = "RELATIVE_TO_INITIAL"

	// RangeRelativeToPrevious bounds the setpoint relative to the setpoint
	// of the previous instant. Within one perimeter it behaves like
	// RangeRelativeToInitial.
	RangeRelativeToPrevious RangeType = "RELATIVE_TO_PREVIOUS"
)

// Range is one admissible interval of a range action.
//
// For PSTs the bounds are taps; for other kinds they are setpoints.
type Range struct {
	Type RangeType `yaml:"type" json:"type"`
	Min  float64   `yaml:"min" json:"min"`
	Max  float64   `yaml:"max" json:"max"`
}

// TapStep maps a PST tap to its angle in degrees.
type TapStep struct {
	Tap   int     `yaml:"tap" json:"tap"`
	Angle float64 `yaml:"angle" json:"angle"`
}

// RangeAction is a continuous (or tap-stepped) control.
//
// Description:
//
//	The setpoint of a PST is its angle in degrees; Taps maps taps to angles
//	and the search rounds optimized angles back to taps. HVDC and injection
//	setpoints are MW values. Range actions sharing a GroupID must end up on
//	the same setpoint.
//
// Thread Safety:
//
//	Immutable after catalog load.
type RangeAction struct {
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name" json:"name"`
	Operator       string          `yaml:"operator" json:"operator"`
	Kind           RangeActionKind `yaml:"kind" json:"kind"`
	NetworkElement string          `yaml:"element" json:"element"`
	Ranges         []Range         `yaml:"ranges" json:"ranges"`
	GroupID        string          `yaml:"group,omitempty" json:"group,omitempty"`
	VariationCost  float64         `yaml:"variation_cost" json:"variation_cost"`
	Taps           []TapStep       `yaml:"taps,omitempty" json:"taps,omitempty"`
}

// IsPST reports whether the action is a phase-shifter.
func (r *RangeAction) IsPST() bool {
	return r.Kind == KindPST
}

// TapBounds returns the smallest and largest tap of a PST.
func (r *RangeAction) TapBounds() (int, int) {
	if len(r.Taps) == 0 {
		return 0, 0
	}
	return r.Taps[0].Tap, r.Taps[len(r.Taps)-1].Tap
}

// ConvertTapToAngle returns the angle of tap, clamped to the tap table.
func (r *RangeAction) ConvertTapToAngle(tap int) float64 {
	if len(r.Taps) == 0 {
		return float64(tap)
	}
	i := sort.Search(len(r.Taps), func(i int) bool { return r.Taps[i].Tap >= tap })
	if i >= len(r.Taps) {
		return r.Taps[len(r.Taps)-1].Angle
	}
	return r.Taps[i].Angle
}

// ConvertAngleToTap returns the tap whose angle is closest to angle.
// Ties go to the lower tap.
func (r *RangeAction) ConvertAngleToTap(angle float64) int {
	if len(r.Taps) == 0 {
		return int(math.Round(angle))
	}
	best := r.Taps[0]
	for _, step := range r.Taps[1:] {
		if math.Abs(step.Angle-angle) < math.Abs(best.Angle-angle)-1e-9 {
			best = step
		}
	}
	return best.Tap
}

// SmallestAngleStep returns the smallest absolute angle difference between
// two consecutive taps. Zero when there is at most one tap.
func (r *RangeAction) SmallestAngleStep() float64 {
	step := math.Inf(1)
	for i := 1; i < len(r.Taps); i++ {
		if d := math.Abs(r.Taps[i].Angle - r.Taps[i-1].Angle); d < step {
			step = d
		}
	}
	if math.IsInf(step, 1) {
		return 0
	}
	return step
}

// AdmissibleBounds intersects every range of the action.
//
// Inputs:
//
//	initial - Pre-perimeter setpoint, used by relative ranges.
//	previous - Setpoint of the previous instant.
//
// Outputs:
//
//	float64, float64 - Min and max setpoint. For PSTs the tap ranges are
//	converted to angles, so min may come from the higher tap when angles
//	decrease with taps.
func (r *RangeAction) AdmissibleBounds(initial, previous float64) (float64, float64) {
	if r.IsPST() {
		return r.admissibleAngleBounds(initial, previous)
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	for _, rg := range r.Ranges {
		var from, to float64
		switch rg.Type {
		case RangeRelativeToInitial:
			from, to = initial+rg.Min, initial+rg.Max
		case RangeRelativeToPrevious:
			from, to = previous+rg.Min, previous+rg.Max
		default:
			from, to = rg.Min, rg.Max
		}
		lo = math.Max(lo, from)
		hi = math.Min(hi, to)
	}
	return lo, hi
}

// AdmissibleTaps intersects every range of a PST in tap space.
func (r *RangeAction) AdmissibleTaps(initialTap, previousTap int) (int, int) {
	lo, hi := r.TapBounds()
	for _, rg := range r.Ranges {
		var from, to int
		switch rg.Type {
		case RangeRelativeToInitial:
			from, to = initialTap+int(rg.Min), initialTap+int(rg.Max)
		case RangeRelativeToPrevious:
			from, to = previousTap+int(rg.Min), previousTap+int(rg.Max)
		default:
			from, to = int(rg.Min), int(rg.Max)
		}
		if from > lo {
			lo = from
		}
		if to < hi {
			hi = to
		}
	}
	return lo, hi
}

func (r *RangeAction) admissibleAngleBounds(initial, previous float64) (float64, float64) {
	lo, hi := r.AdmissibleTaps(r.ConvertAngleToTap(initial), r.ConvertAngleToTap(previous))
	if lo > hi {
		return math.Inf(1), math.Inf(-1)
	}
	a, b := r.ConvertTapToAngle(lo), r.ConvertTapToAngle(hi)
	return math.Min(a, b), math.Max(a, b)
}
