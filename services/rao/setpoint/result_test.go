// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package setpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

func fixtures() (*crac.RangeAction, *crac.RangeAction) {
	pst := &crac.RangeAction{
		ID:             "pst",
		Kind:           crac.KindPST,
		NetworkElement: "pst_el",
		Taps:           []crac.TapStep{{Tap: -1, Angle: -2}, {Tap: 0, Angle: 0}, {Tap: 1, Angle: 2}},
	}
	hvdc := &crac.RangeAction{ID: "hvdc", Kind: crac.KindHVDC, NetworkElement: "hvdc_el"}
	return pst, hvdc
}

func TestNewReference(t *testing.T) {
	pst, hvdc := fixtures()
	s := network.NewSnapshot(map[string]float64{"pst_el": 2, "hvdc_el": 300})

	r, err := NewReference([]*crac.RangeAction{pst, hvdc}, s)
	require.NoError(t, err)

	assert.Equal(t, []*crac.RangeAction{hvdc, pst}, r.RangeActions(), "sorted by ID")
	assert.Equal(t, 2.0, r.Setpoint(pst))
	assert.Equal(t, 1, r.Tap(pst))
	assert.Equal(t, 1, r.ReferenceTap(pst))
	assert.Equal(t, 300.0, r.Reference(hvdc))
	assert.Empty(t, r.Activated())
}

func TestNewReference_MissingElement(t *testing.T) {
	pst, _ := fixtures()
	_, err := NewReference([]*crac.RangeAction{pst}, network.NewSnapshot(nil))
	assert.ErrorIs(t, err, network.ErrUnknownElement)
}

func TestResult_Activation(t *testing.T) {
	pst, hvdc := fixtures()
	r := FromValues([]*crac.RangeAction{pst, hvdc}, map[string]float64{"hvdc": 100})

	r.Put(pst, ActivationTolerance/2)
	assert.False(t, r.IsActivated(pst), "moves within tolerance do not count")

	r.Put(pst, -2)
	r.Put(hvdc, 100)
	assert.True(t, r.IsActivated(pst))
	assert.False(t, r.IsActivated(hvdc))
	assert.Equal(t, []*crac.RangeAction{pst}, r.Activated())
	assert.Equal(t, -1, r.Tap(pst))
	assert.Equal(t, 0, r.ReferenceTap(pst))
	assert.Equal(t, map[string]float64{"pst": -2, "hvdc": 100}, r.Values())
}

func TestResult_CloneAndReset(t *testing.T) {
	pst, hvdc := fixtures()
	r := FromValues([]*crac.RangeAction{pst, hvdc}, nil)
	r.Put(hvdc, 50)

	clone := r.Clone()
	clone.Put(hvdc, 80)
	assert.Equal(t, 50.0, r.Setpoint(hvdc), "clones are independent")
	assert.True(t, clone.Changed(r))
	assert.False(t, r.Clone().Changed(r))

	reset := clone.Reset()
	assert.Equal(t, 0.0, reset.Setpoint(hvdc))
	assert.Empty(t, reset.Activated())
}

func TestResult_Apply(t *testing.T) {
	pst, hvdc := fixtures()
	s := network.NewSnapshot(map[string]float64{"pst_el": 0, "hvdc_el": 0})
	r := FromValues([]*crac.RangeAction{pst, hvdc}, nil)
	r.Put(pst, 2)
	r.Put(hvdc, 400)

	var m network.Mutation = r
	require.NoError(t, m.Apply(s))

	v, _ := s.Value("pst_el")
	assert.Equal(t, 2.0, v)
	v, _ = s.Value("hvdc_el")
	assert.Equal(t, 400.0, v)

	err := r.Apply(network.NewSnapshot(map[string]float64{"pst_el": 0}))
	assert.ErrorIs(t, err, network.ErrUnknownElement)
}
