// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package setpoint holds range-action activation results: one setpoint per
// range action, compared against the pre-perimeter reference to decide
// which actions are activated.
package setpoint

import (
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// ActivationTolerance is the setpoint difference under which a range action
// is considered unchanged.
const ActivationTolerance = 1e-6

// Result maps range actions to setpoints.
//
// Description:
//
//	A Result always covers the same range actions as its reference; actions
//	without an explicit setpoint report the reference value. PST setpoints
//	are angles, and Tap converts them back with the tap table.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Results handed to other components
//	are treated as read-only; Clone before modifying a shared one.
type Result struct {
	actions   []*crac.RangeAction
	reference map[string]float64
	setpoints map[string]float64
}

// NewReference reads the setpoint of every range action from a snapshot.
//
// Outputs:
//
//	*Result - A result whose setpoints equal its reference.
//	error - network.ErrUnknownElement when an action element is missing.
func NewReference(actions []*crac.RangeAction, s *network.Snapshot) (*Result, error) {
	ref := make(map[string]float64, len(actions))
	for _, ra := range actions {
		v, ok := s.Value(ra.NetworkElement)
		if !ok {
			return nil, fmt.Errorf("%w: %s (range action %s)", network.ErrUnknownElement, ra.NetworkElement, ra.ID)
		}
		ref[ra.ID] = v
	}
	return newResult(actions, ref), nil
}

// FromValues builds a reference result from explicit setpoints. Missing
// actions default to zero.
func FromValues(actions []*crac.RangeAction, values map[string]float64) *Result {
	ref := make(map[string]float64, len(actions))
	for _, ra := range actions {
		ref[ra.ID] = values[ra.ID]
	}
	return newResult(actions, ref)
}

func newResult(actions []*crac.RangeAction, ref map[string]float64) *Result {
	sorted := append([]*crac.RangeAction(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Result{
		actions:   sorted,
		reference: ref,
		setpoints: make(map[string]float64),
	}
}

// Reset returns a result with the same reference and no activation.
func (r *Result) Reset() *Result {
	return newResult(r.actions, r.reference)
}

// Clone returns an independent copy.
func (r *Result) Clone() *Result {
	c := newResult(r.actions, r.reference)
	for k, v := range r.setpoints {
		c.setpoints[k] = v
	}
	return c
}

// RangeActions returns the covered actions sorted by ID.
func (r *Result) RangeActions() []*crac.RangeAction {
	return append([]*crac.RangeAction(nil), r.actions...)
}

// Put records the setpoint of ra.
func (r *Result) Put(ra *crac.RangeAction, v float64) {
	r.setpoints[ra.ID] = v
}

// Setpoint returns the optimized setpoint of ra, or its reference.
func (r *Result) Setpoint(ra *crac.RangeAction) float64 {
	if v, ok := r.setpoints[ra.ID]; ok {
		return v
	}
	return r.reference[ra.ID]
}

// Reference returns the pre-perimeter setpoint of ra.
func (r *Result) Reference(ra *crac.RangeAction) float64 {
	return r.reference[ra.ID]
}

// Tap returns the tap of a PST setpoint.
func (r *Result) Tap(ra *crac.RangeAction) int {
	return ra.ConvertAngleToTap(r.Setpoint(ra))
}

// ReferenceTap returns the pre-perimeter tap of a PST.
func (r *Result) ReferenceTap(ra *crac.RangeAction) int {
	return ra.ConvertAngleToTap(r.Reference(ra))
}

// Activated returns the actions whose setpoint moved away from the
// reference, sorted by ID.
func (r *Result) Activated() []*crac.RangeAction {
	var out []*crac.RangeAction
	for _, ra := range r.actions {
		if math.Abs(r.Setpoint(ra)-r.reference[ra.ID]) > ActivationTolerance {
			out = append(out, ra)
		}
	}
	return out
}

// IsActivated reports whether ra moved away from its reference.
func (r *Result) IsActivated(ra *crac.RangeAction) bool {
	return math.Abs(r.Setpoint(ra)-r.reference[ra.ID]) > ActivationTolerance
}

// Apply writes every setpoint into the snapshot. It satisfies
// network.Mutation so a branch can start from these setpoints.
func (r *Result) Apply(s *network.Snapshot) error {
	for _, ra := range r.actions {
		if err := s.Set(ra.NetworkElement, r.Setpoint(ra)); err != nil {
			return fmt.Errorf("apply range action %s: %w", ra.ID, err)
		}
	}
	return nil
}

// Changed reports whether any setpoint differs from other by more than the
// activation tolerance.
func (r *Result) Changed(other *Result) bool {
	for _, ra := range r.actions {
		if math.Abs(r.Setpoint(ra)-other.Setpoint(ra)) >= ActivationTolerance {
			return true
		}
	}
	return false
}

// Values returns every setpoint keyed by range-action ID.
func (r *Result) Values() map[string]float64 {
	out := make(map[string]float64, len(r.actions))
	for _, ra := range r.actions {
		out[ra.ID] = r.Setpoint(ra)
	}
	return out
}
