// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crac holds the remedial-action and monitored-element catalog
// consumed by the search tree.
//
// Everything in this package is created once by the catalog loader and is
// read-only afterwards. Values are shared between search workers without
// locking, so no method here mutates its receiver.
package crac

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrActionNotApplicable is returned when a discrete action targets an
	// element that does not exist in the network state.
	ErrActionNotApplicable = errors.New("network action could not be applied")

	// ErrInvalidCatalog is returned by NewCatalog.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// =============================================================================
// Elementary actions
// =============================================================================

// ElementaryActionKind identifies what an elementary action changes.
type ElementaryActionKind string

const (
	// KindTopology opens (0) or closes (1) a branch.
	KindTopology ElementaryActionKind = "TOPOLOGY"

	// KindSwitchPair swaps a pair of switches (0 or 1).
	KindSwitchPair ElementaryActionKind = "SWITCH_PAIR"

	// KindPstSetpoint sets a phase-shifter to a fixed tap.
	KindPstSetpoint ElementaryActionKind = "PST_SETPOINT"

	// KindInjectionSetpoint sets a generator or load to a fixed MW value.
	KindInjectionSetpoint ElementaryActionKind = "INJECTION_SETPOINT"
)

// ElementaryAction is one atomic change on one network element.
type ElementaryAction struct {
	Kind      ElementaryActionKind `yaml:"kind" json:"kind"`
	ElementID string               `yaml:"element" json:"element"`
	Value     float64              `yaml:"value" json:"value"`
}

// =============================================================================
// Discrete (network) actions
// =============================================================================

// UsageRule restricts a discrete action to situations where a monitored
// element is constrained.
//
// The action is usable when the margin of CnecID on the reference result is
// strictly below MarginThreshold. When Condition is set it replaces the
// threshold test and is evaluated as a boolean expression over margin, flow,
// lower, upper and cost.
type UsageRule struct {
	CnecID          string  `yaml:"cnec" json:"cnec"`
	MarginThreshold float64 `yaml:"margin_threshold" json:"margin_threshold"`
	Condition       string  `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// DiscreteAction is a topological or fixed-setpoint remedial action.
//
// Description:
//
//	A discrete action bundles one or more elementary actions owned by one
//	operator. It is activated as a whole by the search tree; the search never
//	activates a subset of its elementary actions.
//
// Thread Safety:
//
//	Immutable after catalog load. Safe for concurrent reads.
type DiscreteAction struct {
	ID                string             `yaml:"id" json:"id"`
	Name              string             `yaml:"name" json:"name"`
	Operator          string             `yaml:"operator" json:"operator"`
	ElementaryActions []ElementaryAction `yaml:"elementary_actions" json:"elementary_actions"`
	Locations         []network.Country  `yaml:"locations" json:"locations"`
	ActivationCost    float64            `yaml:"activation_cost" json:"activation_cost"`
	UsageRule         *UsageRule         `yaml:"usage_rule,omitempty" json:"usage_rule,omitempty"`
}

// DisplayName returns Name, or ID when no name was given.
func (a *DiscreteAction) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// ElementaryActionCount returns the number of elementary actions.
func (a *DiscreteAction) ElementaryActionCount() int {
	return len(a.ElementaryActions)
}

// CanApply checks that every element targeted by the action exists.
//
// Outputs:
//
//	error - Wraps ErrActionNotApplicable naming the first missing element.
func (a *DiscreteAction) CanApply(s *network.Snapshot) error {
	for _, ea := range a.ElementaryActions {
		if _, ok := s.Value(ea.ElementID); !ok {
			return fmt.Errorf("%w: %s targets unknown element %s", ErrActionNotApplicable, a.ID, ea.ElementID)
		}
	}
	return nil
}

// Apply writes every elementary action target value into the snapshot.
//
// The snapshot is left untouched when any element is missing.
func (a *DiscreteAction) Apply(s *network.Snapshot) error {
	if err := a.CanApply(s); err != nil {
		return err
	}
	for _, ea := range a.ElementaryActions {
		if err := s.Set(ea.ElementID, ea.Value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrActionNotApplicable, a.ID, err)
		}
	}
	return nil
}

// IsNoOp reports whether every elementary action is already at its target
// value in s. Missing elements are not no-ops.
func (a *DiscreteAction) IsNoOp(s *network.Snapshot) bool {
	for _, ea := range a.ElementaryActions {
		v, ok := s.Value(ea.ElementID)
		if !ok || math.Abs(v-ea.Value) > 1e-9 {
			return false
		}
	}
	return true
}

// ConflictsWith reports whether both actions drive the same element to
// different values.
func (a *DiscreteAction) ConflictsWith(other *DiscreteAction) bool {
	for _, mine := range a.ElementaryActions {
		for _, theirs := range other.ElementaryActions {
			if mine.ElementID == theirs.ElementID && math.Abs(mine.Value-theirs.Value) > 1e-9 {
				return true
			}
		}
	}
	return false
}

// HasUnknownLocation reports whether the action location is unknown, in
// which case distance-based filtering must keep it.
func (a *DiscreteAction) HasUnknownLocation() bool {
	if len(a.Locations) == 0 {
		return true
	}
	for _, c := range a.Locations {
		if c == "" {
			return true
		}
	}
	return false
}
