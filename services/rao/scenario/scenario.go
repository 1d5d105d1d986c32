// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario loads a perimeter description from YAML and turns it
// into search tree inputs.
//
// A scenario holds everything the search needs besides its parameters: the
// initial network state, the remedial action and cnec catalog, the linear
// flow model used as sensitivity computer, country borders and operator
// combinations.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
)

// MaxScenarioFileSize bounds the size of a scenario file.
const MaxScenarioFileSize = 32 * 1024 * 1024

// ErrInvalidScenario is returned for unreadable or inconsistent scenarios.
var ErrInvalidScenario = errors.New("invalid scenario")

var scenarioValidate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("elementkind", validateElementKind)
	_ = v.RegisterValidation("rangekind", validateRangeKind)
	return v
}

// validateElementKind accepts the known elementary action kinds.
func validateElementKind(fl validator.FieldLevel) bool {
	switch crac.ElementaryActionKind(fl.Field().String()) {
	case crac.KindTopology, crac.KindSwitchPair, crac.KindPstSetpoint, crac.KindInjectionSetpoint:
		return true
	}
	return false
}

// validateRangeKind accepts the known range action kinds.
func validateRangeKind(fl validator.FieldLevel) bool {
	switch crac.RangeActionKind(fl.Field().String()) {
	case crac.KindPST, crac.KindHVDC, crac.KindInjection:
		return true
	}
	return false
}

// Scenario is the YAML description of one optimization perimeter.
//
// Example:
//
//	name: two-zone
//	network:
//	  line_fr_be: 1
//	  pst_fr: 0
//	borders:
//	  - {from: FR, to: BE}
//	network_actions:
//	  - id: open_fr_be
//	    operator: FR
//	    locations: [FR]
//	    elementary_actions:
//	      - {kind: TOPOLOGY, element: line_fr_be, value: 0}
//	cnecs:
//	  - {id: cnec_be, element: line_be, max: 100, optimized: true}
//	model:
//	  base_flows: {cnec_be: 120}
//	  coefficients:
//	    cnec_be: {line_fr_be: 30}
type Scenario struct {
	Name string `yaml:"name" json:"name"`

	// Network is the initial value of every network element.
	Network map[string]float64 `yaml:"network" json:"network" validate:"required,min=1"`

	Borders        []network.Border        `yaml:"borders,omitempty" json:"borders,omitempty"`
	NetworkActions []*crac.DiscreteAction  `yaml:"network_actions" json:"network_actions" validate:"dive,required"`
	RangeActions   []*crac.RangeAction     `yaml:"range_actions,omitempty" json:"range_actions,omitempty" validate:"dive,required"`
	Cnecs          []*crac.FlowCnec        `yaml:"cnecs" json:"cnecs" validate:"required,min=1,dive,required"`
	Model          sensitivity.LinearModel `yaml:"model" json:"model"`

	// Combinations are operator-supplied network action sets.
	Combinations []Combination `yaml:"combinations,omitempty" json:"combinations,omitempty" validate:"dive"`

	VirtualCosts VirtualCosts `yaml:"virtual_costs" json:"virtual_costs"`

	// CacheEntries bounds the sensitivity cache. Zero uses the default.
	CacheEntries int `yaml:"cache_entries" json:"cache_entries" validate:"gte=0"`
}

// Combination lists network action IDs.
type Combination struct {
	Actions []string `yaml:"actions" json:"actions" validate:"required,min=1,dive,required"`

	// DetectedDuringSearch marks a combination found useful by a previous
	// search.
	DetectedDuringSearch bool `yaml:"detected_during_search" json:"detected_during_search"`
}

// VirtualCosts enables the virtual cost evaluators.
type VirtualCosts struct {
	// LoopFlowViolationCost enables the loop-flow cost when positive.
	LoopFlowViolationCost      float64 `yaml:"loop_flow_violation_cost" json:"loop_flow_violation_cost" validate:"gte=0"`
	LoopFlowAcceptableIncrease float64 `yaml:"loop_flow_acceptable_increase" json:"loop_flow_acceptable_increase" validate:"gte=0"`
	SensitivityFailureOvercost float64 `yaml:"sensitivity_failure_overcost" json:"sensitivity_failure_overcost" validate:"gte=0"`
}

type elementaryAction struct {
	Kind      string `validate:"elementkind"`
	ElementID string `validate:"required"`
}

// Load reads and validates a scenario file.
//
// Outputs:
//
//	*Scenario - The parsed scenario.
//	error - Wraps ErrInvalidScenario on any parse or validation failure,
//	or the os error when the file cannot be read.
func Load(path string) (*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat scenario: %w", err)
	}
	if info.Size() > MaxScenarioFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrInvalidScenario, info.Size(), MaxScenarioFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling YAML: %v", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field rules and cross references. It does not build the
// catalog; Build reports catalog-level inconsistencies.
func (s *Scenario) Validate() error {
	if err := scenarioValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	for _, na := range s.NetworkActions {
		if len(na.ElementaryActions) == 0 {
			return fmt.Errorf("%w: network action %s has no elementary action", ErrInvalidScenario, na.ID)
		}
		for i, ea := range na.ElementaryActions {
			if err := scenarioValidate.Struct(elementaryAction{Kind: string(ea.Kind), ElementID: ea.ElementID}); err != nil {
				return fmt.Errorf("%w: network action %s elementary action %d: %v", ErrInvalidScenario, na.ID, i, err)
			}
			if _, ok := s.Network[ea.ElementID]; !ok {
				return fmt.Errorf("%w: network action %s targets unknown element %s", ErrInvalidScenario, na.ID, ea.ElementID)
			}
		}
	}
	for _, ra := range s.RangeActions {
		if err := scenarioValidate.Var(string(ra.Kind), "rangekind"); err != nil {
			return fmt.Errorf("%w: range action %s has unknown kind %q", ErrInvalidScenario, ra.ID, ra.Kind)
		}
		if _, ok := s.Network[ra.NetworkElement]; !ok {
			return fmt.Errorf("%w: range action %s targets unknown element %s", ErrInvalidScenario, ra.ID, ra.NetworkElement)
		}
	}
	known := make(map[string]bool, len(s.NetworkActions))
	for _, na := range s.NetworkActions {
		known[na.ID] = true
	}
	for i, c := range s.Combinations {
		for _, id := range c.Actions {
			if !known[id] {
				return fmt.Errorf("%w: combination %d references unknown network action %s", ErrInvalidScenario, i, id)
			}
		}
	}
	return nil
}
