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
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/linearproblem"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
)

// PstModel selects how PST taps are represented in the linear problem.
type PstModel string

const (
	// PstContinuous optimizes angles and rounds them to taps afterwards.
	PstContinuous PstModel = "CONTINUOUS"

	// PstApproximatedIntegers optimizes integer tap variations.
	PstApproximatedIntegers PstModel = "APPROXIMATED_INTEGERS"
)

// parametersValidate checks struct tags of Parameters.
var parametersValidate = validator.New()

// Parameters configures the iterating linear optimizer.
//
// # Fields
//
//   - MaxIterations: Sensitivity iterations after iteration 0. Zero returns
//     the pre-optimization state.
//   - PstModel: CONTINUOUS or APPROXIMATED_INTEGERS.
//   - RangeShrinking: Narrow ranges around the last setpoint instead of
//     stopping when an iteration does not improve.
//   - Objective, Unit: Functional cost and margin unit.
//   - PenaltyCosts: Objective cost per unit of range-action variation.
//   - SensitivityThresholds: Sensitivities below these are ignored.
//   - Mnec*: Acceptable MNEC diminution (MW) and its violation cost.
//   - MinMarginPenalty: Overload cost in MIN_COST mode.
type Parameters struct {
	MaxIterations            int                          `yaml:"max_iterations" json:"max_iterations" validate:"gte=0,lte=1000"`
	PstModel                 PstModel                     `yaml:"pst_model" json:"pst_model" validate:"oneof=CONTINUOUS APPROXIMATED_INTEGERS"`
	RangeShrinking           bool                         `yaml:"range_shrinking" json:"range_shrinking"`
	Objective                objective.Type               `yaml:"objective" json:"objective" validate:"oneof=MAX_MIN_MARGIN MAX_MIN_RELATIVE_MARGIN MIN_COST"`
	Unit                     crac.Unit                    `yaml:"unit" json:"unit" validate:"oneof=MW A"`
	PenaltyCosts             linearproblem.KindParameters `yaml:"penalty_costs" json:"penalty_costs"`
	SensitivityThresholds    linearproblem.KindParameters `yaml:"sensitivity_thresholds" json:"sensitivity_thresholds"`
	MnecAcceptableDiminution float64                      `yaml:"mnec_acceptable_diminution" json:"mnec_acceptable_diminution" validate:"gte=0"`
	MnecViolationCost        float64                      `yaml:"mnec_violation_cost" json:"mnec_violation_cost" validate:"gte=0"`
	MinMarginPenalty         float64                      `yaml:"min_margin_penalty" json:"min_margin_penalty" validate:"gte=0"`
}

// DefaultParameters returns production defaults.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIterations: 10,
		PstModel:      PstContinuous,
		Objective:     objective.MaxMinMargin,
		Unit:          crac.UnitMegawatt,
		PenaltyCosts: linearproblem.KindParameters{
			PST:       0.01,
			HVDC:      0.001,
			Injection: 0.001,
		},
		MnecAcceptableDiminution: 50,
		MnecViolationCost:        10,
		MinMarginPenalty:         1000,
	}
}

// Validate checks the parameters.
func (p Parameters) Validate() error {
	if err := parametersValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
