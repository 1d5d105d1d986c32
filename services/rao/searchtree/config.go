// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package searchtree

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/optimizer"
)

// StopCriterion decides when a leaf is good enough to end the search.
type StopCriterion string

const (
	// MinObjective searches until no depth improves.
	MinObjective StopCriterion = "MIN_OBJECTIVE"

	// AtTargetObjectiveValue stops once a leaf costs less than the target.
	AtTargetObjectiveValue StopCriterion = "AT_TARGET_OBJECTIVE_VALUE"
)

var parametersValidate = validator.New()

// Parameters contains all search-tree configuration.
// This is the top-level struct loaded from files and environment.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Parameters struct {
	// Tree contains the depth loop settings.
	Tree TreeConfig `json:"tree" yaml:"tree"`

	// Limits caps the remedial actions a leaf may use.
	Limits LimitsConfig `json:"limits" yaml:"limits"`

	// Optimizer configures the iterating linear optimizer of every leaf.
	Optimizer optimizer.Parameters `json:"optimizer" yaml:"optimizer"`

	// Observability contains tracing and logging settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// TreeConfig contains the depth loop settings.
type TreeConfig struct {
	MaxDepth             int           `json:"max_depth" yaml:"max_depth" validate:"gte=0"`
	LeavesInParallel     int           `json:"leaves_in_parallel" yaml:"leaves_in_parallel" validate:"gte=1"`
	StopCriterion        StopCriterion `json:"stop_criterion" yaml:"stop_criterion" validate:"oneof=MIN_OBJECTIVE AT_TARGET_OBJECTIVE_VALUE"`
	TargetObjectiveValue float64       `json:"target_objective_value" yaml:"target_objective_value"`

	// A child replaces its parent only if it improves the cost by more than
	// AbsoluteMinImpact and by more than RelativeMinImpact of the parent
	// cost. Negative values count as zero.
	RelativeMinImpact float64 `json:"relative_min_impact" yaml:"relative_min_impact" validate:"lte=1"`
	AbsoluteMinImpact float64 `json:"absolute_min_impact" yaml:"absolute_min_impact"`

	// FilterFarElements keeps only actions within MaxBoundaries borders of
	// the most limiting elements.
	FilterFarElements bool `json:"filter_far_elements" yaml:"filter_far_elements"`
	MaxBoundaries     int  `json:"max_boundaries" yaml:"max_boundaries" validate:"gte=0"`
}

// LimitsConfig caps remedial-action usage. Nil or missing entries are not
// enforced.
type LimitsConfig struct {
	MaxRa                      *int           `json:"max_ra,omitempty" yaml:"max_ra,omitempty" validate:"omitempty,gte=0"`
	MaxTso                     *int           `json:"max_tso,omitempty" yaml:"max_tso,omitempty" validate:"omitempty,gte=0"`
	MaxTopoPerTso              map[string]int `json:"max_topo_per_tso,omitempty" yaml:"max_topo_per_tso,omitempty" validate:"omitempty,dive,gte=0"`
	MaxRaPerTso                map[string]int `json:"max_ra_per_tso,omitempty" yaml:"max_ra_per_tso,omitempty" validate:"omitempty,dive,gte=0"`
	MaxPstPerTso               map[string]int `json:"max_pst_per_tso,omitempty" yaml:"max_pst_per_tso,omitempty" validate:"omitempty,dive,gte=0"`
	MaxElementaryActionsPerTso map[string]int `json:"max_elementary_actions_per_tso,omitempty" yaml:"max_elementary_actions_per_tso,omitempty" validate:"omitempty,dive,gte=0"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`

	// LoggedElementsDuringTree is the number of most limiting elements
	// logged for each depth's best leaf, LoggedElementsEndTree for the
	// final one.
	LoggedElementsDuringTree int `json:"logged_elements_during_tree" yaml:"logged_elements_during_tree" validate:"gte=0"`
	LoggedElementsEndTree    int `json:"logged_elements_end_tree" yaml:"logged_elements_end_tree" validate:"gte=0"`
}

// DefaultParameters returns the default configuration.
//
// Outputs:
//   - Parameters: Default configuration with sensible values.
func DefaultParameters() Parameters {
	return Parameters{
		Tree: TreeConfig{
			MaxDepth:             2,
			LeavesInParallel:     1,
			StopCriterion:        MinObjective,
			TargetObjectiveValue: 0,
			RelativeMinImpact:    0,
			AbsoluteMinImpact:    0,
			MaxBoundaries:        2,
		},
		Optimizer: optimizer.DefaultParameters(),
		Observability: ObservabilityConfig{
			TracingEnabled:           false,
			LoggedElementsDuringTree: 2,
			LoggedElementsEndTree:    5,
		},
	}
}

// LoadParameters loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Parameters: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or if the merged
//     configuration does not validate.
func LoadParameters(configPath string) (Parameters, error) {
	params := DefaultParameters()

	if configPath != "" {
		if err := loadConfigFile(configPath, &params); err != nil {
			return params, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&params)

	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid config: %w", err)
	}
	return params, nil
}

func loadConfigFile(path string, params *Parameters) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, params); err != nil {
		if jsonErr := json.Unmarshal(data, params); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(params *Parameters) {
	// Tree
	if v := os.Getenv("RAO_MAX_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Tree.MaxDepth = i
		}
	}
	if v := os.Getenv("RAO_LEAVES_IN_PARALLEL"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Tree.LeavesInParallel = i
		}
	}
	if v := os.Getenv("RAO_STOP_CRITERION"); v != "" {
		params.Tree.StopCriterion = StopCriterion(v)
	}
	if v := os.Getenv("RAO_TARGET_OBJECTIVE_VALUE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params.Tree.TargetObjectiveValue = f
		}
	}
	if v := os.Getenv("RAO_RELATIVE_MIN_IMPACT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params.Tree.RelativeMinImpact = f
		}
	}
	if v := os.Getenv("RAO_ABSOLUTE_MIN_IMPACT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			params.Tree.AbsoluteMinImpact = f
		}
	}
	if v := os.Getenv("RAO_FILTER_FAR_ELEMENTS"); v != "" {
		params.Tree.FilterFarElements = v == "true" || v == "1"
	}

	// Limits
	if v := os.Getenv("RAO_MAX_RA"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Limits.MaxRa = &i
		}
	}
	if v := os.Getenv("RAO_MAX_TSO"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Limits.MaxTso = &i
		}
	}

	// Optimizer
	if v := os.Getenv("RAO_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			params.Optimizer.MaxIterations = i
		}
	}
	if v := os.Getenv("RAO_PST_MODEL"); v != "" {
		params.Optimizer.PstModel = optimizer.PstModel(v)
	}
	if v := os.Getenv("RAO_RANGE_SHRINKING"); v != "" {
		params.Optimizer.RangeShrinking = v == "true" || v == "1"
	}
	if v := os.Getenv("RAO_OBJECTIVE"); v != "" {
		params.Optimizer.Objective = objective.Type(v)
	}
	if v := os.Getenv("RAO_UNIT"); v != "" {
		params.Optimizer.Unit = crac.Unit(v)
	}

	// Observability
	if v := os.Getenv("RAO_TRACING_ENABLED"); v != "" {
		params.Observability.TracingEnabled = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is valid.
//
// Outputs:
//   - error: Wraps ErrInvalidInput if the configuration is invalid.
func (p Parameters) Validate() error {
	if err := parametersValidate.Struct(p.Tree); err != nil {
		return fmt.Errorf("%w: tree: %v", ErrInvalidInput, err)
	}
	if err := parametersValidate.Struct(p.Limits); err != nil {
		return fmt.Errorf("%w: limits: %v", ErrInvalidInput, err)
	}
	if err := parametersValidate.Struct(p.Observability); err != nil {
		return fmt.Errorf("%w: observability: %v", ErrInvalidInput, err)
	}
	if err := p.Optimizer.Validate(); err != nil {
		return fmt.Errorf("%w: optimizer: %v", ErrInvalidInput, err)
	}
	for tso, maxTopo := range p.Limits.MaxTopoPerTso {
		if maxRa, ok := p.Limits.MaxRaPerTso[tso]; ok && maxTopo > maxRa {
			return fmt.Errorf("%w: max_topo_per_tso[%s]=%d exceeds max_ra_per_tso[%s]=%d", ErrInvalidInput, tso, maxTopo, tso, maxRa)
		}
	}
	for tso, maxPst := range p.Limits.MaxPstPerTso {
		if maxRa, ok := p.Limits.MaxRaPerTso[tso]; ok && maxPst > maxRa {
			return fmt.Errorf("%w: max_pst_per_tso[%s]=%d exceeds max_ra_per_tso[%s]=%d", ErrInvalidInput, tso, maxPst, tso, maxRa)
		}
	}
	return nil
}

// leavesInParallel bounds the configured parallelism by the number of
// network actions.
func (p Parameters) leavesInParallel(networkActions int) int {
	n := p.Tree.LeavesInParallel
	if networkActions < n {
		n = networkActions
	}
	if n < 1 {
		n = 1
	}
	return n
}
