// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/filters"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
	"github.com/AleutianAI/AleutianRAO/services/rao/solver"
)

// Perimeter is a scenario ready to be searched.
type Perimeter struct {
	Catalog *crac.Catalog

	// Input feeds searchtree.New.
	Input searchtree.Input

	// Cache is the sensitivity computer of Input, exposed for its stats.
	Cache *sensitivity.CachingComputer
}

// Build assembles the search inputs of the scenario.
//
// Description:
//
//	Indexes the catalog, reads pre-perimeter setpoints from the initial
//	network, wraps the linear flow model in a caching computer and
//	computes the pre-perimeter flows once. Those flows are both the root
//	leaf flows and the MNEC and loop-flow references. The objective
//	follows params.Optimizer.
//
// Inputs:
//
//	ctx - Context for the pre-perimeter computation.
//	params - Search parameters.
//	logger - Logger, slog.Default when nil.
//
// Outputs:
//
//	*Perimeter - The assembled perimeter.
//	error - Wraps ErrInvalidScenario when the data is inconsistent.
func (s *Scenario) Build(ctx context.Context, params searchtree.Parameters, logger *slog.Logger) (*Perimeter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog, err := crac.NewCatalog(s.NetworkActions, s.RangeActions, s.Cnecs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	snapshot := network.NewSnapshot(s.Network)
	pre, err := setpoint.NewReference(catalog.RangeActions(), snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	linear, err := sensitivity.NewLinearComputer(s.Model, catalog.Cnecs(), catalog.RangeActions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	cache := sensitivity.NewCachingComputer(linear,
		sensitivity.WithCacheSize(s.CacheEntries),
		sensitivity.WithCacheLogger(logger))

	flows, err := cache.Compute(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("pre-perimeter sensitivity: %w", err)
	}
	if flows.IsFailure() {
		logger.Warn("Pre-perimeter sensitivity analysis failed", slog.String("scenario", s.Name))
		flows = nil
	}

	predefined, err := s.combinations(catalog)
	if err != nil {
		return nil, err
	}

	var graph *network.CountryGraph
	if len(s.Borders) > 0 {
		graph = network.NewCountryGraph(s.Borders)
	}

	usageRules, err := s.usageRules(catalog)
	if err != nil {
		return nil, err
	}

	logger.Info("Scenario loaded",
		slog.String("scenario", s.Name),
		slog.Int("network_actions", len(catalog.NetworkActions())),
		slog.Int("range_actions", len(catalog.RangeActions())),
		slog.Int("cnecs", len(catalog.Cnecs())),
		slog.Int("combinations", len(predefined)))

	in := searchtree.Input{
		Network:               snapshot,
		NetworkActions:        catalog.NetworkActions(),
		RangeActions:          catalog.RangeActions(),
		Cnecs:                 catalog.Cnecs(),
		PrePerimeterSetpoints: pre,
		PrePerimeterFlows:     flows,
		InitialFlows:          flows,
		Objective:             s.objective(catalog, params, flows),
		Computer:              cache,
		Predefined:            predefined,
		Graph:                 graph,
		UsageRules:            usageRules,
	}
	if len(in.RangeActions) > 0 {
		in.Solver = solver.NewSimplexSolver(solver.WithSolverLogger(logger))
	}
	return &Perimeter{Catalog: catalog, Input: in, Cache: cache}, nil
}

func (s *Scenario) objective(catalog *crac.Catalog, params searchtree.Parameters, initial *sensitivity.Result) *objective.ObjectiveFunction {
	var evaluators []objective.VirtualCostEvaluator
	var mnecs []*crac.FlowCnec
	for _, c := range catalog.Cnecs() {
		if c.Monitored {
			mnecs = append(mnecs, c)
		}
	}
	if len(mnecs) > 0 {
		evaluators = append(evaluators, &objective.MnecEvaluator{
			Mnecs:                mnecs,
			Initial:              initial,
			AcceptableDiminution: params.Optimizer.MnecAcceptableDiminution,
			ViolationCost:        params.Optimizer.MnecViolationCost,
		})
	}
	if s.VirtualCosts.LoopFlowViolationCost > 0 {
		evaluators = append(evaluators, &objective.LoopFlowEvaluator{
			Cnecs:                  catalog.Cnecs(),
			Initial:                initial,
			AcceptableAugmentation: s.VirtualCosts.LoopFlowAcceptableIncrease,
			ViolationCost:          s.VirtualCosts.LoopFlowViolationCost,
		})
	}
	if s.VirtualCosts.SensitivityFailureOvercost > 0 {
		evaluators = append(evaluators, &objective.SensitivityFailureEvaluator{
			Overcost: s.VirtualCosts.SensitivityFailureOvercost,
		})
	}
	return objective.New(objective.Config{
		Type:             params.Optimizer.Objective,
		Unit:             params.Optimizer.Unit,
		OptimizedCnecs:   catalog.OptimizedCnecs(),
		MinMarginPenalty: params.Optimizer.MinMarginPenalty,
	}, evaluators...)
}

func (s *Scenario) combinations(catalog *crac.Catalog) ([]*combination.Combination, error) {
	out := make([]*combination.Combination, 0, len(s.Combinations))
	for i, c := range s.Combinations {
		actions := make([]*crac.DiscreteAction, 0, len(c.Actions))
		for _, id := range c.Actions {
			na, ok := catalog.NetworkAction(id)
			if !ok {
				return nil, fmt.Errorf("%w: combination %d references unknown network action %s", ErrInvalidScenario, i, id)
			}
			actions = append(actions, na)
		}
		opts := []combination.Option{combination.WithPredefined()}
		if c.DetectedDuringSearch {
			opts = append(opts, combination.WithDetectedDuringSearch())
		}
		out = append(out, combination.New(actions, opts...))
	}
	return out, nil
}

func (s *Scenario) usageRules(catalog *crac.Catalog) (*filters.OnFlowConstraint, error) {
	for _, na := range catalog.NetworkActions() {
		if na.UsageRule == nil {
			continue
		}
		f, err := filters.NewOnFlowConstraint(catalog.NetworkActions(), catalog.Cnec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
		}
		return f, nil
	}
	return nil, nil
}
