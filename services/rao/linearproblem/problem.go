// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package linearproblem builds the linear (or mixed-integer) approximation
// of a leaf around its current setpoints.
//
// A LinearProblem is a solver.Model plus an ordered list of ProblemFillers.
// Each filler adds its variables, constraints and objective terms. Between
// two sensitivity computations the model is rebuilt from scratch; between
// two MIP solves of the same iteration fillers only refine coefficients.
package linearproblem

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
	"github.com/AleutianAI/AleutianRAO/services/rao/solver"
)

// Status is the outcome of a linear problem solve or of the iterating
// optimizer built on it.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnbounded  Status = "UNBOUNDED"
	StatusAbnormal   Status = "ABNORMAL"
	StatusNotSolved  Status = "NOT_SOLVED"

	// StatusSensitivityFailed means a sensitivity computation between two
	// iterations failed.
	StatusSensitivityFailed Status = "SENSITIVITY_COMPUTATION_FAILED"

	// StatusMaxIterationReached means the iteration budget ran out while
	// results were still improving.
	StatusMaxIterationReached Status = "MAX_ITERATION_REACHED"
)

// RangeActionSetpointEpsilon widens setpoint bounds to absorb rounding.
const RangeActionSetpointEpsilon = 1e-5

// FillInput is the state the problem is linearized around.
type FillInput struct {
	// Flows holds flows and sensitivities at the current setpoints.
	Flows *sensitivity.Result

	// Setpoints are the current range-action setpoints.
	Setpoints *setpoint.Result
}

// ProblemFiller contributes one family of variables and constraints.
//
// Description:
//
//	Fill is called on an empty model at every sensitivity iteration, in
//	filler order, so later fillers may look up variables created by
//	earlier ones. UpdateBetweenMipIteration refines an existing model
//	around new setpoints without a sensitivity computation.
type ProblemFiller interface {
	Fill(p *LinearProblem, in FillInput) error
	UpdateBetweenMipIteration(p *LinearProblem, setpoints *setpoint.Result) error
}

// LinearProblem owns a model and the fillers that build it.
//
// Thread Safety:
//
//	Not safe for concurrent use. Each leaf builds its own problem.
type LinearProblem struct {
	fillers []ProblemFiller
	solver  solver.Solver
	logger  *slog.Logger

	model    *solver.Model
	solution *solver.Solution

	// err is the first model-building error; helpers become no-ops once set.
	err error
}

// Option configures a LinearProblem.
type Option func(*LinearProblem)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *LinearProblem) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns an empty problem solved by s and built by fillers in order.
func New(s solver.Solver, fillers []ProblemFiller, opts ...Option) *LinearProblem {
	p := &LinearProblem{
		fillers: fillers,
		solver:  s,
		logger:  slog.Default(),
		model:   solver.NewModel(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Model returns the underlying model.
func (p *LinearProblem) Model() *solver.Model { return p.model }

// Fillers returns the fillers in application order.
func (p *LinearProblem) Fillers() []ProblemFiller { return p.fillers }

// Fill runs every filler on the current (normally empty) model.
func (p *LinearProblem) Fill(in FillInput) error {
	for _, f := range p.fillers {
		if err := f.Fill(p, in); err != nil {
			return fmt.Errorf("fill %T: %w", f, err)
		}
		if p.err != nil {
			return fmt.Errorf("fill %T: %w", f, p.err)
		}
	}
	return nil
}

// UpdateBetweenSensiIteration rebuilds the model around new flows and
// setpoints.
func (p *LinearProblem) UpdateBetweenSensiIteration(in FillInput) error {
	p.model = solver.NewModel()
	p.solution = nil
	p.err = nil
	return p.Fill(in)
}

// UpdateBetweenMipIteration lets every filler refine the model around
// rounded setpoints.
func (p *LinearProblem) UpdateBetweenMipIteration(setpoints *setpoint.Result) error {
	for _, f := range p.fillers {
		if err := f.UpdateBetweenMipIteration(p, setpoints); err != nil {
			return fmt.Errorf("update %T: %w", f, err)
		}
		if p.err != nil {
			return fmt.Errorf("update %T: %w", f, p.err)
		}
	}
	return nil
}

// Solve runs the solver and keeps the solution for result accessors.
func (p *LinearProblem) Solve(ctx context.Context) (Status, error) {
	sol, err := p.solver.Solve(ctx, p.model)
	if err != nil {
		return StatusNotSolved, err
	}
	p.solution = sol
	p.logger.Debug("linear problem solved",
		slog.String("status", string(sol.Status)),
		slog.Int("variables", p.model.NumVariables()),
		slog.Int("constraints", p.model.NumConstraints()))
	return Status(sol.Status), nil
}

// Setpoints reads the setpoint variables of the last solution. Range
// actions absent from the problem keep the value of base.
func (p *LinearProblem) Setpoints(base *setpoint.Result) *setpoint.Result {
	out := base.Clone()
	if p.solution == nil || p.solution.Values == nil {
		return out
	}
	for _, ra := range base.RangeActions() {
		if idx, ok := p.model.VariableIndex(setpointVar(ra)); ok {
			out.Put(ra, p.solution.Value(idx))
		}
	}
	return out
}

// Value returns the solved value of a named variable.
func (p *LinearProblem) Value(name string) (float64, bool) {
	idx, ok := p.model.VariableIndex(name)
	if !ok || p.solution == nil {
		return 0, false
	}
	return p.solution.Value(idx), true
}

// ObjectiveValue returns the objective of the last solution.
func (p *LinearProblem) ObjectiveValue() float64 {
	if p.solution == nil {
		return 0
	}
	return p.solution.Objective
}

// ==============================================================================
// Model-building helpers with a sticky error
// ==============================================================================

func (p *LinearProblem) addVariable(name string, lower, upper float64) int {
	if p.err != nil {
		return -1
	}
	idx, err := p.model.AddVariable(name, lower, upper)
	p.err = err
	return idx
}

func (p *LinearProblem) addIntVariable(name string, lower, upper float64) int {
	if p.err != nil {
		return -1
	}
	idx, err := p.model.AddIntVariable(name, lower, upper)
	p.err = err
	return idx
}

func (p *LinearProblem) addConstraint(name string, lower, upper float64) int {
	if p.err != nil {
		return -1
	}
	idx, err := p.model.AddConstraint(name, lower, upper)
	p.err = err
	return idx
}

func (p *LinearProblem) setCoefficient(c, v int, coef float64) {
	if p.err != nil {
		return
	}
	p.err = p.model.SetCoefficient(c, v, coef)
}

func (p *LinearProblem) addObjective(v int, coef float64) {
	if p.err != nil {
		return
	}
	p.err = p.model.SetObjectiveCoefficient(v, p.model.ObjectiveCoefficient(v)+coef)
}

func (p *LinearProblem) setConstraintBounds(c int, lower, upper float64) {
	if p.err != nil {
		return
	}
	p.err = p.model.SetConstraintBounds(c, lower, upper)
}

func (p *LinearProblem) variable(name string) (int, bool) {
	return p.model.VariableIndex(name)
}

func (p *LinearProblem) constraint(name string) (int, bool) {
	return p.model.ConstraintIndex(name)
}

// ==============================================================================
// Variable and constraint names
// ==============================================================================

func flowVar(c *crac.FlowCnec) string { return "flow_" + c.ID }
func flowConstraint(c *crac.FlowCnec) string { return "flow_def_" + c.ID }
func setpointVar(ra *crac.RangeAction) string { return "setpoint_" + ra.ID }
func absVariationVar(ra *crac.RangeAction) string { return "abs_variation_" + ra.ID }
func upVariationVar(ra *crac.RangeAction) string { return "up_variation_" + ra.ID }
func downVariationVar(ra *crac.RangeAction) string { return "down_variation_" + ra.ID }

const (
	minMarginVarName         = "min_margin"
	minRelativeMarginVarName = "min_relative_margin"
	marginSignVarName        = "min_margin_positive"
	minMarginViolationName   = "min_margin_violation"
)

// SetpointVariable returns the name of the setpoint variable of ra.
func SetpointVariable(ra *crac.RangeAction) string { return setpointVar(ra) }

// MinMarginVariable is the name of the minimum margin variable.
const MinMarginVariable = minMarginVarName
