// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solver defines the linear/MIP model handed to a solver engine and
// the engine contract. Problem fillers build a Model; a Solver returns a
// Status and one value per variable.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrDuplicateVariable is returned when a variable name is reused.
	ErrDuplicateVariable = errors.New("duplicate variable")

	// ErrDuplicateConstraint is returned when a constraint name is reused.
	ErrDuplicateConstraint = errors.New("duplicate constraint")

	// ErrUnknownVariable is returned for an index or name not in the model.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrUnknownConstraint is returned for an index or name not in the model.
	ErrUnknownConstraint = errors.New("unknown constraint")
)

// Status is the outcome of one solve.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusUnbounded  Status = "UNBOUNDED"
	StatusAbnormal   Status = "ABNORMAL"
	StatusNotSolved  Status = "NOT_SOLVED"
)

// Infinity is the bound used for unbounded sides.
var Infinity = math.Inf(1)

// Variable is one decision variable.
type Variable struct {
	Name    string
	Lower   float64
	Upper   float64
	Integer bool
}

// Constraint is Lower <= sum(coef * var) <= Upper.
type Constraint struct {
	Name  string
	Lower float64
	Upper float64
	Coefs map[int]float64
}

// Model is a minimization problem.
//
// Description:
//
//	Variables and constraints are addressed by index and by unique name.
//	Fillers update bounds and coefficients in place between iterations, so
//	the model keeps its structure across solves.
//
// Thread Safety:
//
//	Not safe for concurrent use. A model belongs to one leaf.
type Model struct {
	vars      []Variable
	varIndex  map[string]int
	cons      []Constraint
	consIndex map[string]int
	objective map[int]float64
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		varIndex:  make(map[string]int),
		consIndex: make(map[string]int),
		objective: make(map[int]float64),
	}
}

// AddVariable adds a continuous variable.
func (m *Model) AddVariable(name string, lower, upper float64) (int, error) {
	return m.addVariable(name, lower, upper, false)
}

// AddIntVariable adds an integer variable.
func (m *Model) AddIntVariable(name string, lower, upper float64) (int, error) {
	return m.addVariable(name, lower, upper, true)
}

func (m *Model) addVariable(name string, lower, upper float64, integer bool) (int, error) {
	if _, dup := m.varIndex[name]; dup {
		return -1, fmt.Errorf("%w: %s", ErrDuplicateVariable, name)
	}
	idx := len(m.vars)
	m.vars = append(m.vars, Variable{Name: name, Lower: lower, Upper: upper, Integer: integer})
	m.varIndex[name] = idx
	return idx, nil
}

// VariableIndex returns the index of a named variable.
func (m *Model) VariableIndex(name string) (int, bool) {
	i, ok := m.varIndex[name]
	return i, ok
}

// Variable returns a copy of the variable at idx.
func (m *Model) Variable(idx int) (Variable, error) {
	if idx < 0 || idx >= len(m.vars) {
		return Variable{}, fmt.Errorf("%w: %d", ErrUnknownVariable, idx)
	}
	return m.vars[idx], nil
}

// Variables returns a copy of every variable in index order.
func (m *Model) Variables() []Variable {
	return append([]Variable(nil), m.vars...)
}

// SetBounds updates the bounds of a variable.
func (m *Model) SetBounds(idx int, lower, upper float64) error {
	if idx < 0 || idx >= len(m.vars) {
		return fmt.Errorf("%w: %d", ErrUnknownVariable, idx)
	}
	m.vars[idx].Lower, m.vars[idx].Upper = lower, upper
	return nil
}

// AddConstraint adds an empty constraint with the given bounds.
func (m *Model) AddConstraint(name string, lower, upper float64) (int, error) {
	if _, dup := m.consIndex[name]; dup {
		return -1, fmt.Errorf("%w: %s", ErrDuplicateConstraint, name)
	}
	idx := len(m.cons)
	m.cons = append(m.cons, Constraint{Name: name, Lower: lower, Upper: upper, Coefs: make(map[int]float64)})
	m.consIndex[name] = idx
	return idx, nil
}

// ConstraintIndex returns the index of a named constraint.
func (m *Model) ConstraintIndex(name string) (int, bool) {
	i, ok := m.consIndex[name]
	return i, ok
}

// Constraints returns every constraint in index order. Coefficient maps are
// copied.
func (m *Model) Constraints() []Constraint {
	out := make([]Constraint, len(m.cons))
	for i, c := range m.cons {
		coefs := make(map[int]float64, len(c.Coefs))
		for k, v := range c.Coefs {
			coefs[k] = v
		}
		out[i] = Constraint{Name: c.Name, Lower: c.Lower, Upper: c.Upper, Coefs: coefs}
	}
	return out
}

// SetConstraintBounds updates the bounds of a constraint.
func (m *Model) SetConstraintBounds(idx int, lower, upper float64) error {
	if idx < 0 || idx >= len(m.cons) {
		return fmt.Errorf("%w: %d", ErrUnknownConstraint, idx)
	}
	m.cons[idx].Lower, m.cons[idx].Upper = lower, upper
	return nil
}

// SetCoefficient sets the coefficient of variable v in constraint c. A zero
// coefficient removes the term.
func (m *Model) SetCoefficient(c, v int, coef float64) error {
	if c < 0 || c >= len(m.cons) {
		return fmt.Errorf("%w: %d", ErrUnknownConstraint, c)
	}
	if v < 0 || v >= len(m.vars) {
		return fmt.Errorf("%w: %d", ErrUnknownVariable, v)
	}
	if coef == 0 {
		delete(m.cons[c].Coefs, v)
		return nil
	}
	m.cons[c].Coefs[v] = coef
	return nil
}

// SetObjectiveCoefficient sets the cost of variable v.
func (m *Model) SetObjectiveCoefficient(v int, coef float64) error {
	if v < 0 || v >= len(m.vars) {
		return fmt.Errorf("%w: %d", ErrUnknownVariable, v)
	}
	if coef == 0 {
		delete(m.objective, v)
		return nil
	}
	m.objective[v] = coef
	return nil
}

// ObjectiveCoefficient returns the cost of variable v.
func (m *Model) ObjectiveCoefficient(v int) float64 {
	return m.objective[v]
}

// ObjectiveCoefficients returns the dense cost vector.
func (m *Model) ObjectiveCoefficients() []float64 {
	c := make([]float64, len(m.vars))
	for v, coef := range m.objective {
		c[v] = coef
	}
	return c
}

// NumVariables returns the number of variables.
func (m *Model) NumVariables() int { return len(m.vars) }

// NumConstraints returns the number of constraints.
func (m *Model) NumConstraints() int { return len(m.cons) }

// HasIntegers reports whether any variable is integer.
func (m *Model) HasIntegers() bool {
	for _, v := range m.vars {
		if v.Integer {
			return true
		}
	}
	return false
}

// VariableNames returns every variable name sorted, for debugging.
func (m *Model) VariableNames() []string {
	names := make([]string, 0, len(m.vars))
	for _, v := range m.vars {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Solution is the outcome of Solve.
type Solution struct {
	Status    Status
	Values    []float64
	Objective float64
}

// Value returns the value of variable idx, zero when absent.
func (s *Solution) Value(idx int) float64 {
	if s == nil || idx < 0 || idx >= len(s.Values) {
		return 0
	}
	return s.Values[idx]
}

// Solver solves a Model.
//
// Description:
//
//	Solve must not modify the model. Statuses other than OPTIMAL and
//	FEASIBLE may come with nil Values. The error return is reserved for
//	invalid usage (cancelled context, malformed model).
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, m *Model) (*Solution, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, m *Model) (*Solution, error) {
	return f(ctx, m)
}
