// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solver

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Model
// =============================================================================

func TestModel_Variables(t *testing.T) {
	m := NewModel()
	x, err := m.AddVariable("x", 0, 1)
	require.NoError(t, err)
	y, err := m.AddIntVariable("a_tap", -5, 5)
	require.NoError(t, err)

	_, err = m.AddVariable("x", 0, 2)
	assert.ErrorIs(t, err, ErrDuplicateVariable)

	assert.Equal(t, 0, x)
	assert.Equal(t, 1, y)
	assert.Equal(t, 2, m.NumVariables())
	assert.True(t, m.HasIntegers())
	assert.Equal(t, []string{"a_tap", "x"}, m.VariableNames())

	idx, ok := m.VariableIndex("a_tap")
	require.True(t, ok)
	assert.Equal(t, y, idx)
	_, ok = m.VariableIndex("z")
	assert.False(t, ok)

	require.NoError(t, m.SetBounds(x, -1, 3))
	v, err := m.Variable(x)
	require.NoError(t, err)
	assert.Equal(t, Variable{Name: "x", Lower: -1, Upper: 3}, v)

	_, err = m.Variable(7)
	assert.ErrorIs(t, err, ErrUnknownVariable)
	assert.ErrorIs(t, m.SetBounds(-1, 0, 0), ErrUnknownVariable)
}

func TestModel_Constraints(t *testing.T) {
	m := NewModel()
	x, _ := m.AddVariable("x", 0, 1)
	c, err := m.AddConstraint("cap", math.Inf(-1), 4)
	require.NoError(t, err)
	_, err = m.AddConstraint("cap", 0, 1)
	assert.ErrorIs(t, err, ErrDuplicateConstraint)

	require.NoError(t, m.SetCoefficient(c, x, 2))
	cons := m.Constraints()
	cons[0].Coefs[x] = 100
	assert.Equal(t, 2.0, m.Constraints()[0].Coefs[x], "Constraints returns copies")

	require.NoError(t, m.SetCoefficient(c, x, 0))
	assert.Empty(t, m.Constraints()[0].Coefs, "zero removes the term")

	require.NoError(t, m.SetConstraintBounds(c, -1, 1))
	assert.Equal(t, -1.0, m.Constraints()[0].Lower)

	idx, ok := m.ConstraintIndex("cap")
	require.True(t, ok)
	assert.Equal(t, c, idx)
	assert.Equal(t, 1, m.NumConstraints())

	assert.ErrorIs(t, m.SetCoefficient(3, x, 1), ErrUnknownConstraint)
	assert.ErrorIs(t, m.SetCoefficient(c, 3, 1), ErrUnknownVariable)
	assert.ErrorIs(t, m.SetConstraintBounds(3, 0, 0), ErrUnknownConstraint)
}

func TestModel_Objective(t *testing.T) {
	m := NewModel()
	x, _ := m.AddVariable("x", 0, 1)
	y, _ := m.AddVariable("y", 0, 1)

	require.NoError(t, m.SetObjectiveCoefficient(y, -3))
	assert.Equal(t, []float64{0, -3}, m.ObjectiveCoefficients())
	assert.Equal(t, -3.0, m.ObjectiveCoefficient(y))
	assert.Equal(t, 0.0, m.ObjectiveCoefficient(x))

	require.NoError(t, m.SetObjectiveCoefficient(y, 0))
	assert.Equal(t, []float64{0, 0}, m.ObjectiveCoefficients())
	assert.ErrorIs(t, m.SetObjectiveCoefficient(5, 1), ErrUnknownVariable)
}

func TestSolution_Value(t *testing.T) {
	var none *Solution
	assert.Equal(t, 0.0, none.Value(0))

	s := &Solution{Values: []float64{1.5}}
	assert.Equal(t, 1.5, s.Value(0))
	assert.Equal(t, 0.0, s.Value(1))
	assert.Equal(t, 0.0, s.Value(-1))
}

// =============================================================================
// Simplex
// =============================================================================

func TestSimplexSolver_LP(t *testing.T) {
	// min -2x - y  s.t.  x + y <= 4, 0 <= x <= 3, 0 <= y <= 2
	m := NewModel()
	x, _ := m.AddVariable("x", 0, 3)
	y, _ := m.AddVariable("y", 0, 2)
	c, _ := m.AddConstraint("sum", math.Inf(-1), 4)
	require.NoError(t, m.SetCoefficient(c, x, 1))
	require.NoError(t, m.SetCoefficient(c, y, 1))
	require.NoError(t, m.SetObjectiveCoefficient(x, -2))
	require.NoError(t, m.SetObjectiveCoefficient(y, -1))

	sol, err := NewSimplexSolver().Solve(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, 3.0, sol.Value(x), 1e-6)
	assert.InDelta(t, 1.0, sol.Value(y), 1e-6)
	assert.InDelta(t, -7.0, sol.Objective, 1e-6)
}

func TestSimplexSolver_FreeVariable(t *testing.T) {
	// min x  s.t.  x >= -5, x unbounded
	m := NewModel()
	x, _ := m.AddVariable("x", math.Inf(-1), math.Inf(1))
	c, _ := m.AddConstraint("floor", -5, math.Inf(1))
	require.NoError(t, m.SetCoefficient(c, x, 1))
	require.NoError(t, m.SetObjectiveCoefficient(x, 1))

	sol, err := NewSimplexSolver().Solve(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, StatusOptimal, sol.Status)
	assert.InDelta(t, -5.0, sol.Value(x), 1e-6)
}

func TestSimplexSolver_Infeasible(t *testing.T) {
	m := NewModel()
	x, _ := m.AddVariable("x", 0, 1)
	c, _ := m.AddConstraint("floor", 2, math.Inf(1))
	require.NoError(t, m.SetCoefficient(c, x, 1))

	sol, err := NewSimplexSolver().Solve(context.Background(), m)
	require.NoError(t, err, "infeasibility is a status")
	assert.Equal(t, StatusInfeasible, sol.Status)
	assert.Nil(t, sol.Values)

	crossed := NewModel()
	_, _ = crossed.AddVariable("x", 2, 1)
	sol, err = NewSimplexSolver().Solve(context.Background(), crossed)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, sol.Status)
}

func TestSimplexSolver_EmptyModel(t *testing.T) {
	sol, err := NewSimplexSolver().Solve(context.Background(), NewModel())
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, sol.Status)
}

func TestSimplexSolver_Integer(t *testing.T) {
	// min -x  s.t.  2x <= 5, x integer in [0, 10]
	m := NewModel()
	x, _ := m.AddIntVariable("tap", 0, 10)
	c, _ := m.AddConstraint("cap", math.Inf(-1), 5)
	require.NoError(t, m.SetCoefficient(c, x, 2))
	require.NoError(t, m.SetObjectiveCoefficient(x, -1))

	sol, err := NewSimplexSolver().Solve(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, StatusOptimal, sol.Status)
	assert.Equal(t, 2.0, sol.Value(x), "integer values are rounded exactly")
	assert.InDelta(t, -2.0, sol.Objective, 1e-6)
}

func TestSimplexSolver_IntegerInfeasible(t *testing.T) {
	// 2x = 3 has no integer solution.
	m := NewModel()
	x, _ := m.AddIntVariable("tap", 0, 10)
	c, _ := m.AddConstraint("eq", 3, 3)
	require.NoError(t, m.SetCoefficient(c, x, 2))

	sol, err := NewSimplexSolver().Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, sol.Status)
}

func TestSimplexSolver_NodeLimit(t *testing.T) {
	m := NewModel()
	x, _ := m.AddIntVariable("tap", 0, 10)
	c, _ := m.AddConstraint("cap", math.Inf(-1), 5)
	require.NoError(t, m.SetCoefficient(c, x, 2))
	require.NoError(t, m.SetObjectiveCoefficient(x, -1))

	sol, err := NewSimplexSolver(WithMaxNodes(1), WithSolverLogger(nil)).Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusNotSolved, sol.Status, "the fractional root leaves no incumbent")
}

func TestSimplexSolver_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimplexSolver().Solve(ctx, NewModel())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSolverFunc(t *testing.T) {
	var s Solver = SolverFunc(func(context.Context, *Model) (*Solution, error) {
		return &Solution{Status: StatusFeasible}, nil
	})
	sol, err := s.Solve(context.Background(), NewModel())
	require.NoError(t, err)
	assert.Equal(t, StatusFeasible, sol.Status)
}
