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
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	solveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rao_solver_solve_total",
		Help: "Total solves by status",
	}, []string{"status"})

	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rao_solver_solve_duration_seconds",
		Help:    "Solve duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	branchNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rao_solver_branch_nodes",
		Help:    "Branch-and-bound nodes explored per MIP solve",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
	})
)

const (
	// DefaultTolerance is passed to the simplex method.
	DefaultTolerance = 1e-10

	// DefaultIntegralityTolerance decides when a value counts as integer.
	DefaultIntegralityTolerance = 1e-6

	// DefaultMaxNodes bounds branch-and-bound.
	DefaultMaxNodes = 1000

	// bigM replaces an infinite variable bound so every column is non-zero.
	bigM = 1e7
)

// SimplexSolver solves models with the gonum simplex method, adding a
// depth-first branch-and-bound over integer variables.
//
// Description:
//
//	Each constraint lo <= a.x <= hi becomes up to two rows of G x <= h and
//	every variable gets its bound rows, so lp.Convert produces a standard
//	form with full row rank. Branching picks the first fractional integer
//	variable and explores the floor side first.
//
// Thread Safety:
//
//	Safe for concurrent use. Solve does not mutate the model.
type SimplexSolver struct {
	tol      float64
	intTol   float64
	maxNodes int
	logger   *slog.Logger
}

// SimplexOption configures a SimplexSolver.
type SimplexOption func(*SimplexSolver)

// WithMaxNodes bounds the branch-and-bound tree.
func WithMaxNodes(n int) SimplexOption {
	return func(s *SimplexSolver) {
		if n > 0 {
			s.maxNodes = n
		}
	}
}

// WithSolverLogger sets the logger.
func WithSolverLogger(logger *slog.Logger) SimplexOption {
	return func(s *SimplexSolver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSimplexSolver returns a solver with default tolerances.
func NewSimplexSolver(opts ...SimplexOption) *SimplexSolver {
	s := &SimplexSolver{
		tol:      DefaultTolerance,
		intTol:   DefaultIntegralityTolerance,
		maxNodes: DefaultMaxNodes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Solve implements Solver.
func (s *SimplexSolver) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { solveDuration.Observe(time.Since(start).Seconds()) }()

	lower := make([]float64, m.NumVariables())
	upper := make([]float64, m.NumVariables())
	for i, v := range m.vars {
		lower[i], upper[i] = v.Lower, v.Upper
	}

	var sol *Solution
	if m.HasIntegers() {
		sol = s.branchAndBound(ctx, m, lower, upper)
	} else {
		sol = s.relax(m, lower, upper)
	}
	solveTotal.WithLabelValues(string(sol.Status)).Inc()
	return sol, nil
}

type bbNode struct {
	lower, upper []float64
}

func (s *SimplexSolver) branchAndBound(ctx context.Context, m *Model, lower, upper []float64) *Solution {
	var incumbent *Solution
	stack := []bbNode{{lower: lower, upper: upper}}
	nodes := 0
	rootStatus := StatusNotSolved

	for len(stack) > 0 {
		if ctx.Err() != nil || nodes >= s.maxNodes {
			s.logger.Debug("branch and bound interrupted",
				slog.Int("nodes", nodes),
				slog.Bool("has_incumbent", incumbent != nil))
			branchNodes.Observe(float64(nodes))
			if incumbent != nil {
				incumbent.Status = StatusFeasible
				return incumbent
			}
			return &Solution{Status: StatusNotSolved}
		}
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		relaxed := s.relax(m, node.lower, node.upper)
		if nodes == 1 {
			rootStatus = relaxed.Status
		}
		if relaxed.Status != StatusOptimal {
			continue
		}
		if incumbent != nil && relaxed.Objective >= incumbent.Objective-s.intTol {
			continue
		}

		branch := -1
		for i, v := range m.vars {
			if v.Integer && math.Abs(relaxed.Values[i]-math.Round(relaxed.Values[i])) > s.intTol {
				branch = i
				break
			}
		}
		if branch < 0 {
			for i, v := range m.vars {
				if v.Integer {
					relaxed.Values[i] = math.Round(relaxed.Values[i])
				}
			}
			incumbent = relaxed
			continue
		}

		val := relaxed.Values[branch]
		up := bbNode{lower: clone(node.lower), upper: clone(node.upper)}
		up.lower[branch] = math.Ceil(val)
		down := bbNode{lower: clone(node.lower), upper: clone(node.upper)}
		down.upper[branch] = math.Floor(val)
		// LIFO: down is explored first.
		stack = append(stack, up, down)
	}
	branchNodes.Observe(float64(nodes))

	if incumbent == nil {
		if rootStatus == StatusOptimal {
			return &Solution{Status: StatusInfeasible}
		}
		return &Solution{Status: rootStatus}
	}
	return incumbent
}

// relax solves the continuous relaxation with the given bounds.
func (s *SimplexSolver) relax(m *Model, lower, upper []float64) *Solution {
	n := m.NumVariables()
	if n == 0 {
		return &Solution{Status: StatusOptimal}
	}
	for i := range lower {
		if lower[i] > upper[i]+s.intTol {
			return &Solution{Status: StatusInfeasible}
		}
	}

	var rows [][]float64
	var rhs []float64
	addRow := func(coefs map[int]float64, sign, bound float64) {
		row := make([]float64, n)
		nonZero := false
		for v, c := range coefs {
			row[v] = sign * c
			nonZero = nonZero || c != 0
		}
		if !nonZero {
			return
		}
		rows = append(rows, row)
		rhs = append(rhs, sign*bound)
	}

	for _, c := range m.cons {
		if !math.IsInf(c.Upper, 1) {
			addRow(c.Coefs, 1, c.Upper)
		}
		if !math.IsInf(c.Lower, -1) {
			addRow(c.Coefs, -1, c.Lower)
		}
	}
	for i := 0; i < n; i++ {
		unit := map[int]float64{i: 1}
		addRow(unit, 1, finiteOr(upper[i], bigM))
		addRow(unit, -1, finiteOr(lower[i], -bigM))
	}

	g := mat.NewDense(len(rows), n, nil)
	for r, row := range rows {
		g.SetRow(r, row)
	}
	c := m.ObjectiveCoefficients()
	cNew, aNew, bNew := lp.Convert(c, g, rhs, nil, nil)

	opt, xNew, err := lp.Simplex(cNew, aNew, bNew, s.tol, nil)
	if err != nil {
		return &Solution{Status: statusOf(err)}
	}
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		values[i] = xNew[i] - xNew[n+i]
	}
	return &Solution{Status: StatusOptimal, Values: values, Objective: opt}
}

func statusOf(err error) Status {
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return StatusInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return StatusUnbounded
	default:
		return StatusAbnormal
	}
}

func finiteOr(v, fallback float64) float64 {
	if math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
