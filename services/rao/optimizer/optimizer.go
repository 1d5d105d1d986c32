// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimizer implements the iterating linear optimizer: it solves a
// linear approximation of a leaf, moves the range actions to the solution,
// recomputes sensitivities and repeats while the cost improves.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/linearproblem"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
	"github.com/AleutianAI/AleutianRAO/services/rao/solver"
)

// ErrInvalidInput is returned when Input or Parameters are unusable.
var ErrInvalidInput = errors.New("invalid optimizer input")

// setpointChangeTolerance decides whether two iterations gave the same
// setpoints.
const setpointChangeTolerance = 1e-6

var (
	iterationsTotal = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rao_linear_optimizer_iterations",
		Help:    "Sensitivity iterations per linear optimization",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
	})

	optimizationStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rao_linear_optimizer_status_total",
		Help: "Linear optimizations by final status",
	}, []string{"status"})

	optimizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rao_linear_optimizer_duration_seconds",
		Help:    "Linear optimization duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

// Input is what one leaf hands to the optimizer.
type Input struct {
	// Snapshot is the leaf network with its discrete actions applied.
	// It is cloned, never modified.
	Snapshot *network.Snapshot

	// RangeActions are the actions to optimize.
	RangeActions []*crac.RangeAction

	// Cnecs are every optimized and monitored element.
	Cnecs []*crac.FlowCnec

	// PrePerimeterSetpoints are the references of the admissible ranges.
	PrePerimeterSetpoints *setpoint.Result

	// InitialSetpoints are the setpoints Flows were computed at (warm start).
	InitialSetpoints *setpoint.Result

	// Flows are the leaf's flows and sensitivities at InitialSetpoints.
	Flows *sensitivity.Result

	// InitialFlows are the flows of the initial network, the reference of
	// MNEC constraints. Flows is used when nil.
	InitialFlows *sensitivity.Result

	// NetworkActions are the leaf's applied discrete actions.
	NetworkActions []*crac.DiscreteAction

	// Objective evaluates every iteration.
	Objective objective.Function

	// PreOptimObjective is the cost at iteration 0. Computed when nil.
	PreOptimObjective *objective.Result

	Computer sensitivity.Computer
	Solver   solver.Solver

	// Limits are the range-action usage limits left for this leaf.
	Limits *linearproblem.RaUsageLimits

	Logger *slog.Logger
}

func (in Input) validate() error {
	switch {
	case in.Snapshot == nil:
		return fmt.Errorf("%w: nil snapshot", ErrInvalidInput)
	case in.PrePerimeterSetpoints == nil || in.InitialSetpoints == nil:
		return fmt.Errorf("%w: nil setpoints", ErrInvalidInput)
	case in.Flows == nil:
		return fmt.Errorf("%w: nil flows", ErrInvalidInput)
	case in.Objective == nil:
		return fmt.Errorf("%w: nil objective function", ErrInvalidInput)
	case in.Computer == nil:
		return fmt.Errorf("%w: nil sensitivity computer", ErrInvalidInput)
	case in.Solver == nil:
		return fmt.Errorf("%w: nil solver", ErrInvalidInput)
	}
	return nil
}

// Result is the best iteration of one optimization.
type Result struct {
	Status     linearproblem.Status
	Iterations int
	Setpoints  *setpoint.Result
	Flows      *sensitivity.Result
	Objective  *objective.Result
}

// Cost returns the total cost of the result.
func (r *Result) Cost() float64 { return r.Objective.Cost() }

// Optimize runs the iterating linear optimization.
//
// Description:
//
//	Iteration 0 is the input state. Each iteration solves the linear
//	problem, rounds the solution, applies it to a copy of the snapshot and
//	recomputes sensitivities. A strictly cheaper iteration becomes the best
//	one and the problem is rebuilt around it. Otherwise the optimizer stops,
//	or with range shrinking rebuilds around the rejected point with
//	narrower ranges and continues.
//
// Inputs:
//
//	ctx - Cancellation for solver and sensitivity calls.
//	in - Leaf state. See Input.
//	params - Validated optimizer parameters.
//
// Outputs:
//
//	*Result - Best iteration with its status. Never nil when err is nil.
//	error - ErrInvalidInput, a context error, or a model-building error.
//	Solver and sensitivity failures are statuses, not errors.
//
// Thread Safety:
//
//	Safe for concurrent use with distinct inputs. The computer and solver
//	must be safe for concurrent use when shared.
func Optimize(ctx context.Context, in Input, params Parameters) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	pre := in.PreOptimObjective
	if pre == nil {
		pre = in.Objective.Evaluate(in.Flows, objective.Activation{
			RangeActions:   in.InitialSetpoints,
			NetworkActions: in.NetworkActions,
		})
	}
	best := &Result{
		Status:     linearproblem.StatusOptimal,
		Iterations: 0,
		Setpoints:  in.InitialSetpoints.Clone(),
		Flows:      in.Flows,
		Objective:  pre,
	}
	defer func() {
		iterationsTotal.Observe(float64(best.Iterations))
		optimizationStatus.WithLabelValues(string(best.Status)).Inc()
		optimizationDuration.Observe(time.Since(start).Seconds())
	}()

	lp := linearproblem.New(in.Solver, buildFillers(in, params), linearproblem.WithLogger(logger))
	if err := lp.Fill(linearproblem.FillInput{Flows: in.Flows, Setpoints: in.InitialSetpoints}); err != nil {
		return nil, err
	}
	previous := best

	for iteration := 1; iteration <= params.MaxIterations; iteration++ {
		status, err := lp.Solve(ctx)
		if err != nil {
			return nil, err
		}
		best.Iterations = iteration
		switch status {
		case linearproblem.StatusOptimal:
		case linearproblem.StatusFeasible:
			logger.Info("solver interrupted, keeping its feasible solution", slog.Int("iteration", iteration))
		default:
			logger.Warn("linear optimization failed",
				slog.Int("iteration", iteration),
				slog.String("status", string(status)))
			if iteration == 1 {
				best.Status = status
				return best, nil
			}
			best.Status = linearproblem.StatusFeasible
			return best, nil
		}

		current := round(lp.Setpoints(in.PrePerimeterSetpoints.Reset()), best, params)
		if params.PstModel == PstApproximatedIntegers {
			if current, err = resolveApproximatedTaps(ctx, lp, current, best, in, params); err != nil {
				return nil, err
			}
		}

		if !current.Changed(previous.Setpoints) {
			logger.Debug("same setpoints as previous iteration", slog.Int("iteration", iteration))
			return best, nil
		}

		snap := in.Snapshot.Clone()
		if err := current.Apply(snap); err != nil {
			return nil, fmt.Errorf("apply setpoints: %w", err)
		}
		flows, err := in.Computer.Compute(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("sensitivity at iteration %d: %w", iteration, err)
		}
		if flows.IsFailure() {
			logger.Warn("sensitivity computation failed", slog.Int("iteration", iteration))
			best.Status = linearproblem.StatusSensitivityFailed
			return best, nil
		}

		candidate := &Result{
			Status:     linearproblem.StatusOptimal,
			Iterations: iteration,
			Setpoints:  current,
			Flows:      flows,
			Objective: in.Objective.Evaluate(flows, objective.Activation{
				RangeActions:   current,
				NetworkActions: in.NetworkActions,
			}),
		}
		previous = candidate

		if candidate.Cost() < best.Cost() {
			logger.Debug("linear optimization found a better solution",
				slog.Int("iteration", iteration),
				slog.Float64("cost", candidate.Cost()),
				slog.Float64("functional_cost", candidate.Objective.FunctionalCost()))
			if err := lp.UpdateBetweenSensiIteration(linearproblem.FillInput{Flows: flows, Setpoints: current}); err != nil {
				return nil, err
			}
			best = candidate
			continue
		}

		logger.Debug("linear optimization found a worse result",
			slog.Int("iteration", iteration),
			slog.Float64("best_cost", best.Cost()),
			slog.Float64("cost", candidate.Cost()))
		if !params.RangeShrinking {
			return best, nil
		}
		if err := lp.UpdateBetweenSensiIteration(linearproblem.FillInput{Flows: flows, Setpoints: current}); err != nil {
			return nil, err
		}
	}
	best.Status = linearproblem.StatusMaxIterationReached
	return best, nil
}

// resolveApproximatedTaps refines the tap-to-angle coefficients around the
// rounded solution and solves again.
func resolveApproximatedTaps(ctx context.Context, lp *linearproblem.LinearProblem, current *setpoint.Result, best *Result, in Input, params Parameters) (*setpoint.Result, error) {
	if err := lp.UpdateBetweenMipIteration(current); err != nil {
		return nil, err
	}
	status, err := lp.Solve(ctx)
	if err != nil {
		return nil, err
	}
	if status == linearproblem.StatusOptimal || status == linearproblem.StatusFeasible {
		return round(lp.Setpoints(in.PrePerimeterSetpoints.Reset()), best, params), nil
	}
	return current, nil
}

func buildFillers(in Input, params Parameters) []linearproblem.ProblemFiller {
	var optimized, monitored []*crac.FlowCnec
	for _, c := range in.Cnecs {
		if c.Optimized {
			optimized = append(optimized, c)
		}
		if c.Monitored {
			monitored = append(monitored, c)
		}
	}

	fillers := []linearproblem.ProblemFiller{
		linearproblem.NewCoreProblemFiller(linearproblem.CoreConfig{
			Cnecs:                 in.Cnecs,
			RangeActions:          in.RangeActions,
			PrePerimeter:          in.PrePerimeterSetpoints,
			SensitivityThresholds: params.SensitivityThresholds,
			PenaltyCosts:          params.PenaltyCosts,
			CostOptimization:      params.Objective.CostOptimization(),
			RangeShrinking:        params.RangeShrinking,
		}),
	}
	if params.Objective.CostOptimization() {
		fillers = append(fillers, &linearproblem.MinMarginViolationFiller{
			Cnecs:   optimized,
			Unit:    params.Unit,
			Penalty: params.MinMarginPenalty,
		})
	} else {
		fillers = append(fillers, &linearproblem.MaxMinMarginFiller{
			Cnecs:    optimized,
			Unit:     params.Unit,
			Relative: params.Objective.RelativePositiveMargins(),
		})
	}
	if len(monitored) > 0 {
		initial := in.InitialFlows
		if initial == nil {
			initial = in.Flows
		}
		fillers = append(fillers, &linearproblem.MnecFiller{
			Mnecs:                monitored,
			Initial:              initial,
			AcceptableDiminution: params.MnecAcceptableDiminution,
			ViolationCost:        params.MnecViolationCost,
		})
	}
	approximated := params.PstModel == PstApproximatedIntegers
	if approximated {
		fillers = append(fillers, linearproblem.NewDiscretePstTapFiller(in.RangeActions, in.PrePerimeterSetpoints))
	}
	if !in.Limits.Empty() {
		fillers = append(fillers, linearproblem.NewRaUsageLimitsFiller(in.RangeActions, in.PrePerimeterSetpoints, *in.Limits, approximated))
	}
	return fillers
}
