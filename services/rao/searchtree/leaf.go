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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/linearproblem"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/optimizer"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
	"github.com/AleutianAI/AleutianRAO/services/rao/solver"
)

var (
	// ErrNoResultsAvailable is returned by accessors of a leaf that has no
	// evaluated cost yet.
	ErrNoResultsAvailable = errors.New("no results available")

	// ErrCannotOptimize is returned when optimizing a leaf that is not
	// evaluated.
	ErrCannotOptimize = errors.New("cannot optimize leaf")

	// ErrOptimizationDataReleased is returned when optimizing a finalized
	// leaf.
	ErrOptimizationDataReleased = errors.New("leaf optimization data released")

	// ErrInvalidInput is returned for unusable search inputs or parameters.
	ErrInvalidInput = errors.New("invalid search tree input")
)

// virtualCostTolerance is the virtual cost considered zero.
const virtualCostTolerance = 1e-6

// State is the lifecycle position of a leaf.
type State string

const (
	StateCreated   State = "CREATED"
	StateEvaluated State = "EVALUATED"
	StateOptimized State = "OPTIMIZED"
	StateError     State = "ERROR"
)

// leafResult is the freshest result of a leaf: notEvaluated, evaluated or
// optimized.
type leafResult interface {
	isLeafResult()
}

type notEvaluated struct{}

type evaluated struct {
	flows     *sensitivity.Result
	objective *objective.Result
}

type optimized struct {
	*optimizer.Result
}

func (notEvaluated) isLeafResult() {}
func (evaluated) isLeafResult()    {}
func (optimized) isLeafResult()    {}

// OptimizeFunc runs the iterating linear optimization of one leaf.
// optimizer.Optimize is the production implementation.
type OptimizeFunc func(ctx context.Context, in optimizer.Input, params optimizer.Parameters) (*optimizer.Result, error)

// Optimization is the perimeter data a leaf hands to the optimizer.
type Optimization struct {
	RangeActions []*crac.RangeAction
	Cnecs        []*crac.FlowCnec
	PrePerimeter *setpoint.Result

	// InitialFlows are the MNEC reference flows. The leaf flows are used
	// when nil.
	InitialFlows *sensitivity.Result

	Objective objective.Function
	Computer  sensitivity.Computer
	Solver    solver.Solver

	// Limits are the perimeter limits before the leaf's network actions
	// are counted.
	Limits     LimitsConfig
	Parameters optimizer.Parameters

	// Run defaults to optimizer.Optimize.
	Run OptimizeFunc
}

// Leaf is one node of the search tree: a set of applied network actions
// and, once optimized, the best range-action setpoints for it.
//
// Description:
//
//	CREATED -> EVALUATED -> OPTIMIZED, with ERROR reachable from CREATED
//	when sensitivity fails. A leaf owns one arena snapshot holding its
//	network actions and starting setpoints until FinalizeOptimization.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Each leaf is evaluated and optimized
//	by a single worker, and read concurrently only once that is done.
type Leaf struct {
	networkActions []*crac.DiscreteAction
	combination    *combination.Combination
	parent         string

	arena     *network.Arena
	handle    network.Handle
	ownsState bool

	// setpoints are the range-action setpoints the leaf starts from.
	setpoints *setpoint.Result

	state      State
	evaluation evaluated
	result     leafResult
	finalized  bool

	logger *slog.Logger
}

// NewRootLeaf creates the leaf without network actions.
//
// Description:
//
//	The root works on the arena snapshot behind handle, which it never
//	releases. When prePerimeterFlows is given the leaf is EVALUATED from
//	those flows and Evaluate only computes their cost.
//
// Inputs:
//
//	arena, handle - The initial network state.
//	setpoints - Pre-perimeter range-action setpoints.
//	prePerimeterFlows - Flows of the initial state, or nil.
//	logger - Logger, slog.Default when nil.
func NewRootLeaf(arena *network.Arena, handle network.Handle, setpoints *setpoint.Result, prePerimeterFlows *sensitivity.Result, logger *slog.Logger) *Leaf {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Leaf{
		arena:     arena,
		handle:    handle,
		setpoints: setpoints,
		state:     StateCreated,
		result:    notEvaluated{},
		logger:    logger,
	}
	if prePerimeterFlows != nil && !prePerimeterFlows.IsFailure() {
		l.state = StateEvaluated
		l.evaluation = evaluated{flows: prePerimeterFlows}
		l.result = l.evaluation
	}
	return l
}

// NewLeaf creates the child of parent that also applies c.
//
// Description:
//
//	The child branches from the initial network snapshot behind root,
//	applies its starting range-action setpoints, then the parent's network
//	actions and those of c. Nothing is kept when an action fails.
//
// Inputs:
//
//	arena, root - The initial network state.
//	parent - The leaf being expanded.
//	c - The combination to add.
//	setpoints - Starting range-action setpoints, either the parent's
//	optimized ones or the pre-perimeter ones.
//	logger - Logger, slog.Default when nil.
//
// Outputs:
//
//	*Leaf - A CREATED leaf.
//	error - The first action or setpoint that failed to apply.
func NewLeaf(arena *network.Arena, root network.Handle, parent *Leaf, c *combination.Combination, setpoints *setpoint.Result, logger *slog.Logger) (*Leaf, error) {
	if logger == nil {
		logger = slog.Default()
	}
	actions := append(append([]*crac.DiscreteAction(nil), parent.networkActions...), c.Actions()...)
	crac.SortActions(actions)

	mutations := make([]network.Mutation, 0, len(actions)+1)
	mutations = append(mutations, setpoints)
	for _, a := range actions {
		mutations = append(mutations, a)
	}
	l := &Leaf{
		networkActions: actions,
		combination:    c,
		parent:         parent.Identifier(),
		arena:          arena,
		setpoints:      setpoints,
		ownsState:      true,
		state:          StateCreated,
		result:         notEvaluated{},
		logger:         logger,
	}
	h, err := arena.Branch(root, mutations...)
	if err != nil {
		return nil, fmt.Errorf("build leaf %s: %w", l.Identifier(), err)
	}
	l.handle = h
	return l, nil
}

// Evaluate computes the flows and cost of the leaf.
//
// Description:
//
//	A sensitivity FAILURE moves the leaf to ERROR and is not an error. An
//	already evaluated leaf only recomputes its cost from the stored flows.
//	ERROR is absorbing.
//
// Outputs:
//
//	error - A computer error, in which case the leaf is in ERROR too.
func (l *Leaf) Evaluate(ctx context.Context, fn objective.Function, computer sensitivity.Computer) error {
	switch l.state {
	case StateError:
		l.logger.Debug("Leaf in error, not evaluated again", slog.String("leaf", l.Identifier()))
		return nil
	case StateEvaluated, StateOptimized:
		l.logger.Debug("Leaf already evaluated", slog.String("leaf", l.Identifier()))
		l.evaluation.objective = fn.Evaluate(l.evaluation.flows, l.activation(l.setpoints))
		if l.state == StateEvaluated {
			l.result = l.evaluation
		}
		return nil
	}

	snap, err := l.NetworkState()
	if err != nil {
		l.state = StateError
		return err
	}
	flows, err := computer.Compute(ctx, snap)
	if err != nil {
		l.state = StateError
		return fmt.Errorf("evaluate %s: %w", l.Identifier(), err)
	}
	if flows.IsFailure() {
		l.state = StateError
		l.logger.Warn("Failed to evaluate leaf: sensitivity analysis failed", slog.String("leaf", l.Identifier()))
		return nil
	}
	l.evaluation = evaluated{flows: flows, objective: fn.Evaluate(flows, l.activation(l.setpoints))}
	l.result = l.evaluation
	l.state = StateEvaluated
	return nil
}

// Optimize runs the iterating linear optimizer from the leaf's starting
// setpoints. Optimizing again restarts from those setpoints.
//
// Outputs:
//
//	error - ErrOptimizationDataReleased after FinalizeOptimization,
//	ErrCannotOptimize from CREATED or ERROR (state unchanged), or an
//	optimizer error.
func (l *Leaf) Optimize(ctx context.Context, opt Optimization) error {
	if l.finalized {
		return fmt.Errorf("%w: %s", ErrOptimizationDataReleased, l.Identifier())
	}
	switch l.state {
	case StateCreated, StateError:
		l.logger.Warn("Impossible to optimize leaf",
			slog.String("leaf", l.Identifier()),
			slog.String("state", string(l.state)))
		return fmt.Errorf("%w: %s is %s", ErrCannotOptimize, l.Identifier(), l.state)
	case StateOptimized:
		l.logger.Debug("Resetting range action setpoints before optimizing again", slog.String("leaf", l.Identifier()))
	}

	snap, err := l.NetworkState()
	if err != nil {
		return err
	}
	run := opt.Run
	if run == nil {
		run = optimizer.Optimize
	}
	res, err := run(ctx, optimizer.Input{
		Snapshot:              snap,
		RangeActions:          opt.RangeActions,
		Cnecs:                 opt.Cnecs,
		PrePerimeterSetpoints: opt.PrePerimeter,
		InitialSetpoints:      l.setpoints,
		Flows:                 l.evaluation.flows,
		InitialFlows:          opt.InitialFlows,
		NetworkActions:        l.networkActions,
		Objective:             opt.Objective,
		PreOptimObjective:     l.evaluation.objective,
		Computer:              opt.Computer,
		Solver:                opt.Solver,
		Limits:                l.usageLimits(opt.Limits),
		Logger:                l.logger,
	}, opt.Parameters)
	if err != nil {
		return fmt.Errorf("optimize %s: %w", l.Identifier(), err)
	}
	l.result = optimized{res}
	l.state = StateOptimized
	return nil
}

// FinalizeOptimization releases the leaf's network snapshot. Results stay
// readable but the leaf can no longer be optimized. Calling it twice is a
// no-op.
func (l *Leaf) FinalizeOptimization() {
	if l.finalized {
		return
	}
	l.finalized = true
	if l.ownsState {
		l.arena.Release(l.handle)
	}
}

// NetworkState returns the leaf's working snapshot.
//
// Outputs:
//
//	error - ErrOptimizationDataReleased after FinalizeOptimization.
func (l *Leaf) NetworkState() (*network.Snapshot, error) {
	if l.finalized && l.ownsState {
		return nil, fmt.Errorf("%w: %s", ErrOptimizationDataReleased, l.Identifier())
	}
	return l.arena.Snapshot(l.handle)
}

// State returns the lifecycle state.
func (l *Leaf) State() State { return l.state }

// IsRoot reports whether the leaf has no network action.
func (l *Leaf) IsRoot() bool { return len(l.networkActions) == 0 }

// NetworkActions returns the applied network actions sorted by ID.
func (l *Leaf) NetworkActions() []*crac.DiscreteAction {
	return append([]*crac.DiscreteAction(nil), l.networkActions...)
}

// Combination returns the combination the leaf was bloomed with, nil for
// the root.
func (l *Leaf) Combination() *combination.Combination { return l.combination }

// Identifier names the leaf by its network actions.
func (l *Leaf) Identifier() string {
	return identifier(l.networkActions)
}

func identifier(actions []*crac.DiscreteAction) string {
	if len(actions) == 0 {
		return "Root leaf"
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.DisplayName()
	}
	return "network action(s): " + strings.Join(names, ", ")
}

// childIdentifier is the identifier of the child of parent bloomed with c.
func childIdentifier(parent *Leaf, c *combination.Combination) string {
	actions := append(append([]*crac.DiscreteAction(nil), parent.networkActions...), c.Actions()...)
	crac.SortActions(actions)
	return identifier(actions)
}

// Objective returns the freshest cost result.
func (l *Leaf) Objective() (*objective.Result, error) {
	switch r := l.result.(type) {
	case optimized:
		return r.Objective, nil
	case evaluated:
		if r.objective != nil {
			return r.objective, nil
		}
	}
	return nil, fmt.Errorf("%w: %s is %s", ErrNoResultsAvailable, l.Identifier(), l.state)
}

// Cost returns functional plus virtual cost.
func (l *Leaf) Cost() (float64, error) {
	res, err := l.Objective()
	if err != nil {
		return 0, err
	}
	return res.Cost(), nil
}

// FunctionalCost returns the functional cost.
func (l *Leaf) FunctionalCost() (float64, error) {
	res, err := l.Objective()
	if err != nil {
		return 0, err
	}
	return res.FunctionalCost(), nil
}

// VirtualCost returns the sum of virtual costs.
func (l *Leaf) VirtualCost() (float64, error) {
	res, err := l.Objective()
	if err != nil {
		return 0, err
	}
	return res.VirtualCost(), nil
}

// VirtualCostOf returns one named virtual cost.
func (l *Leaf) VirtualCostOf(name string) (float64, error) {
	res, err := l.Objective()
	if err != nil {
		return 0, err
	}
	return res.VirtualCostOf(name), nil
}

// MostLimitingElements returns up to n elements, most limiting first.
func (l *Leaf) MostLimitingElements(n int) ([]*crac.FlowCnec, error) {
	res, err := l.Objective()
	if err != nil {
		return nil, err
	}
	return res.MostLimitingElements(n), nil
}

// CostlyElements returns up to n elements responsible for a virtual cost.
func (l *Leaf) CostlyElements(name string, n int) ([]*crac.FlowCnec, error) {
	res, err := l.Objective()
	if err != nil {
		return nil, err
	}
	return res.CostlyElements(name, n), nil
}

// Flow returns the MW flow of cnec in the freshest result.
func (l *Leaf) Flow(cnec *crac.FlowCnec) (float64, error) {
	switch r := l.result.(type) {
	case optimized:
		return r.Flows.Flow(cnec.ID), nil
	case evaluated:
		return r.flows.Flow(cnec.ID), nil
	}
	return 0, fmt.Errorf("%w: %s is %s", ErrNoResultsAvailable, l.Identifier(), l.state)
}

// Setpoints returns the optimized range-action setpoints, or the starting
// ones for a leaf that was only evaluated.
func (l *Leaf) Setpoints() (*setpoint.Result, error) {
	switch r := l.result.(type) {
	case optimized:
		return r.Setpoints, nil
	case evaluated:
		return l.setpoints, nil
	}
	return nil, fmt.Errorf("%w: %s is %s", ErrNoResultsAvailable, l.Identifier(), l.state)
}

// OptimizedSetpoint returns the setpoint of ra.
func (l *Leaf) OptimizedSetpoint(ra *crac.RangeAction) (float64, error) {
	sp, err := l.Setpoints()
	if err != nil {
		return 0, err
	}
	return sp.Setpoint(ra), nil
}

// OptimizedTap returns the tap of a PST.
func (l *Leaf) OptimizedTap(ra *crac.RangeAction) (int, error) {
	sp, err := l.Setpoints()
	if err != nil {
		return 0, err
	}
	return sp.Tap(ra), nil
}

// ActivatedRangeActions returns the range actions moved away from their
// pre-perimeter setpoint.
func (l *Leaf) ActivatedRangeActions() ([]*crac.RangeAction, error) {
	sp, err := l.Setpoints()
	if err != nil {
		return nil, err
	}
	return sp.Activated(), nil
}

// OptimizationStatus returns the optimizer status of an optimized leaf.
func (l *Leaf) OptimizationStatus() (linearproblem.Status, bool) {
	if r, ok := l.result.(optimized); ok {
		return r.Status, true
	}
	return "", false
}

// String renders the identifier and, once evaluated, the costs.
func (l *Leaf) String() string {
	var b strings.Builder
	b.WriteString(l.Identifier())
	if l.state == StateOptimized {
		if activated, err := l.ActivatedRangeActions(); err == nil {
			fmt.Fprintf(&b, ", %d range action(s) activated", len(activated))
		}
	}
	res, err := l.Objective()
	if err != nil {
		return b.String()
	}
	fmt.Fprintf(&b, ", cost: %s (functional: %s, virtual: %s",
		report.RoundCost(res.Cost()),
		report.RoundCost(res.FunctionalCost()),
		report.RoundCost(res.VirtualCost()))
	if res.VirtualCost() > virtualCostTolerance {
		details := res.VirtualCostDetails()
		names := make([]string, 0, len(details))
		for name := range details {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+": "+report.RoundCost(details[name]))
		}
		b.WriteString(" {" + strings.Join(parts, ", ") + "}")
	}
	b.WriteString(")")
	return b.String()
}

func (l *Leaf) activation(setpoints *setpoint.Result) objective.Activation {
	return objective.Activation{RangeActions: setpoints, NetworkActions: l.networkActions}
}

// usageLimits returns the range-action limits left once the leaf's
// network actions are counted.
func (l *Leaf) usageLimits(global LimitsConfig) *linearproblem.RaUsageLimits {
	limits := &linearproblem.RaUsageLimits{
		MaxPstPerTso: copyLimits(global.MaxPstPerTso),
	}
	naPerTso := make(map[string]int)
	elementaryPerTso := make(map[string]int)
	for _, a := range l.networkActions {
		if a.Operator == "" {
			continue
		}
		naPerTso[a.Operator]++
		elementaryPerTso[a.Operator] += a.ElementaryActionCount()
	}

	if global.MaxRa != nil {
		v := max(0, *global.MaxRa-len(l.networkActions))
		limits.MaxRa = &v
	}
	if global.MaxTso != nil {
		tsos := make([]string, 0, len(naPerTso))
		for tso := range naPerTso {
			tsos = append(tsos, tso)
		}
		sort.Strings(tsos)
		v := max(0, *global.MaxTso-len(tsos))
		limits.MaxTso = &v
		limits.MaxTsoExclusion = tsos
	}
	if len(global.MaxRaPerTso) > 0 {
		limits.MaxRaPerTso = make(map[string]int, len(global.MaxRaPerTso))
		for tso, v := range global.MaxRaPerTso {
			limits.MaxRaPerTso[tso] = max(0, v-naPerTso[tso])
		}
	}
	if len(global.MaxElementaryActionsPerTso) > 0 {
		limits.MaxElementaryActionsPerTso = make(map[string]int, len(global.MaxElementaryActionsPerTso))
		for tso, v := range global.MaxElementaryActionsPerTso {
			limits.MaxElementaryActionsPerTso[tso] = max(0, v-elementaryPerTso[tso])
		}
	}
	return limits
}

func copyLimits(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// view returns the leaf as a filter reference. The leaf must be evaluated.
func (l *Leaf) view(unit crac.Unit) leafView {
	return leafView{leaf: l, unit: unit}
}

// leafView adapts an evaluated leaf to filters.Leaf.
type leafView struct {
	leaf *Leaf
	unit crac.Unit
}

func (v leafView) ActivatedNetworkActions() []*crac.DiscreteAction { return v.leaf.networkActions }

func (v leafView) ActivatedRangeActions() []*crac.RangeAction {
	out, _ := v.leaf.ActivatedRangeActions()
	return out
}

func (v leafView) OptimizedTap(ra *crac.RangeAction) int {
	tap, _ := v.leaf.OptimizedTap(ra)
	return tap
}

func (v leafView) Flow(cnec *crac.FlowCnec) float64 {
	flow, _ := v.leaf.Flow(cnec)
	return flow
}

func (v leafView) Margin(cnec *crac.FlowCnec) float64 {
	return cnec.Margin(v.Flow(cnec), v.unit)
}

func (v leafView) Cost() float64 {
	cost, _ := v.leaf.Cost()
	return cost
}

func (v leafView) MostLimitingElements(n int) []*crac.FlowCnec {
	out, _ := v.leaf.MostLimitingElements(n)
	return out
}

func (v leafView) VirtualCostNames() []string {
	res, err := v.leaf.Objective()
	if err != nil {
		return nil
	}
	return res.VirtualCostNames()
}

func (v leafView) CostlyElements(name string, n int) []*crac.FlowCnec {
	out, _ := v.leaf.CostlyElements(name, n)
	return out
}

// NetworkState returns the leaf's network with its optimized setpoints, so
// that PST_SETPOINT and injection actions compare against the taps the leaf
// actually ends with. The leaf's own snapshot is left untouched.
func (v leafView) NetworkState() *network.Snapshot {
	snap, err := v.leaf.NetworkState()
	if err != nil || v.leaf.state != StateOptimized {
		return snap
	}
	sp, err := v.leaf.Setpoints()
	if err != nil {
		return snap
	}
	optimizedState := snap.Clone()
	if err := sp.Apply(optimizedState); err != nil {
		return snap
	}
	return optimizedState
}
