// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package searchtree explores combinations of network actions depth by
// depth, optimizing the range actions of every explored leaf, and returns
// the cheapest leaf found.
package searchtree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRAO/services/rao/bloomer"
	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/filters"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
	"github.com/AleutianAI/AleutianRAO/services/rao/solver"
)

// Objective is the objective function of a search.
type Objective interface {
	objective.Function

	// IsPurelyVirtual reports a perimeter without optimized elements,
	// whose only costs are virtual.
	IsPurelyVirtual() bool
}

// Input is the perimeter of one search.
type Input struct {
	// Network is the initial state, range actions at their pre-perimeter
	// setpoints. It is copied, never modified.
	Network *network.Snapshot

	NetworkActions []*crac.DiscreteAction
	RangeActions   []*crac.RangeAction

	// Cnecs are the optimized and monitored elements.
	Cnecs []*crac.FlowCnec

	PrePerimeterSetpoints *setpoint.Result

	// PrePerimeterFlows are the flows of Network. Computed by the root leaf
	// when nil.
	PrePerimeterFlows *sensitivity.Result

	// InitialFlows are the MNEC reference flows. Optional.
	InitialFlows *sensitivity.Result

	Objective Objective
	Computer  sensitivity.Computer
	Solver    solver.Solver

	// Predefined are operator combinations explored with priority.
	Predefined []*combination.Combination

	// Graph is required when far elements are filtered.
	Graph *network.CountryGraph

	// UsageRules filters actions restricted by usage rules. Optional.
	UsageRules *filters.OnFlowConstraint
}

func (in Input) validate() error {
	switch {
	case in.Network == nil:
		return fmt.Errorf("%w: nil network", ErrInvalidInput)
	case in.PrePerimeterSetpoints == nil:
		return fmt.Errorf("%w: nil pre-perimeter setpoints", ErrInvalidInput)
	case in.Objective == nil:
		return fmt.Errorf("%w: nil objective function", ErrInvalidInput)
	case in.Computer == nil:
		return fmt.Errorf("%w: nil sensitivity computer", ErrInvalidInput)
	}
	return nil
}

// Option configures a SearchTree.
type Option func(*SearchTree)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(t *SearchTree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSink sets the report sink. Defaults to report.NopSink.
func WithSink(sink report.Sink) Option {
	return func(t *SearchTree) {
		if sink != nil {
			t.sink = sink
		}
	}
}

// WithRunID sets the run identifier stamped on events. Defaults to a
// random UUID.
func WithRunID(id string) Option {
	return func(t *SearchTree) {
		if id != "" {
			t.runID = id
		}
	}
}

// WithOptimizer replaces the leaf optimizer. Defaults to
// optimizer.Optimize.
func WithOptimizer(fn OptimizeFunc) Option {
	return func(t *SearchTree) {
		t.optimize = fn
	}
}

// SearchTree drives the depth loop.
//
// Description:
//
//	The root leaf is evaluated then optimized. Each depth blooms the best
//	leaf, sorts the combinations with combination.Compare, and explores
//	them with a pool of LeavesInParallel workers. Once every worker is
//	done, finished children are replayed in combination order to pick the
//	new best leaf, so the result does not depend on scheduling. Children
//	ordered after one that meets the stop criterion are skipped.
//
// Thread Safety:
//
//	Run must not be called concurrently on the same SearchTree.
type SearchTree struct {
	in       Input
	params   Parameters
	logger   *slog.Logger
	sink     report.Sink
	runID    string
	optimize OptimizeFunc
	tracer   *Tracer
	bloomer  *bloomer.Bloomer

	arena      *network.Arena
	rootHandle network.Handle

	optimal              *Leaf
	previousDepthOptimal *Leaf
	depth                int
}

// New builds a search tree.
//
// Inputs:
//
//	in - The perimeter. See Input.
//	params - Search parameters, validated here.
//	opts - Logger, sink, run ID and optimizer overrides.
//
// Outputs:
//
//	*SearchTree - Ready to Run.
//	error - ErrInvalidInput for missing inputs or invalid parameters.
func New(in Input, params Parameters, opts ...Option) (*SearchTree, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Tree.FilterFarElements && in.Graph == nil {
		return nil, fmt.Errorf("%w: far element filtering needs a country graph", ErrInvalidInput)
	}

	t := &SearchTree{
		in:     in,
		params: params,
		logger: slog.Default(),
		sink:   report.NopSink{},
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.optimize == nil {
		if in.Solver == nil && len(in.RangeActions) > 0 {
			return nil, fmt.Errorf("%w: nil solver", ErrInvalidInput)
		}
	}
	t.logger = t.logger.With(slog.String("run_id", t.runID))
	t.sink = report.WithRun(t.sink, t.runID)
	t.tracer = NewTracer(t.logger, params.Observability)
	t.bloomer = bloomer.New(bloomer.Config{
		Predefined:                 in.Predefined,
		MaxRa:                      params.Limits.MaxRa,
		MaxTso:                     params.Limits.MaxTso,
		MaxTopoPerTso:              params.Limits.MaxTopoPerTso,
		MaxRaPerTso:                params.Limits.MaxRaPerTso,
		MaxElementaryActionsPerTso: params.Limits.MaxElementaryActionsPerTso,
		FilterFarElements:          params.Tree.FilterFarElements,
		MaxBoundaries:              params.Tree.MaxBoundaries,
		Graph:                      in.Graph,
		PrePerimeter:               in.PrePerimeterSetpoints,
		UsageRules:                 in.UsageRules,
		Sink:                       t.sink,
		Logger:                     t.logger,
	})
	return t, nil
}

// RunID returns the identifier stamped on the run's events.
func (t *SearchTree) RunID() string { return t.runID }

// Depth returns the number of network action depths the returned leaf is
// built from. Only meaningful once Run returned.
func (t *SearchTree) Depth() int { return t.depth }

// Run searches for the cheapest leaf.
//
// Outputs:
//
//	*Leaf - The best leaf found. The root leaf, possibly in ERROR, when
//	nothing better exists. Non-nil even when err is not.
//	error - A context error, or an unexpected computer or optimizer error.
//	Sensitivity failures and solver statuses are not errors.
func (t *SearchTree) Run(ctx context.Context) (*Leaf, error) {
	t.arena, t.rootHandle = network.NewArena(t.in.Network)
	t.depth = 0

	ctx, span := t.tracer.StartRun(ctx, t.runID, len(t.in.NetworkActions), t.params)
	best, err := t.run(ctx)
	t.tracer.EndRun(span, best, t.depth, err)
	peakSnapshots.Set(float64(t.arena.Peak()))
	return best, err
}

func (t *SearchTree) run(ctx context.Context) (*Leaf, error) {
	root := NewRootLeaf(t.arena, t.rootHandle, t.in.PrePerimeterSetpoints, t.in.PrePerimeterFlows, t.logger)
	t.optimal, t.previousDepthOptimal = root, root

	if err := root.Evaluate(ctx, t.in.Objective, t.in.Computer); err != nil {
		return root, err
	}
	recordLeaf(string(root.State()))
	t.emit(ctx, t.leafEvent(report.KindRootLeafEvaluated, root))
	if root.State() == StateError {
		t.logger.Info("Could not evaluate leaf", slog.String("leaf", root.Identifier()))
		return t.complete(ctx, root), nil
	}
	if t.stopCriterionReached(root) {
		t.emit(ctx, t.leafEvent(report.KindStopCriterionReached, root))
		return t.complete(ctx, root), nil
	}

	t.logger.Info("Linear optimization on root leaf")
	if err := t.optimizeLeaf(ctx, root); err != nil {
		return root, err
	}
	t.logger.Info("Root leaf optimized", slog.String("leaf", root.String()))
	t.logMostLimitingElements(root, t.params.Observability.LoggedElementsDuringTree)
	if t.stopCriterionReached(root) {
		t.emit(ctx, t.leafEvent(report.KindStopCriterionReached, root))
		return t.complete(ctx, root), nil
	}

	if err := t.iterateOnTree(ctx); err != nil {
		return t.optimal, err
	}
	return t.complete(ctx, t.optimal), nil
}

// depthOutcome is how one depth ended.
type depthOutcome int

const (
	depthImproved depthOutcome = iota
	depthNotImproved
	depthExhausted
)

func (t *SearchTree) iterateOnTree(ctx context.Context) error {
	if len(t.in.NetworkActions) == 0 {
		t.logger.Info("No network action available")
		t.emit(ctx, report.Event{Kind: report.KindNoNetworkAction, Message: "no network action available"})
		return nil
	}
	parallel := t.params.leavesInParallel(len(t.in.NetworkActions))
	t.logger.Debug("Evaluating leaves in parallel", slog.Int("leaves_in_parallel", parallel))

	for t.depth < t.params.Tree.MaxDepth && !t.stopCriterionReached(t.optimal) {
		depthCtx := report.ContextWithDepth(ctx, t.depth+1)
		t.logger.Info("Search depth started", slog.Int("depth", t.depth+1))
		t.emit(depthCtx, report.Event{Kind: report.KindDepthStarted, Leaf: t.optimal.Identifier()})

		outcome, err := t.exploreDepth(depthCtx, parallel)
		if err != nil {
			return err
		}
		depthsTotal.Inc()
		if outcome == depthExhausted {
			return nil
		}
		if outcome == depthNotImproved {
			t.logger.Info("No better result found in search depth, exiting search tree", slog.Int("depth", t.depth+1))
			t.emit(depthCtx, t.leafEvent(report.KindNoBetterLeaf, t.optimal))
			return nil
		}

		t.depth++
		t.logger.Info("Optimal leaf", slog.Int("depth", t.depth), slog.String("leaf", t.optimal.String()))
		t.logMostLimitingElements(t.optimal, t.params.Observability.LoggedElementsDuringTree)
		t.emit(depthCtx, t.leafEvent(report.KindDepthBestLeaf, t.optimal))
	}

	if t.stopCriterionReached(t.optimal) {
		t.emit(ctx, t.leafEvent(report.KindStopCriterionReached, t.optimal))
	} else if t.depth >= t.params.Tree.MaxDepth {
		t.logger.Info("Maximum search depth has been reached, exiting search tree", slog.Int("depth", t.depth))
		t.emit(ctx, report.Event{Kind: report.KindMaxDepthReached, Depth: t.depth, Leaf: t.optimal.Identifier()})
	}
	return nil
}

// exploreDepth blooms the current best leaf and explores its children.
func (t *SearchTree) exploreDepth(ctx context.Context, parallel int) (depthOutcome, error) {
	t.previousDepthOptimal = t.optimal
	candidates := t.bloomer.Bloom(ctx, t.optimal.view(t.params.Optimizer.Unit), t.in.NetworkActions)
	if len(candidates) == 0 {
		t.logger.Info("No more network action available")
		t.emit(ctx, report.Event{Kind: report.KindNoNetworkAction, Message: "every combination was filtered out"})
		return depthExhausted, nil
	}
	combos := make([]*combination.Combination, len(candidates))
	for i, c := range candidates {
		combos[i] = c.Combination
	}
	sort.SliceStable(combos, func(i, j int) bool {
		return combination.Compare(combos[i], combos[j], t.bloomer.IsPredefined) < 0
	})
	t.logger.Info("Leaves to evaluate", slog.Int("count", len(combos)))

	ctx, span := t.tracer.StartDepth(ctx, t.depth+1, len(combos))
	results := make([]*Leaf, len(combos))
	stop := &stopMarker{index: len(combos)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, c := range combos {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			leaf, err := t.exploreChild(gctx, i, c, stop)
			results[i] = leaf
			return err
		})
	}
	err := g.Wait()

	evaluated := 0
	for _, leaf := range results {
		if leaf != nil {
			evaluated++
		}
	}
	if err != nil {
		for _, leaf := range results {
			if leaf != nil {
				leaf.FinalizeOptimization()
			}
		}
		t.tracer.EndDepth(span, evaluated, false)
		return depthNotImproved, err
	}

	last := stop.first()
	for i, leaf := range results {
		if leaf == nil {
			continue
		}
		if i > last {
			t.emit(ctx, t.leafEvent(report.KindLeafSkipped, leaf))
			continue
		}
		t.updateOptimalLeaf(leaf)
	}
	for _, leaf := range results {
		if leaf != nil && leaf != t.optimal {
			leaf.FinalizeOptimization()
		}
	}

	improved := t.optimal != t.previousDepthOptimal
	t.tracer.EndDepth(span, evaluated, improved)
	if !improved {
		return depthNotImproved, nil
	}
	t.previousDepthOptimal.FinalizeOptimization()
	return depthImproved, nil
}

// exploreChild builds, evaluates and optimizes the child bloomed with c.
// It returns nil for children that were skipped or dropped.
func (t *SearchTree) exploreChild(ctx context.Context, index int, c *combination.Combination, stop *stopMarker) (*Leaf, error) {
	parent := t.previousDepthOptimal
	if stop.after(index) {
		t.skip(ctx, parent, c)
		return nil, nil
	}
	start := time.Now()
	defer func() { leafDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := t.tracer.StartLeaf(ctx, c.Key())
	setpoints := t.in.PrePerimeterSetpoints
	if !t.bloomer.ShouldResetRangeActions(c) {
		if sp, err := parent.Setpoints(); err == nil {
			setpoints = sp
		}
	}

	leaf, err := NewLeaf(t.arena, t.rootHandle, parent, c, setpoints, t.logger)
	if err != nil {
		t.logger.Warn("Could not build leaf", slog.String("combination", c.Key()), slog.String("error", err.Error()))
		t.reject(ctx, childIdentifier(parent, c), parent, c, err.Error())
		t.tracer.EndLeaf(span, nil, err)
		return nil, nil
	}

	if err := leaf.Evaluate(ctx, t.in.Objective, t.in.Computer); err != nil {
		leaf.FinalizeOptimization()
		t.tracer.EndLeaf(span, leaf, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("Could not evaluate leaf", slog.String("leaf", leaf.Identifier()), slog.String("error", err.Error()))
		t.reject(ctx, leaf.Identifier(), parent, c, err.Error())
		return nil, nil
	}
	if leaf.State() == StateError {
		leaf.FinalizeOptimization()
		t.tracer.EndLeaf(span, leaf, nil)
		t.reject(ctx, leaf.Identifier(), parent, c, "sensitivity analysis failed")
		return nil, nil
	}
	t.logger.Debug("Evaluated leaf", slog.String("leaf", leaf.String()))
	t.emit(ctx, t.leafEvent(report.KindLeafEvaluated, leaf))

	if !t.stopCriterionReached(leaf) {
		if stop.after(index) {
			leaf.FinalizeOptimization()
			t.tracer.EndLeaf(span, leaf, nil)
			t.skip(ctx, parent, c)
			return nil, nil
		}
		if err := t.optimizeLeaf(ctx, leaf); err != nil {
			leaf.FinalizeOptimization()
			t.tracer.EndLeaf(span, leaf, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("Could not optimize leaf", slog.String("leaf", leaf.Identifier()), slog.String("error", err.Error()))
			t.reject(ctx, leaf.Identifier(), parent, c, err.Error())
			return nil, nil
		}
		t.logger.Debug("Optimized leaf", slog.String("leaf", leaf.String()))
	}
	if t.stopCriterionReached(leaf) && t.improvedEnough(leaf) {
		stop.mark(index)
	}
	recordLeaf(string(leaf.State()))
	t.tracer.EndLeaf(span, leaf, nil)
	return leaf, nil
}

// optimizeLeaf runs the linear optimization when the perimeter has range
// actions.
func (t *SearchTree) optimizeLeaf(ctx context.Context, leaf *Leaf) error {
	if len(t.in.RangeActions) == 0 {
		t.logger.Info("No range actions to optimize", slog.String("leaf", leaf.Identifier()))
		return nil
	}
	err := leaf.Optimize(ctx, Optimization{
		RangeActions: t.in.RangeActions,
		Cnecs:        t.in.Cnecs,
		PrePerimeter: t.in.PrePerimeterSetpoints,
		InitialFlows: t.in.InitialFlows,
		Objective:    t.in.Objective,
		Computer:     t.in.Computer,
		Solver:       t.in.Solver,
		Limits:       t.params.Limits,
		Parameters:   t.params.Optimizer,
		Run:          t.optimize,
	})
	if err != nil {
		return err
	}
	e := t.leafEvent(report.KindLeafOptimized, leaf)
	if status, ok := leaf.OptimizationStatus(); ok {
		e.Message = "linear optimization status: " + string(status)
	}
	t.emit(ctx, e)
	return nil
}

// updateOptimalLeaf promotes leaf when it improves enough on the previous
// depth and is cheaper than the current best.
func (t *SearchTree) updateOptimalLeaf(leaf *Leaf) {
	if t.improvedEnough(leaf) && costOf(leaf) < costOf(t.optimal) {
		t.optimal = leaf
	}
}

// stopCriterionReached reports whether leaf ends the search.
func (t *SearchTree) stopCriterionReached(leaf *Leaf) bool {
	res, err := leaf.Objective()
	if err != nil {
		return false
	}
	if res.VirtualCost() > virtualCostTolerance {
		return false
	}
	if t.in.Objective.IsPurelyVirtual() && res.VirtualCost() < virtualCostTolerance {
		t.logger.Debug("Perimeter is purely virtual and virtual cost is zero, exiting search tree")
		return true
	}
	if t.params.Optimizer.Objective.CostOptimization() {
		return res.Cost() < virtualCostTolerance
	}
	switch t.params.Tree.StopCriterion {
	case AtTargetObjectiveValue:
		return res.Cost() < t.params.Tree.TargetObjectiveValue
	default:
		return false
	}
}

// improvedEnough reports whether leaf beats the previous depth's best leaf
// by more than the minimum impact thresholds.
func (t *SearchTree) improvedEnough(leaf *Leaf) bool {
	relative := math.Max(t.params.Tree.RelativeMinImpact, 0)
	absolute := math.Max(t.params.Tree.AbsoluteMinImpact, 0)
	previous := costOf(t.previousDepthOptimal)
	current := costOf(leaf)
	if previous > current && t.stopCriterionReached(leaf) {
		return true
	}
	return previous-absolute > current && (1-signum(previous)*relative)*previous > current
}

func (t *SearchTree) complete(ctx context.Context, best *Leaf) *Leaf {
	t.logger.Info("Search tree completed",
		slog.String("leaf", best.String()),
		slog.String("state", string(best.State())),
		slog.Int("depth", t.depth))
	t.logMostLimitingElements(best, t.params.Observability.LoggedElementsEndTree)
	t.emit(ctx, t.leafEvent(report.KindSearchCompleted, best))
	return best
}

func (t *SearchTree) logMostLimitingElements(leaf *Leaf, n int) {
	elements, err := leaf.MostLimitingElements(n)
	if err != nil {
		return
	}
	unit := t.params.Optimizer.Unit
	for i, cnec := range elements {
		flow, err := leaf.Flow(cnec)
		if err != nil {
			return
		}
		t.logger.Info("Limiting element",
			slog.Int("rank", i+1),
			slog.String("cnec", cnec.ID),
			slog.String("margin", report.RoundCost(cnec.Margin(flow, unit))),
			slog.String("unit", string(unit)))
	}
}

func (t *SearchTree) leafEvent(kind report.Kind, leaf *Leaf) report.Event {
	e := report.Event{
		Kind:   kind,
		Leaf:   leaf.Identifier(),
		Parent: leaf.parent,
		Status: string(leaf.State()),
	}
	if c := leaf.Combination(); c != nil {
		e.Combination = c.Key()
	}
	if res, err := leaf.Objective(); err == nil {
		e.Cost = res.Cost()
		e.FunctionalCost = res.FunctionalCost()
		e.VirtualCosts = res.VirtualCostDetails()
	}
	return e
}

func (t *SearchTree) skip(ctx context.Context, parent *Leaf, c *combination.Combination) {
	const reason = "ordered after a combination reaching the stop criterion"
	recordLeaf("SKIPPED")
	t.tracer.TraceSkipped(ctx, c.Key(), reason)
	t.emit(ctx, report.Event{
		Kind:        report.KindLeafSkipped,
		Leaf:        childIdentifier(parent, c),
		Parent:      parent.Identifier(),
		Combination: c.Key(),
		Message:     reason,
	})
}

func (t *SearchTree) reject(ctx context.Context, leaf string, parent *Leaf, c *combination.Combination, reason string) {
	recordLeaf(string(StateError))
	t.emit(ctx, report.Event{
		Kind:        report.KindLeafRejected,
		Leaf:        leaf,
		Parent:      parent.Identifier(),
		Combination: c.Key(),
		Status:      string(StateError),
		Message:     reason,
	})
}

func (t *SearchTree) emit(ctx context.Context, e report.Event) {
	if err := t.sink.Emit(ctx, e); err != nil && !errors.Is(err, report.ErrSinkClosed) {
		t.logger.Warn("report sink failed", slog.String("kind", string(e.Kind)), slog.String("error", err.Error()))
	}
}

// stopMarker holds the lowest index, in exploration order, of a child that
// met the stop criterion.
type stopMarker struct {
	mu    sync.Mutex
	index int
}

// after reports whether index is ordered after the marked child.
func (s *stopMarker) after(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return index > s.index
}

func (s *stopMarker) mark(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < s.index {
		s.index = index
	}
}

func (s *stopMarker) first() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func costOf(leaf *Leaf) float64 {
	cost, err := leaf.Cost()
	if err != nil {
		return math.Inf(1)
	}
	return cost
}

func signum(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// String summarizes the search state for logs.
func (t *SearchTree) String() string {
	if t.optimal == nil {
		return "search tree " + t.runID + " not run"
	}
	return "search tree " + t.runID + " at depth " + strconv.Itoa(t.depth) + ": " + t.optimal.String()
}
