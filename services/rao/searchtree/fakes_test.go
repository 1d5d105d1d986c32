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
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/linearproblem"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/objective"
	"github.com/AleutianAI/AleutianRAO/services/rao/optimizer"
	"github.com/AleutianAI/AleutianRAO/services/rao/sensitivity"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

// flowObjective reads the cost straight from the "cost" and "virtual"
// pseudo-flows produced by switchComputer.
type flowObjective struct {
	purelyVirtual bool
}

func (flowObjective) Evaluate(flows *sensitivity.Result, _ objective.Activation) *objective.Result {
	virtual := map[string]float64{}
	if v := flows.Flow("virtual"); v != 0 {
		virtual["penalty"] = v
	}
	return objective.NewResult(flows.Flow("cost"), virtual, nil, nil)
}

func (o flowObjective) IsPurelyVirtual() bool { return o.purelyVirtual }

// switchComputer prices a snapshot: base plus the delta of every switch
// element set to 1. Switches listed in failing make the computation fail.
type switchComputer struct {
	base    float64
	deltas  map[string]float64
	virtual map[string]float64
	failing map[string]bool
	calls   atomic.Int64
}

func (c *switchComputer) Compute(_ context.Context, s *network.Snapshot) (*sensitivity.Result, error) {
	c.calls.Add(1)
	cost, virtual := c.base, 0.0
	for el, d := range c.deltas {
		if v, _ := s.Value(el); v == 1 {
			if c.failing[el] {
				return sensitivity.Failed(), nil
			}
			cost += d
			virtual += c.virtual[el]
		}
	}
	return &sensitivity.Result{
		Status: sensitivity.StatusSuccess,
		Flows:  map[string]float64{"cost": cost, "virtual": virtual},
	}, nil
}

// fakeOptimizer lowers the evaluated functional cost by gain and keeps the
// setpoints.
type fakeOptimizer struct {
	gain float64

	mu     sync.Mutex
	inputs []optimizer.Input
}

func (f *fakeOptimizer) Optimize(_ context.Context, in optimizer.Input, _ optimizer.Parameters) (*optimizer.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	pre := in.PreOptimObjective
	if pre == nil {
		pre = in.Objective.Evaluate(in.Flows, objective.Activation{RangeActions: in.InitialSetpoints})
	}
	return &optimizer.Result{
		Status:     linearproblem.StatusOptimal,
		Iterations: 1,
		Setpoints:  in.InitialSetpoints.Clone(),
		Flows:      in.Flows,
		Objective:  objective.NewResult(pre.FunctionalCost()-f.gain, pre.VirtualCostDetails(), nil, nil),
	}, nil
}

func (f *fakeOptimizer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func switchAction(id, operator string) *crac.DiscreteAction {
	return &crac.DiscreteAction{
		ID:                id,
		Operator:          operator,
		Locations:         []network.Country{network.Country(operator)},
		ElementaryActions: []crac.ElementaryAction{{Kind: crac.KindTopology, ElementID: id + "_sw", Value: 1}},
	}
}

// fixture is a perimeter whose costs come from switchComputer.
type fixture struct {
	actions  []*crac.DiscreteAction
	pst      *crac.RangeAction
	snapshot *network.Snapshot
	pre      *setpoint.Result
	computer *switchComputer
}

func newFixture(base float64, deltas map[string]float64) *fixture {
	values := map[string]float64{"pst1": 0}
	computerDeltas := make(map[string]float64, len(deltas))
	var actions []*crac.DiscreteAction
	for id, d := range deltas {
		values[id+"_sw"] = 0
		computerDeltas[id+"_sw"] = d
		actions = append(actions, switchAction(id, "FR"))
	}
	crac.SortActions(actions)
	pst := &crac.RangeAction{ID: "pst", Operator: "FR", Kind: crac.KindPST, NetworkElement: "pst1"}
	return &fixture{
		actions:  actions,
		pst:      pst,
		snapshot: network.NewSnapshot(values),
		pre:      setpoint.FromValues([]*crac.RangeAction{pst}, map[string]float64{"pst": 0}),
		computer: &switchComputer{base: base, deltas: computerDeltas},
	}
}

func (f *fixture) input(withRangeActions bool) Input {
	in := Input{
		Network:               f.snapshot,
		NetworkActions:        f.actions,
		PrePerimeterSetpoints: f.pre,
		Objective:             flowObjective{},
		Computer:              f.computer,
	}
	if withRangeActions {
		in.RangeActions = []*crac.RangeAction{f.pst}
	}
	return in
}

func (f *fixture) action(id string) *crac.DiscreteAction {
	for _, a := range f.actions {
		if a.ID == id {
			return a
		}
	}
	return nil
}
