// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bloomer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/filters"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
)

type stubLeaf struct {
	networkActions []*crac.DiscreteAction
	rangeActions   []*crac.RangeAction
	state          *network.Snapshot
}

func (l *stubLeaf) ActivatedNetworkActions() []*crac.DiscreteAction { return l.networkActions }
func (l *stubLeaf) ActivatedRangeActions() []*crac.RangeAction     { return l.rangeActions }
func (l *stubLeaf) OptimizedTap(*crac.RangeAction) int             { return 0 }
func (l *stubLeaf) Flow(*crac.FlowCnec) float64                    { return 0 }
func (l *stubLeaf) Margin(*crac.FlowCnec) float64                  { return 0 }
func (l *stubLeaf) Cost() float64                                  { return 0 }
func (l *stubLeaf) MostLimitingElements(int) []*crac.FlowCnec      { return nil }
func (l *stubLeaf) VirtualCostNames() []string                     { return nil }
func (l *stubLeaf) CostlyElements(string, int) []*crac.FlowCnec    { return nil }
func (l *stubLeaf) NetworkState() *network.Snapshot                { return l.state }

func topo(id, operator string) *crac.DiscreteAction {
	return &crac.DiscreteAction{
		ID:                id,
		Operator:          operator,
		Locations:         []network.Country{"FR"},
		ElementaryActions: []crac.ElementaryAction{{Kind: crac.KindTopology, ElementID: id + "_sw", Value: 0}},
	}
}

func keys(cs []filters.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Combination.Key()
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestBloom_Candidates(t *testing.T) {
	na1, na2, na3 := topo("na1", "FR"), topo("na2", "FR"), topo("na3", "BE")
	missing := topo("missing", "FR")
	predefined := []*combination.Combination{
		combination.New([]*crac.DiscreteAction{na1, na2}, combination.WithPredefined()),
		combination.New([]*crac.DiscreteAction{na1, na2}, combination.WithPredefined()),
		combination.New([]*crac.DiscreteAction{na3}, combination.WithPredefined()),
		combination.New([]*crac.DiscreteAction{na1, missing}, combination.WithPredefined()),
	}
	b := New(Config{Predefined: predefined})

	out := b.Bloom(context.Background(), &stubLeaf{}, []*crac.DiscreteAction{na3, na2, na1})

	assert.Equal(t, []string{"na1 + na2", "na3", "na1", "na2"}, keys(out))
	assert.True(t, b.IsPredefined(combination.Of(na2, na1)))
	assert.True(t, b.IsPredefined(combination.Of(na3)))
	assert.False(t, b.IsPredefined(combination.Of(na1)))
}

func TestBloom_FilterOrderAndEvents(t *testing.T) {
	na1, na2, na3 := topo("na1", "FR"), topo("na2", "FR"), topo("na3", "BE")
	rec := report.NewRecorder()
	b := New(Config{
		MaxRa:  intPtr(1),
		MaxTso: intPtr(1),
		Sink:   report.WithRun(rec, "run"),
	})
	assert.Equal(t, []string{
		"already_applied",
		"already_tested",
		"elementary_actions_compatibility",
		"has_impact_on_network",
		"max_remedial_actions",
		"max_tsos",
	}, b.Filters())

	leaf := &stubLeaf{
		networkActions: []*crac.DiscreteAction{na1},
		state:          network.NewSnapshot(map[string]float64{"na1_sw": 0, "na2_sw": 1, "na3_sw": 1}),
	}
	ctx := report.ContextWithDepth(context.Background(), 2)
	out := b.Bloom(ctx, leaf, []*crac.DiscreteAction{na1, na2, na3})

	assert.Empty(t, out, "one network action already uses the only slot")
	events := rec.OfKind(report.KindCombinationsFiltered)
	require.Len(t, events, 2)
	assert.Equal(t, "already_applied", events[0].Filter)
	assert.Equal(t, 1, events[0].Count)
	assert.Equal(t, "max_remedial_actions", events[1].Filter)
	assert.Equal(t, 2, events[1].Count)
	assert.Equal(t, 2, events[1].Depth)
	assert.Equal(t, "run", events[1].RunID)
}

func TestBloom_ResetFlag(t *testing.T) {
	na1, na2 := topo("na1", "FR"), topo("na2", "BE")
	pst := &crac.RangeAction{ID: "pst", Operator: "FR", Kind: crac.KindPST}
	b := New(Config{MaxRa: intPtr(2)})

	leaf := &stubLeaf{rangeActions: []*crac.RangeAction{pst}}
	out := b.Bloom(context.Background(), leaf, []*crac.DiscreteAction{na1, na2})
	require.Len(t, out, 2)
	for _, c := range out {
		assert.False(t, c.ResetRangeActions)
		assert.False(t, b.ShouldResetRangeActions(c.Combination))
	}

	leaf.networkActions = []*crac.DiscreteAction{na1}
	out = b.Bloom(context.Background(), leaf, []*crac.DiscreteAction{na1, na2})
	require.Len(t, out, 1)
	assert.True(t, out[0].ResetRangeActions)
	assert.True(t, b.ShouldResetRangeActions(combination.Of(na2)))
	assert.False(t, b.ShouldResetRangeActions(combination.Of(na1)), "not returned by the last bloom")
}

func TestBloom_FarFilterEnabled(t *testing.T) {
	graph := network.NewCountryGraph([]network.Border{{From: "FR", To: "BE"}})
	b := New(Config{FilterFarElements: true, MaxBoundaries: 1, Graph: graph})
	assert.Contains(t, b.Filters(), "far_from_most_limiting_element")

	b = New(Config{})
	assert.NotContains(t, b.Filters(), "far_from_most_limiting_element")
}
