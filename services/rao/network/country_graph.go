// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package network

import (
	"errors"

	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"
)

// Border links two countries sharing at least one interconnection.
type Border struct {
	From Country `yaml:"from" json:"from"`
	To   Country `yaml:"to" json:"to"`
}

// errReached stops the search once the target is visited.
var errReached = errors.New("target reached")

// CountryGraph is the undirected graph of countries and their borders.
//
// Thread Safety:
//
//	Read-only after NewCountryGraph. The underlying core.Graph guards its
//	own reads, so concurrent Distance calls are safe.
type CountryGraph struct {
	graph *core.Graph
}

// NewCountryGraph builds the graph. Self loops and duplicates are ignored.
func NewCountryGraph(borders []Border) *CountryGraph {
	g := core.NewGraph()
	for _, b := range borders {
		if b.From == b.To || b.From == "" || b.To == "" {
			continue
		}
		if g.HasEdge(string(b.From), string(b.To)) {
			continue
		}
		// Validated above: unweighted, no loop, no parallel edge.
		_, _ = g.AddEdge(string(b.From), string(b.To), 0)
	}
	return &CountryGraph{graph: g}
}

// Distance returns the number of borders between a and b, or -1 when b is
// unreachable.
func (g *CountryGraph) Distance(a, b Country) int {
	return g.distance(a, b, 0)
}

// AreNeighbors reports whether a and b are at most maxBoundaries borders
// apart. Zero means same country.
func (g *CountryGraph) AreNeighbors(a, b Country, maxBoundaries int) bool {
	if maxBoundaries < 0 {
		return false
	}
	if a == b {
		return true
	}
	if maxBoundaries == 0 {
		return false
	}
	return g.distance(a, b, maxBoundaries) >= 0
}

// distance runs a breadth-first search from a, stopping at maxDepth borders
// when maxDepth is positive.
func (g *CountryGraph) distance(a, b Country, maxDepth int) int {
	if a == b {
		return 0
	}
	if !g.graph.HasVertex(string(b)) {
		return -1
	}
	target := string(b)
	found := -1
	res, err := bfs.BFS(g.graph, string(a),
		bfs.WithMaxDepth(maxDepth),
		bfs.WithOnVisit(func(id string, depth int) error {
			if id == target {
				found = depth
				return errReached
			}
			return nil
		}),
	)
	if found >= 0 {
		return found
	}
	if err != nil || res == nil {
		return -1
	}
	if d, ok := res.Depth[target]; ok {
		return d
	}
	return -1
}
