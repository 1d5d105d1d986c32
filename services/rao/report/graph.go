// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"strconv"

	"github.com/awalterschulze/gographviz"
)

const graphName = "searchtree"

// treeNode is what the DOT export knows about one leaf.
type treeNode struct {
	id       string
	leaf     string
	parent   string
	depth    int
	cost     float64
	hasCost  bool
	status   string
	best     bool
	rejected bool
	skipped  bool
}

// TreeGraph renders the explored tree as Graphviz DOT.
//
// Description:
//
//	Every leaf seen in the events becomes a node labelled with its
//	identifier and last known cost, linked to the leaf it was bloomed
//	from. Best leaves of each depth are filled, rejected leaves are
//	dashed and skipped leaves are grey.
//
// Inputs:
//
//	events - Events of one run, in emission order.
//
// Outputs:
//
//	string - The DOT document.
//	error - Non-nil if the graph cannot be built.
func TreeGraph(events []Event) (string, error) {
	nodes := make(map[string]*treeNode)
	var order []string
	node := func(leaf string) *treeNode {
		n, ok := nodes[leaf]
		if !ok {
			n = &treeNode{id: "n" + strconv.Itoa(len(order)), leaf: leaf}
			nodes[leaf] = n
			order = append(order, leaf)
		}
		return n
	}

	for _, e := range events {
		if e.Leaf == "" {
			continue
		}
		switch e.Kind {
		case KindRootLeafEvaluated, KindLeafEvaluated, KindLeafOptimized, KindStopCriterionReached, KindSearchCompleted:
			n := node(e.Leaf)
			n.cost, n.hasCost = e.Cost, true
			if e.Status != "" {
				n.status = e.Status
			}
			if e.Parent != "" {
				n.parent = e.Parent
			}
			if e.Depth > n.depth {
				n.depth = e.Depth
			}
		case KindDepthBestLeaf:
			node(e.Leaf).best = true
		case KindLeafRejected:
			n := node(e.Leaf)
			n.rejected = true
			if e.Parent != "" {
				n.parent = e.Parent
			}
		case KindLeafSkipped:
			n := node(e.Leaf)
			n.skipped = true
			if e.Parent != "" {
				n.parent = e.Parent
			}
		}
	}

	g := gographviz.NewGraph()
	if err := g.SetName(graphName); err != nil {
		return "", fmt.Errorf("name graph: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("direct graph: %w", err)
	}
	for _, leaf := range order {
		n := nodes[leaf]
		if err := g.AddNode(graphName, n.id, n.attrs()); err != nil {
			return "", fmt.Errorf("add node %q: %w", leaf, err)
		}
	}
	for _, leaf := range order {
		n := nodes[leaf]
		parent, ok := nodes[n.parent]
		if n.parent == "" || !ok {
			continue
		}
		if err := g.AddEdge(parent.id, n.id, true, nil); err != nil {
			return "", fmt.Errorf("add edge %q -> %q: %w", n.parent, leaf, err)
		}
	}
	return g.String(), nil
}

func (n *treeNode) attrs() map[string]string {
	label := n.leaf
	if n.hasCost {
		label += "\ncost: " + RoundCost(n.cost)
	}
	if n.status != "" {
		label += "\n" + n.status
	}
	attrs := map[string]string{
		"label": strconv.Quote(label),
		"shape": "box",
	}
	switch {
	case n.best:
		attrs["style"] = "filled"
		attrs["fillcolor"] = "palegreen"
	case n.rejected:
		attrs["style"] = "dashed"
	case n.skipped:
		attrs["color"] = "grey"
		attrs["fontcolor"] = "grey"
	}
	return attrs
}
