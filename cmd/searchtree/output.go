// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorDeep    = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	labelStyle   = lipgloss.NewStyle().Foreground(colorSlate).Width(26)
	valueStyle   = lipgloss.NewStyle().Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDeep).
			Padding(0, 1)
)

// limitingElement is one line of the most limiting elements table.
type limitingElement struct {
	cnec   string
	flow   float64
	margin float64
}

// rangeActionSetpoint is the optimized position of an activated range
// action. tap is only meaningful for PSTs.
type rangeActionSetpoint struct {
	id       string
	setpoint float64
	tap      int
	pst      bool
}

// summary is what run prints once the search is over.
type summary struct {
	runID          string
	scenario       string
	leaf           string
	state          string
	depth          int
	cost           float64
	functionalCost float64
	virtualCosts   map[string]float64
	rangeActions   []rangeActionSetpoint
	limiting       []limitingElement
	unit           crac.Unit
	cacheHits      int64
	cacheMisses    int64
	elapsed        time.Duration
}

// summarize extracts the printed figures from the returned leaf. A leaf
// without results, which only happens for a failed root, keeps zero costs.
func summarize(tree *searchtree.SearchTree, leaf *searchtree.Leaf, unit crac.Unit, elements int) summary {
	s := summary{
		runID: tree.RunID(),
		leaf:  leaf.Identifier(),
		state: string(leaf.State()),
		depth: tree.Depth(),
		unit:  unit,
	}
	if res, err := leaf.Objective(); err == nil {
		s.cost = res.Cost()
		s.functionalCost = res.FunctionalCost()
		s.virtualCosts = res.VirtualCostDetails()
	}
	if activated, err := leaf.ActivatedRangeActions(); err == nil {
		for _, ra := range activated {
			sp := rangeActionSetpoint{id: ra.ID, pst: ra.IsPST()}
			sp.setpoint, _ = leaf.OptimizedSetpoint(ra)
			if sp.pst {
				sp.tap, _ = leaf.OptimizedTap(ra)
			}
			s.rangeActions = append(s.rangeActions, sp)
		}
	}
	if cnecs, err := leaf.MostLimitingElements(elements); err == nil {
		for _, cnec := range cnecs {
			flow, err := leaf.Flow(cnec)
			if err != nil {
				break
			}
			s.limiting = append(s.limiting, limitingElement{
				cnec:   cnec.ID,
				flow:   flow,
				margin: cnec.Margin(flow, unit),
			})
		}
	}
	return s
}

// render formats the summary. plain drops styling and prints one
// key=value pair per line, for scripts.
func (s summary) render(plain bool) string {
	if plain {
		return s.renderPlain()
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Run", s.runID)
	if s.scenario != "" {
		row("Scenario", s.scenario)
	}
	row("Best leaf", s.leaf)
	state := s.state
	if s.state == string(searchtree.StateError) {
		state = errorStyle.Render(state)
	}
	row("State", state)
	row("Depth", fmt.Sprintf("%d", s.depth))
	row("Cost", report.RoundCost(s.cost))
	row("  functional", report.RoundCost(s.functionalCost))
	for _, name := range sortedKeys(s.virtualCosts) {
		row("  "+name, report.RoundCost(s.virtualCosts[name]))
	}

	if len(s.rangeActions) > 0 {
		b.WriteString("\n" + titleStyle.Render("Range actions") + "\n")
		for _, ra := range s.rangeActions {
			row(ra.id, ra.describe())
		}
	}
	if len(s.limiting) > 0 {
		b.WriteString("\n" + titleStyle.Render("Most limiting elements") + "\n")
		for _, e := range s.limiting {
			margin := fmt.Sprintf("%s %s (flow %s MW)", report.RoundCost(e.margin), s.unit, report.RoundCost(e.flow))
			if e.margin < 0 {
				margin = warningStyle.Render(margin)
			}
			row(e.cnec, margin)
		}
	}

	b.WriteString("\n")
	row("Sensitivity cache", fmt.Sprintf("%d hits, %d misses", s.cacheHits, s.cacheMisses))
	row("Elapsed", s.elapsed.Round(time.Millisecond).String())

	return boxStyle.Render(titleStyle.Render("Search tree result") + "\n\n" + strings.TrimRight(b.String(), "\n"))
}

func (s summary) renderPlain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run_id=%s\n", s.runID)
	fmt.Fprintf(&b, "leaf=%s\n", s.leaf)
	fmt.Fprintf(&b, "state=%s\n", s.state)
	fmt.Fprintf(&b, "depth=%d\n", s.depth)
	fmt.Fprintf(&b, "cost=%s\n", report.RoundCost(s.cost))
	fmt.Fprintf(&b, "functional_cost=%s\n", report.RoundCost(s.functionalCost))
	for _, name := range sortedKeys(s.virtualCosts) {
		fmt.Fprintf(&b, "virtual_cost.%s=%s\n", name, report.RoundCost(s.virtualCosts[name]))
	}
	for _, ra := range s.rangeActions {
		fmt.Fprintf(&b, "range_action.%s=%s\n", ra.id, ra.describe())
	}
	for i, e := range s.limiting {
		fmt.Fprintf(&b, "limiting.%d=%s margin=%s\n", i+1, e.cnec, report.RoundCost(e.margin))
	}
	fmt.Fprintf(&b, "cache_hits=%d\ncache_misses=%d\n", s.cacheHits, s.cacheMisses)
	fmt.Fprintf(&b, "elapsed_ms=%d\n", s.elapsed.Milliseconds())
	return b.String()
}

func (ra rangeActionSetpoint) describe() string {
	if ra.pst {
		return fmt.Sprintf("tap %d (%s°)", ra.tap, report.RoundCost(ra.setpoint))
	}
	return report.RoundCost(ra.setpoint)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
