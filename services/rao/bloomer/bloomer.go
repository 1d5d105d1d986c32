// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bloomer generates the network-action combinations a leaf can be
// expanded with.
package bloomer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianRAO/services/rao/combination"
	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/filters"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
	"github.com/AleutianAI/AleutianRAO/services/rao/setpoint"
)

var filteredCombinations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rao_bloomer_filtered_combinations_total",
	Help: "Network action combinations removed, by filter",
}, []string{"filter"})

// Config configures a Bloomer. Nil limits are not enforced.
type Config struct {
	// Predefined are the operator combinations, including those detected
	// during a previous search.
	Predefined []*combination.Combination

	MaxRa                      *int
	MaxTso                     *int
	MaxTopoPerTso              map[string]int
	MaxRaPerTso                map[string]int
	MaxElementaryActionsPerTso map[string]int

	// FilterFarElements enables FarFromMostLimitingElement with
	// MaxBoundaries borders on Graph.
	FilterFarElements bool
	MaxBoundaries     int
	Graph             *network.CountryGraph

	// PrePerimeter gives the reference taps of moved PSTs.
	PrePerimeter *setpoint.Result

	// UsageRules filters actions restricted by usage rules. Optional.
	UsageRules *filters.OnFlowConstraint

	Sink   report.Sink
	Logger *slog.Logger
}

// Bloomer builds and filters candidate combinations.
//
// Description:
//
//	Candidates are the predefined combinations whose actions are all
//	available, plus the available actions alone unless they already are a
//	predefined singleton. The filters then run in a fixed order, each one
//	seeing the output of the previous one.
//
// Thread Safety:
//
//	Bloom may be called concurrently, but ShouldResetRangeActions answers
//	for the last completed Bloom. The search tree blooms once per depth.
type Bloomer struct {
	predefined     []*combination.Combination
	predefinedKeys map[string]bool
	chain          []filters.Filter
	sink           report.Sink
	logger         *slog.Logger

	mu     sync.RWMutex
	resets map[string]bool
}

// New builds a Bloomer and its filter chain.
func New(cfg Config) *Bloomer {
	b := &Bloomer{
		predefinedKeys: make(map[string]bool),
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		resets:         make(map[string]bool),
	}
	if b.sink == nil {
		b.sink = report.NopSink{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	for _, c := range cfg.Predefined {
		if c == nil || b.predefinedKeys[c.Key()] {
			continue
		}
		b.predefinedKeys[c.Key()] = true
		b.predefined = append(b.predefined, c)
	}
	b.chain = buildChain(cfg, b.predefined)
	return b
}

func buildChain(cfg Config, predefined []*combination.Combination) []filters.Filter {
	chain := []filters.Filter{
		filters.AlreadyApplied{},
		filters.AlreadyTested{Predefined: predefined},
		filters.ElementaryActionsCompatibility{},
		filters.HasImpactOnNetwork{},
	}
	if cfg.FilterFarElements {
		chain = append(chain, filters.FarFromMostLimitingElement{Graph: cfg.Graph, MaxBoundaries: cfg.MaxBoundaries})
	}
	if len(cfg.MaxElementaryActionsPerTso) > 0 {
		chain = append(chain, filters.MaximumNumberOfElementaryActions{
			MaxPerTso:    cfg.MaxElementaryActionsPerTso,
			PrePerimeter: cfg.PrePerimeter,
		})
	}
	if len(cfg.MaxRaPerTso) > 0 || len(cfg.MaxTopoPerTso) > 0 {
		chain = append(chain, filters.MaximumNumberOfRemedialActionPerTso{
			MaxRaPerTso:   cfg.MaxRaPerTso,
			MaxTopoPerTso: cfg.MaxTopoPerTso,
		})
	}
	if cfg.MaxRa != nil {
		chain = append(chain, filters.MaximumNumberOfRemedialActions{MaxRa: *cfg.MaxRa})
	}
	if cfg.MaxTso != nil {
		chain = append(chain, filters.MaximumNumberOfTsos{MaxTso: *cfg.MaxTso})
	}
	if cfg.UsageRules != nil {
		chain = append(chain, cfg.UsageRules)
	}
	return chain
}

// Filters returns the names of the filters in the order they run.
func (b *Bloomer) Filters() []string {
	out := make([]string, len(b.chain))
	for i, f := range b.chain {
		out[i] = f.Name()
	}
	return out
}

// Bloom returns the combinations leaf can be expanded with.
//
// Inputs:
//
//	ctx - Carries the search depth for report events.
//	leaf - The reference leaf, normally the current best one.
//	available - Every network action of the perimeter.
//
// Outputs:
//
//	[]filters.Candidate - Surviving combinations with their reset flag, in
//	candidate-generation order. The caller sorts them.
func (b *Bloomer) Bloom(ctx context.Context, leaf filters.Leaf, available []*crac.DiscreteAction) []filters.Candidate {
	candidates := b.candidates(available)
	for _, f := range b.chain {
		before := len(candidates)
		candidates = f.Filter(candidates, leaf)
		removed := before - len(candidates)
		if removed == 0 {
			continue
		}
		filteredCombinations.WithLabelValues(f.Name()).Add(float64(removed))
		b.logger.Debug("network action combinations filtered out",
			slog.String("filter", f.Name()),
			slog.Int("removed", removed),
			slog.Int("remaining", len(candidates)),
		)
		if err := b.sink.Emit(ctx, report.Event{
			Kind:   report.KindCombinationsFiltered,
			Filter: f.Name(),
			Count:  removed,
		}); err != nil {
			b.logger.Warn("report sink failed", slog.String("error", err.Error()))
		}
	}

	resets := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		resets[c.Combination.Key()] = c.ResetRangeActions
	}
	b.mu.Lock()
	b.resets = resets
	b.mu.Unlock()
	return candidates
}

func (b *Bloomer) candidates(available []*crac.DiscreteAction) []filters.Candidate {
	ids := make(map[string]bool, len(available))
	for _, a := range available {
		ids[a.ID] = true
	}

	var out []filters.Candidate
	predefinedSingletons := make(map[string]bool)
	for _, c := range b.predefined {
		if !containsAll(ids, c) {
			continue
		}
		out = append(out, filters.Candidate{Combination: c})
		if c.Size() == 1 {
			predefinedSingletons[c.Actions()[0].ID] = true
		}
	}

	sorted := append([]*crac.DiscreteAction(nil), available...)
	crac.SortActions(sorted)
	seen := make(map[string]bool, len(sorted))
	for _, a := range sorted {
		if predefinedSingletons[a.ID] || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, filters.Candidate{Combination: combination.Of(a)})
	}
	return out
}

func containsAll(ids map[string]bool, c *combination.Combination) bool {
	for _, a := range c.Actions() {
		if !ids[a.ID] {
			return false
		}
	}
	return true
}

// IsPredefined reports whether c has the same actions as a predefined
// combination.
func (b *Bloomer) IsPredefined(c *combination.Combination) bool {
	return b.predefinedKeys[c.Key()]
}

// ShouldResetRangeActions reports whether the child built from c must
// start from the pre-perimeter range-action setpoints rather than the
// parent's. False for combinations the last Bloom did not return.
func (b *Bloomer) ShouldResetRangeActions(c *combination.Combination) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resets[c.Key()]
}
