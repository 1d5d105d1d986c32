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
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// costPlaces is the number of decimals costs are logged with.
const costPlaces = 2

// LogSink writes events as structured log records.
//
// Depth-level events are logged at Info, rejected leaves at Warn and
// per-leaf progress at Debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("kind", string(e.Kind)),
		slog.Int("depth", e.Depth),
	}
	if e.RunID != "" {
		attrs = append(attrs, slog.String("run_id", e.RunID))
	}
	if e.Leaf != "" {
		attrs = append(attrs, slog.String("leaf", e.Leaf))
	}
	if e.Combination != "" {
		attrs = append(attrs, slog.String("combination", e.Combination))
	}
	if e.Status != "" {
		attrs = append(attrs, slog.String("status", e.Status))
	}
	if hasCost(e.Kind) {
		attrs = append(attrs,
			slog.String("cost", RoundCost(e.Cost)),
			slog.String("functional_cost", RoundCost(e.FunctionalCost)),
		)
		names := make([]string, 0, len(e.VirtualCosts))
		for name := range e.VirtualCosts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attrs = append(attrs, slog.String("virtual."+name, RoundCost(e.VirtualCosts[name])))
		}
	}
	if e.Filter != "" {
		attrs = append(attrs, slog.String("filter", e.Filter), slog.Int("count", e.Count))
	} else if e.Count != 0 {
		attrs = append(attrs, slog.Int("count", e.Count))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("detail", e.Message))
	}
	s.logger.LogAttrs(ctx, levelOf(e.Kind), message(e.Kind), attrs...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// RoundCost renders a cost with two decimals, half away from zero.
func RoundCost(v float64) string {
	return decimal.NewFromFloat(v).Round(costPlaces).StringFixed(costPlaces)
}

func hasCost(k Kind) bool {
	switch k {
	case KindRootLeafEvaluated, KindLeafEvaluated, KindLeafOptimized,
		KindDepthBestLeaf, KindStopCriterionReached, KindSearchCompleted:
		return true
	}
	return false
}

func levelOf(k Kind) slog.Level {
	switch k {
	case KindLeafRejected:
		return slog.LevelWarn
	case KindLeafEvaluated, KindLeafOptimized, KindLeafSkipped, KindCombinationsFiltered:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func message(k Kind) string {
	switch k {
	case KindRootLeafEvaluated:
		return "Root leaf evaluated"
	case KindLeafEvaluated:
		return "Leaf evaluated"
	case KindLeafOptimized:
		return "Leaf optimized"
	case KindLeafRejected:
		return "Leaf rejected"
	case KindLeafSkipped:
		return "Skipping leaf optimization"
	case KindCombinationsFiltered:
		return "Network action combinations filtered"
	case KindDepthStarted:
		return "Search depth started"
	case KindDepthBestLeaf:
		return "Search depth best leaf"
	case KindNoBetterLeaf:
		return "No better result found in search depth"
	case KindStopCriterionReached:
		return "Stop criterion reached"
	case KindMaxDepthReached:
		return "Maximum search depth reached"
	case KindNoNetworkAction:
		return "No network action available"
	case KindSearchCompleted:
		return "Search tree completed"
	}
	return string(k)
}
