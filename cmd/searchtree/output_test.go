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
	"bytes"
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/report"
)

func sampleSummary() summary {
	return summary{
		runID:          "run-1",
		scenario:       "two-zone",
		leaf:           "network action(s): open_a",
		state:          "OPTIMIZED",
		depth:          1,
		cost:           -9.995,
		functionalCost: -10.5,
		virtualCosts:   map[string]float64{"mnec-cost": 0.5, "loop-flow-cost": 0.005},
		rangeActions: []rangeActionSetpoint{
			{id: "pst_be", setpoint: 1.2, tap: 3, pst: true},
			{id: "hvdc", setpoint: 250},
		},
		limiting: []limitingElement{
			{cnec: "c1", flow: 90, margin: 10},
			{cnec: "c2", flow: 130, margin: -30},
		},
		unit:        crac.UnitMegawatt,
		cacheHits:   4,
		cacheMisses: 2,
		elapsed:     1500 * time.Millisecond,
	}
}

func TestSummary_RenderPlain(t *testing.T) {
	out := sampleSummary().render(true)

	want := []string{
		"run_id=run-1",
		"leaf=network action(s): open_a",
		"state=OPTIMIZED",
		"depth=1",
		"cost=-10.00",
		"functional_cost=-10.50",
		"virtual_cost.loop-flow-cost=0.01",
		"virtual_cost.mnec-cost=0.50",
		"range_action.pst_be=tap 3 (1.20°)",
		"range_action.hvdc=250.00",
		"limiting.1=c1 margin=10.00",
		"limiting.2=c2 margin=-30.00",
		"cache_hits=4",
		"cache_misses=2",
		"elapsed_ms=1500",
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, want, lines)
}

func TestSummary_RenderStyled(t *testing.T) {
	out := sampleSummary().render(false)

	for _, want := range []string{
		"Search tree result",
		"two-zone",
		"network action(s): open_a",
		"Range actions",
		"tap 3 (1.20°)",
		"Most limiting elements",
		"-30.00 MW (flow 130.00 MW)",
		"4 hits, 2 misses",
		"1.5s",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSummary_RenderStyled_NoOptionalSections(t *testing.T) {
	s := summary{runID: "r", leaf: "Root leaf", state: "ERROR"}
	out := s.render(false)

	assert.Contains(t, out, "Root leaf")
	assert.Contains(t, out, "ERROR")
	assert.NotContains(t, out, "Range actions")
	assert.NotContains(t, out, "Most limiting elements")
}

func TestWriteEvents_SkipsUnencodable(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	events := []report.Event{
		{Kind: report.KindRootLeafEvaluated, Leaf: "Root leaf", Cost: 20},
		{Kind: report.KindLeafEvaluated, Leaf: "network action(s): open_a", Cost: math.Inf(1)},
		{Kind: report.KindSearchCompleted, Leaf: "Root leaf", Cost: 20},
	}

	require.NoError(t, writeEvents(&out, events, logger))

	back, err := readEvents(&out)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, report.KindRootLeafEvaluated, back[0].Kind)
	assert.Equal(t, report.KindSearchCompleted, back[1].Kind)
	assert.Contains(t, logs.String(), "Event not written")
	assert.Contains(t, logs.String(), "open_a")
}

func TestReadEvents_Empty(t *testing.T) {
	events, err := readEvents(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestInitTracing(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var buf bytes.Buffer
	shutdown, err := initTracing(&buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "searchtree.Run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "searchtree.Run")
	assert.Contains(t, buf.String(), serviceName)
}
