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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, Event) error { return f.err }
func (f failingSink) Close() error                      { return f.err }

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	flushed  bool
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *fakePublisher) Flush() error {
	p.flushed = true
	return nil
}

func TestRecorder_ConcurrentEmit(t *testing.T) {
	rec := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := KindLeafEvaluated
			if i%2 == 0 {
				kind = KindLeafOptimized
			}
			_ = rec.Emit(context.Background(), Event{Kind: kind, Count: i})
		}(i)
	}
	wg.Wait()

	assert.Len(t, rec.Events(), 50)
	assert.Len(t, rec.OfKind(KindLeafOptimized), 25)

	require.NoError(t, rec.Close())
	assert.ErrorIs(t, rec.Emit(context.Background(), Event{}), ErrSinkClosed)
	assert.Len(t, rec.Events(), 50)
}

func TestMultiSink(t *testing.T) {
	t.Run("requires a sink", func(t *testing.T) {
		_, err := NewMultiSink(nil, nil)
		assert.ErrorIs(t, err, ErrNoSinks)
	})

	t.Run("forwards despite failures", func(t *testing.T) {
		boom := errors.New("boom")
		a, b := NewRecorder(), NewRecorder()
		m, err := NewMultiSink(a, failingSink{err: boom}, b)
		require.NoError(t, err)

		err = m.Emit(context.Background(), Event{Kind: KindDepthStarted})
		assert.ErrorIs(t, err, boom)
		assert.Len(t, a.Events(), 1)
		assert.Len(t, b.Events(), 1)

		assert.ErrorIs(t, m.Close(), boom)
		assert.NoError(t, m.Close(), "second close is a no-op")
		assert.ErrorIs(t, m.Emit(context.Background(), Event{}), ErrSinkClosed)
	})
}

func TestWithRun(t *testing.T) {
	rec := NewRecorder()
	sink := WithRun(rec, "run-1")
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.(*stampedSink).now = func() time.Time { return fixed }

	ctx := ContextWithDepth(context.Background(), 3)
	require.NoError(t, sink.Emit(ctx, Event{Kind: KindCombinationsFiltered}))
	require.NoError(t, sink.Emit(ctx, Event{Kind: KindDepthBestLeaf, Depth: 2, RunID: "other"}))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "run-1", events[0].RunID)
	assert.Equal(t, 3, events[0].Depth)
	assert.Equal(t, fixed, events[0].Time)
	assert.Equal(t, "other", events[1].RunID)
	assert.Equal(t, 2, events[1].Depth)

	assert.Equal(t, 0, DepthFromContext(context.Background()))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)

	require.NoError(t, sink.Emit(context.Background(), Event{
		Kind:         KindDepthBestLeaf,
		Depth:        1,
		Leaf:         "network action(s): open_line",
		Cost:         -12.3456,
		VirtualCosts: map[string]float64{"mnec-cost": 0.005},
	}))
	require.NoError(t, sink.Emit(context.Background(), Event{Kind: KindLeafRejected, Message: "sensitivity failed"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "Search depth best leaf", first["msg"])
	assert.Equal(t, "-12.35", first["cost"])
	assert.Equal(t, "0.01", first["virtual.mnec-cost"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "sensitivity failed", second["detail"])
}

func TestRoundCost(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{1.005, "1.01"},
		{-2.5, "-2.50"},
		{123.4449, "123.44"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundCost(tt.in), "RoundCost(%v)", tt.in)
	}
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "")

	require.NoError(t, sink.Emit(context.Background(), Event{RunID: "r", Kind: KindLeafOptimized, Cost: 3}))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "rao.searchtree.leaf_optimized", pub.subjects[0])

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, "r", decoded.RunID)
	assert.Equal(t, 3.0, decoded.Cost)

	require.NoError(t, sink.Close())
	assert.True(t, pub.flushed)
	assert.ErrorIs(t, sink.Emit(context.Background(), Event{}), ErrSinkClosed)
}

func TestTreeGraph(t *testing.T) {
	events := []Event{
		{Kind: KindRootLeafEvaluated, Leaf: "Root leaf", Cost: 4, Status: "EVALUATED"},
		{Kind: KindLeafOptimized, Leaf: "Root leaf", Cost: 4, Status: "OPTIMIZED"},
		{Kind: KindCombinationsFiltered, Filter: "max_tsos", Count: 2},
		{Kind: KindLeafEvaluated, Depth: 1, Leaf: "network action(s): na1", Parent: "Root leaf", Cost: 3.5},
		{Kind: KindLeafOptimized, Depth: 1, Leaf: "network action(s): na1", Parent: "Root leaf", Cost: 3},
		{Kind: KindLeafRejected, Depth: 1, Leaf: "network action(s): na2", Parent: "Root leaf"},
		{Kind: KindLeafSkipped, Depth: 1, Leaf: "network action(s): na3", Parent: "Root leaf"},
		{Kind: KindDepthBestLeaf, Depth: 1, Leaf: "network action(s): na1", Cost: 3},
	}

	dot, err := TreeGraph(events)
	require.NoError(t, err)

	assert.Contains(t, dot, "digraph searchtree")
	assert.Contains(t, dot, "n0->n1")
	assert.Contains(t, dot, "n0->n2")
	assert.Contains(t, dot, "n0->n3")
	assert.Contains(t, dot, "cost: 3.00")
	assert.Contains(t, dot, "palegreen")
	assert.Contains(t, dot, "dashed")
	assert.Equal(t, 4, strings.Count(dot, "shape=box"))
}
