// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report carries the structured events of a search to whoever
// wants them.
//
// The search never writes reports itself. It emits an Event per leaf
// transition and per depth into a Sink handed to it, and NopSink is the
// default for library use.
package report

import (
	"context"
	"errors"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrSinkClosed is returned when emitting into a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a MultiSink with no children.
	ErrNoSinks = errors.New("at least one sink is required")
)

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// Kind identifies what happened.
type Kind string

const (
	KindRootLeafEvaluated    Kind = "root_leaf_evaluated"
	KindLeafEvaluated        Kind = "leaf_evaluated"
	KindLeafOptimized        Kind = "leaf_optimized"
	KindLeafRejected         Kind = "leaf_rejected"
	KindLeafSkipped          Kind = "leaf_skipped"
	KindCombinationsFiltered Kind = "combinations_filtered"
	KindDepthStarted         Kind = "depth_started"
	KindDepthBestLeaf        Kind = "depth_best_leaf"
	KindNoBetterLeaf         Kind = "no_better_leaf"
	KindStopCriterionReached Kind = "stop_criterion_reached"
	KindMaxDepthReached      Kind = "max_depth_reached"
	KindNoNetworkAction      Kind = "no_network_action"
	KindSearchCompleted      Kind = "search_completed"
)

// Event is one structured report entry.
//
// Description:
//
//	Only the fields relevant to Kind are set. Leaf is the identifier of
//	the leaf concerned and Parent the identifier of the leaf it was
//	bloomed from. Costs are in the objective unit.
//
// Thread Safety: Immutable once emitted; sinks must not modify it.
type Event struct {
	RunID          string             `json:"run_id"`
	Kind           Kind               `json:"kind"`
	Depth          int                `json:"depth"`
	Leaf           string             `json:"leaf,omitempty"`
	Parent         string             `json:"parent,omitempty"`
	Combination    string             `json:"combination,omitempty"`
	Status         string             `json:"status,omitempty"`
	Cost           float64            `json:"cost"`
	FunctionalCost float64            `json:"functional_cost"`
	VirtualCosts   map[string]float64 `json:"virtual_costs,omitempty"`
	Count          int                `json:"count,omitempty"`
	Filter         string             `json:"filter,omitempty"`
	Message        string             `json:"message,omitempty"`
	Time           time.Time          `json:"time"`
}

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink receives search events.
//
// Description:
//
//	Emit errors are reported by the caller but never stop a search.
//
// Thread Safety: All implementations must be safe for concurrent use;
// leaves of one depth emit from several workers.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// MultiSink forwards every event to several sinks.
//
// Description:
//
//	Errors from individual sinks are joined; one failing sink does not
//	prevent the others from receiving the event.
//
// Thread Safety: Safe for concurrent use.
type MultiSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewMultiSink creates a MultiSink. Nil sinks are ignored.
//
// Outputs:
//
//	*MultiSink - The composite. Never nil on success.
//	error - ErrNoSinks when no non-nil sink is given.
func NewMultiSink(sinks ...Sink) (*MultiSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &MultiSink{sinks: valid}, nil
}

// Emit implements Sink.
func (m *MultiSink) Emit(ctx context.Context, e Event) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := m.sinks
	m.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every child sink. Idempotent.
func (m *MultiSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sinks := m.sinks
	m.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Run scoping
// -----------------------------------------------------------------------------

type depthKey struct{}

// ContextWithDepth attaches the current search depth to ctx.
func ContextWithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFromContext returns the depth attached by ContextWithDepth, or 0.
func DepthFromContext(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// stampedSink fills the run-scoped fields of every event.
type stampedSink struct {
	inner Sink
	runID string
	now   func() time.Time
}

// WithRun wraps sink so every event carries runID, the depth found in the
// emitting context when the event has none, and a timestamp.
func WithRun(sink Sink, runID string) Sink {
	if sink == nil {
		sink = NopSink{}
	}
	return &stampedSink{inner: sink, runID: runID, now: time.Now}
}

// Emit implements Sink.
func (s *stampedSink) Emit(ctx context.Context, e Event) error {
	if e.RunID == "" {
		e.RunID = s.runID
	}
	if e.Depth == 0 {
		e.Depth = DepthFromContext(ctx)
	}
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	return s.inner.Emit(ctx, e)
}

// Close implements Sink.
func (s *stampedSink) Close() error { return s.inner.Close() }
