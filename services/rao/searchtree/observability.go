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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "aleutian.rao.searchtree"

// Tracer provides OpenTelemetry tracing for search-tree operations.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new tracer.
//
// Inputs:
//   - logger: Logger for structured logging (can be nil).
//   - config: Observability configuration.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, config ObservabilityConfig) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: config.TracingEnabled,
	}
}

// StartRun starts a span for a whole search.
//
// Inputs:
//   - ctx: Parent context.
//   - runID: Identifier stamped on report events.
//   - networkActions: Number of available network actions.
//   - params: Search parameters.
//
// Outputs:
//   - context.Context: Context with span.
//   - trace.Span: The created span (noop if tracing disabled).
func (t *Tracer) StartRun(ctx context.Context, runID string, networkActions int, params Parameters) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "searchtree.run",
		trace.WithAttributes(
			attribute.String("searchtree.run_id", runID),
			attribute.Int("searchtree.network_actions", networkActions),
			attribute.Int("searchtree.max_depth", params.Tree.MaxDepth),
			attribute.Int("searchtree.leaves_in_parallel", params.Tree.LeavesInParallel),
			attribute.String("searchtree.stop_criterion", string(params.Tree.StopCriterion)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.InfoContext(ctx, "Search tree run started",
		slog.String("run_id", runID),
		slog.Int("network_actions", networkActions),
		slog.Int("max_depth", params.Tree.MaxDepth),
	)
	return ctx, span
}

// EndRun completes the run span.
//
// Inputs:
//   - span: The span to end.
//   - best: The returned leaf (can be nil).
//   - depth: Deepest completed depth.
//   - err: Error if the run failed.
func (t *Tracer) EndRun(span trace.Span, best *Leaf, depth int, err error) {
	if span == nil {
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(attribute.Int("searchtree.result.depth", depth))
	if best != nil {
		span.SetAttributes(
			attribute.String("searchtree.result.leaf", best.Identifier()),
			attribute.String("searchtree.result.status", string(best.State())),
		)
		if cost, cerr := best.Cost(); cerr == nil {
			span.SetAttributes(attribute.Float64("searchtree.result.cost", cost))
		}
	}
	span.End()
}

// StartDepth starts a span for one depth of the tree.
func (t *Tracer) StartDepth(ctx context.Context, depth, candidates int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "searchtree.depth",
		trace.WithAttributes(
			attribute.Int("searchtree.depth", depth),
			attribute.Int("searchtree.depth.candidates", candidates),
		),
	)
}

// EndDepth completes a depth span.
//
// Inputs:
//   - span: The span to end.
//   - evaluated: Number of children that reached evaluation.
//   - improved: Whether the depth found a better leaf.
func (t *Tracer) EndDepth(span trace.Span, evaluated int, improved bool) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("searchtree.depth.evaluated", evaluated),
		attribute.Bool("searchtree.depth.improved", improved),
	)
	span.End()
}

// StartLeaf starts a span for the evaluation and optimization of one child.
func (t *Tracer) StartLeaf(ctx context.Context, combination string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "searchtree.leaf",
		trace.WithAttributes(attribute.String("searchtree.leaf.combination", combination)),
	)
}

// EndLeaf completes a leaf span.
func (t *Tracer) EndLeaf(span trace.Span, leaf *Leaf, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if leaf != nil {
		span.SetAttributes(attribute.String("searchtree.leaf.status", string(leaf.State())))
		if cost, cerr := leaf.Cost(); cerr == nil {
			span.SetAttributes(attribute.Float64("searchtree.leaf.cost", cost))
		}
	}
	span.End()
}

// TraceSkipped records that a child was not explored.
func (t *Tracer) TraceSkipped(ctx context.Context, combination, reason string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	span.AddEvent("leaf_skipped",
		trace.WithAttributes(
			attribute.String("combination", combination),
			attribute.String("reason", reason),
		),
	)
}

// LoggerWithTrace returns a logger with trace context.
//
// Inputs:
//   - ctx: Context that may contain trace information.
//   - logger: Base logger.
//
// Outputs:
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
