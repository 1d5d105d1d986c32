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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRAO/services/rao/report"
	"github.com/AleutianAI/AleutianRAO/services/rao/scenario"
	"github.com/AleutianAI/AleutianRAO/services/rao/searchtree"
)

// runSearch loads the scenario, runs the search and prints the best leaf.
//
// Description:
//
//	Events go to the log, to an in-memory recorder feeding --dot and
//	--events, and to NATS when --nats-url is set. An interrupt cancels
//	the search; the best leaf found so far is still printed and the
//	command fails with the context error.
func runSearch(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	logger, err := global.newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	params, err := searchtree.LoadParameters(opts.config)
	if err != nil {
		return err
	}
	if opts.trace {
		params.Observability.TracingEnabled = true
		shutdown, err := initTracing(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("Tracer shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := scenario.Load(opts.scenario)
	if err != nil {
		return err
	}
	perimeter, err := sc.Build(ctx, params, log)
	if err != nil {
		return err
	}

	recorder := report.NewRecorder()
	sinks := []report.Sink{report.NewLogSink(log), recorder}
	if opts.natsURL != "" {
		natsSink, err := report.DialNATS(opts.natsURL, opts.subject)
		if err != nil {
			return err
		}
		sinks = append(sinks, natsSink)
	}
	sink, err := report.NewMultiSink(sinks...)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("Closing report sinks failed", slog.String("error", err.Error()))
		}
	}()

	tree, err := searchtree.New(perimeter.Input, params,
		searchtree.WithLogger(log),
		searchtree.WithSink(sink),
		searchtree.WithRunID(opts.runID),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	best, runErr := tree.Run(ctx)
	elapsed := time.Since(start)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return fmt.Errorf("search %s: %w", tree.RunID(), runErr)
	}

	s := summarize(tree, best, params.Optimizer.Unit, params.Observability.LoggedElementsEndTree)
	s.scenario = sc.Name
	s.cacheHits, s.cacheMisses = perimeter.Cache.Stats()
	s.elapsed = elapsed
	fmt.Fprintln(cmd.OutOrStdout(), s.render(opts.plain))

	events := recorder.Events()
	if opts.events != "" {
		err := writeFile(opts.events, func(w io.Writer) error {
			return writeEvents(w, events, log)
		})
		if err != nil {
			return err
		}
	}
	if opts.dot != "" {
		dot, err := report.TreeGraph(events)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.dot, []byte(dot), 0644); err != nil {
			return fmt.Errorf("write %s: %w", opts.dot, err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("search %s interrupted: %w", tree.RunID(), runErr)
	}
	return nil
}

// validateScenario checks the scenario and the parameters, then prints
// what the search would work on.
func validateScenario(cmd *cobra.Command, global *globalOptions, scenarioPath, configPath string) error {
	logger, err := global.newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()

	params, err := searchtree.LoadParameters(configPath)
	if err != nil {
		return err
	}
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return err
	}
	perimeter, err := sc.Build(cmd.Context(), params, logger.Slog())
	if err != nil {
		return err
	}

	in := perimeter.Input
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Scenario "+sc.Name+" is valid"))
	fmt.Fprintf(out, "%s%d\n", labelStyle.Render("Network actions"), len(in.NetworkActions))
	fmt.Fprintf(out, "%s%d\n", labelStyle.Render("Range actions"), len(in.RangeActions))
	fmt.Fprintf(out, "%s%d (%d optimized)\n", labelStyle.Render("Cnecs"), len(in.Cnecs), len(perimeter.Catalog.OptimizedCnecs()))
	fmt.Fprintf(out, "%s%d\n", labelStyle.Render("Combinations"), len(in.Predefined))
	if in.PrePerimeterFlows == nil {
		fmt.Fprintln(out, warningStyle.Render("Pre-perimeter flows could not be computed"))
	}
	return nil
}

// renderDot prints the tree of a recorded events file.
func renderDot(cmd *cobra.Command, eventsPath, out string) error {
	f, err := os.Open(eventsPath)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer f.Close()

	events, err := readEvents(f)
	if err != nil {
		return fmt.Errorf("%s: %w", eventsPath, err)
	}
	dot, err := report.TreeGraph(events)
	if err != nil {
		return err
	}
	if out == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), dot)
		return err
	}
	if err := os.WriteFile(out, []byte(dot), 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}
