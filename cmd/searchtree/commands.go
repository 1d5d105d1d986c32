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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRAO/pkg/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	logLevel string
	logDir   string
	json     bool
}

// runOptions are the flags of the run command.
type runOptions struct {
	scenario string
	config   string
	trace    bool
	dot      string
	events   string
	natsURL  string
	subject  string
	runID    string
	plain    bool
}

func newRootCmd() *cobra.Command {
	global := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "searchtree",
		Short: "Search the best network remedial actions of a perimeter",
		Long: `searchtree explores combinations of network (topological) remedial actions
depth by depth, optimizing range actions (PSTs, HVDCs, injections) with a
linear program at each leaf, and reports the cheapest leaf found.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&global.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&global.logDir, "log-dir", "", "Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&global.json, "json", false, "Log to stderr as JSON")

	rootCmd.AddCommand(newRunCmd(global), newValidateCmd(global), newDotCmd())
	return rootCmd
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the search tree on a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSearch(cmd, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Scenario YAML file (required)")
	cmd.Flags().StringVar(&opts.config, "config", "", "Search parameters file, YAML or JSON (RAO_* env vars override it)")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	cmd.Flags().StringVar(&opts.dot, "dot", "", "Write the explored tree as Graphviz DOT to this file")
	cmd.Flags().StringVar(&opts.events, "events", "", "Write search events as JSON lines to this file")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "Publish search events to this NATS server")
	cmd.Flags().StringVar(&opts.subject, "nats-subject", "", "Subject prefix of published events")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier, random when empty")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print the result as key=value lines")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newValidateCmd(global *globalOptions) *cobra.Command {
	var scenarioPath, configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario and the search parameters without searching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateScenario(cmd, global, scenarioPath, configPath)
		},
	}
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML file (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "Search parameters file, YAML or JSON")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newDotCmd() *cobra.Command {
	var eventsPath, out string
	cmd := &cobra.Command{
		Use:   "dot",
		Short: "Render the tree of a recorded run as Graphviz DOT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderDot(cmd, eventsPath, out)
		},
	}
	cmd.Flags().StringVar(&eventsPath, "events", "", "JSON lines events written by run --events (required)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file, stdout when empty")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

// newLogger builds the command logger from the persistent flags.
func (g *globalOptions) newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  g.logDir,
		Service: "searchtree",
		JSON:    g.json,
		Output:  cmd.ErrOrStderr(),
	}), nil
}
