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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAO/services/rao/report"
)

var twoZone = filepath.Join("testdata", "two_zone.yaml")

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRun_Plain(t *testing.T) {
	stdout, stderr, err := execute(t, "run", "--scenario", twoZone, "--plain", "--run-id", "run-1")
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "run_id=run-1\n")
	assert.Contains(t, stdout, "leaf=network action(s): open_a, open_b\n")
	assert.Contains(t, stdout, "cost=-15.00\n")
	assert.Contains(t, stdout, "limiting.1=c1 margin=15.00\n")
	assert.Contains(t, stderr, "Search tree completed", "logs go to stderr")
	assert.NotContains(t, stdout, "Search tree completed")
	assert.Contains(t, stderr, "run_id=run-1")
}

func TestRun_Styled(t *testing.T) {
	stdout, _, err := execute(t, "run", "--scenario", twoZone, "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Search tree result")
	assert.Contains(t, stdout, "open_a, open_b")
	assert.Contains(t, stdout, "Most limiting elements")
}

func TestRun_WritesEventsAndDot(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.jsonl")
	dotPath := filepath.Join(dir, "tree.dot")

	_, stderr, err := execute(t, "run", "--scenario", twoZone, "--plain",
		"--events", eventsPath, "--dot", dotPath, "--log-level", "warn")
	require.NoError(t, err, stderr)

	f, err := os.Open(eventsPath)
	require.NoError(t, err)
	defer f.Close()
	events, err := readEvents(f)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, report.KindRootLeafEvaluated, events[0].Kind)
	assert.Equal(t, report.KindSearchCompleted, events[len(events)-1].Kind)

	dot, err := os.ReadFile(dotPath)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph searchtree")

	stdout, _, err := execute(t, "dot", "--events", eventsPath)
	require.NoError(t, err)
	assert.Equal(t, string(dot), stdout, "dot renders the same tree from the events file")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	badConfig := filepath.Join(dir, "rao.yaml")
	require.NoError(t, os.WriteFile(badConfig, []byte("tree:\n  leaves_in_parallel: 0\n"), 0600))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing scenario flag", []string{"run"}, "scenario"},
		{"unknown log level", []string{"run", "--scenario", twoZone, "--log-level", "chatty"}, "unknown log level"},
		{"missing scenario file", []string{"run", "--scenario", filepath.Join(dir, "absent.yaml")}, "absent.yaml"},
		{"invalid config", []string{"run", "--scenario", twoZone, "--config", badConfig}, "invalid config"},
		{"unexpected argument", []string{"run", "--scenario", twoZone, "extra"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	stdout, _, err := execute(t, "validate", "--scenario", twoZone, "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Scenario two-zone is valid")
	assert.Contains(t, stdout, "1 (1 optimized)")
	assert.NotContains(t, stdout, "could not be computed")
}

func TestValidate_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	data, err := os.ReadFile(twoZone)
	require.NoError(t, err)
	broken := strings.Replace(string(data), "element: line_a, value: 0", "element: line_z, value: 0", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0600))

	_, _, err = execute(t, "validate", "--scenario", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line_z")
}

func TestDot_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(garbage, []byte("{\"kind\":\"leaf_evaluated\"}\nnot json\n"), 0600))

	_, _, err := execute(t, "dot", "--events", garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, _, err = execute(t, "dot", "--events", filepath.Join(dir, "absent.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDot_ToFile(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.jsonl")
	line := `{"kind":"root_leaf_evaluated","leaf":"Root leaf","cost":20,"status":"EVALUATED"}`
	require.NoError(t, os.WriteFile(eventsPath, []byte(line+"\n\n"), 0600))
	out := filepath.Join(dir, "tree.dot")

	stdout, _, err := execute(t, "dot", "--events", eventsPath, "-o", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	dot, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "Root leaf")
}
