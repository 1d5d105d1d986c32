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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianRAO/services/rao/report"
)

// maxEventLine bounds one JSON line of an events file.
const maxEventLine = 1 << 20

// writeEvents writes one JSON object per line. Events that cannot be
// encoded, such as infinite costs, are logged and left out.
func writeEvents(w io.Writer, events []report.Event, logger *slog.Logger) error {
	bw := bufio.NewWriter(w)
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			logger.Warn("Event not written",
				slog.String("kind", string(e.Kind)),
				slog.String("leaf", e.Leaf),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := bw.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return nil
}

// readEvents parses a JSON lines events file. Blank lines are skipped.
func readEvents(r io.Reader) ([]report.Event, error) {
	var events []report.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var e report.Event
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// writeFile creates path and hands it to write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
