// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package network models the mutable grid working state seen by the search.
//
// The grid is reduced to the controllable state the search changes: switch
// positions, phase-shifter angles and HVDC or injection setpoints, keyed by
// element ID. Physics lives behind the sensitivity computer.
//
// # Copy-on-branch
//
// Leaves never share a Snapshot. An Arena hands out Handles; Branch copies
// the parent snapshot before applying anything, so a worker mutating its
// own snapshot cannot be observed by another worker.
package network

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrUnknownElement is returned when writing an element that is not part
	// of the network.
	ErrUnknownElement = errors.New("unknown network element")

	// ErrUnknownHandle is returned for a released or foreign handle.
	ErrUnknownHandle = errors.New("unknown snapshot handle")
)

// Country is an ISO country code. The empty string means unknown location.
type Country string

// Snapshot is one copy of the controllable grid state.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. A snapshot belongs to the single leaf
//	that branched it.
type Snapshot struct {
	values map[string]float64
}

// NewSnapshot builds a snapshot from element values. The map is copied.
func NewSnapshot(values map[string]float64) *Snapshot {
	s := &Snapshot{values: make(map[string]float64, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Clone returns an independent deep copy.
func (s *Snapshot) Clone() *Snapshot {
	return NewSnapshot(s.values)
}

// Value returns the state of an element.
func (s *Snapshot) Value(id string) (float64, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Set overwrites the state of an existing element.
func (s *Snapshot) Set(id string, v float64) error {
	if _, ok := s.values[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	s.values[id] = v
	return nil
}

// Elements returns element IDs sorted.
func (s *Snapshot) Elements() []string {
	ids := make([]string, 0, len(s.values))
	for id := range s.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fingerprint hashes the sorted element values. Two snapshots with the same
// fingerprint describe the same state up to 1e-9.
func (s *Snapshot) Fingerprint() uint64 {
	h := fnv.New64a()
	for _, id := range s.Elements() {
		v := math.Round(s.values[id]*1e9) / 1e9
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(strconv.FormatFloat(v, 'g', -1, 64)))
		_, _ = h.Write([]byte{';'})
	}
	return h.Sum64()
}
