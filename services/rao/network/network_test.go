// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package network

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setValue struct {
	id string
	v  float64
}

func (m setValue) Apply(s *Snapshot) error { return s.Set(m.id, m.v) }

type failing struct{ err error }

func (m failing) Apply(*Snapshot) error { return m.err }

func TestSnapshot_CopiesInput(t *testing.T) {
	values := map[string]float64{"line": 1}
	s := NewSnapshot(values)
	values["line"] = 0

	v, ok := s.Value("line")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	clone := s.Clone()
	require.NoError(t, clone.Set("line", 0))
	v, _ = s.Value("line")
	assert.Equal(t, 1.0, v, "clone must not alias the original")
}

func TestSnapshot_SetUnknownElement(t *testing.T) {
	s := NewSnapshot(map[string]float64{"line": 1})

	err := s.Set("pst", 2)
	assert.ErrorIs(t, err, ErrUnknownElement)
	_, ok := s.Value("pst")
	assert.False(t, ok)
}

func TestSnapshot_Elements(t *testing.T) {
	s := NewSnapshot(map[string]float64{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, s.Elements())
}

func TestSnapshot_Fingerprint(t *testing.T) {
	a := NewSnapshot(map[string]float64{"line": 1, "pst": 0.5})
	b := NewSnapshot(map[string]float64{"pst": 0.5 + 1e-12, "line": 1})
	c := NewSnapshot(map[string]float64{"line": 0, "pst": 0.5})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "differences below 1e-9 are ignored")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestArena_Branch(t *testing.T) {
	root := NewSnapshot(map[string]float64{"line_a": 1, "line_b": 1})
	arena, rootHandle := NewArena(root)
	require.Equal(t, 1, arena.Live())

	child, err := arena.Branch(rootHandle, setValue{"line_a", 0})
	require.NoError(t, err)
	assert.NotEqual(t, rootHandle, child)

	cs, err := arena.Snapshot(child)
	require.NoError(t, err)
	v, _ := cs.Value("line_a")
	assert.Equal(t, 0.0, v)

	rs, err := arena.Snapshot(rootHandle)
	require.NoError(t, err)
	v, _ = rs.Value("line_a")
	assert.Equal(t, 1.0, v, "branching leaves the parent untouched")

	v, _ = root.Value("line_a")
	assert.Equal(t, 1.0, v, "the arena owns a copy of the root")
	assert.Equal(t, 2, arena.Live())
	assert.Equal(t, 2, arena.Peak())
}

func TestArena_BranchFailure(t *testing.T) {
	arena, root := NewArena(NewSnapshot(map[string]float64{"line": 1}))
	boom := errors.New("boom")

	_, err := arena.Branch(root, setValue{"line", 0}, failing{boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, arena.Live(), "failed branches are not registered")

	_, err = arena.Branch(root, setValue{"pst", 0})
	assert.ErrorIs(t, err, ErrUnknownElement)

	_, err = arena.Branch(Handle(42))
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestArena_Release(t *testing.T) {
	arena, root := NewArena(NewSnapshot(map[string]float64{"line": 1}))
	child, err := arena.Branch(root)
	require.NoError(t, err)

	arena.Release(child)
	arena.Release(child)

	_, err = arena.Snapshot(child)
	assert.ErrorIs(t, err, ErrUnknownHandle)
	assert.Equal(t, 1, arena.Live())
	assert.Equal(t, 2, arena.Peak(), "peak survives releases")
}

func TestArena_ConcurrentBranches(t *testing.T) {
	arena, root := NewArena(NewSnapshot(map[string]float64{"line": 1}))

	const workers = 16
	handles := make([]Handle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := arena.Branch(root, setValue{"line", float64(i)})
			if err == nil {
				handles[i] = h
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[Handle]bool)
	for i, h := range handles {
		require.NotZero(t, h)
		assert.False(t, seen[h], "handles are unique")
		seen[h] = true
		s, err := arena.Snapshot(h)
		require.NoError(t, err)
		v, _ := s.Value("line")
		assert.Equal(t, float64(i), v)
	}
	assert.Equal(t, workers+1, arena.Live())
	assert.Equal(t, workers+1, arena.Peak())
}

func TestCountryGraph_Distance(t *testing.T) {
	g := NewCountryGraph([]Border{
		{From: "FR", To: "BE"},
		{From: "BE", To: "NL"},
		{From: "NL", To: "BE"},
		{From: "NL", To: "DE"},
		{From: "FR", To: "FR"},
		{From: "", To: "DE"},
		{From: "ES", To: "PT"},
	})

	tests := []struct {
		a, b Country
		want int
	}{
		{"FR", "FR", 0},
		{"FR", "BE", 1},
		{"BE", "FR", 1},
		{"FR", "NL", 2},
		{"FR", "DE", 3},
		{"FR", "PT", -1},
		{"FR", "IT", -1},
		{"IT", "IT", 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.a)+"-"+string(tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, g.Distance(tt.a, tt.b))
		})
	}
}

func TestCountryGraph_AreNeighbors(t *testing.T) {
	g := NewCountryGraph([]Border{{From: "FR", To: "BE"}, {From: "BE", To: "NL"}})

	assert.True(t, g.AreNeighbors("FR", "FR", 0))
	assert.False(t, g.AreNeighbors("FR", "BE", 0))
	assert.True(t, g.AreNeighbors("FR", "BE", 1))
	assert.False(t, g.AreNeighbors("FR", "NL", 1))
	assert.True(t, g.AreNeighbors("FR", "NL", 2))
	assert.False(t, g.AreNeighbors("FR", "ES", 10))
}

func TestCountryGraph_AreNeighborsDepthLimit(t *testing.T) {
	g := NewCountryGraph([]Border{
		{From: "FR", To: "BE"},
		{From: "BE", To: "NL"},
		{From: "NL", To: "DE"},
		{From: "FR", To: "DE"},
		{From: "DE", To: "PL"},
	})

	tests := []struct {
		name          string
		a, b          Country
		maxBoundaries int
		want          bool
	}{
		{"shortcut found within limit", "FR", "DE", 1, true},
		{"two hops over shortcut", "FR", "NL", 2, true},
		{"beyond limit", "BE", "PL", 2, false},
		{"at limit", "BE", "PL", 3, true},
		{"negative limit", "FR", "FR", -1, false},
		{"unknown start", "IT", "FR", 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.AreNeighbors(tt.a, tt.b, tt.maxBoundaries))
		})
	}
	assert.Equal(t, 2, g.Distance("FR", "PL"))
	assert.Equal(t, 3, g.Distance("BE", "PL"))
}
