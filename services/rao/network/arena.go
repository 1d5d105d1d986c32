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
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle addresses one snapshot in an Arena.
type Handle uint64

// Mutation is applied to a freshly branched snapshot before it is
// published. Discrete actions satisfy it through their Apply method.
type Mutation interface {
	Apply(s *Snapshot) error
}

// Arena owns every snapshot of one search.
//
// Description:
//
//	The root snapshot is never mutated after NewArena. Each Branch call
//	copies its parent and applies mutations to the copy, so a failed branch
//	leaves nothing behind and a successful one is owned by the caller until
//	Release.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. The snapshot returned by
//	Snapshot is owned by the handle holder and must not be shared.
type Arena struct {
	mu        sync.RWMutex
	snapshots map[Handle]*Snapshot
	next      atomic.Uint64
	peak      atomic.Int64
}

// NewArena stores root and returns its handle.
func NewArena(root *Snapshot) (*Arena, Handle) {
	a := &Arena{snapshots: make(map[Handle]*Snapshot)}
	h := Handle(a.next.Add(1))
	a.snapshots[h] = root.Clone()
	a.peak.Store(1)
	return a, h
}

// Branch copies parent and applies mutations in order.
//
// Outputs:
//
//	Handle - The new snapshot handle, zero on error.
//	error - ErrUnknownHandle, or the first mutation error.
func (a *Arena) Branch(parent Handle, mutations ...Mutation) (Handle, error) {
	a.mu.RLock()
	src, ok := a.snapshots[parent]
	var clone *Snapshot
	if ok {
		clone = src.Clone()
	}
	a.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownHandle, parent)
	}

	for _, m := range mutations {
		if err := m.Apply(clone); err != nil {
			return 0, err
		}
	}

	h := Handle(a.next.Add(1))
	a.mu.Lock()
	a.snapshots[h] = clone
	live := int64(len(a.snapshots))
	a.mu.Unlock()

	for {
		p := a.peak.Load()
		if live <= p || a.peak.CompareAndSwap(p, live) {
			break
		}
	}
	return h, nil
}

// Snapshot returns the snapshot behind h.
func (a *Arena) Snapshot(h Handle) (*Snapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.snapshots[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return s, nil
}

// Release frees the snapshot behind h. Releasing twice is a no-op.
func (a *Arena) Release(h Handle) {
	a.mu.Lock()
	delete(a.snapshots, h)
	a.mu.Unlock()
}

// Live returns the number of snapshots currently held.
func (a *Arena) Live() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.snapshots)
}

// Peak returns the largest number of snapshots held at once.
func (a *Arena) Peak() int {
	return int(a.peak.Load())
}
