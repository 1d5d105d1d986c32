// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package combination defines the set of discrete actions applied together
// at one search-tree node.
package combination

import (
	"hash/crc32"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRAO/services/rao/crac"
	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// idSeparator joins action IDs in ConcatenatedID.
const idSeparator = " + "

// Combination is an immutable set of discrete actions.
//
// Description:
//
//	Two combinations built from the same actions in any order have the same
//	Key and compare equal with Equal. Actions are stored sorted by ID.
//
// Thread Safety:
//
//	Immutable. Safe for concurrent use.
type Combination struct {
	actions            []*crac.DiscreteAction
	ids                map[string]struct{}
	key                string
	detectedDuringRao  bool
	predefinedOperator bool
}

// Option configures a Combination.
type Option func(*Combination)

// WithDetectedDuringSearch flags a combination found useful by a previous
// search, which gives it the highest exploration priority.
func WithDetectedDuringSearch() Option {
	return func(c *Combination) { c.detectedDuringRao = true }
}

// WithPredefined flags an operator-supplied combination.
func WithPredefined() Option {
	return func(c *Combination) { c.predefinedOperator = true }
}

// New builds a combination. Duplicate actions (same ID) are collapsed.
func New(actions []*crac.DiscreteAction, opts ...Option) *Combination {
	c := &Combination{ids: make(map[string]struct{}, len(actions))}
	for _, a := range actions {
		if a == nil {
			continue
		}
		if _, dup := c.ids[a.ID]; dup {
			continue
		}
		c.ids[a.ID] = struct{}{}
		c.actions = append(c.actions, a)
	}
	crac.SortActions(c.actions)
	ids := make([]string, len(c.actions))
	for i, a := range c.actions {
		ids[i] = a.ID
	}
	c.key = strings.Join(ids, idSeparator)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Of is a shorthand for New without options.
func Of(actions ...*crac.DiscreteAction) *Combination {
	return New(actions)
}

// Actions returns the actions sorted by ID. The slice is a copy.
func (c *Combination) Actions() []*crac.DiscreteAction {
	return append([]*crac.DiscreteAction(nil), c.actions...)
}

// Size returns the number of discrete actions.
func (c *Combination) Size() int { return len(c.actions) }

// Key is the canonical identity used for equality and map keys.
func (c *Combination) Key() string { return c.key }

// ConcatenatedID joins the sorted action IDs.
func (c *Combination) ConcatenatedID() string { return c.key }

// IsDetectedDuringSearch reports the detected-during-search flag.
func (c *Combination) IsDetectedDuringSearch() bool { return c.detectedDuringRao }

// IsPredefined reports the operator-predefined flag.
func (c *Combination) IsPredefined() bool { return c.predefinedOperator }

// Contains reports whether the action with the given ID is in the set.
func (c *Combination) Contains(actionID string) bool {
	_, ok := c.ids[actionID]
	return ok
}

// ContainsAny reports whether any of the given actions is in the set.
func (c *Combination) ContainsAny(actions []*crac.DiscreteAction) bool {
	for _, a := range actions {
		if c.Contains(a.ID) {
			return true
		}
	}
	return false
}

// Equal compares action sets. Flags do not take part in equality.
func (c *Combination) Equal(other *Combination) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.key == other.key
}

// Hash returns the CRC32 of the concatenated ID. Equal combinations have
// equal hashes.
func (c *Combination) Hash() int32 {
	return int32(crc32.ChecksumIEEE([]byte(c.key)))
}

// Operators returns the distinct non-empty operators, sorted.
func (c *Combination) Operators() []string {
	set := make(map[string]struct{})
	for _, a := range c.actions {
		if a.Operator != "" {
			set[a.Operator] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for op := range set {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// ActionsOf returns the number of actions operated by op.
func (c *Combination) ActionsOf(op string) int {
	n := 0
	for _, a := range c.actions {
		if a.Operator == op {
			n++
		}
	}
	return n
}

// ElementaryActionCount sums the elementary actions of every action.
func (c *Combination) ElementaryActionCount() int {
	n := 0
	for _, a := range c.actions {
		n += a.ElementaryActionCount()
	}
	return n
}

// CountryCount returns the number of distinct known countries touched.
func (c *Combination) CountryCount() int {
	set := make(map[network.Country]struct{})
	for _, a := range c.actions {
		for _, l := range a.Locations {
			if l != "" {
				set[l] = struct{}{}
			}
		}
	}
	return len(set)
}

// String returns the concatenated ID.
func (c *Combination) String() string { return c.key }
