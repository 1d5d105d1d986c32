// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package combination

import (
	"sort"
	"strings"
)

// PredefinedFunc tells whether a combination belongs to the operator's
// predefined list. The bloomer provides it.
type PredefinedFunc func(*Combination) bool

// Compare is the exploration order of the search tree.
//
// Description:
//
//	Negative when a must be explored before b. Priority goes to
//	combinations detected during a previous search, then predefined ones,
//	then larger ones, then the CRC32 hash of the concatenated ID. The
//	concatenated ID breaks the (rare) hash collisions so that Compare is a
//	total order on distinct keys.
//
// Inputs:
//
//	a, b - Combinations to compare.
//	predefined - May be nil, in which case the combination flag is used.
func Compare(a, b *Combination, predefined PredefinedFunc) int {
	if a.IsDetectedDuringSearch() != b.IsDetectedDuringSearch() {
		if a.IsDetectedDuringSearch() {
			return -1
		}
		return 1
	}
	pa, pb := isPredefined(a, predefined), isPredefined(b, predefined)
	if pa != pb {
		if pa {
			return -1
		}
		return 1
	}
	if a.Size() != b.Size() {
		if a.Size() > b.Size() {
			return -1
		}
		return 1
	}
	ha, hb := a.Hash(), b.Hash()
	if ha != hb {
		if ha < hb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Key(), b.Key())
}

// Sort orders combinations in place with Compare.
func Sort(cs []*Combination, predefined PredefinedFunc) {
	sort.SliceStable(cs, func(i, j int) bool {
		return Compare(cs[i], cs[j], predefined) < 0
	})
}

func isPredefined(c *Combination, predefined PredefinedFunc) bool {
	if predefined != nil {
		return predefined(c)
	}
	return c.IsPredefined()
}
