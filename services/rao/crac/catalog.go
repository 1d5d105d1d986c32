// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crac

import (
	"fmt"
	"sort"
)

// Catalog indexes the actions and monitored elements of one perimeter.
//
// Description:
//
//	Slices keep the load order; the index maps are built by NewCatalog.
//	Accessors returning slices return them sorted by ID so that every
//	consumer iterates in the same order.
//
// Thread Safety:
//
//	Read-only after NewCatalog. Safe for concurrent use without locking.
type Catalog struct {
	networkActions []*DiscreteAction
	rangeActions   []*RangeAction
	cnecs          []*FlowCnec

	networkActionByID map[string]*DiscreteAction
	rangeActionByID   map[string]*RangeAction
	cnecByID          map[string]*FlowCnec
}

// NewCatalog indexes the given elements and validates them.
//
// Outputs:
//
//	*Catalog - The indexed catalog.
//	error - Wraps ErrInvalidCatalog on duplicate IDs, empty IDs or PSTs
//	without a tap table.
func NewCatalog(networkActions []*DiscreteAction, rangeActions []*RangeAction, cnecs []*FlowCnec) (*Catalog, error) {
	c := &Catalog{
		networkActionByID: make(map[string]*DiscreteAction, len(networkActions)),
		rangeActionByID:   make(map[string]*RangeAction, len(rangeActions)),
		cnecByID:          make(map[string]*FlowCnec, len(cnecs)),
	}
	for _, na := range networkActions {
		if na == nil || na.ID == "" {
			return nil, fmt.Errorf("%w: network action without id", ErrInvalidCatalog)
		}
		if _, dup := c.networkActionByID[na.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate network action %s", ErrInvalidCatalog, na.ID)
		}
		if len(na.ElementaryActions) == 0 {
			return nil, fmt.Errorf("%w: network action %s has no elementary action", ErrInvalidCatalog, na.ID)
		}
		c.networkActionByID[na.ID] = na
		c.networkActions = append(c.networkActions, na)
	}
	for _, ra := range rangeActions {
		if ra == nil || ra.ID == "" {
			return nil, fmt.Errorf("%w: range action without id", ErrInvalidCatalog)
		}
		if _, dup := c.rangeActionByID[ra.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate range action %s", ErrInvalidCatalog, ra.ID)
		}
		if ra.IsPST() && len(ra.Taps) == 0 {
			return nil, fmt.Errorf("%w: pst %s has no tap table", ErrInvalidCatalog, ra.ID)
		}
		sort.Slice(ra.Taps, func(i, j int) bool { return ra.Taps[i].Tap < ra.Taps[j].Tap })
		c.rangeActionByID[ra.ID] = ra
		c.rangeActions = append(c.rangeActions, ra)
	}
	for _, cnec := range cnecs {
		if cnec == nil || cnec.ID == "" {
			return nil, fmt.Errorf("%w: cnec without id", ErrInvalidCatalog)
		}
		if _, dup := c.cnecByID[cnec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate cnec %s", ErrInvalidCatalog, cnec.ID)
		}
		c.cnecByID[cnec.ID] = cnec
		c.cnecs = append(c.cnecs, cnec)
	}
	for _, na := range c.networkActions {
		if na.UsageRule != nil {
			if _, ok := c.cnecByID[na.UsageRule.CnecID]; !ok {
				return nil, fmt.Errorf("%w: usage rule of %s references unknown cnec %s", ErrInvalidCatalog, na.ID, na.UsageRule.CnecID)
			}
		}
	}
	return c, nil
}

// NetworkAction returns the discrete action with the given ID.
func (c *Catalog) NetworkAction(id string) (*DiscreteAction, bool) {
	na, ok := c.networkActionByID[id]
	return na, ok
}

// RangeAction returns the range action with the given ID.
func (c *Catalog) RangeAction(id string) (*RangeAction, bool) {
	ra, ok := c.rangeActionByID[id]
	return ra, ok
}

// Cnec returns the monitored element with the given ID.
func (c *Catalog) Cnec(id string) (*FlowCnec, bool) {
	cnec, ok := c.cnecByID[id]
	return cnec, ok
}

// NetworkActions returns every discrete action sorted by ID.
func (c *Catalog) NetworkActions() []*DiscreteAction {
	out := append([]*DiscreteAction(nil), c.networkActions...)
	SortActions(out)
	return out
}

// RangeActions returns every range action sorted by ID.
func (c *Catalog) RangeActions() []*RangeAction {
	out := append([]*RangeAction(nil), c.rangeActions...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cnecs returns every monitored element sorted by ID.
func (c *Catalog) Cnecs() []*FlowCnec {
	out := append([]*FlowCnec(nil), c.cnecs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OptimizedCnecs returns the elements whose margin drives the objective.
func (c *Catalog) OptimizedCnecs() []*FlowCnec {
	var out []*FlowCnec
	for _, cnec := range c.Cnecs() {
		if cnec.Optimized {
			out = append(out, cnec)
		}
	}
	return out
}

// SortActions sorts discrete actions by ID in place.
func SortActions(actions []*DiscreteAction) {
	sort.Slice(actions, func(i, j int) bool { return actions[i].ID < actions[j].ID })
}
