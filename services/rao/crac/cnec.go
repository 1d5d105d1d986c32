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
	"math"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Unit is the unit margins and costs are expressed in.
type Unit string

const (
	UnitMegawatt Unit = "MW"
	UnitAmpere   Unit = "A"
)

// minPtdfZonalSum keeps relative margins finite on radial elements.
const minPtdfZonalSum = 0.02

// FlowCnec is a monitored element under one contingency state.
//
// Thresholds are in MW. An omitted threshold is treated as ±Inf.
type FlowCnec struct {
	ID                string            `yaml:"id" json:"id"`
	NetworkElement    string            `yaml:"element" json:"element"`
	Operator          string            `yaml:"operator" json:"operator"`
	Locations         []network.Country `yaml:"locations" json:"locations"`
	Min               *float64          `yaml:"min,omitempty" json:"min,omitempty"`
	Max               *float64          `yaml:"max,omitempty" json:"max,omitempty"`
	NominalVoltageKV  float64           `yaml:"nominal_voltage_kv" json:"nominal_voltage_kv"`
	Optimized         bool              `yaml:"optimized" json:"optimized"`
	Monitored         bool              `yaml:"monitored" json:"monitored"`
	LoopFlowThreshold *float64          `yaml:"loop_flow_threshold,omitempty" json:"loop_flow_threshold,omitempty"`
	PtdfZonalSum      float64           `yaml:"ptdf_zonal_sum" json:"ptdf_zonal_sum"`
}

// LowerBound returns the MW lower threshold, -Inf when absent.
func (c *FlowCnec) LowerBound() float64 {
	if c.Min == nil {
		return math.Inf(-1)
	}
	return *c.Min
}

// UpperBound returns the MW upper threshold, +Inf when absent.
func (c *FlowCnec) UpperBound() float64 {
	if c.Max == nil {
		return math.Inf(1)
	}
	return *c.Max
}

// MarginMW returns the distance in MW between flow and the closest
// threshold. Negative margins are overloads.
func (c *FlowCnec) MarginMW(flow float64) float64 {
	return math.Min(c.UpperBound()-flow, flow-c.LowerBound())
}

// Margin returns the margin in unit.
func (c *FlowCnec) Margin(flow float64, unit Unit) float64 {
	return c.MarginMW(flow) * c.UnitFactor(unit)
}

// RelativeMargin divides positive margins by the PTDF zonal sum. Negative
// margins are returned unchanged so overloads are never softened.
func (c *FlowCnec) RelativeMargin(flow float64, unit Unit) float64 {
	m := c.Margin(flow, unit)
	if m < 0 {
		return m
	}
	return m / c.RelativeDenominator()
}

// RelativeDenominator returns the PTDF zonal sum used by relative margins.
func (c *FlowCnec) RelativeDenominator() float64 {
	if c.PtdfZonalSum < minPtdfZonalSum {
		return minPtdfZonalSum
	}
	return c.PtdfZonalSum
}

// UnitFactor converts MW to unit. Amperes need a nominal voltage; without
// one the factor falls back to MW.
func (c *FlowCnec) UnitFactor(unit Unit) float64 {
	if unit != UnitAmpere || c.NominalVoltageKV <= 0 {
		return 1
	}
	return 1000 / (math.Sqrt(3) * c.NominalVoltageKV)
}

// HasUnknownLocation reports whether the element location is unknown.
func (c *FlowCnec) HasUnknownLocation() bool {
	if len(c.Locations) == 0 {
		return true
	}
	for _, l := range c.Locations {
		if l == "" {
			return true
		}
	}
	return false
}
