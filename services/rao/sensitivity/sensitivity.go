// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sensitivity defines the flow and sensitivity computation consumed
// by the search tree, plus a linear implementation and a caching wrapper.
package sensitivity

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// Status is the outcome of one computation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Result holds flows and sensitivities for one network state.
//
// Description:
//
//	Flows are MW on side one, keyed by cnec ID. Sensitivities are MW per
//	setpoint unit (degree for PSTs, MW otherwise), keyed by cnec ID then
//	range-action ID. CommercialFlows is empty unless loop flows are
//	computed.
//
// Thread Safety:
//
//	Read-only once returned by a Computer. Results may be shared between
//	leaves through CachingComputer, so callers must not mutate the maps.
type Result struct {
	Status          Status
	Flows           map[string]float64
	Sensitivities   map[string]map[string]float64
	CommercialFlows map[string]float64
}

// Failed returns a result carrying only a FAILURE status.
func Failed() *Result {
	return &Result{Status: StatusFailure}
}

// IsFailure reports a FAILURE status.
func (r *Result) IsFailure() bool {
	return r == nil || r.Status == StatusFailure
}

// Flow returns the MW flow of a cnec. Unknown cnecs have zero flow.
func (r *Result) Flow(cnecID string) float64 {
	return r.Flows[cnecID]
}

// Sensitivity returns d(flow of cnec)/d(setpoint of range action).
func (r *Result) Sensitivity(cnecID, rangeActionID string) float64 {
	return r.Sensitivities[cnecID][rangeActionID]
}

// CommercialFlow returns the commercial flow of a cnec.
func (r *Result) CommercialFlow(cnecID string) float64 {
	return r.CommercialFlows[cnecID]
}

// LoopFlow returns flow minus commercial flow.
func (r *Result) LoopFlow(cnecID string) float64 {
	return r.Flow(cnecID) - r.CommercialFlow(cnecID)
}

// Computer computes flows and sensitivities on a network state.
//
// Description:
//
//	Compute is synchronous. A computational failure is reported as a
//	FAILURE status, not an error; the error return is reserved for invalid
//	usage such as a cancelled context or a malformed snapshot.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use on distinct snapshots.
type Computer interface {
	Compute(ctx context.Context, s *network.Snapshot) (*Result, error)
}

// ComputerFunc adapts a function to Computer.
type ComputerFunc func(ctx context.Context, s *network.Snapshot) (*Result, error)

// Compute calls f.
func (f ComputerFunc) Compute(ctx context.Context, s *network.Snapshot) (*Result, error) {
	return f(ctx, s)
}

// Describe renders a short status line for logs.
func (r *Result) Describe() string {
	if r == nil {
		return "no result"
	}
	return fmt.Sprintf("%s (%d flows)", r.Status, len(r.Flows))
}
