// Package simtypes holds the data model shared across the backtest core:
// ticks, bars, pending orders, positions, trade records, and the closed
// enums that tag them. Nothing in this package executes logic; it is the
// vocabulary every other package in this module speaks.
package simtypes

import "github.com/google/uuid"

// OrderID identifies a PendingOrder for as long as it lives, and a Position
// after it fills (position_id == the id of its opening order, per spec).
type OrderID string

// NewOrderID mints a fresh order id. Not seeded: ids are never part of the
// determinism surface (§9 — "the seeded generator is the only source of
// nondeterminism"), only delay/rejection draws are.
func NewOrderID() OrderID {
	return OrderID(uuid.NewString())
}

// RunID identifies one scenario execution within a batch.
type RunID string

func NewRunID() RunID {
	return RunID(uuid.NewString())
}
