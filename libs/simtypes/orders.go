package simtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceOverride is a tri-state sentinel for the modification API (§4.4.5):
// distinguishes "leave unchanged" (the zero value, Set=false) from
// "clear to none" (Set=true, Clear=true) from "set to a new value"
// (Set=true, Clear=false, Value populated).
type PriceOverride struct {
	Set   bool
	Clear bool
	Value decimal.Decimal
}

// Unchanged is the zero-value sentinel meaning "do not touch this field".
var Unchanged = PriceOverride{}

// ClearOverride means "remove this field's existing value".
var ClearOverride = PriceOverride{Set: true, Clear: true}

// SetOverride means "set this field to value".
func SetOverride(value decimal.Decimal) PriceOverride {
	return PriceOverride{Set: true, Clear: false, Value: value}
}

// PendingOrder is an order submitted but not yet filled. Exactly one of the
// sim or live field groups is populated at a time (§3 invariant); this core
// only ever populates the sim group, but the live field names are kept on
// the struct since SimulationExecutor and a future live executor share one
// PendingOrder shape per §9's delegation-not-hierarchy design.
type PendingOrder struct {
	ID        OrderID
	Action    OrderAction
	Type      OrderType
	Symbol    string
	Direction Direction
	Lots      decimal.Decimal
	EntryPrice decimal.Decimal // limit price (LIMIT) or stop price (STOP/STOP_LIMIT)
	LimitPrice decimal.Decimal // only meaningful for STOP_LIMIT: the post-trigger limit
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Comment    string

	// PositionID is set for CLOSE orders: the position being closed.
	PositionID OrderID

	// Simulation-path scheduling.
	PlacedAtTick int
	FillAtTick   int

	// Live-path scheduling (unused by SimulationExecutor; present for
	// interface symmetry with a future live executor, per §9).
	SubmittedAt time.Time
	BrokerRef   string
	TimeoutAt   time.Time

	// FromStopLimit marks an order converted from STOP_LIMIT to LIMIT
	// (§4.4.2's metadata._from_stop_limit).
	FromStopLimit bool
}

// Position is a confirmed open exposure held by the portfolio.
type Position struct {
	ID              OrderID // == id of the order that opened it
	Symbol          string
	Direction       Direction
	Lots            decimal.Decimal
	EntryPrice      decimal.Decimal
	EntryTime       time.Time
	EntryTickIndex  int
	EntryType       OrderType
	StopLoss        *decimal.Decimal
	TakeProfit      *decimal.Decimal
	SpreadCost      decimal.Decimal
	CommissionCost  decimal.Decimal
	SwapCost        decimal.Decimal
	TickValue       decimal.Decimal // snapshot at open, per Open Question #1
	Digits          int32
	ContractSize    decimal.Decimal
}

// TradeRecord is the immutable, append-only audit record of a closed
// round-trip trade.
type TradeRecord struct {
	PositionID      OrderID
	Symbol          string
	Direction       Direction
	Lots            decimal.Decimal
	Digits          int32
	ContractSize    decimal.Decimal
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	EntryTickIndex  int
	ExitTickIndex   int
	EntryTime       time.Time
	ExitTime        time.Time
	SpreadCost      decimal.Decimal
	CommissionCost  decimal.Decimal
	SwapCost        decimal.Decimal
	GrossPnL        decimal.Decimal
	NetPnL          decimal.Decimal
	TickValue       decimal.Decimal
	AccountCurrency string
}

// OrderResult is the sum type recorded to order_history for every pending
// order outcome. Exactly one of the EXECUTED/REJECTED field groups is
// meaningful, selected by Status.
type OrderResult struct {
	OrderID        OrderID
	Status         OrderStatus
	RejectionReason RejectionReason
	ExecutedPrice  decimal.Decimal
	FillType       FillType
}

// WorkerResult is one worker's per-tick output.
type WorkerResult struct {
	WorkerName string
	Value      float64
	Extra      map[string]float64
	Confidence float64
	Metadata   map[string]any
}

// Decision is DecisionLogic.compute's pure output.
type Decision struct {
	Action     DecisionAction
	Confidence float64
	Reason     string
	Price      decimal.Decimal
	Timestamp  time.Time
}
