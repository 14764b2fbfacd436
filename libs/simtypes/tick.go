package simtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one instantaneous market quote. Immutable once produced by the
// external tick stream; every downstream component only reads it.
type Tick struct {
	Timestamp   time.Time // UTC, nanosecond precision
	Symbol      string
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	RealVolume  int64 // 0 if not reported
	TickVolume  int64 // 0 if not reported
	SpreadPoints decimal.Decimal
}

// Mid returns the midpoint price, used for bar rendering.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Valid reports whether the tick satisfies §3's invariants: bid > 0,
// ask > 0, ask >= bid.
func (t Tick) Valid() bool {
	if t.Bid.LessThanOrEqual(decimal.Zero) || t.Ask.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return t.Ask.GreaterThanOrEqual(t.Bid)
}

// BarType distinguishes bars rendered from real ticks from bars synthesized
// to fill a gap in the timeline.
type BarType string

const (
	BarReal      BarType = "real"
	BarSynthetic BarType = "synthetic"
)

// Timeframe is a bar aggregation width, expressed as a duration so any
// interval (including non-standard ones) can be configured.
type Timeframe time.Duration

// Bar is an OHLC aggregate over one Timeframe interval for one symbol.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	TickCount int
	BarType   BarType
}
