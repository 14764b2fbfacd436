package barrender

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"jax-backtest-core/libs/simtypes"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func tick(ts time.Time, bid, ask string) simtypes.Tick {
	return simtypes.Tick{Symbol: "EURUSD", Timestamp: ts, Bid: d(bid), Ask: d(ask)}
}

func TestBarAggregationWithinInterval(t *testing.T) {
	r := New(0)
	tf := time.Minute
	r.EnsureSeries("EURUSD", tf)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.ProcessTick(tick(base, "1.1000", "1.1002"))
	r.ProcessTick(tick(base.Add(10*time.Second), "1.1005", "1.1007"))
	r.ProcessTick(tick(base.Add(20*time.Second), "0.9990", "0.9992"))

	bar, ok := r.CurrentBar("EURUSD", tf)
	if !ok {
		t.Fatal("expected an in-progress bar")
	}
	if bar.TickCount != 3 {
		t.Fatalf("expected 3 ticks folded, got %d", bar.TickCount)
	}
	if !bar.High.GreaterThanOrEqual(bar.Open) || !bar.High.GreaterThanOrEqual(bar.Close) {
		t.Fatalf("high invariant violated: %+v", bar)
	}
	if !bar.Low.LessThanOrEqual(bar.Open) || !bar.Low.LessThanOrEqual(bar.Close) {
		t.Fatalf("low invariant violated: %+v", bar)
	}
}

func TestBarClosesOnIntervalBoundary(t *testing.T) {
	r := New(0)
	tf := time.Minute
	r.EnsureSeries("EURUSD", tf)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.ProcessTick(tick(base, "1.1000", "1.1002"))
	closed := r.ProcessTick(tick(base.Add(70*time.Second), "1.1010", "1.1012"))

	if len(closed) == 0 {
		t.Fatal("expected at least one closed bar")
	}
	if closed[0].TickCount != 1 {
		t.Fatalf("expected the closed bar to have exactly the first tick, got %d", closed[0].TickCount)
	}

	hist := r.History("EURUSD", tf)
	if len(hist) != 1 {
		t.Fatalf("expected 1 bar in history, got %d", len(hist))
	}
}

func TestSyntheticBarsFillGaps(t *testing.T) {
	r := New(0)
	tf := time.Minute
	r.EnsureSeries("EURUSD", tf)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.ProcessTick(tick(base, "1.1000", "1.1002"))
	// Jump 3 minutes ahead: expect 2 synthetic bars between.
	r.ProcessTick(tick(base.Add(3*time.Minute+5*time.Second), "1.1050", "1.1052"))

	hist := r.History("EURUSD", tf)
	if len(hist) != 3 {
		t.Fatalf("expected 3 bars (1 real + 2 synthetic), got %d", len(hist))
	}
	syntheticCount := 0
	for _, b := range hist[1:] {
		if b.BarType == simtypes.BarSynthetic {
			syntheticCount++
		}
	}
	if syntheticCount != 2 {
		t.Fatalf("expected 2 synthetic bars, got %d", syntheticCount)
	}
}

func TestHistoryRingCap(t *testing.T) {
	r := New(2)
	tf := time.Second
	r.EnsureSeries("EURUSD", tf)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.ProcessTick(tick(base.Add(time.Duration(i)*time.Second), "1.1000", "1.1002"))
	}
	hist := r.History("EURUSD", tf)
	if len(hist) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(hist))
	}
}
