package portfolio

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

// TestSingleLongRoundTrip is spec.md §8 scenario 1.
func TestSingleLongRoundTrip(t *testing.T) {
	mgr := New(d("100000"), 500, 0)
	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.00"), Ask: d("144.01")})

	tickValue := d("6.94") // illustrative resolved tick value for USDJPY/JPY account
	entryFee := d("1.0")

	pos, err := mgr.OpenPosition(OpenPositionInput{
		OrderID:        "o1",
		Symbol:         "USDJPY",
		Direction:      simtypes.Long,
		Lots:           d("0.01"),
		EntryPrice:     d("144.01"),
		EntryTime:      time.Now(),
		EntryTickIndex: 100,
		EntryType:      simtypes.OrderMarket,
		EntryFee:       entryFee,
		TickValue:      tickValue,
		Digits:         3,
		ContractSize:   d("100000"),
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.20"), Ask: d("144.21")})

	rec, err := mgr.ClosePosition(ClosePositionInput{
		PositionID:    pos.ID,
		ExitPrice:     d("144.20"),
		ExitTickIndex: 1000,
		ExitTime:      time.Now(),
		ExitFee:       entryFee,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if rec.Direction != simtypes.Long {
		t.Errorf("expected LONG, got %s", rec.Direction)
	}
	if !rec.Lots.Equal(d("0.01")) {
		t.Errorf("expected lots 0.01, got %s", rec.Lots)
	}
	if !rec.GrossPnL.GreaterThan(decimal.Zero) {
		t.Errorf("expected positive gross_pnl, got %s", rec.GrossPnL)
	}
	if rec.ExitTickIndex <= rec.EntryTickIndex {
		t.Errorf("exit_tick_index must be > entry_tick_index")
	}
	wantNet := rec.GrossPnL.Sub(rec.SpreadCost.Add(rec.CommissionCost).Add(rec.SwapCost))
	if !rec.NetPnL.Equal(wantNet) {
		t.Errorf("net_pnl formula violated: got %s want %s", rec.NetPnL, wantNet)
	}
	if len(mgr.TradeHistory()) != 1 {
		t.Errorf("expected exactly one trade record")
	}
}

// TestMarginExhaustion is spec.md §8 scenario 2 (margin check
// portion).
func TestMarginExhaustion(t *testing.T) {
	mgr := New(d("80000"), 500, 0)
	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.00"), Ask: d("144.01")})

	open := func(id simtypes.OrderID) error {
		_, err := mgr.OpenPosition(OpenPositionInput{
			OrderID: id, Symbol: "USDJPY", Direction: simtypes.Long,
			Lots: d("1.0"), EntryPrice: d("144.01"), EntryTime: time.Now(),
			EntryType: simtypes.OrderMarket, TickValue: d("6.94"),
			Digits: 3, ContractSize: d("100000"),
		})
		return err
	}

	if err := open("o1"); err != nil {
		t.Fatalf("order 1 should execute: %v", err)
	}
	if err := open("o2"); err != nil {
		t.Fatalf("order 2 should execute: %v", err)
	}
	err := open("o3")
	if err == nil {
		t.Fatalf("order 3 should be rejected for insufficient margin")
	}
	var marginErr *simtypes.InsufficientMarginError
	if !asInsufficientMargin(err, &marginErr) {
		t.Fatalf("expected InsufficientMarginError, got %T: %v", err, err)
	}
}

func asInsufficientMargin(err error, target **simtypes.InsufficientMarginError) bool {
	if e, ok := err.(*simtypes.InsufficientMarginError); ok {
		*target = e
		return true
	}
	return false
}

// TestZeroBalanceTotalRejection is spec.md §8 scenario 3.
func TestZeroBalanceTotalRejection(t *testing.T) {
	mgr := New(decimal.Zero, 500, 0)
	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.00"), Ask: d("144.01")})

	for i := 0; i < 2; i++ {
		_, err := mgr.OpenPosition(OpenPositionInput{
			OrderID: simtypes.OrderID(string(rune('a' + i))), Symbol: "USDJPY",
			Direction: simtypes.Long, Lots: d("0.01"), EntryPrice: d("144.01"),
			EntryTime: time.Now(), EntryType: simtypes.OrderMarket,
			TickValue: d("6.94"), Digits: 3, ContractSize: d("100000"),
		})
		if err == nil {
			t.Fatalf("open %d should be rejected with zero balance", i)
		}
	}
	if len(mgr.TradeHistory()) != 0 {
		t.Fatalf("expected empty trade history")
	}
}

// TestHedgingMultiplePositions is spec.md §8 scenario 5: two concurrent
// LONGs plus a SHORT on the same symbol, each keyed by its own position_id,
// coexisting rather than netting against one another.
func TestHedgingMultiplePositions(t *testing.T) {
	mgr := New(d("100000"), 500, 0)
	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.00"), Ask: d("144.01")})

	open := func(id simtypes.OrderID, dir simtypes.Direction) *simtypes.Position {
		pos, err := mgr.OpenPosition(OpenPositionInput{
			OrderID: id, Symbol: "USDJPY", Direction: dir,
			Lots: d("0.01"), EntryPrice: d("144.01"), EntryTime: time.Now(),
			EntryType: simtypes.OrderMarket, TickValue: d("6.94"),
			Digits: 3, ContractSize: d("100000"),
		})
		if err != nil {
			t.Fatalf("open %s failed: %v", id, err)
		}
		return pos
	}

	long1 := open("long-1", simtypes.Long)
	long2 := open("long-2", simtypes.Long)
	short1 := open("short-1", simtypes.Short)

	open3 := mgr.GetOpenPositions()
	if len(open3) != 3 {
		t.Fatalf("expected 3 concurrent open positions, got %d", len(open3))
	}

	seen := map[simtypes.OrderID]bool{}
	for _, p := range open3 {
		if seen[p.ID] {
			t.Fatalf("duplicate position_id %s among concurrent positions", p.ID)
		}
		seen[p.ID] = true
	}
	if !seen[long1.ID] || !seen[long2.ID] || !seen[short1.ID] {
		t.Fatalf("expected all three position_ids present, got %v", seen)
	}

	longCount, shortCount := 0, 0
	for _, p := range open3 {
		switch p.Direction {
		case simtypes.Long:
			longCount++
		case simtypes.Short:
			shortCount++
		}
	}
	if longCount != 2 || shortCount != 1 {
		t.Fatalf("expected 2 LONG and 1 SHORT, got %d LONG and %d SHORT", longCount, shortCount)
	}
}

func TestValidateLots(t *testing.T) {
	min, max, step := d("0.01"), d("100"), d("0.01")
	cases := []struct {
		lots    string
		wantErr bool
	}{
		{"0.001", true},
		{"0.015", true},
		{"200.0", true},
		{"0.02", false},
		{"1.00", false},
	}
	for _, c := range cases {
		err := ValidateLots(d(c.lots), min, max, step)
		if (err != nil) != c.wantErr {
			t.Errorf("lots=%s: got err=%v, want err=%v", c.lots, err, c.wantErr)
		}
	}
}

func TestModifyPositionTriState(t *testing.T) {
	mgr := New(d("100000"), 500, 0)
	mgr.UpdatePrices(simtypes.Tick{Symbol: "USDJPY", Bid: d("144.00"), Ask: d("144.01")})
	pos, err := mgr.OpenPosition(OpenPositionInput{
		OrderID: "o1", Symbol: "USDJPY", Direction: simtypes.Long,
		Lots: d("0.01"), EntryPrice: d("144.01"), EntryTime: time.Now(),
		EntryType: simtypes.OrderMarket, TickValue: d("6.94"),
		Digits: 3, ContractSize: d("100000"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	sl := d("143.50")
	if err := mgr.ModifyPosition(pos.ID, simtypes.SetOverride(sl), simtypes.Unchanged); err != nil {
		t.Fatalf("modify: %v", err)
	}
	got, _ := mgr.GetPosition(pos.ID)
	if got.StopLoss == nil || !got.StopLoss.Equal(sl) {
		t.Fatalf("expected stop loss set to %s, got %v", sl, got.StopLoss)
	}

	if err := mgr.ModifyPosition(pos.ID, simtypes.ClearOverride, simtypes.Unchanged); err != nil {
		t.Fatalf("modify clear: %v", err)
	}
	got, _ = mgr.GetPosition(pos.ID)
	if got.StopLoss != nil {
		t.Fatalf("expected stop loss cleared, got %v", got.StopLoss)
	}
}
