package pendingorder

import (
	"testing"

	"jax-backtest-core/libs/seedgen"
	"jax-backtest-core/libs/simtypes"
)

func TestLatencySimulatorProcessTickInsertionOrder(t *testing.T) {
	ls := NewLatencySimulator(seedgen.New(1), seedgen.New(2), 0, 0)

	ids := []simtypes.OrderID{"a", "b", "c"}
	for _, id := range ids {
		o := simtypes.PendingOrder{ID: id, Action: simtypes.ActionOpen, Type: simtypes.OrderMarket}
		if err := ls.SubmitOpen(o, 0); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	// Force all three to the same fill tick so ordering matters.
	for _, id := range ids {
		ls.Manager.orders[id].FillAtTick = 5
	}

	due := ls.ProcessTick(5)
	if len(due) != 3 {
		t.Fatalf("expected 3 due orders, got %d", len(due))
	}
	for i, id := range ids {
		if due[i].ID != id {
			t.Fatalf("index %d: expected %s, got %s (insertion order violated)", i, id, due[i].ID)
		}
	}
	if ls.HasPending() {
		t.Fatalf("expected empty queue after processing all due orders")
	}
}

func TestLatencySimulatorDeterministicFillTick(t *testing.T) {
	run := func() int {
		ls := NewLatencySimulator(seedgen.New(42), seedgen.New(43), 2, 10)
		o := simtypes.PendingOrder{ID: "x", Action: simtypes.ActionOpen, Type: simtypes.OrderMarket}
		ls.SubmitOpen(o, 100)
		return ls.Manager.orders["x"].FillAtTick
	}
	a := run()
	b := run()
	if a != b {
		t.Fatalf("same seeds produced different fill ticks: %d vs %d", a, b)
	}
}

func TestClearRecordsForceClosed(t *testing.T) {
	ls := NewLatencySimulator(seedgen.New(1), seedgen.New(2), 0, 0)
	ls.SubmitOpen(simtypes.PendingOrder{ID: "a"}, 0)
	ls.SubmitOpen(simtypes.PendingOrder{ID: "b"}, 0)

	cleared := ls.Clear(50, "scenario_end")
	if len(cleared) != 2 {
		t.Fatalf("expected 2 cleared orders, got %d", len(cleared))
	}
	stats := ls.Stats()
	if stats.ForceClosedCount != 2 {
		t.Fatalf("expected ForceClosedCount=2, got %d", stats.ForceClosedCount)
	}
	if len(stats.AnomalyOrders) != 2 {
		t.Fatalf("expected 2 anomaly records, got %d", len(stats.AnomalyOrders))
	}
	if ls.HasPending() {
		t.Fatalf("expected empty queue after Clear")
	}
}
