package worker

import (
	"context"
	"testing"
	"time"

	"jax-backtest-core/libs/simtypes"
)

type fakeWorker struct {
	name  string
	value float64
}

func (f fakeWorker) Name() string { return f.name }

func (f fakeWorker) Compute(ctx context.Context, tick simtypes.Tick, barHistory []simtypes.Bar) (simtypes.WorkerResult, error) {
	return simtypes.WorkerResult{WorkerName: f.name, Value: f.value}, nil
}

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("c", fakeWorker{name: "c"})
	r.Register("a", fakeWorker{name: "a"})
	r.Register("b", fakeWorker{name: "b"})

	names := r.Names()
	want := []string{"c", "a", "b"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

func TestDispatchSequentialCollectsAllResults(t *testing.T) {
	r := NewRegistry()
	r.Register("rsi", fakeWorker{name: "rsi", value: 42})
	r.Register("macd", fakeWorker{name: "macd", value: 7})

	c := NewCoordinator(r, time.Hour) // threshold never crossed -> sequential
	results, err := c.Dispatch(context.Background(), simtypes.Tick{}, func(string) []simtypes.Bar { return nil })
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["rsi"].Value != 42 || results["macd"].Value != 7 {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestDispatchPropagatesWorkerError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", brokenWorker{})
	c := NewCoordinator(r, time.Hour)

	_, err := c.Dispatch(context.Background(), simtypes.Tick{}, func(string) []simtypes.Bar { return nil })
	if err == nil {
		t.Fatal("expected an error from a failing worker")
	}
}

type brokenWorker struct{}

func (brokenWorker) Name() string { return "broken" }
func (brokenWorker) Compute(ctx context.Context, tick simtypes.Tick, barHistory []simtypes.Bar) (simtypes.WorkerResult, error) {
	return simtypes.WorkerResult{}, &simtypes.InternalInvariantError{Invariant: "boom"}
}
